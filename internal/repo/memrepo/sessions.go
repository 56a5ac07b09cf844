package memrepo

import (
	"context"

	"github.com/google/uuid"

	"github.com/accountgraph/server/internal/model"
	"github.com/accountgraph/server/internal/repo"
)

type sessionRepo struct{ s *Store }

func (r sessionRepo) Create(_ context.Context, sess model.AccountSession) (model.AccountSession, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.sessions[sess.SessionID]; ok {
		return model.AccountSession{}, repo.ErrConflict
	}
	now := r.s.now()
	sess.ID = uuid.New()
	sess.CreatedAt, sess.UpdatedAt = now, now
	r.s.sessions[sess.SessionID] = sess
	return sess, nil
}

func (r sessionRepo) GetBySessionID(_ context.Context, sessionID string) (model.AccountSession, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess, ok := r.s.sessions[sessionID]
	if !ok {
		return model.AccountSession{}, repo.ErrNotFound
	}
	return sess, nil
}

func (r sessionRepo) Touch(_ context.Context, sessionID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if sess, ok := r.s.sessions[sessionID]; ok {
		sess.UpdatedAt = r.s.now()
		r.s.sessions[sessionID] = sess
	}
	return nil
}

func (r sessionRepo) SetActiveProfile(_ context.Context, sessionID string, profileID *uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess, ok := r.s.sessions[sessionID]
	if !ok {
		return repo.ErrNotFound
	}
	if profileID != nil {
		id := *profileID
		sess.ActiveProfileID = &id
	} else {
		sess.ActiveProfileID = nil
	}
	sess.UpdatedAt = r.s.now()
	r.s.sessions[sessionID] = sess
	return nil
}

func (r sessionRepo) Delete(_ context.Context, sessionID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.sessions, sessionID)
	return nil
}

func (r sessionRepo) DeleteAllForAccount(_ context.Context, accountID uuid.UUID) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, sess := range r.s.sessions {
		if sess.AccountID == accountID {
			delete(r.s.sessions, id)
			n++
		}
	}
	return n, nil
}

func (r sessionRepo) DeleteExpired(context.Context) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.now()
	var n int64
	for id, sess := range r.s.sessions {
		if !sess.ExpiresAt.After(now) {
			delete(r.s.sessions, id)
			n++
		}
	}
	return n, nil
}
