package memrepo

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/accountgraph/server/internal/model"
	"github.com/accountgraph/server/internal/repo"
)

type emailCodeRepo struct{ s *Store }

func (r emailCodeRepo) Create(_ context.Context, code model.EmailCode, maxRecent int, window time.Duration) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.now()
	since := now.Add(-window)
	recent := 0
	for _, c := range r.s.emailCodes {
		if c.Email == code.Email && !c.CreatedAt.Before(since) {
			recent++
		}
	}
	if recent >= maxRecent {
		return repo.ErrLimitExceeded
	}
	code.ID = uuid.New()
	code.CreatedAt = now
	r.s.emailCodes = append(r.s.emailCodes, code)
	return nil
}

func (r emailCodeRepo) VerifyAndConsume(_ context.Context, email string, match func([]byte) bool) (repo.CodeCheck, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.now()

	var check repo.CodeCheck
	var live []int
	for i, c := range r.s.emailCodes {
		if c.Email != email || !c.ExpiresAt.After(now) || c.Attempts >= repo.MaxCodeAttempts {
			continue
		}
		live = append(live, i)
		if c.Attempts+1 >= repo.MaxCodeAttempts {
			check.Exhausted = true
		}
		if !check.Matched && match(c.CodeHash) {
			check.Matched = true
		}
	}
	check.Candidates = len(live)
	if check.Candidates == 0 {
		return check, nil
	}

	if check.Matched {
		check.Exhausted = false
		kept := r.s.emailCodes[:0]
		for _, c := range r.s.emailCodes {
			if c.Email != email {
				kept = append(kept, c)
			}
		}
		r.s.emailCodes = kept
		return check, nil
	}

	for _, i := range live {
		r.s.emailCodes[i].Attempts++
		at := now
		r.s.emailCodes[i].LastAttemptAt = &at
	}
	return check, nil
}

func (r emailCodeRepo) DeleteExpired(context.Context) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.now()
	var n int64
	kept := r.s.emailCodes[:0]
	for _, c := range r.s.emailCodes {
		if c.ExpiresAt.After(now) {
			kept = append(kept, c)
		} else {
			n++
		}
	}
	r.s.emailCodes = kept
	return n, nil
}

type passkeyRepo struct{ s *Store }

func (r passkeyRepo) PutCredential(_ context.Context, cred model.PasskeyCredential) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.now()
	if existing, ok := r.s.credentials[cred.CredentialID]; ok {
		existing.CredentialJSON = cred.CredentialJSON
		existing.LastUsedAt = cred.LastUsedAt
		existing.UpdatedAt = now
		r.s.credentials[cred.CredentialID] = existing
		return nil
	}
	cred.CreatedAt, cred.UpdatedAt = now, now
	r.s.credentials[cred.CredentialID] = cred
	return nil
}

func (r passkeyRepo) GetCredential(_ context.Context, credentialID string) (model.PasskeyCredential, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.credentials[credentialID]
	if !ok {
		return model.PasskeyCredential{}, repo.ErrNotFound
	}
	return c, nil
}

func (r passkeyRepo) PutChallenge(_ context.Context, ch model.PasskeyChallenge) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.challenges[ch.ID]; ok {
		return repo.ErrConflict
	}
	ch.CreatedAt = r.s.now()
	r.s.challenges[ch.ID] = ch
	return nil
}

func (r passkeyRepo) TakeChallenge(_ context.Context, id string) (model.PasskeyChallenge, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ch, ok := r.s.challenges[id]
	if !ok {
		return model.PasskeyChallenge{}, repo.ErrNotFound
	}
	delete(r.s.challenges, id)
	return ch, nil
}

func (r passkeyRepo) DeleteExpiredChallenges(context.Context) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.now()
	var n int64
	for k, v := range r.s.challenges {
		if !v.ExpiresAt.After(now) {
			delete(r.s.challenges, k)
			n++
		}
	}
	return n, nil
}
