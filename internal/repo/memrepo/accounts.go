package memrepo

import (
	"context"

	"github.com/google/uuid"

	"github.com/accountgraph/server/internal/model"
	"github.com/accountgraph/server/internal/repo"
)

type accountRepo struct{ s *Store }

func (r accountRepo) Create(_ context.Context, a model.Account) (model.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.accounts {
		if existing.Type == a.Type && existing.Identifier == a.Identifier {
			return model.Account{}, repo.ErrConflict
		}
	}
	now := r.s.now()
	a.ID = uuid.New()
	a.Metadata = copyMap(a.Metadata)
	a.CreatedAt, a.UpdatedAt = now, now
	r.s.accounts[a.ID] = a
	return a, nil
}

func (r accountRepo) GetByID(_ context.Context, id uuid.UUID) (model.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.accounts[id]
	if !ok {
		return model.Account{}, repo.ErrNotFound
	}
	a.Metadata = copyMap(a.Metadata)
	return a, nil
}

func (r accountRepo) GetByIdentity(_ context.Context, t model.AccountType, identifier string) (model.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.accounts {
		if a.Type == t && a.Identifier == identifier {
			a.Metadata = copyMap(a.Metadata)
			return a, nil
		}
	}
	return model.Account{}, repo.ErrNotFound
}

func (r accountRepo) MarkVerified(_ context.Context, id uuid.UUID) (model.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.accounts[id]
	if !ok {
		return model.Account{}, repo.ErrNotFound
	}
	a.Verified = true
	a.UpdatedAt = r.s.now()
	r.s.accounts[id] = a
	a.Metadata = copyMap(a.Metadata)
	return a, nil
}

func (r accountRepo) MergeMetadata(_ context.Context, id uuid.UUID, patch map[string]any) (model.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.accounts[id]
	if !ok {
		return model.Account{}, repo.ErrNotFound
	}
	merged := copyMap(a.Metadata)
	for k, v := range patch {
		merged[k] = v
	}
	a.Metadata = merged
	a.UpdatedAt = r.s.now()
	r.s.accounts[id] = a
	a.Metadata = copyMap(merged)
	return a, nil
}
