package memrepo

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/accountgraph/server/internal/model"
	"github.com/accountgraph/server/internal/repo"
)

type profileRepo struct{ s *Store }

func (r profileRepo) Get(_ context.Context, id uuid.UUID) (model.Profile, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.profiles[id]
	if !ok {
		return model.Profile{}, repo.ErrNotFound
	}
	return p, nil
}

func (r profileRepo) Create(_ context.Context, name string, owner uuid.UUID) (model.Profile, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.now()
	p := model.Profile{ID: uuid.New(), Name: name, LastActiveAt: now, CreatedAt: now, UpdatedAt: now}
	r.s.profiles[p.ID] = p
	r.s.profileLinks[profileLink{p.ID, owner}] = now
	return p, nil
}

func (r profileRepo) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]model.Profile, error) {
	return r.ListByAccounts(ctx, []uuid.UUID{accountID})
}

func (r profileRepo) ListByAccounts(_ context.Context, accountIDs []uuid.UUID) ([]model.Profile, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	want := make(map[uuid.UUID]bool, len(accountIDs))
	for _, id := range accountIDs {
		want[id] = true
	}
	seen := map[uuid.UUID]bool{}
	out := []model.Profile{}
	for link := range r.s.profileLinks {
		if !want[link.accountID] || seen[link.profileID] {
			continue
		}
		if p, ok := r.s.profiles[link.profileID]; ok {
			seen[p.ID] = true
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActiveAt.After(out[j].LastActiveAt) })
	return out, nil
}

func (r profileRepo) LinkAccount(_ context.Context, profileID, accountID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.profiles[profileID]; !ok {
		return repo.ErrNotFound
	}
	key := profileLink{profileID, accountID}
	if _, ok := r.s.profileLinks[key]; !ok {
		r.s.profileLinks[key] = r.s.now()
	}
	return nil
}

func (r profileRepo) Detach(_ context.Context, profileID, accountID uuid.UUID) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := profileLink{profileID, accountID}
	if _, ok := r.s.profileLinks[key]; !ok {
		return false, repo.ErrNotFound
	}
	delete(r.s.profileLinks, key)

	for id, sess := range r.s.sessions {
		if sess.AccountID == accountID && sess.ActiveProfileID != nil && *sess.ActiveProfileID == profileID {
			sess.ActiveProfileID = nil
			r.s.sessions[id] = sess
		}
	}

	for link := range r.s.profileLinks {
		if link.profileID == profileID {
			return false, nil
		}
	}
	delete(r.s.profiles, profileID)
	return true, nil
}

func (r profileRepo) Touch(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if p, ok := r.s.profiles[id]; ok {
		p.LastActiveAt = r.s.now()
		r.s.profiles[id] = p
	}
	return nil
}

func (r profileRepo) UpdateWallet(_ context.Context, id uuid.UUID, address, keyID string) (model.Profile, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.profiles[id]
	if !ok {
		return model.Profile{}, repo.ErrNotFound
	}
	p.WalletAddress = &address
	p.MPCKeyID = &keyID
	p.UpdatedAt = r.s.now()
	r.s.profiles[id] = p
	return p, nil
}
