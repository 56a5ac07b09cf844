package memrepo

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/accountgraph/server/internal/model"
	"github.com/accountgraph/server/internal/repo"
)

type linkRepo struct{ s *Store }

func (r linkRepo) Upsert(_ context.Context, a, b uuid.UUID, linkType model.LinkType, mode model.PrivacyMode) (model.IdentityLink, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.now()
	key := linkKey{a, b}
	l, ok := r.s.links[key]
	if !ok {
		l = model.IdentityLink{ID: uuid.New(), AccountAID: a, AccountBID: b, CreatedAt: now}
	}
	l.LinkType = linkType
	l.PrivacyMode = mode
	l.UpdatedAt = now
	r.s.links[key] = l
	return l, nil
}

func (r linkRepo) SetPrivacyMode(_ context.Context, a, b uuid.UUID, mode model.PrivacyMode) (model.IdentityLink, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := linkKey{a, b}
	l, ok := r.s.links[key]
	if !ok {
		return model.IdentityLink{}, repo.ErrNotFound
	}
	l.PrivacyMode = mode
	l.UpdatedAt = r.s.now()
	r.s.links[key] = l
	return l, nil
}

func (r linkRepo) Get(_ context.Context, a, b uuid.UUID) (model.IdentityLink, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l, ok := r.s.links[linkKey{a, b}]
	if !ok {
		return model.IdentityLink{}, repo.ErrNotFound
	}
	return l, nil
}

func (r linkRepo) Delete(_ context.Context, a, b uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := linkKey{a, b}
	if _, ok := r.s.links[key]; !ok {
		return repo.ErrNotFound
	}
	delete(r.s.links, key)
	return nil
}

func (r linkRepo) Traversable(_ context.Context, ids []uuid.UUID) ([]model.IdentityLink, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	want := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []model.IdentityLink
	for _, l := range r.s.links {
		if l.PrivacyMode == model.PrivacyIsolated {
			continue
		}
		if want[l.AccountAID] || want[l.AccountBID] {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r linkRepo) ListForAccount(_ context.Context, id uuid.UUID) ([]model.IdentityLink, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.IdentityLink
	for _, l := range r.s.links {
		if l.AccountAID == id || l.AccountBID == id {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
