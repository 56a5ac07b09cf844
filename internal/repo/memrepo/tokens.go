package memrepo

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/accountgraph/server/internal/model"
	"github.com/accountgraph/server/internal/repo"
)

type nonceRepo struct{ s *Store }

func (r nonceRepo) Create(_ context.Context, nonce string, expiresAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.nonces[nonce]; ok {
		return repo.ErrConflict
	}
	r.s.nonces[nonce] = model.SiweNonce{Nonce: nonce, ExpiresAt: expiresAt, CreatedAt: r.s.now()}
	return nil
}

func (r nonceRepo) Consume(_ context.Context, nonce string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n, ok := r.s.nonces[nonce]
	if !ok {
		return repo.ErrNotFound
	}
	if n.UsedAt != nil {
		return repo.ErrNonceUsed
	}
	now := r.s.now()
	if !n.ExpiresAt.After(now) {
		return repo.ErrNonceExpired
	}
	n.UsedAt = &now
	r.s.nonces[nonce] = n
	return nil
}

func (r nonceRepo) DeleteExpired(context.Context) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.now()
	var n int64
	for k, v := range r.s.nonces {
		if !v.ExpiresAt.After(now) {
			delete(r.s.nonces, k)
			n++
		}
	}
	return n, nil
}

type blacklistRepo struct{ s *Store }

func (r blacklistRepo) Add(_ context.Context, entry model.BlacklistedToken) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.blacklist[entry.TokenHash]; ok {
		return false, nil
	}
	entry.CreatedAt = r.s.now()
	r.s.blacklist[entry.TokenHash] = entry
	return true, nil
}

func (r blacklistRepo) IsBlacklisted(_ context.Context, tokenHash string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	_, ok := r.s.blacklist[tokenHash]
	return ok, nil
}

func (r blacklistRepo) DeleteExpired(context.Context) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.now()
	var n int64
	for k, v := range r.s.blacklist {
		if !v.ExpiresAt.After(now) {
			delete(r.s.blacklist, k)
			n++
		}
	}
	return n, nil
}

type refreshRepo struct{ s *Store }

func (r refreshRepo) Create(_ context.Context, rec model.RefreshRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.refresh[rec.JTI]; ok {
		return repo.ErrConflict
	}
	rec.CreatedAt = r.s.now()
	r.s.refresh[rec.JTI] = rec
	return nil
}

func (r refreshRepo) ListActiveForAccount(_ context.Context, accountID uuid.UUID) ([]model.RefreshRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.now()
	var out []model.RefreshRecord
	for _, rec := range r.s.refresh {
		if rec.AccountID != accountID || !rec.ExpiresAt.After(now) {
			continue
		}
		if _, revoked := r.s.blacklist[rec.TokenHash]; revoked {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r refreshRepo) DeleteExpired(context.Context) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.now()
	var n int64
	for k, v := range r.s.refresh {
		if !v.ExpiresAt.After(now) {
			delete(r.s.refresh, k)
			n++
		}
	}
	return n, nil
}
