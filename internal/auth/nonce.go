package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/accountgraph/server/internal/repo"
)

// DefaultNonceTTL bounds how long an issued SIWE nonce stays usable
const DefaultNonceTTL = 5 * time.Minute

// NonceStore issues and single-use-consumes SIWE nonces
type NonceStore struct {
	nonces repo.NonceRepo
	ttl    time.Duration
	now    func() time.Time
}

func NewNonceStore(nonces repo.NonceRepo, ttl time.Duration) *NonceStore {
	if ttl <= 0 {
		ttl = DefaultNonceTTL
	}
	return &NonceStore{nonces: nonces, ttl: ttl, now: time.Now}
}

// Issue creates a fresh alphanumeric nonce
func (s *NonceStore) Issue(ctx context.Context) (string, time.Time, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", time.Time{}, fmt.Errorf("generate nonce: %w", err)
	}
	nonce := hex.EncodeToString(b)
	expiresAt := s.now().Add(s.ttl)
	if err := s.nonces.Create(ctx, nonce, expiresAt); err != nil {
		return "", time.Time{}, fmt.Errorf("store nonce: %w", err)
	}
	return nonce, expiresAt, nil
}

// Consume marks the nonce used. ErrNonceReplay is returned for a second consumption,
// ErrNonceInvalid for unknown or expired nonces.
func (s *NonceStore) Consume(ctx context.Context, nonce string) error {
	err := s.nonces.Consume(ctx, nonce)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repo.ErrNonceUsed):
		return ErrNonceReplay
	case errors.Is(err, repo.ErrNonceExpired), errors.Is(err, repo.ErrNotFound):
		return ErrNonceInvalid
	}
	return fmt.Errorf("consume nonce: %w", err)
}
