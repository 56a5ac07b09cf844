package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/accountgraph/server/internal/db"
)

// NonceRepo stores single-use SIWE nonces
type NonceRepo interface {
	Create(ctx context.Context, nonce string, expiresAt time.Time) error
	// Consume atomically marks the nonce used. It returns ErrNonceUsed on replay,
	// ErrNonceExpired past the TTL and ErrNotFound for a nonce never issued.
	Consume(ctx context.Context, nonce string) error
	DeleteExpired(ctx context.Context) (int64, error)
}

type nonceRepo struct {
	db *sql.DB
}

// NewNonceRepo creates a PostgreSQL-backed NonceRepo
func NewNonceRepo(db *sql.DB) NonceRepo {
	return &nonceRepo{db: db}
}

func (r *nonceRepo) Create(ctx context.Context, nonce string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO siwe_nonces (nonce, expires_at) VALUES ($1, $2)
	`, nonce, expiresAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert nonce: %w", err)
	}
	return nil
}

func (r *nonceRepo) Consume(ctx context.Context, nonce string) error {
	var consumed string
	err := r.db.QueryRowContext(ctx, `
		UPDATE siwe_nonces
		SET used_at = now()
		WHERE nonce = $1 AND used_at IS NULL AND expires_at > now()
		RETURNING nonce
	`, nonce).Scan(&consumed)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("consume nonce: %w", err)
	}

	// The conditional update lost; work out why for the caller.
	var usedAt sql.NullTime
	var expired bool
	err = r.db.QueryRowContext(ctx, `
		SELECT used_at, expires_at <= now() FROM siwe_nonces WHERE nonce = $1
	`, nonce).Scan(&usedAt, &expired)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("inspect nonce: %w", err)
	}
	if usedAt.Valid {
		return ErrNonceUsed
	}
	if expired {
		return ErrNonceExpired
	}
	return ErrNonceUsed
}

func (r *nonceRepo) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM siwe_nonces WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("delete expired nonces: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
