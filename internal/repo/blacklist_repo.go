package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/accountgraph/server/internal/model"
)

// BlacklistRepo defines the interface for revoked-token storage. Tokens are keyed by hash.
type BlacklistRepo interface {
	// Add records the token; it reports false when the hash was already blacklisted
	Add(ctx context.Context, entry model.BlacklistedToken) (bool, error)
	IsBlacklisted(ctx context.Context, tokenHash string) (bool, error)
	DeleteExpired(ctx context.Context) (int64, error)
}

type blacklistRepo struct {
	db *sql.DB
}

// NewBlacklistRepo creates a new BlacklistRepo instance
func NewBlacklistRepo(db *sql.DB) BlacklistRepo {
	return &blacklistRepo{db: db}
}

func (r *blacklistRepo) Add(ctx context.Context, entry model.BlacklistedToken) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO blacklisted_tokens (token_hash, token_type, account_id, reason, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (token_hash) DO NOTHING
	`, entry.TokenHash, string(entry.TokenType), entry.AccountID, string(entry.Reason), entry.ExpiresAt)
	if err != nil {
		return false, fmt.Errorf("blacklist token: %w", err)
	}
	n, _ := result.RowsAffected()
	return n == 1, nil
}

func (r *blacklistRepo) IsBlacklisted(ctx context.Context, tokenHash string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM blacklisted_tokens WHERE token_hash = $1)
	`, tokenHash).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check blacklist: %w", err)
	}
	return exists, nil
}

func (r *blacklistRepo) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM blacklisted_tokens WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("delete expired blacklist entries: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
