package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/accountgraph/server/internal/model"
)

// RefreshRepo records issued refresh tokens so they can be revoked per account
type RefreshRepo interface {
	Create(ctx context.Context, rec model.RefreshRecord) error
	// ListActiveForAccount returns unexpired records whose token is not blacklisted
	ListActiveForAccount(ctx context.Context, accountID uuid.UUID) ([]model.RefreshRecord, error)
	DeleteExpired(ctx context.Context) (int64, error)
}

type refreshRepo struct {
	db *sql.DB
}

// NewRefreshRepo creates a new RefreshRepo instance
func NewRefreshRepo(db *sql.DB) RefreshRepo {
	return &refreshRepo{db: db}
}

// Create inserts a refresh token record
func (r *refreshRepo) Create(ctx context.Context, rec model.RefreshRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (jti, account_id, session_id, token_hash, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`, rec.JTI, rec.AccountID, rec.SessionID, rec.TokenHash, rec.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

func (r *refreshRepo) ListActiveForAccount(ctx context.Context, accountID uuid.UUID) ([]model.RefreshRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT rt.jti, rt.account_id, rt.session_id, rt.token_hash, rt.expires_at, rt.created_at
		FROM refresh_tokens rt
		WHERE rt.account_id = $1
		  AND rt.expires_at > now()
		  AND NOT EXISTS (SELECT 1 FROM blacklisted_tokens bt WHERE bt.token_hash = rt.token_hash)
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("query refresh tokens: %w", err)
	}
	defer rows.Close()

	var records []model.RefreshRecord
	for rows.Next() {
		var rec model.RefreshRecord
		if err := rows.Scan(&rec.JTI, &rec.AccountID, &rec.SessionID, &rec.TokenHash, &rec.ExpiresAt, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan refresh token: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate refresh tokens: %w", err)
	}
	return records, nil
}

func (r *refreshRepo) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
