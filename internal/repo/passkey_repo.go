package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/accountgraph/server/internal/model"
)

// PasskeyRepo stores WebAuthn credentials and in-flight ceremony challenges
type PasskeyRepo interface {
	PutCredential(ctx context.Context, cred model.PasskeyCredential) error
	GetCredential(ctx context.Context, credentialID string) (model.PasskeyCredential, error)
	PutChallenge(ctx context.Context, ch model.PasskeyChallenge) error
	// TakeChallenge deletes and returns the challenge so a ceremony can only finish once
	TakeChallenge(ctx context.Context, id string) (model.PasskeyChallenge, error)
	DeleteExpiredChallenges(ctx context.Context) (int64, error)
}

type passkeyRepo struct {
	db *sql.DB
}

// NewPasskeyRepo creates a new PasskeyRepo instance
func NewPasskeyRepo(db *sql.DB) PasskeyRepo {
	return &passkeyRepo{db: db}
}

// PutCredential inserts or refreshes a credential; the owning account never changes
func (r *passkeyRepo) PutCredential(ctx context.Context, cred model.PasskeyCredential) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO passkey_credentials (credential_id, account_id, user_handle, credential_json, last_used_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (credential_id)
		DO UPDATE SET credential_json = EXCLUDED.credential_json,
		              last_used_at = EXCLUDED.last_used_at,
		              updated_at = now()
	`, cred.CredentialID, cred.AccountID, cred.UserHandle, cred.CredentialJSON, cred.LastUsedAt)
	if err != nil {
		return fmt.Errorf("put passkey credential: %w", err)
	}
	return nil
}

func (r *passkeyRepo) GetCredential(ctx context.Context, credentialID string) (model.PasskeyCredential, error) {
	var c model.PasskeyCredential
	err := r.db.QueryRowContext(ctx, `
		SELECT credential_id, account_id, user_handle, credential_json, created_at, updated_at, last_used_at
		FROM passkey_credentials
		WHERE credential_id = $1
	`, credentialID).Scan(
		&c.CredentialID,
		&c.AccountID,
		&c.UserHandle,
		&c.CredentialJSON,
		&c.CreatedAt,
		&c.UpdatedAt,
		&c.LastUsedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.PasskeyCredential{}, ErrNotFound
		}
		return model.PasskeyCredential{}, fmt.Errorf("query passkey credential: %w", err)
	}
	return c, nil
}

func (r *passkeyRepo) PutChallenge(ctx context.Context, ch model.PasskeyChallenge) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO passkey_challenges (id, kind, account_id, user_handle, session_json, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, ch.ID, ch.Kind, nullableUUID(ch.AccountID), ch.UserHandle, ch.SessionJSON, ch.ExpiresAt)
	if err != nil {
		return fmt.Errorf("put passkey challenge: %w", err)
	}
	return nil
}

func (r *passkeyRepo) TakeChallenge(ctx context.Context, id string) (model.PasskeyChallenge, error) {
	var ch model.PasskeyChallenge
	var accountID uuid.NullUUID
	err := r.db.QueryRowContext(ctx, `
		DELETE FROM passkey_challenges
		WHERE id = $1
		RETURNING id, kind, account_id, user_handle, session_json, expires_at, created_at
	`, id).Scan(&ch.ID, &ch.Kind, &accountID, &ch.UserHandle, &ch.SessionJSON, &ch.ExpiresAt, &ch.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.PasskeyChallenge{}, ErrNotFound
		}
		return model.PasskeyChallenge{}, fmt.Errorf("take passkey challenge: %w", err)
	}
	if accountID.Valid {
		ch.AccountID = &accountID.UUID
	}
	return ch, nil
}

func (r *passkeyRepo) DeleteExpiredChallenges(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM passkey_challenges WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("delete expired passkey challenges: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
