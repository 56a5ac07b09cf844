package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/accountgraph/server/internal/model"
)

// SessionRepo defines the interface for account session repository operations
type SessionRepo interface {
	Create(ctx context.Context, s model.AccountSession) (model.AccountSession, error)
	GetBySessionID(ctx context.Context, sessionID string) (model.AccountSession, error)
	Touch(ctx context.Context, sessionID string) error
	SetActiveProfile(ctx context.Context, sessionID string, profileID *uuid.UUID) error
	Delete(ctx context.Context, sessionID string) error
	DeleteAllForAccount(ctx context.Context, accountID uuid.UUID) (int64, error)
	DeleteExpired(ctx context.Context) (int64, error)
}

type sessionRepo struct {
	db *sql.DB
}

// NewSessionRepo creates a new SessionRepo instance
func NewSessionRepo(db *sql.DB) SessionRepo {
	return &sessionRepo{db: db}
}

const sessionColumns = `id, account_id, session_id, device_id, ip_address, user_agent, privacy_mode,
	active_profile_id, expires_at, created_at, updated_at`

func scanSession(row interface{ Scan(...any) error }) (model.AccountSession, error) {
	var s model.AccountSession
	var mode string
	var activeProfile uuid.NullUUID
	err := row.Scan(
		&s.ID,
		&s.AccountID,
		&s.SessionID,
		&s.DeviceID,
		&s.IPAddress,
		&s.UserAgent,
		&mode,
		&activeProfile,
		&s.ExpiresAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return model.AccountSession{}, err
	}
	s.PrivacyMode = model.PrivacyMode(mode)
	if activeProfile.Valid {
		id := activeProfile.UUID
		s.ActiveProfileID = &id
	}
	return s, nil
}

func nullableUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

// Create persists a new session
func (r *sessionRepo) Create(ctx context.Context, s model.AccountSession) (model.AccountSession, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO account_sessions
			(account_id, session_id, device_id, ip_address, user_agent, privacy_mode, active_profile_id, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+sessionColumns,
		s.AccountID, s.SessionID, s.DeviceID, s.IPAddress, s.UserAgent, string(s.PrivacyMode),
		nullableUUID(s.ActiveProfileID), s.ExpiresAt)
	created, err := scanSession(row)
	if err != nil {
		return model.AccountSession{}, fmt.Errorf("insert session: %w", err)
	}
	return created, nil
}

// GetBySessionID returns the session regardless of expiry; callers decide whether it is still valid
func (r *sessionRepo) GetBySessionID(ctx context.Context, sessionID string) (model.AccountSession, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM account_sessions
		WHERE session_id = $1
	`, sessionID)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.AccountSession{}, ErrNotFound
		}
		return model.AccountSession{}, fmt.Errorf("query session: %w", err)
	}
	return s, nil
}

// Touch bumps updated_at as an activity marker; expires_at is not extended
func (r *sessionRepo) Touch(ctx context.Context, sessionID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE account_sessions SET updated_at = now() WHERE session_id = $1
	`, sessionID)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

func (r *sessionRepo) SetActiveProfile(ctx context.Context, sessionID string, profileID *uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE account_sessions
		SET active_profile_id = $2, updated_at = now()
		WHERE session_id = $1
	`, sessionID, nullableUUID(profileID))
	if err != nil {
		return fmt.Errorf("set active profile: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a single session; deleting a missing session is not an error
func (r *sessionRepo) Delete(ctx context.Context, sessionID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM account_sessions WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (r *sessionRepo) DeleteAllForAccount(ctx context.Context, accountID uuid.UUID) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM account_sessions WHERE account_id = $1`, accountID)
	if err != nil {
		return 0, fmt.Errorf("delete sessions for account: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

func (r *sessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM account_sessions WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
