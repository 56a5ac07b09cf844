// Package session manages device-bound account sessions.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/accountgraph/server/internal/apperr"
	"github.com/accountgraph/server/internal/logging"
	"github.com/accountgraph/server/internal/model"
	"github.com/accountgraph/server/internal/repo"
)

// DefaultTTL is the lifetime of a session unless configured otherwise
const DefaultTTL = 7 * 24 * time.Hour

// Options carries the optional request context recorded on a new session
type Options struct {
	DeviceID        *string
	IPAddress       *string
	UserAgent       *string
	PrivacyMode     model.PrivacyMode
	ActiveProfileID *uuid.UUID
}

// Manager is the SessionManager
type Manager struct {
	sessions repo.SessionRepo
	ttl      time.Duration
	log      logging.Logger
	now      func() time.Time
}

func NewManager(sessions repo.SessionRepo, ttl time.Duration, log logging.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{sessions: sessions, ttl: ttl, log: log, now: time.Now}
}

// newSessionID returns 32 random bytes as base64url
func newSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Create opens a session for accountID with a fixed expiry
func (m *Manager) Create(ctx context.Context, accountID uuid.UUID, opts Options) (model.AccountSession, error) {
	mode := opts.PrivacyMode
	if mode == "" {
		mode = model.PrivacyLinked
	}
	if !mode.Valid() {
		return model.AccountSession{}, apperr.Validation("invalid privacy mode")
	}

	sessionID, err := newSessionID()
	if err != nil {
		return model.AccountSession{}, fmt.Errorf("generate session id: %w", err)
	}

	s, err := m.sessions.Create(ctx, model.AccountSession{
		AccountID:       accountID,
		SessionID:       sessionID,
		DeviceID:        opts.DeviceID,
		IPAddress:       opts.IPAddress,
		UserAgent:       opts.UserAgent,
		PrivacyMode:     mode,
		ActiveProfileID: opts.ActiveProfileID,
		ExpiresAt:       m.now().Add(m.ttl),
	})
	if err != nil {
		return model.AccountSession{}, fmt.Errorf("create session: %w", err)
	}
	m.log.Debug(ctx, "session created", "account_id", accountID.String(), "privacy_mode", string(mode))
	return s, nil
}

// Validate checks that the session exists, belongs to accountID and has not expired,
// then records activity. Expiry is not extended.
func (m *Manager) Validate(ctx context.Context, sessionID string, accountID uuid.UUID) (model.AccountSession, error) {
	s, err := m.sessions.GetBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.AccountSession{}, apperr.Authentication(apperr.CodeSessionExpired, "session not found", nil)
		}
		return model.AccountSession{}, fmt.Errorf("load session: %w", err)
	}
	if s.AccountID != accountID {
		return model.AccountSession{}, apperr.Authentication(apperr.CodeInvalidToken, "session does not belong to this account", nil)
	}
	if !m.now().Before(s.ExpiresAt) {
		_ = m.sessions.Delete(ctx, sessionID)
		return model.AccountSession{}, apperr.Authentication(apperr.CodeSessionExpired, "session expired", nil)
	}
	if err := m.sessions.Touch(ctx, sessionID); err != nil {
		m.log.Warn(ctx, "touch session failed", "error", err)
	}
	return s, nil
}

func (m *Manager) SetActiveProfile(ctx context.Context, sessionID string, profileID *uuid.UUID) error {
	if err := m.sessions.SetActiveProfile(ctx, sessionID, profileID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return apperr.Authentication(apperr.CodeSessionExpired, "session not found", nil)
		}
		return fmt.Errorf("set active profile: %w", err)
	}
	return nil
}

// Revoke ends a single session
func (m *Manager) Revoke(ctx context.Context, sessionID string) error {
	return m.sessions.Delete(ctx, sessionID)
}

// RevokeAll ends every session of the account and reports how many were removed
func (m *Manager) RevokeAll(ctx context.Context, accountID uuid.UUID) (int64, error) {
	n, err := m.sessions.DeleteAllForAccount(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("revoke sessions: %w", err)
	}
	return n, nil
}
