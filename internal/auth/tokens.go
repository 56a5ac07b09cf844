package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/accountgraph/server/internal/apperr"
	"github.com/accountgraph/server/internal/audit"
	"github.com/accountgraph/server/internal/logging"
	"github.com/accountgraph/server/internal/model"
	"github.com/accountgraph/server/internal/repo"
	"github.com/accountgraph/server/internal/session"
)

// Claims is carried by both access and refresh tokens; Type tells them apart.
// Refresh tokens also set RegisteredClaims.ID (jti).
type Claims struct {
	Type            model.TokenType `json:"type"`
	AccountID       uuid.UUID       `json:"accountId"`
	SessionID       string          `json:"sessionId"`
	DeviceID        string          `json:"deviceId,omitempty"`
	ActiveProfileID *uuid.UUID      `json:"activeProfileId,omitempty"`
	jwt.RegisteredClaims
}

// Tokens is the pair handed to clients
type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// TokenSubject is what a token pair is issued for
type TokenSubject struct {
	AccountID       uuid.UUID
	SessionID       string
	DeviceID        *string
	ActiveProfileID *uuid.UUID
}

// TokenConfig configures signing and lifetimes
type TokenConfig struct {
	Secret     string
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// TokenService issues, verifies, rotates and revokes JWTs
type TokenService struct {
	secret     []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration

	blacklist repo.BlacklistRepo
	refresh   repo.RefreshRepo
	sessions  *session.Manager
	audit     audit.Recorder
	log       logging.Logger
	now       func() time.Time
}

func NewTokenService(cfg TokenConfig, blacklist repo.BlacklistRepo, refresh repo.RefreshRepo, sessions *session.Manager, rec audit.Recorder, log logging.Logger) *TokenService {
	return &TokenService{
		secret:     []byte(cfg.Secret),
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		blacklist:  blacklist,
		refresh:    refresh,
		sessions:   sessions,
		audit:      rec,
		log:        log,
		now:        time.Now,
	}
}

// HashToken returns the SHA-256 hex digest under which a token is stored
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// randomID returns n random bytes encoded as base64url
func randomID(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func (s *TokenService) sign(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", claims.Type, err)
	}
	return signed, nil
}

func (s *TokenService) claims(t model.TokenType, sub TokenSubject, now time.Time, ttl time.Duration) *Claims {
	c := &Claims{
		Type:            t,
		AccountID:       sub.AccountID,
		SessionID:       sub.SessionID,
		ActiveProfileID: sub.ActiveProfileID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if sub.DeviceID != nil {
		c.DeviceID = *sub.DeviceID
	}
	return c
}

// Generate signs a new access/refresh pair and records the refresh token
func (s *TokenService) Generate(ctx context.Context, sub TokenSubject) (Tokens, error) {
	now := s.now()

	access, err := s.sign(s.claims(model.TokenTypeAccess, sub, now, s.accessTTL))
	if err != nil {
		return Tokens{}, err
	}

	jti, err := randomID(16)
	if err != nil {
		return Tokens{}, fmt.Errorf("generate jti: %w", err)
	}
	rc := s.claims(model.TokenTypeRefresh, sub, now, s.refreshTTL)
	rc.ID = jti
	refresh, err := s.sign(rc)
	if err != nil {
		return Tokens{}, err
	}

	err = s.refresh.Create(ctx, model.RefreshRecord{
		JTI:       jti,
		AccountID: sub.AccountID,
		SessionID: sub.SessionID,
		TokenHash: HashToken(refresh),
		ExpiresAt: rc.ExpiresAt.Time,
	})
	if err != nil {
		return Tokens{}, fmt.Errorf("record refresh token: %w", err)
	}

	return Tokens{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.accessTTL / time.Second),
	}, nil
}

func (s *TokenService) parse(tokenString string, want model.TokenType) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, apperr.Authentication(apperr.CodeInvalidToken, "invalid or expired token", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, apperr.Authentication(apperr.CodeInvalidToken, "invalid token", nil)
	}
	if claims.Type != want {
		return nil, apperr.Authentication(apperr.CodeInvalidToken, "wrong token type", nil)
	}
	if claims.AccountID == uuid.Nil || claims.SessionID == "" {
		return nil, apperr.Authentication(apperr.CodeInvalidToken, "token is missing subject", nil)
	}
	return claims, nil
}

// VerifyAccess checks an access token's signature, expiry, issuer and audience.
// Session liveness is checked separately by the caller.
func (s *TokenService) VerifyAccess(tokenString string) (*Claims, error) {
	return s.parse(tokenString, model.TokenTypeAccess)
}

// VerifyRefresh checks a refresh token and rejects it if blacklisted, however valid it looks
func (s *TokenService) VerifyRefresh(ctx context.Context, tokenString string) (*Claims, error) {
	claims, err := s.parse(tokenString, model.TokenTypeRefresh)
	if err != nil {
		return nil, err
	}
	revoked, err := s.IsBlacklisted(ctx, tokenString)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, apperr.Authentication(apperr.CodeTokenRevoked, "token has been revoked", nil)
	}
	return claims, nil
}

// IsBlacklisted reports whether the token was revoked
func (s *TokenService) IsBlacklisted(ctx context.Context, tokenString string) (bool, error) {
	revoked, err := s.blacklist.IsBlacklisted(ctx, HashToken(tokenString))
	if err != nil {
		return false, fmt.Errorf("check blacklist: %w", err)
	}
	return revoked, nil
}

// Blacklist revokes a token until its own expiry. It reports false if it was already revoked.
func (s *TokenService) Blacklist(ctx context.Context, tokenString string, claims *Claims, reason model.BlacklistReason) (bool, error) {
	added, err := s.blacklist.Add(ctx, model.BlacklistedToken{
		TokenHash: HashToken(tokenString),
		TokenType: claims.Type,
		AccountID: claims.AccountID,
		Reason:    reason,
		ExpiresAt: claims.ExpiresAt.Time,
	})
	if err != nil {
		return false, fmt.Errorf("blacklist token: %w", err)
	}
	return added, nil
}

// Rotate exchanges a refresh token for a new pair bound to the same session.
// The old refresh token is claimed via the blacklist insert, so of two concurrent
// rotations only one succeeds; the loser is treated as reuse. Reuse of a revoked
// refresh token signs the account out of every device.
func (s *TokenService) Rotate(ctx context.Context, oldToken string) (Tokens, *Claims, error) {
	claims, err := s.parse(oldToken, model.TokenTypeRefresh)
	if err != nil {
		return Tokens{}, nil, err
	}

	claimed, err := s.Blacklist(ctx, oldToken, claims, model.ReasonRotation)
	if err != nil {
		return Tokens{}, nil, err
	}
	if !claimed {
		id := claims.AccountID
		s.audit.Record(ctx, audit.Event{
			Type:      audit.EventRefreshReuse,
			AccountID: &id,
			Detail:    "revoked refresh token presented",
		})
		if err := s.LogoutAllDevices(ctx, id, model.ReasonSecurity); err != nil {
			return Tokens{}, nil, fmt.Errorf("revoke sessions after refresh reuse: %w", err)
		}
		return Tokens{}, nil, apperr.Authentication(apperr.CodeTokenRevoked, "token has been revoked", nil)
	}

	sess, err := s.sessions.Validate(ctx, claims.SessionID, claims.AccountID)
	if err != nil {
		return Tokens{}, nil, err
	}

	sub := TokenSubject{
		AccountID:       claims.AccountID,
		SessionID:       claims.SessionID,
		DeviceID:        sess.DeviceID,
		ActiveProfileID: sess.ActiveProfileID,
	}
	tokens, err := s.Generate(ctx, sub)
	if err != nil {
		return Tokens{}, nil, err
	}
	return tokens, claims, nil
}

// Logout revokes the refresh token and ends its session
func (s *TokenService) Logout(ctx context.Context, refreshToken string) error {
	claims, err := s.parse(refreshToken, model.TokenTypeRefresh)
	if err != nil {
		return err
	}
	if _, err := s.Blacklist(ctx, refreshToken, claims, model.ReasonLogout); err != nil {
		return err
	}
	if err := s.sessions.Revoke(ctx, claims.SessionID); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// LogoutAllDevices blacklists every outstanding refresh token of the account and deletes
// all of its sessions
func (s *TokenService) LogoutAllDevices(ctx context.Context, accountID uuid.UUID, reason model.BlacklistReason) error {
	if reason == "" {
		reason = model.ReasonSecurity
	}
	records, err := s.refresh.ListActiveForAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("list refresh tokens: %w", err)
	}

	var errs []error
	for _, rec := range records {
		_, err := s.blacklist.Add(ctx, model.BlacklistedToken{
			TokenHash: rec.TokenHash,
			TokenType: model.TokenTypeRefresh,
			AccountID: accountID,
			Reason:    reason,
			ExpiresAt: rec.ExpiresAt,
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("blacklist refresh tokens: %w", err)
	}

	n, err := s.sessions.RevokeAll(ctx, accountID)
	if err != nil {
		return err
	}

	id := accountID
	s.audit.Record(ctx, audit.Event{
		Type:      audit.EventLogoutAll,
		AccountID: &id,
		Detail:    string(reason),
	})
	s.log.Info(ctx, "logged out all devices", "account_id", accountID.String(),
		"refresh_tokens", len(records), "sessions", n)
	return nil
}
