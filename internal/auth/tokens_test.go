package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accountgraph/server/internal/apperr"
	"github.com/accountgraph/server/internal/audit"
	"github.com/accountgraph/server/internal/logging"
	"github.com/accountgraph/server/internal/model"
	"github.com/accountgraph/server/internal/repo/memrepo"
	"github.com/accountgraph/server/internal/session"
)

const testSecret = "test-jwt-secret-at-least-32-characters-long"

type tokenFixture struct {
	store    *memrepo.Store
	sessions *session.Manager
	tokens   *TokenService
	audit    *audit.MemoryRecorder
}

func newTokenFixture() *tokenFixture {
	store := memrepo.New()
	rec := &audit.MemoryRecorder{}
	sessions := session.NewManager(store.Sessions(), time.Hour, logging.Discard())
	tokens := NewTokenService(TokenConfig{
		Secret:     testSecret,
		Issuer:     "accountgraph",
		Audience:   "accountgraph-clients",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
	}, store.Blacklist(), store.Refresh(), sessions, rec, logging.Discard())
	return &tokenFixture{store: store, sessions: sessions, tokens: tokens, audit: rec}
}

func (f *tokenFixture) login(t *testing.T, accountID uuid.UUID) (model.AccountSession, Tokens) {
	t.Helper()
	s, err := f.sessions.Create(context.Background(), accountID, session.Options{})
	require.NoError(t, err)
	tokens, err := f.tokens.Generate(context.Background(), TokenSubject{AccountID: accountID, SessionID: s.SessionID})
	require.NoError(t, err)
	return s, tokens
}

func TestGenerate_Claims(t *testing.T) {
	f := newTokenFixture()
	accountID, profileID := uuid.New(), uuid.New()
	device := "pixel"

	tokens, err := f.tokens.Generate(context.Background(), TokenSubject{
		AccountID:       accountID,
		SessionID:       "sess",
		DeviceID:        &device,
		ActiveProfileID: &profileID,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(900), tokens.ExpiresIn)

	access, err := f.tokens.VerifyAccess(tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, model.TokenTypeAccess, access.Type)
	assert.Equal(t, accountID, access.AccountID)
	assert.Equal(t, "sess", access.SessionID)
	assert.Equal(t, "pixel", access.DeviceID)
	require.NotNil(t, access.ActiveProfileID)
	assert.Equal(t, profileID, *access.ActiveProfileID)
	assert.Equal(t, "accountgraph", access.Issuer)
	assert.Empty(t, access.ID)

	refresh, err := f.tokens.VerifyRefresh(context.Background(), tokens.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, model.TokenTypeRefresh, refresh.Type)
	assert.NotEmpty(t, refresh.ID)
}

func TestVerify_WrongType(t *testing.T) {
	f := newTokenFixture()
	_, tokens := f.login(t, uuid.New())

	_, err := f.tokens.VerifyAccess(tokens.RefreshToken)
	assert.True(t, apperr.HasCode(err, apperr.CodeInvalidToken))

	_, err = f.tokens.VerifyRefresh(context.Background(), tokens.AccessToken)
	assert.True(t, apperr.HasCode(err, apperr.CodeInvalidToken))
}

func TestVerify_RejectsForeignSignatureAndAlg(t *testing.T) {
	f := newTokenFixture()
	claims := &Claims{
		Type:      model.TokenTypeAccess,
		AccountID: uuid.New(),
		SessionID: "s",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "accountgraph",
			Audience:  jwt.ClaimStrings{"accountgraph-clients"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("another-secret-another-secret-xx"))
	require.NoError(t, err)
	_, err = f.tokens.VerifyAccess(forged)
	assert.True(t, apperr.HasCode(err, apperr.CodeInvalidToken))

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = f.tokens.VerifyAccess(unsigned)
	assert.True(t, apperr.HasCode(err, apperr.CodeInvalidToken))
}

func TestVerify_Expired(t *testing.T) {
	f := newTokenFixture()
	_, tokens := f.login(t, uuid.New())

	f.tokens.now = func() time.Time { return time.Now().Add(time.Hour) }
	_, err := f.tokens.VerifyAccess(tokens.AccessToken)
	assert.True(t, apperr.HasCode(err, apperr.CodeInvalidToken))
}

func TestRotate_OldTokenRejectedNewTokenWorks(t *testing.T) {
	f := newTokenFixture()
	ctx := context.Background()
	accountID := uuid.New()
	sess, old := f.login(t, accountID)

	rotated, claims, err := f.tokens.Rotate(ctx, old.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, sess.SessionID, claims.SessionID)
	assert.NotEqual(t, old.RefreshToken, rotated.RefreshToken)

	again, claims, err := f.tokens.Rotate(ctx, rotated.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, sess.SessionID, claims.SessionID)
	assert.NotEmpty(t, again.AccessToken)

	_, err = f.tokens.VerifyRefresh(ctx, old.RefreshToken)
	assert.True(t, apperr.HasCode(err, apperr.CodeTokenRevoked))
}

func TestRotate_ReuseRevokesEveryDevice(t *testing.T) {
	f := newTokenFixture()
	ctx := context.Background()
	accountID := uuid.New()
	sess, old := f.login(t, accountID)
	otherDevice, otherTokens := f.login(t, accountID)
	_, bystander := f.login(t, uuid.New())

	rotated, _, err := f.tokens.Rotate(ctx, old.RefreshToken)
	require.NoError(t, err)

	_, _, err = f.tokens.Rotate(ctx, old.RefreshToken)
	assert.True(t, apperr.HasCode(err, apperr.CodeTokenRevoked))
	assert.True(t, f.audit.Has(audit.EventRefreshReuse))

	for _, tok := range []string{rotated.RefreshToken, otherTokens.RefreshToken} {
		revoked, err := f.tokens.IsBlacklisted(ctx, tok)
		require.NoError(t, err)
		assert.True(t, revoked)
	}
	for _, id := range []string{sess.SessionID, otherDevice.SessionID} {
		_, err = f.sessions.Validate(ctx, id, accountID)
		assert.True(t, apperr.HasCode(err, apperr.CodeSessionExpired))
	}

	_, _, err = f.tokens.Rotate(ctx, bystander.RefreshToken)
	assert.NoError(t, err)
}

func TestRotate_CarriesSessionActiveProfile(t *testing.T) {
	f := newTokenFixture()
	ctx := context.Background()
	accountID, profileID := uuid.New(), uuid.New()
	sess, old := f.login(t, accountID)
	require.NoError(t, f.sessions.SetActiveProfile(ctx, sess.SessionID, &profileID))

	rotated, _, err := f.tokens.Rotate(ctx, old.RefreshToken)
	require.NoError(t, err)

	claims, err := f.tokens.VerifyAccess(rotated.AccessToken)
	require.NoError(t, err)
	require.NotNil(t, claims.ActiveProfileID)
	assert.Equal(t, profileID, *claims.ActiveProfileID)
}

func TestRotate_SessionGone(t *testing.T) {
	f := newTokenFixture()
	ctx := context.Background()
	sess, old := f.login(t, uuid.New())
	require.NoError(t, f.sessions.Revoke(ctx, sess.SessionID))

	_, _, err := f.tokens.Rotate(ctx, old.RefreshToken)
	assert.True(t, apperr.HasCode(err, apperr.CodeSessionExpired))
}

func TestLogout(t *testing.T) {
	f := newTokenFixture()
	ctx := context.Background()
	accountID := uuid.New()
	sess, tokens := f.login(t, accountID)

	require.NoError(t, f.tokens.Logout(ctx, tokens.RefreshToken))

	_, err := f.sessions.Validate(ctx, sess.SessionID, accountID)
	assert.True(t, apperr.HasCode(err, apperr.CodeSessionExpired))
	_, _, err = f.tokens.Rotate(ctx, tokens.RefreshToken)
	assert.True(t, apperr.HasCode(err, apperr.CodeTokenRevoked))
}

func TestLogoutAllDevices(t *testing.T) {
	f := newTokenFixture()
	ctx := context.Background()
	accountID := uuid.New()
	s1, t1 := f.login(t, accountID)
	_, t2 := f.login(t, accountID)
	otherAccount := uuid.New()
	_, other := f.login(t, otherAccount)

	require.NoError(t, f.tokens.LogoutAllDevices(ctx, accountID, ""))

	for _, tok := range []Tokens{t1, t2} {
		revoked, err := f.tokens.IsBlacklisted(ctx, tok.RefreshToken)
		require.NoError(t, err)
		assert.True(t, revoked)
	}
	_, err := f.sessions.Validate(ctx, s1.SessionID, accountID)
	assert.Error(t, err)
	assert.True(t, f.audit.Has(audit.EventLogoutAll))

	_, _, err = f.tokens.Rotate(ctx, other.RefreshToken)
	assert.NoError(t, err)
}
