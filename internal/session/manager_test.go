package session

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accountgraph/server/internal/apperr"
	"github.com/accountgraph/server/internal/logging"
	"github.com/accountgraph/server/internal/model"
	"github.com/accountgraph/server/internal/repo/memrepo"
)

func TestCreateAndValidate(t *testing.T) {
	ctx := context.Background()
	m := NewManager(memrepo.New().Sessions(), 0, logging.Discard())
	accountID := uuid.New()
	device := "iphone"

	s, err := m.Create(ctx, accountID, Options{DeviceID: &device})
	require.NoError(t, err)
	assert.NotEmpty(t, s.SessionID)
	assert.Equal(t, model.PrivacyLinked, s.PrivacyMode)
	assert.Nil(t, s.ActiveProfileID)
	assert.WithinDuration(t, time.Now().Add(DefaultTTL), s.ExpiresAt, time.Minute)

	got, err := m.Validate(ctx, s.SessionID, accountID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
	assert.Equal(t, s.ExpiresAt, got.ExpiresAt)
}

func TestValidate_WrongAccount(t *testing.T) {
	ctx := context.Background()
	m := NewManager(memrepo.New().Sessions(), time.Hour, logging.Discard())
	s, err := m.Create(ctx, uuid.New(), Options{})
	require.NoError(t, err)

	_, err = m.Validate(ctx, s.SessionID, uuid.New())
	assert.True(t, apperr.HasCode(err, apperr.CodeInvalidToken))
}

func TestValidate_Expired(t *testing.T) {
	ctx := context.Background()
	store := memrepo.New()
	m := NewManager(store.Sessions(), time.Hour, logging.Discard())
	accountID := uuid.New()
	s, err := m.Create(ctx, accountID, Options{})
	require.NoError(t, err)

	m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = m.Validate(ctx, s.SessionID, accountID)
	assert.True(t, apperr.HasCode(err, apperr.CodeSessionExpired))

	_, err = m.Validate(ctx, s.SessionID, accountID)
	assert.True(t, apperr.HasCode(err, apperr.CodeSessionExpired))
}

func TestCreate_InvalidPrivacyMode(t *testing.T) {
	m := NewManager(memrepo.New().Sessions(), time.Hour, logging.Discard())
	_, err := m.Create(context.Background(), uuid.New(), Options{PrivacyMode: "open"})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestRevokeAll(t *testing.T) {
	ctx := context.Background()
	m := NewManager(memrepo.New().Sessions(), time.Hour, logging.Discard())
	accountID := uuid.New()
	other := uuid.New()

	a, _ := m.Create(ctx, accountID, Options{})
	_, _ = m.Create(ctx, accountID, Options{})
	o, _ := m.Create(ctx, other, Options{})

	n, err := m.RevokeAll(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = m.Validate(ctx, a.SessionID, accountID)
	assert.Error(t, err)
	_, err = m.Validate(ctx, o.SessionID, other)
	assert.NoError(t, err)
}
