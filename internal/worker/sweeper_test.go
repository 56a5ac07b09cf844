package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accountgraph/server/internal/logging"
	"github.com/accountgraph/server/internal/model"
	"github.com/accountgraph/server/internal/repo/memrepo"
)

func TestSweep_DeletesExpired(t *testing.T) {
	ctx := context.Background()
	store := memrepo.New()
	now := time.Now()
	store.Now = func() time.Time { return now }

	require.NoError(t, store.Nonces().Create(ctx, "stale", now.Add(-time.Minute)))
	require.NoError(t, store.Nonces().Create(ctx, "fresh", now.Add(time.Minute)))
	_, err := store.Blacklist().Add(ctx, model.BlacklistedToken{
		TokenHash: "old", TokenType: model.TokenTypeRefresh, AccountID: uuid.New(),
		Reason: model.ReasonLogout, ExpiresAt: now.Add(-time.Second),
	})
	require.NoError(t, err)

	s := NewSweeper(time.Minute, logging.Discard(),
		Task{Name: "nonces", Run: store.Nonces().DeleteExpired},
		Task{Name: "blacklist", Run: store.Blacklist().DeleteExpired},
	)
	s.Sweep(ctx)

	assert.NoError(t, store.Nonces().Consume(ctx, "fresh"))
	assert.Error(t, store.Nonces().Consume(ctx, "stale"))
	revoked, err := store.Blacklist().IsBlacklisted(ctx, "old")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestSweep_ContinuesAfterFailure(t *testing.T) {
	var ran atomic.Int32
	s := NewSweeper(time.Minute, logging.Discard(),
		Task{Name: "broken", Run: func(context.Context) (int64, error) { return 0, errors.New("db down") }},
		Task{Name: "ok", Run: func(context.Context) (int64, error) { ran.Add(1); return 1, nil }},
	)
	s.Sweep(context.Background())
	assert.Equal(t, int32(1), ran.Load())
}

func TestStart_StopsOnCancel(t *testing.T) {
	var ran atomic.Int32
	s := NewSweeper(5*time.Millisecond, logging.Discard(),
		Task{Name: "count", Run: func(context.Context) (int64, error) { ran.Add(1); return 0, nil }},
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := s.Start(ctx)

	assert.Eventually(t, func() bool { return ran.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestStart_DisabledInterval(t *testing.T) {
	done := NewSweeper(0, logging.Discard()).Start(context.Background())
	_, open := <-done
	assert.False(t, open)
}
