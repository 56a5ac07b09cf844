package account

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accountgraph/server/internal/apperr"
	"github.com/accountgraph/server/internal/logging"
	"github.com/accountgraph/server/internal/model"
	"github.com/accountgraph/server/internal/repo"
	"github.com/accountgraph/server/internal/repo/memrepo"
)

func TestFindOrCreate_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := NewStore(memrepo.New().Accounts(), logging.Discard())

	first, created, err := s.FindOrCreate(ctx, model.AccountTypeEmail, "  Alice@Example.com ", nil, nil)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "alice@example.com", first.Identifier)
	assert.False(t, first.Verified)

	second, created, err := s.FindOrCreate(ctx, model.AccountTypeEmail, "alice@example.com", nil, nil)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestFindOrCreate_WalletIsVerified(t *testing.T) {
	s := NewStore(memrepo.New().Accounts(), logging.Discard())

	a, _, err := s.FindOrCreate(context.Background(), model.AccountTypeWallet, "0xAbC", nil, nil)
	require.NoError(t, err)
	assert.True(t, a.Verified)
	assert.Equal(t, "0xabc", a.Identifier)
}

func TestFindOrCreate_SocialScopedByProvider(t *testing.T) {
	ctx := context.Background()
	s := NewStore(memrepo.New().Accounts(), logging.Discard())
	github, farcaster := "GitHub", "farcaster"

	gh, _, err := s.FindOrCreate(ctx, model.AccountTypeSocial, "316", &github, nil)
	require.NoError(t, err)
	assert.Equal(t, "github:316", gh.Identifier)

	fc, created, err := s.FindOrCreate(ctx, model.AccountTypeSocial, "316", &farcaster, nil)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, gh.ID, fc.ID)

	_, _, err = s.FindOrCreate(ctx, model.AccountTypeSocial, "316", nil, nil)
	assert.True(t, apperr.HasCode(err, apperr.CodeValidation))
}

func TestFindOrCreate_PasskeyKeepsCase(t *testing.T) {
	s := NewStore(memrepo.New().Accounts(), logging.Discard())

	a, _, err := s.FindOrCreate(context.Background(), model.AccountTypePasskey, "AbC-_x", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "AbC-_x", a.Identifier)

	b, created, err := s.FindOrCreate(context.Background(), model.AccountTypePasskey, "abc-_x", nil, nil)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestFindOrCreate_Concurrent(t *testing.T) {
	store := memrepo.New()
	s := NewStore(store.Accounts(), logging.Discard())

	const n = 16
	ids := make([]uuid.UUID, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, _, err := s.FindOrCreate(context.Background(), model.AccountTypeWallet, "0xfeed", nil, nil)
			assert.NoError(t, err)
			ids[i] = a.ID
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, store.AccountCount())
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

// racingRepo reports a miss on the first lookup and a conflict on insert,
// as happens when another request wins the insert between the two.
type racingRepo struct {
	repo.AccountRepo
	winner  model.Account
	lookups int
}

func (r *racingRepo) GetByIdentity(ctx context.Context, t model.AccountType, id string) (model.Account, error) {
	r.lookups++
	if r.lookups == 1 {
		return model.Account{}, repo.ErrNotFound
	}
	return r.winner, nil
}

func (r *racingRepo) Create(context.Context, model.Account) (model.Account, error) {
	return model.Account{}, repo.ErrConflict
}

func TestFindOrCreate_ConflictRefetches(t *testing.T) {
	winner := model.Account{ID: uuid.New(), Type: model.AccountTypeEmail, Identifier: "a@b.com"}
	s := NewStore(&racingRepo{winner: winner}, logging.Discard())

	a, created, err := s.FindOrCreate(context.Background(), model.AccountTypeEmail, "a@b.com", nil, nil)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, winner.ID, a.ID)
}

func TestFindOrCreate_Validation(t *testing.T) {
	s := NewStore(memrepo.New().Accounts(), logging.Discard())

	_, _, err := s.FindOrCreate(context.Background(), model.AccountType("phone"), "x", nil, nil)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	_, _, err = s.FindOrCreate(context.Background(), model.AccountTypeEmail, "   ", nil, nil)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestVerifyAndUpdateMetadata(t *testing.T) {
	ctx := context.Background()
	s := NewStore(memrepo.New().Accounts(), logging.Discard())
	a, _, err := s.FindOrCreate(ctx, model.AccountTypeEmail, "a@b.com", nil, map[string]any{"lang": "en"})
	require.NoError(t, err)

	v, err := s.Verify(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, v.Verified)
	v, err = s.Verify(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, v.Verified)

	u, err := s.UpdateMetadata(ctx, a.ID, map[string]any{"theme": "dark"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"lang": "en", "theme": "dark"}, u.Metadata)

	_, err = s.Verify(ctx, uuid.New())
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}
