// Package account owns the canonical Account entity: find-or-create, verification and metadata.
package account

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/accountgraph/server/internal/apperr"
	"github.com/accountgraph/server/internal/logging"
	"github.com/accountgraph/server/internal/model"
	"github.com/accountgraph/server/internal/repo"
)

// Store is the AccountStore service
type Store struct {
	accounts repo.AccountRepo
	log      logging.Logger
}

func NewStore(accounts repo.AccountRepo, log logging.Logger) *Store {
	return &Store{accounts: accounts, log: log}
}

// FindOrCreate returns the account for (type, identifier), creating it on first sight.
// created reports whether this call inserted the row. Concurrent first calls converge on one
// row: the loser of the insert race re-reads the winner's account.
func (s *Store) FindOrCreate(ctx context.Context, t model.AccountType, identifier string, provider *string, metadata map[string]any) (model.Account, bool, error) {
	if !t.Valid() {
		return model.Account{}, false, apperr.Validation("unknown account type")
	}
	identifier = model.NormalizeIdentifier(t, identifier)
	if identifier == "" {
		return model.Account{}, false, apperr.Validation("identifier is required")
	}
	if t == model.AccountTypeSocial {
		if provider == nil || strings.TrimSpace(*provider) == "" {
			return model.Account{}, false, apperr.Validation("provider is required for social accounts")
		}
		identifier = model.SocialIdentifier(*provider, identifier)
	}

	existing, err := s.accounts.GetByIdentity(ctx, t, identifier)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return model.Account{}, false, fmt.Errorf("lookup account: %w", err)
	}

	created, err := s.accounts.Create(ctx, model.Account{
		Type:       t,
		Identifier: identifier,
		Provider:   provider,
		Verified:   t == model.AccountTypeWallet,
		Metadata:   metadata,
	})
	if errors.Is(err, repo.ErrConflict) {
		existing, err := s.accounts.GetByIdentity(ctx, t, identifier)
		if err != nil {
			return model.Account{}, false, fmt.Errorf("reload account after conflict: %w", err)
		}
		return existing, false, nil
	}
	if err != nil {
		return model.Account{}, false, fmt.Errorf("create account: %w", err)
	}

	s.log.Info(ctx, "account created", "account_id", created.ID.String(), "type", string(t))
	return created, true, nil
}

// Lookup finds an existing account without creating one
func (s *Store) Lookup(ctx context.Context, t model.AccountType, identifier string) (model.Account, error) {
	a, err := s.accounts.GetByIdentity(ctx, t, model.NormalizeIdentifier(t, identifier))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.Account{}, apperr.NotFound("account not found")
		}
		return model.Account{}, fmt.Errorf("lookup account: %w", err)
	}
	return a, nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (model.Account, error) {
	a, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.Account{}, apperr.NotFound("account not found")
		}
		return model.Account{}, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

// Verify marks the account verified; verifying twice is harmless
func (s *Store) Verify(ctx context.Context, id uuid.UUID) (model.Account, error) {
	a, err := s.accounts.MarkVerified(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.Account{}, apperr.NotFound("account not found")
		}
		return model.Account{}, fmt.Errorf("verify account: %w", err)
	}
	return a, nil
}

// UpdateMetadata shallow-merges patch into the account metadata
func (s *Store) UpdateMetadata(ctx context.Context, id uuid.UUID, patch map[string]any) (model.Account, error) {
	if len(patch) == 0 {
		return s.Get(ctx, id)
	}
	a, err := s.accounts.MergeMetadata(ctx, id, patch)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.Account{}, apperr.NotFound("account not found")
		}
		return model.Account{}, fmt.Errorf("update metadata: %w", err)
	}
	return a, nil
}
