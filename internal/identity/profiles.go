package identity

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

// Profiles is the boundary to the profile collaborator. Every access decision goes through
// Graph.DirectProfiles.
type Profiles struct {
	graph    *Graph
	profiles repo.ProfileRepo
	log      logging.Logger
}

func NewProfiles(graph *Graph, profiles repo.ProfileRepo, log logging.Logger) *Profiles {
	return &Profiles{graph: graph, profiles: profiles, log: log}
}

// Authorize returns the profile if accountID is directly linked to it
func (p *Profiles) Authorize(ctx context.Context, accountID, profileID uuid.UUID) (model.Profile, error) {
	direct, err := p.graph.DirectProfiles(ctx, accountID)
	if err != nil {
		return model.Profile{}, err
	}
	for _, prof := range direct {
		if prof.ID == profileID {
			return prof, nil
		}
	}
	return model.Profile{}, apperr.Authorization(apperr.CodeProfileAccessDenied, "profile is not linked to this account")
}

// Create makes a new profile owned by accountID
func (p *Profiles) Create(ctx context.Context, accountID uuid.UUID, name string) (model.Profile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Profile{}, apperr.Validation("profile name is required")
	}
	prof, err := p.profiles.Create(ctx, name, accountID)
	if err != nil {
		return model.Profile{}, fmt.Errorf("create profile: %w", err)
	}
	p.log.Info(ctx, "profile created", "profile_id", prof.ID.String(), "account_id", accountID.String())
	return prof, nil
}

// Touch marks the profile as the most recently used
func (p *Profiles) Touch(ctx context.Context, profileID uuid.UUID) error {
	return p.profiles.Touch(ctx, profileID)
}

// Remove drops the caller's link to the profile. The profile itself is deleted with its
// last link.
func (p *Profiles) Remove(ctx context.Context, accountID, profileID uuid.UUID) (bool, error) {
	deleted, err := p.profiles.Detach(ctx, profileID, accountID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return false, apperr.Authorization(apperr.CodeProfileAccessDenied, "profile is not linked to this account")
		}
		return false, fmt.Errorf("remove profile: %w", err)
	}
	p.log.Info(ctx, "profile detached", "profile_id", profileID.String(), "account_id", accountID.String(), "deleted", deleted)
	return deleted, nil
}

// AssignWallet stores the wallet produced by the MPC key service
func (p *Profiles) AssignWallet(ctx context.Context, profileID uuid.UUID, address, keyID string) (model.Profile, error) {
	address = strings.ToLower(strings.TrimSpace(address))
	if address == "" || strings.TrimSpace(keyID) == "" {
		return model.Profile{}, apperr.Validation("address and keyId are required")
	}
	prof, err := p.profiles.UpdateWallet(ctx, profileID, address, keyID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.Profile{}, apperr.NotFound("profile not found")
		}
		return model.Profile{}, fmt.Errorf("assign wallet: %w", err)
	}
	p.log.Info(ctx, "profile wallet assigned", "profile_id", profileID.String(), "address", logging.Mask(address))
	return prof, nil
}
