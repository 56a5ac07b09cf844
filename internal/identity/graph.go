// Package identity maintains the account identity graph and the profile access boundary.
//
// Two profile queries exist and must not be confused. AccessibleProfiles walks the whole
// graph and is for display only. DirectProfiles looks at the account's own links and is
// the only one authorization decisions may use.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/accountgraph/server/internal/apperr"
	"github.com/accountgraph/server/internal/logging"
	"github.com/accountgraph/server/internal/model"
	"github.com/accountgraph/server/internal/repo"
)

// Graph is the IdentityGraphService
type Graph struct {
	accounts repo.AccountRepo
	links    repo.LinkRepo
	profiles repo.ProfileRepo
	log      logging.Logger
}

func NewGraph(accounts repo.AccountRepo, links repo.LinkRepo, profiles repo.ProfileRepo, log logging.Logger) *Graph {
	return &Graph{accounts: accounts, links: links, profiles: profiles, log: log}
}

// LinkedAccounts returns every account reachable from accountID, itself included.
// Isolated edges are never walked; other paths to the same node still count.
// One query is issued per BFS layer.
func (g *Graph) LinkedAccounts(ctx context.Context, accountID uuid.UUID) ([]uuid.UUID, error) {
	visited := map[uuid.UUID]bool{accountID: true}
	order := []uuid.UUID{accountID}
	frontier := []uuid.UUID{accountID}

	for len(frontier) > 0 {
		edges, err := g.links.Traversable(ctx, frontier)
		if err != nil {
			return nil, fmt.Errorf("load graph layer: %w", err)
		}
		inFrontier := make(map[uuid.UUID]bool, len(frontier))
		for _, id := range frontier {
			inFrontier[id] = true
		}

		var next []uuid.UUID
		for _, e := range edges {
			if e.PrivacyMode == model.PrivacyIsolated {
				continue
			}
			for _, pair := range [][2]uuid.UUID{{e.AccountAID, e.AccountBID}, {e.AccountBID, e.AccountAID}} {
				from, to := pair[0], pair[1]
				if inFrontier[from] && !visited[to] {
					visited[to] = true
					order = append(order, to)
					next = append(next, to)
				}
			}
		}
		frontier = next
	}
	return order, nil
}

// Link connects a and b, updating the existing edge if the pair is already linked.
// Empty linkType and mode default to direct and linked.
func (g *Graph) Link(ctx context.Context, a, b uuid.UUID, linkType model.LinkType, mode model.PrivacyMode) (model.IdentityLink, error) {
	if a == b {
		return model.IdentityLink{}, apperr.Validation("cannot link an account to itself")
	}
	if linkType == "" {
		linkType = model.LinkTypeDirect
	}
	if mode == "" {
		mode = model.PrivacyLinked
	}
	if !linkType.Valid() {
		return model.IdentityLink{}, apperr.Validation("invalid link type")
	}
	if !mode.Valid() {
		return model.IdentityLink{}, apperr.Validation("invalid privacy mode")
	}
	for _, id := range []uuid.UUID{a, b} {
		if _, err := g.accounts.GetByID(ctx, id); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return model.IdentityLink{}, apperr.NotFound("account not found")
			}
			return model.IdentityLink{}, fmt.Errorf("load account: %w", err)
		}
	}

	lo, hi := model.CanonicalPair(a, b)
	link, err := g.links.Upsert(ctx, lo, hi, linkType, mode)
	if err != nil {
		return model.IdentityLink{}, fmt.Errorf("link accounts: %w", err)
	}
	g.log.Info(ctx, "accounts linked", "account_a", lo.String(), "account_b", hi.String(),
		"link_type", string(linkType), "privacy_mode", string(mode))
	return link, nil
}

// SetPrivacyMode changes the mode of the single edge between a and b
func (g *Graph) SetPrivacyMode(ctx context.Context, a, b uuid.UUID, mode model.PrivacyMode) (model.IdentityLink, error) {
	if !mode.Valid() {
		return model.IdentityLink{}, apperr.Validation("invalid privacy mode")
	}
	lo, hi := model.CanonicalPair(a, b)
	link, err := g.links.SetPrivacyMode(ctx, lo, hi, mode)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.IdentityLink{}, apperr.NotFound("link not found")
		}
		return model.IdentityLink{}, fmt.Errorf("set privacy mode: %w", err)
	}
	return link, nil
}

func (g *Graph) Unlink(ctx context.Context, a, b uuid.UUID) error {
	lo, hi := model.CanonicalPair(a, b)
	if err := g.links.Delete(ctx, lo, hi); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return apperr.NotFound("link not found")
		}
		return fmt.Errorf("unlink accounts: %w", err)
	}
	return nil
}

// Links lists the edges touching accountID, isolated ones included
func (g *Graph) Links(ctx context.Context, accountID uuid.UUID) ([]model.IdentityLink, error) {
	links, err := g.links.ListForAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	return links, nil
}

// AccessibleProfiles is the union of profiles linked to any account in the graph.
// Display only: never authorize with it.
func (g *Graph) AccessibleProfiles(ctx context.Context, accountID uuid.UUID) ([]model.Profile, error) {
	ids, err := g.LinkedAccounts(ctx, accountID)
	if err != nil {
		return nil, err
	}
	profiles, err := g.profiles.ListByAccounts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("list accessible profiles: %w", err)
	}
	return profiles, nil
}

// DirectProfiles returns the profiles accountID itself is linked to, most recently active first.
// No graph traversal happens here.
func (g *Graph) DirectProfiles(ctx context.Context, accountID uuid.UUID) ([]model.Profile, error) {
	profiles, err := g.profiles.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("list direct profiles: %w", err)
	}
	return profiles, nil
}
