package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/accountgraph/server/internal/model"
)

// LinkRepo defines the interface for identity link repository operations.
// Every method expects the pair already in canonical order (see model.CanonicalPair).
type LinkRepo interface {
	Upsert(ctx context.Context, a, b uuid.UUID, linkType model.LinkType, mode model.PrivacyMode) (model.IdentityLink, error)
	SetPrivacyMode(ctx context.Context, a, b uuid.UUID, mode model.PrivacyMode) (model.IdentityLink, error)
	Get(ctx context.Context, a, b uuid.UUID) (model.IdentityLink, error)
	Delete(ctx context.Context, a, b uuid.UUID) error
	// Traversable returns every non-isolated edge touching any of ids
	Traversable(ctx context.Context, ids []uuid.UUID) ([]model.IdentityLink, error)
	ListForAccount(ctx context.Context, id uuid.UUID) ([]model.IdentityLink, error)
}

type linkRepo struct {
	db *sql.DB
}

// NewLinkRepo creates a new LinkRepo instance
func NewLinkRepo(db *sql.DB) LinkRepo {
	return &linkRepo{db: db}
}

const linkColumns = `id, account_a_id, account_b_id, link_type, privacy_mode, created_at, updated_at`

func scanLink(row interface{ Scan(...any) error }) (model.IdentityLink, error) {
	var l model.IdentityLink
	var linkType, mode string
	err := row.Scan(&l.ID, &l.AccountAID, &l.AccountBID, &linkType, &mode, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return model.IdentityLink{}, err
	}
	l.LinkType = model.LinkType(linkType)
	l.PrivacyMode = model.PrivacyMode(mode)
	return l, nil
}

// Upsert inserts the edge or, when the pair already exists, updates its type and mode.
// created_at of an existing row is left untouched.
func (r *linkRepo) Upsert(ctx context.Context, a, b uuid.UUID, linkType model.LinkType, mode model.PrivacyMode) (model.IdentityLink, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO identity_links (account_a_id, account_b_id, link_type, privacy_mode)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_a_id, account_b_id)
		DO UPDATE SET link_type = EXCLUDED.link_type,
		              privacy_mode = EXCLUDED.privacy_mode,
		              updated_at = now()
		RETURNING `+linkColumns, a, b, string(linkType), string(mode))
	l, err := scanLink(row)
	if err != nil {
		return model.IdentityLink{}, fmt.Errorf("upsert link: %w", err)
	}
	return l, nil
}

// SetPrivacyMode updates the privacy mode of an existing edge
func (r *linkRepo) SetPrivacyMode(ctx context.Context, a, b uuid.UUID, mode model.PrivacyMode) (model.IdentityLink, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE identity_links
		SET privacy_mode = $3, updated_at = now()
		WHERE account_a_id = $1 AND account_b_id = $2
		RETURNING `+linkColumns, a, b, string(mode))
	l, err := scanLink(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.IdentityLink{}, ErrNotFound
		}
		return model.IdentityLink{}, fmt.Errorf("set privacy mode: %w", err)
	}
	return l, nil
}

// Get returns the edge between a and b
func (r *linkRepo) Get(ctx context.Context, a, b uuid.UUID) (model.IdentityLink, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+linkColumns+`
		FROM identity_links
		WHERE account_a_id = $1 AND account_b_id = $2
	`, a, b)
	l, err := scanLink(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.IdentityLink{}, ErrNotFound
		}
		return model.IdentityLink{}, fmt.Errorf("query link: %w", err)
	}
	return l, nil
}

// Delete removes the edge between a and b
func (r *linkRepo) Delete(ctx context.Context, a, b uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM identity_links WHERE account_a_id = $1 AND account_b_id = $2
	`, a, b)
	if err != nil {
		return fmt.Errorf("delete link: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *linkRepo) Traversable(ctx context.Context, ids []uuid.UUID) ([]model.IdentityLink, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.list(ctx, `
		SELECT `+linkColumns+`
		FROM identity_links
		WHERE privacy_mode <> 'isolated'
		  AND (account_a_id = ANY($1::uuid[]) OR account_b_id = ANY($1::uuid[]))
	`, pq.Array(uuidStrings(ids)))
}

// ListForAccount returns every edge touching id, isolated ones included
func (r *linkRepo) ListForAccount(ctx context.Context, id uuid.UUID) ([]model.IdentityLink, error) {
	return r.list(ctx, `
		SELECT `+linkColumns+`
		FROM identity_links
		WHERE account_a_id = $1 OR account_b_id = $1
		ORDER BY created_at
	`, id)
}

func (r *linkRepo) list(ctx context.Context, query string, args ...any) ([]model.IdentityLink, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query links: %w", err)
	}
	defer rows.Close()

	var links []model.IdentityLink
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate links: %w", err)
	}
	return links, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
