package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/accountgraph/server/internal/db"
	"github.com/accountgraph/server/internal/model"
)

// AccountRepo defines the interface for account repository operations
type AccountRepo interface {
	Create(ctx context.Context, account model.Account) (model.Account, error)
	GetByID(ctx context.Context, id uuid.UUID) (model.Account, error)
	GetByIdentity(ctx context.Context, accountType model.AccountType, identifier string) (model.Account, error)
	MarkVerified(ctx context.Context, id uuid.UUID) (model.Account, error)
	MergeMetadata(ctx context.Context, id uuid.UUID, patch map[string]any) (model.Account, error)
}

type accountRepo struct {
	db *sql.DB
}

// NewAccountRepo creates a new AccountRepo instance
func NewAccountRepo(db *sql.DB) AccountRepo {
	return &accountRepo{db: db}
}

const accountColumns = `id, type, identifier, provider, verified, metadata, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (model.Account, error) {
	var a model.Account
	var accountType string
	var metadata []byte
	err := row.Scan(
		&a.ID,
		&accountType,
		&a.Identifier,
		&a.Provider,
		&a.Verified,
		&metadata,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return model.Account{}, err
	}
	a.Type = model.AccountType(accountType)
	a.Metadata = map[string]any{}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &a.Metadata); err != nil {
			return model.Account{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return a, nil
}

func encodeMetadata(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Create inserts a new account. A duplicate (type, identifier) yields ErrConflict.
func (r *accountRepo) Create(ctx context.Context, account model.Account) (model.Account, error) {
	metadata, err := encodeMetadata(account.Metadata)
	if err != nil {
		return model.Account{}, fmt.Errorf("encode metadata: %w", err)
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO accounts (type, identifier, provider, verified, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+accountColumns,
		string(account.Type), account.Identifier, account.Provider, account.Verified, metadata)
	created, err := scanAccount(row)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return model.Account{}, ErrConflict
		}
		return model.Account{}, fmt.Errorf("insert account: %w", err)
	}
	return created, nil
}

// GetByID retrieves an account by ID
func (r *accountRepo) GetByID(ctx context.Context, id uuid.UUID) (model.Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Account{}, ErrNotFound
		}
		return model.Account{}, fmt.Errorf("query account: %w", err)
	}
	return a, nil
}

// GetByIdentity retrieves an account by its unique (type, identifier) key
func (r *accountRepo) GetByIdentity(ctx context.Context, accountType model.AccountType, identifier string) (model.Account, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE type = $1 AND identifier = $2
	`, string(accountType), identifier)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Account{}, ErrNotFound
		}
		return model.Account{}, fmt.Errorf("query account by identity: %w", err)
	}
	return a, nil
}

// MarkVerified sets verified = true; calling it on a verified account is a no-op besides updated_at
func (r *accountRepo) MarkVerified(ctx context.Context, id uuid.UUID) (model.Account, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE accounts
		SET verified = true, updated_at = now()
		WHERE id = $1
		RETURNING `+accountColumns, id)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Account{}, ErrNotFound
		}
		return model.Account{}, fmt.Errorf("mark verified: %w", err)
	}
	return a, nil
}

// MergeMetadata shallow-merges patch into the stored metadata object
func (r *accountRepo) MergeMetadata(ctx context.Context, id uuid.UUID, patch map[string]any) (model.Account, error) {
	encoded, err := encodeMetadata(patch)
	if err != nil {
		return model.Account{}, fmt.Errorf("encode metadata: %w", err)
	}
	row := r.db.QueryRowContext(ctx, `
		UPDATE accounts
		SET metadata = metadata || $2::jsonb, updated_at = now()
		WHERE id = $1
		RETURNING `+accountColumns, id, encoded)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Account{}, ErrNotFound
		}
		return model.Account{}, fmt.Errorf("merge metadata: %w", err)
	}
	return a, nil
}
