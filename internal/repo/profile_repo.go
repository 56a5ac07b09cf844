package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/accountgraph/server/internal/db"
	"github.com/accountgraph/server/internal/model"
)

// ProfileRepo defines the interface for profile and profile-account link operations
type ProfileRepo interface {
	Get(ctx context.Context, id uuid.UUID) (model.Profile, error)
	Create(ctx context.Context, name string, ownerAccountID uuid.UUID) (model.Profile, error)
	// ListByAccount returns profiles this exact account is linked to, most recently active first
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]model.Profile, error)
	// ListByAccounts returns the distinct profiles linked to any of accountIDs
	ListByAccounts(ctx context.Context, accountIDs []uuid.UUID) ([]model.Profile, error)
	LinkAccount(ctx context.Context, profileID, accountID uuid.UUID) error
	// Detach removes the account's link to the profile and deletes the profile once no link remains
	Detach(ctx context.Context, profileID, accountID uuid.UUID) (profileDeleted bool, err error)
	Touch(ctx context.Context, id uuid.UUID) error
	UpdateWallet(ctx context.Context, id uuid.UUID, address, keyID string) (model.Profile, error)
}

type profileRepo struct {
	db *sql.DB
}

// NewProfileRepo creates a new ProfileRepo instance
func NewProfileRepo(db *sql.DB) ProfileRepo {
	return &profileRepo{db: db}
}

const profileColumns = `p.id, p.name, p.wallet_address, p.mpc_key_id, p.last_active_at, p.created_at, p.updated_at`

func scanProfile(row interface{ Scan(...any) error }) (model.Profile, error) {
	var p model.Profile
	err := row.Scan(&p.ID, &p.Name, &p.WalletAddress, &p.MPCKeyID, &p.LastActiveAt, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// Get retrieves a profile by ID
func (r *profileRepo) Get(ctx context.Context, id uuid.UUID) (model.Profile, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles p WHERE p.id = $1`, id)
	p, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Profile{}, ErrNotFound
		}
		return model.Profile{}, fmt.Errorf("query profile: %w", err)
	}
	return p, nil
}

// Create inserts a profile and its link to the owning account in one transaction
func (r *profileRepo) Create(ctx context.Context, name string, ownerAccountID uuid.UUID) (model.Profile, error) {
	var p model.Profile
	err := db.WithTx(ctx, r.db, nil, func(ctx context.Context, tx db.DBTX) error {
		row := tx.QueryRowContext(ctx, `
			INSERT INTO profiles AS p (name)
			VALUES ($1)
			RETURNING `+profileColumns, name)
		var err error
		p, err = scanProfile(row)
		if err != nil {
			return fmt.Errorf("insert profile: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO profile_accounts (profile_id, account_id) VALUES ($1, $2)
		`, p.ID, ownerAccountID)
		if err != nil {
			return fmt.Errorf("link profile owner: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.Profile{}, err
	}
	return p, nil
}

func (r *profileRepo) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]model.Profile, error) {
	return r.list(ctx, `
		SELECT `+profileColumns+`
		FROM profiles p
		JOIN profile_accounts pa ON pa.profile_id = p.id
		WHERE pa.account_id = $1
		ORDER BY p.last_active_at DESC
	`, accountID)
}

func (r *profileRepo) ListByAccounts(ctx context.Context, accountIDs []uuid.UUID) ([]model.Profile, error) {
	if len(accountIDs) == 0 {
		return nil, nil
	}
	return r.list(ctx, `
		SELECT DISTINCT `+profileColumns+`
		FROM profiles p
		JOIN profile_accounts pa ON pa.profile_id = p.id
		WHERE pa.account_id = ANY($1::uuid[])
		ORDER BY p.last_active_at DESC
	`, pq.Array(uuidStrings(accountIDs)))
}

// LinkAccount adds a direct link between a profile and an account; linking twice is a no-op
func (r *profileRepo) LinkAccount(ctx context.Context, profileID, accountID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO profile_accounts (profile_id, account_id)
		VALUES ($1, $2)
		ON CONFLICT (profile_id, account_id) DO NOTHING
	`, profileID, accountID)
	if err != nil {
		return fmt.Errorf("link profile account: %w", err)
	}
	return nil
}

func (r *profileRepo) Detach(ctx context.Context, profileID, accountID uuid.UUID) (bool, error) {
	var deleted bool
	err := db.WithTx(ctx, r.db, nil, func(ctx context.Context, tx db.DBTX) error {
		result, err := tx.ExecContext(ctx, `
			DELETE FROM profile_accounts WHERE profile_id = $1 AND account_id = $2
		`, profileID, accountID)
		if err != nil {
			return fmt.Errorf("delete profile link: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return ErrNotFound
		}

		// Sessions of this account may not keep acting as the profile.
		_, err = tx.ExecContext(ctx, `
			UPDATE account_sessions
			SET active_profile_id = NULL, updated_at = now()
			WHERE account_id = $2 AND active_profile_id = $1
		`, profileID, accountID)
		if err != nil {
			return fmt.Errorf("clear active profile: %w", err)
		}

		var remaining int
		err = tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM profile_accounts WHERE profile_id = $1
		`, profileID).Scan(&remaining)
		if err != nil {
			return fmt.Errorf("count profile links: %w", err)
		}
		if remaining > 0 {
			return nil
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM profiles WHERE id = $1`, profileID); err != nil {
			return fmt.Errorf("delete profile: %w", err)
		}
		deleted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

// Touch marks the profile as the most recently active one
func (r *profileRepo) Touch(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE profiles SET last_active_at = now() WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("touch profile: %w", err)
	}
	return nil
}

// UpdateWallet records the MPC-generated wallet for a profile
func (r *profileRepo) UpdateWallet(ctx context.Context, id uuid.UUID, address, keyID string) (model.Profile, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE profiles AS p
		SET wallet_address = $2, mpc_key_id = $3, updated_at = now()
		WHERE p.id = $1
		RETURNING `+profileColumns, id, address, keyID)
	p, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Profile{}, ErrNotFound
		}
		return model.Profile{}, fmt.Errorf("update profile wallet: %w", err)
	}
	return p, nil
}

func (r *profileRepo) list(ctx context.Context, query string, args ...any) ([]model.Profile, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query profiles: %w", err)
	}
	defer rows.Close()

	profiles := []model.Profile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profiles: %w", err)
	}
	return profiles, nil
}
