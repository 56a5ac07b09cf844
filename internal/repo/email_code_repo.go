package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/accountgraph/server/internal/db"
	"github.com/accountgraph/server/internal/model"
)

// MaxCodeAttempts is the number of wrong guesses after which a code stops being considered
const MaxCodeAttempts = 5

// CodeCheck is the outcome of a verification attempt against stored email codes
type CodeCheck struct {
	Matched bool
	// Candidates is how many live codes were compared
	Candidates int
	// Exhausted reports that at least one code hit MaxCodeAttempts on this attempt
	Exhausted bool
}

// EmailCodeRepo defines the interface for email verification code storage
type EmailCodeRepo interface {
	// Create stores a code unless maxRecent codes were already issued for the email within window
	Create(ctx context.Context, code model.EmailCode, maxRecent int, window time.Duration) error
	// VerifyAndConsume compares the live codes for email with match. On a match every code for
	// the email is deleted; otherwise each compared code gets its attempt counter bumped.
	VerifyAndConsume(ctx context.Context, email string, match func(codeHash []byte) bool) (CodeCheck, error)
	DeleteExpired(ctx context.Context) (int64, error)
}

type emailCodeRepo struct {
	db *sql.DB
}

// NewEmailCodeRepo creates a new EmailCodeRepo instance
func NewEmailCodeRepo(db *sql.DB) EmailCodeRepo {
	return &emailCodeRepo{db: db}
}

// Create serializes requests per email with an advisory lock so the quota check and
// the insert cannot interleave.
func (r *emailCodeRepo) Create(ctx context.Context, code model.EmailCode, maxRecent int, window time.Duration) error {
	return db.WithTx(ctx, r.db, nil, func(ctx context.Context, tx db.DBTX) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(2, hashtext($1))`, code.Email); err != nil {
			return fmt.Errorf("advisory lock: %w", err)
		}

		var recent int
		err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM email_codes
			WHERE email = $1 AND created_at >= now() - make_interval(secs => $2)
		`, code.Email, window.Seconds()).Scan(&recent)
		if err != nil {
			return fmt.Errorf("count recent codes: %w", err)
		}
		if recent >= maxRecent {
			return ErrLimitExceeded
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO email_codes (email, code_hash, expires_at, request_ip, user_agent)
			VALUES ($1, $2, $3, $4, $5)
		`, code.Email, code.CodeHash, code.ExpiresAt, code.RequestIP, code.UserAgent)
		if err != nil {
			return fmt.Errorf("insert email code: %w", err)
		}
		return nil
	})
}

func (r *emailCodeRepo) VerifyAndConsume(ctx context.Context, email string, match func(codeHash []byte) bool) (CodeCheck, error) {
	var check CodeCheck
	err := db.WithTx(ctx, r.db, nil, func(ctx context.Context, tx db.DBTX) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id, code_hash, attempts
			FROM email_codes
			WHERE email = $1
			  AND expires_at > now()
			  AND attempts < $2
			ORDER BY created_at DESC
			FOR UPDATE
		`, email, MaxCodeAttempts)
		if err != nil {
			return fmt.Errorf("query email codes: %w", err)
		}

		var ids []string
		for rows.Next() {
			var id string
			var hash []byte
			var attempts int
			if err := rows.Scan(&id, &hash, &attempts); err != nil {
				rows.Close()
				return fmt.Errorf("scan email code: %w", err)
			}
			ids = append(ids, id)
			if attempts+1 >= MaxCodeAttempts {
				check.Exhausted = true
			}
			if !check.Matched && match(hash) {
				check.Matched = true
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("iterate email codes: %w", err)
		}
		rows.Close()
		check.Candidates = len(ids)

		if check.Candidates == 0 {
			return nil
		}

		if check.Matched {
			check.Exhausted = false
			if _, err := tx.ExecContext(ctx, `DELETE FROM email_codes WHERE email = $1`, email); err != nil {
				return fmt.Errorf("delete email codes: %w", err)
			}
			return nil
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE email_codes
			SET attempts = attempts + 1, last_attempt_at = now()
			WHERE id = ANY($1::uuid[])
		`, pq.Array(ids))
		if err != nil {
			return fmt.Errorf("increment attempts: %w", err)
		}
		return nil
	})
	if err != nil {
		return CodeCheck{}, err
	}
	return check, nil
}

func (r *emailCodeRepo) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM email_codes WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("delete expired email codes: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
