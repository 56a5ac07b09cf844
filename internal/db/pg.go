package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/accountgraph/server/internal/logging"
)

// uniqueViolation is the SQLSTATE PostgreSQL reports for a unique constraint conflict
const uniqueViolation = "23505"

// redactDSN returns a copy of the DSN with password replaced by **** for logging.
func redactDSN(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "(invalid DATABASE_URL)"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "****")
	}
	return u.String()
}

func isDatabaseDoesNotExist(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "3D000"
	}
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "does not exist")
}

// IsUniqueViolation reports whether err is a PostgreSQL unique constraint violation
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// Open establishes a connection to PostgreSQL and configures the connection pool.
func Open(ctx context.Context, databaseURL string, log logging.Logger) (*sql.DB, error) {
	databaseURL = strings.TrimSpace(databaseURL)
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}
	if _, err := url.Parse(databaseURL); err != nil {
		return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
	}

	log.Info(ctx, "opening database", "dsn", redactDSN(databaseURL))

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(connectCtx); err != nil {
		_ = db.Close()
		if isDatabaseDoesNotExist(err) {
			return nil, fmt.Errorf("database in %s not found on this instance: %w", redactDSN(databaseURL), err)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
