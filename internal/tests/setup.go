package tests

import (
	"context"
	"database/sql"
	"fmt"
)

// authTables lists every table the server writes, children first
var authTables = []string{
	"passkey_challenges",
	"passkey_credentials",
	"email_codes",
	"siwe_nonces",
	"refresh_tokens",
	"blacklisted_tokens",
	"account_sessions",
	"profile_accounts",
	"profiles",
	"identity_links",
	"accounts",
}

// TruncateAuthTables truncates auth-related tables for a clean test state.
func TruncateAuthTables(ctx context.Context, db *sql.DB) error {
	query := "TRUNCATE TABLE "
	for i, table := range authTables {
		if i > 0 {
			query += ", "
		}
		query += table
	}
	if _, err := db.ExecContext(ctx, query+" RESTART IDENTITY CASCADE"); err != nil {
		return fmt.Errorf("truncate auth tables: %w", err)
	}
	return nil
}

// CountRows returns the number of rows in table matching the optional where clause
func CountRows(ctx context.Context, db *sql.DB, table, where string, args ...any) (int, error) {
	query := "SELECT COUNT(*) FROM " + table
	if where != "" {
		query += " WHERE " + where
	}
	var n int
	if err := db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}
