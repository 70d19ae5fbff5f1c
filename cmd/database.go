package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "github.com/lib/pq"              // registers the "postgres" driver
)

// Database errors
var (
	ErrDatabaseConnect         = errors.New("failed to connect to database")
	ErrTableNotFound           = errors.New("station table not found")
	ErrInsufficientPermissions = errors.New("insufficient permissions to read table")
)

// quoteConnValue quotes a keyword/value connection string value when needed
func quoteConnValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// buildConnString renders a keyword/value DSN understood by both lib/pq and
// pgx. statement_timeout is passed through as a run-time parameter.
func buildConnString(cfg DatabaseConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		quoteConnValue(cfg.Host),
		cfg.Port,
		quoteConnValue(cfg.User),
		quoteConnValue(cfg.Password),
		quoteConnValue(cfg.Name),
		sslMode,
	)
	if cfg.StatementTimeout > 0 {
		connStr += fmt.Sprintf(" statement_timeout=%d", cfg.StatementTimeout*1000)
	}
	return connStr
}

// openDatabase opens and pings the station store. The returned pool is safe
// to share between concurrent export jobs.
func openDatabase(ctx context.Context, cfg DatabaseConfig) (*sql.DB, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = driverPostgres
	}

	db, err := sql.Open(driver, buildConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDatabaseConnect, err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w", ErrDatabaseConnect, err)
	}

	return db, nil
}

// checkTablePermissions verifies every station table exists and is readable
func checkTablePermissions(ctx context.Context, db *sql.DB, tables []string) error {
	const query = `
		SELECT has_table_privilege(quote_ident(tablename), 'SELECT')
		FROM pg_tables
		WHERE schemaname = current_schema()
		AND tablename = $1
	`

	for _, table := range tables {
		var hasPermission bool
		err := db.QueryRowContext(ctx, query, table).Scan(&hasPermission)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrTableNotFound, table)
		}
		if err != nil {
			return fmt.Errorf("failed to check table permissions: %w", err)
		}
		if !hasPermission {
			return fmt.Errorf("%w: %s", ErrInsufficientPermissions, table)
		}
	}
	return nil
}
