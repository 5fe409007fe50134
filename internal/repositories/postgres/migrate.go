package postgres

import (
	"context"
	"embed"
	"fmt"
	"strings"

	"github.com/medimart/api/internal/platform/database"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies the schema for the dialect of db. Statements are idempotent.
func Migrate(ctx context.Context, db *database.DB) error {
	if db == nil {
		return fmt.Errorf("postgres: migrate: database is nil")
	}
	name := "migrations/postgres.sql"
	if db.Dialect() == database.DialectSQLite {
		name = "migrations/sqlite.sql"
	}
	script, err := migrations.ReadFile(name)
	if err != nil {
		return fmt.Errorf("postgres: read %s: %w", name, err)
	}
	for _, stmt := range splitStatements(string(script)) {
		if _, err := db.SQL().ExecContext(ctx, stmt); err != nil {
			return database.WrapError("migrate", fmt.Errorf("%s: %w", firstLine(stmt), err))
		}
	}
	return nil
}

func splitStatements(script string) []string {
	parts := strings.Split(script, ";")
	stmts := make([]string, 0, len(parts))
	for _, part := range parts {
		if stmt := strings.TrimSpace(part); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

func firstLine(stmt string) string {
	if idx := strings.IndexByte(stmt, '\n'); idx > 0 {
		return strings.TrimSpace(stmt[:idx])
	}
	return stmt
}
