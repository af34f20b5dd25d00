// Package migrations holds the Postgres schema history. Each file registers
// itself; bun names the migration after the registering file.
package migrations

import (
	"context"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

// Migrations is applied by the `migrate` command and on server start.
var Migrations = migrate.NewMigrations()

func execSQL(query string) migrate.MigrationFunc {
	return func(ctx context.Context, db *bun.DB) error {
		_, err := db.ExecContext(ctx, query)
		return err
	}
}

// dropTables drops tables in the given order, children first.
func dropTables(tables ...string) migrate.MigrationFunc {
	stmts := make([]string, 0, len(tables))
	for _, table := range tables {
		stmts = append(stmts, "DROP TABLE IF EXISTS "+table)
	}
	return execSQL(strings.Join(stmts, "; "))
}
