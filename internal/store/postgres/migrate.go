package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const migrationsLockKey = "nailsdash:migrations"

type schemaMigration struct {
	bun.BaseModel `bun:"table:schema_migrations"`

	Version   string    `bun:"version,pk"`
	AppliedAt time.Time `bun:"applied_at,notnull"`
}

// Migrate applies every pending goose "Up" section in one transaction and returns the
// versions it applied. Concurrent callers are serialized by an advisory lock.
func Migrate(ctx context.Context, db *bun.DB) ([]string, error) {
	var applied []string
	err := db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", migrationsLockKey).Exec(ctx); err != nil {
			return err
		}
		var err error
		applied, err = applyMigrations(ctx, tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return applied, nil
}

func applyMigrations(ctx context.Context, db bun.IDB) ([]string, error) {
	if _, err := db.NewCreateTable().Model((*schemaMigration)(nil)).IfNotExists().Exec(ctx); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	var done []schemaMigration
	if err := db.NewSelect().Model(&done).Scan(ctx); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(done))
	for _, m := range done {
		seen[m.Version] = struct{}{}
	}

	names, err := fs.Glob(migrationFiles, "migrations/*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	var applied []string
	for _, name := range names {
		version := strings.TrimSuffix(strings.TrimPrefix(name, "migrations/"), ".sql")
		if _, ok := seen[version]; ok {
			continue
		}

		b, err := migrationFiles.ReadFile(name)
		if err != nil {
			return nil, err
		}
		upSQL, err := extractGooseUp(string(b))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", version, err)
		}
		for _, stmt := range splitSQLStatements(upSQL) {
			if _, err := db.NewRaw(stmt).Exec(ctx); err != nil {
				return nil, fmt.Errorf("%s: %w", version, err)
			}
		}

		m := schemaMigration{Version: version, AppliedAt: time.Now().UTC()}
		if _, err := db.NewInsert().Model(&m).Exec(ctx); err != nil {
			return nil, err
		}
		applied = append(applied, version)
	}
	return applied, nil
}

func extractGooseUp(sql string) (string, error) {
	upMarker := "-- +goose Up"
	downMarker := "-- +goose Down"

	upIdx := strings.Index(sql, upMarker)
	if upIdx < 0 {
		return "", fmt.Errorf("missing goose up marker")
	}
	afterUp := sql[upIdx+len(upMarker):]
	afterUp = strings.TrimLeft(afterUp, "\r\n")

	downIdx := strings.Index(afterUp, downMarker)
	if downIdx < 0 {
		return strings.TrimSpace(afterUp), nil
	}
	return strings.TrimSpace(afterUp[:downIdx]), nil
}

// splitSQLStatements splits on semicolons. Migrations must not contain function bodies.
func splitSQLStatements(sql string) []string {
	parts := strings.Split(sql, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}
