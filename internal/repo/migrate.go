package repo

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
)

type migrationFile struct {
	version string
	sql     string
}

// migrationFiles lists the non-empty .sql files of filesystem in lexicographical order.
func migrationFiles(filesystem fs.FS) ([]migrationFile, error) {
	entries, err := fs.ReadDir(filesystem, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	var files []migrationFile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		sqlBytes, err := fs.ReadFile(filesystem, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}

		if strings.TrimSpace(string(sqlBytes)) == "" {
			continue
		}
		files = append(files, migrationFile{
			version: strings.TrimSuffix(entry.Name(), ".sql"),
			sql:     string(sqlBytes),
		})
	}
	return files, nil
}

// ApplyMigrations executes pending SQL files against the provided pool in lexicographical order.
// Applied versions are recorded in schema_migrations.
func ApplyMigrations(ctx context.Context, pool *pgxpool.Pool, filesystem fs.FS) error {
	files, err := migrationFiles(filesystem)
	if err != nil {
		return err
	}

	if _, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version     TEXT PRIMARY KEY,
    applied_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, file := range files {
		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			var applied string
			err := tx.QueryRow(ctx, `SELECT version FROM schema_migrations WHERE version = $1`, file.version).Scan(&applied)
			if err == nil {
				return nil
			}
			if !errors.Is(err, pgx.ErrNoRows) {
				return err
			}
			if _, err := tx.Exec(ctx, file.sql); err != nil {
				return err
			}
			_, err = tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, file.version)
			return err
		})
		if err != nil {
			return fmt.Errorf("execute migration %s: %w", file.version, err)
		}
	}

	return nil
}

// applySQLiteMigrations is the database/sql counterpart of ApplyMigrations.
func applySQLiteMigrations(ctx context.Context, db *sqlx.DB, filesystem fs.FS) error {
	files, err := migrationFiles(filesystem)
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version     TEXT PRIMARY KEY,
    applied_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, file := range files {
		var count int
		if err := db.GetContext(ctx, &count, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, file.version); err != nil {
			return fmt.Errorf("check migration %s: %w", file.version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", file.version, err)
		}
		if _, err := tx.ExecContext(ctx, file.sql); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("execute migration %s: %w", file.version, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, file.version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", file.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", file.version, err)
		}
	}
	return nil
}
