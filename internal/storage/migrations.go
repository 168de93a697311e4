package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/quantumlife/daybreak/internal/logging"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	migrationTable = "_migrations"
	upMarker       = "-- +migrate Up"
	downMarker     = "-- +migrate Down"
)

// AppliedMigration is one row of the migrations table.
type AppliedMigration struct {
	Name      string
	Checksum  string
	AppliedAt time.Time
}

type migration struct {
	name     string
	up       string
	checksum string
}

// Migrate runs all pending migrations
func (db *DB) Migrate() error {
	_, err := db.MigrateContext(context.Background())
	return err
}

// MigrateContext applies pending migrations in name order and returns the
// names it applied. A migration whose file changed after it was applied is
// an error; migrations are append-only.
func (db *DB) MigrateContext(ctx context.Context) ([]string, error) {
	_, err := db.conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+migrationTable+` (
			name TEXT PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := db.AppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}
	done := make(map[string]string, len(applied))
	for _, m := range applied {
		done[m.Name] = m.Checksum
	}

	migrations, err := loadMigrations(migrationsFS, "migrations")
	if err != nil {
		return nil, err
	}

	var ran []string
	for _, m := range migrations {
		if sum, ok := done[m.name]; ok {
			if sum != m.checksum {
				return ran, fmt.Errorf("migration %s changed after it was applied", m.name)
			}
			continue
		}
		if err := db.applyMigration(ctx, m); err != nil {
			return ran, fmt.Errorf("migration %s failed: %w", m.name, err)
		}
		logging.Debug("applied migration %s", m.name)
		ran = append(ran, m.name)
	}
	return ran, nil
}

// AppliedMigrations lists the recorded migrations in name order.
func (db *DB) AppliedMigrations(ctx context.Context) ([]AppliedMigration, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT name, checksum, applied_at FROM "+migrationTable+" ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AppliedMigration
	for rows.Next() {
		var m AppliedMigration
		var at string
		if err := rows.Scan(&m.Name, &m.Checksum, &at); err != nil {
			return nil, err
		}
		m.AppliedAt = parseTime(at)
		out = append(out, m)
	}
	return out, rows.Err()
}

// loadMigrations reads every .sql file under root, sorted by file name.
func loadMigrations(fsys fs.FS, root string) ([]migration, error) {
	names, err := fs.Glob(fsys, path.Join(root, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}
	sort.Strings(names)

	out := make([]migration, 0, len(names))
	for _, p := range names {
		content, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", p, err)
		}
		up := upSection(string(content))
		if strings.TrimSpace(up) == "" {
			continue
		}
		sum := blake2b.Sum256(content)
		out = append(out, migration{
			name:     path.Base(p),
			up:       up,
			checksum: hex.EncodeToString(sum[:]),
		})
	}
	return out, nil
}

// upSection returns the statements between the Up and Down markers, or the
// whole file when it has no markers.
func upSection(content string) string {
	start := strings.Index(content, upMarker)
	if start == -1 {
		return content
	}
	body := content[start+len(upMarker):]
	if end := strings.Index(body, downMarker); end != -1 {
		body = body[:end]
	}
	return body
}

func (db *DB) applyMigration(ctx context.Context, m migration) error {
	return db.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, m.up); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			db.dialect.Rebind("INSERT INTO "+migrationTable+" (name, checksum, applied_at) VALUES (?, ?, ?)"),
			m.name, m.checksum, formatTime(time.Now()),
		)
		return err
	})
}
