package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"time"
)

// Migrations is the source of schema migrations, one pair of files per
// version at the root of the filesystem:
//
//	YYYYMMDD_HHMMSS_description.up.sql
//	YYYYMMDD_HHMMSS_description.down.sql
//
// The top-level migrations package sets it on import. A nil source means
// there is nothing to apply.
var Migrations fs.FS

// ErrIrreversible is returned by Rollback when a migration has no down file.
var ErrIrreversible = errors.New("database: migration has no down script")

var migrationFile = regexp.MustCompile(`^(\d{8}_\d{6})_([A-Za-z0-9_]+)\.(up|down)\.sql$`)

// Migration is one schema version read from the migration source.
type Migration struct {
	Version string
	Name    string
	Up      string
	Down    string
}

// MigrationStatus describes one version as seen by both the source and
// the schema_migrations table.
type MigrationStatus struct {
	Version   string
	Name      string
	Applied   bool
	AppliedAt time.Time

	// Orphaned is set for an applied version the source no longer has.
	Orphaned bool
}

// Migrate applies pending migrations oldest first, each in its own
// transaction, and returns how many it applied. A failing migration is
// rolled back and later ones are not attempted.
func (db *DB) Migrate(ctx context.Context) (int, error) {
	migrations, err := readMigrations(Migrations)
	if err != nil {
		return 0, err
	}
	applied, err := db.appliedVersions(ctx)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, m := range migrations {
		if _, done := applied[m.Version]; done {
			continue
		}
		if err := db.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.Up); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
				m.Version, m.Name, time.Now().UTC().Format(time.RFC3339))
			return err
		}); err != nil {
			return n, fmt.Errorf("applying migration %s_%s: %w", m.Version, m.Name, err)
		}
		n++
	}
	return n, nil
}

// Rollback reverts up to steps applied migrations, newest first, and
// returns the versions it reverted. It stops at the first migration that
// cannot be reverted.
func (db *DB) Rollback(ctx context.Context, steps int) ([]string, error) {
	if steps < 1 {
		return nil, fmt.Errorf("database: rollback steps must be at least 1, got %d", steps)
	}

	migrations, err := readMigrations(Migrations)
	if err != nil {
		return nil, err
	}
	byVersion := make(map[string]Migration, len(migrations))
	for _, m := range migrations {
		byVersion[m.Version] = m
	}

	applied, err := db.appliedVersions(ctx)
	if err != nil {
		return nil, err
	}
	versions := make([]string, 0, len(applied))
	for v := range applied {
		versions = append(versions, v)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(versions)))

	var reverted []string
	for _, v := range versions {
		if len(reverted) == steps {
			break
		}
		m, ok := byVersion[v]
		if !ok || m.Down == "" {
			return reverted, fmt.Errorf("%w: %s", ErrIrreversible, v)
		}
		if err := db.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.Down); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = ?`, v)
			return err
		}); err != nil {
			return reverted, fmt.Errorf("reverting migration %s_%s: %w", m.Version, m.Name, err)
		}
		reverted = append(reverted, v)
	}
	return reverted, nil
}

// MigrationStatus lists every known version, oldest first, with whether
// it has been applied.
func (db *DB) MigrationStatus(ctx context.Context) ([]MigrationStatus, error) {
	migrations, err := readMigrations(Migrations)
	if err != nil {
		return nil, err
	}
	applied, err := db.appliedVersions(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]MigrationStatus, 0, len(migrations))
	for _, m := range migrations {
		st := MigrationStatus{Version: m.Version, Name: m.Name}
		if rec, ok := applied[m.Version]; ok {
			st.Applied, st.AppliedAt = true, rec.at
			delete(applied, m.Version)
		}
		out = append(out, st)
	}
	for v, rec := range applied {
		out = append(out, MigrationStatus{Version: v, Name: rec.name, Applied: true, AppliedAt: rec.at, Orphaned: true})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

type appliedRecord struct {
	name string
	at   time.Time
}

// appliedVersions reads schema_migrations, creating it on first use.
func (db *DB) appliedVersions(ctx context.Context) (map[string]appliedRecord, error) {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		name       TEXT NOT NULL DEFAULT '',
		applied_at TEXT NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("creating schema_migrations: %w", err)
	}
	// Databases created before names were recorded lack the column.
	var hasName int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pragma_table_info('schema_migrations') WHERE name = 'name'`,
	).Scan(&hasName); err != nil {
		return nil, fmt.Errorf("inspecting schema_migrations: %w", err)
	}
	if hasName == 0 {
		if _, err := db.ExecContext(ctx,
			`ALTER TABLE schema_migrations ADD COLUMN name TEXT NOT NULL DEFAULT ''`); err != nil {
			return nil, fmt.Errorf("upgrading schema_migrations: %w", err)
		}
	}

	rows, err := db.QueryContext(ctx, `SELECT version, name, applied_at FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("reading schema_migrations: %w", err)
	}
	defer rows.Close()

	out := make(map[string]appliedRecord)
	for rows.Next() {
		var version, name, at string
		if err := rows.Scan(&version, &name, &at); err != nil {
			return nil, fmt.Errorf("reading schema_migrations: %w", err)
		}
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return nil, fmt.Errorf("migration %s: bad applied_at %q: %w", version, at, err)
		}
		out[version] = appliedRecord{name: name, at: t}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading schema_migrations: %w", err)
	}
	return out, nil
}

// inTx runs fn in a transaction, committing only if fn succeeds.
func (db *DB) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

// readMigrations parses the source into migrations sorted by version.
// Files that don't follow the naming scheme are ignored; a version with
// only a down file, or two files for the same direction, is an error.
func readMigrations(fsys fs.FS) ([]Migration, error) {
	if fsys == nil {
		return nil, nil
	}
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("listing migrations: %w", err)
	}

	found := make(map[string]*Migration)
	for _, e := range entries {
		match := migrationFile.FindStringSubmatch(e.Name())
		if e.IsDir() || match == nil {
			continue
		}
		version, name, direction := match[1], match[2], match[3]

		body, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Name(), err)
		}

		m, ok := found[version]
		if !ok {
			m = &Migration{Version: version, Name: name}
			found[version] = m
		}
		target := &m.Up
		if direction == "down" {
			target = &m.Down
		}
		if *target != "" {
			return nil, fmt.Errorf("migration %s has more than one %s file", version, direction)
		}
		*target = string(body)
	}

	out := make([]Migration, 0, len(found))
	for _, m := range found {
		if m.Up == "" {
			return nil, fmt.Errorf("migration %s has no up file", m.Version)
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}
