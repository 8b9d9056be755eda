package database

import (
	"context"
	"embed"
	"errors"
	"io/fs"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"testing/fstest"
)

//go:embed testdata/*.sql
var testMigrationsFS embed.FS

// useMigrations swaps the package migration source for the test.
func useMigrations(t *testing.T, fsys fs.FS) {
	t.Helper()
	orig := Migrations
	Migrations = fsys
	t.Cleanup(func() { Migrations = orig })
}

func testdataMigrations(t *testing.T) fs.FS {
	t.Helper()
	sub, err := fs.Sub(testMigrationsFS, "testdata")
	if err != nil {
		t.Fatalf("fs.Sub: %v", err)
	}
	return sub
}

func tableColumns(t *testing.T, db *DB, table string) map[string]bool {
	t.Helper()
	rows, err := db.QueryContext(context.Background(), "SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		t.Fatalf("pragma_table_info: %v", err)
	}
	defer rows.Close()

	cols := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scan: %v", err)
		}
		cols[name] = true
	}
	return cols
}

func appliedFlags(t *testing.T, db *DB) []bool {
	t.Helper()
	status, err := db.MigrationStatus(context.Background())
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	out := make([]bool, len(status))
	for i, s := range status {
		out[i] = s.Applied
	}
	return out
}

func TestMigrate(t *testing.T) {
	useMigrations(t, testdataMigrations(t))
	db := openTestDB(t)
	ctx := context.Background()

	n, err := db.Migrate(ctx)
	if err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Migrate() applied %d, want 2", n)
	}

	cols := tableColumns(t, db, "samples")
	for _, c := range []string{"id", "note", "seen_at"} {
		if !cols[c] {
			t.Errorf("column %s missing after migrate (have %v)", c, cols)
		}
	}

	status, err := db.MigrationStatus(ctx)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(status) != 2 {
		t.Fatalf("len(status) = %d, want 2", len(status))
	}
	first := status[0]
	if first.Version != "20260101_000000" || first.Name != "create_samples" || !first.Applied || first.AppliedAt.IsZero() {
		t.Errorf("status[0] = %+v", first)
	}

	n, err = db.Migrate(ctx)
	if err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
	if n != 0 {
		t.Errorf("second Migrate() applied %d, want 0", n)
	}
}

func TestMigrate_FailureStopsAndRollsBack(t *testing.T) {
	useMigrations(t, fstest.MapFS{
		"20260101_000000_create_a.up.sql": {Data: []byte("CREATE TABLE a (id TEXT);")},
		"20260102_000000_broken.up.sql":   {Data: []byte("CREATE TABLE b (id TEXT); NOT SQL;")},
		"20260103_000000_create_c.up.sql": {Data: []byte("CREATE TABLE c (id TEXT);")},
	})
	db := openTestDB(t)

	n, err := db.Migrate(context.Background())
	if err == nil || !strings.Contains(err.Error(), "20260102_000000_broken") {
		t.Fatalf("Migrate() error = %v, want failure naming the broken migration", err)
	}
	if n != 1 {
		t.Errorf("Migrate() applied %d, want 1", n)
	}
	if cols := tableColumns(t, db, "b"); len(cols) != 0 {
		t.Errorf("table b survived a failed migration: %v", cols)
	}
	if cols := tableColumns(t, db, "c"); len(cols) != 0 {
		t.Errorf("migration after the failure was applied: %v", cols)
	}
	if got, want := appliedFlags(t, db), []bool{true, false, false}; !reflect.DeepEqual(got, want) {
		t.Errorf("applied = %v, want %v", got, want)
	}
}

func TestRollback(t *testing.T) {
	useMigrations(t, testdataMigrations(t))
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	reverted, err := db.Rollback(ctx, 1)
	if err != nil {
		t.Fatalf("Rollback(1) error = %v", err)
	}
	if want := []string{"20260102_000000"}; !reflect.DeepEqual(reverted, want) {
		t.Errorf("Rollback(1) = %v, want %v", reverted, want)
	}
	cols := tableColumns(t, db, "samples")
	if !cols["id"] || cols["seen_at"] {
		t.Errorf("columns after one rollback = %v", cols)
	}

	// More steps than applied stops at the bottom.
	reverted, err = db.Rollback(ctx, 5)
	if err != nil {
		t.Fatalf("Rollback(5) error = %v", err)
	}
	if want := []string{"20260101_000000"}; !reflect.DeepEqual(reverted, want) {
		t.Errorf("Rollback(5) = %v, want %v", reverted, want)
	}
	if cols := tableColumns(t, db, "samples"); len(cols) != 0 {
		t.Errorf("samples still exists: %v", cols)
	}
	if got, want := appliedFlags(t, db), []bool{false, false}; !reflect.DeepEqual(got, want) {
		t.Errorf("applied = %v, want %v", got, want)
	}

	reverted, err = db.Rollback(ctx, 1)
	if err != nil || len(reverted) != 0 {
		t.Errorf("Rollback() with nothing applied = %v, %v", reverted, err)
	}
}

func TestRollback_InvalidSteps(t *testing.T) {
	useMigrations(t, testdataMigrations(t))
	db := openTestDB(t)

	if _, err := db.Rollback(context.Background(), 0); err == nil {
		t.Error("Rollback(0) error = nil, want error")
	}
}

func TestRollback_Irreversible(t *testing.T) {
	useMigrations(t, fstest.MapFS{
		"20260101_000000_create_a.up.sql":   {Data: []byte("CREATE TABLE a (id TEXT);")},
		"20260101_000000_create_a.down.sql": {Data: []byte("DROP TABLE a;")},
		"20260102_000000_seed_a.up.sql":     {Data: []byte("INSERT INTO a VALUES ('x');")},
	})
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	reverted, err := db.Rollback(ctx, 2)
	if !errors.Is(err, ErrIrreversible) {
		t.Fatalf("Rollback() error = %v, want ErrIrreversible", err)
	}
	if len(reverted) != 0 {
		t.Errorf("reverted = %v, want none", reverted)
	}
	if got, want := appliedFlags(t, db), []bool{true, true}; !reflect.DeepEqual(got, want) {
		t.Errorf("applied = %v, want %v", got, want)
	}
}

func TestMigrationStatus_Orphaned(t *testing.T) {
	useMigrations(t, testdataMigrations(t))
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	// A binary that only knows the first version.
	full := testdataMigrations(t)
	up, _ := fs.ReadFile(full, "20260101_000000_create_samples.up.sql")
	useMigrations(t, fstest.MapFS{
		"20260101_000000_create_samples.up.sql": {Data: up},
		"20260103_000000_later.up.sql":          {Data: []byte("SELECT 1;")},
	})

	status, err := db.MigrationStatus(ctx)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	want := []MigrationStatus{
		{Version: "20260101_000000", Name: "create_samples", Applied: true},
		{Version: "20260102_000000", Name: "add_samples_seen", Applied: true, Orphaned: true},
		{Version: "20260103_000000", Name: "later"},
	}
	if len(status) != len(want) {
		t.Fatalf("status = %+v", status)
	}
	for i := range want {
		got := status[i]
		got.AppliedAt = want[i].AppliedAt
		if got != want[i] {
			t.Errorf("status[%d] = %+v, want %+v", i, got, want[i])
		}
	}

	if _, err := db.Rollback(ctx, 2); !errors.Is(err, ErrIrreversible) {
		t.Errorf("Rollback() over an orphaned version error = %v, want ErrIrreversible", err)
	}
}

func TestMigrate_UpgradesUnnamedHistory(t *testing.T) {
	useMigrations(t, testdataMigrations(t))
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.ExecContext(ctx, `CREATE TABLE schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		t.Fatalf("create legacy table: %v", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE samples (id TEXT PRIMARY KEY, note TEXT NOT NULL DEFAULT '') STRICT`); err != nil {
		t.Fatalf("create samples: %v", err)
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, applied_at) VALUES ('20260101_000000', '2026-01-01T00:00:00Z')`); err != nil {
		t.Fatalf("seed legacy row: %v", err)
	}

	n, err := db.Migrate(ctx)
	if err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Migrate() applied %d, want 1", n)
	}
	if !tableColumns(t, db, "schema_migrations")["name"] {
		t.Error("schema_migrations has no name column after upgrade")
	}
}

func TestMigrate_NoMigrations(t *testing.T) {
	useMigrations(t, nil)
	db := openTestDB(t)

	n, err := db.Migrate(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("Migrate() with no migrations = %d, %v", n, err)
	}
}

func TestOpenMigrated(t *testing.T) {
	useMigrations(t, testdataMigrations(t))

	db, err := OpenMigrated(context.Background(), Config{
		Path:        filepath.Join(t.TempDir(), "migrated.db"),
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("OpenMigrated() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup

	if cols := tableColumns(t, db, "samples"); !cols["seen_at"] {
		t.Errorf("samples columns = %v, want migrated schema", cols)
	}
}

func TestReadMigrations(t *testing.T) {
	tests := []struct {
		name    string
		fsys    fstest.MapFS
		want    []string
		wantErr string
	}{
		{
			name: "sorted and paired",
			fsys: fstest.MapFS{
				"20260302_000000_second.up.sql":  {Data: []byte("B")},
				"20260301_090000_first.up.sql":   {Data: []byte("A")},
				"20260301_090000_first.down.sql": {Data: []byte("a")},
			},
			want: []string{"20260301_090000_first", "20260302_000000_second"},
		},
		{
			name: "ignores other files",
			fsys: fstest.MapFS{
				"readme.txt":                          {Data: []byte("x")},
				"embed.go":                            {Data: []byte("x")},
				"20260301_090000_entities.sql":        {Data: []byte("x")},
				"invalid.up.sql":                      {Data: []byte("x")},
				"20260301_090000_create_things.up.sql": {Data: []byte("A")},
			},
			want: []string{"20260301_090000_create_things"},
		},
		{
			name: "down without up",
			fsys: fstest.MapFS{
				"20260301_090000_first.down.sql": {Data: []byte("a")},
			},
			wantErr: "no up file",
		},
		{
			name: "duplicate version",
			fsys: fstest.MapFS{
				"20260301_090000_first.up.sql": {Data: []byte("A")},
				"20260301_090000_other.up.sql": {Data: []byte("B")},
			},
			wantErr: "more than one up file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readMigrations(tt.fsys)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("readMigrations() error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("readMigrations() error = %v", err)
			}
			names := make([]string, len(got))
			for i, m := range got {
				names[i] = m.Version + "_" + m.Name
			}
			if !reflect.DeepEqual(names, tt.want) {
				t.Errorf("readMigrations() = %v, want %v", names, tt.want)
			}
		})
	}
}
