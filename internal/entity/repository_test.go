package entity

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/nerrad567/tailnet-monitor/internal/infrastructure/database"
	"github.com/nerrad567/tailnet-monitor/internal/tracker"
	_ "github.com/nerrad567/tailnet-monitor/migrations"
)

func openTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	db, err := database.OpenMigrated(context.Background(), database.Config{
		Path:        filepath.Join(t.TempDir(), "entities.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open migrated database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	return NewSQLiteRepository(db.DB)
}

func tailnetEntity(id string) *Entity {
	return &Entity{
		ID:        id,
		Kind:      tracker.KindTailnet,
		Name:      "Tailnet " + id,
		TailnetID: "example.com",
		APIKey:    "tskey-api-" + id,
	}
}

func TestSQLiteRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	e := tailnetEntity("home")
	if err := repo.Create(ctx, e); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if e.CreatedAt.IsZero() || e.UpdatedAt.IsZero() {
		t.Error("Create() did not set timestamps")
	}

	got, err := repo.GetByID(ctx, "home")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Name != e.Name || got.Kind != tracker.KindTailnet || got.APIKey != e.APIKey {
		t.Errorf("GetByID() = %+v, want %+v", got, e)
	}
	if !got.CreatedAt.Equal(e.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, e.CreatedAt)
	}
}

func TestSQLiteRepository_CreateDuplicate(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	if err := repo.Create(ctx, tailnetEntity("home")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.Create(ctx, tailnetEntity("home")); !errors.Is(err, ErrEntityExists) {
		t.Errorf("second Create() error = %v, want ErrEntityExists", err)
	}
}

func TestSQLiteRepository_CreateInvalid(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	e := tailnetEntity("laptop")
	e.Kind = tracker.KindDevice
	if err := repo.Create(ctx, e); !errors.Is(err, ErrInvalidEntity) {
		t.Errorf("Create() error = %v, want ErrInvalidEntity", err)
	}
}

func TestSQLiteRepository_GetMissing(t *testing.T) {
	if _, err := openTestRepo(t).GetByID(context.Background(), "nope"); !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("GetByID() error = %v, want ErrEntityNotFound", err)
	}
}

func TestSQLiteRepository_List(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	empty, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("List() on empty table = %v, want empty non-nil slice", empty)
	}

	b := tailnetEntity("b")
	b.Name = "Beta"
	a := tailnetEntity("a")
	a.Name = "Alpha"
	dev := &Entity{
		ID:        "phone",
		Kind:      tracker.KindDevice,
		Name:      "Gamma phone",
		TailnetID: "example.com",
		NodeID:    "nPhone",
		APIKey:    "tskey-api-phone",
	}
	for _, e := range []*Entity{b, a, dev} {
		if err := repo.Create(ctx, e); err != nil {
			t.Fatalf("Create(%s) error = %v", e.ID, err)
		}
	}

	got, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("List() returned %d entities, want 3", len(got))
	}
	if got[0].ID != "a" || got[1].ID != "b" || got[2].ID != "phone" {
		t.Errorf("List() order = %s,%s,%s, want a,b,phone", got[0].ID, got[1].ID, got[2].ID)
	}
	if got[2].NodeID != "nPhone" {
		t.Errorf("device NodeID = %q, want nPhone", got[2].NodeID)
	}
}

func TestSQLiteRepository_Update(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	e := tailnetEntity("home")
	if err := repo.Create(ctx, e); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	created := e.CreatedAt

	e.Name = "Renamed"
	if err := repo.Update(ctx, e); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, err := repo.GetByID(ctx, "home")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Name != "Renamed" {
		t.Errorf("Name = %q, want Renamed", got.Name)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt changed to %v", got.CreatedAt)
	}
	if got.UpdatedAt.Before(created) {
		t.Errorf("UpdatedAt %v before CreatedAt %v", got.UpdatedAt, created)
	}

	if err := repo.Update(ctx, tailnetEntity("ghost")); !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("Update(missing) error = %v, want ErrEntityNotFound", err)
	}
}

func TestSQLiteRepository_Delete(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	if err := repo.Create(ctx, tailnetEntity("home")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.Delete(ctx, "home"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := repo.GetByID(ctx, "home"); !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("GetByID() after delete error = %v, want ErrEntityNotFound", err)
	}
	if err := repo.Delete(ctx, "home"); !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("second Delete() error = %v, want ErrEntityNotFound", err)
	}
}

func TestEntity_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(e *Entity)
		wantErr bool
	}{
		{"valid tailnet", func(*Entity) {}, false},
		{"valid device", func(e *Entity) { e.Kind = tracker.KindDevice; e.NodeID = "n1" }, false},
		{"upper-case id", func(e *Entity) { e.ID = "Home" }, true},
		{"empty id", func(e *Entity) { e.ID = "" }, true},
		{"unknown kind", func(e *Entity) { e.Kind = "router" }, true},
		{"empty name", func(e *Entity) { e.Name = "" }, true},
		{"missing api key", func(e *Entity) { e.APIKey = "" }, true},
		{"missing tailnet", func(e *Entity) { e.TailnetID = "" }, true},
		{"device without node", func(e *Entity) { e.Kind = tracker.KindDevice }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := tailnetEntity("home")
			tt.mutate(e)
			err := e.Validate()
			if tt.wantErr && !errors.Is(err, ErrInvalidEntity) {
				t.Errorf("Validate() error = %v, want ErrInvalidEntity", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Validate() error = %v, want nil", err)
			}
		})
	}
}

func TestEntity_Credentials(t *testing.T) {
	creds := tailnetEntity("home").Credentials()
	if creds.TailnetID != "example.com" || creds.APIKey != "tskey-api-home" {
		t.Errorf("Credentials() = %+v", creds)
	}
}
