package entity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/tailnet-monitor/internal/tracker"
)

// Repository defines the interface for entity persistence operations.
type Repository interface {
	// GetByID returns ErrEntityNotFound if the entity does not exist.
	GetByID(ctx context.Context, id string) (*Entity, error)

	// List returns all entities ordered by name.
	List(ctx context.Context) ([]Entity, error)

	// Create returns ErrEntityExists if the ID is taken.
	Create(ctx context.Context, e *Entity) error

	// Update returns ErrEntityNotFound if the entity does not exist.
	Update(ctx context.Context, e *Entity) error

	// Delete returns ErrEntityNotFound if the entity does not exist.
	Delete(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The entities table must already exist (see the migrations package).
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectColumns = `
	SELECT id, kind, name, tailnet_id, node_id, api_key, created_at, updated_at
	FROM entities`

// GetByID retrieves an entity by ID.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Entity, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	e, err := scanEntity(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEntityNotFound
		}
		return nil, fmt.Errorf("querying entity by id: %w", err)
	}
	return e, nil
}

// List retrieves all entities.
func (r *SQLiteRepository) List(ctx context.Context) ([]Entity, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+` ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("querying entities: %w", err)
	}
	defer rows.Close()

	entities := make([]Entity, 0)
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning entity: %w", err)
		}
		entities = append(entities, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entities: %w", err)
	}
	return entities, nil
}

// Create inserts a new entity. CreatedAt and UpdatedAt are set here.
func (r *SQLiteRepository) Create(ctx context.Context, e *Entity) error {
	if err := e.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO entities (id, kind, name, tailnet_id, node_id, api_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		string(e.Kind),
		e.Name,
		e.TailnetID,
		e.NodeID,
		e.APIKey,
		e.CreatedAt.Format(time.RFC3339Nano),
		e.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrEntityExists
		}
		return fmt.Errorf("inserting entity: %w", err)
	}
	return nil
}

// Update modifies an existing entity. UpdatedAt is refreshed; CreatedAt
// is never rewritten.
func (r *SQLiteRepository) Update(ctx context.Context, e *Entity) error {
	if err := e.Validate(); err != nil {
		return err
	}

	e.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE entities SET
			kind = ?, name = ?, tailnet_id = ?, node_id = ?, api_key = ?, updated_at = ?
		WHERE id = ?`,
		string(e.Kind),
		e.Name,
		e.TailnetID,
		e.NodeID,
		e.APIKey,
		e.UpdatedAt.Format(time.RFC3339Nano),
		e.ID,
	)
	if err != nil {
		return fmt.Errorf("updating entity: %w", err)
	}
	return requireOneRow(result)
}

// Delete removes an entity by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM entities WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting entity: %w", err)
	}
	return requireOneRow(result)
}

func requireOneRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrEntityNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntity(s scanner) (*Entity, error) {
	var (
		e                    Entity
		kind                 string
		createdAt, updatedAt string
	)
	if err := s.Scan(&e.ID, &kind, &e.Name, &e.TailnetID, &e.NodeID, &e.APIKey, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	e.Kind = tracker.Kind(kind)

	var err error
	if e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if e.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &e, nil
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
