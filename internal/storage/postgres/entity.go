package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/actioncards/internal/game/entity"
)

// ErrEntityNotFound is returned when an entity lookup yields no results.
var ErrEntityNotFound = errors.New("entity not found")

// EntityRepository persists the entity roster of each table as JSONB
// documents. Active conditions are runtime state and are not persisted.
type EntityRepository struct {
	db *pgxpool.Pool
}

// NewEntityRepository creates an EntityRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewEntityRepository(db *pgxpool.Pool) *EntityRepository {
	return &EntityRepository{db: db}
}

// Save inserts or replaces e in tableID's roster.
//
// Precondition: e.ID must be non-empty.
func (r *EntityRepository) Save(ctx context.Context, tableID string, e *entity.Entity) error {
	doc, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding entity %q: %w", e.ID, err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO entities (table_id, entity_id, document)
		VALUES ($1, $2, $3)
		ON CONFLICT (table_id, entity_id)
		DO UPDATE SET document = EXCLUDED.document, updated_at = NOW()`,
		tableID, e.ID, doc,
	)
	if err != nil {
		return fmt.Errorf("saving entity %q: %w", e.ID, err)
	}
	return nil
}

// Get returns one entity of tableID's roster.
//
// Postcondition: Returns the entity or ErrEntityNotFound.
func (r *EntityRepository) Get(ctx context.Context, tableID, entityID string) (*entity.Entity, error) {
	var doc []byte
	err := r.db.QueryRow(ctx,
		`SELECT document FROM entities WHERE table_id = $1 AND entity_id = $2`,
		tableID, entityID,
	).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntityNotFound
		}
		return nil, fmt.Errorf("querying entity %q: %w", entityID, err)
	}
	var e entity.Entity
	if err := json.Unmarshal(doc, &e); err != nil {
		return nil, fmt.Errorf("decoding entity %q: %w", entityID, err)
	}
	return &e, nil
}

// LoadTable returns every entity of tableID's roster ordered by entity ID.
//
// Postcondition: Returns a slice (may be empty) or a non-nil error.
func (r *EntityRepository) LoadTable(ctx context.Context, tableID string) ([]*entity.Entity, error) {
	rows, err := r.db.Query(ctx,
		`SELECT document FROM entities WHERE table_id = $1 ORDER BY entity_id ASC`,
		tableID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing entities: %w", err)
	}
	defer rows.Close()

	out := make([]*entity.Entity, 0)
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scanning entity row: %w", err)
		}
		var e entity.Entity
		if err := json.Unmarshal(doc, &e); err != nil {
			return nil, fmt.Errorf("decoding entity: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// Delete removes an entity from tableID's roster.
//
// Postcondition: Returns nil on success, ErrEntityNotFound if no row was deleted.
func (r *EntityRepository) Delete(ctx context.Context, tableID, entityID string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM entities WHERE table_id = $1 AND entity_id = $2`,
		tableID, entityID,
	)
	if err != nil {
		return fmt.Errorf("deleting entity %q: %w", entityID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEntityNotFound
	}
	return nil
}
