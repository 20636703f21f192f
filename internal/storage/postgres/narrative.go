package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/actioncards/internal/game/dice"
	"github.com/cory-johannsen/actioncards/internal/game/narrative"
)

// NarrativeRepository is a narrative.Sink writing every log entry to
// narrative_entries.
type NarrativeRepository struct {
	db *pgxpool.Pool
}

// NewNarrativeRepository creates a NarrativeRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewNarrativeRepository(db *pgxpool.Pool) *NarrativeRepository {
	return &NarrativeRepository{db: db}
}

// SaveEntry inserts e. The roll, when present, is stored as JSONB.
//
// Precondition: e.ID must be set.
func (r *NarrativeRepository) SaveEntry(ctx context.Context, e narrative.Entry) error {
	var roll []byte
	if e.Roll != nil {
		var err error
		if roll, err = json.Marshal(e.Roll); err != nil {
			return fmt.Errorf("encoding roll: %w", err)
		}
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO narrative_entries (id, actor_id, kind, text, roll, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.ActorID, string(e.Kind), e.Text, roll, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting narrative entry: %w", err)
	}
	return nil
}

// ListByActor returns the most recent entries attributed to actorID, oldest
// first, at most limit of them.
//
// Precondition: limit must be > 0.
func (r *NarrativeRepository) ListByActor(ctx context.Context, actorID string, limit int) ([]narrative.Entry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, actor_id, kind, text, roll, created_at FROM (
			SELECT * FROM narrative_entries WHERE actor_id = $1
			ORDER BY created_at DESC LIMIT $2
		) recent ORDER BY created_at ASC`,
		actorID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing narrative entries: %w", err)
	}
	defer rows.Close()

	var out []narrative.Entry
	for rows.Next() {
		var (
			e    narrative.Entry
			kind string
			roll []byte
		)
		if err := rows.Scan(&e.ID, &e.ActorID, &kind, &e.Text, &roll, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning narrative entry: %w", err)
		}
		e.Kind = narrative.Kind(kind)
		if roll != nil {
			var o dice.Outcome
			if err := json.Unmarshal(roll, &o); err != nil {
				return nil, fmt.Errorf("decoding roll: %w", err)
			}
			e.Roll = &o
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
