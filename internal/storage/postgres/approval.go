package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/actioncards/internal/game/approval"
)

// ApprovalRepository is an approval.Store persisting each pending request as a
// JSONB payload.
type ApprovalRepository struct {
	db *pgxpool.Pool
}

// NewApprovalRepository creates an ApprovalRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewApprovalRepository(db *pgxpool.Pool) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

// Save inserts req, replacing any request with the same ID.
func (r *ApprovalRepository) Save(ctx context.Context, req approval.Request) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding approval request: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO approval_requests (id, table_id, payload, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id)
		DO UPDATE SET table_id = EXCLUDED.table_id, payload = EXCLUDED.payload, created_at = EXCLUDED.created_at`,
		req.ID, req.TableID, payload, req.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving approval request: %w", err)
	}
	return nil
}

// Get returns the pending request with id.
//
// Postcondition: Returns the request or an error wrapping approval.ErrNotFound.
func (r *ApprovalRepository) Get(ctx context.Context, id uuid.UUID) (approval.Request, error) {
	var payload []byte
	err := r.db.QueryRow(ctx,
		`SELECT payload FROM approval_requests WHERE id = $1`, id,
	).Scan(&payload)
	return decodeRequest(id, payload, err)
}

// Pending returns every pending request for tableID, oldest first.
func (r *ApprovalRepository) Pending(ctx context.Context, tableID string) ([]approval.Request, error) {
	rows, err := r.db.Query(ctx,
		`SELECT payload FROM approval_requests WHERE table_id = $1 ORDER BY created_at ASC`,
		tableID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing approval requests: %w", err)
	}
	defer rows.Close()

	var out []approval.Request
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning approval request row: %w", err)
		}
		var req approval.Request
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("decoding approval request: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// Take deletes and returns the request with id in one statement, so two
// approvers racing for the same request cannot both receive it.
//
// Postcondition: Returns the request or an error wrapping approval.ErrNotFound.
func (r *ApprovalRepository) Take(ctx context.Context, id uuid.UUID) (approval.Request, error) {
	var payload []byte
	err := r.db.QueryRow(ctx,
		`DELETE FROM approval_requests WHERE id = $1 RETURNING payload`, id,
	).Scan(&payload)
	return decodeRequest(id, payload, err)
}

func decodeRequest(id uuid.UUID, payload []byte, err error) (approval.Request, error) {
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return approval.Request{}, fmt.Errorf("%w: %s", approval.ErrNotFound, id)
		}
		return approval.Request{}, fmt.Errorf("querying approval request: %w", err)
	}
	var req approval.Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return approval.Request{}, fmt.Errorf("decoding approval request: %w", err)
	}
	return req, nil
}
