// Package redis provides a Redis-backed approval mailbox store.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cory-johannsen/actioncards/internal/config"
	"github.com/cory-johannsen/actioncards/internal/game/approval"
)

// ApprovalStore is an approval.Store keeping each request as a JSON string
// with a per-table sorted set, scored by creation time, as the pending index.
type ApprovalStore struct {
	client *goredis.Client
	prefix string
	logger *zap.Logger
}

// NewClient creates a go-redis client from cfg and pings it.
//
// Postcondition: Returns a reachable client or a non-nil error.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// NewApprovalStore creates an ApprovalStore whose keys start with prefix.
//
// Precondition: client and logger must be non-nil.
func NewApprovalStore(client *goredis.Client, prefix string, logger *zap.Logger) *ApprovalStore {
	return &ApprovalStore{client: client, prefix: prefix, logger: logger}
}

func (s *ApprovalStore) requestKey(id uuid.UUID) string {
	return fmt.Sprintf("%s:approval:%s", s.prefix, id)
}

func (s *ApprovalStore) tableKey(tableID string) string {
	return fmt.Sprintf("%s:table:%s:approvals", s.prefix, tableID)
}

// Save stores req and indexes it under its table.
func (s *ApprovalStore) Save(ctx context.Context, req approval.Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal approval request: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.requestKey(req.ID), string(data), 0)
	pipe.ZAdd(ctx, s.tableKey(req.TableID), goredis.Z{
		Score:  float64(req.CreatedAt.UnixMilli()),
		Member: req.ID.String(),
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save approval request in Redis: %w", err)
	}
	return nil
}

// Get returns the pending request with id.
//
// Postcondition: Returns the request or an error wrapping approval.ErrNotFound.
func (s *ApprovalStore) Get(ctx context.Context, id uuid.UUID) (approval.Request, error) {
	data, err := s.client.Get(ctx, s.requestKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return approval.Request{}, fmt.Errorf("%w: %s", approval.ErrNotFound, id)
		}
		return approval.Request{}, fmt.Errorf("failed to get approval request from Redis: %w", err)
	}
	return decode(data)
}

// Pending returns the requests indexed under tableID, oldest first. Index
// members whose request is gone are skipped.
func (s *ApprovalStore) Pending(ctx context.Context, tableID string) ([]approval.Request, error) {
	ids, err := s.client.ZRange(ctx, s.tableKey(tableID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list approval requests from Redis: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = fmt.Sprintf("%s:approval:%s", s.prefix, id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load approval requests from Redis: %w", err)
	}

	out := make([]approval.Request, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		req, err := decode([]byte(str))
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}

// Take removes and returns the request with id. GETDEL makes removal atomic,
// so concurrent approvers cannot both receive it.
//
// Postcondition: Returns the request or an error wrapping approval.ErrNotFound.
// Once GETDEL succeeds the request is returned even if unindexing fails.
func (s *ApprovalStore) Take(ctx context.Context, id uuid.UUID) (approval.Request, error) {
	data, err := s.client.GetDel(ctx, s.requestKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return approval.Request{}, fmt.Errorf("%w: %s", approval.ErrNotFound, id)
		}
		return approval.Request{}, fmt.Errorf("failed to take approval request from Redis: %w", err)
	}
	req, err := decode(data)
	if err != nil {
		return approval.Request{}, err
	}
	// The request is already gone; a leftover index member is skipped by Pending.
	if err := s.client.ZRem(ctx, s.tableKey(req.TableID), id.String()).Err(); err != nil {
		s.logger.Warn("approval request taken but not unindexed",
			zap.String("request", id.String()),
			zap.String("table", req.TableID),
			zap.Error(err),
		)
	}
	return req, nil
}

func decode(data []byte) (approval.Request, error) {
	var req approval.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return approval.Request{}, fmt.Errorf("failed to unmarshal approval request: %w", err)
	}
	return req, nil
}
