// Package store persists call state and order records: an expiring Redis
// store for live per-call state, and Postgres for restaurants, orders and
// call records.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/orderline-ai/orderline/pkg/order"
)

// DefaultCallStateTTL bounds how long an abandoned call's state may
// linger. Every write refreshes the clock.
const DefaultCallStateTTL = 30 * time.Minute

const callStateKeyPrefix = "orderline:call:"

// CallStateStore keeps each call's state as one JSON value under one key.
// Whole-value replace on every write; there is no field-level merging.
type CallStateStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewCallStateStore wraps a Redis client. ttl <= 0 selects the default.
func NewCallStateStore(rdb *redis.Client, ttl time.Duration) *CallStateStore {
	if ttl <= 0 {
		ttl = DefaultCallStateTTL
	}
	return &CallStateStore{rdb: rdb, ttl: ttl}
}

func callStateKey(callID string) string {
	return callStateKeyPrefix + callID
}

// Get loads a call's state. Expired and never-created keys are
// indistinguishable: both return order.ErrStateNotFound.
func (s *CallStateStore) Get(ctx context.Context, callID string) (*order.CallState, error) {
	data, err := s.rdb.Get(ctx, callStateKey(callID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, order.ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load call state %s: %w", callID, err)
	}

	var state order.CallState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode call state %s: %w", callID, err)
	}
	return &state, nil
}

// Set replaces a call's state and refreshes its expiry.
func (s *CallStateStore) Set(ctx context.Context, callID string, state *order.CallState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode call state %s: %w", callID, err)
	}
	if err := s.rdb.Set(ctx, callStateKey(callID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save call state %s: %w", callID, err)
	}
	return nil
}

// Delete drops a call's state once the call has ended.
func (s *CallStateStore) Delete(ctx context.Context, callID string) error {
	if err := s.rdb.Del(ctx, callStateKey(callID)).Err(); err != nil {
		return fmt.Errorf("delete call state %s: %w", callID, err)
	}
	return nil
}
