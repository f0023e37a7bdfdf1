package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderline-ai/orderline/pkg/order"
)

func newTestStateStore(t *testing.T) (*CallStateStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewCallStateStore(rdb, 0), mr
}

func TestCallStateStoreRoundTrip(t *testing.T) {
	s, _ := newTestStateStore(t)
	ctx := context.Background()

	state := order.NewCallState("rest-1", "Spice Route", "+15550100", nil, true)
	state.CustomerName = "Asha"
	state.TurnCount = 3
	state.Stage = order.StageCollectPickupTime

	require.NoError(t, s.Set(ctx, "CA123", state))

	got, err := s.Get(ctx, "CA123")
	require.NoError(t, err)
	assert.Equal(t, "Asha", got.CustomerName)
	assert.Equal(t, 3, got.TurnCount)
	assert.Equal(t, order.StageCollectPickupTime, got.Stage)
	assert.Equal(t, "rest-1", got.RestaurantID)
}

func TestCallStateStoreMissingKey(t *testing.T) {
	s, _ := newTestStateStore(t)

	_, err := s.Get(context.Background(), "CA999")
	assert.ErrorIs(t, err, order.ErrStateNotFound)
}

func TestCallStateStoreExpiry(t *testing.T) {
	s, mr := newTestStateStore(t)
	ctx := context.Background()

	state := order.NewCallState("rest-1", "Spice Route", "+15550100", nil, false)
	require.NoError(t, s.Set(ctx, "CA123", state))

	ttl := mr.TTL(callStateKey("CA123"))
	assert.Equal(t, DefaultCallStateTTL, ttl)

	// Each write refreshes the expiry clock.
	mr.FastForward(10 * time.Minute)
	require.NoError(t, s.Set(ctx, "CA123", state))
	assert.Equal(t, DefaultCallStateTTL, mr.TTL(callStateKey("CA123")))

	mr.FastForward(DefaultCallStateTTL + time.Second)
	_, err := s.Get(ctx, "CA123")
	assert.ErrorIs(t, err, order.ErrStateNotFound)
}

func TestCallStateStoreDelete(t *testing.T) {
	s, _ := newTestStateStore(t)
	ctx := context.Background()

	state := order.NewCallState("rest-1", "Spice Route", "+15550100", nil, false)
	require.NoError(t, s.Set(ctx, "CA123", state))
	require.NoError(t, s.Delete(ctx, "CA123"))

	_, err := s.Get(ctx, "CA123")
	assert.ErrorIs(t, err, order.ErrStateNotFound)
}
