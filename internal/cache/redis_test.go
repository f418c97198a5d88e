package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fjod/go_cart/checkout-engine/domain"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCache(client), mr
}

func sampleOrders() []domain.Order {
	return []domain.Order{{
		ID:            7,
		UserID:        42,
		OrderNumber:   "ORD-1-42-abcdef12",
		Status:        domain.OrderStatusPending,
		PaymentMethod: domain.PaymentMethodCOD,
		Subtotal:      decimal.RequireFromString("40"),
		Tax:           decimal.RequireFromString("4"),
		Discount:      decimal.Zero,
		Total:         decimal.RequireFromString("44"),
		Lines: []domain.OrderLine{
			{ProductID: 1, ProductName: "Mug", Price: decimal.RequireFromString("10"), Quantity: 4, Total: decimal.RequireFromString("40")},
		},
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}}
}

func TestSetThenGet(t *testing.T) {
	c, mr := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, 42, sampleOrders()))
	assert.True(t, mr.Exists("orders:42"))

	ttl := mr.TTL("orders:42")
	assert.GreaterOrEqual(t, ttl, 5*time.Minute)
	assert.Less(t, ttl, 6*time.Minute)

	got, err := c.Get(ctx, 42)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ORD-1-42-abcdef12", got[0].OrderNumber)
	assert.True(t, got[0].Total.Equal(decimal.RequireFromString("44")))
	require.Len(t, got[0].Lines, 1)
	assert.Equal(t, int32(4), got[0].Lines[0].Quantity)
}

func TestGet_CacheMiss(t *testing.T) {
	c, _ := setupTestRedis(t)

	got, err := c.Get(context.Background(), 1)
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Nil(t, got)
}

func TestGet_InvalidJSON(t *testing.T) {
	c, mr := setupTestRedis(t)
	require.NoError(t, mr.Set("orders:9", `[{"id":`))

	_, err := c.Get(context.Background(), 9)
	require.ErrorContains(t, err, "unmarshal orders failed")
}

func TestSet_EmptyHistoryIsCached(t *testing.T) {
	c, _ := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, 3, nil))

	got, err := c.Get(ctx, 3)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDelete(t *testing.T) {
	c, mr := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, 42, sampleOrders()))
	require.NoError(t, c.Delete(ctx, 42))
	assert.False(t, mr.Exists("orders:42"))

	require.NoError(t, c.Delete(ctx, 42))
}

func TestRedisUnavailable(t *testing.T) {
	c, mr := setupTestRedis(t)
	mr.Close()

	_, err := c.Get(context.Background(), 1)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss)
}
