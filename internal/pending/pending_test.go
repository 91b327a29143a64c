package pending

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/iliyamo/cinema-ticket-checkout/internal/model"
)

func sampleSelection(id string) model.PendingSelection {
	return model.PendingSelection{
		InvoiceID:  id,
		UserID:     7,
		ShowtimeID: 3,
		SeatIDs:    []uint64{11, 12},
		Snacks:     []model.SnackChoice{{SnackID: 2, Quantity: 3}},
	}
}

func TestMemoryStore(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	s := NewMemoryStore(func() time.Time { return now })
	ctx := context.Background()

	_, err := s.Load(ctx, "INV0001")
	assert.ErrorIs(t, err, ErrNotFound)

	sel := sampleSelection("INV0001")
	require.NoError(t, s.Save(ctx, sel, time.Hour))

	got, err := s.Load(ctx, "INV0001")
	require.NoError(t, err)
	assert.Equal(t, sel, got)

	got.SeatIDs[0] = 99
	again, err := s.Load(ctx, "INV0001")
	require.NoError(t, err)
	assert.Equal(t, uint64(11), again.SeatIDs[0], "loaded selections do not alias the stored one")

	now = now.Add(time.Hour)
	_, err = s.Load(ctx, "INV0001")
	assert.ErrorIs(t, err, ErrNotFound, "entry expires after its ttl")

	require.NoError(t, s.Save(ctx, sel, time.Hour))
	require.NoError(t, s.Delete(ctx, "INV0001"))
	_, err = s.Load(ctx, "INV0001")
	assert.ErrorIs(t, err, ErrNotFound)
}

func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			t.Skipf("redis at %s unavailable: %v", addr, err)
		}
		t.Cleanup(func() { _ = rdb.Close() })
		return rdb
	}
	c, err := tcredis.Run(ctx, "docker.io/redis:7-alpine")
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })
	uri, err := c.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(uri)
	require.NoError(t, err)
	rdb := redis.NewClient(opts)
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestRedisStore(t *testing.T) {
	rdb := redisClient(t)
	s := NewRedisStore(rdb)
	ctx := context.Background()
	id := "INV_TEST_" + time.Now().Format("150405.000000000")
	t.Cleanup(func() { rdb.Del(context.Background(), Key(id)) })

	_, err := s.Load(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)

	sel := sampleSelection(id)
	require.NoError(t, s.Save(ctx, sel, time.Minute))

	got, err := s.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, sel, got)

	ttl, err := rdb.TTL(ctx, Key(id)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)

	require.NoError(t, s.Delete(ctx, id))
	_, err = s.Load(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}
