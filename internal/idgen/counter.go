package idgen

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MemoryCounter is a process local Counter.  It is used when Redis is not
// configured and in tests; identifiers are then only unique per process
// until the store check catches a collision.
type MemoryCounter struct {
	mu     sync.Mutex
	values map[string]int64
}

// NewMemoryCounter returns an empty MemoryCounter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{values: make(map[string]int64)}
}

func (c *MemoryCounter) Next(ctx context.Context, key string, seed SeedFunc) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	if !ok {
		s, err := seed(ctx)
		if err != nil {
			return 0, err
		}
		v = s
	}
	v++
	c.values[key] = v
	return v, nil
}

// incrExisting increments KEYS[1] only if it exists and returns -1 otherwise.
var incrExisting = redis.NewScript(`
	if redis.call('EXISTS', KEYS[1]) == 0 then
		return -1
	end
	local v = redis.call('INCR', KEYS[1])
	local ttl = tonumber(ARGV[1])
	if ttl > 0 then
		redis.call('EXPIRE', KEYS[1], ttl)
	end
	return v
`)

// seedAndIncr sets KEYS[1] to ARGV[1] unless another client seeded it first,
// then increments it.
var seedAndIncr = redis.NewScript(`
	redis.call('SET', KEYS[1], ARGV[1], 'NX')
	local v = redis.call('INCR', KEYS[1])
	local ttl = tonumber(ARGV[2])
	if ttl > 0 then
		redis.call('EXPIRE', KEYS[1], ttl)
	end
	return v
`)

// RedisCounter is a Counter shared by every instance of the service.  Keys
// idle for longer than TTL are dropped and re-seeded from the store on the
// next draw.
type RedisCounter struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCounter returns a RedisCounter.  A zero ttl keeps keys forever.
func NewRedisCounter(rdb *redis.Client, ttl time.Duration) *RedisCounter {
	return &RedisCounter{rdb: rdb, ttl: ttl}
}

var errUnexpectedReply = errors.New("idgen: unexpected redis reply")

func (c *RedisCounter) Next(ctx context.Context, key string, seed SeedFunc) (int64, error) {
	ttl := int64(c.ttl / time.Second)
	v, err := incrExisting.Run(ctx, c.rdb, []string{key}, ttl).Int64()
	if err != nil {
		return 0, err
	}
	if v >= 0 {
		return v, nil
	}
	s, err := seed(ctx)
	if err != nil {
		return 0, err
	}
	v, err = seedAndIncr.Run(ctx, c.rdb, []string{key}, s, ttl).Int64()
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, errUnexpectedReply
	}
	return v, nil
}
