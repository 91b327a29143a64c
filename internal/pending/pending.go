// Package pending keeps the seat and snack selection of an invoice that is
// waiting for its payment callback.
//
// The selection lives outside the database so that an abandoned checkout
// leaves nothing behind but its expiring holds.  Entries expire on their
// own after the configured TTL; the finalizer deletes them once the payment
// outcome is recorded.
package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/cinema-ticket-checkout/internal/model"
)

// ErrNotFound is returned by Load when no selection is stored for the
// invoice, either because it was never saved or because it expired.
var ErrNotFound = errors.New("pending selection not found")

// Store persists pending selections keyed by invoice id.
type Store interface {
	Save(ctx context.Context, sel model.PendingSelection, ttl time.Duration) error
	Load(ctx context.Context, invoiceID string) (model.PendingSelection, error)
	Delete(ctx context.Context, invoiceID string) error
}

const keyPrefix = "pending:"

// Key returns the Redis key holding the selection of invoiceID.
func Key(invoiceID string) string { return keyPrefix + invoiceID }

// RedisStore stores selections as JSON strings with a TTL.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore returns a Store backed by rdb.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Save(ctx context.Context, sel model.PendingSelection, ttl time.Duration) error {
	b, err := json.Marshal(sel)
	if err != nil {
		return fmt.Errorf("encode selection %s: %w", sel.InvoiceID, err)
	}
	if err := s.rdb.Set(ctx, Key(sel.InvoiceID), b, ttl).Err(); err != nil {
		return fmt.Errorf("save selection %s: %w", sel.InvoiceID, err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, invoiceID string) (model.PendingSelection, error) {
	b, err := s.rdb.Get(ctx, Key(invoiceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.PendingSelection{}, ErrNotFound
	}
	if err != nil {
		return model.PendingSelection{}, fmt.Errorf("load selection %s: %w", invoiceID, err)
	}
	var sel model.PendingSelection
	if err := json.Unmarshal(b, &sel); err != nil {
		return model.PendingSelection{}, fmt.Errorf("decode selection %s: %w", invoiceID, err)
	}
	return sel, nil
}

func (s *RedisStore) Delete(ctx context.Context, invoiceID string) error {
	return s.rdb.Del(ctx, Key(invoiceID)).Err()
}

// MemoryStore is an in-process Store used when Redis is unavailable and in
// tests.  Expired entries are dropped on access.
type MemoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]memoryEntry
}

type memoryEntry struct {
	sel       model.PendingSelection
	expiresAt time.Time
}

// NewMemoryStore returns an empty MemoryStore.  A nil now uses time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{now: now, entries: make(map[string]memoryEntry)}
}

func (s *MemoryStore) Save(_ context.Context, sel model.PendingSelection, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := memoryEntry{sel: clone(sel)}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.entries[sel.InvoiceID] = e
	return nil
}

func (s *MemoryStore) Load(_ context.Context, invoiceID string) (model.PendingSelection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[invoiceID]
	if !ok {
		return model.PendingSelection{}, ErrNotFound
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		delete(s.entries, invoiceID)
		return model.PendingSelection{}, ErrNotFound
	}
	return clone(e.sel), nil
}

func (s *MemoryStore) Delete(_ context.Context, invoiceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, invoiceID)
	return nil
}

func clone(sel model.PendingSelection) model.PendingSelection {
	sel.SeatIDs = append([]uint64(nil), sel.SeatIDs...)
	sel.Snacks = append([]model.SnackChoice(nil), sel.Snacks...)
	return sel
}
