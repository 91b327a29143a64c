// Package idgen issues the human readable identifiers used for invoices,
// tickets, snack lines and payment transactions.
//
// Numbers come from an atomic Counter (Redis INCR in production, a mutex
// guarded map otherwise) that is seeded from the highest identifier already
// persisted.  Every candidate is still checked against the store before it
// is handed out; a candidate that already exists is skipped and the next
// number is drawn.  The loop is bounded and fails with ErrExhausted rather
// than spinning.
package idgen

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Class is the kind of entity an identifier is issued for.
type Class string

const (
	Invoice    Class = "invoice"
	Ticket     Class = "ticket"
	SnackLine  Class = "snack_line"
	PaymentTxn Class = "payment_txn"
)

// ErrExhausted is returned when no free identifier was found within the
// configured number of attempts.
var ErrExhausted = errors.New("idgen: no free identifier")

const defaultMaxAttempts = 10

// Store is the identifier persistence the generator seeds from and checks
// candidates against.
type Store interface {
	// MaxSequence returns the highest numeric part among persisted
	// identifiers of class within scope, or 0 when there are none.
	MaxSequence(ctx context.Context, class Class, scope string) (int64, error)
	// Exists reports whether id is already persisted for class.
	Exists(ctx context.Context, class Class, id string) (bool, error)
}

// SeedFunc supplies the starting value of a counter that does not exist yet.
type SeedFunc func(ctx context.Context) (int64, error)

// Counter hands out strictly increasing numbers per key, safely across
// concurrent callers.
type Counter interface {
	Next(ctx context.Context, key string, seed SeedFunc) (int64, error)
}

// Generator issues identifiers.  It is safe for concurrent use.
type Generator struct {
	store       Store
	counter     Counter
	now         func() time.Time
	loc         *time.Location
	maxAttempts int
	log         logrus.FieldLogger
}

// Option customises a Generator.
type Option func(*Generator)

// WithClock overrides the time source used for date based identifiers.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		if now != nil {
			g.now = now
		}
	}
}

// WithLocation sets the time zone invoice identifiers are rendered in.
func WithLocation(loc *time.Location) Option {
	return func(g *Generator) {
		if loc != nil {
			g.loc = loc
		}
	}
}

// WithMaxAttempts caps the draw-and-check loop.
func WithMaxAttempts(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

// WithLogger sets the logger used for collision diagnostics.
func WithLogger(l logrus.FieldLogger) Option {
	return func(g *Generator) {
		if l != nil {
			g.log = l
		}
	}
}

// New returns a Generator drawing numbers from counter and checking them
// against store.
func New(store Store, counter Counter, opts ...Option) *Generator {
	g := &Generator{
		store:       store,
		counter:     counter,
		now:         time.Now,
		loc:         time.Local,
		maxAttempts: defaultMaxAttempts,
		log:         logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// InvoiceID returns a new INV####_HHhMMmDDMMYYYY identifier.
func (g *Generator) InvoiceID(ctx context.Context) (string, error) { return g.Next(ctx, Invoice) }

// TicketID returns a new T###### identifier.
func (g *Generator) TicketID(ctx context.Context) (string, error) { return g.Next(ctx, Ticket) }

// SnackLineID returns a new BS###### identifier.
func (g *Generator) SnackLineID(ctx context.Context) (string, error) { return g.Next(ctx, SnackLine) }

// PaymentTxnID returns a new PAY###### identifier.
func (g *Generator) PaymentTxnID(ctx context.Context) (string, error) {
	return g.Next(ctx, PaymentTxn)
}

// Next returns an identifier of class that is not currently persisted.
func (g *Generator) Next(ctx context.Context, class Class) (string, error) {
	now := g.now().In(g.loc)
	scope := Scope(class, now)
	key := "idseq:" + string(class) + ":" + scope
	seed := func(ctx context.Context) (int64, error) {
		return g.store.MaxSequence(ctx, class, scope)
	}
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		n, err := g.counter.Next(ctx, key, seed)
		if err != nil {
			return "", fmt.Errorf("idgen: next %s: %w", class, err)
		}
		id := Format(class, n, now)
		exists, err := g.store.Exists(ctx, class, id)
		if err != nil {
			return "", fmt.Errorf("idgen: check %s: %w", id, err)
		}
		if !exists {
			return id, nil
		}
		g.log.WithFields(logrus.Fields{"class": class, "id": id, "attempt": attempt}).
			Warn("idgen: candidate already exists, drawing next")
	}
	return "", fmt.Errorf("%w: %s after %d attempts", ErrExhausted, class, g.maxAttempts)
}

// Scope is the counter namespace for class at now.  Invoice numbers restart
// every day; the other classes share one sequence.
func Scope(class Class, now time.Time) string {
	if class == Invoice {
		return now.Format("02012006")
	}
	return "all"
}

// Format renders sequence number n as an identifier of class.
func Format(class Class, n int64, now time.Time) string {
	switch class {
	case Invoice:
		return fmt.Sprintf("INV%04d_%02dh%02dm%s", n, now.Hour(), now.Minute(), now.Format("02012006"))
	case Ticket:
		return fmt.Sprintf("T%06d", n)
	case SnackLine:
		return fmt.Sprintf("BS%06d", n)
	case PaymentTxn:
		return fmt.Sprintf("PAY%06d", n)
	}
	return fmt.Sprintf("%s-%d", class, n)
}
