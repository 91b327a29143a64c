package booking

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-ticket-checkout/internal/idgen"
	"github.com/iliyamo/cinema-ticket-checkout/internal/model"
	"github.com/iliyamo/cinema-ticket-checkout/internal/payment"
	"github.com/iliyamo/cinema-ticket-checkout/internal/pending"
)

const (
	testSecret = "test-hash-secret"
	showtimeID = 1
	startedID  = 2
	roomID     = 10

	seatA1 = 101
	seatA2 = 102
	seatV1 = 103

	popcorn = 1
	soda    = 2

	alice = 7
	bob   = 8
)

var start = time.Date(2026, 10, 19, 18, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// flakyStore fails Save while failSave is set.
type flakyStore struct {
	*pending.MemoryStore
	failSave bool
}

func (s *flakyStore) Save(ctx context.Context, sel model.PendingSelection, ttl time.Duration) error {
	if s.failSave {
		return errors.New("session store unavailable")
	}
	return s.MemoryStore.Save(ctx, sel, ttl)
}

type harness struct {
	db    *fakeDB
	clock *clock
	sel   *flakyStore
	pub   *recordingPublisher
	svc   *Service
	fin   *Finalizer
	avail *Availability
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := newFakeDB()
	db.ranks = []model.Rank{
		{ID: 1, Name: "Member", MinPoints: 0, PointsPerTicket: 5, PointsPerCombo: 2},
		{ID: 2, Name: "Gold", MinPoints: 1000, PointsPerTicket: 10, PointsPerCombo: 4},
	}
	db.users[alice] = model.User{ID: alice, Email: "alice@example.test", Role: "CUSTOMER", RankID: 1}
	db.users[bob] = model.User{ID: bob, Email: "bob@example.test", Role: "CUSTOMER", RankID: 1}
	db.showtimes[showtimeID] = model.Showtime{
		ID: showtimeID, MovieTitle: "Dune", RoomID: roomID,
		StartsAt: start.Add(2 * time.Hour), EndsAt: start.Add(5 * time.Hour),
		PriceAdjustmentPercent: decimal.NewFromInt(10),
	}
	db.showtimes[startedID] = model.Showtime{
		ID: startedID, MovieTitle: "Alien", RoomID: roomID,
		StartsAt: start.Add(-time.Hour), EndsAt: start.Add(time.Hour),
	}
	db.seats[seatA1] = model.Seat{ID: seatA1, RoomID: roomID, RowLabel: "A", SeatNumber: 1, SeatTypeID: 1, SeatTypePrice: 80000}
	db.seats[seatA2] = model.Seat{ID: seatA2, RoomID: roomID, RowLabel: "A", SeatNumber: 2, SeatTypeID: 1, SeatTypePrice: 80000}
	db.seats[seatV1] = model.Seat{ID: seatV1, RoomID: roomID, RowLabel: "V", SeatNumber: 1, SeatTypeID: 2, SeatTypePrice: 120000}
	db.catalog[popcorn] = model.Snack{ID: popcorn, Name: "Popcorn", Price: 45000}
	db.catalog[soda] = model.Snack{ID: soda, Name: "Soda", Price: 25000}
	starts, ends := start.Add(-24*time.Hour), start.Add(24*time.Hour)
	expired := start.Add(-time.Hour)
	db.promos[1] = model.Promotion{ID: 1, Code: "HALF", Discount: decimal.NewNullDecimal(decimal.NewFromInt(50)), StartsAt: &starts, EndsAt: &ends, IsActive: true}
	db.promos[2] = model.Promotion{ID: 2, Code: "OLD", Discount: decimal.NewNullDecimal(decimal.NewFromInt(50)), StartsAt: &starts, EndsAt: &expired, IsActive: true}

	clk := &clock{now: start}
	logger, _ := test.NewNullLogger()
	ids := idgen.New(db, idgen.NewMemoryCounter(), idgen.WithClock(clk.Now), idgen.WithLocation(time.UTC), idgen.WithLogger(logger))
	gw := payment.NewGateway(payment.Config{
		TmnCode:    "CINEMA01",
		HashSecret: testSecret,
		PayURL:     "https://pay.example.test/vpcpay.html",
		ReturnURL:  "http://localhost:8080/v1/payments/vnpay/return",
		Location:   time.UTC,
	})
	sel := &flakyStore{MemoryStore: pending.NewMemoryStore(clk.Now)}
	pub := &recordingPublisher{}

	opts := []Option{WithClock(clk.Now), WithLogger(logger)}
	svc := NewService(Deps{
		Begin:      db.begin,
		Catalog:    db,
		Invoices:   db,
		Promotions: db,
		IDs:        ids,
		Selections: sel,
		Gateway:    gw,
	}, Config{HoldTTL: 15 * time.Minute, SelectionTTL: 24 * time.Hour, Location: time.UTC}, opts...)
	fin := NewFinalizer(FinalizerDeps{
		Begin:      db.begin,
		Catalog:    db,
		Promotions: db,
		IDs:        ids,
		Selections: sel,
		Gateway:    gw,
	}, append(opts, WithPublisher(pub))...)

	return &harness{
		db:    db,
		clock: clk,
		sel:   sel,
		pub:   pub,
		svc:   svc,
		fin:   fin,
		avail: NewAvailability(db, db, clk.Now),
	}
}

func (h *harness) checkout(t *testing.T, userID uint64, seats []uint64, snacks ...model.SnackChoice) CheckoutResult {
	t.Helper()
	res, err := h.svc.BeginCheckout(context.Background(), CheckoutRequest{
		UserID:     userID,
		ShowtimeID: showtimeID,
		SeatIDs:    seats,
		Snacks:     snacks,
		ClientIP:   "10.0.0.1",
	})
	require.NoError(t, err)
	return res
}

// takenIDs hands out preset identifiers before deferring to the generator,
// the way a second instance with its own counter would.
type takenIDs struct {
	IDs
	preset map[idgen.Class][]string
}

func (p *takenIDs) Next(ctx context.Context, class idgen.Class) (string, error) {
	if ids := p.preset[class]; len(ids) > 0 {
		p.preset[class] = ids[1:]
		return ids[0], nil
	}
	return p.IDs.Next(ctx, class)
}

// callback returns gateway callback parameters signed with secret.
func (h *harness) callbackWith(secret, invoiceID string, amount int64, code, status string) url.Values {
	q := url.Values{}
	q.Set(payment.ParamTmnCode, "CINEMA01")
	q.Set(payment.ParamTxnRef, invoiceID)
	q.Set(payment.ParamAmount, strconv.FormatInt(amount*100, 10))
	q.Set(payment.ParamBankCode, "NCB")
	q.Set(payment.ParamTransactionNo, "TXN-"+invoiceID+"-"+code)
	q.Set(payment.ParamResponseCode, code)
	q.Set(payment.ParamTransactionStatus, status)
	q.Set(payment.ParamPayDate, h.clock.Now().Format(payment.TimeLayout))
	q.Set(payment.ParamOrderInfo, "Payment for invoice "+invoiceID)
	q.Set(payment.ParamSecureHash, payment.Sign(q, secret))
	return q
}

func (h *harness) success(invoiceID string, amount int64) url.Values {
	return h.callbackWith(testSecret, invoiceID, amount, payment.CodeSuccess, payment.CodeSuccess)
}

func (h *harness) failure(invoiceID string, amount int64) url.Values {
	return h.callbackWith(testSecret, invoiceID, amount, "24", "02")
}

// requireSeatExclusivity asserts that no (showtime, seat) carries two
// blocking tickets at now.
func requireSeatExclusivity(t *testing.T, db *fakeDB, now time.Time) {
	t.Helper()
	seen := map[seatKey]string{}
	for _, tk := range db.snapshot().tickets {
		if !tk.Blocking(now) {
			continue
		}
		k := seatKey{tk.ShowtimeID, tk.SeatID}
		prev, dup := seen[k]
		require.False(t, dup, "seat %d of showtime %d blocked by %s and %s", tk.SeatID, tk.ShowtimeID, prev, tk.ID)
		seen[k] = tk.ID
	}
}

func seatIDsOf(tickets []model.Ticket) []uint64 {
	out := make([]uint64, len(tickets))
	for i, t := range tickets {
		out[i] = t.SeatID
	}
	return out
}
