package booking

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-ticket-checkout/internal/idgen"
	"github.com/iliyamo/cinema-ticket-checkout/internal/model"
	"github.com/iliyamo/cinema-ticket-checkout/internal/payment"
	"github.com/iliyamo/cinema-ticket-checkout/internal/repository"
)

func TestBeginCheckoutHoldsSeats(t *testing.T) {
	h := newHarness(t)
	res := h.checkout(t, alice, []uint64{seatA2, seatA1, seatA1},
		model.SnackChoice{SnackID: popcorn, Quantity: 0},
		model.SnackChoice{SnackID: popcorn, Quantity: 2},
	)

	assert.Equal(t, "INV0001_18h00m19102026", res.Invoice.ID)
	assert.Equal(t, model.InvoicePending, res.Invoice.Status)
	assert.Equal(t, int64(2*88000+3*45000), res.Invoice.Total)
	assert.Equal(t, res.Invoice.Total, res.Invoice.OriginalTotal)
	assert.Equal(t, start.Add(15*time.Minute), res.HoldExpiresAt)

	holds := h.db.invoiceTickets(res.Invoice.ID)
	require.Len(t, holds, 2)
	for _, tk := range holds {
		assert.Equal(t, model.TicketPending, tk.Status)
		assert.Equal(t, int64(88000), tk.Price)
		require.NotNil(t, tk.ExpiresAt)
		assert.Equal(t, res.HoldExpiresAt, *tk.ExpiresAt)
	}
	assert.Equal(t, []uint64{seatA1, seatA2}, seatIDsOf(holds))

	sel, err := h.sel.Load(context.Background(), res.Invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint64{seatA1, seatA2}, sel.SeatIDs)
	assert.Equal(t, []model.SnackChoice{{SnackID: popcorn, Quantity: 3}}, sel.Snacks)

	u, err := url.Parse(res.PaymentURL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, res.Invoice.ID, q.Get(payment.ParamTxnRef))
	assert.Equal(t, "31100000", q.Get(payment.ParamAmount))
	assert.True(t, payment.VerifyCallback(q, testSecret))
}

func TestBeginCheckoutWithPromotion(t *testing.T) {
	h := newHarness(t)
	res, err := h.svc.BeginCheckout(context.Background(), CheckoutRequest{
		UserID: alice, ShowtimeID: showtimeID, SeatIDs: []uint64{seatV1}, PromotionCode: "HALF",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(132000), res.Invoice.OriginalTotal)
	assert.Equal(t, int64(66000), res.Invoice.Total)
	assert.Equal(t, int64(66000), res.Discount)
	require.NotNil(t, res.Invoice.PromotionID)
	assert.Equal(t, uint64(1), *res.Invoice.PromotionID)
}

func TestBeginCheckoutRejectsInvalidRequests(t *testing.T) {
	tests := []struct {
		name string
		req  CheckoutRequest
	}{
		{"no seats", CheckoutRequest{UserID: alice, ShowtimeID: showtimeID}},
		{"zero seat id", CheckoutRequest{UserID: alice, ShowtimeID: showtimeID, SeatIDs: []uint64{0}}},
		{"missing showtime", CheckoutRequest{UserID: alice, SeatIDs: []uint64{seatA1}}},
		{"unknown showtime", CheckoutRequest{UserID: alice, ShowtimeID: 42, SeatIDs: []uint64{seatA1}}},
		{"showtime started", CheckoutRequest{UserID: alice, ShowtimeID: startedID, SeatIDs: []uint64{seatA1}}},
		{"unknown seat", CheckoutRequest{UserID: alice, ShowtimeID: showtimeID, SeatIDs: []uint64{seatA1, 999}}},
		{"unknown snack", CheckoutRequest{UserID: alice, ShowtimeID: showtimeID, SeatIDs: []uint64{seatA1},
			Snacks: []model.SnackChoice{{SnackID: 77, Quantity: 1}}}},
		{"expired promotion", CheckoutRequest{UserID: alice, ShowtimeID: showtimeID, SeatIDs: []uint64{seatA1}, PromotionCode: "OLD"}},
		{"unknown promotion", CheckoutRequest{UserID: alice, ShowtimeID: showtimeID, SeatIDs: []uint64{seatA1}, PromotionCode: "NOPE"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			_, err := h.svc.BeginCheckout(context.Background(), tt.req)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.NotEmpty(t, verr.Reason)

			s := h.db.snapshot()
			assert.Empty(t, s.invoices)
			assert.Empty(t, s.tickets)
		})
	}
}

func TestBeginCheckoutConflictAndLapsedHoldReclaim(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first := h.checkout(t, alice, []uint64{seatA1})

	_, err := h.svc.BeginCheckout(ctx, CheckoutRequest{UserID: bob, ShowtimeID: showtimeID, SeatIDs: []uint64{seatA1, seatA2}})
	var cerr *ConflictError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, []uint64{seatA1}, cerr.SeatIDs)
	assert.Len(t, h.db.snapshot().invoices, 1, "rejected checkout writes nothing")

	blocked, err := h.avail.Blocked(ctx, showtimeID, []uint64{seatA1, seatA2})
	require.NoError(t, err)
	assert.Equal(t, []uint64{seatA1}, blocked)

	h.clock.Advance(16 * time.Minute)
	blocked, err = h.avail.Blocked(ctx, showtimeID, []uint64{seatA1, seatA2})
	require.NoError(t, err)
	assert.Empty(t, blocked, "a lapsed hold does not block")
	assert.Len(t, h.db.invoiceTickets(first.Invoice.ID), 1, "the lapsed row still exists")

	second := h.checkout(t, bob, []uint64{seatA1})
	assert.Empty(t, h.db.invoiceTickets(first.Invoice.ID), "lapsed hold purged by the new checkout")
	assert.Len(t, h.db.invoiceTickets(second.Invoice.ID), 1)
	requireSeatExclusivity(t, h.db, h.clock.Now())
}

func TestBeginCheckoutReleasesHoldsWhenSelectionCannotBeSaved(t *testing.T) {
	h := newHarness(t)
	h.sel.failSave = true

	_, err := h.svc.BeginCheckout(context.Background(), CheckoutRequest{UserID: alice, ShowtimeID: showtimeID, SeatIDs: []uint64{seatA1}})
	require.Error(t, err)

	s := h.db.snapshot()
	require.Len(t, s.invoices, 1)
	for _, inv := range s.invoices {
		assert.Equal(t, model.InvoiceFailed, inv.Status)
	}
	assert.Empty(t, s.tickets)

	h.sel.failSave = false
	h.checkout(t, bob, []uint64{seatA1})
}

func TestApplyPromotionAndPaymentURL(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.checkout(t, alice, []uint64{seatA1, seatA2})

	_, err := h.svc.ApplyPromotion(ctx, bob, res.Invoice.ID, "HALF", "")
	assert.ErrorIs(t, err, repository.ErrForbidden)

	_, err = h.svc.ApplyPromotion(ctx, alice, res.Invoice.ID, "OLD", "")
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)

	pr, err := h.svc.ApplyPromotion(ctx, alice, res.Invoice.ID, "HALF", "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, int64(88000), pr.Discount)
	assert.Equal(t, int64(88000), pr.Invoice.Total)
	assert.Equal(t, int64(176000), pr.Invoice.OriginalTotal)

	h.clock.Advance(time.Minute)
	raw, err := h.svc.PaymentURL(ctx, alice, res.Invoice.ID, "10.0.0.1")
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "8800000", u.Query().Get(payment.ParamAmount))
	assert.Equal(t, "20261019180100", u.Query().Get(payment.ParamCreateDate))

	_, err = h.svc.PaymentURL(ctx, bob, res.Invoice.ID, "")
	assert.ErrorIs(t, err, repository.ErrForbidden)
	_, err = h.svc.PaymentURL(ctx, alice, "INV9999_00h00m01012026", "")
	assert.ErrorIs(t, err, ErrInvoiceNotFound)

	out, err := h.fin.HandleCallback(ctx, h.success(res.Invoice.ID, 88000))
	require.NoError(t, err)
	assert.Equal(t, ResultPaid, out.Result)
	assert.Equal(t, int64(88000), out.Total)
	assert.Zero(t, out.RefundDue)

	_, err = h.svc.ApplyPromotion(ctx, alice, res.Invoice.ID, "HALF", "")
	assert.True(t, errors.Is(err, ErrInvoiceNotPending))

	d, err := h.svc.Invoice(ctx, alice, res.Invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InvoicePaid, d.Status)
	assert.Len(t, d.Tickets, 2)
	_, err = h.svc.Invoice(ctx, bob, res.Invoice.ID)
	assert.ErrorIs(t, err, repository.ErrForbidden)
}

func TestNormalizeSnacks(t *testing.T) {
	got, err := normalizeSnacks([]model.SnackChoice{
		{SnackID: soda, Quantity: -3},
		{SnackID: popcorn, Quantity: 2},
		{SnackID: soda, Quantity: 4},
	})
	require.NoError(t, err)
	assert.Equal(t, []model.SnackChoice{{SnackID: soda, Quantity: 5}, {SnackID: popcorn, Quantity: 2}}, got)

	got, err = normalizeSnacks([]model.SnackChoice{{SnackID: soda, Quantity: MaxSnackQuantity}})
	require.NoError(t, err)
	assert.Equal(t, MaxSnackQuantity, got[0].Quantity)

	var verr *ValidationError
	_, err = normalizeSnacks([]model.SnackChoice{{SnackID: soda, Quantity: MaxSnackQuantity + 1}})
	assert.ErrorAs(t, err, &verr)
	_, err = normalizeSnacks([]model.SnackChoice{{SnackID: soda, Quantity: 15}, {SnackID: soda, Quantity: 10}})
	assert.ErrorAs(t, err, &verr, "merged lines are capped too")
}

func TestBeginCheckoutRejectsOversizedSnackQuantity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// 45000 × 409927646082435 wraps to a tiny total in int64 arithmetic.
	_, err := h.svc.BeginCheckout(ctx, CheckoutRequest{
		UserID: alice, ShowtimeID: showtimeID, SeatIDs: []uint64{seatA1},
		Snacks: []model.SnackChoice{{SnackID: popcorn, Quantity: 409927646082435}},
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Reason, "exceeds")

	s := h.db.snapshot()
	assert.Empty(t, s.invoices)
	assert.Empty(t, s.tickets)
}

func TestBeginCheckoutLockConflictIsSeatConflict(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.db.failInsert = errLockConflict

	_, err := h.svc.BeginCheckout(ctx, CheckoutRequest{UserID: alice, ShowtimeID: showtimeID, SeatIDs: []uint64{seatA1}})
	var cerr *ConflictError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, uint64(showtimeID), cerr.ShowtimeID)
	assert.Equal(t, []uint64{seatA1}, cerr.SeatIDs)
	assert.Empty(t, h.db.snapshot().invoices)

	h.checkout(t, alice, []uint64{seatA1})
}

func TestBeginCheckoutMintsNewIDsWhenOneIsTaken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	other := "INV0099_17h00m19102026"
	h.db.invoices[other] = model.Invoice{ID: other, UserID: bob, Total: 132000, OriginalTotal: 132000, Status: model.InvoicePaid}
	h.db.tickets["T000009"] = model.Ticket{
		ID: "T000009", InvoiceID: other, ShowtimeID: showtimeID, SeatID: seatV1, Status: model.TicketPaid, Price: 132000,
	}
	h.svc.IDs = &takenIDs{IDs: h.svc.IDs, preset: map[idgen.Class][]string{idgen.Ticket: {"T000009"}}}

	res := h.checkout(t, alice, []uint64{seatA1})
	assert.Equal(t, "INV0002_18h00m19102026", res.Invoice.ID, "first invoice id was abandoned with its attempt")
	holds := h.db.invoiceTickets(res.Invoice.ID)
	require.Len(t, holds, 1)
	assert.NotEqual(t, "T000009", holds[0].ID)
	assert.Equal(t, other, h.db.snapshot().tickets["T000009"].InvoiceID, "the other invoice keeps its ticket")
	assert.Len(t, h.db.snapshot().invoices, 2)

	h.svc.IDs = &takenIDs{IDs: h.svc.IDs, preset: map[idgen.Class][]string{
		idgen.Ticket: {"T000009", "T000009", "T000009"},
	}}
	_, err := h.svc.BeginCheckout(ctx, CheckoutRequest{UserID: bob, ShowtimeID: showtimeID, SeatIDs: []uint64{seatA2}})
	require.Error(t, err)
	assert.ErrorIs(t, err, repository.ErrDuplicateID)
	var cerr *ConflictError
	assert.False(t, errors.As(err, &cerr), "a taken identifier is not a seat conflict")
	assert.Len(t, h.db.snapshot().invoices, 2)
}
