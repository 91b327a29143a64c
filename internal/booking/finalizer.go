package booking

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/cinema-ticket-checkout/internal/idgen"
	"github.com/iliyamo/cinema-ticket-checkout/internal/loyalty"
	"github.com/iliyamo/cinema-ticket-checkout/internal/metrics"
	"github.com/iliyamo/cinema-ticket-checkout/internal/model"
	"github.com/iliyamo/cinema-ticket-checkout/internal/payment"
	"github.com/iliyamo/cinema-ticket-checkout/internal/pending"
	"github.com/iliyamo/cinema-ticket-checkout/internal/pricing"
	"github.com/iliyamo/cinema-ticket-checkout/internal/queue"
	"github.com/iliyamo/cinema-ticket-checkout/internal/repository"
)

// Result classifies what a callback did to its invoice.
type Result string

const (
	// ResultPaid: every requested seat was delivered.
	ResultPaid Result = "paid"
	// ResultPartial: the invoice is Paid but some seats were lost to a
	// concurrent booking and their share of the payment is refundable.
	ResultPartial Result = "partially_paid"
	// ResultRefundRequired: money was captured but no seat could be
	// delivered, either because every seat was lost or because the invoice
	// had already failed.
	ResultRefundRequired Result = "refund_required"
	// ResultAlreadyPaid: a repeated success callback; nothing changed.
	ResultAlreadyPaid Result = "already_paid"
	// ResultFailed: the Pending invoice was failed and its seats released.
	ResultFailed Result = "failed"
	// ResultIgnored: a failure callback for an invoice that is no longer
	// Pending; nothing changed.
	ResultIgnored Result = "ignored"
)

// Outcome is the customer visible result of a payment callback.
type Outcome struct {
	InvoiceID      string              `json:"invoice_id"`
	Result         Result              `json:"result"`
	Status         model.InvoiceStatus `json:"status"`
	SignatureValid bool                `json:"-"`
	Tickets        []model.Ticket      `json:"tickets,omitempty"`
	DroppedSeatIDs []uint64            `json:"dropped_seat_ids,omitempty"`
	PaidAmount     int64               `json:"paid_amount"`
	Total          int64               `json:"total"`
	RefundDue      int64               `json:"refund_due"`
	PointsAwarded  int64               `json:"points_awarded"`
}

// Message is a one line summary for the customer.
func (o Outcome) Message() string {
	switch o.Result {
	case ResultPaid, ResultAlreadyPaid:
		return "payment successful"
	case ResultPartial:
		return fmt.Sprintf("paid, but %d of your seats could not be honored; %d will be refunded",
			len(o.DroppedSeatIDs), o.RefundDue)
	case ResultRefundRequired:
		return fmt.Sprintf("payment received but no seat could be honored; %d will be refunded", o.RefundDue)
	case ResultFailed, ResultIgnored:
		return "payment failed, seats released"
	}
	return string(o.Result)
}

// FinalizerDeps are the collaborators of the Finalizer.
type FinalizerDeps struct {
	Begin      BeginFunc
	Catalog    Catalog
	Promotions Promotions
	IDs        IDs
	Selections pending.Store
	Gateway    CallbackParser
	Ledger     *loyalty.Ledger
}

// Finalizer applies payment callbacks.  It is safe for concurrent use and
// tolerates any number of deliveries of the same callback.
type Finalizer struct {
	FinalizerDeps
	options
}

// NewFinalizer returns a Finalizer.
func NewFinalizer(deps FinalizerDeps, opts ...Option) *Finalizer {
	o := buildOptions(opts)
	if deps.Ledger == nil {
		deps.Ledger = loyalty.NewLedger(o.log)
	}
	return &Finalizer{FinalizerDeps: deps, options: o}
}

// HandleCallback verifies a gateway callback and finalizes its invoice.  A
// verified success with matching amount makes the invoice Paid; anything
// else, an invalid signature included, fails a Pending invoice.
func (f *Finalizer) HandleCallback(ctx context.Context, params url.Values) (Outcome, error) {
	cb, err := f.Gateway.ParseCallback(params)
	if errors.Is(err, payment.ErrMissingTxnRef) {
		metrics.PaymentCallbacksTotal.WithLabelValues("missing_ref").Inc()
		return Outcome{}, err
	}
	switch {
	case !cb.SignatureValid:
		metrics.PaymentCallbacksTotal.WithLabelValues("bad_signature").Inc()
	case cb.Success():
		metrics.PaymentCallbacksTotal.WithLabelValues("success").Inc()
	default:
		metrics.PaymentCallbacksTotal.WithLabelValues("failure").Inc()
	}

	var out Outcome
	if cb.Success() {
		if err != nil {
			return Outcome{InvoiceID: cb.TxnRef, SignatureValid: true}, err
		}
		out, err = f.Complete(ctx, cb)
	} else {
		out, err = f.Fail(ctx, cb)
	}
	out.SignatureValid = cb.SignatureValid
	if err == nil {
		metrics.FinalizationsTotal.WithLabelValues(string(out.Result)).Inc()
	} else {
		metrics.FinalizationsTotal.WithLabelValues("error").Inc()
	}
	return out, err
}

// finalization is the write plan of one Complete attempt.
type finalization struct {
	inv     model.Invoice
	tickets []model.Ticket
	snacks  []model.BookingSnack
	dropped []uint64
	refund  int64
	award   loyalty.Award
	result  Result
}

// Complete records a verified successful payment.  A uniqueness conflict
// while minting tickets rolls the attempt back and retries exactly once,
// this time pruning every seat another invoice holds under a locking read.
func (f *Finalizer) Complete(ctx context.Context, cb payment.Callback) (Outcome, error) {
	log := f.log.WithFields(logrus.Fields{"invoice_id": cb.TxnRef, "gateway_txn": cb.GatewayTxnNo})

	sel, err := f.Selections.Load(ctx, cb.TxnRef)
	haveSel := err == nil
	if err != nil && !errors.Is(err, pending.ErrNotFound) {
		log.WithError(err).Warn("pending selection unavailable, finalizing from holds")
	}
	auditID, err := f.IDs.Next(ctx, idgen.PaymentTxn)
	if err != nil {
		return Outcome{}, err
	}

	plan, err := f.complete(ctx, cb, auditID, sel, haveSel, false)
	if errors.Is(err, repository.ErrConflict) {
		metrics.SeatConflictsTotal.WithLabelValues("finalize").Inc()
		log.WithError(err).Warn("seat conflict while finalizing, retrying once")
		plan, err = f.complete(ctx, cb, auditID, sel, haveSel, true)
		if errors.Is(err, repository.ErrConflict) {
			metrics.SeatConflictsTotal.WithLabelValues("retry").Inc()
		}
	}
	if err != nil {
		return Outcome{InvoiceID: cb.TxnRef}, err
	}

	out := Outcome{
		InvoiceID:      plan.inv.ID,
		Result:         plan.result,
		Status:         plan.inv.Status,
		Tickets:        plan.tickets,
		DroppedSeatIDs: plan.dropped,
		PaidAmount:     cb.Amount,
		Total:          plan.inv.Total,
		RefundDue:      plan.refund,
		PointsAwarded:  plan.award.Points,
	}
	if plan.result == ResultAlreadyPaid {
		log.Info("duplicate success callback ignored")
		return out, nil
	}
	if plan.inv.Status == model.InvoicePaid {
		if err := f.Selections.Delete(ctx, plan.inv.ID); err != nil {
			log.WithError(err).Warn("could not delete pending selection")
		}
		if len(plan.tickets) > 0 {
			f.publishPaid(ctx, plan, sel.ShowtimeID, log)
		}
	}
	if plan.refund > 0 {
		f.publishRefund(ctx, plan, cb, log)
	}
	log.WithFields(logrus.Fields{
		"outcome": plan.result,
		"tickets": len(plan.tickets),
		"dropped": plan.dropped,
		"total":   plan.inv.Total,
	}).Info("payment finalized")
	return out, nil
}

func (f *Finalizer) complete(ctx context.Context, cb payment.Callback, auditID string, sel model.PendingSelection, haveSel, retry bool) (finalization, error) {
	now := f.now()
	tx, err := f.Begin(ctx)
	if err != nil {
		return finalization{}, fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	inv, err := tx.LockInvoice(ctx, cb.TxnRef)
	if err != nil {
		return finalization{}, invoiceErr(err)
	}
	if inv.Status == model.InvoicePending && cb.Amount != inv.Total {
		return finalization{}, fmt.Errorf("%w: got %d, invoice %s is %d", ErrAmountMismatch, cb.Amount, inv.ID, inv.Total)
	}
	if _, err := tx.InsertPaymentTransaction(ctx, transactionRow(auditID, cb, now)); err != nil {
		return finalization{}, fmt.Errorf("record payment transaction: %w", err)
	}

	plan := finalization{inv: inv}
	switch inv.Status {
	case model.InvoicePaid:
		plan.result = ResultAlreadyPaid
		if plan.tickets, err = tx.TicketsByInvoice(ctx, inv.ID); err != nil {
			return finalization{}, err
		}
	case model.InvoiceFailed:
		plan.result = ResultRefundRequired
		plan.refund = cb.Amount
	default:
		if err := f.materialize(ctx, tx, &plan, sel, haveSel, retry, now); err != nil {
			return finalization{}, err
		}
		plan.refund = max(cb.Amount-plan.inv.Total, 0)
	}

	if err := tx.Commit(); err != nil {
		return finalization{}, fmt.Errorf("commit: %w", err)
	}
	committed = true
	return plan, nil
}

// materialize turns the invoice's selection into Paid tickets and snack
// lines, keeping only seats no other invoice has a row on, and marks the
// invoice Paid with its total recomputed from what was delivered.
func (f *Finalizer) materialize(ctx context.Context, tx Tx, plan *finalization, sel model.PendingSelection, haveSel, retry bool, now time.Time) error {
	inv := plan.inv
	own, err := tx.TicketsByInvoice(ctx, inv.ID)
	if err != nil {
		return fmt.Errorf("load invoice tickets: %w", err)
	}
	if paid := lo.Filter(own, func(t model.Ticket, _ int) bool { return t.Status == model.TicketPaid }); len(paid) > 0 {
		// Tickets were minted before; only the status is left to settle.
		plan.tickets = paid
		return f.settle(ctx, tx, plan, len(paid), 0, now)
	}
	holds := lo.KeyBy(own, func(t model.Ticket) uint64 { return t.SeatID })

	showtimeID := sel.ShowtimeID
	seatIDs := sel.SeatIDs
	snacks := sel.Snacks
	if !haveSel {
		seatIDs = lo.Map(own, func(t model.Ticket, _ int) uint64 { return t.SeatID })
		snacks = nil
		if len(own) > 0 {
			showtimeID = own[0].ShowtimeID
		}
	}

	if _, err := tx.DeletePendingTickets(ctx, inv.ID); err != nil {
		return fmt.Errorf("delete holds: %w", err)
	}
	if _, err := tx.DeleteSnackLines(ctx, inv.ID); err != nil {
		return fmt.Errorf("delete snack lines: %w", err)
	}

	var free []uint64
	if showtimeID != 0 && len(seatIDs) > 0 {
		if _, err := tx.PurgeLapsedHolds(ctx, showtimeID, now); err != nil {
			return fmt.Errorf("purge lapsed holds: %w", err)
		}
		rows, err := tx.SeatTickets(ctx, showtimeID, seatIDs, retry)
		if err != nil {
			return fmt.Errorf("check seats: %w", err)
		}
		occupied := map[uint64]bool{}
		for _, t := range rows {
			if t.InvoiceID != inv.ID {
				occupied[t.SeatID] = true
			}
		}
		free = lo.Reject(seatIDs, func(id uint64, _ int) bool { return occupied[id] })
		plan.dropped = lo.Filter(seatIDs, func(id uint64, _ int) bool { return occupied[id] })
	}
	if len(plan.dropped) > 0 {
		phase := "finalize"
		if retry {
			phase = "retry"
		}
		metrics.SeatConflictsTotal.WithLabelValues(phase).Add(float64(len(plan.dropped)))
	}

	tickets, err := f.mintTickets(ctx, inv.ID, showtimeID, free, holds, now)
	if err != nil {
		return err
	}
	var lines []model.BookingSnack
	if len(tickets) > 0 {
		if lines, err = f.mintSnackLines(ctx, inv.ID, snacks); err != nil {
			return err
		}
	}
	if err := tx.InsertTickets(ctx, tickets); err != nil {
		return fmt.Errorf("insert tickets: %w", err)
	}
	if err := tx.InsertSnackLines(ctx, lines); err != nil {
		return fmt.Errorf("insert snack lines: %w", err)
	}
	plan.tickets = tickets
	plan.snacks = lines

	realized := lo.SumBy(tickets, func(t model.Ticket) int64 { return t.Price }) +
		lo.SumBy(lines, func(l model.BookingSnack) int64 { return l.Total })
	plan.inv.OriginalTotal = realized
	plan.inv.Total = realized
	if inv.PromotionID != nil && realized > 0 {
		promo, err := f.Promotions.PromotionByID(ctx, *inv.PromotionID)
		switch {
		case err == nil:
			_, plan.inv.Total = pricing.ApplyDiscount(realized, promo.Discount.Decimal)
		case errors.Is(err, repository.ErrNotFound):
			f.log.WithField("invoice_id", inv.ID).Warn("promotion of invoice no longer exists, charging base total")
		default:
			return fmt.Errorf("load promotion: %w", err)
		}
	}
	snackQty := lo.SumBy(lines, func(l model.BookingSnack) int { return l.Quantity })
	return f.settle(ctx, tx, plan, len(tickets), snackQty, now)
}

// settle marks the invoice Paid, credits loyalty points and classifies the
// result.
func (f *Finalizer) settle(ctx context.Context, tx Tx, plan *finalization, tickets, snackQty int, now time.Time) error {
	plan.inv.Status = model.InvoicePaid
	plan.inv.UpdatedAt = now
	if err := tx.UpdateInvoice(ctx, plan.inv); err != nil {
		return fmt.Errorf("update invoice: %w", err)
	}
	award, err := f.Ledger.AwardPoints(ctx, tx, plan.inv, tickets, snackQty)
	if err != nil {
		return fmt.Errorf("award points: %w", err)
	}
	plan.award = award
	switch {
	case tickets == 0:
		plan.result = ResultRefundRequired
	case len(plan.dropped) > 0:
		plan.result = ResultPartial
	default:
		plan.result = ResultPaid
	}
	return nil
}

// mintTickets builds Paid tickets for free seats.  A seat that still had
// this invoice's hold keeps the hold's id and price; otherwise the price
// comes from the catalog.
func (f *Finalizer) mintTickets(ctx context.Context, invoiceID string, showtimeID uint64, free []uint64, holds map[uint64]model.Ticket, now time.Time) ([]model.Ticket, error) {
	var unpriced []uint64
	for _, id := range free {
		if _, ok := holds[id]; !ok {
			unpriced = append(unpriced, id)
		}
	}
	prices := map[uint64]int64{}
	if len(unpriced) > 0 {
		st, err := f.Catalog.Showtime(ctx, showtimeID)
		if err != nil {
			return nil, fmt.Errorf("load showtime: %w", err)
		}
		seats, err := f.Catalog.SeatsByIDs(ctx, st.RoomID, unpriced)
		if err != nil {
			return nil, fmt.Errorf("load seats: %w", err)
		}
		for _, s := range seats {
			prices[s.ID] = seatPrice(s, st)
		}
	}

	tickets := make([]model.Ticket, 0, len(free))
	for _, seatID := range free {
		t := model.Ticket{
			InvoiceID:  invoiceID,
			ShowtimeID: showtimeID,
			SeatID:     seatID,
			Status:     model.TicketPaid,
			CreatedAt:  now,
		}
		if h, ok := holds[seatID]; ok {
			t.ID, t.Price = h.ID, h.Price
		} else {
			id, err := f.IDs.Next(ctx, idgen.Ticket)
			if err != nil {
				return nil, err
			}
			t.ID, t.Price = id, prices[seatID]
		}
		tickets = append(tickets, t)
	}
	return tickets, nil
}

func (f *Finalizer) mintSnackLines(ctx context.Context, invoiceID string, snacks []model.SnackChoice) ([]model.BookingSnack, error) {
	if len(snacks) == 0 {
		return nil, nil
	}
	found, err := f.Catalog.SnacksByIDs(ctx, lo.Map(snacks, func(c model.SnackChoice, _ int) uint64 { return c.SnackID }))
	if err != nil {
		return nil, fmt.Errorf("load snacks: %w", err)
	}
	byID := lo.KeyBy(found, func(s model.Snack) uint64 { return s.ID })
	lines := make([]model.BookingSnack, 0, len(snacks))
	for _, c := range snacks {
		sn, ok := byID[c.SnackID]
		if !ok {
			f.log.WithFields(logrus.Fields{"invoice_id": invoiceID, "snack_id": c.SnackID}).
				Warn("snack no longer in catalog, line skipped")
			continue
		}
		id, err := f.IDs.Next(ctx, idgen.SnackLine)
		if err != nil {
			return nil, err
		}
		qty := max(c.Quantity, 1)
		lines = append(lines, model.BookingSnack{
			ID:        id,
			InvoiceID: invoiceID,
			SnackID:   sn.ID,
			Quantity:  qty,
			Total:     pricing.SnackTotal(sn.Price, qty),
		})
	}
	return lines, nil
}

// Fail records a failed or unverifiable payment.  A Pending invoice becomes
// Failed and loses its tickets and snack lines; the invoice row itself is
// kept.  Paid and Failed invoices are left alone.
func (f *Finalizer) Fail(ctx context.Context, cb payment.Callback) (Outcome, error) {
	log := f.log.WithFields(logrus.Fields{
		"invoice_id":      cb.TxnRef,
		"response_code":   cb.ResponseCode,
		"signature_valid": cb.SignatureValid,
	})
	auditID, err := f.IDs.Next(ctx, idgen.PaymentTxn)
	if err != nil {
		return Outcome{}, err
	}
	now := f.now()

	tx, err := f.Begin(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	inv, err := tx.LockInvoice(ctx, cb.TxnRef)
	if err != nil {
		return Outcome{InvoiceID: cb.TxnRef}, invoiceErr(err)
	}
	if _, err := tx.InsertPaymentTransaction(ctx, transactionRow(auditID, cb, now)); err != nil {
		return Outcome{}, fmt.Errorf("record payment transaction: %w", err)
	}
	out := Outcome{InvoiceID: inv.ID, Status: inv.Status, Total: inv.Total, Result: ResultIgnored}
	if inv.Status != model.InvoicePending {
		if err := tx.Commit(); err != nil {
			return Outcome{}, fmt.Errorf("commit: %w", err)
		}
		committed = true
		log.WithField("status", inv.Status.String()).Info("failure callback for settled invoice ignored")
		return out, nil
	}

	released, err := tx.DeleteInvoiceTickets(ctx, inv.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("release tickets: %w", err)
	}
	if _, err := tx.DeleteSnackLines(ctx, inv.ID); err != nil {
		return Outcome{}, fmt.Errorf("delete snack lines: %w", err)
	}
	inv.Status = model.InvoiceFailed
	inv.UpdatedAt = now
	if err := tx.UpdateInvoice(ctx, inv); err != nil {
		return Outcome{}, fmt.Errorf("update invoice: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Outcome{}, fmt.Errorf("commit: %w", err)
	}
	committed = true

	if err := f.Selections.Delete(ctx, inv.ID); err != nil {
		log.WithError(err).Warn("could not delete pending selection")
	}
	ev := queue.BookingFailedEvent{
		InvoiceID:       inv.ID,
		UserID:          inv.UserID,
		ResponseCode:    cb.ResponseCode,
		SignatureValid:  cb.SignatureValid,
		ReleasedTickets: released,
		FailedAt:        now.UTC().Format(time.RFC3339),
	}
	if err := f.publisher.PublishBookingFailed(ctx, ev); err != nil {
		log.WithError(err).Warn("publish booking.failed")
	}
	log.WithField("released", released).Info("payment failed, seats released")

	out.Status = inv.Status
	out.Result = ResultFailed
	return out, nil
}

func (f *Finalizer) publishPaid(ctx context.Context, plan finalization, showtimeID uint64, log logrus.FieldLogger) {
	if showtimeID == 0 && len(plan.tickets) > 0 {
		showtimeID = plan.tickets[0].ShowtimeID
	}
	ev := queue.BookingPaidEvent{
		InvoiceID:      plan.inv.ID,
		UserID:         plan.inv.UserID,
		ShowtimeID:     showtimeID,
		TicketIDs:      lo.Map(plan.tickets, func(t model.Ticket, _ int) string { return t.ID }),
		SeatIDs:        lo.Map(plan.tickets, func(t model.Ticket, _ int) uint64 { return t.SeatID }),
		DroppedSeatIDs: plan.dropped,
		Total:          plan.inv.Total,
		PointsAwarded:  plan.award.Points,
		PaidAt:         plan.inv.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if err := f.publisher.PublishBookingPaid(ctx, ev); err != nil {
		log.WithError(err).Warn("publish booking.paid")
	}
}

func (f *Finalizer) publishRefund(ctx context.Context, plan finalization, cb payment.Callback, log logrus.FieldLogger) {
	reason := "seats lost to a concurrent booking"
	if plan.inv.Status == model.InvoiceFailed {
		reason = "payment confirmed for a failed invoice"
	}
	ev := queue.RefundRequiredEvent{
		InvoiceID:      plan.inv.ID,
		UserID:         plan.inv.UserID,
		GatewayTxnNo:   cb.GatewayTxnNo,
		CapturedAmount: cb.Amount,
		RefundAmount:   plan.refund,
		DroppedSeatIDs: plan.dropped,
		Reason:         reason,
		RaisedAt:       f.now().UTC().Format(time.RFC3339),
	}
	if err := f.publisher.PublishRefundRequired(ctx, ev); err != nil {
		log.WithError(err).Warn("publish booking.refund_required")
	}
	log.WithFields(logrus.Fields{"refund": plan.refund, "reason": reason}).Warn("refund required")
}

func transactionRow(id string, cb payment.Callback, now time.Time) model.PaymentTransaction {
	return model.PaymentTransaction{
		ID:                id,
		InvoiceID:         cb.TxnRef,
		Amount:            cb.Amount,
		BankCode:          cb.BankCode,
		GatewayTxnNo:      cb.GatewayTxnNo,
		ResponseCode:      cb.ResponseCode,
		TransactionStatus: cb.TransactionStatus,
		SignatureValid:    cb.SignatureValid,
		PaidAt:            cb.PaidAt,
		CreatedAt:         now,
	}
}
