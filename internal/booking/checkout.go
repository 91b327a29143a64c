// Package booking implements seat holds, checkout and payment finalization.
//
// A hold is a Pending ticket row with an expiry.  Checkout creates a Pending
// invoice, one hold per seat and a pending selection, then hands the
// customer a signed payment URL.  The finalizer turns the gateway callback
// into Paid tickets, or into a Failed invoice with its seats released.  The
// unique (showtime, seat) index on tickets is what keeps two customers off
// the same seat; every availability check here only narrows the race.
package booking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/cinema-ticket-checkout/internal/idgen"
	"github.com/iliyamo/cinema-ticket-checkout/internal/metrics"
	"github.com/iliyamo/cinema-ticket-checkout/internal/model"
	"github.com/iliyamo/cinema-ticket-checkout/internal/payment"
	"github.com/iliyamo/cinema-ticket-checkout/internal/pending"
	"github.com/iliyamo/cinema-ticket-checkout/internal/pricing"
	"github.com/iliyamo/cinema-ticket-checkout/internal/repository"
)

const (
	defaultHoldTTL      = 15 * time.Minute
	defaultSelectionTTL = 24 * time.Hour

	// MaxSnackQuantity caps one snack line after duplicate lines are merged.
	MaxSnackQuantity = 20

	// holdAttempts bounds how often checkout mints fresh identifiers after
	// another writer took one first.
	holdAttempts = 3
)

// Config holds the checkout timings.
type Config struct {
	HoldTTL      time.Duration
	SelectionTTL time.Duration
	// Location is the local time zone promotions are validated in.
	Location *time.Location
}

func (c *Config) setDefaults() {
	if c.HoldTTL <= 0 {
		c.HoldTTL = defaultHoldTTL
	}
	if c.SelectionTTL <= 0 {
		c.SelectionTTL = defaultSelectionTTL
	}
	if c.Location == nil {
		c.Location = time.Local
	}
}

// Option customises a Service or a Finalizer.
type Option func(*options)

type options struct {
	now       func() time.Time
	log       logrus.FieldLogger
	publisher Publisher
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) { o.log = l }
}

// WithPublisher sets where booking events go.  Only the Finalizer publishes.
func WithPublisher(p Publisher) Option {
	return func(o *options) { o.publisher = p }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, log: logrus.StandardLogger(), publisher: nopPublisher{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.log == nil {
		o.log = logrus.StandardLogger()
	}
	if o.publisher == nil {
		o.publisher = nopPublisher{}
	}
	return o
}

// Deps are the collaborators of the checkout service.
type Deps struct {
	Begin      BeginFunc
	Catalog    Catalog
	Invoices   Invoices
	Promotions Promotions
	IDs        IDs
	Selections pending.Store
	Gateway    Signer
}

// Service starts checkouts and manages Pending invoices.
type Service struct {
	Deps
	cfg    Config
	engine *pricing.Engine
	options
}

// NewService returns a checkout Service.
func NewService(deps Deps, cfg Config, opts ...Option) *Service {
	cfg.setDefaults()
	return &Service{
		Deps:    deps,
		cfg:     cfg,
		engine:  pricing.NewEngine(deps.Promotions),
		options: buildOptions(opts),
	}
}

// CheckoutRequest is a customer's seat and snack selection.
type CheckoutRequest struct {
	UserID        uint64
	ShowtimeID    uint64
	SeatIDs       []uint64
	Snacks        []model.SnackChoice
	PromotionCode string
	ClientIP      string
}

// CheckoutResult is a created Pending invoice and where to pay it.
type CheckoutResult struct {
	Invoice       model.Invoice  `json:"invoice"`
	Tickets       []model.Ticket `json:"tickets"`
	Quote         pricing.Quote  `json:"quote"`
	Discount      int64          `json:"discount"`
	HoldExpiresAt time.Time      `json:"hold_expires_at"`
	PaymentURL    string         `json:"payment_url"`
}

// BeginCheckout validates and prices the selection, holds the seats, stores
// the pending selection and returns the signed payment URL.
//
// Validation failures are *ValidationError and seats that are already held
// or sold are *ConflictError; in both cases nothing is written.
func (s *Service) BeginCheckout(ctx context.Context, req CheckoutRequest) (CheckoutResult, error) {
	res, err := s.beginCheckout(ctx, req)
	var (
		verr *ValidationError
		cerr *ConflictError
	)
	switch {
	case err == nil:
		metrics.CheckoutTotal.WithLabelValues("ok").Inc()
	case errors.As(err, &verr):
		metrics.CheckoutTotal.WithLabelValues("invalid").Inc()
	case errors.As(err, &cerr):
		metrics.CheckoutTotal.WithLabelValues("conflict").Inc()
		metrics.SeatConflictsTotal.WithLabelValues("checkout").Add(float64(len(cerr.SeatIDs)))
	default:
		metrics.CheckoutTotal.WithLabelValues("error").Inc()
	}
	return res, err
}

func (s *Service) beginCheckout(ctx context.Context, req CheckoutRequest) (CheckoutResult, error) {
	now := s.now()
	if req.UserID == 0 {
		return CheckoutResult{}, invalid("missing customer")
	}
	if req.ShowtimeID == 0 {
		return CheckoutResult{}, invalid("missing showtime")
	}
	seatIDs, err := normalizeSeats(req.SeatIDs)
	if err != nil {
		return CheckoutResult{}, err
	}
	snacks, err := normalizeSnacks(req.Snacks)
	if err != nil {
		return CheckoutResult{}, err
	}

	st, err := s.Catalog.Showtime(ctx, req.ShowtimeID)
	if errors.Is(err, repository.ErrNotFound) {
		return CheckoutResult{}, invalid("showtime %d not found", req.ShowtimeID)
	}
	if err != nil {
		return CheckoutResult{}, fmt.Errorf("load showtime: %w", err)
	}
	if !now.Before(st.StartsAt) {
		return CheckoutResult{}, invalid("showtime %d has already started", st.ID)
	}

	seats, err := s.Catalog.SeatsByIDs(ctx, st.RoomID, seatIDs)
	if err != nil {
		return CheckoutResult{}, fmt.Errorf("load seats: %w", err)
	}
	if missing, _ := lo.Difference(seatIDs, lo.Map(seats, func(x model.Seat, _ int) uint64 { return x.ID })); len(missing) > 0 {
		return CheckoutResult{}, invalid("unknown seats %v for showtime %d", missing, st.ID)
	}
	snackLines, err := s.snackLines(ctx, snacks)
	if err != nil {
		return CheckoutResult{}, err
	}

	quote := pricing.ComputeBaseTotal(
		lo.Map(seats, func(x model.Seat, _ int) pricing.SeatLine {
			return pricing.SeatLine{SeatID: x.ID, BasePrice: x.SeatTypePrice}
		}),
		snackLines,
		st.PriceAdjustmentPercent,
	)

	var promo *model.Promotion
	discount, payable := int64(0), quote.Total
	if req.PromotionCode != "" {
		p, err := s.validatePromotion(ctx, req.PromotionCode, now)
		if err != nil {
			return CheckoutResult{}, err
		}
		promo = &p
		discount, payable = pricing.ApplyDiscount(quote.Total, p.Discount.Decimal)
	}
	if payable <= 0 {
		return CheckoutResult{}, invalid("payable total must be positive")
	}

	expiresAt := now.Add(s.cfg.HoldTTL)
	var (
		inv   model.Invoice
		holds []model.Ticket
	)
	for attempt := 1; ; attempt++ {
		inv, holds, err = s.mintHolds(ctx, req.UserID, st.ID, seatIDs, quote, payable, promo, now, expiresAt)
		if err != nil {
			return CheckoutResult{}, err
		}
		err = s.placeHolds(ctx, inv, st.ID, seatIDs, holds, now)
		if errors.Is(err, repository.ErrDuplicateID) && attempt < holdAttempts {
			s.log.WithError(err).WithField("invoice_id", inv.ID).Warn("identifier already taken, minting new ones")
			continue
		}
		if err != nil {
			return CheckoutResult{}, err
		}
		break
	}
	invoiceID := inv.ID

	log := s.log.WithFields(logrus.Fields{"invoice_id": invoiceID, "showtime_id": st.ID, "user_id": req.UserID})
	sel := model.PendingSelection{
		InvoiceID:  invoiceID,
		UserID:     req.UserID,
		ShowtimeID: st.ID,
		SeatIDs:    seatIDs,
		Snacks:     snacks,
	}
	if err := s.Selections.Save(ctx, sel, s.cfg.SelectionTTL); err != nil {
		s.abandon(ctx, inv.ID, log)
		return CheckoutResult{}, fmt.Errorf("save pending selection: %w", err)
	}

	url, err := s.paymentURL(inv, req.ClientIP, now)
	if err != nil {
		s.abandon(ctx, inv.ID, log)
		_ = s.Selections.Delete(ctx, inv.ID)
		return CheckoutResult{}, err
	}

	log.WithFields(logrus.Fields{"seats": seatIDs, "total": inv.Total}).Info("checkout started")
	return CheckoutResult{
		Invoice:       inv,
		Tickets:       holds,
		Quote:         quote,
		Discount:      discount,
		HoldExpiresAt: expiresAt,
		PaymentURL:    url,
	}, nil
}

// mintHolds issues the invoice and hold ticket identifiers for one attempt
// at placing the holds.
func (s *Service) mintHolds(ctx context.Context, userID, showtimeID uint64, seatIDs []uint64, quote pricing.Quote, payable int64, promo *model.Promotion, now, expiresAt time.Time) (model.Invoice, []model.Ticket, error) {
	invoiceID, err := s.IDs.Next(ctx, idgen.Invoice)
	if err != nil {
		return model.Invoice{}, nil, err
	}
	inv := model.Invoice{
		ID:            invoiceID,
		UserID:        userID,
		Total:         payable,
		OriginalTotal: quote.Total,
		Status:        model.InvoicePending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if promo != nil {
		inv.PromotionID = &promo.ID
	}
	holds := make([]model.Ticket, 0, len(seatIDs))
	for _, seatID := range seatIDs {
		id, err := s.IDs.Next(ctx, idgen.Ticket)
		if err != nil {
			return model.Invoice{}, nil, err
		}
		exp := expiresAt
		holds = append(holds, model.Ticket{
			ID:         id,
			InvoiceID:  invoiceID,
			ShowtimeID: showtimeID,
			SeatID:     seatID,
			Status:     model.TicketPending,
			Price:      quote.SeatPrices[seatID],
			CreatedAt:  now,
			ExpiresAt:  &exp,
		})
	}
	return inv, holds, nil
}

// placeHolds writes the invoice and its holds in one transaction after
// dropping lapsed holds of the showtime.
func (s *Service) placeHolds(ctx context.Context, inv model.Invoice, showtimeID uint64, seatIDs []uint64, holds []model.Ticket, now time.Time) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.PurgeLapsedHolds(ctx, showtimeID, now); err != nil {
		return fmt.Errorf("purge lapsed holds: %w", err)
	}
	existing, err := tx.SeatTickets(ctx, showtimeID, seatIDs, true)
	if err != nil {
		return fmt.Errorf("check seats: %w", err)
	}
	if blocked := BlockedSeats(existing, seatIDs, now); len(blocked) > 0 {
		return &ConflictError{ShowtimeID: showtimeID, SeatIDs: blocked}
	}
	if err := tx.InsertInvoice(ctx, inv); err != nil {
		return fmt.Errorf("insert invoice: %w", err)
	}
	if err := tx.InsertTickets(ctx, holds); err != nil {
		return holdErr(showtimeID, seatIDs, "insert holds", err)
	}
	if err := tx.Commit(); err != nil {
		return holdErr(showtimeID, seatIDs, "commit", err)
	}
	committed = true
	return nil
}

// holdErr turns a lost race on the seat index, or a deadlock on its gap
// locks, into a ConflictError for the requested seats.  A taken identifier
// is passed through so that the caller can mint new ones.
func holdErr(showtimeID uint64, seatIDs []uint64, op string, err error) error {
	if errors.Is(err, repository.ErrConflict) && !errors.Is(err, repository.ErrDuplicateID) {
		return &ConflictError{ShowtimeID: showtimeID, SeatIDs: seatIDs}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// abandon fails a just-created invoice whose checkout could not complete
// and releases its holds.
func (s *Service) abandon(ctx context.Context, invoiceID string, log logrus.FieldLogger) {
	err := func() error {
		tx, err := s.Begin(ctx)
		if err != nil {
			return err
		}
		committed := false
		defer func() {
			if !committed {
				_ = tx.Rollback()
			}
		}()
		inv, err := tx.LockInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		if inv.Status != model.InvoicePending {
			return nil
		}
		if _, err := tx.DeleteInvoiceTickets(ctx, invoiceID); err != nil {
			return err
		}
		inv.Status = model.InvoiceFailed
		inv.UpdatedAt = s.now()
		if err := tx.UpdateInvoice(ctx, inv); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		committed = true
		return nil
	}()
	if err != nil {
		log.WithError(err).Error("could not release holds of abandoned checkout")
		return
	}
	log.Warn("checkout abandoned, holds released")
}

func (s *Service) validatePromotion(ctx context.Context, code string, now time.Time) (model.Promotion, error) {
	p, err := s.engine.ValidatePromotionCode(ctx, code, now.In(s.cfg.Location))
	var rejected *pricing.PromotionRejectedError
	if errors.As(err, &rejected) {
		return model.Promotion{}, &ValidationError{Reason: rejected.Reason}
	}
	return p, err
}

func (s *Service) snackLines(ctx context.Context, snacks []model.SnackChoice) ([]pricing.SnackLine, error) {
	if len(snacks) == 0 {
		return nil, nil
	}
	ids := lo.Map(snacks, func(c model.SnackChoice, _ int) uint64 { return c.SnackID })
	found, err := s.Catalog.SnacksByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load snacks: %w", err)
	}
	byID := lo.KeyBy(found, func(x model.Snack) uint64 { return x.ID })
	lines := make([]pricing.SnackLine, 0, len(snacks))
	for _, c := range snacks {
		sn, ok := byID[c.SnackID]
		if !ok {
			return nil, invalid("unknown snack %d", c.SnackID)
		}
		lines = append(lines, pricing.SnackLine{SnackID: sn.ID, UnitPrice: sn.Price, Quantity: c.Quantity})
	}
	return lines, nil
}

func (s *Service) paymentURL(inv model.Invoice, clientIP string, now time.Time) (string, error) {
	url, err := s.Gateway.BuildSignedRequest(payment.Request{
		TxnRef:    inv.ID,
		Amount:    inv.Total,
		OrderInfo: "Payment for invoice " + inv.ID,
		ClientIP:  clientIP,
		CreatedAt: now,
	})
	if err != nil {
		return "", fmt.Errorf("build payment url: %w", err)
	}
	return url, nil
}

// PromotionResult is a Pending invoice after a promotion was applied.
type PromotionResult struct {
	Invoice    model.Invoice `json:"invoice"`
	Discount   int64         `json:"discount"`
	PaymentURL string        `json:"payment_url"`
}

// ApplyPromotion applies code to the customer's Pending invoice, replacing
// any promotion applied before, and returns a fresh payment URL for the new
// total.
func (s *Service) ApplyPromotion(ctx context.Context, userID uint64, invoiceID, code, clientIP string) (PromotionResult, error) {
	now := s.now()
	promo, err := s.validatePromotion(ctx, code, now)
	if err != nil {
		return PromotionResult{}, err
	}

	tx, err := s.Begin(ctx)
	if err != nil {
		return PromotionResult{}, fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	inv, err := tx.LockInvoice(ctx, invoiceID)
	if err != nil {
		return PromotionResult{}, invoiceErr(err)
	}
	if inv.UserID != userID {
		return PromotionResult{}, repository.ErrForbidden
	}
	if inv.Status != model.InvoicePending {
		return PromotionResult{}, ErrInvoiceNotPending
	}
	discount, payable := pricing.ApplyDiscount(inv.OriginalTotal, promo.Discount.Decimal)
	if payable <= 0 {
		return PromotionResult{}, invalid("payable total must be positive")
	}
	inv.Total = payable
	inv.PromotionID = &promo.ID
	inv.UpdatedAt = now
	if err := tx.UpdateInvoice(ctx, inv); err != nil {
		return PromotionResult{}, fmt.Errorf("update invoice: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return PromotionResult{}, fmt.Errorf("commit: %w", err)
	}
	committed = true

	url, err := s.paymentURL(inv, clientIP, now)
	if err != nil {
		return PromotionResult{}, err
	}
	s.log.WithFields(logrus.Fields{"invoice_id": inv.ID, "promotion": promo.Code, "total": inv.Total}).
		Info("promotion applied")
	return PromotionResult{Invoice: inv, Discount: discount, PaymentURL: url}, nil
}

// PaymentURL re-issues the signed payment URL of the customer's Pending
// invoice with fresh timestamps.
func (s *Service) PaymentURL(ctx context.Context, userID uint64, invoiceID, clientIP string) (string, error) {
	inv, err := s.Invoices.Invoice(ctx, invoiceID)
	if err != nil {
		return "", invoiceErr(err)
	}
	if inv.UserID != userID {
		return "", repository.ErrForbidden
	}
	if inv.Status != model.InvoicePending {
		return "", ErrInvoiceNotPending
	}
	return s.paymentURL(inv, clientIP, s.now())
}

// Invoice returns the customer's invoice with its tickets and snack lines.
func (s *Service) Invoice(ctx context.Context, userID uint64, invoiceID string) (model.InvoiceDetail, error) {
	d, err := s.Invoices.InvoiceDetail(ctx, invoiceID)
	if err != nil {
		return model.InvoiceDetail{}, invoiceErr(err)
	}
	if d.UserID != userID {
		return model.InvoiceDetail{}, repository.ErrForbidden
	}
	return d, nil
}

func invoiceErr(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrInvoiceNotFound
	}
	return err
}

// normalizeSeats drops duplicates and keeps ids sorted so that holds are
// always written in the same order.
func normalizeSeats(ids []uint64) ([]uint64, error) {
	if len(ids) == 0 {
		return nil, invalid("no seats selected")
	}
	if lo.Contains(ids, 0) {
		return nil, invalid("invalid seat id 0")
	}
	out := lo.Uniq(ids)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// normalizeSnacks merges lines of the same snack, floors quantities at 1
// and rejects lines above MaxSnackQuantity.
func normalizeSnacks(in []model.SnackChoice) ([]model.SnackChoice, error) {
	var out []model.SnackChoice
	index := map[uint64]int{}
	for _, c := range in {
		if c.SnackID == 0 {
			return nil, invalid("invalid snack id 0")
		}
		if c.Quantity > MaxSnackQuantity {
			return nil, invalid("snack %d quantity %d exceeds %d", c.SnackID, c.Quantity, MaxSnackQuantity)
		}
		q := max(c.Quantity, 1)
		if i, ok := index[c.SnackID]; ok {
			out[i].Quantity += q
			if out[i].Quantity > MaxSnackQuantity {
				return nil, invalid("snack %d quantity %d exceeds %d", c.SnackID, out[i].Quantity, MaxSnackQuantity)
			}
			continue
		}
		index[c.SnackID] = len(out)
		out = append(out, model.SnackChoice{SnackID: c.SnackID, Quantity: q})
	}
	return out, nil
}

func seatPrice(s model.Seat, st model.Showtime) int64 {
	return pricing.SeatPrice(s.SeatTypePrice, st.PriceAdjustmentPercent)
}
