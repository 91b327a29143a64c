package booking

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/cinema-ticket-checkout/internal/idgen"
	"github.com/iliyamo/cinema-ticket-checkout/internal/model"
	"github.com/iliyamo/cinema-ticket-checkout/internal/queue"
	"github.com/iliyamo/cinema-ticket-checkout/internal/repository"
)

// tables is the mutable part of the fake database.
type tables struct {
	invoices map[string]model.Invoice
	tickets  map[string]model.Ticket
	snacks   map[string]model.BookingSnack
	payments map[string]model.PaymentTransaction
	users    map[uint64]model.User
	points   map[string]model.PointsEntry
}

func newTables() tables {
	return tables{
		invoices: map[string]model.Invoice{},
		tickets:  map[string]model.Ticket{},
		snacks:   map[string]model.BookingSnack{},
		payments: map[string]model.PaymentTransaction{},
		users:    map[uint64]model.User{},
		points:   map[string]model.PointsEntry{},
	}
}

func (t tables) clone() tables {
	return tables{
		invoices: maps.Clone(t.invoices),
		tickets:  maps.Clone(t.tickets),
		snacks:   maps.Clone(t.snacks),
		payments: maps.Clone(t.payments),
		users:    maps.Clone(t.users),
		points:   maps.Clone(t.points),
	}
}

// fakeDB is an in-memory stand-in for MySQL.  Transactions work on a
// snapshot taken at begin and apply their changes at commit, where the
// unique (showtime, seat) constraint is checked against whatever other
// transactions committed in the meantime.
type fakeDB struct {
	mu sync.Mutex
	tables

	ranks     []model.Rank
	showtimes map[uint64]model.Showtime
	seats     map[uint64]model.Seat
	catalog   map[uint64]model.Snack
	promos    map[uint64]model.Promotion

	// beforeCommit runs once, just before the next commit is applied.
	beforeCommit func(db *fakeDB)
	// failInsert, when set, is returned once by the next InsertTickets.
	failInsert error
	commits    int
	conflicts  int
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		tables:    newTables(),
		showtimes: map[uint64]model.Showtime{},
		seats:     map[uint64]model.Seat{},
		catalog:   map[uint64]model.Snack{},
		promos:    map[uint64]model.Promotion{},
	}
}

func (db *fakeDB) begin(context.Context) (Tx, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return &fakeTx{db: db, base: db.tables.clone(), work: db.tables.clone()}, nil
}

func applyDiff[K comparable, V any](dst, base, work map[K]V) {
	for k := range base {
		if _, ok := work[k]; !ok {
			delete(dst, k)
		}
	}
	for k, v := range work {
		if b, ok := base[k]; !ok || !reflect.DeepEqual(b, v) {
			dst[k] = v
		}
	}
}

type seatKey struct{ showtime, seat uint64 }

func duplicateSeat(tickets map[string]model.Ticket) bool {
	seen := map[seatKey]bool{}
	for _, t := range tickets {
		k := seatKey{t.ShowtimeID, t.SeatID}
		if seen[k] {
			return true
		}
		seen[k] = true
	}
	return false
}

// snapshot returns a copy of the committed tables.
func (db *fakeDB) snapshot() tables {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.tables.clone()
}

func (db *fakeDB) invoiceTickets(invoiceID string) []model.Ticket {
	var out []model.Ticket
	for _, t := range db.snapshot().tickets {
		if t.InvoiceID == invoiceID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SeatID < out[j].SeatID })
	return out
}

type fakeTx struct {
	db   *fakeDB
	base tables
	work tables
	done bool
}

var errTxDone = errors.New("transaction already finished")

func (tx *fakeTx) Commit() error {
	db := tx.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if tx.done {
		return errTxDone
	}
	tx.done = true
	if hook := db.beforeCommit; hook != nil {
		db.beforeCommit = nil
		hook(db)
	}
	backup := db.tables.clone()
	applyDiff(db.invoices, tx.base.invoices, tx.work.invoices)
	applyDiff(db.tickets, tx.base.tickets, tx.work.tickets)
	applyDiff(db.snacks, tx.base.snacks, tx.work.snacks)
	applyDiff(db.payments, tx.base.payments, tx.work.payments)
	applyDiff(db.users, tx.base.users, tx.work.users)
	applyDiff(db.points, tx.base.points, tx.work.points)
	if duplicateSeat(db.tickets) {
		db.tables = backup
		db.conflicts++
		return fmt.Errorf("%w: duplicate (showtime, seat)", repository.ErrConflict)
	}
	db.commits++
	return nil
}

func (tx *fakeTx) Rollback() error {
	tx.done = true
	return nil
}

func (tx *fakeTx) LockInvoice(_ context.Context, id string) (model.Invoice, error) {
	inv, ok := tx.work.invoices[id]
	if !ok {
		return model.Invoice{}, repository.ErrNotFound
	}
	return inv, nil
}

func (tx *fakeTx) InsertInvoice(_ context.Context, inv model.Invoice) error {
	if _, ok := tx.work.invoices[inv.ID]; ok {
		return fmt.Errorf("%w: %w: invoice %s", repository.ErrConflict, repository.ErrDuplicateID, inv.ID)
	}
	tx.work.invoices[inv.ID] = inv
	return nil
}

func (tx *fakeTx) UpdateInvoice(_ context.Context, inv model.Invoice) error {
	if _, ok := tx.work.invoices[inv.ID]; !ok {
		return repository.ErrNotFound
	}
	tx.work.invoices[inv.ID] = inv
	return nil
}

func (tx *fakeTx) PurgeLapsedHolds(_ context.Context, showtimeID uint64, now time.Time) (int64, error) {
	var n int64
	for id, t := range tx.work.tickets {
		if t.ShowtimeID == showtimeID && t.Status == model.TicketPending && t.ExpiresAt != nil && !t.ExpiresAt.After(now) {
			delete(tx.work.tickets, id)
			n++
		}
	}
	return n, nil
}

func (tx *fakeTx) SeatTickets(_ context.Context, showtimeID uint64, seatIDs []uint64, _ bool) ([]model.Ticket, error) {
	want := map[uint64]bool{}
	for _, id := range seatIDs {
		want[id] = true
	}
	var out []model.Ticket
	for _, t := range tx.work.tickets {
		if t.ShowtimeID == showtimeID && want[t.SeatID] {
			out = append(out, t)
		}
	}
	return out, nil
}

func (tx *fakeTx) TicketsByInvoice(_ context.Context, invoiceID string) ([]model.Ticket, error) {
	var out []model.Ticket
	for _, t := range tx.work.tickets {
		if t.InvoiceID == invoiceID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SeatID < out[j].SeatID })
	return out, nil
}

// errLockConflict is what a deadlock on the seat index maps to.
var errLockConflict = fmt.Errorf("%w: Error 1213: Deadlock found when trying to get lock", repository.ErrConflict)

func (tx *fakeTx) InsertTickets(_ context.Context, tickets []model.Ticket) error {
	tx.db.mu.Lock()
	fail := tx.db.failInsert
	tx.db.failInsert = nil
	tx.db.mu.Unlock()
	if fail != nil {
		return fail
	}
	for _, t := range tickets {
		if _, ok := tx.work.tickets[t.ID]; ok {
			return fmt.Errorf("%w: %w: ticket %s", repository.ErrConflict, repository.ErrDuplicateID, t.ID)
		}
		for _, other := range tx.work.tickets {
			if other.ShowtimeID == t.ShowtimeID && other.SeatID == t.SeatID {
				return fmt.Errorf("%w: seat %d", repository.ErrConflict, t.SeatID)
			}
		}
		tx.work.tickets[t.ID] = t
	}
	return nil
}

func (tx *fakeTx) deleteTickets(invoiceID string, keep func(model.Ticket) bool) int64 {
	var n int64
	for id, t := range tx.work.tickets {
		if t.InvoiceID == invoiceID && !keep(t) {
			delete(tx.work.tickets, id)
			n++
		}
	}
	return n
}

func (tx *fakeTx) DeletePendingTickets(_ context.Context, invoiceID string) (int64, error) {
	return tx.deleteTickets(invoiceID, func(t model.Ticket) bool { return t.Status != model.TicketPending }), nil
}

func (tx *fakeTx) DeleteInvoiceTickets(_ context.Context, invoiceID string) (int64, error) {
	return tx.deleteTickets(invoiceID, func(model.Ticket) bool { return false }), nil
}

func (tx *fakeTx) InsertSnackLines(_ context.Context, lines []model.BookingSnack) error {
	for _, l := range lines {
		if _, ok := tx.work.snacks[l.ID]; ok {
			return fmt.Errorf("%w: %w: snack line %s", repository.ErrConflict, repository.ErrDuplicateID, l.ID)
		}
		tx.work.snacks[l.ID] = l
	}
	return nil
}

func (tx *fakeTx) DeleteSnackLines(_ context.Context, invoiceID string) (int64, error) {
	var n int64
	for id, l := range tx.work.snacks {
		if l.InvoiceID == invoiceID {
			delete(tx.work.snacks, id)
			n++
		}
	}
	return n, nil
}

func (tx *fakeTx) InsertPaymentTransaction(_ context.Context, p model.PaymentTransaction) (bool, error) {
	for _, q := range tx.work.payments {
		if q.InvoiceID == p.InvoiceID && q.GatewayTxnNo == p.GatewayTxnNo && q.ResponseCode == p.ResponseCode {
			return false, nil
		}
	}
	tx.work.payments[p.ID] = p
	return true, nil
}

func pointsKey(invoiceID string, userID uint64) string {
	return fmt.Sprintf("%s/%d", invoiceID, userID)
}

func (tx *fakeTx) PointsAwarded(_ context.Context, invoiceID string, userID uint64) (bool, error) {
	_, ok := tx.work.points[pointsKey(invoiceID, userID)]
	return ok, nil
}

func (tx *fakeTx) UserForUpdate(_ context.Context, userID uint64) (model.User, model.Rank, error) {
	u, ok := tx.work.users[userID]
	if !ok {
		return model.User{}, model.Rank{}, repository.ErrNotFound
	}
	for _, r := range tx.db.ranks {
		if r.ID == u.RankID {
			return u, r, nil
		}
	}
	return model.User{}, model.Rank{}, repository.ErrNotFound
}

func (tx *fakeTx) InsertPointsEntry(_ context.Context, e model.PointsEntry) error {
	k := pointsKey(e.InvoiceID, e.UserID)
	if _, ok := tx.work.points[k]; ok {
		return repository.ErrConflict
	}
	tx.work.points[k] = e
	return nil
}

func (tx *fakeTx) AddPoints(_ context.Context, userID uint64, points int64) (int64, error) {
	u := tx.work.users[userID]
	u.Points += points
	tx.work.users[userID] = u
	return u.Points, nil
}

func (tx *fakeTx) RankForPoints(_ context.Context, points int64) (model.Rank, error) {
	var best *model.Rank
	for i, r := range tx.db.ranks {
		if r.MinPoints <= points && (best == nil || r.MinPoints > best.MinPoints) {
			best = &tx.db.ranks[i]
		}
	}
	if best == nil {
		return model.Rank{}, repository.ErrNotFound
	}
	return *best, nil
}

func (tx *fakeTx) SetUserRank(_ context.Context, userID, rankID uint64) error {
	u := tx.work.users[userID]
	u.RankID = rankID
	tx.work.users[userID] = u
	return nil
}

// Catalog, TicketReader, Invoices and Promotions over committed state.

func (db *fakeDB) Showtime(_ context.Context, id uint64) (model.Showtime, error) {
	st, ok := db.showtimes[id]
	if !ok {
		return model.Showtime{}, repository.ErrNotFound
	}
	return st, nil
}

func (db *fakeDB) SeatsByIDs(_ context.Context, roomID uint64, ids []uint64) ([]model.Seat, error) {
	var out []model.Seat
	for _, id := range ids {
		if s, ok := db.seats[id]; ok && s.RoomID == roomID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (db *fakeDB) RoomSeats(_ context.Context, roomID uint64) ([]model.Seat, error) {
	var out []model.Seat
	for _, s := range db.seats {
		if s.RoomID == roomID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (db *fakeDB) SnacksByIDs(_ context.Context, ids []uint64) ([]model.Snack, error) {
	var out []model.Snack
	for _, id := range ids {
		if s, ok := db.catalog[id]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (db *fakeDB) ShowtimeTickets(_ context.Context, showtimeID uint64, seatIDs []uint64) ([]model.Ticket, error) {
	want := map[uint64]bool{}
	for _, id := range seatIDs {
		want[id] = true
	}
	var out []model.Ticket
	for _, t := range db.snapshot().tickets {
		if t.ShowtimeID == showtimeID && want[t.SeatID] {
			out = append(out, t)
		}
	}
	return out, nil
}

func (db *fakeDB) Invoice(_ context.Context, id string) (model.Invoice, error) {
	inv, ok := db.snapshot().invoices[id]
	if !ok {
		return model.Invoice{}, repository.ErrNotFound
	}
	return inv, nil
}

func (db *fakeDB) InvoiceDetail(ctx context.Context, id string) (model.InvoiceDetail, error) {
	inv, err := db.Invoice(ctx, id)
	if err != nil {
		return model.InvoiceDetail{}, err
	}
	d := model.InvoiceDetail{Invoice: inv, Tickets: db.invoiceTickets(id)}
	for _, l := range db.snapshot().snacks {
		if l.InvoiceID == id {
			d.Snacks = append(d.Snacks, l)
		}
	}
	return d, nil
}

func (db *fakeDB) PromotionByCode(_ context.Context, code string) (model.Promotion, error) {
	for _, p := range db.promos {
		if p.Code == code {
			return p, nil
		}
	}
	return model.Promotion{}, repository.ErrNotFound
}

func (db *fakeDB) PromotionByID(_ context.Context, id uint64) (model.Promotion, error) {
	p, ok := db.promos[id]
	if !ok {
		return model.Promotion{}, repository.ErrNotFound
	}
	return p, nil
}

// idgen.Store

func (db *fakeDB) MaxSequence(context.Context, idgen.Class, string) (int64, error) { return 0, nil }

func (db *fakeDB) Exists(_ context.Context, class idgen.Class, id string) (bool, error) {
	s := db.snapshot()
	var ok bool
	switch class {
	case idgen.Invoice:
		_, ok = s.invoices[id]
	case idgen.Ticket:
		_, ok = s.tickets[id]
	case idgen.SnackLine:
		_, ok = s.snacks[id]
	case idgen.PaymentTxn:
		_, ok = s.payments[id]
	}
	return ok, nil
}

type recordingPublisher struct {
	mu      sync.Mutex
	paid    []queue.BookingPaidEvent
	failed  []queue.BookingFailedEvent
	refunds []queue.RefundRequiredEvent
}

func (p *recordingPublisher) PublishBookingPaid(_ context.Context, ev queue.BookingPaidEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paid = append(p.paid, ev)
	return nil
}

func (p *recordingPublisher) PublishBookingFailed(_ context.Context, ev queue.BookingFailedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed = append(p.failed, ev)
	return nil
}

func (p *recordingPublisher) PublishRefundRequired(_ context.Context, ev queue.RefundRequiredEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refunds = append(p.refunds, ev)
	return nil
}
