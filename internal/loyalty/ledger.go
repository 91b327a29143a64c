// Package loyalty credits membership points for paid invoices and moves
// customers up the rank ladder as their balance grows.
package loyalty

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/cinema-ticket-checkout/internal/metrics"
	"github.com/iliyamo/cinema-ticket-checkout/internal/model"
	"github.com/iliyamo/cinema-ticket-checkout/internal/repository"
)

// ErrNotPaid is returned when points are requested for an invoice that is
// not Paid.
var ErrNotPaid = errors.New("loyalty: invoice is not paid")

// Tx is the unit of work the ledger runs in.  It is the same transaction
// that marks the invoice Paid.
type Tx interface {
	// PointsAwarded reports whether a ledger entry exists for the pair.
	PointsAwarded(ctx context.Context, invoiceID string, userID uint64) (bool, error)
	// UserForUpdate locks the customer row and returns it with its rank.
	UserForUpdate(ctx context.Context, userID uint64) (model.User, model.Rank, error)
	// InsertPointsEntry appends a ledger entry; a duplicate (invoice, user)
	// fails with repository.ErrConflict.
	InsertPointsEntry(ctx context.Context, e model.PointsEntry) error
	// AddPoints increments the balance and returns the new value.
	AddPoints(ctx context.Context, userID uint64, points int64) (int64, error)
	// RankForPoints returns the highest rank whose threshold is at most
	// points, or repository.ErrNotFound.
	RankForPoints(ctx context.Context, points int64) (model.Rank, error)
	SetUserRank(ctx context.Context, userID, rankID uint64) error
}

// Award is the result of AwardPoints.
type Award struct {
	Points   int64
	Balance  int64
	Rank     model.Rank
	Upgraded bool
	// Duplicate is set when the invoice had already been credited.
	Duplicate bool
}

// Ledger awards points.
type Ledger struct {
	log logrus.FieldLogger
}

// NewLedger returns a Ledger.  A nil logger uses the standard logger.
func NewLedger(log logrus.FieldLogger) *Ledger {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Ledger{log: log}
}

// Earned computes the points an order earns at rank.
func Earned(rank model.Rank, tickets, snackQuantity int) int64 {
	return int64(tickets)*rank.PointsPerTicket + int64(snackQuantity)*rank.PointsPerCombo
}

// AwardPoints credits the invoice's owner for tickets and snackQuantity.
// It is idempotent per (invoice, user): a second call finds the ledger
// entry and returns with Duplicate set.
func (l *Ledger) AwardPoints(ctx context.Context, tx Tx, inv model.Invoice, tickets, snackQuantity int) (Award, error) {
	if inv.Status != model.InvoicePaid {
		return Award{}, ErrNotPaid
	}
	done, err := tx.PointsAwarded(ctx, inv.ID, inv.UserID)
	if err != nil {
		return Award{}, fmt.Errorf("check points history: %w", err)
	}
	if done {
		return Award{Duplicate: true}, nil
	}

	user, rank, err := tx.UserForUpdate(ctx, inv.UserID)
	if err != nil {
		return Award{}, fmt.Errorf("load customer %d: %w", inv.UserID, err)
	}
	earned := Earned(rank, tickets, snackQuantity)
	award := Award{Balance: user.Points, Rank: rank}
	if earned <= 0 {
		return award, nil
	}

	err = tx.InsertPointsEntry(ctx, model.PointsEntry{UserID: user.ID, InvoiceID: inv.ID, Points: earned})
	if errors.Is(err, repository.ErrConflict) {
		return Award{Duplicate: true}, nil
	}
	if err != nil {
		return Award{}, fmt.Errorf("insert points entry: %w", err)
	}
	balance, err := tx.AddPoints(ctx, user.ID, earned)
	if err != nil {
		return Award{}, fmt.Errorf("add points: %w", err)
	}
	award.Points = earned
	award.Balance = balance

	next, err := tx.RankForPoints(ctx, balance)
	switch {
	case errors.Is(err, repository.ErrNotFound):
	case err != nil:
		return Award{}, fmt.Errorf("resolve rank: %w", err)
	case next.ID != rank.ID && next.MinPoints > rank.MinPoints:
		if err := tx.SetUserRank(ctx, user.ID, next.ID); err != nil {
			return Award{}, fmt.Errorf("upgrade rank: %w", err)
		}
		award.Rank = next
		award.Upgraded = true
	}

	metrics.PointsAwardedTotal.Add(float64(earned))
	l.log.WithFields(logrus.Fields{
		"invoice_id": inv.ID,
		"user_id":    user.ID,
		"points":     earned,
		"balance":    balance,
		"rank":       award.Rank.Name,
	}).Info("loyalty points awarded")
	return award, nil
}
