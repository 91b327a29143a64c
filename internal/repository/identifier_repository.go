package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/cinema-ticket-checkout/internal/idgen"
)

// IdentifierRepo answers the identifier generator's seed and existence
// queries against the tables each identifier class lives in.
type IdentifierRepo struct {
	db *sqlx.DB
}

func NewIdentifierRepo(db *sqlx.DB) *IdentifierRepo { return &IdentifierRepo{db: db} }

type idTable struct {
	table  string
	prefix string
}

var idTables = map[idgen.Class]idTable{
	idgen.Invoice:    {table: "invoices", prefix: "INV"},
	idgen.Ticket:     {table: "tickets", prefix: "T"},
	idgen.SnackLine:  {table: "booking_snacks", prefix: "BS"},
	idgen.PaymentTxn: {table: "payment_transactions", prefix: "PAY"},
}

func lookupTable(class idgen.Class) (idTable, error) {
	t, ok := idTables[class]
	if !ok {
		return idTable{}, fmt.Errorf("unknown identifier class %q", class)
	}
	return t, nil
}

// MaxSequence returns the highest number already used for class in scope.
// Invoice numbers are scoped to their DDMMYYYY suffix; the other classes
// have a single scope.
func (r *IdentifierRepo) MaxSequence(ctx context.Context, class idgen.Class, scope string) (int64, error) {
	t, err := lookupTable(class)
	if err != nil {
		return 0, err
	}
	// INV0042_09h15m19102026 -> 0042
	num := fmt.Sprintf("SUBSTRING(id, %d)", len(t.prefix)+1)
	pattern := t.prefix + "%"
	if class == idgen.Invoice {
		num = fmt.Sprintf("SUBSTRING_INDEX(SUBSTRING(id, %d), '_', 1)", len(t.prefix)+1)
		pattern = t.prefix + "%" + scope
	}
	q := fmt.Sprintf(`SELECT COALESCE(MAX(CAST(%s AS UNSIGNED)), 0) FROM %s WHERE id LIKE ?`, num, t.table)
	var n int64
	err = r.db.GetContext(ctx, &n, q, pattern)
	return n, mapErr(err)
}

// Exists reports whether id is already used for class.
func (r *IdentifierRepo) Exists(ctx context.Context, class idgen.Class, id string) (bool, error) {
	t, err := lookupTable(class)
	if err != nil {
		return false, err
	}
	var n int
	err = r.db.GetContext(ctx, &n, fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE id = ?`, t.table), id)
	return n > 0, mapErr(err)
}
