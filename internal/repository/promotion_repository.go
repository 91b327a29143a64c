package repository

import (
	"context"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/cinema-ticket-checkout/internal/model"
)

// PromotionRepo looks promotions up.  Validity windows are judged by the
// pricing engine, not by the query.
type PromotionRepo struct {
	db *sqlx.DB
}

func NewPromotionRepo(db *sqlx.DB) *PromotionRepo { return &PromotionRepo{db: db} }

const promotionColumns = `id, code, discount, starts_at, ends_at, is_active`

// PromotionByCode returns the promotion with code, compared case
// insensitively, or ErrNotFound.
func (r *PromotionRepo) PromotionByCode(ctx context.Context, code string) (model.Promotion, error) {
	var p model.Promotion
	err := r.db.GetContext(ctx, &p,
		`SELECT `+promotionColumns+` FROM promotions WHERE UPPER(code) = ? LIMIT 1`,
		strings.ToUpper(strings.TrimSpace(code)))
	return p, mapErr(err)
}

// PromotionByID returns the promotion with id or ErrNotFound.
func (r *PromotionRepo) PromotionByID(ctx context.Context, id uint64) (model.Promotion, error) {
	var p model.Promotion
	err := r.db.GetContext(ctx, &p, `SELECT `+promotionColumns+` FROM promotions WHERE id = ?`, id)
	return p, mapErr(err)
}
