package pricing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/cinema-ticket-checkout/internal/model"
	"github.com/iliyamo/cinema-ticket-checkout/internal/repository"
)

// Rejection reasons reported by ValidatePromotionCode.
const (
	ReasonEmptyCode  = "promotion code is empty"
	ReasonNotFound   = "promotion code not found"
	ReasonInactive   = "promotion is not active"
	ReasonNotStarted = "promotion has not started yet"
	ReasonExpired    = "promotion has expired"
	ReasonNoDiscount = "promotion has no discount value"
)

// PromotionRejectedError explains why a code cannot be used.
type PromotionRejectedError struct {
	Code   string
	Reason string
}

func (e *PromotionRejectedError) Error() string {
	return fmt.Sprintf("promotion %q rejected: %s", e.Code, e.Reason)
}

// PromotionFinder looks promotions up by code.  Implementations return
// repository.ErrNotFound for unknown codes.
type PromotionFinder interface {
	PromotionByCode(ctx context.Context, code string) (model.Promotion, error)
}

// Engine resolves promotion codes against a PromotionFinder.
type Engine struct {
	promotions PromotionFinder
}

// NewEngine returns an Engine backed by the given finder.
func NewEngine(promotions PromotionFinder) *Engine {
	return &Engine{promotions: promotions}
}

// ValidatePromotionCode returns the promotion for code when it can be used
// at nowLocal, or a *PromotionRejectedError naming the reason.  Lookup
// failures other than "not found" are returned as is.
func (e *Engine) ValidatePromotionCode(ctx context.Context, code string, nowLocal time.Time) (model.Promotion, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return model.Promotion{}, &PromotionRejectedError{Code: code, Reason: ReasonEmptyCode}
	}
	p, err := e.promotions.PromotionByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.Promotion{}, &PromotionRejectedError{Code: code, Reason: ReasonNotFound}
		}
		return model.Promotion{}, fmt.Errorf("load promotion: %w", err)
	}
	if reason := CheckPromotion(p, nowLocal); reason != "" {
		return model.Promotion{}, &PromotionRejectedError{Code: code, Reason: reason}
	}
	return p, nil
}

// CheckPromotion returns the rejection reason for p at now, or "" when the
// promotion is usable.  Window bounds are inclusive.
func CheckPromotion(p model.Promotion, now time.Time) string {
	switch {
	case !p.IsActive:
		return ReasonInactive
	case p.StartsAt != nil && now.Before(*p.StartsAt):
		return ReasonNotStarted
	case p.EndsAt != nil && now.After(*p.EndsAt):
		return ReasonExpired
	case !p.Discount.Valid:
		return ReasonNoDiscount
	}
	return ""
}
