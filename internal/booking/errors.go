package booking

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvoiceNotFound   = errors.New("invoice not found")
	ErrInvoiceNotPending = errors.New("invoice is no longer pending")
	// ErrAmountMismatch is returned when a success callback reports an
	// amount different from the invoice total.  Nothing is changed.
	ErrAmountMismatch = errors.New("callback amount does not match invoice total")
)

// ValidationError rejects a request before any state is changed.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "invalid request: " + e.Reason }

func invalid(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// ConflictError reports seats that are already held or sold.
type ConflictError struct {
	ShowtimeID uint64
	SeatIDs    []uint64
}

func (e *ConflictError) Error() string {
	ids := make([]string, len(e.SeatIDs))
	for i, id := range e.SeatIDs {
		ids[i] = strconv.FormatUint(id, 10)
	}
	return fmt.Sprintf("seats already taken for showtime %d: %s", e.ShowtimeID, strings.Join(ids, ","))
}
