package drawdown

import (
	"fmt"

	"github.com/fundops/capcall-api/internal/types"
)

// Lifecycle statuses, in order. An obligation never skips a status and never
// moves backward except through the administrative reset used by forced
// allotment recomputation.
const (
	StatusPaymentPending         = "Drawdown Payment Pending"
	StatusAllotmentPending       = "Allotment Pending"
	StatusSheetGenerationPending = "Allotment Sheet Generation Pending"
	StatusAllotmentDone          = "Allotment Done"
)

var allowedTransitions = map[string][]string{
	// Advances only when a Paid-classified payment is matched.
	StatusPaymentPending: {StatusAllotmentPending},
	// The allotment attempt either completes or leaves the sheet pending.
	StatusAllotmentPending: {StatusAllotmentDone, StatusSheetGenerationPending},
	// A sheet retry may still complete the allotment.
	StatusSheetGenerationPending: {StatusAllotmentDone},
	// Terminal.
	StatusAllotmentDone: {},
}

// ValidStatus reports whether s is a known lifecycle status.
func ValidStatus(s string) bool {
	_, ok := allowedTransitions[s]
	return ok
}

// Transition validates a status change, rejecting regressions and skips.
func Transition(from, to string) error {
	if !ValidStatus(from) {
		return &types.ConflictError{Detail: fmt.Sprintf("unknown status %q", from)}
	}
	if !ValidStatus(to) {
		return &types.ConflictError{Detail: fmt.Sprintf("unknown status %q", to)}
	}
	for _, next := range allowedTransitions[from] {
		if next == to {
			return nil
		}
	}
	return &types.ConflictError{Detail: fmt.Sprintf("illegal transition from %q to %q", from, to)}
}
