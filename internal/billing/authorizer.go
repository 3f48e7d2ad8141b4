// Package billing is the seam to the external payment collaborator.
// Capture, refunds and the no-show billing outcome live entirely on the
// other side of this interface.
package billing

import (
	"context"

	"github.com/shopspring/decimal"

	"foodrescue/pkg/log"
)

// Authorizer authorizes the payment for a paid reservation before it can
// be confirmed. Donation-flow reservations never reach it.
type Authorizer interface {
	Authorize(ctx context.Context, reservationID uint64, amount decimal.Decimal) error
}

// AutoApprove approves every authorization. Used for donations-only
// deployments and in tests.
type AutoApprove struct{}

// NewAutoApprove creates an auto-approving authorizer
func NewAutoApprove() *AutoApprove {
	return &AutoApprove{}
}

// Authorize always succeeds
func (a *AutoApprove) Authorize(ctx context.Context, reservationID uint64, amount decimal.Decimal) error {
	log.WithFields(map[string]interface{}{
		"reservation_id": reservationID,
		"amount":         amount.String(),
	}).Debug("Payment auto-approved")
	return nil
}
