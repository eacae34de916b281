package payments

import (
	"fmt"
	"time"

	"github.com/velara-studio/velara-backend/pkg/db/models"
	"github.com/velara-studio/velara-backend/pkg/enums"
	pkgerrors "github.com/velara-studio/velara-backend/pkg/errors"
)

// transitions is the authoritative adjacency map for payment statuses.
// Approved payments may still be cancelled (refund/chargeback) but can never
// flip to rejected; rejected and cancelled are terminal.
var transitions = map[enums.PaymentStatus][]enums.PaymentStatus{
	enums.PaymentStatusPending: {
		enums.PaymentStatusPendingApproval,
		enums.PaymentStatusApproved,
		enums.PaymentStatusRejected,
		enums.PaymentStatusCancelled,
	},
	enums.PaymentStatusPendingApproval: {
		enums.PaymentStatusApproved,
		enums.PaymentStatusRejected,
		enums.PaymentStatusCancelled,
	},
	enums.PaymentStatusApproved: {
		enums.PaymentStatusCancelled,
	},
	enums.PaymentStatusRejected:  {},
	enums.PaymentStatusCancelled: {},
}

// CanTransition reports whether the payment machine permits from -> to.
func CanTransition(from, to enums.PaymentStatus) bool {
	for _, candidate := range transitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// Decision is an external adjudication applied to a payment.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
	DecisionCancel  Decision = "cancel"
)

// StatusFor maps a decision onto its target payment status.
func (d Decision) StatusFor() (enums.PaymentStatus, error) {
	switch d {
	case DecisionApprove:
		return enums.PaymentStatusApproved, nil
	case DecisionReject:
		return enums.PaymentStatusRejected, nil
	case DecisionCancel:
		return enums.PaymentStatusCancelled, nil
	default:
		return "", pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid payment decision %q", d))
	}
}

// Apply mutates the payment in memory after validating the transition. The
// caller persists the result inside its own transaction.
func Apply(payment *models.Payment, target enums.PaymentStatus, codeOrReason *string, now time.Time) error {
	if payment == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment required")
	}
	if !target.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid payment status %q", target))
	}
	if payment.Status == target {
		return nil
	}
	if payment.Status.IsTerminal() {
		return pkgerrors.New(pkgerrors.CodeTerminalState,
			fmt.Sprintf("payment is %s and cannot change", payment.Status)).
			WithDetails(map[string]string{"current": payment.Status.String(), "target": target.String()})
	}
	if !CanTransition(payment.Status, target) {
		return pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("payment cannot move from %s to %s", payment.Status, target)).
			WithDetails(map[string]string{"current": payment.Status.String(), "target": target.String()})
	}

	payment.Status = target
	switch target {
	case enums.PaymentStatusApproved:
		payment.ApprovalCode = codeOrReason
		payment.DecidedAt = &now
	case enums.PaymentStatusRejected, enums.PaymentStatusCancelled:
		payment.RejectionReason = codeOrReason
		payment.DecidedAt = &now
	}
	return nil
}
