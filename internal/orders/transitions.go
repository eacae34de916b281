package orders

import (
	"fmt"

	"github.com/velara-studio/velara-backend/pkg/enums"
	pkgerrors "github.com/velara-studio/velara-backend/pkg/errors"
)

// orderTransitions is the authoritative adjacency map for order statuses.
// Cancellation after shipment is deliberately absent: physical goods in
// transit must come back through returned before the order can close as
// cancelled.
var orderTransitions = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusPending: {
		enums.OrderStatusStockValidated,
		enums.OrderStatusPreparing,
		enums.OrderStatusCancelled,
	},
	enums.OrderStatusStockValidated: {
		enums.OrderStatusPreparing,
		enums.OrderStatusCancelled,
	},
	enums.OrderStatusPreparing: {
		enums.OrderStatusShipped,
		enums.OrderStatusCompleted,
		enums.OrderStatusCancelled,
	},
	enums.OrderStatusShipped: {
		enums.OrderStatusCompleted,
		enums.OrderStatusReturned,
	},
	enums.OrderStatusReturned: {
		enums.OrderStatusCancelled,
	},
	enums.OrderStatusCompleted: {},
	enums.OrderStatusCancelled: {},
}

// CanTransition reports whether the adjacency map permits from -> to. It does
// not consult payment state; ValidateTransition layers those gates on top.
func CanTransition(from, to enums.OrderStatus) bool {
	for _, candidate := range orderTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// ValidateTransition enforces the adjacency map plus the payment gates. The
// forward half of the lifecycle (preparing and beyond) requires an approved
// payment; cancelling a preparing order requires the payment to have been
// rejected or cancelled first, so money and goods never diverge silently.
func ValidateTransition(from, to enums.OrderStatus, payment enums.PaymentStatus) error {
	if !to.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid order status %q", to))
	}
	if from.IsTerminal() {
		return pkgerrors.New(pkgerrors.CodeTerminalState,
			fmt.Sprintf("order is %s and cannot change", from)).
			WithDetails(map[string]string{"current": from.String(), "target": to.String()})
	}
	if !CanTransition(from, to) {
		return pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("order cannot move from %s to %s", from, to)).
			WithDetails(map[string]string{"current": from.String(), "target": to.String()})
	}

	switch to {
	case enums.OrderStatusPreparing, enums.OrderStatusShipped,
		enums.OrderStatusCompleted, enums.OrderStatusReturned:
		if payment != enums.PaymentStatusApproved {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("moving to %s requires an approved payment, got %s", to, payment)).
				WithDetails(map[string]string{"payment_status": payment.String()})
		}
	case enums.OrderStatusCancelled:
		if from == enums.OrderStatusPreparing && !payment.IsReversed() {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				"a preparing order can only be cancelled after its payment is rejected or cancelled").
				WithDetails(map[string]string{"payment_status": payment.String()})
		}
	}
	return nil
}
