package enums

import "fmt"

// PaymentStatus tracks the lifecycle of an order's payment.
type PaymentStatus string

const (
	PaymentStatusPending         PaymentStatus = "pending"
	PaymentStatusPendingApproval PaymentStatus = "pending_approval"
	PaymentStatusApproved        PaymentStatus = "approved"
	PaymentStatusRejected        PaymentStatus = "rejected"
	PaymentStatusCancelled       PaymentStatus = "cancelled"
)

var validPaymentStatuses = []PaymentStatus{
	PaymentStatusPending,
	PaymentStatusPendingApproval,
	PaymentStatusApproved,
	PaymentStatusRejected,
	PaymentStatusCancelled,
}

// String implements fmt.Stringer.
func (p PaymentStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentStatus.
func (p PaymentStatus) IsValid() bool {
	for _, candidate := range validPaymentStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is permitted from this status.
func (p PaymentStatus) IsTerminal() bool {
	return p == PaymentStatusRejected || p == PaymentStatusCancelled
}

// IsUndecided reports whether the payment still awaits a decision.
func (p PaymentStatus) IsUndecided() bool {
	return p == PaymentStatusPending || p == PaymentStatusPendingApproval
}

// IsReversed reports whether a decision went against the order. Order
// transitions into shipment states are refused while the payment is reversed.
func (p PaymentStatus) IsReversed() bool {
	return p == PaymentStatusRejected || p == PaymentStatusCancelled
}

// ParsePaymentStatus converts raw input into a PaymentStatus.
func ParsePaymentStatus(value string) (PaymentStatus, error) {
	for _, candidate := range validPaymentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment status %q", value)
}
