package orders

import (
	"github.com/google/uuid"

	"github.com/velara-studio/velara-backend/internal/payments"
	"github.com/velara-studio/velara-backend/pkg/enums"
)

// DeliveryInfo is the shipping destination captured at checkout.
type DeliveryInfo struct {
	Name    string
	Address string
	City    string
	Zip     string
}

// LineInput is one variant purchase within a new order. UnitPriceCents is the
// price quoted at checkout; it is stored verbatim and never recomputed.
type LineInput struct {
	VariantID      uuid.UUID
	Qty            int
	UnitPriceCents int
}

// CreateOrderInput carries everything needed to open a new order.
type CreateOrderInput struct {
	UserID   uuid.UUID
	Delivery DeliveryInfo
	Lines    []LineInput
	Actor    string
}

// PaymentDecisionInput records the outcome reported by the payment provider.
// CodeOrReason holds the approval code on approve and the reason otherwise.
type PaymentDecisionInput struct {
	OrderID      uuid.UUID
	Decision     payments.Decision
	CodeOrReason *string
	Actor        string
}

// TransitionInput asks the coordinator to move an order to a target status.
type TransitionInput struct {
	OrderID uuid.UUID
	Target  enums.OrderStatus
	Actor   string
}

// OrderCreatedEvent is emitted when a new order is opened.
type OrderCreatedEvent struct {
	OrderID    uuid.UUID `json:"order_id"`
	UserID     uuid.UUID `json:"user_id"`
	TotalCents int       `json:"total_cents"`
	LineCount  int       `json:"line_count"`
}

// OrderStateChangedEvent is emitted on every committed status change.
type OrderStateChangedEvent struct {
	OrderID uuid.UUID         `json:"order_id"`
	From    enums.OrderStatus `json:"from"`
	To      enums.OrderStatus `json:"to"`
}

// PaymentDecidedEvent is emitted when a payment decision lands.
type PaymentDecidedEvent struct {
	OrderID              uuid.UUID           `json:"order_id"`
	PaymentID            uuid.UUID           `json:"payment_id"`
	From                 enums.PaymentStatus `json:"from"`
	To                   enums.PaymentStatus `json:"to"`
	StockReverted        bool                `json:"stock_reverted"`
	ManualReviewRequired bool                `json:"manual_review_required"`
}

// StockMovementAppliedEvent is emitted for every stock movement the
// coordinator applies on behalf of an order.
type StockMovementAppliedEvent struct {
	MovementID uuid.UUID          `json:"movement_id"`
	VariantID  uuid.UUID          `json:"variant_id"`
	OrderID    uuid.UUID          `json:"order_id"`
	Kind       enums.MovementKind `json:"kind"`
	Quantity   int                `json:"quantity"`
	NewQty     int                `json:"new_qty"`
}

// SweepResult summarizes one expiry sweeper run.
type SweepResult struct {
	Scanned   int
	Cancelled []uuid.UUID
	Failed    int
}
