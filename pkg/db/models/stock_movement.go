package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/velara-studio/velara-backend/pkg/enums"
)

// StockMovement is one immutable signed quantity change applied to a variant.
// Rows are append-only; the running sum per variant must equal the variant's
// available_qty counter.
type StockMovement struct {
	ID        uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	VariantID uuid.UUID          `gorm:"column:variant_id;type:uuid;not null;index"`
	Kind      enums.MovementKind `gorm:"column:kind;type:movement_kind;not null"`
	Quantity  int                `gorm:"column:quantity;not null"`
	PriorQty  int                `gorm:"column:prior_qty;not null"`
	NewQty    int                `gorm:"column:new_qty;not null"`
	OrderID   *uuid.UUID         `gorm:"column:order_id;type:uuid;index"`
	Actor     string             `gorm:"column:actor;not null"`
	Note      *string            `gorm:"column:note"`
	CreatedAt time.Time          `gorm:"column:created_at;autoCreateTime"`
}
