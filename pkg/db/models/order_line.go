package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderLine snapshots one variant purchase within an order. The unit price is
// captured at checkout and never recomputed from the live catalog.
type OrderLine struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OrderID        uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`
	VariantID      uuid.UUID `gorm:"column:variant_id;type:uuid;not null"`
	Qty            int       `gorm:"column:qty;not null"`
	UnitPriceCents int       `gorm:"column:unit_price_cents;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}
