package models

import (
	"time"

	"github.com/google/uuid"
)

// StockVariant is one sellable (product, size, color) combination with its own
// stock count. The counter is mutated only through the stock ledger; variants
// taken off sale are deactivated, never deleted.
type StockVariant struct {
	ID           uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	ProductID    uuid.UUID `gorm:"column:product_id;type:uuid;not null;uniqueIndex:ux_stock_variants_combo"`
	Size         string    `gorm:"column:size;not null;uniqueIndex:ux_stock_variants_combo"`
	Color        string    `gorm:"column:color;not null;uniqueIndex:ux_stock_variants_combo"`
	AvailableQty int       `gorm:"column:available_qty;not null;default:0"`
	Active       bool      `gorm:"column:active;not null;default:true"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
