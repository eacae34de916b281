package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/velara-studio/velara-backend/pkg/enums"
)

// Order is a customer order. After creation it is mutated only by the order
// coordinator. StatusChangedAt moves only when the status actually changes;
// the expiry sweeper keys its "time in current state" math off that column.
type Order struct {
	ID              uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	UserID          uuid.UUID         `gorm:"column:user_id;type:uuid;not null;index"`
	Status          enums.OrderStatus `gorm:"column:status;type:order_status;not null;default:'pending'"`
	StatusChangedAt time.Time         `gorm:"column:status_changed_at;not null"`
	DeliveryName    string            `gorm:"column:delivery_name;not null"`
	DeliveryAddress string            `gorm:"column:delivery_address;not null"`
	DeliveryCity    string            `gorm:"column:delivery_city;not null"`
	DeliveryZip     string            `gorm:"column:delivery_zip;not null"`
	TotalCents      int               `gorm:"column:total_cents;not null"`
	Lines           []OrderLine       `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Payment         *Payment          `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt       time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
