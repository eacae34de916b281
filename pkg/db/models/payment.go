package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/velara-studio/velara-backend/pkg/enums"
)

// Payment tracks payment progress for an order (one-to-one).
type Payment struct {
	ID              uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	OrderID         uuid.UUID           `gorm:"column:order_id;type:uuid;not null;uniqueIndex"`
	Status          enums.PaymentStatus `gorm:"column:status;type:payment_status;not null;default:'pending'"`
	ApprovalCode    *string             `gorm:"column:approval_code"`
	RejectionReason *string             `gorm:"column:rejection_reason"`
	DecidedAt       *time.Time          `gorm:"column:decided_at"`
	CreatedAt       time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
