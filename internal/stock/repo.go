package stock

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/velara-studio/velara-backend/pkg/db/models"
	"github.com/velara-studio/velara-backend/pkg/enums"
)

// Repository manages persistence for stock variants and their movement log.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindVariant(ctx context.Context, variantID uuid.UUID) (*models.StockVariant, error)
	FindVariantForUpdate(ctx context.Context, variantID uuid.UUID) (*models.StockVariant, error)
	UpdateVariantQty(ctx context.Context, variantID uuid.UUID, newQty int) error
	CreateMovement(ctx context.Context, movement *models.StockMovement) error
	HasMovementForOrder(ctx context.Context, orderID uuid.UUID, kind enums.MovementKind) (bool, error)
	ListMovementsByOrder(ctx context.Context, orderID uuid.UUID) ([]models.StockMovement, error)
	SumMovements(ctx context.Context, variantID uuid.UUID) (int, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a stock repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindVariant(ctx context.Context, variantID uuid.UUID) (*models.StockVariant, error) {
	var variant models.StockVariant
	err := r.db.WithContext(ctx).
		Where("id = ?", variantID).
		First(&variant).Error
	if err != nil {
		return nil, err
	}
	return &variant, nil
}

// FindVariantForUpdate locks the variant row so concurrent mutations against
// the same variant serialize. SQLite (used by tests) has no FOR UPDATE; writes
// there serialize on the database-level lock instead.
func (r *repository) FindVariantForUpdate(ctx context.Context, variantID uuid.UUID) (*models.StockVariant, error) {
	query := r.db.WithContext(ctx)
	if r.db.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var variant models.StockVariant
	if err := query.Where("id = ?", variantID).First(&variant).Error; err != nil {
		return nil, err
	}
	return &variant, nil
}

func (r *repository) UpdateVariantQty(ctx context.Context, variantID uuid.UUID, newQty int) error {
	return r.db.WithContext(ctx).
		Model(&models.StockVariant{}).
		Where("id = ?", variantID).
		Update("available_qty", newQty).Error
}

func (r *repository) CreateMovement(ctx context.Context, movement *models.StockMovement) error {
	return r.db.WithContext(ctx).Create(movement).Error
}

func (r *repository) HasMovementForOrder(ctx context.Context, orderID uuid.UUID, kind enums.MovementKind) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.StockMovement{}).
		Where("order_id = ? AND kind = ?", orderID, kind).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repository) ListMovementsByOrder(ctx context.Context, orderID uuid.UUID) ([]models.StockMovement, error) {
	var movements []models.StockMovement
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&movements).Error
	if err != nil {
		return nil, err
	}
	return movements, nil
}

func (r *repository) SumMovements(ctx context.Context, variantID uuid.UUID) (int, error) {
	var sum *int
	err := r.db.WithContext(ctx).
		Model(&models.StockMovement{}).
		Select("SUM(quantity)").
		Where("variant_id = ?", variantID).
		Scan(&sum).Error
	if err != nil {
		return 0, err
	}
	if sum == nil {
		return 0, nil
	}
	return *sum, nil
}
