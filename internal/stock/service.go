package stock

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/velara-studio/velara-backend/pkg/db"
	"github.com/velara-studio/velara-backend/pkg/db/models"
	"github.com/velara-studio/velara-backend/pkg/enums"
	pkgerrors "github.com/velara-studio/velara-backend/pkg/errors"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service owns the available-quantity counter per variant. Counters move only
// through ApplyMovement; availability checks are advisory and never mutate.
type Service interface {
	ApplyMovement(ctx context.Context, tx *gorm.DB, input MovementInput) (*models.StockMovement, error)
	HasMovementForOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, kind enums.MovementKind) (bool, error)
	CheckAvailability(ctx context.Context, input AvailabilityInput) (*AvailabilityResult, error)
	Reconcile(ctx context.Context, variantID uuid.UUID) (*ReconcileResult, error)
}

// MovementInput captures one signed quantity delta to apply to a variant.
type MovementInput struct {
	VariantID uuid.UUID
	Kind      enums.MovementKind
	Quantity  int
	Actor     string
	OrderID   *uuid.UUID
	Note      *string
}

// AvailabilityInput asks whether RequestedQty more units can be satisfied,
// given AlreadyReserved units the same actor holds in an open cart.
type AvailabilityInput struct {
	VariantID       uuid.UUID
	RequestedQty    int
	AlreadyReserved int
}

// AvailabilityResult reports the current counter and the largest request that
// would still succeed, so callers can offer a partial fulfillment.
type AvailabilityResult struct {
	Available      int  `json:"available"`
	Satisfiable    bool `json:"satisfiable"`
	MaxSatisfiable int  `json:"max_satisfiable"`
}

// ReconcileResult compares the counter against the movement-log running sum.
type ReconcileResult struct {
	VariantID   uuid.UUID `json:"variant_id"`
	CounterQty  int       `json:"counter_qty"`
	MovementSum int       `json:"movement_sum"`
	Drift       int       `json:"drift"`
}

type service struct {
	repo Repository
	tx   txRunner
}

// NewService wires a stock service with the provided repository and tx runner.
func NewService(repo Repository, tx txRunner) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("stock repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{repo: repo, tx: tx}, nil
}

// ApplyMovement runs inside the caller's transaction when one is supplied,
// otherwise it opens its own. It does not deduplicate order-linked movements:
// callers must probe HasMovementForOrder first. Dedup is business policy that
// belongs to the coordinator; the ledger's job is mechanical application.
func (s *service) ApplyMovement(ctx context.Context, tx *gorm.DB, input MovementInput) (*models.StockMovement, error) {
	if err := validateMovementInput(input); err != nil {
		return nil, err
	}
	if tx == nil {
		var movement *models.StockMovement
		err := s.tx.WithTx(ctx, func(innerTx *gorm.DB) error {
			var applyErr error
			movement, applyErr = s.applyMovementTx(ctx, innerTx, input)
			return applyErr
		})
		if err != nil {
			return nil, err
		}
		return movement, nil
	}
	return s.applyMovementTx(ctx, tx, input)
}

func (s *service) applyMovementTx(ctx context.Context, tx *gorm.DB, input MovementInput) (*models.StockMovement, error) {
	repo := s.repo.WithTx(tx)

	variant, err := repo.FindVariantForUpdate(ctx, input.VariantID)
	if err != nil {
		return nil, classifyLookupError(err, "variant")
	}
	if !variant.Active && input.Kind == enums.MovementKindSale {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "variant is not active for sale")
	}

	newQty := variant.AvailableQty + input.Quantity
	if newQty < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientStock, "movement would drive stock negative").
			WithDetails(map[string]int{"available": variant.AvailableQty})
	}

	if err := repo.UpdateVariantQty(ctx, variant.ID, newQty); err != nil {
		return nil, wrapStorageError(err, "update variant quantity")
	}

	movement := &models.StockMovement{
		VariantID: variant.ID,
		Kind:      input.Kind,
		Quantity:  input.Quantity,
		PriorQty:  variant.AvailableQty,
		NewQty:    newQty,
		OrderID:   input.OrderID,
		Actor:     input.Actor,
		Note:      input.Note,
	}
	if err := repo.CreateMovement(ctx, movement); err != nil {
		return nil, wrapStorageError(err, "append stock movement")
	}
	return movement, nil
}

func (s *service) HasMovementForOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, kind enums.MovementKind) (bool, error) {
	if orderID == uuid.Nil {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if !kind.IsValid() {
		return false, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid movement kind %q", kind))
	}
	return s.repo.WithTx(tx).HasMovementForOrder(ctx, orderID, kind)
}

// CheckAvailability locks the variant row so two concurrent checks against the
// same variant serialize rather than both reading a stale count. It never
// mutates stock; the reservation stays advisory until a payment is approved.
func (s *service) CheckAvailability(ctx context.Context, input AvailabilityInput) (*AvailabilityResult, error) {
	if input.VariantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "variant id required")
	}
	if input.RequestedQty <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "requested quantity must be positive")
	}
	if input.AlreadyReserved < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "already reserved quantity cannot be negative")
	}

	var result *AvailabilityResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		variant, err := repo.FindVariantForUpdate(ctx, input.VariantID)
		if err != nil {
			return classifyLookupError(err, "variant")
		}

		available := variant.AvailableQty
		if !variant.Active {
			available = 0
		}
		headroom := available - input.AlreadyReserved
		if headroom < 0 {
			headroom = 0
		}
		maxSatisfiable := input.RequestedQty
		if maxSatisfiable > headroom {
			maxSatisfiable = headroom
		}
		result = &AvailabilityResult{
			Available:      available,
			Satisfiable:    input.RequestedQty <= headroom,
			MaxSatisfiable: maxSatisfiable,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Reconcile is a debug/ops probe: for a healthy variant the movement-log sum
// equals the counter and Drift is zero.
func (s *service) Reconcile(ctx context.Context, variantID uuid.UUID) (*ReconcileResult, error) {
	if variantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "variant id required")
	}
	variant, err := s.repo.FindVariant(ctx, variantID)
	if err != nil {
		return nil, classifyLookupError(err, "variant")
	}
	sum, err := s.repo.SumMovements(ctx, variantID)
	if err != nil {
		return nil, wrapStorageError(err, "sum stock movements")
	}
	return &ReconcileResult{
		VariantID:   variantID,
		CounterQty:  variant.AvailableQty,
		MovementSum: sum,
		Drift:       variant.AvailableQty - sum,
	}, nil
}

func validateMovementInput(input MovementInput) error {
	if input.VariantID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "variant id required")
	}
	if !input.Kind.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid movement kind %q", input.Kind))
	}
	if input.Quantity == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "movement quantity cannot be zero")
	}
	if sign := input.Kind.ExpectedSign(); sign != 0 {
		if sign > 0 && input.Quantity < 0 || sign < 0 && input.Quantity > 0 {
			return pkgerrors.New(pkgerrors.CodeValidation,
				fmt.Sprintf("%s movements must carry a %s quantity", input.Kind, signWord(sign)))
		}
	}
	if input.Kind.RequiresOrderRef() && (input.OrderID == nil || *input.OrderID == uuid.Nil) {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("%s movements require an order reference", input.Kind))
	}
	if input.Actor == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "actor required")
	}
	return nil
}

func signWord(sign int) string {
	if sign > 0 {
		return "positive"
	}
	return "negative"
}

func classifyLookupError(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, what+" not found")
	}
	return wrapStorageError(err, "load "+what)
}

func wrapStorageError(err error, op string) error {
	if dbpkg.IsLockTimeout(err) {
		return pkgerrors.Wrap(pkgerrors.CodeConcurrency, err, op)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, op)
}
