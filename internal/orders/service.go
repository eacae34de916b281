package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/velara-studio/velara-backend/internal/payments"
	"github.com/velara-studio/velara-backend/internal/stock"
	"github.com/velara-studio/velara-backend/pkg/db/models"
	"github.com/velara-studio/velara-backend/pkg/enums"
	pkgerrors "github.com/velara-studio/velara-backend/pkg/errors"
	"github.com/velara-studio/velara-backend/pkg/logger"
	"github.com/velara-studio/velara-backend/pkg/outbox"
)

// SystemActor attributes mutations initiated by background jobs.
const SystemActor = "system"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// stockLedger is the slice of the stock service the coordinator needs.
type stockLedger interface {
	ApplyMovement(ctx context.Context, tx *gorm.DB, input stock.MovementInput) (*models.StockMovement, error)
	HasMovementForOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, kind enums.MovementKind) (bool, error)
	CheckAvailability(ctx context.Context, input stock.AvailabilityInput) (*stock.AvailabilityResult, error)
}

// Service is the consistency coordinator: the only writer allowed to move
// orders between statuses, decide payments, and trigger the stock effects
// those changes imply. Every mutation runs in a single transaction so the
// three ledgers never drift apart.
type Service interface {
	CreateOrder(ctx context.Context, input CreateOrderInput) (*models.Order, error)
	RecordPaymentDecision(ctx context.Context, input PaymentDecisionInput) error
	TransitionOrder(ctx context.Context, input TransitionInput) error
	SweepExpiredOrders(ctx context.Context, olderThan time.Duration) (*SweepResult, error)
}

type service struct {
	repo     Repository
	payments payments.Repository
	stock    stockLedger
	tx       txRunner
	outbox   outboxPublisher
	logg     *logger.Logger
	now      func() time.Time
}

// NewService builds the order coordinator with the required dependencies.
func NewService(repo Repository, paymentsRepo payments.Repository, stockSvc stockLedger, tx txRunner, publisher outboxPublisher, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if paymentsRepo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if stockSvc == nil {
		return nil, fmt.Errorf("stock service required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:     repo,
		payments: paymentsRepo,
		stock:    stockSvc,
		tx:       tx,
		outbox:   publisher,
		logg:     logg,
		now:      time.Now,
	}, nil
}

// CreateOrder opens a new order in pending with a pending payment attached.
// Stock is checked but never mutated here: the sale is only recorded when the
// payment is approved.
func (s *service) CreateOrder(ctx context.Context, input CreateOrderInput) (*models.Order, error) {
	if err := validateCreateInput(input); err != nil {
		return nil, err
	}

	var shortages []map[string]any
	for _, line := range input.Lines {
		result, err := s.stock.CheckAvailability(ctx, stock.AvailabilityInput{
			VariantID:    line.VariantID,
			RequestedQty: line.Qty,
		})
		if err != nil {
			return nil, err
		}
		if !result.Satisfiable {
			shortages = append(shortages, map[string]any{
				"variant_id":      line.VariantID.String(),
				"requested":       line.Qty,
				"max_satisfiable": result.MaxSatisfiable,
			})
		}
	}
	if len(shortages) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientStock, "one or more lines cannot be satisfied").
			WithDetails(map[string]any{"lines": shortages})
	}

	total := 0
	for _, line := range input.Lines {
		total += line.Qty * line.UnitPriceCents
	}

	now := s.now()
	order := &models.Order{
		UserID:          input.UserID,
		Status:          enums.OrderStatusPending,
		StatusChangedAt: now,
		DeliveryName:    input.Delivery.Name,
		DeliveryAddress: input.Delivery.Address,
		DeliveryCity:    input.Delivery.City,
		DeliveryZip:     input.Delivery.Zip,
		TotalCents:      total,
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		created, err := repo.CreateOrder(ctx, order)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}

		lines := make([]models.OrderLine, 0, len(input.Lines))
		for _, line := range input.Lines {
			lines = append(lines, models.OrderLine{
				OrderID:        created.ID,
				VariantID:      line.VariantID,
				Qty:            line.Qty,
				UnitPriceCents: line.UnitPriceCents,
			})
		}
		if err := repo.CreateOrderLines(ctx, lines); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order lines")
		}

		payment := &models.Payment{
			OrderID: created.ID,
			Status:  enums.PaymentStatusPending,
		}
		if err := s.payments.WithTx(tx).Create(ctx, payment); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment")
		}
		order.Lines = lines
		order.Payment = payment

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   created.ID,
			Version:       1,
			Actor:         &outbox.ActorRef{ID: input.Actor},
			Data: OrderCreatedEvent{
				OrderID:    created.ID,
				UserID:     created.UserID,
				TotalCents: created.TotalCents,
				LineCount:  len(lines),
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// RecordPaymentDecision applies a provider decision to the payment machine
// and performs the stock consequences in the same transaction: approval
// records the sale exactly once, a post-approval reversal restocks unless the
// goods already shipped.
func (s *service) RecordPaymentDecision(ctx context.Context, input PaymentDecisionInput) error {
	if input.OrderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.Actor == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "actor required")
	}
	target, err := input.Decision.StatusFor()
	if err != nil {
		return err
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindOrderForUpdate(ctx, input.OrderID)
		if err != nil {
			return classifyLookupError(err, "order")
		}
		payment, err := s.payments.WithTx(tx).FindByOrder(ctx, order.ID)
		if err != nil {
			return classifyLookupError(err, "payment")
		}
		if payment.Status == target {
			// Provider retry delivering the same decision again.
			return nil
		}
		wasApproved := payment.Status == enums.PaymentStatusApproved

		from := payment.Status
		if err := payments.Apply(payment, target, input.CodeOrReason, s.now()); err != nil {
			return err
		}
		if err := s.payments.WithTx(tx).Save(ctx, payment); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save payment")
		}

		event := PaymentDecidedEvent{
			OrderID:   order.ID,
			PaymentID: payment.ID,
			From:      from,
			To:        target,
		}

		switch {
		case target == enums.PaymentStatusApproved:
			if err := s.recordSale(ctx, tx, order, input.Actor); err != nil {
				return err
			}
			if order.Status == enums.OrderStatusPending {
				if err := s.setStatus(ctx, tx, order, enums.OrderStatusStockValidated, input.Actor, enums.EventOrderStateChanged); err != nil {
					return err
				}
			}
		case target == enums.PaymentStatusCancelled && wasApproved:
			reverted, manual, err := s.revertSale(ctx, tx, order, input.Actor)
			if err != nil {
				return err
			}
			event.StockReverted = reverted
			event.ManualReviewRequired = manual
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentDecided,
			AggregateType: enums.AggregatePayment,
			AggregateID:   payment.ID,
			Version:       1,
			Actor:         &outbox.ActorRef{ID: input.Actor},
			Data:          event,
		})
	})
}

// TransitionOrder moves an order to a target status after validating the
// transition against the adjacency map and the payment gates, applying any
// stock effects in the same transaction. Asking for the current status is a
// no-op.
func (s *service) TransitionOrder(ctx context.Context, input TransitionInput) error {
	eventType := enums.EventOrderStateChanged
	if input.Target == enums.OrderStatusCancelled {
		eventType = enums.EventOrderCancelled
	}
	return s.transition(ctx, input, eventType)
}

func (s *service) transition(ctx context.Context, input TransitionInput, eventType enums.OutboxEventType) error {
	if input.OrderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.Actor == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "actor required")
	}
	if !input.Target.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid order status %q", input.Target))
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindOrderForUpdate(ctx, input.OrderID)
		if err != nil {
			return classifyLookupError(err, "order")
		}
		if order.Status == input.Target {
			return nil
		}
		payment, err := s.payments.WithTx(tx).FindByOrder(ctx, order.ID)
		if err != nil {
			return classifyLookupError(err, "payment")
		}
		if err := ValidateTransition(order.Status, input.Target, payment.Status); err != nil {
			return err
		}

		switch input.Target {
		case enums.OrderStatusReturned:
			if err := s.recordReturn(ctx, tx, order, input.Actor); err != nil {
				return err
			}
		case enums.OrderStatusCancelled:
			if _, _, err := s.revertSale(ctx, tx, order, input.Actor); err != nil {
				return err
			}
			if !payment.Status.IsTerminal() {
				reason := "order cancelled"
				if err := payments.Apply(payment, enums.PaymentStatusCancelled, &reason, s.now()); err != nil {
					return err
				}
				if err := s.payments.WithTx(tx).Save(ctx, payment); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save payment")
				}
			}
		}

		return s.setStatus(ctx, tx, order, input.Target, input.Actor, eventType)
	})
}

// SweepExpiredOrders cancels orders stuck in an initial state longer than
// olderThan without an approved payment. Each order is cancelled in its own
// transaction through the regular transition path; individual failures are
// collected rather than aborting the sweep.
func (s *service) SweepExpiredOrders(ctx context.Context, olderThan time.Duration) (*SweepResult, error) {
	if olderThan <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "expiry threshold must be positive")
	}
	cutoff := s.now().Add(-olderThan)
	candidates, err := s.repo.FindExpiredCandidates(ctx, cutoff)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list expired candidates")
	}

	result := &SweepResult{Scanned: len(candidates)}
	var sweepErr error
	for _, order := range candidates {
		err := s.transition(ctx, TransitionInput{
			OrderID: order.ID,
			Target:  enums.OrderStatusCancelled,
			Actor:   SystemActor,
		}, enums.EventOrderExpired)
		if err != nil {
			result.Failed++
			sweepErr = multierr.Append(sweepErr, fmt.Errorf("expire order %s: %w", order.ID, err))
			logCtx := s.logg.WithOrderID(ctx, order.ID.String())
			s.logg.Error(logCtx, "expiry sweep could not cancel order", err)
			continue
		}
		result.Cancelled = append(result.Cancelled, order.ID)
	}
	return result, sweepErr
}

// recordSale writes one sale movement per line, exactly once per order. The
// presence probe plus the unique index on (order_id, kind, variant_id) make a
// replayed approval a no-op instead of a double decrement.
func (s *service) recordSale(ctx context.Context, tx *gorm.DB, order *models.Order, actor string) error {
	has, err := s.stock.HasMovementForOrder(ctx, tx, order.ID, enums.MovementKindSale)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	lines, err := s.repo.WithTx(tx).FindOrderLines(ctx, order.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order lines")
	}
	for _, line := range lines {
		movement, err := s.stock.ApplyMovement(ctx, tx, stock.MovementInput{
			VariantID: line.VariantID,
			Kind:      enums.MovementKindSale,
			Quantity:  -line.Qty,
			Actor:     actor,
			OrderID:   &order.ID,
		})
		if err != nil {
			return err
		}
		if err := s.emitMovement(ctx, tx, actor, movement); err != nil {
			return err
		}
	}
	return nil
}

// revertSale restores stock after a cancellation. Nothing happens unless a
// sale was recorded and the stock has not already come back via a restock or
// a return. Once the goods shipped the counters no longer reflect reality on
// hand, so the revert is flagged for manual review instead of applied.
func (s *service) revertSale(ctx context.Context, tx *gorm.DB, order *models.Order, actor string) (reverted bool, manual bool, err error) {
	hasSale, err := s.stock.HasMovementForOrder(ctx, tx, order.ID, enums.MovementKindSale)
	if err != nil {
		return false, false, err
	}
	if !hasSale {
		return false, false, nil
	}
	if order.Status == enums.OrderStatusShipped || order.Status == enums.OrderStatusCompleted {
		logCtx := s.logg.WithOrderID(ctx, order.ID.String())
		s.logg.Warn(logCtx, "payment reversed after shipment; stock left untouched pending manual review")
		return false, true, nil
	}
	hasRestock, err := s.stock.HasMovementForOrder(ctx, tx, order.ID, enums.MovementKindRestock)
	if err != nil {
		return false, false, err
	}
	hasReturn, err := s.stock.HasMovementForOrder(ctx, tx, order.ID, enums.MovementKindReturn)
	if err != nil {
		return false, false, err
	}
	if hasRestock || hasReturn {
		return false, false, nil
	}
	lines, err := s.repo.WithTx(tx).FindOrderLines(ctx, order.ID)
	if err != nil {
		return false, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order lines")
	}
	for _, line := range lines {
		movement, err := s.stock.ApplyMovement(ctx, tx, stock.MovementInput{
			VariantID: line.VariantID,
			Kind:      enums.MovementKindRestock,
			Quantity:  line.Qty,
			Actor:     actor,
			OrderID:   &order.ID,
		})
		if err != nil {
			return false, false, err
		}
		if err := s.emitMovement(ctx, tx, actor, movement); err != nil {
			return false, false, err
		}
	}
	return true, false, nil
}

// recordReturn writes one return movement per line, exactly once per order.
func (s *service) recordReturn(ctx context.Context, tx *gorm.DB, order *models.Order, actor string) error {
	has, err := s.stock.HasMovementForOrder(ctx, tx, order.ID, enums.MovementKindReturn)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	lines, err := s.repo.WithTx(tx).FindOrderLines(ctx, order.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order lines")
	}
	for _, line := range lines {
		movement, err := s.stock.ApplyMovement(ctx, tx, stock.MovementInput{
			VariantID: line.VariantID,
			Kind:      enums.MovementKindReturn,
			Quantity:  line.Qty,
			Actor:     actor,
			OrderID:   &order.ID,
		})
		if err != nil {
			return err
		}
		if err := s.emitMovement(ctx, tx, actor, movement); err != nil {
			return err
		}
	}
	return nil
}

// emitMovement queues a stock_movement_applied event in the same transaction
// as the movement row it describes.
func (s *service) emitMovement(ctx context.Context, tx *gorm.DB, actor string, movement *models.StockMovement) error {
	var orderID uuid.UUID
	if movement.OrderID != nil {
		orderID = *movement.OrderID
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventStockMovementApplied,
		AggregateType: enums.AggregateStockVariant,
		AggregateID:   movement.VariantID,
		Version:       1,
		Actor:         &outbox.ActorRef{ID: actor},
		Data: StockMovementAppliedEvent{
			MovementID: movement.ID,
			VariantID:  movement.VariantID,
			OrderID:    orderID,
			Kind:       movement.Kind,
			Quantity:   movement.Quantity,
			NewQty:     movement.NewQty,
		},
	})
}

func (s *service) setStatus(ctx context.Context, tx *gorm.DB, order *models.Order, target enums.OrderStatus, actor string, eventType enums.OutboxEventType) error {
	now := s.now()
	if err := s.repo.WithTx(tx).UpdateOrderStatus(ctx, order.ID, target, now); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
	}
	from := order.Status
	order.Status = target
	order.StatusChangedAt = now
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Version:       1,
		Actor:         &outbox.ActorRef{ID: actor},
		Data: OrderStateChangedEvent{
			OrderID: order.ID,
			From:    from,
			To:      target,
		},
	})
}

func validateCreateInput(input CreateOrderInput) error {
	if input.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if input.Actor == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "actor required")
	}
	if len(input.Lines) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "order requires at least one line")
	}
	if input.Delivery.Name == "" || input.Delivery.Address == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "delivery name and address required")
	}
	seen := make(map[uuid.UUID]struct{}, len(input.Lines))
	for _, line := range input.Lines {
		if line.VariantID == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "line variant id required")
		}
		if line.Qty <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "line quantity must be positive")
		}
		if line.UnitPriceCents < 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "line unit price cannot be negative")
		}
		if _, dup := seen[line.VariantID]; dup {
			return pkgerrors.New(pkgerrors.CodeValidation, "duplicate variant in order lines")
		}
		seen[line.VariantID] = struct{}{}
	}
	return nil
}

func classifyLookupError(err error, entity string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, entity+" not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load "+entity)
}
