package orders

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/velara-studio/velara-backend/internal/payments"
	"github.com/velara-studio/velara-backend/internal/stock"
	"github.com/velara-studio/velara-backend/pkg/db/models"
	"github.com/velara-studio/velara-backend/pkg/enums"
	pkgerrors "github.com/velara-studio/velara-backend/pkg/errors"
	"github.com/velara-studio/velara-backend/pkg/logger"
	"github.com/velara-studio/velara-backend/pkg/outbox"
)

type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:orders_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	err = db.AutoMigrate(
		&models.StockVariant{},
		&models.StockMovement{},
		&models.Order{},
		&models.OrderLine{},
		&models.Payment{},
		&models.OutboxEvent{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newCoordinator(t *testing.T) (Service, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	runner := gormTxRunner{db: db}

	stockSvc, err := stock.NewService(stock.NewRepository(db), runner)
	if err != nil {
		t.Fatalf("stock service: %v", err)
	}
	logg := logger.New(logger.Options{ServiceName: "orders-test", Output: io.Discard})
	publisher := outbox.NewService(outbox.NewRepository(db), logg)

	svc, err := NewService(NewRepository(db), payments.NewRepository(db), stockSvc, runner, publisher, logg)
	if err != nil {
		t.Fatalf("orders service: %v", err)
	}
	return svc, db
}

func seedVariant(t *testing.T, db *gorm.DB, qty int) uuid.UUID {
	t.Helper()
	variant := models.StockVariant{
		ID:           uuid.New(),
		ProductID:    uuid.New(),
		Size:         "L",
		Color:        "charcoal",
		AvailableQty: qty,
		Active:       true,
	}
	if err := db.Create(&variant).Error; err != nil {
		t.Fatalf("seed variant: %v", err)
	}
	return variant.ID
}

func variantQty(t *testing.T, db *gorm.DB, variantID uuid.UUID) int {
	t.Helper()
	var variant models.StockVariant
	if err := db.First(&variant, "id = ?", variantID).Error; err != nil {
		t.Fatalf("load variant: %v", err)
	}
	return variant.AvailableQty
}

func loadOrder(t *testing.T, db *gorm.DB, orderID uuid.UUID) models.Order {
	t.Helper()
	order, err := NewRepository(db).FindOrder(context.Background(), orderID)
	if err != nil {
		t.Fatalf("load order: %v", err)
	}
	return *order
}

func movementsForOrder(t *testing.T, db *gorm.DB, orderID uuid.UUID) []models.StockMovement {
	t.Helper()
	movements, err := stock.NewRepository(db).ListMovementsByOrder(context.Background(), orderID)
	if err != nil {
		t.Fatalf("list movements: %v", err)
	}
	return movements
}

func countOutboxEvents(t *testing.T, db *gorm.DB, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var count int64
	err := db.Model(&models.OutboxEvent{}).
		Where("event_type = ?", eventType).
		Count(&count).Error
	if err != nil {
		t.Fatalf("count outbox events: %v", err)
	}
	return count
}

func loadPayment(t *testing.T, db *gorm.DB, orderID uuid.UUID) models.Payment {
	t.Helper()
	var payment models.Payment
	if err := db.First(&payment, "order_id = ?", orderID).Error; err != nil {
		t.Fatalf("load payment: %v", err)
	}
	return payment
}

func placeOrder(t *testing.T, svc Service, variantID uuid.UUID, qty int) *models.Order {
	t.Helper()
	order, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		UserID: uuid.New(),
		Delivery: DeliveryInfo{
			Name:    "Iris Halden",
			Address: "14 Weaver Lane",
			City:    "Ghent",
			Zip:     "9000",
		},
		Lines: []LineInput{{VariantID: variantID, Qty: qty, UnitPriceCents: 2599}},
		Actor: "checkout",
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}

func approve(t *testing.T, svc Service, orderID uuid.UUID) {
	t.Helper()
	code := "AUTH-OK"
	err := svc.RecordPaymentDecision(context.Background(), PaymentDecisionInput{
		OrderID:      orderID,
		Decision:     payments.DecisionApprove,
		CodeOrReason: &code,
		Actor:        "psp-webhook",
	})
	if err != nil {
		t.Fatalf("approve payment: %v", err)
	}
}

func mustTransition(t *testing.T, svc Service, orderID uuid.UUID, target enums.OrderStatus) {
	t.Helper()
	err := svc.TransitionOrder(context.Background(), TransitionInput{
		OrderID: orderID,
		Target:  target,
		Actor:   "ops",
	})
	if err != nil {
		t.Fatalf("transition to %s: %v", target, err)
	}
}

func TestCreateOrderOpensPendingWithPayment(t *testing.T) {
	t.Parallel()

	svc, db := newCoordinator(t)
	variantID := seedVariant(t, db, 8)

	order := placeOrder(t, svc, variantID, 3)

	if order.Status != enums.OrderStatusPending {
		t.Fatalf("expected pending, got %s", order.Status)
	}
	if order.TotalCents != 3*2599 {
		t.Fatalf("expected total %d, got %d", 3*2599, order.TotalCents)
	}
	payment := loadPayment(t, db, order.ID)
	if payment.Status != enums.PaymentStatusPending {
		t.Fatalf("expected pending payment, got %s", payment.Status)
	}
	if got := variantQty(t, db, variantID); got != 8 {
		t.Fatalf("creation must not touch stock, qty = %d", got)
	}
	var movements int64
	if err := db.Model(&models.StockMovement{}).Count(&movements).Error; err != nil {
		t.Fatalf("count movements: %v", err)
	}
	if movements != 0 {
		t.Fatalf("expected no movements, got %d", movements)
	}
}

func TestCreateOrderInsufficientStock(t *testing.T) {
	t.Parallel()

	svc, db := newCoordinator(t)
	variantID := seedVariant(t, db, 2)

	_, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		UserID:   uuid.New(),
		Delivery: DeliveryInfo{Name: "Iris Halden", Address: "14 Weaver Lane", City: "Ghent", Zip: "9000"},
		Lines:    []LineInput{{VariantID: variantID, Qty: 5, UnitPriceCents: 2599}},
		Actor:    "checkout",
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeInsufficientStock {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	var orderCount int64
	if err := db.Model(&models.Order{}).Count(&orderCount).Error; err != nil {
		t.Fatalf("count orders: %v", err)
	}
	if orderCount != 0 {
		t.Fatalf("expected no order rows, got %d", orderCount)
	}
}

func TestApprovalRecordsSaleOnce(t *testing.T) {
	t.Parallel()

	svc, db := newCoordinator(t)
	variantID := seedVariant(t, db, 8)
	order := placeOrder(t, svc, variantID, 3)

	approve(t, svc, order.ID)

	if got := variantQty(t, db, variantID); got != 5 {
		t.Fatalf("expected qty 5 after sale, got %d", got)
	}
	reloaded := loadOrder(t, db, order.ID)
	if reloaded.Status != enums.OrderStatusStockValidated {
		t.Fatalf("expected %s, got %s", enums.OrderStatusStockValidated, reloaded.Status)
	}

	// Provider retry delivering the same approval must not decrement again.
	approve(t, svc, order.ID)
	if got := variantQty(t, db, variantID); got != 5 {
		t.Fatalf("replayed approval changed qty to %d", got)
	}
	if got := countOutboxEvents(t, db, enums.EventStockMovementApplied); got != 1 {
		t.Fatalf("expected one queued movement event, got %d", got)
	}
}

func TestApprovalFailsAtomicallyWhenStockRanOut(t *testing.T) {
	t.Parallel()

	svc, db := newCoordinator(t)
	variantID := seedVariant(t, db, 5)
	first := placeOrder(t, svc, variantID, 4)
	second := placeOrder(t, svc, variantID, 4)

	approve(t, svc, first.ID)

	code := "AUTH-OK"
	err := svc.RecordPaymentDecision(context.Background(), PaymentDecisionInput{
		OrderID:      second.ID,
		Decision:     payments.DecisionApprove,
		CodeOrReason: &code,
		Actor:        "psp-webhook",
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeInsufficientStock {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	// The whole decision rolls back: payment stays undecided, order untouched.
	payment := loadPayment(t, db, second.ID)
	if payment.Status != enums.PaymentStatusPending {
		t.Fatalf("expected payment still pending, got %s", payment.Status)
	}
	reloaded := loadOrder(t, db, second.ID)
	if reloaded.Status != enums.OrderStatusPending {
		t.Fatalf("expected order still pending, got %s", reloaded.Status)
	}
	if got := variantQty(t, db, variantID); got != 1 {
		t.Fatalf("expected qty 1, got %d", got)
	}
}

func TestRejectionLeavesStockUntouched(t *testing.T) {
	t.Parallel()

	svc, db := newCoordinator(t)
	variantID := seedVariant(t, db, 8)
	order := placeOrder(t, svc, variantID, 3)

	reason := "card declined"
	err := svc.RecordPaymentDecision(context.Background(), PaymentDecisionInput{
		OrderID:      order.ID,
		Decision:     payments.DecisionReject,
		CodeOrReason: &reason,
		Actor:        "psp-webhook",
	})
	if err != nil {
		t.Fatalf("reject payment: %v", err)
	}

	payment := loadPayment(t, db, order.ID)
	if payment.Status != enums.PaymentStatusRejected {
		t.Fatalf("expected rejected, got %s", payment.Status)
	}
	if got := variantQty(t, db, variantID); got != 8 {
		t.Fatalf("rejection must not touch stock, qty = %d", got)
	}
}

func TestCancelBeforeShipmentRestocks(t *testing.T) {
	t.Parallel()

	svc, db := newCoordinator(t)
	variantID := seedVariant(t, db, 8)
	order := placeOrder(t, svc, variantID, 3)
	approve(t, svc, order.ID)

	mustTransition(t, svc, order.ID, enums.OrderStatusCancelled)

	if got := variantQty(t, db, variantID); got != 8 {
		t.Fatalf("expected restock back to 8, got %d", got)
	}
	payment := loadPayment(t, db, order.ID)
	if payment.Status != enums.PaymentStatusCancelled {
		t.Fatalf("expected payment cancelled, got %s", payment.Status)
	}
	reloaded := loadOrder(t, db, order.ID)
	if reloaded.Status != enums.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", reloaded.Status)
	}
}

func TestCancelAfterShipmentRefused(t *testing.T) {
	t.Parallel()

	svc, db := newCoordinator(t)
	variantID := seedVariant(t, db, 8)
	order := placeOrder(t, svc, variantID, 3)
	approve(t, svc, order.ID)
	mustTransition(t, svc, order.ID, enums.OrderStatusPreparing)
	mustTransition(t, svc, order.ID, enums.OrderStatusShipped)

	err := svc.TransitionOrder(context.Background(), TransitionInput{
		OrderID: order.ID,
		Target:  enums.OrderStatusCancelled,
		Actor:   "ops",
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
	if got := variantQty(t, db, variantID); got != 5 {
		t.Fatalf("refused cancel must not touch stock, qty = %d", got)
	}
}

func TestReturnThenCancelRestocksExactlyOnce(t *testing.T) {
	t.Parallel()

	svc, db := newCoordinator(t)
	variantID := seedVariant(t, db, 8)
	order := placeOrder(t, svc, variantID, 3)
	approve(t, svc, order.ID)
	mustTransition(t, svc, order.ID, enums.OrderStatusPreparing)
	mustTransition(t, svc, order.ID, enums.OrderStatusShipped)

	mustTransition(t, svc, order.ID, enums.OrderStatusReturned)
	if got := variantQty(t, db, variantID); got != 8 {
		t.Fatalf("expected return to restore qty to 8, got %d", got)
	}

	// Closing the returned order must not add the units a second time.
	mustTransition(t, svc, order.ID, enums.OrderStatusCancelled)
	if got := variantQty(t, db, variantID); got != 8 {
		t.Fatalf("cancel after return double-counted stock, qty = %d", got)
	}
	payment := loadPayment(t, db, order.ID)
	if payment.Status != enums.PaymentStatusCancelled {
		t.Fatalf("expected payment cancelled, got %s", payment.Status)
	}

	movements := movementsForOrder(t, db, order.ID)
	if len(movements) != 2 {
		t.Fatalf("expected sale + return only, got %d movements", len(movements))
	}
	if movements[0].Kind != enums.MovementKindSale || movements[1].Kind != enums.MovementKindReturn {
		t.Fatalf("unexpected movement kinds: %s, %s", movements[0].Kind, movements[1].Kind)
	}
}

func TestPaymentCancelWhilePreparingRestocksThenOrderCancels(t *testing.T) {
	t.Parallel()

	svc, db := newCoordinator(t)
	variantID := seedVariant(t, db, 8)
	order := placeOrder(t, svc, variantID, 3)
	approve(t, svc, order.ID)
	mustTransition(t, svc, order.ID, enums.OrderStatusPreparing)

	// Refund lands while the warehouse is still picking: stock comes back,
	// but the order stays where it is until someone closes it.
	reason := "refund issued"
	err := svc.RecordPaymentDecision(context.Background(), PaymentDecisionInput{
		OrderID:      order.ID,
		Decision:     payments.DecisionCancel,
		CodeOrReason: &reason,
		Actor:        "psp-webhook",
	})
	if err != nil {
		t.Fatalf("cancel payment: %v", err)
	}
	if got := variantQty(t, db, variantID); got != 8 {
		t.Fatalf("expected restock to 8, got %d", got)
	}
	if got := loadOrder(t, db, order.ID).Status; got != enums.OrderStatusPreparing {
		t.Fatalf("payment cancel must not move the order, got %s", got)
	}

	// With the payment reversed the preparing order may now be cancelled.
	mustTransition(t, svc, order.ID, enums.OrderStatusCancelled)
	if got := loadOrder(t, db, order.ID).Status; got != enums.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", got)
	}
	if got := variantQty(t, db, variantID); got != 8 {
		t.Fatalf("order cancel double-counted stock, qty = %d", got)
	}

	movements := movementsForOrder(t, db, order.ID)
	if len(movements) != 2 {
		t.Fatalf("expected sale + restock only, got %d movements", len(movements))
	}
	if movements[0].Kind != enums.MovementKindSale || movements[1].Kind != enums.MovementKindRestock {
		t.Fatalf("unexpected movement kinds: %s, %s", movements[0].Kind, movements[1].Kind)
	}
	if got := countOutboxEvents(t, db, enums.EventStockMovementApplied); got != 2 {
		t.Fatalf("expected two queued movement events, got %d", got)
	}
}

func TestTransitionToCurrentStatusIsNoOp(t *testing.T) {
	t.Parallel()

	svc, db := newCoordinator(t)
	variantID := seedVariant(t, db, 8)
	order := placeOrder(t, svc, variantID, 3)

	before := loadOrder(t, db, order.ID)
	mustTransition(t, svc, order.ID, enums.OrderStatusPending)
	after := loadOrder(t, db, order.ID)

	if !after.StatusChangedAt.Equal(before.StatusChangedAt) {
		t.Fatalf("no-op transition moved status_changed_at")
	}
}

func TestPaymentReversalBeforeShipmentRestocks(t *testing.T) {
	t.Parallel()

	svc, db := newCoordinator(t)
	variantID := seedVariant(t, db, 8)
	order := placeOrder(t, svc, variantID, 3)
	approve(t, svc, order.ID)

	reason := "chargeback"
	err := svc.RecordPaymentDecision(context.Background(), PaymentDecisionInput{
		OrderID:      order.ID,
		Decision:     payments.DecisionCancel,
		CodeOrReason: &reason,
		Actor:        "psp-webhook",
	})
	if err != nil {
		t.Fatalf("cancel payment: %v", err)
	}
	if got := variantQty(t, db, variantID); got != 8 {
		t.Fatalf("expected restock to 8, got %d", got)
	}

	// The later order cancellation finds the restock already recorded.
	mustTransition(t, svc, order.ID, enums.OrderStatusCancelled)
	if got := variantQty(t, db, variantID); got != 8 {
		t.Fatalf("order cancel double-counted stock, qty = %d", got)
	}
}

func TestPaymentReversalAfterShipmentIsFlaggedNotApplied(t *testing.T) {
	t.Parallel()

	svc, db := newCoordinator(t)
	variantID := seedVariant(t, db, 8)
	order := placeOrder(t, svc, variantID, 3)
	approve(t, svc, order.ID)
	mustTransition(t, svc, order.ID, enums.OrderStatusPreparing)
	mustTransition(t, svc, order.ID, enums.OrderStatusShipped)

	reason := "chargeback"
	err := svc.RecordPaymentDecision(context.Background(), PaymentDecisionInput{
		OrderID:      order.ID,
		Decision:     payments.DecisionCancel,
		CodeOrReason: &reason,
		Actor:        "psp-webhook",
	})
	if err != nil {
		t.Fatalf("cancel payment: %v", err)
	}

	payment := loadPayment(t, db, order.ID)
	if payment.Status != enums.PaymentStatusCancelled {
		t.Fatalf("expected payment cancelled, got %s", payment.Status)
	}
	if got := variantQty(t, db, variantID); got != 5 {
		t.Fatalf("shipped goods must not auto-restock, qty = %d", got)
	}
}

func TestSweepExpiredOrders(t *testing.T) {
	t.Parallel()

	svc, db := newCoordinator(t)
	variantID := seedVariant(t, db, 20)

	stale := placeOrder(t, svc, variantID, 2)
	fresh := placeOrder(t, svc, variantID, 2)
	paid := placeOrder(t, svc, variantID, 2)
	approve(t, svc, paid.ID)

	backdate := time.Now().Add(-48 * time.Hour)
	for _, id := range []uuid.UUID{stale.ID, paid.ID} {
		err := db.Model(&models.Order{}).
			Where("id = ?", id).
			Update("status_changed_at", backdate).Error
		if err != nil {
			t.Fatalf("backdate order: %v", err)
		}
	}

	result, err := svc.SweepExpiredOrders(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.Scanned != 1 || len(result.Cancelled) != 1 || result.Cancelled[0] != stale.ID {
		t.Fatalf("unexpected sweep result: %+v", result)
	}

	if got := loadOrder(t, db, stale.ID).Status; got != enums.OrderStatusCancelled {
		t.Fatalf("expected stale order cancelled, got %s", got)
	}
	if got := loadOrder(t, db, fresh.ID).Status; got != enums.OrderStatusPending {
		t.Fatalf("fresh order must be untouched, got %s", got)
	}
	if got := loadOrder(t, db, paid.ID).Status; got != enums.OrderStatusStockValidated {
		t.Fatalf("paid order must be untouched, got %s", got)
	}
	if got := loadPayment(t, db, stale.ID).Status; got != enums.PaymentStatusCancelled {
		t.Fatalf("expected stale payment cancelled, got %s", got)
	}
}
