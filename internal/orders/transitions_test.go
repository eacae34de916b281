package orders

import (
	"testing"

	"github.com/velara-studio/velara-backend/pkg/enums"
	pkgerrors "github.com/velara-studio/velara-backend/pkg/errors"
)

func TestValidateTransitionMatrix(t *testing.T) {
	t.Parallel()

	approved := enums.PaymentStatusApproved
	rejected := enums.PaymentStatusRejected
	pending := enums.PaymentStatusPending

	cases := []struct {
		name     string
		from     enums.OrderStatus
		to       enums.OrderStatus
		payment  enums.PaymentStatus
		wantCode pkgerrors.Code
	}{
		{"pending to validated", enums.OrderStatusPending, enums.OrderStatusStockValidated, approved, ""},
		{"pending to preparing", enums.OrderStatusPending, enums.OrderStatusPreparing, approved, ""},
		{"pending to cancelled unpaid", enums.OrderStatusPending, enums.OrderStatusCancelled, pending, ""},
		{"validated to preparing", enums.OrderStatusStockValidated, enums.OrderStatusPreparing, approved, ""},
		{"validated to cancelled", enums.OrderStatusStockValidated, enums.OrderStatusCancelled, pending, ""},
		{"preparing to shipped", enums.OrderStatusPreparing, enums.OrderStatusShipped, approved, ""},
		{"preparing to completed", enums.OrderStatusPreparing, enums.OrderStatusCompleted, approved, ""},
		{"preparing to cancelled after reversal", enums.OrderStatusPreparing, enums.OrderStatusCancelled, rejected, ""},
		{"shipped to completed", enums.OrderStatusShipped, enums.OrderStatusCompleted, approved, ""},
		{"shipped to returned", enums.OrderStatusShipped, enums.OrderStatusReturned, approved, ""},
		{"returned to cancelled", enums.OrderStatusReturned, enums.OrderStatusCancelled, approved, ""},

		{"preparing without approval", enums.OrderStatusPending, enums.OrderStatusPreparing, pending, pkgerrors.CodeStateConflict},
		{"preparing with rejected payment", enums.OrderStatusStockValidated, enums.OrderStatusPreparing, rejected, pkgerrors.CodeStateConflict},
		{"cancel preparing while paid", enums.OrderStatusPreparing, enums.OrderStatusCancelled, approved, pkgerrors.CodeStateConflict},
		{"cancel shipped", enums.OrderStatusShipped, enums.OrderStatusCancelled, rejected, pkgerrors.CodeStateConflict},
		{"skip to shipped", enums.OrderStatusPending, enums.OrderStatusShipped, approved, pkgerrors.CodeStateConflict},
		{"return before shipping", enums.OrderStatusPreparing, enums.OrderStatusReturned, approved, pkgerrors.CodeStateConflict},
		{"reopen returned", enums.OrderStatusReturned, enums.OrderStatusPreparing, approved, pkgerrors.CodeStateConflict},

		{"completed is terminal", enums.OrderStatusCompleted, enums.OrderStatusReturned, approved, pkgerrors.CodeTerminalState},
		{"cancelled is terminal", enums.OrderStatusCancelled, enums.OrderStatusPending, pending, pkgerrors.CodeTerminalState},

		{"unknown target", enums.OrderStatusPending, enums.OrderStatus("lost"), pending, pkgerrors.CodeValidation},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateTransition(tc.from, tc.to, tc.payment)
			if tc.wantCode == "" {
				if err != nil {
					t.Fatalf("expected %s -> %s to be allowed, got %v", tc.from, tc.to, err)
				}
				return
			}
			typed := pkgerrors.As(err)
			if typed == nil {
				t.Fatalf("expected coded error, got %v", err)
			}
			if typed.Code() != tc.wantCode {
				t.Fatalf("expected code %s, got %s", tc.wantCode, typed.Code())
			}
		})
	}
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	t.Parallel()

	for _, from := range []enums.OrderStatus{enums.OrderStatusCompleted, enums.OrderStatusCancelled} {
		if targets := orderTransitions[from]; len(targets) != 0 {
			t.Fatalf("expected %s to have no exits, got %v", from, targets)
		}
	}
}
