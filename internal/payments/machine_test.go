package payments

import (
	"testing"
	"time"

	"github.com/velara-studio/velara-backend/pkg/db/models"
	"github.com/velara-studio/velara-backend/pkg/enums"
	pkgerrors "github.com/velara-studio/velara-backend/pkg/errors"
)

func TestCanTransitionMatrix(t *testing.T) {
	allowed := map[enums.PaymentStatus][]enums.PaymentStatus{
		enums.PaymentStatusPending: {
			enums.PaymentStatusPendingApproval,
			enums.PaymentStatusApproved,
			enums.PaymentStatusRejected,
			enums.PaymentStatusCancelled,
		},
		enums.PaymentStatusPendingApproval: {
			enums.PaymentStatusApproved,
			enums.PaymentStatusRejected,
			enums.PaymentStatusCancelled,
		},
		enums.PaymentStatusApproved:  {enums.PaymentStatusCancelled},
		enums.PaymentStatusRejected:  {},
		enums.PaymentStatusCancelled: {},
	}

	all := []enums.PaymentStatus{
		enums.PaymentStatusPending,
		enums.PaymentStatusPendingApproval,
		enums.PaymentStatusApproved,
		enums.PaymentStatusRejected,
		enums.PaymentStatusCancelled,
	}
	for _, from := range all {
		allowedSet := map[enums.PaymentStatus]bool{}
		for _, to := range allowed[from] {
			allowedSet[to] = true
		}
		for _, to := range all {
			if got := CanTransition(from, to); got != allowedSet[to] {
				t.Fatalf("CanTransition(%s, %s) = %v, want %v", from, to, got, allowedSet[to])
			}
		}
	}
}

func TestApprovedNeverRejects(t *testing.T) {
	if CanTransition(enums.PaymentStatusApproved, enums.PaymentStatusRejected) {
		t.Fatal("approved payments must never flip to rejected")
	}
}

func TestApplyApproval(t *testing.T) {
	code := "AUTH-77"
	payment := &models.Payment{Status: enums.PaymentStatusPendingApproval}
	now := time.Now()

	if err := Apply(payment, enums.PaymentStatusApproved, &code, now); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if payment.Status != enums.PaymentStatusApproved {
		t.Fatalf("unexpected status %s", payment.Status)
	}
	if payment.ApprovalCode == nil || *payment.ApprovalCode != code {
		t.Fatal("approval code not recorded")
	}
	if payment.DecidedAt == nil || !payment.DecidedAt.Equal(now) {
		t.Fatal("decided_at not stamped")
	}
}

func TestApplyRejectionRecordsReason(t *testing.T) {
	reason := "card declined"
	payment := &models.Payment{Status: enums.PaymentStatusPending}

	if err := Apply(payment, enums.PaymentStatusRejected, &reason, time.Now()); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if payment.RejectionReason == nil || *payment.RejectionReason != reason {
		t.Fatal("rejection reason not recorded")
	}
}

func TestApplyIsIdempotentOnSameStatus(t *testing.T) {
	decided := time.Now().Add(-time.Hour)
	payment := &models.Payment{Status: enums.PaymentStatusApproved, DecidedAt: &decided}

	if err := Apply(payment, enums.PaymentStatusApproved, nil, time.Now()); err != nil {
		t.Fatalf("replayed decision must be a no-op, got %v", err)
	}
	if !payment.DecidedAt.Equal(decided) {
		t.Fatal("replay must not restamp decided_at")
	}
}

func TestApplyTerminalState(t *testing.T) {
	payment := &models.Payment{Status: enums.PaymentStatusRejected}
	err := Apply(payment, enums.PaymentStatusApproved, nil, time.Now())
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeTerminalState {
		t.Fatalf("expected terminal state error, got %v", err)
	}
}

func TestApplyDisallowedTransition(t *testing.T) {
	payment := &models.Payment{Status: enums.PaymentStatusApproved}
	err := Apply(payment, enums.PaymentStatusPending, nil, time.Now())
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
	if payment.Status != enums.PaymentStatusApproved {
		t.Fatal("failed transition must not mutate the payment")
	}
}

func TestDecisionStatusFor(t *testing.T) {
	tests := []struct {
		decision Decision
		want     enums.PaymentStatus
	}{
		{DecisionApprove, enums.PaymentStatusApproved},
		{DecisionReject, enums.PaymentStatusRejected},
		{DecisionCancel, enums.PaymentStatusCancelled},
	}
	for _, tt := range tests {
		got, err := tt.decision.StatusFor()
		if err != nil {
			t.Fatalf("%s: %v", tt.decision, err)
		}
		if got != tt.want {
			t.Fatalf("%s: got %s want %s", tt.decision, got, tt.want)
		}
	}
	if _, err := Decision("void").StatusFor(); err == nil {
		t.Fatal("unknown decision must error")
	}
}
