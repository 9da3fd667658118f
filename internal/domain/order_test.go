package domain

import (
	"errors"
	"math"
	"testing"
	"time"
)

func validOrder() Order {
	now := time.Now().UTC()
	return Order{
		ID:         "order-1",
		ProductID:  "product-1",
		Qty:        2,
		PriceMinor: 120000,
		TotalMinor: 240000,
		Status:     OrderStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestCanTransition_Table(t *testing.T) {
	cases := []struct {
		name    string
		from    OrderStatus
		to      OrderStatus
		allowed bool
	}{
		{"pending to processing", OrderStatusPending, OrderStatusProcessing, true},
		{"pending to completed", OrderStatusPending, OrderStatusCompleted, true},
		{"pending to failed_stock", OrderStatusPending, OrderStatusFailedStock, true},
		{"pending to failed_payment", OrderStatusPending, OrderStatusFailedPayment, true},
		{"processing to completed", OrderStatusProcessing, OrderStatusCompleted, true},
		{"processing to failed_stock", OrderStatusProcessing, OrderStatusFailedStock, true},
		{"processing to pending reversed", OrderStatusProcessing, OrderStatusPending, false},
		{"completed is terminal", OrderStatusCompleted, OrderStatusPending, false},
		{"completed to failed_stock", OrderStatusCompleted, OrderStatusFailedStock, false},
		{"failed_stock is terminal", OrderStatusFailedStock, OrderStatusCompleted, false},
		{"failed_payment is terminal", OrderStatusFailedPayment, OrderStatusPending, false},
		{"unknown status", OrderStatus("shipped"), OrderStatusCompleted, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanTransition(tc.from, tc.to); got != tc.allowed {
				t.Fatalf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.allowed)
			}
		})
	}
}

func TestOrder_TransitionRejectsTerminalExit(t *testing.T) {
	order := validOrder()
	order.Status = OrderStatusCompleted

	if err := order.Transition(OrderStatusFailedStock); err == nil {
		t.Fatal("expected error leaving terminal status")
	}
	if order.Status != OrderStatusCompleted {
		t.Fatalf("status must not change on rejected transition, got %s", order.Status)
	}
}

func TestOrder_TransitionUpdatesTimestamp(t *testing.T) {
	order := validOrder()
	before := order.UpdatedAt

	if err := order.Transition(OrderStatusProcessing); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if order.Status != OrderStatusProcessing {
		t.Fatalf("expected processing, got %s", order.Status)
	}
	if order.UpdatedAt.Before(before) {
		t.Fatal("updated_at must move forward")
	}
}

func TestOrder_ValidateInvariants(t *testing.T) {
	order := validOrder()
	if errs := order.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("valid order produced errors: %v", errs)
	}

	order.TotalMinor = 999
	errs := order.ValidateInvariants()
	if len(errs) == 0 {
		t.Fatal("expected total mismatch error")
	}
	found := false
	for _, err := range errs {
		if err == ErrTotalMismatch {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected ErrTotalMismatch, got %v", errs)
	}
}

func TestOrderTotal(t *testing.T) {
	cases := []struct {
		name       string
		qty        int32
		priceMinor int64
		want       int64
		wantErr    error
	}{
		{"typical order", 2, 120000, 240000, nil},
		{"free product", 3, 0, 0, nil},
		{"zero qty", 0, 1000, 0, ErrQtyInvalid},
		{"negative qty", -1, 1000, 0, ErrQtyInvalid},
		{"negative price", 1, -1, 0, ErrPriceNegative},
		{"overflow", math.MaxInt32, math.MaxInt64 / 2, 0, ErrTotalOverflow},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := OrderTotal(tc.qty, tc.priceMinor)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("OrderTotal(%d, %d) error = %v, want %v", tc.qty, tc.priceMinor, err, tc.wantErr)
			}
			if got != tc.want {
				t.Fatalf("OrderTotal(%d, %d) = %d, want %d", tc.qty, tc.priceMinor, got, tc.want)
			}
		})
	}
}

func TestOrderStatus_Terminal(t *testing.T) {
	for _, s := range []OrderStatus{OrderStatusCompleted, OrderStatusFailedStock, OrderStatusFailedPayment} {
		if !s.Terminal() {
			t.Fatalf("expected %s to be terminal", s)
		}
	}
	for _, s := range []OrderStatus{OrderStatusPending, OrderStatusProcessing} {
		if s.Terminal() {
			t.Fatalf("expected %s to be non-terminal", s)
		}
	}
	if OrderStatus("shipped").Terminal() {
		t.Fatal("unknown status must not be terminal")
	}
}
