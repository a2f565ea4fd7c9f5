package models

import "testing"

func TestCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		from OrderStatus
		to   OrderStatus
		want bool
	}{
		{name: "draft to pending payment", from: StatusDraft, to: StatusPendingPayment, want: true},
		{name: "draft to quote requested", from: StatusDraft, to: StatusQuoteRequested, want: true},
		{name: "pending payment to paid", from: StatusPendingPayment, to: StatusPaid, want: true},
		{name: "quote flow", from: StatusQuoteSent, to: StatusQuoteApproved, want: true},
		{name: "quote approved to pending payment", from: StatusQuoteApproved, to: StatusPendingPayment, want: true},
		{name: "paid to shipped skips processing", from: StatusPaid, to: StatusShipped, want: true},
		{name: "shipped to delivered", from: StatusShipped, to: StatusDelivered, want: true},
		{name: "delivered to refunded", from: StatusDelivered, to: StatusRefunded, want: true},

		{name: "paid back to pending payment", from: StatusPaid, to: StatusPendingPayment, want: false},
		{name: "cancelled is terminal", from: StatusCancelled, to: StatusPendingPayment, want: false},
		{name: "refunded is terminal", from: StatusRefunded, to: StatusPaid, want: false},
		{name: "shipped cannot cancel", from: StatusShipped, to: StatusCancelled, want: false},
		{name: "delivered cannot cancel", from: StatusDelivered, to: StatusCancelled, want: false},
		{name: "draft cannot jump to paid", from: StatusDraft, to: StatusPaid, want: false},
		{name: "quote requested cannot take payment", from: StatusQuoteRequested, to: StatusPaid, want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := CanTransition(tc.from, tc.to); got != tc.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
			}
		})
	}
}

func TestPayable(t *testing.T) {
	t.Parallel()

	payable := map[OrderStatus]bool{
		StatusDraft:          true,
		StatusPendingPayment: true,
		StatusQuoteApproved:  true,
	}

	all := []OrderStatus{
		StatusDraft, StatusQuoteRequested, StatusQuoteSent, StatusQuoteApproved,
		StatusPendingPayment, StatusPaid, StatusProcessing, StatusShipped,
		StatusDelivered, StatusCancelled, StatusRefunded,
	}
	for _, status := range all {
		if got := status.Payable(); got != payable[status] {
			t.Errorf("%s.Payable() = %v, want %v", status, got, payable[status])
		}
	}
}

func TestTerminal(t *testing.T) {
	t.Parallel()

	if !StatusCancelled.Terminal() || !StatusRefunded.Terminal() {
		t.Error("cancelled and refunded must be terminal")
	}
	if StatusPaid.Terminal() || StatusDelivered.Terminal() {
		t.Error("paid and delivered are not terminal")
	}
}

func TestPaymentStatusTerminal(t *testing.T) {
	t.Parallel()

	terminal := []PaymentStatus{PaymentCompleted, PaymentFailed, PaymentCancelled}
	for _, status := range terminal {
		if !status.Terminal() {
			t.Errorf("%s must be terminal", status)
		}
	}
	if PaymentPending.Terminal() || PaymentProcessing.Terminal() {
		t.Error("pending and processing are not terminal")
	}
}
