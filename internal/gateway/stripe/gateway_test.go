package stripe

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
)

func TestChargeMapping(t *testing.T) {
	// Charge.PaymentMethod is the raw method token in this API version, not
	// an expandable object.
	ch := &stripe.Charge{
		ID:            "ch_test_1",
		PaymentMethod: "pm_test_1",
		ReceiptURL:    "https://pay.example/receipt",
		PaymentMethodDetails: &stripe.ChargePaymentMethodDetails{
			Type: stripe.ChargePaymentMethodDetailsTypeCard,
			Card: &stripe.ChargePaymentMethodDetailsCard{
				Brand: stripe.PaymentMethodCardBrandVisa,
				Last4: "4242",
			},
		},
	}

	d := chargeDetails(ch)
	assert.Equal(t, "card", d.Type)
	assert.Equal(t, "visa", d.Brand)
	assert.Equal(t, "4242", d.Last4)
	assert.Equal(t, "pm_test_1", ch.PaymentMethod)
}

func TestCallCtx(t *testing.T) {
	t.Run("applies the configured deadline", func(t *testing.T) {
		g := New("sk_test_key", Config{Timeout: time.Minute})
		ctx, cancel := g.callCtx(context.Background())
		defer cancel()

		deadline, ok := ctx.Deadline()
		require.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)
	})

	t.Run("zero timeout leaves the context unbounded", func(t *testing.T) {
		g := New("sk_test_key", Config{})
		ctx, cancel := g.callCtx(context.Background())
		defer cancel()

		_, ok := ctx.Deadline()
		assert.False(t, ok)
	})
}
