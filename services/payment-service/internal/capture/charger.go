package capture

import (
	"context"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/paymentintent"

	"github.com/mahmud-sazid/orderflow/services/payment-service/internal/model"
)

// Charger collects the total for an order from a payment provider.
type Charger interface {
	Charge(ctx context.Context, order model.Order) error
	ProviderID() string
}

type StripeCharger struct {
	secretKey string
	currency  string
}

func NewStripeCharger(secretKey, currency string) *StripeCharger {
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}
	return &StripeCharger{
		secretKey: strings.TrimSpace(secretKey),
		currency:  currency,
	}
}

func (c *StripeCharger) ProviderID() string {
	return "stripe"
}

// Charge creates a confirmed payment intent for the order total. The order id
// doubles as the idempotency key so a retried capture never double-charges.
func (c *StripeCharger) Charge(ctx context.Context, order model.Order) error {
	stripe.Key = c.secretKey

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(int64(order.Total * 100)),
		Currency: stripe.String(c.currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
		Confirm:       stripe.Bool(true),
		PaymentMethod: stripe.String("pm_card_visa"),
		Metadata: map[string]string{
			"order_id":   order.ID,
			"product_id": order.ProductID,
		},
	}
	params.Context = ctx
	params.IdempotencyKey = stripe.String("order-capture-" + order.ID)

	if _, err := paymentintent.New(params); err != nil {
		return fmt.Errorf("stripe capture for order %s: %w", order.ID, err)
	}
	return nil
}

// NoopCharger settles every order instantly. It is the default when no Stripe
// key is configured, which keeps local saga runs free of provider calls.
type NoopCharger struct{}

func NewNoopCharger() *NoopCharger {
	return &NoopCharger{}
}

func (c *NoopCharger) ProviderID() string {
	return "noop"
}

func (c *NoopCharger) Charge(_ context.Context, _ model.Order) error {
	return nil
}
