package payments

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/checkout/session"
	"github.com/stripe/stripe-go/v81/refund"
	"github.com/stripe/stripe-go/v81/webhook"
)

// Gateway abstracts the payment provider so the service and its tests do not
// talk to Stripe directly.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (*stripe.CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (*stripe.CheckoutSession, error)
	Refund(ctx context.Context, paymentIntentID string) (*stripe.Refund, error)
	ConstructEvent(payload []byte, signature string) (stripe.Event, error)
}

// CheckoutSessionParams contains parameters for creating a checkout session
type CheckoutSessionParams struct {
	PaymentID  string
	OrderID    string
	Amount     float64
	Currency   string
	SuccessURL string
	CancelURL  string
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

type stripeGateway struct {
	webhookSecret string
}

func NewStripeGateway(cfg StripeConfig) Gateway {
	stripe.Key = cfg.SecretKey

	return &stripeGateway{
		webhookSecret: cfg.WebhookSecret,
	}
}

// CreateCheckoutSession creates a Stripe checkout session in payment mode with
// a single ad-hoc line item for the order.
func (g *stripeGateway) CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	sessionParams := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(params.Currency)),
					UnitAmount: stripe.Int64(toMinorUnits(params.Amount)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(fmt.Sprintf("Order %s", params.OrderID)),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(params.SuccessURL),
		CancelURL:  stripe.String(params.CancelURL),
		Metadata: map[string]string{
			"payment_id": params.PaymentID,
			"order_id":   params.OrderID,
		},
	}
	sessionParams.Context = ctx

	sess, err := session.New(sessionParams)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	return sess, nil
}

func (g *stripeGateway) GetCheckoutSession(ctx context.Context, sessionID string) (*stripe.CheckoutSession, error) {
	getParams := &stripe.CheckoutSessionParams{}
	getParams.Context = ctx

	sess, err := session.Get(sessionID, getParams)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve checkout session %s: %w", sessionID, err)
	}

	return sess, nil
}

func (g *stripeGateway) Refund(ctx context.Context, paymentIntentID string) (*stripe.Refund, error) {
	refundParams := &stripe.RefundParams{
		PaymentIntent: stripe.String(paymentIntentID),
	}
	refundParams.Context = ctx

	ref, err := refund.New(refundParams)
	if err != nil {
		return nil, fmt.Errorf("failed to create refund: %w", err)
	}

	return ref, nil
}

func (g *stripeGateway) ConstructEvent(payload []byte, signature string) (stripe.Event, error) {
	return webhook.ConstructEvent(payload, signature, g.webhookSecret)
}

// toMinorUnits converts a decimal amount to the smallest currency unit.
// Rounded, not truncated: 19.99 must not become 1998 cents.
func toMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
