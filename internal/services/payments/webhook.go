package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Egham-7/payment-service/internal/models"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v81"
)

// HandleWebhook verifies and processes a Stripe webhook delivery. Events that
// reference unknown payments are acknowledged, otherwise Stripe retries them
// indefinitely.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := s.gateway.ConstructEvent(payload, signature)
	if err != nil {
		return &models.AppError{
			Type:       models.ErrorTypeAuthentication,
			Message:    "invalid webhook signature",
			StatusCode: http.StatusBadRequest,
			Cause:      err,
		}
	}

	seen, err := s.events.Seen(ctx, event.ID)
	if err != nil {
		fiberlog.Warnf("Webhook dedup lookup failed for event %s: %v", event.ID, err)
	}
	if seen {
		fiberlog.Debugf("Skipping already processed webhook event %s", event.ID)
		return nil
	}

	switch event.Type {
	case "checkout.session.completed":
		err = s.handleCheckoutSessionCompleted(ctx, event)
	case "checkout.session.expired":
		err = s.handleCheckoutSessionExpired(ctx, event)
	case "payment_intent.payment_failed":
		err = s.handlePaymentIntentFailed(ctx, event)
	default:
		// Ignore other event types
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.events.Mark(ctx, event.ID); err != nil {
		fiberlog.Warnf("Failed to record webhook event %s as processed: %v", event.ID, err)
	}

	return nil
}

// handleCheckoutSessionCompleted confirms the payment referenced by the
// session metadata and records its payment intent.
func (s *Service) handleCheckoutSessionCompleted(ctx context.Context, event stripe.Event) error {
	sess, err := parseCheckoutSession(event)
	if err != nil {
		return err
	}

	paymentID := sess.Metadata["payment_id"]
	if paymentID == "" {
		fiberlog.Warnf("Checkout session %s completed without payment_id metadata", sess.ID)
		return nil
	}

	updates := map[string]any{}
	if sess.PaymentIntent != nil && sess.PaymentIntent.ID != "" {
		updates["stripe_payment_intent_id"] = sess.PaymentIntent.ID
	}

	if _, err := s.transition(ctx, paymentID, models.PaymentStatusConfirmed, updates); err != nil {
		if isNotFound(err) {
			fiberlog.Warnf("Checkout session %s references unknown payment %s", sess.ID, paymentID)
			return nil
		}
		// A payment already in a terminal state cannot be confirmed; ack so
		// Stripe stops redelivering
		if isInvalidTransition(err) {
			fiberlog.Warnf("Ignoring completion for payment %s: %v", paymentID, err)
			return nil
		}
		return err
	}

	fiberlog.Infof("Payment %s confirmed via checkout session %s", paymentID, sess.ID)
	return nil
}

// handleCheckoutSessionExpired fails a pending payment whose checkout session
// expired before completion.
func (s *Service) handleCheckoutSessionExpired(ctx context.Context, event stripe.Event) error {
	sess, err := parseCheckoutSession(event)
	if err != nil {
		return err
	}

	paymentID := sess.Metadata["payment_id"]
	if paymentID == "" {
		return nil
	}

	payment, err := s.findPayment(ctx, paymentID)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return err
	}
	if payment.Status != models.PaymentStatusPending {
		return nil
	}

	_, err = s.transition(ctx, paymentID, models.PaymentStatusFailed, nil)
	return err
}

// handlePaymentIntentFailed fails the pending payment attached to the intent,
// when one is known. The intent id is only recorded on completion, so a miss
// here is expected and acknowledged.
func (s *Service) handlePaymentIntentFailed(ctx context.Context, event stripe.Event) error {
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return fmt.Errorf("failed to parse payment intent: %w", err)
	}

	var payment models.Payment
	err := s.db.WithContext(ctx).
		Where("stripe_payment_intent_id = ? AND status = ?", intent.ID, models.PaymentStatusPending).
		First(&payment).Error
	if err != nil {
		return nil
	}

	_, err = s.transition(ctx, payment.PaymentID, models.PaymentStatusFailed, nil)
	return err
}

func parseCheckoutSession(event stripe.Event) (*stripe.CheckoutSession, error) {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, fmt.Errorf("failed to parse checkout session: %w", err)
	}
	return &sess, nil
}

func isNotFound(err error) bool {
	appErr, ok := err.(*models.AppError)
	return ok && appErr.Type == models.ErrorTypeNotFound
}

func isInvalidTransition(err error) bool {
	appErr, ok := err.(*models.AppError)
	return ok && appErr.Type == models.ErrorTypeValidation
}
