package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Egham-7/payment-service/internal/models"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v81"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultListLimit = 50

// Service implements the payment lifecycle on top of the database and the
// payment provider gateway.
type Service struct {
	db      *gorm.DB
	gateway Gateway
	events  *EventStore
	sync    singleflight.Group
}

func NewService(db *gorm.DB, gateway Gateway, events *EventStore) *Service {
	return &Service{
		db:      db,
		gateway: gateway,
		events:  events,
	}
}

// AutoMigrate runs database migrations for the payments table
func (s *Service) AutoMigrate() error {
	return s.db.AutoMigrate(&models.Payment{})
}

// CreatePayment creates a checkout session with the provider and persists a
// PENDING payment record. Returns the payment and the hosted checkout URL.
// Nothing is persisted when the provider rejects the session.
func (s *Service) CreatePayment(ctx context.Context, params models.CreatePaymentParams) (*models.Payment, string, error) {
	paymentID := uuid.NewString()

	sess, err := s.gateway.CreateCheckoutSession(ctx, CheckoutSessionParams{
		PaymentID:  paymentID,
		OrderID:    params.OrderID,
		Amount:     params.Amount,
		Currency:   params.Currency,
		SuccessURL: params.ReturnURL,
		CancelURL:  params.CancelURL,
	})
	if err != nil {
		return nil, "", models.NewProviderError("failed to create checkout session", err)
	}

	metadata := ""
	if len(params.Metadata) > 0 {
		raw, err := json.Marshal(params.Metadata)
		if err != nil {
			return nil, "", models.NewValidationError("invalid payment metadata", err)
		}
		metadata = string(raw)
	}

	payment := &models.Payment{
		PaymentID:       paymentID,
		Status:          models.PaymentStatusPending,
		Amount:          params.Amount,
		Currency:        params.Currency,
		OrderID:         params.OrderID,
		CustomerID:      params.CustomerID,
		PaymentMethod:   params.PaymentMethod,
		Metadata:        metadata,
		StripeSessionID: &sess.ID,
	}

	if err := s.db.WithContext(ctx).Create(payment).Error; err != nil {
		return nil, "", fmt.Errorf("failed to create payment record: %w", err)
	}

	return payment, sess.URL, nil
}

// GetPayment loads a payment and refreshes its status from the provider when a
// checkout session is attached. The refresh is best-effort: a provider outage
// never fails the read. Concurrent reads of the same payment share one
// provider round trip via singleflight.
func (s *Service) GetPayment(ctx context.Context, paymentID string) (*models.Payment, error) {
	payment, err := s.findPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	if payment.StripeSessionID == nil || payment.Status.IsTerminal() {
		return payment, nil
	}

	refreshed, err, _ := s.sync.Do(paymentID, func() (any, error) {
		return s.refreshFromProvider(ctx, payment)
	})
	if err != nil {
		return nil, err
	}

	return refreshed.(*models.Payment), nil
}

// RefundPayment refunds a confirmed payment through the provider and marks it
// REFUNDED. Only CONFIRMED payments are refundable.
func (s *Service) RefundPayment(ctx context.Context, paymentID string) (*models.Payment, error) {
	payment, err := s.findPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	if payment.Status != models.PaymentStatusConfirmed {
		return nil, models.NewValidationError("Payment cannot be refunded", nil)
	}

	intentID, err := s.resolvePaymentIntent(ctx, payment)
	if err != nil {
		return nil, err
	}

	ref, err := s.gateway.Refund(ctx, intentID)
	if err != nil {
		return nil, models.NewProviderError("failed to refund payment", err)
	}

	if ref.Status != stripe.RefundStatusSucceeded {
		return nil, models.NewProviderError("Refund failed", nil)
	}

	return s.transition(ctx, paymentID, models.PaymentStatusRefunded, nil)
}

// ListPayments returns payments filtered by order and/or status, newest first.
func (s *Service) ListPayments(ctx context.Context, params models.ListPaymentsParams) ([]models.Payment, error) {
	limit := params.Limit
	if limit <= 0 || limit > defaultListLimit {
		limit = defaultListLimit
	}

	query := s.db.WithContext(ctx).Model(&models.Payment{})
	if params.OrderID != "" {
		query = query.Where("order_id = ?", params.OrderID)
	}
	if params.Status != "" {
		query = query.Where("status = ?", params.Status)
	}

	var results []models.Payment
	if err := query.Order("created_at DESC").Limit(limit).Find(&results).Error; err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}

	return results, nil
}

func (s *Service) findPayment(ctx context.Context, paymentID string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		First(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.NewNotFoundError("Payment")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &payment, nil
}

// refreshFromProvider reconciles the local status with the checkout session:
// paid sessions confirm the payment, expired sessions fail a pending one.
func (s *Service) refreshFromProvider(ctx context.Context, payment *models.Payment) (*models.Payment, error) {
	sess, err := s.gateway.GetCheckoutSession(ctx, *payment.StripeSessionID)
	if err != nil {
		fiberlog.Warnf("Status refresh for payment %s failed: %v", payment.PaymentID, err)
		return payment, nil
	}

	switch {
	case sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid && payment.Status != models.PaymentStatusConfirmed:
		updates := map[string]any{}
		if sess.PaymentIntent != nil {
			updates["stripe_payment_intent_id"] = sess.PaymentIntent.ID
		}
		return s.transition(ctx, payment.PaymentID, models.PaymentStatusConfirmed, updates)
	case sess.Status == stripe.CheckoutSessionStatusExpired && payment.Status == models.PaymentStatusPending:
		return s.transition(ctx, payment.PaymentID, models.PaymentStatusFailed, nil)
	default:
		return payment, nil
	}
}

// resolvePaymentIntent returns the stored payment intent id, falling back to a
// session lookup for payments confirmed before the webhook recorded it.
func (s *Service) resolvePaymentIntent(ctx context.Context, payment *models.Payment) (string, error) {
	if payment.StripePaymentIntentID != nil && *payment.StripePaymentIntentID != "" {
		return *payment.StripePaymentIntentID, nil
	}

	if payment.StripeSessionID == nil {
		return "", models.NewValidationError("payment has no checkout session", nil)
	}

	sess, err := s.gateway.GetCheckoutSession(ctx, *payment.StripeSessionID)
	if err != nil {
		return "", models.NewProviderError("failed to retrieve checkout session", err)
	}
	if sess.PaymentIntent == nil || sess.PaymentIntent.ID == "" {
		return "", models.NewValidationError("payment has no payment intent", nil)
	}

	return sess.PaymentIntent.ID, nil
}

// transition moves a payment to the next status under a row lock. Reapplying
// the current status is a no-op so webhook redeliveries stay idempotent.
func (s *Service) transition(ctx context.Context, paymentID string, next models.PaymentStatus, extra map[string]any) (*models.Payment, error) {
	var payment models.Payment

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockForUpdate(tx).
			Where("payment_id = ?", paymentID).
			First(&payment).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.NewNotFoundError("Payment")
			}
			return fmt.Errorf("failed to lock payment: %w", err)
		}

		if payment.Status == next {
			return nil
		}

		if !payment.Status.CanTransitionTo(next) {
			return models.NewValidationError(
				fmt.Sprintf("payment cannot move from %s to %s", payment.Status, next), nil)
		}

		updates := map[string]any{"status": next}
		for k, v := range extra {
			updates[k] = v
		}

		if err := tx.Model(&payment).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to update payment status: %w", err)
		}

		return tx.Where("payment_id = ?", paymentID).First(&payment).Error
	})
	if err != nil {
		return nil, err
	}

	return &payment, nil
}

// lockForUpdate adds SELECT ... FOR UPDATE where the dialect supports it.
// SQLite serializes writers on its own and rejects the clause.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}
