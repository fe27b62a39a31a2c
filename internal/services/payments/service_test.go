package payments

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/Egham-7/payment-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// fakeGateway is an in-memory Gateway double. Each behavior can be overridden
// per test; the zero value succeeds with canned Stripe objects.
type fakeGateway struct {
	createErr    error
	session      *stripe.CheckoutSession
	getErr       error
	getCalls     int
	refund       *stripe.Refund
	refundErr    error
	refundedWith string
	event        stripe.Event
	eventErr     error
}

func (g *fakeGateway) CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	if g.createErr != nil {
		return nil, g.createErr
	}
	return &stripe.CheckoutSession{
		ID:  "cs_test_123",
		URL: "https://checkout.stripe.com/pay/cs_test_123",
	}, nil
}

func (g *fakeGateway) GetCheckoutSession(ctx context.Context, sessionID string) (*stripe.CheckoutSession, error) {
	g.getCalls++
	if g.getErr != nil {
		return nil, g.getErr
	}
	if g.session != nil {
		return g.session, nil
	}
	return &stripe.CheckoutSession{ID: sessionID}, nil
}

func (g *fakeGateway) Refund(ctx context.Context, paymentIntentID string) (*stripe.Refund, error) {
	g.refundedWith = paymentIntentID
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	if g.refund != nil {
		return g.refund, nil
	}
	return &stripe.Refund{Status: stripe.RefundStatusSucceeded}, nil
}

func (g *fakeGateway) ConstructEvent(payload []byte, signature string) (stripe.Event, error) {
	return g.event, g.eventErr
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(&models.Payment{}))
	return db
}

func newTestService(t *testing.T, gateway Gateway) *Service {
	t.Helper()
	return NewService(newTestDB(t), gateway, nil)
}

func createParams() models.CreatePaymentParams {
	return models.CreatePaymentParams{
		Amount:        49.99,
		Currency:      "usd",
		OrderID:       "order-42",
		PaymentMethod: "card",
		Metadata:      map[string]any{"plan": "pro"},
		ReturnURL:     "https://shop.example.com/success",
		CancelURL:     "https://shop.example.com/cancel",
	}
}

func TestCreatePayment(t *testing.T) {
	gateway := &fakeGateway{}
	svc := newTestService(t, gateway)

	payment, checkoutURL, err := svc.CreatePayment(context.Background(), createParams())
	require.NoError(t, err)

	assert.Equal(t, "https://checkout.stripe.com/pay/cs_test_123", checkoutURL)
	assert.Equal(t, models.PaymentStatusPending, payment.Status)
	assert.Equal(t, "order-42", payment.OrderID)
	assert.NotEmpty(t, payment.PaymentID)
	require.NotNil(t, payment.StripeSessionID)
	assert.Equal(t, "cs_test_123", *payment.StripeSessionID)
	assert.JSONEq(t, `{"plan":"pro"}`, payment.Metadata)

	stored, err := svc.GetPayment(context.Background(), payment.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, payment.PaymentID, stored.PaymentID)
}

func TestCreatePaymentProviderFailure(t *testing.T) {
	gateway := &fakeGateway{createErr: errors.New("card_declined")}
	svc := newTestService(t, gateway)

	_, _, err := svc.CreatePayment(context.Background(), createParams())
	require.Error(t, err)

	appErr, ok := err.(*models.AppError)
	require.True(t, ok)
	assert.Equal(t, models.ErrorTypeProvider, appErr.Type)

	// Nothing persisted on provider failure
	results, err := svc.ListPayments(context.Background(), models.ListPaymentsParams{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestGetPaymentNotFound(t *testing.T) {
	svc := newTestService(t, &fakeGateway{})

	_, err := svc.GetPayment(context.Background(), "missing")
	require.Error(t, err)

	appErr, ok := err.(*models.AppError)
	require.True(t, ok)
	assert.Equal(t, models.ErrorTypeNotFound, appErr.Type)
}

func TestGetPaymentSyncsPaidSession(t *testing.T) {
	gateway := &fakeGateway{}
	svc := newTestService(t, gateway)

	payment, _, err := svc.CreatePayment(context.Background(), createParams())
	require.NoError(t, err)

	gateway.session = &stripe.CheckoutSession{
		ID:            "cs_test_123",
		PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid,
		PaymentIntent: &stripe.PaymentIntent{ID: "pi_test_123"},
	}

	refreshed, err := svc.GetPayment(context.Background(), payment.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusConfirmed, refreshed.Status)

	stored, err := svc.findPayment(context.Background(), payment.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusConfirmed, stored.Status)
	require.NotNil(t, stored.StripePaymentIntentID)
	assert.Equal(t, "pi_test_123", *stored.StripePaymentIntentID)
}

func TestGetPaymentSyncsExpiredSession(t *testing.T) {
	gateway := &fakeGateway{}
	svc := newTestService(t, gateway)

	payment, _, err := svc.CreatePayment(context.Background(), createParams())
	require.NoError(t, err)

	gateway.session = &stripe.CheckoutSession{
		ID:            "cs_test_123",
		PaymentStatus: stripe.CheckoutSessionPaymentStatusUnpaid,
		Status:        stripe.CheckoutSessionStatusExpired,
	}

	refreshed, err := svc.GetPayment(context.Background(), payment.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, refreshed.Status)
}

func TestGetPaymentSurvivesProviderOutage(t *testing.T) {
	gateway := &fakeGateway{}
	svc := newTestService(t, gateway)

	payment, _, err := svc.CreatePayment(context.Background(), createParams())
	require.NoError(t, err)

	gateway.getErr = errors.New("stripe unavailable")

	refreshed, err := svc.GetPayment(context.Background(), payment.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, refreshed.Status)
}

func TestGetPaymentSkipsSyncForTerminalStatus(t *testing.T) {
	gateway := &fakeGateway{}
	svc := newTestService(t, gateway)

	payment, _, err := svc.CreatePayment(context.Background(), createParams())
	require.NoError(t, err)

	_, err = svc.transition(context.Background(), payment.PaymentID, models.PaymentStatusFailed, nil)
	require.NoError(t, err)

	gateway.getCalls = 0
	_, err = svc.GetPayment(context.Background(), payment.PaymentID)
	require.NoError(t, err)
	assert.Zero(t, gateway.getCalls)
}

func TestRefundPayment(t *testing.T) {
	tests := []struct {
		name      string
		status    models.PaymentStatus
		refund    *stripe.Refund
		refundErr error
		wantErr   models.ErrorType
		want      models.PaymentStatus
	}{
		{
			name:   "confirmed payment refunds",
			status: models.PaymentStatusConfirmed,
			want:   models.PaymentStatusRefunded,
		},
		{
			name:    "pending payment is not refundable",
			status:  models.PaymentStatusPending,
			wantErr: models.ErrorTypeValidation,
		},
		{
			name:    "failed payment is not refundable",
			status:  models.PaymentStatusFailed,
			wantErr: models.ErrorTypeValidation,
		},
		{
			name:      "provider refund failure",
			status:    models.PaymentStatusConfirmed,
			refundErr: errors.New("refund rejected"),
			wantErr:   models.ErrorTypeProvider,
		},
		{
			name:    "refund not succeeded",
			status:  models.PaymentStatusConfirmed,
			refund:  &stripe.Refund{Status: stripe.RefundStatusPending},
			wantErr: models.ErrorTypeProvider,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gateway := &fakeGateway{refund: tt.refund, refundErr: tt.refundErr}
			svc := newTestService(t, gateway)

			intentID := "pi_test_123"
			payment := &models.Payment{
				PaymentID:             "pay-1",
				Status:                tt.status,
				Amount:                10,
				Currency:              "usd",
				OrderID:               "order-1",
				PaymentMethod:         "card",
				StripePaymentIntentID: &intentID,
			}
			require.NoError(t, svc.db.Create(payment).Error)

			refunded, err := svc.RefundPayment(context.Background(), "pay-1")
			if tt.wantErr != "" {
				require.Error(t, err)
				appErr, ok := err.(*models.AppError)
				require.True(t, ok)
				assert.Equal(t, tt.wantErr, appErr.Type)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, refunded.Status)
			assert.Equal(t, "pi_test_123", gateway.refundedWith)
		})
	}
}

func TestRefundResolvesIntentFromSession(t *testing.T) {
	gateway := &fakeGateway{
		session: &stripe.CheckoutSession{
			ID:            "cs_test_123",
			PaymentIntent: &stripe.PaymentIntent{ID: "pi_from_session"},
		},
	}
	svc := newTestService(t, gateway)

	sessionID := "cs_test_123"
	payment := &models.Payment{
		PaymentID:       "pay-1",
		Status:          models.PaymentStatusConfirmed,
		Amount:          10,
		Currency:        "usd",
		OrderID:         "order-1",
		PaymentMethod:   "card",
		StripeSessionID: &sessionID,
	}
	require.NoError(t, svc.db.Create(payment).Error)

	refunded, err := svc.RefundPayment(context.Background(), "pay-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusRefunded, refunded.Status)
	assert.Equal(t, "pi_from_session", gateway.refundedWith)
}

func TestListPayments(t *testing.T) {
	svc := newTestService(t, &fakeGateway{})

	seed := []models.Payment{
		{PaymentID: "p1", Status: models.PaymentStatusPending, Amount: 1, Currency: "usd", OrderID: "order-a", PaymentMethod: "card"},
		{PaymentID: "p2", Status: models.PaymentStatusConfirmed, Amount: 2, Currency: "usd", OrderID: "order-a", PaymentMethod: "card"},
		{PaymentID: "p3", Status: models.PaymentStatusConfirmed, Amount: 3, Currency: "usd", OrderID: "order-b", PaymentMethod: "card"},
	}
	for i := range seed {
		require.NoError(t, svc.db.Create(&seed[i]).Error)
	}

	tests := []struct {
		name   string
		params models.ListPaymentsParams
		want   int
	}{
		{"all", models.ListPaymentsParams{}, 3},
		{"by order", models.ListPaymentsParams{OrderID: "order-a"}, 2},
		{"by status", models.ListPaymentsParams{Status: models.PaymentStatusConfirmed}, 2},
		{"by order and status", models.ListPaymentsParams{OrderID: "order-a", Status: models.PaymentStatusConfirmed}, 1},
		{"limited", models.ListPaymentsParams{Limit: 1}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := svc.ListPayments(context.Background(), tt.params)
			require.NoError(t, err)
			assert.Len(t, results, tt.want)
		})
	}
}

func TestTransitionRejectsBackwardMoves(t *testing.T) {
	svc := newTestService(t, &fakeGateway{})

	payment := &models.Payment{
		PaymentID:     "pay-1",
		Status:        models.PaymentStatusRefunded,
		Amount:        10,
		Currency:      "usd",
		OrderID:       "order-1",
		PaymentMethod: "card",
	}
	require.NoError(t, svc.db.Create(payment).Error)

	_, err := svc.transition(context.Background(), "pay-1", models.PaymentStatusPending, nil)
	require.Error(t, err)

	// Reapplying the current status stays a no-op
	got, err := svc.transition(context.Background(), "pay-1", models.PaymentStatusRefunded, nil)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusRefunded, got.Status)
}
