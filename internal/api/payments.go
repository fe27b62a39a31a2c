package api

import (
	"time"

	"github.com/Egham-7/payment-service/internal/models"
	"github.com/Egham-7/payment-service/internal/services/payments"
	"github.com/gofiber/fiber/v2"
)

type PaymentsHandler struct {
	paymentsService *payments.Service
}

func NewPaymentsHandler(paymentsService *payments.Service) *PaymentsHandler {
	return &PaymentsHandler{
		paymentsService: paymentsService,
	}
}

// CreatePaymentRequest represents the request body for creating a payment
type CreatePaymentRequest struct {
	Amount        float64        `json:"amount"`
	Currency      string         `json:"currency"`
	OrderID       string         `json:"order_id"`
	PaymentMethod string         `json:"payment_method"`
	CustomerID    *string        `json:"customer_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	ReturnURL     string         `json:"return_url"`
	CancelURL     string         `json:"cancel_url"`
}

// CreatePaymentResponse represents the response for payment creation
type CreatePaymentResponse struct {
	PaymentID   string               `json:"payment_id"`
	Status      models.PaymentStatus `json:"status"`
	Amount      float64              `json:"amount"`
	Currency    string               `json:"currency"`
	CreatedAt   string               `json:"created_at"`
	OrderID     string               `json:"order_id"`
	CheckoutURL string               `json:"checkout_url,omitempty"`
}

// CreatePayment creates a Stripe checkout session and a pending payment record
func (h *PaymentsHandler) CreatePayment(c *fiber.Ctx) error {
	var req CreatePaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Amount <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "amount must be greater than 0",
		})
	}

	if req.Currency == "" || req.OrderID == "" || req.PaymentMethod == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "currency, order_id, and payment_method are required",
		})
	}

	if req.ReturnURL == "" || req.CancelURL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "return_url and cancel_url are required",
		})
	}

	payment, checkoutURL, err := h.paymentsService.CreatePayment(c.UserContext(), models.CreatePaymentParams{
		Amount:        req.Amount,
		Currency:      req.Currency,
		OrderID:       req.OrderID,
		PaymentMethod: req.PaymentMethod,
		CustomerID:    req.CustomerID,
		Metadata:      req.Metadata,
		ReturnURL:     req.ReturnURL,
		CancelURL:     req.CancelURL,
	})
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(CreatePaymentResponse{
		PaymentID:   payment.PaymentID,
		Status:      payment.Status,
		Amount:      payment.Amount,
		Currency:    payment.Currency,
		CreatedAt:   payment.CreatedAt.UTC().Format(time.RFC3339),
		OrderID:     payment.OrderID,
		CheckoutURL: checkoutURL,
	})
}

// GetPayment returns a payment, refreshing its status from Stripe first
func (h *PaymentsHandler) GetPayment(c *fiber.Ctx) error {
	paymentID := c.Params("payment_id")

	payment, err := h.paymentsService.GetPayment(c.UserContext(), paymentID)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(payment)
}

// RefundPayment refunds a confirmed payment
func (h *PaymentsHandler) RefundPayment(c *fiber.Ctx) error {
	paymentID := c.Params("payment_id")

	if _, err := h.paymentsService.RefundPayment(c.UserContext(), paymentID); err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"message": "Payment refunded successfully",
	})
}

// ListPayments returns payments filtered by order_id and/or status
func (h *PaymentsHandler) ListPayments(c *fiber.Ctx) error {
	params := models.ListPaymentsParams{
		OrderID: c.Query("order_id"),
		Status:  models.PaymentStatus(c.Query("status")),
		Limit:   c.QueryInt("limit"),
	}

	results, err := h.paymentsService.ListPayments(c.UserContext(), params)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"payments": results,
		"count":    len(results),
	})
}

// respondError maps service errors onto HTTP responses without leaking
// internal causes.
func respondError(c *fiber.Ctx, err error) error {
	appErr := models.SanitizeError(err)
	return c.Status(appErr.GetStatusCode()).JSON(fiber.Map{
		"error": appErr.Message,
	})
}
