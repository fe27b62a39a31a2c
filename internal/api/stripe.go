package api

import (
	"github.com/Egham-7/payment-service/internal/services/payments"
	"github.com/gofiber/fiber/v2"
)

type StripeWebhookHandler struct {
	paymentsService *payments.Service
}

func NewStripeWebhookHandler(paymentsService *payments.Service) *StripeWebhookHandler {
	return &StripeWebhookHandler{
		paymentsService: paymentsService,
	}
}

// HandleWebhook processes Stripe webhook events
func (h *StripeWebhookHandler) HandleWebhook(c *fiber.Ctx) error {
	payload := c.Body()

	// Get the Stripe signature header
	signature := c.Get("Stripe-Signature")
	if signature == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Missing Stripe-Signature header",
		})
	}

	if err := h.paymentsService.HandleWebhook(c.UserContext(), payload, signature); err != nil {
		return respondError(c, err)
	}

	// Return 200 OK to acknowledge receipt
	return c.JSON(fiber.Map{
		"status": "success",
	})
}
