package models

import "time"

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusConfirmed PaymentStatus = "CONFIRMED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusRefunded  PaymentStatus = "REFUNDED"
)

// IsTerminal reports whether no further transitions are allowed from s.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusFailed || s == PaymentStatusRefunded
}

// CanTransitionTo enforces the forward-only payment lifecycle:
// PENDING -> CONFIRMED | FAILED, CONFIRMED -> REFUNDED.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	switch s {
	case PaymentStatusPending:
		return next == PaymentStatusConfirmed || next == PaymentStatusFailed
	case PaymentStatusConfirmed:
		return next == PaymentStatusRefunded
	default:
		return false
	}
}

type Payment struct {
	PaymentID             string        `gorm:"primaryKey;size:36" json:"payment_id"`
	Status                PaymentStatus `gorm:"not null;size:20;index" json:"status"`
	Amount                float64       `gorm:"not null" json:"amount"`
	Currency              string        `gorm:"not null;size:3" json:"currency"`
	OrderID               string        `gorm:"not null;index" json:"order_id"`
	CustomerID            *string       `json:"customer_id,omitempty"`
	PaymentMethod         string        `gorm:"not null" json:"payment_method"`
	Metadata              string        `gorm:"type:text" json:"metadata,omitempty"`
	StripePaymentIntentID *string       `gorm:"index" json:"stripe_payment_intent_id,omitempty"`
	StripeSessionID       *string       `gorm:"index" json:"stripe_session_id,omitempty"`
	CreatedAt             time.Time     `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time     `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (Payment) TableName() string {
	return "payments"
}

// CreatePaymentParams contains parameters for creating a payment
type CreatePaymentParams struct {
	Amount        float64
	Currency      string
	OrderID       string
	PaymentMethod string
	CustomerID    *string
	Metadata      map[string]any
	ReturnURL     string
	CancelURL     string
}

// ListPaymentsParams filters the payment listing
type ListPaymentsParams struct {
	OrderID string
	Status  PaymentStatus
	Limit   int
}
