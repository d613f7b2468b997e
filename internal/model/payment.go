package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusAuthorized PaymentStatus = "authorized"
	PaymentStatusSucceeded  PaymentStatus = "succeeded"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusRefunded   PaymentStatus = "refunded"
)

// paymentTransitions lists the permitted successors of each status.
// failed and refunded are terminal.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:    {PaymentStatusAuthorized, PaymentStatusFailed},
	PaymentStatusAuthorized: {PaymentStatusSucceeded, PaymentStatusFailed},
	PaymentStatusSucceeded:  {PaymentStatusRefunded},
}

func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s PaymentStatus) IsTerminal() bool {
	return len(paymentTransitions[s]) == 0
}

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusAuthorized, PaymentStatusSucceeded,
		PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}

type Payment struct {
	ID                uuid.UUID       `db:"id" json:"id"`
	ConsultationID    uuid.UUID       `db:"consultation_id" json:"consultation_id"`
	PatientID         uuid.UUID       `db:"patient_id" json:"patient_id"`
	Amount            decimal.Decimal `db:"amount" json:"amount"`
	Currency          string          `db:"currency" json:"currency"`
	Status            PaymentStatus   `db:"status" json:"status"`
	IdempotencyKey    string          `db:"idempotency_key" json:"idempotency_key"`
	ProviderReference string          `db:"provider_reference" json:"provider_reference"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

type CreatePaymentRequest struct {
	ConsultationID uuid.UUID       `json:"consultation_id" binding:"required"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency" binding:"omitempty,currency"`
	IdempotencyKey string          `json:"idempotency_key" binding:"required,idempotency_key"`
}

type PaymentWebhookRequest struct {
	ProviderReference string        `json:"provider_reference" binding:"required"`
	Status            PaymentStatus `json:"status" binding:"required"`
}
