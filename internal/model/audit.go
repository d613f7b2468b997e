package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditLog is append-only; rows are never updated or deleted.
type AuditLog struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	UserID     *uuid.UUID      `json:"user_id,omitempty" db:"user_id"`
	Action     string          `json:"action" db:"action"`
	EntityType string          `json:"entity_type" db:"entity_type"`
	EntityID   string          `json:"entity_id" db:"entity_id"`
	EventData  json.RawMessage `json:"event_data,omitempty" db:"event_data"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

const (
	// Action types
	AuditActionBookingCreated            = "BOOKING_CREATED"
	AuditActionConsultationStatusUpdated = "CONSULTATION_STATUS_UPDATED"
	AuditActionPaymentCreated            = "PAYMENT_CREATED"
	AuditActionPaymentStatusUpdated      = "PAYMENT_STATUS_UPDATED"
	AuditActionPaymentRefunded           = "PAYMENT_REFUNDED"
	AuditActionSlotCreated               = "SLOT_CREATED"
	AuditActionPrescriptionCreated       = "PRESCRIPTION_CREATED"

	// Entity types
	AuditEntityConsultation = "consultation"
	AuditEntityPayment      = "payment"
	AuditEntitySlot         = "availability_slot"
	AuditEntityPrescription = "prescription"
)
