package model

import (
	"time"

	"github.com/google/uuid"
)

// Booking is the immutable idempotency record binding a patient to a claimed
// slot and the consultation created for it.
type Booking struct {
	ID             uuid.UUID `db:"id" json:"id"`
	PatientID      uuid.UUID `db:"patient_id" json:"patient_id"`
	DoctorID       uuid.UUID `db:"doctor_id" json:"doctor_id"`
	SlotID         uuid.UUID `db:"slot_id" json:"slot_id"`
	ConsultationID uuid.UUID `db:"consultation_id" json:"consultation_id"`
	IdempotencyKey string    `db:"idempotency_key" json:"idempotency_key"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

type CreateBookingRequest struct {
	SlotID uuid.UUID `json:"slot_id" binding:"required"`
}

// BookingResult is the response body of a booking call. Created is false
// when the booking was replayed from its idempotency key.
type BookingResult struct {
	Booking *Booking `json:"booking"`
	Created bool     `json:"created"`
}
