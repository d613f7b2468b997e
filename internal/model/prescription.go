package model

import (
	"time"

	"github.com/google/uuid"
)

type Prescription struct {
	ID             uuid.UUID `db:"id" json:"id"`
	ConsultationID uuid.UUID `db:"consultation_id" json:"consultation_id"`
	DoctorID       uuid.UUID `db:"doctor_id" json:"doctor_id"`
	PatientID      uuid.UUID `db:"patient_id" json:"patient_id"`
	Notes          string    `db:"notes" json:"notes"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

type CreatePrescriptionRequest struct {
	ConsultationID uuid.UUID `json:"consultation_id" binding:"required"`
	Notes          string    `json:"notes" binding:"required,max=4000"`
}
