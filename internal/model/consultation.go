package model

import (
	"time"

	"github.com/google/uuid"
)

type ConsultationStatus string

const (
	ConsultationStatusScheduled ConsultationStatus = "scheduled"
	ConsultationStatusCompleted ConsultationStatus = "completed"
	ConsultationStatusCancelled ConsultationStatus = "cancelled"
)

// consultationTransitions lists the permitted successors of each status.
// Statuses without an entry are terminal.
var consultationTransitions = map[ConsultationStatus][]ConsultationStatus{
	ConsultationStatusScheduled: {ConsultationStatusCompleted, ConsultationStatusCancelled},
}

// consultationRolePolicy lists the single status each role may apply.
var consultationRolePolicy = map[Role]ConsultationStatus{
	RoleDoctor:  ConsultationStatusCompleted,
	RolePatient: ConsultationStatusCancelled,
}

// CanTransitionTo reports whether next is a permitted successor of s.
func (s ConsultationStatus) CanTransitionTo(next ConsultationStatus) bool {
	for _, allowed := range consultationTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s ConsultationStatus) IsTerminal() bool {
	return len(consultationTransitions[s]) == 0
}

func (s ConsultationStatus) Valid() bool {
	switch s {
	case ConsultationStatusScheduled, ConsultationStatusCompleted, ConsultationStatusCancelled:
		return true
	}
	return false
}

// RoleMayApply reports whether role is allowed to move a consultation to status.
func RoleMayApply(role Role, status ConsultationStatus) bool {
	allowed, ok := consultationRolePolicy[role]
	return ok && allowed == status
}

// CanDriveConsultation reports whether role may call the transition at all.
func CanDriveConsultation(role Role) bool {
	_, ok := consultationRolePolicy[role]
	return ok
}

type Consultation struct {
	ID        uuid.UUID          `db:"id" json:"id"`
	PatientID uuid.UUID          `db:"patient_id" json:"patient_id"`
	DoctorID  uuid.UUID          `db:"doctor_id" json:"doctor_id"`
	SlotID    uuid.UUID          `db:"slot_id" json:"slot_id"`
	Status    ConsultationStatus `db:"status" json:"status"`
	CreatedAt time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt time.Time          `db:"updated_at" json:"updated_at"`
}

// IsParty reports whether actor is the patient or the doctor of c.
func (c *Consultation) IsParty(actor Actor) bool {
	switch actor.Role {
	case RoleDoctor:
		return c.DoctorID == actor.ID
	case RolePatient:
		return c.PatientID == actor.ID
	}
	return false
}

type UpdateConsultationStatusRequest struct {
	Status ConsultationStatus `json:"status" binding:"required"`
}

// ConsultationFilters narrows a consultation search. Zero values mean "any".
type ConsultationFilters struct {
	DoctorID  uuid.UUID          `form:"doctor_id"`
	PatientID uuid.UUID          `form:"patient_id"`
	Status    ConsultationStatus `form:"status"`
	DateFrom  *time.Time         `form:"date_from"`
	DateTo    *time.Time         `form:"date_to"`
	Pagination
}
