package prescription

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/jwalitptl/teleconsult-api/internal/model"
	"github.com/jwalitptl/teleconsult-api/internal/repository"
	"github.com/jwalitptl/teleconsult-api/internal/service"
	"github.com/jwalitptl/teleconsult-api/internal/service/audit"
	"github.com/jwalitptl/teleconsult-api/internal/service/event"
	"github.com/jwalitptl/teleconsult-api/pkg/errors"
	"github.com/jwalitptl/teleconsult-api/pkg/logger"
)

type Service struct {
	tx            repository.TxManager
	prescriptions repository.PrescriptionRepository
	consultations repository.ConsultationRepository
	auditor       *audit.Service
	events        *event.Service
	log           *logger.Logger
}

func NewService(
	tx repository.TxManager,
	prescriptions repository.PrescriptionRepository,
	consultations repository.ConsultationRepository,
	auditor *audit.Service,
	events *event.Service,
	log *logger.Logger,
) *Service {
	return &Service{
		tx:            tx,
		prescriptions: prescriptions,
		consultations: consultations,
		auditor:       auditor,
		events:        events,
		log:           log,
	}
}

// Create issues a prescription for a completed consultation. Only the
// consultation's own doctor may prescribe.
func (s *Service) Create(ctx context.Context, actor model.Actor, consultationID uuid.UUID, notes string) (*model.Prescription, error) {
	if actor.Role != model.RoleDoctor {
		return nil, errors.Forbidden("only doctors can issue prescriptions")
	}
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return nil, errors.BadRequest("notes are required", nil)
	}

	var p *model.Prescription
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		// row lock keeps the status stable until commit
		c, err := s.consultations.GetForUpdate(ctx, consultationID)
		if err != nil {
			return service.MapStoreError("consultation", err)
		}

		if c.Status != model.ConsultationStatusCompleted {
			return errors.InvalidOperation("prescriptions are allowed only after the consultation is completed")
		}
		if c.DoctorID != actor.ID {
			return errors.Forbidden("not the doctor of this consultation")
		}

		p = &model.Prescription{
			ConsultationID: c.ID,
			DoctorID:       c.DoctorID,
			PatientID:      c.PatientID,
			Notes:          notes,
		}
		if err := s.prescriptions.Create(ctx, p); err != nil {
			return err
		}

		if err := s.auditor.Log(ctx, &actor.ID, model.AuditActionPrescriptionCreated, model.AuditEntityPrescription, p.ID,
			map[string]interface{}{"consultation_id": c.ID}); err != nil {
			return err
		}

		return s.events.Emit(ctx, model.EventPrescriptionCreated, p)
	})
	if err != nil {
		return nil, service.MapStoreError("prescription", err)
	}

	s.log.Info("prescription created", "prescription_id", p.ID, "consultation_id", consultationID)
	return p, nil
}
