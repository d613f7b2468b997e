package availability

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/teleconsult-api/internal/model"
	"github.com/jwalitptl/teleconsult-api/internal/repository"
	"github.com/jwalitptl/teleconsult-api/internal/service"
	"github.com/jwalitptl/teleconsult-api/internal/service/audit"
	"github.com/jwalitptl/teleconsult-api/pkg/errors"
	"github.com/jwalitptl/teleconsult-api/pkg/logger"
)

type Service struct {
	tx      repository.TxManager
	slots   repository.SlotRepository
	auditor *audit.Service
	log     *logger.Logger
}

func NewService(tx repository.TxManager, slots repository.SlotRepository, auditor *audit.Service, log *logger.Logger) *Service {
	return &Service{
		tx:      tx,
		slots:   slots,
		auditor: auditor,
		log:     log,
	}
}

// CreateSlot publishes a new bookable interval for the calling doctor.
// Slot creation is serialized per doctor so two overlapping requests
// cannot both pass the overlap check.
func (s *Service) CreateSlot(ctx context.Context, actor model.Actor, start, end time.Time) (*model.AvailabilitySlot, error) {
	if actor.Role != model.RoleDoctor {
		return nil, errors.Forbidden("only doctors can create availability")
	}
	if !start.Before(end) {
		return nil, errors.BadRequest("start_time must be before end_time", nil)
	}

	slot := &model.AvailabilitySlot{
		DoctorID:  actor.ID,
		StartTime: start.UTC(),
		EndTime:   end.UTC(),
	}

	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.slots.LockDoctor(ctx, actor.ID); err != nil {
			return err
		}

		overlap, err := s.slots.HasOverlap(ctx, actor.ID, slot.StartTime, slot.EndTime)
		if err != nil {
			return err
		}
		if overlap {
			return errors.Conflict("slot overlaps an existing slot", nil)
		}

		if err := s.slots.Create(ctx, slot); err != nil {
			return err
		}

		return s.auditor.Log(ctx, &actor.ID, model.AuditActionSlotCreated, model.AuditEntitySlot, slot.ID,
			map[string]interface{}{"start_time": slot.StartTime, "end_time": slot.EndTime})
	})
	if err != nil {
		if repository.ViolatedConstraint(err) == repository.ConstraintSlotNoOverlap {
			return nil, errors.Conflict("slot overlaps an existing slot", err)
		}
		return nil, service.MapStoreError("slot", err)
	}

	s.log.Info("slot created", "slot_id", slot.ID, "doctor_id", actor.ID)
	return slot, nil
}

// ListSlots returns a doctor's slots ordered by start time.
func (s *Service) ListSlots(ctx context.Context, doctorID uuid.UUID, page model.Pagination) ([]*model.AvailabilitySlot, error) {
	slots, err := s.slots.ListByDoctor(ctx, doctorID, page.Normalize())
	if err != nil {
		return nil, service.MapStoreError("slot", err)
	}
	return slots, nil
}
