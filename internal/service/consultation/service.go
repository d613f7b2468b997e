package consultation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/teleconsult-api/internal/model"
	"github.com/jwalitptl/teleconsult-api/internal/repository"
	"github.com/jwalitptl/teleconsult-api/internal/service"
	"github.com/jwalitptl/teleconsult-api/internal/service/audit"
	"github.com/jwalitptl/teleconsult-api/internal/service/event"
	"github.com/jwalitptl/teleconsult-api/pkg/errors"
	"github.com/jwalitptl/teleconsult-api/pkg/logger"
	"github.com/jwalitptl/teleconsult-api/pkg/metrics"
)

type Service struct {
	tx      repository.TxManager
	repo    repository.ConsultationRepository
	auditor *audit.Service
	events  *event.Service
	metrics *metrics.Metrics
	log     *logger.Logger
}

func NewService(
	tx repository.TxManager,
	repo repository.ConsultationRepository,
	auditor *audit.Service,
	events *event.Service,
	m *metrics.Metrics,
	log *logger.Logger,
) *Service {
	return &Service{
		tx:      tx,
		repo:    repo,
		auditor: auditor,
		events:  events,
		metrics: m,
		log:     log,
	}
}

// StatusChanged is the payload of consultation.status_updated.
type StatusChanged struct {
	ConsultationID uuid.UUID                `json:"consultation_id"`
	OldStatus      model.ConsultationStatus `json:"old_status"`
	NewStatus      model.ConsultationStatus `json:"new_status"`
	ActorID        uuid.UUID                `json:"actor_id"`
	ActorRole      model.Role               `json:"actor_role"`
}

// Transition moves a consultation to newStatus on behalf of actor. Checks
// run in this order: caller role, existence, ownership, transition table,
// role policy.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, newStatus model.ConsultationStatus, actor model.Actor) (*model.Consultation, error) {
	start := time.Now()
	c, err := s.transition(ctx, id, newStatus, actor)

	s.metrics.TransactionLatency.WithLabelValues("consultation_transition").Observe(time.Since(start).Seconds())
	result := "ok"
	if err != nil {
		result = errors.CodeOf(err).String()
	}
	s.metrics.ConsultationTransitions.WithLabelValues(statusLabel(newStatus), result).Inc()

	return c, err
}

// statusLabel keeps the metric label set bounded; the status comes from the
// request body.
func statusLabel(status model.ConsultationStatus) string {
	if !status.Valid() {
		return "invalid"
	}
	return string(status)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, newStatus model.ConsultationStatus, actor model.Actor) (*model.Consultation, error) {
	if !model.CanDriveConsultation(actor.Role) {
		return nil, errors.Forbidden("only the consultation's doctor or patient can change its status")
	}

	var updated *model.Consultation
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		c, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return service.MapStoreError("consultation", err)
		}

		if !c.IsParty(actor) {
			return errors.Forbidden("not a party to this consultation")
		}

		if c.Status.IsTerminal() {
			return errors.LeaveTerminal(string(c.Status))
		}
		if !c.Status.CanTransitionTo(newStatus) {
			return errors.InvalidTransition(string(c.Status), string(newStatus))
		}

		if !model.RoleMayApply(actor.Role, newStatus) {
			return errors.Forbidden(string(actor.Role) + " cannot set status " + string(newStatus))
		}

		old := c.Status
		c.Status = newStatus
		if err := s.repo.UpdateStatus(ctx, c); err != nil {
			return err
		}

		if err := s.auditor.Log(ctx, &actor.ID, model.AuditActionConsultationStatusUpdated, model.AuditEntityConsultation,
			c.ID, map[string]interface{}{"old_status": old, "new_status": newStatus}); err != nil {
			return err
		}

		if err := s.events.Emit(ctx, model.EventConsultationStatusUpdated, StatusChanged{
			ConsultationID: c.ID,
			OldStatus:      old,
			NewStatus:      newStatus,
			ActorID:        actor.ID,
			ActorRole:      actor.Role,
		}); err != nil {
			return err
		}

		updated = c
		return nil
	})
	if err != nil {
		return nil, service.MapStoreError("consultation", err)
	}

	s.log.Info("consultation status updated",
		"consultation_id", updated.ID,
		"status", updated.Status,
		"actor_id", actor.ID,
	)
	return updated, nil
}

// Search lists consultations visible to actor. Patients and doctors are
// pinned to their own consultations, whatever filters they pass, and may
// only narrow further. Admins may filter freely.
func (s *Service) Search(ctx context.Context, actor model.Actor, filters model.ConsultationFilters) ([]*model.Consultation, error) {
	switch actor.Role {
	case model.RolePatient:
		filters.PatientID = actor.ID
	case model.RoleDoctor:
		filters.DoctorID = actor.ID
	case model.RoleAdmin:
	default:
		return nil, errors.Forbidden("role cannot search consultations")
	}

	if filters.Status != "" && !filters.Status.Valid() {
		return nil, errors.BadRequest("unknown consultation status", nil)
	}
	if filters.DateFrom != nil && filters.DateTo != nil && filters.DateFrom.After(*filters.DateTo) {
		return nil, errors.BadRequest("date_from must not be after date_to", nil)
	}
	filters.Pagination = filters.Pagination.Normalize()

	list, err := s.repo.List(ctx, filters)
	if err != nil {
		return nil, service.MapStoreError("consultation", err)
	}
	return list, nil
}
