package booking

import (
	"context"
	stderrors "errors"
	"strings"
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

const MaxIdempotencyKeyLength = 255

const (
	resultCreated  = "created"
	resultReplayed = "replayed"
	resultConflict = "conflict"
	resultNotFound = "not_found"
	resultRejected = "rejected"
	resultError    = "error"
)

type Service struct {
	tx            repository.TxManager
	slots         repository.SlotRepository
	consultations repository.ConsultationRepository
	bookings      repository.BookingRepository
	ledger        *Ledger
	auditor       *audit.Service
	events        *event.Service
	metrics       *metrics.Metrics
	log           *logger.Logger
}

func NewService(
	tx repository.TxManager,
	slots repository.SlotRepository,
	consultations repository.ConsultationRepository,
	bookings repository.BookingRepository,
	ledger *Ledger,
	auditor *audit.Service,
	events *event.Service,
	m *metrics.Metrics,
	log *logger.Logger,
) *Service {
	return &Service{
		tx:            tx,
		slots:         slots,
		consultations: consultations,
		bookings:      bookings,
		ledger:        ledger,
		auditor:       auditor,
		events:        events,
		metrics:       m,
		log:           log,
	}
}

// Book claims slotID for patientID. The boolean is true when this call
// created the booking and false when an earlier call with the same
// idempotency key did; the returned booking is the same either way.
// A key already used by another patient or for another slot is not
// replayed: the call fails with Conflict so one patient's booking is never
// returned to another (see the replay decision in DESIGN.md).
func (s *Service) Book(ctx context.Context, patientID, slotID uuid.UUID, idempotencyKey string) (*model.Booking, bool, error) {
	start := time.Now()
	b, created, err := s.book(ctx, patientID, slotID, strings.TrimSpace(idempotencyKey))

	s.metrics.TransactionLatency.WithLabelValues("book").Observe(time.Since(start).Seconds())
	s.metrics.Bookings.WithLabelValues(resultOf(created, err)).Inc()

	return b, created, err
}

func (s *Service) book(ctx context.Context, patientID, slotID uuid.UUID, key string) (*model.Booking, bool, error) {
	if key == "" {
		return nil, false, errors.BadRequest("idempotency key is required", nil)
	}
	if len(key) > MaxIdempotencyKeyLength {
		return nil, false, errors.BadRequest("idempotency key is too long", nil)
	}

	if b, ok := s.ledger.Cached(key); ok {
		return s.replay(b, patientID, slotID)
	}

	var (
		booking *model.Booking
		created bool
	)
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		existing, err := s.ledger.Lookup(ctx, key)
		if err == nil {
			booking = existing
			return nil
		}
		if !stderrors.Is(err, repository.ErrNotFound) {
			return err
		}

		slot, err := s.slots.LockForUpdate(ctx, slotID)
		if err != nil {
			return service.MapStoreError("slot", err)
		}
		if slot.IsBooked {
			return errors.Conflict("slot is already booked", nil)
		}

		consultation := &model.Consultation{
			PatientID: patientID,
			DoctorID:  slot.DoctorID,
			SlotID:    slot.ID,
			Status:    model.ConsultationStatusScheduled,
		}
		if err := s.consultations.Create(ctx, consultation); err != nil {
			return err
		}

		b := &model.Booking{
			PatientID:      patientID,
			DoctorID:       slot.DoctorID,
			SlotID:         slot.ID,
			ConsultationID: consultation.ID,
			IdempotencyKey: key,
		}
		if err := s.bookings.Create(ctx, b); err != nil {
			return err
		}

		if err := s.slots.MarkBooked(ctx, slot.ID); err != nil {
			return err
		}

		if err := s.auditor.Log(ctx, &patientID, model.AuditActionBookingCreated, model.AuditEntityConsultation,
			consultation.ID, map[string]interface{}{"slot_id": slot.ID}); err != nil {
			return err
		}

		if err := s.events.Emit(ctx, model.EventBookingCreated, b); err != nil {
			return err
		}

		booking, created = b, true
		return nil
	})
	if err != nil {
		if stderrors.Is(err, repository.ErrDuplicateKey) {
			return s.afterDuplicate(ctx, key, patientID, slotID, err)
		}
		return nil, false, service.MapStoreError("booking", err)
	}

	s.ledger.Remember(booking)

	if !created {
		return s.replay(booking, patientID, slotID)
	}

	s.log.Info("booking created",
		"booking_id", booking.ID,
		"consultation_id", booking.ConsultationID,
		"slot_id", booking.SlotID,
		"patient_id", patientID,
	)
	return booking, true, nil
}

// afterDuplicate resolves a unique violation. A concurrent request with the
// same key may have committed first, in which case its booking is the
// answer; otherwise another key claimed the slot.
func (s *Service) afterDuplicate(ctx context.Context, key string, patientID, slotID uuid.UUID, cause error) (*model.Booking, bool, error) {
	existing, err := s.bookings.GetByIdempotencyKey(ctx, key)
	if err == nil {
		s.ledger.Remember(existing)
		return s.replay(existing, patientID, slotID)
	}
	if stderrors.Is(err, repository.ErrNotFound) {
		return nil, false, errors.Conflict("slot is already booked", cause)
	}
	return nil, false, service.MapStoreError("booking", err)
}

// replay returns a stored booking for a repeated key. A key reused for a
// different patient or slot is rejected rather than answered with someone
// else's booking.
func (s *Service) replay(b *model.Booking, patientID, slotID uuid.UUID) (*model.Booking, bool, error) {
	if b.PatientID != patientID || b.SlotID != slotID {
		return nil, false, errors.Conflict("idempotency key was already used for a different booking request", nil)
	}
	return b, false, nil
}

func resultOf(created bool, err error) string {
	switch {
	case err == nil && created:
		return resultCreated
	case err == nil:
		return resultReplayed
	case errors.IsConflict(err):
		return resultConflict
	case errors.IsNotFound(err):
		return resultNotFound
	case errors.IsBadRequest(err):
		return resultRejected
	}
	return resultError
}
