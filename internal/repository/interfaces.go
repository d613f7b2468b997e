package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/teleconsult-api/internal/model"
)

// TxManager runs fn inside one database transaction. Repositories called
// with the ctx handed to fn take part in that transaction; fn returning an
// error rolls everything back.
type TxManager interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// All repository interfaces in one file
type (
	// SlotRepository is the slot store.
	SlotRepository interface {
		Create(ctx context.Context, slot *model.AvailabilitySlot) error
		Get(ctx context.Context, id uuid.UUID) (*model.AvailabilitySlot, error)
		// LockForUpdate reads the slot and holds an exclusive row lock on it
		// until the surrounding transaction ends.
		LockForUpdate(ctx context.Context, id uuid.UUID) (*model.AvailabilitySlot, error)
		MarkBooked(ctx context.Context, id uuid.UUID) error
		// LockDoctor serializes slot creation for one doctor within a transaction.
		LockDoctor(ctx context.Context, doctorID uuid.UUID) error
		HasOverlap(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (bool, error)
		ListByDoctor(ctx context.Context, doctorID uuid.UUID, page model.Pagination) ([]*model.AvailabilitySlot, error)
	}

	ConsultationRepository interface {
		Create(ctx context.Context, consultation *model.Consultation) error
		Get(ctx context.Context, id uuid.UUID) (*model.Consultation, error)
		GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Consultation, error)
		UpdateStatus(ctx context.Context, consultation *model.Consultation) error
		// List returns matches ordered by created_at descending.
		List(ctx context.Context, filters model.ConsultationFilters) ([]*model.Consultation, error)
	}

	BookingRepository interface {
		Create(ctx context.Context, booking *model.Booking) error
		GetByIdempotencyKey(ctx context.Context, key string) (*model.Booking, error)
	}

	PaymentRepository interface {
		Create(ctx context.Context, payment *model.Payment) error
		Get(ctx context.Context, id uuid.UUID) (*model.Payment, error)
		GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Payment, error)
		GetByIdempotencyKey(ctx context.Context, key string) (*model.Payment, error)
		GetByProviderReferenceForUpdate(ctx context.Context, reference string) (*model.Payment, error)
		// HasSucceeded reports whether a payment other than excludeID already
		// succeeded for the consultation. Pass uuid.Nil to exclude nothing.
		HasSucceeded(ctx context.Context, consultationID, excludeID uuid.UUID) (bool, error)
		UpdateStatus(ctx context.Context, payment *model.Payment) error
	}

	AuditRepository interface {
		Create(ctx context.Context, log *model.AuditLog) error
		ListByEntity(ctx context.Context, entityType, entityID string) ([]*model.AuditLog, error)
	}

	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		// GetPendingEventsWithLock must run inside a transaction; the rows
		// stay locked (SKIP LOCKED for other workers) until it ends.
		GetPendingEventsWithLock(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
		UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errorMessage *string, retryAt *time.Time) error
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}

	PrescriptionRepository interface {
		Create(ctx context.Context, prescription *model.Prescription) error
	}
)
