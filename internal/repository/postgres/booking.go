package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/teleconsult-api/internal/model"
	"github.com/jwalitptl/teleconsult-api/internal/repository"
)

type bookingRepository struct {
	BaseRepository
}

func NewBookingRepository(base BaseRepository) repository.BookingRepository {
	return &bookingRepository{base}
}

// Create inserts the booking. A second booking with the same idempotency
// key or slot fails with a repository.DuplicateKeyError naming the constraint.
func (r *bookingRepository) Create(ctx context.Context, b *model.Booking) error {
	query := `
		INSERT INTO bookings (
			id, patient_id, doctor_id, slot_id, consultation_id, idempotency_key, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	b.CreatedAt = time.Now().UTC()

	_, err := r.conn(ctx).ExecContext(ctx, query,
		b.ID,
		b.PatientID,
		b.DoctorID,
		b.SlotID,
		b.ConsultationID,
		b.IdempotencyKey,
		b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create booking: %w", translateError(err))
	}
	return nil
}

func (r *bookingRepository) GetByIdempotencyKey(ctx context.Context, key string) (*model.Booking, error) {
	query := `
		SELECT id, patient_id, doctor_id, slot_id, consultation_id, idempotency_key, created_at
		FROM bookings
		WHERE idempotency_key = $1
	`
	var b model.Booking
	if err := sqlx.GetContext(ctx, r.conn(ctx), &b, query, key); err != nil {
		return nil, fmt.Errorf("failed to get booking by idempotency key: %w", translateError(err))
	}
	return &b, nil
}
