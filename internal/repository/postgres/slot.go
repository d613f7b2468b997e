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

const slotColumns = `id, doctor_id, start_time, end_time, is_booked, created_at, updated_at`

type slotRepository struct {
	BaseRepository
}

func NewSlotRepository(base BaseRepository) repository.SlotRepository {
	return &slotRepository{base}
}

func (r *slotRepository) Create(ctx context.Context, slot *model.AvailabilitySlot) error {
	query := `
		INSERT INTO availability_slots (
			id, doctor_id, start_time, end_time, is_booked, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if slot.ID == uuid.Nil {
		slot.ID = uuid.New()
	}
	now := time.Now().UTC()
	slot.CreatedAt = now
	slot.UpdatedAt = now

	_, err := r.conn(ctx).ExecContext(ctx, query,
		slot.ID,
		slot.DoctorID,
		slot.StartTime,
		slot.EndTime,
		slot.IsBooked,
		slot.CreatedAt,
		slot.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create slot: %w", translateError(err))
	}
	return nil
}

func (r *slotRepository) Get(ctx context.Context, id uuid.UUID) (*model.AvailabilitySlot, error) {
	query := `SELECT ` + slotColumns + ` FROM availability_slots WHERE id = $1`

	var slot model.AvailabilitySlot
	if err := sqlx.GetContext(ctx, r.conn(ctx), &slot, query, id); err != nil {
		return nil, fmt.Errorf("failed to get slot: %w", translateError(err))
	}
	return &slot, nil
}

func (r *slotRepository) LockForUpdate(ctx context.Context, id uuid.UUID) (*model.AvailabilitySlot, error) {
	query := `SELECT ` + slotColumns + ` FROM availability_slots WHERE id = $1 FOR UPDATE`

	var slot model.AvailabilitySlot
	if err := sqlx.GetContext(ctx, r.conn(ctx), &slot, query, id); err != nil {
		return nil, fmt.Errorf("failed to lock slot: %w", translateError(err))
	}
	return &slot, nil
}

func (r *slotRepository) MarkBooked(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE availability_slots
		SET is_booked = TRUE, updated_at = $1
		WHERE id = $2 AND is_booked = FALSE
	`
	result, err := r.conn(ctx).ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark slot booked: %w", translateError(err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("slot %s not bookable: %w", id, repository.ErrNotFound)
	}
	return nil
}

func (r *slotRepository) LockDoctor(ctx context.Context, doctorID uuid.UUID) error {
	if _, err := r.conn(ctx).ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, doctorID.String()); err != nil {
		return fmt.Errorf("failed to lock doctor schedule: %w", translateError(err))
	}
	return nil
}

func (r *slotRepository) HasOverlap(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM availability_slots
			WHERE doctor_id = $1 AND start_time < $3 AND end_time > $2
		)
	`
	var exists bool
	if err := sqlx.GetContext(ctx, r.conn(ctx), &exists, query, doctorID, start, end); err != nil {
		return false, fmt.Errorf("failed to check slot overlap: %w", translateError(err))
	}
	return exists, nil
}

func (r *slotRepository) ListByDoctor(ctx context.Context, doctorID uuid.UUID, page model.Pagination) ([]*model.AvailabilitySlot, error) {
	page = page.Normalize()
	query := `
		SELECT ` + slotColumns + `
		FROM availability_slots
		WHERE doctor_id = $1
		ORDER BY start_time ASC
		LIMIT $2 OFFSET $3
	`
	slots := []*model.AvailabilitySlot{}
	if err := sqlx.SelectContext(ctx, r.conn(ctx), &slots, query, doctorID, page.Limit, page.Offset); err != nil {
		return nil, fmt.Errorf("failed to list slots: %w", translateError(err))
	}
	return slots, nil
}
