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

const consultationColumns = `id, patient_id, doctor_id, slot_id, status, created_at, updated_at`

type consultationRepository struct {
	BaseRepository
}

func NewConsultationRepository(base BaseRepository) repository.ConsultationRepository {
	return &consultationRepository{base}
}

func (r *consultationRepository) Create(ctx context.Context, c *model.Consultation) error {
	query := `
		INSERT INTO consultations (
			id, patient_id, doctor_id, slot_id, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	_, err := r.conn(ctx).ExecContext(ctx, query,
		c.ID,
		c.PatientID,
		c.DoctorID,
		c.SlotID,
		c.Status,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create consultation: %w", translateError(err))
	}
	return nil
}

func (r *consultationRepository) Get(ctx context.Context, id uuid.UUID) (*model.Consultation, error) {
	query := `SELECT ` + consultationColumns + ` FROM consultations WHERE id = $1`

	var c model.Consultation
	if err := sqlx.GetContext(ctx, r.conn(ctx), &c, query, id); err != nil {
		return nil, fmt.Errorf("failed to get consultation: %w", translateError(err))
	}
	return &c, nil
}

func (r *consultationRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Consultation, error) {
	query := `SELECT ` + consultationColumns + ` FROM consultations WHERE id = $1 FOR UPDATE`

	var c model.Consultation
	if err := sqlx.GetContext(ctx, r.conn(ctx), &c, query, id); err != nil {
		return nil, fmt.Errorf("failed to lock consultation: %w", translateError(err))
	}
	return &c, nil
}

func (r *consultationRepository) UpdateStatus(ctx context.Context, c *model.Consultation) error {
	query := `
		UPDATE consultations
		SET status = $1, updated_at = $2
		WHERE id = $3
	`
	c.UpdatedAt = time.Now().UTC()

	result, err := r.conn(ctx).ExecContext(ctx, query, c.Status, c.UpdatedAt, c.ID)
	if err != nil {
		return fmt.Errorf("failed to update consultation status: %w", translateError(err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *consultationRepository) List(ctx context.Context, filters model.ConsultationFilters) ([]*model.Consultation, error) {
	query := `SELECT ` + consultationColumns + ` FROM consultations WHERE 1=1`
	args := []interface{}{}
	argCount := 1

	if filters.DoctorID != uuid.Nil {
		query += fmt.Sprintf(" AND doctor_id = $%d", argCount)
		args = append(args, filters.DoctorID)
		argCount++
	}
	if filters.PatientID != uuid.Nil {
		query += fmt.Sprintf(" AND patient_id = $%d", argCount)
		args = append(args, filters.PatientID)
		argCount++
	}
	if filters.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, filters.Status)
		argCount++
	}
	if filters.DateFrom != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argCount)
		args = append(args, *filters.DateFrom)
		argCount++
	}
	if filters.DateTo != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argCount)
		args = append(args, *filters.DateTo)
		argCount++
	}

	page := filters.Pagination.Normalize()
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argCount, argCount+1)
	args = append(args, page.Limit, page.Offset)

	consultations := []*model.Consultation{}
	if err := sqlx.SelectContext(ctx, r.conn(ctx), &consultations, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list consultations: %w", translateError(err))
	}
	return consultations, nil
}
