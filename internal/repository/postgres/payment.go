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

const paymentColumns = `id, consultation_id, patient_id, amount, currency, status,
	idempotency_key, provider_reference, created_at, updated_at`

type paymentRepository struct {
	BaseRepository
}

func NewPaymentRepository(base BaseRepository) repository.PaymentRepository {
	return &paymentRepository{base}
}

func (r *paymentRepository) Create(ctx context.Context, p *model.Payment) error {
	query := `
		INSERT INTO payments (
			id, consultation_id, patient_id, amount, currency, status,
			idempotency_key, provider_reference, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := r.conn(ctx).ExecContext(ctx, query,
		p.ID,
		p.ConsultationID,
		p.PatientID,
		p.Amount,
		p.Currency,
		p.Status,
		p.IdempotencyKey,
		p.ProviderReference,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", translateError(err))
	}
	return nil
}

func (r *paymentRepository) getOne(ctx context.Context, action, where string, arg interface{}) (*model.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE ` + where

	var p model.Payment
	if err := sqlx.GetContext(ctx, r.conn(ctx), &p, query, arg); err != nil {
		return nil, fmt.Errorf("failed to %s payment: %w", action, translateError(err))
	}
	return &p, nil
}

func (r *paymentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Payment, error) {
	return r.getOne(ctx, "get", "id = $1", id)
}

func (r *paymentRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Payment, error) {
	return r.getOne(ctx, "lock", "id = $1 FOR UPDATE", id)
}

func (r *paymentRepository) GetByIdempotencyKey(ctx context.Context, key string) (*model.Payment, error) {
	return r.getOne(ctx, "get", "idempotency_key = $1", key)
}

func (r *paymentRepository) GetByProviderReferenceForUpdate(ctx context.Context, reference string) (*model.Payment, error) {
	return r.getOne(ctx, "lock", "provider_reference = $1 FOR UPDATE", reference)
}

func (r *paymentRepository) HasSucceeded(ctx context.Context, consultationID, excludeID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM payments
			WHERE consultation_id = $1 AND status = $2 AND id <> $3
		)
	`
	var exists bool
	err := sqlx.GetContext(ctx, r.conn(ctx), &exists, query, consultationID, model.PaymentStatusSucceeded, excludeID)
	if err != nil {
		return false, fmt.Errorf("failed to check succeeded payments: %w", translateError(err))
	}
	return exists, nil
}

func (r *paymentRepository) UpdateStatus(ctx context.Context, p *model.Payment) error {
	query := `
		UPDATE payments
		SET status = $1, updated_at = $2
		WHERE id = $3
	`
	p.UpdatedAt = time.Now().UTC()

	result, err := r.conn(ctx).ExecContext(ctx, query, p.Status, p.UpdatedAt, p.ID)
	if err != nil {
		return fmt.Errorf("failed to update payment status: %w", translateError(err))
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
