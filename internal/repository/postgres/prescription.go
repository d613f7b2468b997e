package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/teleconsult-api/internal/model"
	"github.com/jwalitptl/teleconsult-api/internal/repository"
)

type prescriptionRepository struct {
	BaseRepository
}

func NewPrescriptionRepository(base BaseRepository) repository.PrescriptionRepository {
	return &prescriptionRepository{base}
}

func (r *prescriptionRepository) Create(ctx context.Context, p *model.Prescription) error {
	query := `
		INSERT INTO prescriptions (
			id, consultation_id, doctor_id, patient_id, notes, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = time.Now().UTC()

	_, err := r.conn(ctx).ExecContext(ctx, query,
		p.ID,
		p.ConsultationID,
		p.DoctorID,
		p.PatientID,
		p.Notes,
		p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create prescription: %w", translateError(err))
	}
	return nil
}
