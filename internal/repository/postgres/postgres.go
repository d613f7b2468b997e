package postgres

import (
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/teleconsult-api/internal/repository"
)

// Repositories groups every store sharing one pool and transaction manager.
type Repositories struct {
	Tx            repository.TxManager
	Slots         repository.SlotRepository
	Consultations repository.ConsultationRepository
	Bookings      repository.BookingRepository
	Payments      repository.PaymentRepository
	Audit         repository.AuditRepository
	Outbox        repository.OutboxRepository
	Prescriptions repository.PrescriptionRepository
}

func NewRepositories(db *sqlx.DB, lockTimeout time.Duration) *Repositories {
	base := NewBaseRepository(db, lockTimeout)
	return &Repositories{
		Tx:            &base,
		Slots:         NewSlotRepository(base),
		Consultations: NewConsultationRepository(base),
		Bookings:      NewBookingRepository(base),
		Payments:      NewPaymentRepository(base),
		Audit:         NewAuditRepository(base),
		Outbox:        NewOutboxRepository(base),
		Prescriptions: NewPrescriptionRepository(base),
	}
}
