package payment

import (
	"context"
	stderrors "errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jwalitptl/teleconsult-api/internal/model"
	"github.com/jwalitptl/teleconsult-api/internal/repository"
	"github.com/jwalitptl/teleconsult-api/internal/service"
	"github.com/jwalitptl/teleconsult-api/internal/service/audit"
	"github.com/jwalitptl/teleconsult-api/internal/service/event"
	"github.com/jwalitptl/teleconsult-api/pkg/errors"
	"github.com/jwalitptl/teleconsult-api/pkg/logger"
	"github.com/jwalitptl/teleconsult-api/pkg/metrics"
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

const maxIdempotencyKeyLength = 255

type Service struct {
	tx              repository.TxManager
	payments        repository.PaymentRepository
	consultations   repository.ConsultationRepository
	auditor         *audit.Service
	events          *event.Service
	metrics         *metrics.Metrics
	log             *logger.Logger
	defaultCurrency string
}

func NewService(
	tx repository.TxManager,
	payments repository.PaymentRepository,
	consultations repository.ConsultationRepository,
	auditor *audit.Service,
	events *event.Service,
	m *metrics.Metrics,
	log *logger.Logger,
	defaultCurrency string,
) *Service {
	return &Service{
		tx:              tx,
		payments:        payments,
		consultations:   consultations,
		auditor:         auditor,
		events:          events,
		metrics:         m,
		log:             log,
		defaultCurrency: defaultCurrency,
	}
}

// StatusChanged is the payload of payment.status_updated.
type StatusChanged struct {
	PaymentID         uuid.UUID           `json:"payment_id"`
	ConsultationID    uuid.UUID           `json:"consultation_id"`
	ProviderReference string              `json:"provider_reference"`
	OldStatus         model.PaymentStatus `json:"old_status"`
	NewStatus         model.PaymentStatus `json:"new_status"`
}

// CreatePayment opens a pending payment for one of the patient's
// consultations. Repeating a call with the same idempotency key returns the
// payment created by the first call, unchanged.
func (s *Service) CreatePayment(ctx context.Context, patientID, consultationID uuid.UUID, amount decimal.Decimal, currency, idempotencyKey string) (*model.Payment, bool, error) {
	key := strings.TrimSpace(idempotencyKey)
	if key == "" {
		return nil, false, errors.BadRequest("idempotency key is required", nil)
	}
	if len(key) > maxIdempotencyKeyLength {
		return nil, false, errors.BadRequest("idempotency key is too long", nil)
	}
	if !amount.IsPositive() {
		return nil, false, errors.BadRequest("amount must be greater than zero", nil)
	}
	if currency == "" {
		currency = s.defaultCurrency
	}
	currency = strings.ToUpper(currency)
	if !currencyPattern.MatchString(currency) {
		return nil, false, errors.BadRequest("currency must be a 3-letter ISO code", nil)
	}

	var (
		payment *model.Payment
		created bool
	)
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		existing, err := s.payments.GetByIdempotencyKey(ctx, key)
		if err == nil {
			payment = existing
			return nil
		}
		if !stderrors.Is(err, repository.ErrNotFound) {
			return err
		}

		c, err := s.consultations.Get(ctx, consultationID)
		if err != nil {
			return service.MapStoreError("consultation", err)
		}
		if c.PatientID != patientID {
			// other patients' consultations are not disclosed
			return errors.NotFound("consultation", nil)
		}

		paid, err := s.payments.HasSucceeded(ctx, consultationID, uuid.Nil)
		if err != nil {
			return err
		}
		if paid {
			return errors.InvalidOperation("consultation is already paid")
		}

		p := &model.Payment{
			ConsultationID:    consultationID,
			PatientID:         patientID,
			Amount:            amount,
			Currency:          currency,
			Status:            model.PaymentStatusPending,
			IdempotencyKey:    key,
			ProviderReference: uuid.NewString(),
		}
		if err := s.payments.Create(ctx, p); err != nil {
			return err
		}

		if err := s.auditor.Log(ctx, &patientID, model.AuditActionPaymentCreated, model.AuditEntityPayment, p.ID,
			map[string]interface{}{"consultation_id": consultationID, "amount": amount.String(), "currency": currency}); err != nil {
			return err
		}

		if err := s.events.Emit(ctx, model.EventPaymentCreated, p); err != nil {
			return err
		}

		payment, created = p, true
		return nil
	})
	if err != nil {
		if stderrors.Is(err, repository.ErrDuplicateKey) {
			existing, ferr := s.payments.GetByIdempotencyKey(ctx, key)
			if ferr == nil {
				return s.replay(existing, patientID)
			}
			return nil, false, errors.Conflict("payment request conflicts with a concurrent request", err)
		}
		return nil, false, service.MapStoreError("payment", err)
	}

	if !created {
		return s.replay(payment, patientID)
	}

	s.log.Info("payment created",
		"payment_id", payment.ID,
		"consultation_id", consultationID,
		"amount", amount.String(),
		"currency", currency,
	)
	return payment, true, nil
}

func (s *Service) replay(p *model.Payment, patientID uuid.UUID) (*model.Payment, bool, error) {
	if p.PatientID != patientID {
		return nil, false, errors.Conflict("idempotency key was already used for a different payment request", nil)
	}
	return p, false, nil
}

// ApplyWebhook records a status reported by the payment provider. The
// webhook channel is trusted, so the audit entry carries no user.
func (s *Service) ApplyWebhook(ctx context.Context, providerReference string, newStatus model.PaymentStatus) (*model.Payment, error) {
	if strings.TrimSpace(providerReference) == "" {
		return nil, errors.BadRequest("provider reference is required", nil)
	}

	return s.changeStatus(ctx, "webhook", newStatus, func(ctx context.Context) (*model.Payment, error) {
		return s.payments.GetByProviderReferenceForUpdate(ctx, providerReference)
	}, nil, model.AuditActionPaymentStatusUpdated)
}

// Refund moves a succeeded payment to refunded. Admin only.
func (s *Service) Refund(ctx context.Context, paymentID uuid.UUID, actor model.Actor) (*model.Payment, error) {
	if actor.Role != model.RoleAdmin {
		return nil, errors.Forbidden("only admins can refund payments")
	}

	return s.changeStatus(ctx, "refund", model.PaymentStatusRefunded, func(ctx context.Context) (*model.Payment, error) {
		return s.payments.GetForUpdate(ctx, paymentID)
	}, &actor.ID, model.AuditActionPaymentRefunded)
}

// statusLabel keeps the metric label set bounded; webhook callers are
// unauthenticated.
func statusLabel(status model.PaymentStatus) string {
	if !status.Valid() {
		return "invalid"
	}
	return string(status)
}

func (s *Service) changeStatus(
	ctx context.Context,
	operation string,
	newStatus model.PaymentStatus,
	lock func(ctx context.Context) (*model.Payment, error),
	userID *uuid.UUID,
	action string,
) (*model.Payment, error) {
	start := time.Now()
	var updated *model.Payment

	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		p, err := lock(ctx)
		if err != nil {
			return service.MapStoreError("payment", err)
		}

		if operation == "refund" && p.Status != model.PaymentStatusSucceeded {
			return errors.InvalidOperation("only succeeded payments can be refunded")
		}
		if p.Status.IsTerminal() {
			return errors.LeaveTerminal(string(p.Status))
		}
		if !p.Status.CanTransitionTo(newStatus) {
			return errors.InvalidTransition(string(p.Status), string(newStatus))
		}

		if newStatus == model.PaymentStatusSucceeded {
			paid, err := s.payments.HasSucceeded(ctx, p.ConsultationID, p.ID)
			if err != nil {
				return err
			}
			if paid {
				return errors.InvalidOperation("consultation already has a succeeded payment")
			}
		}

		old := p.Status
		p.Status = newStatus
		if err := s.payments.UpdateStatus(ctx, p); err != nil {
			if repository.ViolatedConstraint(err) == repository.ConstraintPaymentSucceeded {
				return errors.InvalidOperation("consultation already has a succeeded payment")
			}
			return err
		}

		if err := s.auditor.Log(ctx, userID, action, model.AuditEntityPayment, p.ID,
			map[string]interface{}{"old_status": old, "new_status": newStatus}); err != nil {
			return err
		}

		if err := s.events.Emit(ctx, model.EventPaymentStatusUpdated, StatusChanged{
			PaymentID:         p.ID,
			ConsultationID:    p.ConsultationID,
			ProviderReference: p.ProviderReference,
			OldStatus:         old,
			NewStatus:         newStatus,
		}); err != nil {
			return err
		}

		updated = p
		return nil
	})

	s.metrics.TransactionLatency.WithLabelValues("payment_" + operation).Observe(time.Since(start).Seconds())
	result := "ok"
	if err != nil {
		result = errors.CodeOf(service.MapStoreError("payment", err)).String()
	}
	s.metrics.PaymentTransitions.WithLabelValues(statusLabel(newStatus), result).Inc()

	if err != nil {
		return nil, service.MapStoreError("payment", err)
	}

	s.log.Info("payment status updated",
		"payment_id", updated.ID,
		"status", updated.Status,
		"operation", operation,
	)
	return updated, nil
}

// GetPayment returns a payment to its patient or to an admin.
func (s *Service) GetPayment(ctx context.Context, id uuid.UUID, actor model.Actor) (*model.Payment, error) {
	p, err := s.payments.Get(ctx, id)
	if err != nil {
		return nil, service.MapStoreError("payment", err)
	}

	switch {
	case actor.Role == model.RoleAdmin:
	case actor.Role == model.RolePatient && p.PatientID == actor.ID:
	default:
		return nil, errors.NotFound("payment", nil)
	}
	return p, nil
}
