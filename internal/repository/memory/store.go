// Package memory implements the repository interfaces in process. It mirrors
// the constraints of the Postgres schema (unique keys, the succeeded-payment
// index, slot exclusion) and runs transactions one at a time with rollback
// on error. Service and handler tests run against it.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/teleconsult-api/internal/model"
	"github.com/jwalitptl/teleconsult-api/internal/repository"
)

type txKey struct{}

type state struct {
	slots         map[uuid.UUID]model.AvailabilitySlot
	consultations map[uuid.UUID]model.Consultation
	bookings      map[uuid.UUID]model.Booking
	payments      map[uuid.UUID]model.Payment
	prescriptions map[uuid.UUID]model.Prescription
	audit         []model.AuditLog
	outbox        []model.OutboxEvent
}

func newState() *state {
	return &state{
		slots:         map[uuid.UUID]model.AvailabilitySlot{},
		consultations: map[uuid.UUID]model.Consultation{},
		bookings:      map[uuid.UUID]model.Booking{},
		payments:      map[uuid.UUID]model.Payment{},
		prescriptions: map[uuid.UUID]model.Prescription{},
	}
}

func (st *state) clone() *state {
	c := newState()
	for k, v := range st.slots {
		c.slots[k] = v
	}
	for k, v := range st.consultations {
		c.consultations[k] = v
	}
	for k, v := range st.bookings {
		c.bookings[k] = v
	}
	for k, v := range st.payments {
		c.payments[k] = v
	}
	for k, v := range st.prescriptions {
		c.prescriptions[k] = v
	}
	c.audit = append([]model.AuditLog(nil), st.audit...)
	c.outbox = append([]model.OutboxEvent(nil), st.outbox...)
	return c
}

type Store struct {
	mu sync.Mutex
	st *state
	// snapshot of the committed state while a transaction is open
	snap *state

	// BeforeBookingInsert runs inside BookingRepository.Create before the
	// constraints are checked. Tests use it with CommitBooking to model a
	// concurrent transaction winning the race.
	BeforeBookingInsert func(s *Store)
	// BeforePaymentInsert is the PaymentRepository.Create counterpart. Use
	// it with CommitPayment; a non-nil error is returned from Create as is.
	BeforePaymentInsert func(s *Store) error
	// LockErr, when set, is returned by every FOR UPDATE style read.
	LockErr error
}

func NewStore() *Store {
	return &Store{st: newState()}
}

func inTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(bool)
	return ok
}

// guard serializes a call made outside WithTx.
func (s *Store) guard(ctx context.Context) func() {
	if inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// WithTx runs fn holding the store exclusively and restores the previous
// state when fn fails or panics.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if inTx(ctx) {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap = s.st.clone()
	defer func() {
		if p := recover(); p != nil {
			s.st, s.snap = s.snap, nil
			panic(p)
		}
		if err != nil {
			s.st = s.snap
		}
		s.snap = nil
	}()

	return fn(context.WithValue(ctx, txKey{}, true))
}

// CommitBooking stores b as if another transaction had already committed
// it. It must be called from BeforeBookingInsert.
func (s *Store) CommitBooking(b model.Booking) {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	s.st.bookings[b.ID] = b
	if s.snap != nil {
		s.snap.bookings[b.ID] = b
	}
}

// CommitPayment stores p as if another transaction had already committed
// it. It must be called from BeforePaymentInsert.
func (s *Store) CommitPayment(p model.Payment) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
		p.UpdatedAt = p.CreatedAt
	}
	s.st.payments[p.ID] = p
	if s.snap != nil {
		s.snap.payments[p.ID] = p
	}
}

// PaymentCount returns the number of committed payments.
func (s *Store) PaymentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.payments)
}

// Seed helpers write committed rows directly.

func (s *Store) AddSlot(slot model.AvailabilitySlot) model.AvailabilitySlot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot.ID == uuid.Nil {
		slot.ID = uuid.New()
	}
	s.st.slots[slot.ID] = slot
	return slot
}

func (s *Store) AddConsultation(c model.Consultation) model.Consultation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	s.st.consultations[c.ID] = c
	return c
}

func (s *Store) AddPayment(p model.Payment) model.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.ProviderReference == "" {
		p.ProviderReference = uuid.NewString()
	}
	s.st.payments[p.ID] = p
	return p
}

// Inspection helpers return copies of committed state.

func (s *Store) Slot(id uuid.UUID) (model.AvailabilitySlot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.st.slots[id]
	return v, ok
}

func (s *Store) Consultation(id uuid.UUID) (model.Consultation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.st.consultations[id]
	return v, ok
}

func (s *Store) Payment(id uuid.UUID) (model.Payment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.st.payments[id]
	return v, ok
}

func (s *Store) Bookings() []model.Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Booking, 0, len(s.st.bookings))
	for _, b := range s.st.bookings {
		out = append(out, b)
	}
	return out
}

func (s *Store) ConsultationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.consultations)
}

func (s *Store) PrescriptionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.prescriptions)
}

func (s *Store) AuditLogs() []model.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.AuditLog(nil), s.st.audit...)
}

func (s *Store) OutboxEvents() []model.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.OutboxEvent(nil), s.st.outbox...)
}

// Repository views.

func (s *Store) Slots() repository.SlotRepository                 { return slotRepo{s} }
func (s *Store) Consultations() repository.ConsultationRepository { return consultationRepo{s} }
func (s *Store) BookingRepo() repository.BookingRepository        { return bookingRepo{s} }
func (s *Store) Payments() repository.PaymentRepository           { return paymentRepo{s} }
func (s *Store) Audit() repository.AuditRepository                { return auditRepo{s} }
func (s *Store) Outbox() repository.OutboxRepository              { return outboxRepo{s} }
func (s *Store) Prescriptions() repository.PrescriptionRepository { return prescriptionRepo{s} }

type slotRepo struct{ s *Store }

func (r slotRepo) Create(ctx context.Context, slot *model.AvailabilitySlot) error {
	defer r.s.guard(ctx)()
	for _, other := range r.s.st.slots {
		if other.DoctorID == slot.DoctorID && other.Overlaps(slot.StartTime, slot.EndTime) {
			return &repository.DuplicateKeyError{Constraint: repository.ConstraintSlotNoOverlap}
		}
	}
	if slot.ID == uuid.Nil {
		slot.ID = uuid.New()
	}
	now := time.Now().UTC()
	slot.CreatedAt, slot.UpdatedAt = now, now
	r.s.st.slots[slot.ID] = *slot
	return nil
}

func (r slotRepo) Get(ctx context.Context, id uuid.UUID) (*model.AvailabilitySlot, error) {
	defer r.s.guard(ctx)()
	slot, ok := r.s.st.slots[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &slot, nil
}

func (r slotRepo) LockForUpdate(ctx context.Context, id uuid.UUID) (*model.AvailabilitySlot, error) {
	if r.s.LockErr != nil {
		return nil, r.s.LockErr
	}
	return r.Get(ctx, id)
}

func (r slotRepo) MarkBooked(ctx context.Context, id uuid.UUID) error {
	defer r.s.guard(ctx)()
	slot, ok := r.s.st.slots[id]
	if !ok || slot.IsBooked {
		return repository.ErrNotFound
	}
	slot.IsBooked = true
	slot.UpdatedAt = time.Now().UTC()
	r.s.st.slots[id] = slot
	return nil
}

func (r slotRepo) LockDoctor(ctx context.Context, doctorID uuid.UUID) error {
	return r.s.LockErr
}

func (r slotRepo) HasOverlap(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (bool, error) {
	defer r.s.guard(ctx)()
	for _, other := range r.s.st.slots {
		if other.DoctorID == doctorID && other.Overlaps(start, end) {
			return true, nil
		}
	}
	return false, nil
}

func (r slotRepo) ListByDoctor(ctx context.Context, doctorID uuid.UUID, page model.Pagination) ([]*model.AvailabilitySlot, error) {
	defer r.s.guard(ctx)()
	var out []*model.AvailabilitySlot
	for _, slot := range r.s.st.slots {
		if slot.DoctorID == doctorID {
			slot := slot
			out = append(out, &slot)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return paginate(out, page), nil
}

type consultationRepo struct{ s *Store }

func (r consultationRepo) Create(ctx context.Context, c *model.Consultation) error {
	defer r.s.guard(ctx)()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	r.s.st.consultations[c.ID] = *c
	return nil
}

func (r consultationRepo) Get(ctx context.Context, id uuid.UUID) (*model.Consultation, error) {
	defer r.s.guard(ctx)()
	c, ok := r.s.st.consultations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

func (r consultationRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Consultation, error) {
	if r.s.LockErr != nil {
		return nil, r.s.LockErr
	}
	return r.Get(ctx, id)
}

func (r consultationRepo) UpdateStatus(ctx context.Context, c *model.Consultation) error {
	defer r.s.guard(ctx)()
	stored, ok := r.s.st.consultations[c.ID]
	if !ok {
		return repository.ErrNotFound
	}
	stored.Status = c.Status
	stored.UpdatedAt = time.Now().UTC()
	c.UpdatedAt = stored.UpdatedAt
	r.s.st.consultations[c.ID] = stored
	return nil
}

func (r consultationRepo) List(ctx context.Context, f model.ConsultationFilters) ([]*model.Consultation, error) {
	defer r.s.guard(ctx)()
	var out []*model.Consultation
	for _, c := range r.s.st.consultations {
		switch {
		case f.DoctorID != uuid.Nil && c.DoctorID != f.DoctorID,
			f.PatientID != uuid.Nil && c.PatientID != f.PatientID,
			f.Status != "" && c.Status != f.Status,
			f.DateFrom != nil && c.CreatedAt.Before(*f.DateFrom),
			f.DateTo != nil && c.CreatedAt.After(*f.DateTo):
			continue
		}
		c := c
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, f.Pagination), nil
}

type bookingRepo struct{ s *Store }

func (r bookingRepo) Create(ctx context.Context, b *model.Booking) error {
	defer r.s.guard(ctx)()
	if r.s.BeforeBookingInsert != nil {
		r.s.BeforeBookingInsert(r.s)
	}
	for _, other := range r.s.st.bookings {
		if other.IdempotencyKey == b.IdempotencyKey {
			return &repository.DuplicateKeyError{Constraint: repository.ConstraintBookingIdempotencyKey}
		}
		if other.SlotID == b.SlotID {
			return &repository.DuplicateKeyError{Constraint: repository.ConstraintBookingSlot}
		}
	}
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	b.CreatedAt = time.Now().UTC()
	r.s.st.bookings[b.ID] = *b
	return nil
}

func (r bookingRepo) GetByIdempotencyKey(ctx context.Context, key string) (*model.Booking, error) {
	defer r.s.guard(ctx)()
	for _, b := range r.s.st.bookings {
		if b.IdempotencyKey == key {
			return &b, nil
		}
	}
	return nil, repository.ErrNotFound
}

type paymentRepo struct{ s *Store }

func (r paymentRepo) Create(ctx context.Context, p *model.Payment) error {
	defer r.s.guard(ctx)()
	if r.s.BeforePaymentInsert != nil {
		if err := r.s.BeforePaymentInsert(r.s); err != nil {
			return err
		}
	}
	for _, other := range r.s.st.payments {
		if other.IdempotencyKey == p.IdempotencyKey {
			return &repository.DuplicateKeyError{Constraint: repository.ConstraintPaymentIdempotencyKey}
		}
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	r.s.st.payments[p.ID] = *p
	return nil
}

func (r paymentRepo) find(ctx context.Context, match func(model.Payment) bool) (*model.Payment, error) {
	defer r.s.guard(ctx)()
	for _, p := range r.s.st.payments {
		if match(p) {
			return &p, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r paymentRepo) Get(ctx context.Context, id uuid.UUID) (*model.Payment, error) {
	return r.find(ctx, func(p model.Payment) bool { return p.ID == id })
}

func (r paymentRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Payment, error) {
	if r.s.LockErr != nil {
		return nil, r.s.LockErr
	}
	return r.Get(ctx, id)
}

func (r paymentRepo) GetByIdempotencyKey(ctx context.Context, key string) (*model.Payment, error) {
	return r.find(ctx, func(p model.Payment) bool { return p.IdempotencyKey == key })
}

func (r paymentRepo) GetByProviderReferenceForUpdate(ctx context.Context, reference string) (*model.Payment, error) {
	if r.s.LockErr != nil {
		return nil, r.s.LockErr
	}
	return r.find(ctx, func(p model.Payment) bool { return p.ProviderReference == reference })
}

func (r paymentRepo) HasSucceeded(ctx context.Context, consultationID, excludeID uuid.UUID) (bool, error) {
	_, err := r.find(ctx, func(p model.Payment) bool {
		return p.ConsultationID == consultationID && p.Status == model.PaymentStatusSucceeded && p.ID != excludeID
	})
	if err == repository.ErrNotFound {
		return false, nil
	}
	return err == nil, err
}

func (r paymentRepo) UpdateStatus(ctx context.Context, p *model.Payment) error {
	defer r.s.guard(ctx)()
	stored, ok := r.s.st.payments[p.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if p.Status == model.PaymentStatusSucceeded {
		for _, other := range r.s.st.payments {
			if other.ID != p.ID && other.ConsultationID == stored.ConsultationID && other.Status == model.PaymentStatusSucceeded {
				return &repository.DuplicateKeyError{Constraint: repository.ConstraintPaymentSucceeded}
			}
		}
	}
	stored.Status = p.Status
	stored.UpdatedAt = time.Now().UTC()
	p.UpdatedAt = stored.UpdatedAt
	r.s.st.payments[p.ID] = stored
	return nil
}

type auditRepo struct{ s *Store }

func (r auditRepo) Create(ctx context.Context, log *model.AuditLog) error {
	defer r.s.guard(ctx)()
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	r.s.st.audit = append(r.s.st.audit, *log)
	return nil
}

func (r auditRepo) ListByEntity(ctx context.Context, entityType, entityID string) ([]*model.AuditLog, error) {
	defer r.s.guard(ctx)()
	var out []*model.AuditLog
	for _, l := range r.s.st.audit {
		if l.EntityType == entityType && l.EntityID == entityID {
			l := l
			out = append(out, &l)
		}
	}
	return out, nil
}

type outboxRepo struct{ s *Store }

func (r outboxRepo) Create(ctx context.Context, event *model.OutboxEvent) error {
	defer r.s.guard(ctx)()
	event.ID = uuid.New()
	event.Status = model.OutboxStatusPending
	event.CreatedAt = time.Now().UTC()
	event.UpdatedAt = event.CreatedAt
	r.s.st.outbox = append(r.s.st.outbox, *event)
	return nil
}

func (r outboxRepo) GetPendingEventsWithLock(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	defer r.s.guard(ctx)()
	now := time.Now()
	var out []*model.OutboxEvent
	for _, e := range r.s.st.outbox {
		if len(out) == limit {
			break
		}
		if e.Status != model.OutboxStatusPending && e.Status != model.OutboxStatusRetry {
			continue
		}
		if e.RetryAt != nil && e.RetryAt.After(now) {
			continue
		}
		e := e
		out = append(out, &e)
	}
	return out, nil
}

func (r outboxRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errorMessage *string, retryAt *time.Time) error {
	defer r.s.guard(ctx)()
	for i := range r.s.st.outbox {
		e := &r.s.st.outbox[i]
		if e.ID != id {
			continue
		}
		e.Status = status
		e.ErrorMessage = errorMessage
		e.RetryAt = retryAt
		if status == model.OutboxStatusRetry {
			e.RetryCount++
		}
		if status == model.OutboxStatusProcessed {
			now := time.Now().UTC()
			e.ProcessedAt = &now
		}
		e.UpdatedAt = time.Now().UTC()
		return nil
	}
	return repository.ErrNotFound
}

func (r outboxRepo) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	defer r.s.guard(ctx)()
	kept := r.s.st.outbox[:0]
	var deleted int64
	for _, e := range r.s.st.outbox {
		if e.Status == model.OutboxStatusProcessed && e.ProcessedAt != nil && e.ProcessedAt.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	r.s.st.outbox = kept
	return deleted, nil
}

type prescriptionRepo struct{ s *Store }

func (r prescriptionRepo) Create(ctx context.Context, p *model.Prescription) error {
	defer r.s.guard(ctx)()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = time.Now().UTC()
	r.s.st.prescriptions[p.ID] = *p
	return nil
}

func paginate[T any](items []T, page model.Pagination) []T {
	page = page.Normalize()
	if page.Offset >= len(items) {
		return []T{}
	}
	end := page.Offset + page.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[page.Offset:end]
}
