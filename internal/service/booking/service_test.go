package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/teleconsult-api/internal/model"
	"github.com/jwalitptl/teleconsult-api/internal/repository"
	"github.com/jwalitptl/teleconsult-api/internal/repository/memory"
	"github.com/jwalitptl/teleconsult-api/internal/service/audit"
	"github.com/jwalitptl/teleconsult-api/internal/service/event"
	"github.com/jwalitptl/teleconsult-api/pkg/errors"
	"github.com/jwalitptl/teleconsult-api/pkg/logger"
	"github.com/jwalitptl/teleconsult-api/pkg/metrics"
)

type fixture struct {
	store   *memory.Store
	metrics *metrics.Metrics
	svc     *Service
	slot    model.AvailabilitySlot
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	f := &fixture{store: store, metrics: metrics.New("test")}
	f.svc = f.newService()
	start := time.Now().Add(24 * time.Hour).Truncate(time.Minute)
	f.slot = store.AddSlot(model.AvailabilitySlot{
		DoctorID:  uuid.New(),
		StartTime: start,
		EndTime:   start.Add(30 * time.Minute),
	})
	return f
}

// newService builds a service with a cold replay cache over the same store.
func (f *fixture) newService() *Service {
	return NewService(
		f.store,
		f.store.Slots(),
		f.store.Consultations(),
		f.store.BookingRepo(),
		NewLedger(f.store.BookingRepo(), time.Minute, time.Minute),
		audit.NewService(f.store.Audit()),
		event.NewService(f.store.Outbox()),
		f.metrics,
		logger.Nop(),
	)
}

func TestBook_CreatesConsultationBookingAuditAndEvent(t *testing.T) {
	f := newFixture(t)
	patientID := uuid.New()

	b, created, err := f.svc.Book(context.Background(), patientID, f.slot.ID, "key-1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, patientID, b.PatientID)
	assert.Equal(t, f.slot.DoctorID, b.DoctorID)
	assert.Equal(t, "key-1", b.IdempotencyKey)

	c, ok := f.store.Consultation(b.ConsultationID)
	require.True(t, ok)
	assert.Equal(t, model.ConsultationStatusScheduled, c.Status)
	assert.Equal(t, f.slot.ID, c.SlotID)

	slot, _ := f.store.Slot(f.slot.ID)
	assert.True(t, slot.IsBooked)

	logs := f.store.AuditLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, model.AuditActionBookingCreated, logs[0].Action)
	assert.Equal(t, model.AuditEntityConsultation, logs[0].EntityType)
	assert.Equal(t, c.ID.String(), logs[0].EntityID)
	require.NotNil(t, logs[0].UserID)
	assert.Equal(t, patientID, *logs[0].UserID)
	var data map[string]string
	require.NoError(t, json.Unmarshal(logs[0].EventData, &data))
	assert.Equal(t, f.slot.ID.String(), data["slot_id"])

	events := f.store.OutboxEvents()
	require.Len(t, events, 1)
	assert.Equal(t, model.EventBookingCreated, events[0].EventType)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Bookings.WithLabelValues(resultCreated)))
}

func TestBook_ReplaySameKey(t *testing.T) {
	f := newFixture(t)
	patientID := uuid.New()

	first, created, err := f.svc.Book(context.Background(), patientID, f.slot.ID, "key-1")
	require.NoError(t, err)
	require.True(t, created)

	for _, svc := range []*Service{f.svc, f.newService()} {
		again, created, err := svc.Book(context.Background(), patientID, f.slot.ID, "key-1")
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, again.ID)
		assert.Equal(t, first.ConsultationID, again.ConsultationID)
	}

	assert.Equal(t, 1, f.store.ConsultationCount())
	assert.Len(t, f.store.Bookings(), 1)
	assert.Len(t, f.store.AuditLogs(), 1)
	assert.Len(t, f.store.OutboxEvents(), 1)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.Bookings.WithLabelValues(resultReplayed)))
}

func TestBook_RequiresKey(t *testing.T) {
	f := newFixture(t)

	for _, key := range []string{"", "   "} {
		_, _, err := f.svc.Book(context.Background(), uuid.New(), f.slot.ID, key)
		assert.True(t, errors.IsBadRequest(err))
	}

	_, _, err := f.svc.Book(context.Background(), uuid.New(), f.slot.ID, string(make([]byte, MaxIdempotencyKeyLength+1)))
	assert.True(t, errors.IsBadRequest(err))
	assert.Zero(t, f.store.ConsultationCount())
}

func TestBook_SlotNotFound(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.svc.Book(context.Background(), uuid.New(), uuid.New(), "key-1")
	assert.True(t, errors.IsNotFound(err))
	assert.Zero(t, f.store.ConsultationCount())
	assert.Empty(t, f.store.AuditLogs())
}

func TestBook_SlotAlreadyBooked(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.svc.Book(context.Background(), uuid.New(), f.slot.ID, "key-1")
	require.NoError(t, err)

	_, _, err = f.svc.Book(context.Background(), uuid.New(), f.slot.ID, "key-2")
	assert.True(t, errors.IsConflict(err))
	assert.Equal(t, 1, f.store.ConsultationCount())
	assert.Len(t, f.store.AuditLogs(), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Bookings.WithLabelValues(resultConflict)))
}

func TestBook_KeyReusedForDifferentRequest(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.svc.Book(context.Background(), uuid.New(), f.slot.ID, "key-1")
	require.NoError(t, err)

	_, _, err = f.svc.Book(context.Background(), uuid.New(), f.slot.ID, "key-1")
	assert.True(t, errors.IsConflict(err))
}

func TestBook_ConcurrentDifferentKeysOneWinner(t *testing.T) {
	f := newFixture(t)
	const attempts = 50

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   int
		conflicts int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, created, err := f.svc.Book(context.Background(), uuid.New(), f.slot.ID, fmt.Sprintf("key-%d", i))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && created:
				winners++
			case errors.IsConflict(err):
				conflicts++
			default:
				t.Errorf("unexpected result: created=%v err=%v", created, err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Equal(t, attempts-1, conflicts)
	assert.Equal(t, 1, f.store.ConsultationCount())
	assert.Len(t, f.store.Bookings(), 1)
}

func TestBook_ConcurrentSameKeyReturnsOneBooking(t *testing.T) {
	f := newFixture(t)
	patientID := uuid.New()
	const attempts = 20

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		ids     = map[uuid.UUID]struct{}{}
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, isNew, err := f.svc.Book(context.Background(), patientID, f.slot.ID, "same-key")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[b.ID] = struct{}{}
			if isNew {
				created++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Len(t, ids, 1)
	assert.Equal(t, 1, f.store.ConsultationCount())
}

func TestBook_LostRaceOnSameKeyReplaysWinner(t *testing.T) {
	f := newFixture(t)
	patientID := uuid.New()
	winner := model.Booking{
		ID:             uuid.New(),
		PatientID:      patientID,
		DoctorID:       f.slot.DoctorID,
		SlotID:         f.slot.ID,
		ConsultationID: uuid.New(),
		IdempotencyKey: "key-1",
	}
	f.store.BeforeBookingInsert = func(s *memory.Store) {
		s.BeforeBookingInsert = nil
		s.CommitBooking(winner)
	}

	b, created, err := f.svc.Book(context.Background(), patientID, f.slot.ID, "key-1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, winner.ID, b.ID)

	// the losing transaction left nothing behind
	assert.Zero(t, f.store.ConsultationCount())
	assert.Empty(t, f.store.AuditLogs())
	assert.Empty(t, f.store.OutboxEvents())
}

func TestBook_LostRaceOnSlotIsConflict(t *testing.T) {
	f := newFixture(t)
	f.store.BeforeBookingInsert = func(s *memory.Store) {
		s.BeforeBookingInsert = nil
		s.CommitBooking(model.Booking{
			ID:             uuid.New(),
			PatientID:      uuid.New(),
			SlotID:         f.slot.ID,
			IdempotencyKey: "someone-else",
		})
	}

	_, _, err := f.svc.Book(context.Background(), uuid.New(), f.slot.ID, "key-1")
	assert.True(t, errors.IsConflict(err))
	assert.Zero(t, f.store.ConsultationCount())
}

func TestBook_LockTimeoutIsRetryableConflict(t *testing.T) {
	f := newFixture(t)
	f.store.LockErr = fmt.Errorf("failed to lock slot: %w", repository.ErrLockTimeout)

	_, _, err := f.svc.Book(context.Background(), uuid.New(), f.slot.ID, "key-1")
	assert.True(t, errors.IsConflict(err))

	f.store.LockErr = nil
	_, created, err := f.svc.Book(context.Background(), uuid.New(), f.slot.ID, "key-1")
	require.NoError(t, err)
	assert.True(t, created)
}
