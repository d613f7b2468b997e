package consultation

import (
	"context"
	"encoding/json"
	"fmt"
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
	c       model.Consultation
	doctor  model.Actor
	patient model.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	m := metrics.New("test")
	f := &fixture{
		store:   store,
		metrics: m,
		svc: NewService(store, store.Consultations(), audit.NewService(store.Audit()),
			event.NewService(store.Outbox()), m, logger.Nop()),
		doctor:  model.Actor{ID: uuid.New(), Role: model.RoleDoctor},
		patient: model.Actor{ID: uuid.New(), Role: model.RolePatient},
	}
	f.c = store.AddConsultation(model.Consultation{
		PatientID: f.patient.ID,
		DoctorID:  f.doctor.ID,
		SlotID:    uuid.New(),
		Status:    model.ConsultationStatusScheduled,
	})
	return f
}

func TestTransition_DoctorCompletes(t *testing.T) {
	f := newFixture(t)

	c, err := f.svc.Transition(context.Background(), f.c.ID, model.ConsultationStatusCompleted, f.doctor)
	require.NoError(t, err)
	assert.Equal(t, model.ConsultationStatusCompleted, c.Status)

	stored, _ := f.store.Consultation(f.c.ID)
	assert.Equal(t, model.ConsultationStatusCompleted, stored.Status)

	logs := f.store.AuditLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, model.AuditActionConsultationStatusUpdated, logs[0].Action)
	assert.Equal(t, f.doctor.ID, *logs[0].UserID)
	var data map[string]string
	require.NoError(t, json.Unmarshal(logs[0].EventData, &data))
	assert.Equal(t, "completed", data["new_status"])
	assert.Equal(t, "scheduled", data["old_status"])

	events := f.store.OutboxEvents()
	require.Len(t, events, 1)
	assert.Equal(t, model.EventConsultationStatusUpdated, events[0].EventType)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ConsultationTransitions.WithLabelValues("completed", "ok")))
}

func TestTransition_PatientCancels(t *testing.T) {
	f := newFixture(t)

	c, err := f.svc.Transition(context.Background(), f.c.ID, model.ConsultationStatusCancelled, f.patient)
	require.NoError(t, err)
	assert.Equal(t, model.ConsultationStatusCancelled, c.Status)
}

func TestTransition_Rules(t *testing.T) {
	tests := []struct {
		name    string
		from    model.ConsultationStatus
		to      model.ConsultationStatus
		actor   func(f *fixture) model.Actor
		wantErr func(error) bool
	}{
		{
			name:    "doctor cannot cancel",
			from:    model.ConsultationStatusScheduled,
			to:      model.ConsultationStatusCancelled,
			actor:   func(f *fixture) model.Actor { return f.doctor },
			wantErr: errors.IsForbidden,
		},
		{
			name:    "patient cannot complete",
			from:    model.ConsultationStatusScheduled,
			to:      model.ConsultationStatusCompleted,
			actor:   func(f *fixture) model.Actor { return f.patient },
			wantErr: errors.IsForbidden,
		},
		{
			name:    "admin cannot drive the lifecycle",
			from:    model.ConsultationStatusScheduled,
			to:      model.ConsultationStatusCompleted,
			actor:   func(*fixture) model.Actor { return model.Actor{ID: uuid.New(), Role: model.RoleAdmin} },
			wantErr: errors.IsForbidden,
		},
		{
			name:    "other doctor",
			from:    model.ConsultationStatusScheduled,
			to:      model.ConsultationStatusCompleted,
			actor:   func(*fixture) model.Actor { return model.Actor{ID: uuid.New(), Role: model.RoleDoctor} },
			wantErr: errors.IsForbidden,
		},
		{
			name:    "completed is terminal",
			from:    model.ConsultationStatusCompleted,
			to:      model.ConsultationStatusCancelled,
			actor:   func(f *fixture) model.Actor { return f.patient },
			wantErr: errors.IsInvalidTransition,
		},
		{
			name:    "cancelled is terminal",
			from:    model.ConsultationStatusCancelled,
			to:      model.ConsultationStatusCompleted,
			actor:   func(f *fixture) model.Actor { return f.doctor },
			wantErr: errors.IsInvalidTransition,
		},
		{
			name:    "same status is not a transition",
			from:    model.ConsultationStatusCompleted,
			to:      model.ConsultationStatusCompleted,
			actor:   func(f *fixture) model.Actor { return f.doctor },
			wantErr: errors.IsInvalidTransition,
		},
		{
			name:    "back to scheduled",
			from:    model.ConsultationStatusScheduled,
			to:      model.ConsultationStatusScheduled,
			actor:   func(f *fixture) model.Actor { return f.doctor },
			wantErr: errors.IsInvalidTransition,
		},
		{
			name:    "unknown status",
			from:    model.ConsultationStatusScheduled,
			to:      model.ConsultationStatus("in_progress"),
			actor:   func(f *fixture) model.Actor { return f.doctor },
			wantErr: errors.IsInvalidTransition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			c := f.store.AddConsultation(model.Consultation{
				PatientID: f.patient.ID,
				DoctorID:  f.doctor.ID,
				Status:    tt.from,
			})

			_, err := f.svc.Transition(context.Background(), c.ID, tt.to, tt.actor(f))
			require.Error(t, err)
			assert.True(t, tt.wantErr(err), "got %v", err)

			stored, _ := f.store.Consultation(c.ID)
			assert.Equal(t, tt.from, stored.Status)
			assert.Empty(t, f.store.AuditLogs())
			assert.Empty(t, f.store.OutboxEvents())
		})
	}
}

func TestTransition_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Transition(context.Background(), uuid.New(), model.ConsultationStatusCompleted, f.doctor)
	assert.True(t, errors.IsNotFound(err))
}

func TestTransition_LockTimeout(t *testing.T) {
	f := newFixture(t)
	f.store.LockErr = fmt.Errorf("lock: %w", repository.ErrLockTimeout)

	_, err := f.svc.Transition(context.Background(), f.c.ID, model.ConsultationStatusCompleted, f.doctor)
	assert.True(t, errors.IsConflict(err))
}

func TestTransition_Monotonic(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Transition(context.Background(), f.c.ID, model.ConsultationStatusCancelled, f.patient)
	require.NoError(t, err)

	_, err = f.svc.Transition(context.Background(), f.c.ID, model.ConsultationStatusCompleted, f.doctor)
	assert.True(t, errors.IsInvalidTransition(err))

	stored, _ := f.store.Consultation(f.c.ID)
	assert.Equal(t, model.ConsultationStatusCancelled, stored.Status)
}

func TestSearch_ScopesByRole(t *testing.T) {
	f := newFixture(t)
	otherPatient := uuid.New()
	otherDoctor := uuid.New()
	f.store.AddConsultation(model.Consultation{PatientID: otherPatient, DoctorID: f.doctor.ID, Status: model.ConsultationStatusScheduled})
	f.store.AddConsultation(model.Consultation{PatientID: f.patient.ID, DoctorID: otherDoctor, Status: model.ConsultationStatusCompleted})
	f.store.AddConsultation(model.Consultation{PatientID: otherPatient, DoctorID: otherDoctor, Status: model.ConsultationStatusScheduled})

	// patient filters for another patient's records and still only gets their own
	list, err := f.svc.Search(context.Background(), f.patient, model.ConsultationFilters{PatientID: otherPatient})
	require.NoError(t, err)
	require.Len(t, list, 2)
	for _, c := range list {
		assert.Equal(t, f.patient.ID, c.PatientID)
	}

	list, err = f.svc.Search(context.Background(), f.doctor, model.ConsultationFilters{DoctorID: otherDoctor})
	require.NoError(t, err)
	require.Len(t, list, 2)
	for _, c := range list {
		assert.Equal(t, f.doctor.ID, c.DoctorID)
	}

	admin := model.Actor{ID: uuid.New(), Role: model.RoleAdmin}
	list, err = f.svc.Search(context.Background(), admin, model.ConsultationFilters{})
	require.NoError(t, err)
	assert.Len(t, list, 4)

	list, err = f.svc.Search(context.Background(), admin, model.ConsultationFilters{
		DoctorID: otherDoctor,
		Status:   model.ConsultationStatusScheduled,
	})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, otherPatient, list[0].PatientID)

	_, err = f.svc.Search(context.Background(), model.Actor{ID: uuid.New(), Role: "nurse"}, model.ConsultationFilters{})
	assert.True(t, errors.IsForbidden(err))
}

func TestSearch_DateRangeAndOrder(t *testing.T) {
	store := memory.NewStore()
	svc := NewService(store, store.Consultations(), audit.NewService(store.Audit()),
		event.NewService(store.Outbox()), metrics.New("test"), logger.Nop())
	base := time.Date(2030, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		store.AddConsultation(model.Consultation{
			PatientID: uuid.New(),
			DoctorID:  uuid.New(),
			Status:    model.ConsultationStatusScheduled,
			CreatedAt: base.Add(time.Duration(i) * 24 * time.Hour),
		})
	}
	admin := model.Actor{ID: uuid.New(), Role: model.RoleAdmin}
	from, to := base.Add(24*time.Hour), base.Add(3*24*time.Hour)

	list, err := svc.Search(context.Background(), admin, model.ConsultationFilters{DateFrom: &from, DateTo: &to})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, to, list[0].CreatedAt)
	assert.Equal(t, from, list[2].CreatedAt)

	list, err = svc.Search(context.Background(), admin, model.ConsultationFilters{Pagination: model.Pagination{Limit: 2, Offset: 1}})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, base.Add(3*24*time.Hour), list[0].CreatedAt)

	_, err = svc.Search(context.Background(), admin, model.ConsultationFilters{DateFrom: &to, DateTo: &from})
	assert.True(t, errors.IsBadRequest(err))

	_, err = svc.Search(context.Background(), admin, model.ConsultationFilters{Status: "bogus"})
	assert.True(t, errors.IsBadRequest(err))
}

func TestTransition_FromTerminalStatus(t *testing.T) {
	f := newFixture(t)
	c := f.store.AddConsultation(model.Consultation{
		PatientID: f.patient.ID,
		DoctorID:  f.doctor.ID,
		Status:    model.ConsultationStatusCompleted,
	})

	_, err := f.svc.Transition(context.Background(), c.ID, model.ConsultationStatusCancelled, f.patient)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidTransition(err))
	assert.Contains(t, err.Error(), "terminal")
}

func TestTransition_UnknownStatusesShareOneMetricSeries(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 500; i++ {
		_, err := f.svc.Transition(context.Background(), f.c.ID, model.ConsultationStatus(fmt.Sprintf("junk-%d", i)), f.patient)
		require.True(t, errors.IsInvalidTransition(err))
	}

	assert.Equal(t, 1, testutil.CollectAndCount(f.metrics.ConsultationTransitions))
	assert.Equal(t, 500.0, testutil.ToFloat64(f.metrics.ConsultationTransitions.WithLabelValues("invalid", "INVALID_TRANSITION")))
}
