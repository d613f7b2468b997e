package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/teleconsult-api/internal/handler/audit"
	"github.com/jwalitptl/teleconsult-api/internal/handler/availability"
	"github.com/jwalitptl/teleconsult-api/internal/handler/booking"
	"github.com/jwalitptl/teleconsult-api/internal/handler/consultation"
	"github.com/jwalitptl/teleconsult-api/internal/handler/health"
	"github.com/jwalitptl/teleconsult-api/internal/handler/payment"
	"github.com/jwalitptl/teleconsult-api/internal/handler/prescription"
	promhandler "github.com/jwalitptl/teleconsult-api/internal/handler/prometheus"
	"github.com/jwalitptl/teleconsult-api/internal/middleware"
	"github.com/jwalitptl/teleconsult-api/internal/model"
	"github.com/jwalitptl/teleconsult-api/internal/repository/memory"
	auditService "github.com/jwalitptl/teleconsult-api/internal/service/audit"
	availabilityService "github.com/jwalitptl/teleconsult-api/internal/service/availability"
	bookingService "github.com/jwalitptl/teleconsult-api/internal/service/booking"
	consultationService "github.com/jwalitptl/teleconsult-api/internal/service/consultation"
	eventService "github.com/jwalitptl/teleconsult-api/internal/service/event"
	paymentService "github.com/jwalitptl/teleconsult-api/internal/service/payment"
	prescriptionService "github.com/jwalitptl/teleconsult-api/internal/service/prescription"
	"github.com/jwalitptl/teleconsult-api/pkg/logger"
	"github.com/jwalitptl/teleconsult-api/pkg/metrics"
)

const (
	testSecret = "test-secret"
	testIssuer = "teleconsult"
)

type okPinger struct{}

func (okPinger) PingContext(ctx context.Context) error { return nil }

type envelope struct {
	Status  string          `json:"status"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	t      *testing.T
	store  *memory.Store
	engine *gin.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	require.NoError(t, middleware.RegisterValidators())

	store := memory.NewStore()
	log := logger.Nop()
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics("test", "", reg)
	auditor := auditService.NewService(store.Audit())
	events := eventService.NewService(store.Outbox())

	bookingSvc := bookingService.NewService(store, store.Slots(), store.Consultations(), store.BookingRepo(),
		bookingService.NewLedger(store.BookingRepo(), time.Minute, time.Minute), auditor, events, m, log)
	consultationSvc := consultationService.NewService(store, store.Consultations(), auditor, events, m, log)
	paymentSvc := paymentService.NewService(store, store.Payments(), store.Consultations(), auditor, events, m, log, "INR")
	availabilitySvc := availabilityService.NewService(store, store.Slots(), auditor, log)
	prescriptionSvc := prescriptionService.NewService(store, store.Prescriptions(), store.Consultations(), auditor, events, log)

	httpMetrics := promhandler.New("test", reg, reg)
	r := NewRouter(
		middleware.NewAuthMiddleware(testSecret, testIssuer),
		health.NewHandler(okPinger{}, httpMetrics.Handler()),
		httpMetrics,
		RouterConfig{CORSConfig: middleware.DefaultCORSConfig(), MaxBodySize: middleware.DefaultMaxBodySize},
		booking.NewHandler(bookingSvc),
		consultation.NewHandler(consultationSvc),
		payment.NewHandler(paymentSvc),
		availability.NewHandler(availabilitySvc),
		prescription.NewHandler(prescriptionSvc),
		audit.NewHandler(auditor),
	)
	r.Setup()

	return &testServer{t: t, store: store, engine: r.Engine()}
}

func token(t *testing.T, actor model.Actor) string {
	t.Helper()
	claims := middleware.Claims{
		Role: actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID.String(),
			Issuer:    testIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (s *testServer) do(method, path string, actor *model.Actor, body interface{}, headers map[string]string) (*httptest.ResponseRecorder, envelope) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		req.Header.Set("Authorization", "Bearer "+token(s.t, *actor))
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") != "" && bytes.HasPrefix(w.Body.Bytes(), []byte("{")) {
		require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	w, _ := s.do(http.MethodGet, "/api/v1/health/live", nil, nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(http.MethodGet, "/api/v1/health/ready", nil, nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(http.MethodGet, "/api/v1/health/metrics", nil, nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "test_http_requests_total")
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)

	w, env := s.do(http.MethodPost, "/api/v1/bookings", nil, map[string]string{"slot_id": uuid.NewString()}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "error", env.Status)
	assert.Equal(t, "UNAUTHORIZED", env.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/consultations", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBookingFlow(t *testing.T) {
	s := newTestServer(t)
	doctor := model.Actor{ID: uuid.New(), Role: model.RoleDoctor}
	patient := model.Actor{ID: uuid.New(), Role: model.RolePatient}
	start := time.Now().Add(48 * time.Hour).UTC().Truncate(time.Minute)

	w, env := s.do(http.MethodPost, "/api/v1/availability", &doctor, map[string]time.Time{
		"start_time": start,
		"end_time":   start.Add(30 * time.Minute),
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var slot model.AvailabilitySlot
	require.NoError(t, json.Unmarshal(env.Data, &slot))

	w, env = s.do(http.MethodGet, "/api/v1/availability/doctor/"+doctor.ID.String(), &patient, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var slots []model.AvailabilitySlot
	require.NoError(t, json.Unmarshal(env.Data, &slots))
	require.Len(t, slots, 1)

	body := map[string]string{"slot_id": slot.ID.String()}
	key := map[string]string{booking.HeaderIdempotencyKey: "book-1"}

	w, env = s.do(http.MethodPost, "/api/v1/bookings", &patient, body, key)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var first model.BookingResult
	require.NoError(t, json.Unmarshal(env.Data, &first))
	assert.True(t, first.Created)

	w, env = s.do(http.MethodPost, "/api/v1/bookings", &patient, body, key)
	require.Equal(t, http.StatusOK, w.Code)
	var replay model.BookingResult
	require.NoError(t, json.Unmarshal(env.Data, &replay))
	assert.False(t, replay.Created)
	assert.Equal(t, first.Booking.ID, replay.Booking.ID)

	other := model.Actor{ID: uuid.New(), Role: model.RolePatient}
	w, env = s.do(http.MethodPost, "/api/v1/bookings", &other, body, map[string]string{booking.HeaderIdempotencyKey: "book-2"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "CONFLICT", env.Code)

	w, env = s.do(http.MethodPost, "/api/v1/bookings", &other, body, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "BAD_REQUEST", env.Code)

	w, _ = s.do(http.MethodPost, "/api/v1/bookings", &doctor, body, key)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// the doctor completes, then the patient can no longer cancel
	consultationPath := "/api/v1/consultations/" + first.Booking.ConsultationID.String() + "/status"
	w, _ = s.do(http.MethodPatch, consultationPath, &patient, map[string]string{"status": "completed"}, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = s.do(http.MethodPatch, consultationPath, &doctor, map[string]string{"status": "completed"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, env = s.do(http.MethodPatch, consultationPath, &patient, map[string]string{"status": "cancelled"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_TRANSITION", env.Code)

	w, env = s.do(http.MethodGet, "/api/v1/consultations?status=completed", &patient, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []model.Consultation
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 1)

	w, _ = s.do(http.MethodGet, "/api/v1/consultations?date_from=bogus", &patient, nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(http.MethodPost, "/api/v1/prescriptions", &doctor, map[string]string{
		"consultation_id": first.Booking.ConsultationID.String(),
		"notes":           "rest and fluids",
	}, nil)
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	admin := model.Actor{ID: uuid.New(), Role: model.RoleAdmin}
	w, env = s.do(http.MethodGet, "/api/v1/audit/logs/entity/consultation/"+first.Booking.ConsultationID.String(), &admin, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var logs []model.AuditLog
	require.NoError(t, json.Unmarshal(env.Data, &logs))
	require.Len(t, logs, 2)
	assert.Equal(t, model.AuditActionBookingCreated, logs[0].Action)
	assert.Equal(t, model.AuditActionConsultationStatusUpdated, logs[1].Action)

	w, _ = s.do(http.MethodGet, "/api/v1/audit/logs/entity/consultation/"+first.Booking.ConsultationID.String(), &patient, nil, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestPaymentFlow(t *testing.T) {
	s := newTestServer(t)
	patient := model.Actor{ID: uuid.New(), Role: model.RolePatient}
	admin := model.Actor{ID: uuid.New(), Role: model.RoleAdmin}
	c := s.store.AddConsultation(model.Consultation{
		PatientID: patient.ID,
		DoctorID:  uuid.New(),
		Status:    model.ConsultationStatusScheduled,
	})

	body := map[string]interface{}{
		"consultation_id": c.ID.String(),
		"amount":          "750.50",
		"currency":        "inr",
		"idempotency_key": "pay-1",
	}
	w, env := s.do(http.MethodPost, "/api/v1/payments", &patient, body, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var p model.Payment
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, "INR", p.Currency)
	assert.True(t, p.Amount.Equal(decimal.RequireFromString("750.5")))

	w, _ = s.do(http.MethodPost, "/api/v1/payments", &patient, body, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	body["currency"] = "rupees"
	body["idempotency_key"] = "pay-2"
	w, _ = s.do(http.MethodPost, "/api/v1/payments", &patient, body, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// webhook needs no token
	for _, status := range []string{"authorized", "succeeded"} {
		w, _ = s.do(http.MethodPost, "/api/v1/payments/webhook", nil, map[string]string{
			"provider_reference": p.ProviderReference,
			"status":             status,
		}, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	w, env = s.do(http.MethodPost, "/api/v1/payments/webhook", nil, map[string]string{
		"provider_reference": p.ProviderReference,
		"status":             "failed",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_TRANSITION", env.Code)

	refundPath := "/api/v1/payments/" + p.ID.String() + "/refund"
	w, _ = s.do(http.MethodPost, refundPath, &patient, nil, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, env = s.do(http.MethodPost, refundPath, &admin, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, model.PaymentStatusRefunded, p.Status)

	w, _ = s.do(http.MethodGet, "/api/v1/payments/"+p.ID.String(), &patient, nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	stranger := model.Actor{ID: uuid.New(), Role: model.RolePatient}
	w, env = s.do(http.MethodGet, "/api/v1/payments/"+p.ID.String(), &stranger, nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", env.Code)

	w, _ = s.do(http.MethodGet, "/api/v1/payments/not-a-uuid", &patient, nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
