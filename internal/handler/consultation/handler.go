package consultation

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/teleconsult-api/internal/handler"
	"github.com/jwalitptl/teleconsult-api/internal/model"
	"github.com/jwalitptl/teleconsult-api/internal/service/consultation"
	"github.com/jwalitptl/teleconsult-api/pkg/errors"
)

type Handler struct {
	service *consultation.Service
}

func NewHandler(service *consultation.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	consultations := r.Group("/consultations")
	{
		consultations.GET("", h.SearchConsultations)
		consultations.PATCH("/:id/status", h.UpdateStatus)
	}
}

func (h *Handler) UpdateStatus(c *gin.Context) {
	actor, err := handler.CurrentActor(c)
	if err != nil {
		handler.Fail(c, err)
		return
	}

	id, err := handler.ParamUUID(c, "id")
	if err != nil {
		handler.Fail(c, err)
		return
	}

	var req model.UpdateConsultationStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.BindFailed(c, err)
		return
	}

	updated, err := h.service.Transition(c.Request.Context(), id, req.Status, actor)
	if err != nil {
		handler.Fail(c, err)
		return
	}

	handler.OK(c, updated)
}

func (h *Handler) SearchConsultations(c *gin.Context) {
	actor, err := handler.CurrentActor(c)
	if err != nil {
		handler.Fail(c, err)
		return
	}

	filters, err := parseFilters(c)
	if err != nil {
		handler.Fail(c, err)
		return
	}

	list, err := h.service.Search(c.Request.Context(), actor, filters)
	if err != nil {
		handler.Fail(c, err)
		return
	}

	handler.OK(c, list)
}

func parseFilters(c *gin.Context) (model.ConsultationFilters, error) {
	var filters model.ConsultationFilters

	if err := c.ShouldBindQuery(&filters.Pagination); err != nil {
		return filters, errors.BadRequest("invalid pagination", err)
	}

	if id := c.Query("doctor_id"); id != "" {
		doctorID, err := uuid.Parse(id)
		if err != nil {
			return filters, errors.BadRequest("invalid doctor_id", err)
		}
		filters.DoctorID = doctorID
	}

	if id := c.Query("patient_id"); id != "" {
		patientID, err := uuid.Parse(id)
		if err != nil {
			return filters, errors.BadRequest("invalid patient_id", err)
		}
		filters.PatientID = patientID
	}

	if status := c.Query("status"); status != "" {
		filters.Status = model.ConsultationStatus(status)
	}

	if v := c.Query("date_from"); v != "" {
		from, err := parseDate(v, false)
		if err != nil {
			return filters, errors.BadRequest("invalid date_from", err)
		}
		filters.DateFrom = &from
	}

	if v := c.Query("date_to"); v != "" {
		to, err := parseDate(v, true)
		if err != nil {
			return filters, errors.BadRequest("invalid date_to", err)
		}
		filters.DateTo = &to
	}

	return filters, nil
}

// parseDate accepts RFC 3339 timestamps or plain dates. A plain date_to
// covers the whole day.
func parseDate(v string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}
