package prescription

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/teleconsult-api/internal/handler"
	"github.com/jwalitptl/teleconsult-api/internal/model"
	"github.com/jwalitptl/teleconsult-api/internal/service/prescription"
)

type Handler struct {
	service *prescription.Service
}

func NewHandler(service *prescription.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/prescriptions", h.CreatePrescription)
}

func (h *Handler) CreatePrescription(c *gin.Context) {
	actor, err := handler.CurrentActor(c)
	if err != nil {
		handler.Fail(c, err)
		return
	}

	var req model.CreatePrescriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.BindFailed(c, err)
		return
	}

	p, err := h.service.Create(c.Request.Context(), actor, req.ConsultationID, req.Notes)
	if err != nil {
		handler.Fail(c, err)
		return
	}

	handler.Created(c, p)
}
