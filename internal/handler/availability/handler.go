package availability

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/teleconsult-api/internal/handler"
	"github.com/jwalitptl/teleconsult-api/internal/model"
	"github.com/jwalitptl/teleconsult-api/internal/service/availability"
	"github.com/jwalitptl/teleconsult-api/pkg/errors"
)

type Handler struct {
	service *availability.Service
}

func NewHandler(service *availability.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	slots := r.Group("/availability")
	{
		slots.POST("", h.CreateSlot)
		slots.GET("/doctor/:doctor_id", h.ListSlots)
	}
}

func (h *Handler) CreateSlot(c *gin.Context) {
	actor, err := handler.CurrentActor(c)
	if err != nil {
		handler.Fail(c, err)
		return
	}

	var req model.CreateSlotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.BindFailed(c, err)
		return
	}

	slot, err := h.service.CreateSlot(c.Request.Context(), actor, req.StartTime, req.EndTime)
	if err != nil {
		handler.Fail(c, err)
		return
	}

	handler.Created(c, slot)
}

func (h *Handler) ListSlots(c *gin.Context) {
	doctorID, err := handler.ParamUUID(c, "doctor_id")
	if err != nil {
		handler.Fail(c, err)
		return
	}

	var page model.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		handler.Fail(c, errors.BadRequest("invalid pagination", err))
		return
	}

	slots, err := h.service.ListSlots(c.Request.Context(), doctorID, page)
	if err != nil {
		handler.Fail(c, err)
		return
	}

	handler.OK(c, slots)
}
