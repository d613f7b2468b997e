package audit

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/teleconsult-api/internal/handler"
	"github.com/jwalitptl/teleconsult-api/internal/service/audit"
)

type Handler struct {
	service *audit.Service
}

func NewHandler(service *audit.Service) *Handler {
	return &Handler{
		service: service,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	audit := r.Group("/audit")
	{
		audit.GET("/logs/entity/:type/:id", h.GetEntityLogs)
	}
}

func (h *Handler) GetEntityLogs(c *gin.Context) {
	actor, err := handler.CurrentActor(c)
	if err != nil {
		handler.Fail(c, err)
		return
	}

	entityID, err := handler.ParamUUID(c, "id")
	if err != nil {
		handler.Fail(c, err)
		return
	}

	logs, err := h.service.EntityHistory(c.Request.Context(), actor, c.Param("type"), entityID)
	if err != nil {
		handler.Fail(c, err)
		return
	}

	handler.OK(c, logs)
}
