package booking

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/teleconsult-api/internal/handler"
	"github.com/jwalitptl/teleconsult-api/internal/model"
	"github.com/jwalitptl/teleconsult-api/internal/service/booking"
	"github.com/jwalitptl/teleconsult-api/pkg/errors"
)

const HeaderIdempotencyKey = "Idempotency-Key"

type Handler struct {
	service *booking.Service
}

func NewHandler(service *booking.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/bookings", h.CreateBooking)
}

// CreateBooking answers 201 for a new booking and 200 when the idempotency
// key replays an earlier one.
func (h *Handler) CreateBooking(c *gin.Context) {
	actor, err := handler.CurrentActor(c)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	if actor.Role != model.RolePatient {
		handler.Fail(c, errors.Forbidden("only patients can book slots"))
		return
	}

	var req model.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.BindFailed(c, err)
		return
	}

	b, created, err := h.service.Book(c.Request.Context(), actor.ID, req.SlotID, c.GetHeader(HeaderIdempotencyKey))
	if err != nil {
		handler.Fail(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, handler.NewSuccessResponse(model.BookingResult{Booking: b, Created: created}))
}
