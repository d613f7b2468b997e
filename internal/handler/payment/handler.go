package payment

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/teleconsult-api/internal/handler"
	"github.com/jwalitptl/teleconsult-api/internal/model"
	"github.com/jwalitptl/teleconsult-api/internal/service/payment"
	"github.com/jwalitptl/teleconsult-api/pkg/errors"
)

type Handler struct {
	service *payment.Service
}

func NewHandler(service *payment.Service) *Handler {
	return &Handler{service: service}
}

// RegisterPublicRoutes mounts the provider webhook, which carries no user
// token.
func (h *Handler) RegisterPublicRoutes(r *gin.RouterGroup) {
	r.POST("/payments/webhook", h.Webhook)
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	payments := r.Group("/payments")
	{
		payments.POST("", h.CreatePayment)
		payments.GET("/:id", h.GetPayment)
		payments.POST("/:id/refund", h.Refund)
	}
}

// CreatePayment answers 201 for a new payment and 200 for a replayed key.
func (h *Handler) CreatePayment(c *gin.Context) {
	actor, err := handler.CurrentActor(c)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	if actor.Role != model.RolePatient {
		handler.Fail(c, errors.Forbidden("only patients can create payments"))
		return
	}

	var req model.CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.BindFailed(c, err)
		return
	}

	p, created, err := h.service.CreatePayment(c.Request.Context(), actor.ID, req.ConsultationID,
		req.Amount, req.Currency, req.IdempotencyKey)
	if err != nil {
		handler.Fail(c, err)
		return
	}

	if created {
		handler.Created(c, p)
		return
	}
	handler.OK(c, p)
}

func (h *Handler) GetPayment(c *gin.Context) {
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

	p, err := h.service.GetPayment(c.Request.Context(), id, actor)
	if err != nil {
		handler.Fail(c, err)
		return
	}

	handler.OK(c, p)
}

func (h *Handler) Webhook(c *gin.Context) {
	var req model.PaymentWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.BindFailed(c, err)
		return
	}

	p, err := h.service.ApplyWebhook(c.Request.Context(), req.ProviderReference, req.Status)
	if err != nil {
		handler.Fail(c, err)
		return
	}

	handler.OK(c, p)
}

func (h *Handler) Refund(c *gin.Context) {
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

	p, err := h.service.Refund(c.Request.Context(), id, actor)
	if err != nil {
		handler.Fail(c, err)
		return
	}

	handler.OK(c, p)
}
