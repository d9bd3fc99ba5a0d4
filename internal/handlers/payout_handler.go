package handlers

import (
	"net/http"

	"paylink_backend/internal/middleware"
	"paylink_backend/internal/services"
	"paylink_backend/internal/services/dto"

	"github.com/gin-gonic/gin"
)

type PayoutHandler struct {
	*BaseHandler
	payoutService services.PayoutService
}

func NewPayoutHandler(base *BaseHandler, payoutService services.PayoutService) *PayoutHandler {
	return &PayoutHandler{
		BaseHandler:   base,
		payoutService: payoutService,
	}
}

func (h *PayoutHandler) RegisterRoutes(r *gin.RouterGroup) {
	payouts := r.Group("/transactions/:transactionId/payout")
	payouts.Use(middleware.AuthMiddleware())
	{
		payouts.GET("", middleware.RequirePermission("payouts:trigger"), h.GetPayout)
		payouts.POST("", middleware.RequirePermission("payouts:trigger"), h.TriggerPayout)
		payouts.POST("/retry", middleware.RequirePermission("payouts:retry"), h.RetryPayout)
	}
}

func (h *PayoutHandler) GetPayout(c *gin.Context) {
	payout, err := h.payoutService.Get(c.Request.Context(), c.Param("transactionId"))
	h.Respond(c, http.StatusOK, payout, err)
}

func (h *PayoutHandler) TriggerPayout(c *gin.Context) {
	var req dto.TriggerPayoutRequest
	if !h.BindAndValidate_JSON(c, &req) {
		return
	}

	payout, err := h.payoutService.Trigger(c.Request.Context(), c.Param("transactionId"), req.IdempotencyKey)
	h.Respond(c, http.StatusOK, payout, err)
}

func (h *PayoutHandler) RetryPayout(c *gin.Context) {
	var req dto.RetryPayoutRequest
	if !h.BindAndValidate_JSON(c, &req) {
		return
	}

	txn, err := h.payoutService.Retry(c.Request.Context(), c.Param("transactionId"), req.Reason)
	h.Respond(c, http.StatusOK, txn, err)
}
