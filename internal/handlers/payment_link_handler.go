package handlers

import (
	"net/http"

	"paylink_backend/internal/auth"
	"paylink_backend/internal/middleware"
	"paylink_backend/internal/services"
	"paylink_backend/internal/services/dto"
	"paylink_backend/pkg/apperrors"
	"paylink_backend/pkg/contextkeys"

	"github.com/gin-gonic/gin"
)

type PaymentLinkHandler struct {
	*BaseHandler
	linkService services.PaymentLinkService
}

func NewPaymentLinkHandler(base *BaseHandler, linkService services.PaymentLinkService) *PaymentLinkHandler {
	return &PaymentLinkHandler{
		BaseHandler: base,
		linkService: linkService,
	}
}

func (h *PaymentLinkHandler) RegisterRoutes(r *gin.RouterGroup) {
	// Public routes
	public := r.Group("/payment-links")
	{
		public.GET("/:linkId", h.GetPaymentLink)
	}

	// Merchant routes
	links := r.Group("/payment-links")
	links.Use(middleware.AuthMiddleware(), middleware.RequirePermission("links:write"))
	{
		links.POST("", h.CreatePaymentLink)
		links.GET("", h.ListMyPaymentLinks)
		links.PUT("/:linkId/enable", h.EnablePaymentLink)
		links.PUT("/:linkId/disable", h.DisablePaymentLink)
	}
}

func (h *PaymentLinkHandler) CreatePaymentLink(c *gin.Context) {
	userID, ok := h.GetAndAuthorizeUserID(c)
	if !ok {
		return
	}

	var req dto.CreatePaymentLinkRequest
	if !h.BindAndValidate_JSON(c, &req) {
		return
	}
	req.MerchantID = userID

	link, err := h.linkService.Create(c.Request.Context(), &req)
	h.Respond(c, http.StatusCreated, link, err)
}

func (h *PaymentLinkHandler) GetPaymentLink(c *gin.Context) {
	link, err := h.linkService.Get(c.Request.Context(), c.Param("linkId"))
	h.Respond(c, http.StatusOK, link, err)
}

func (h *PaymentLinkHandler) ListMyPaymentLinks(c *gin.Context) {
	userID, ok := h.GetAndAuthorizeUserID(c)
	if !ok {
		return
	}

	links, err := h.linkService.ListByMerchant(c.Request.Context(), userID)
	h.Respond(c, http.StatusOK, gin.H{"paymentLinks": links}, err)
}

func (h *PaymentLinkHandler) EnablePaymentLink(c *gin.Context) {
	h.toggle(c, true)
}

func (h *PaymentLinkHandler) DisablePaymentLink(c *gin.Context) {
	h.toggle(c, false)
}

func (h *PaymentLinkHandler) toggle(c *gin.Context, active bool) {
	userID, ok := h.GetAndAuthorizeUserID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	linkID := c.Param("linkId")

	link, err := h.linkService.Get(ctx, linkID)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	if link.MerchantID != userID && c.GetString(contextkeys.RoleKey) != auth.RoleAdmin {
		h.HandleServiceError(c, apperrors.NewForbiddenError("Payment link belongs to another merchant"))
		return
	}

	if active {
		link, err = h.linkService.Enable(ctx, linkID)
	} else {
		link, err = h.linkService.Disable(ctx, linkID)
	}
	h.Respond(c, http.StatusOK, link, err)
}
