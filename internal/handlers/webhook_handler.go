package handlers

import (
	"errors"
	"net/http"

	"paylink_backend/internal/config"
	"paylink_backend/internal/logger"
	"paylink_backend/internal/services"
	"paylink_backend/internal/settlement"
	"paylink_backend/internal/storage"
	"paylink_backend/pkg/apperrors"

	"github.com/gin-gonic/gin"
)

type WebhookHandler struct {
	*BaseHandler
	reconcileService services.ReconciliationService
	secret           string
	archive          *storage.WebhookArchive // nil disables archiving
	policy           config.WebhookBodyPolicy
}

func NewWebhookHandler(base *BaseHandler, reconcileService services.ReconciliationService, secret string, archive *storage.WebhookArchive) *WebhookHandler {
	return &WebhookHandler{
		BaseHandler:      base,
		reconcileService: reconcileService,
		secret:           secret,
		archive:          archive,
		policy:           config.WebhookFileConfig,
	}
}

// RegisterRoutes - no auth, the body signature authenticates the provider.
func (h *WebhookHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/settlement", h.SettlementWebhook)
}

func (h *WebhookHandler) SettlementWebhook(c *gin.Context) {
	ctx := c.Request.Context()

	if !h.policy.Allows(c.ContentType()) {
		h.HandleServiceError(c, apperrors.New(apperrors.CodeValidationFailed, "webhook",
			"Unsupported content type", http.StatusUnsupportedMediaType))
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.policy.MaxSize)
	body, err := c.GetRawData()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.HandleServiceError(c, apperrors.New(apperrors.CodeValidationFailed, "webhook",
				"Request body too large", http.StatusRequestEntityTooLarge))
			return
		}
		h.HandleServiceError(c, apperrors.NewBadRequestError("Unreadable request body"))
		return
	}

	payload, err := settlement.ParseWebhook(body, c.GetHeader(settlement.SignatureHeader), h.secret)
	if err != nil {
		logger.CtxWarn(ctx, "settlement webhook rejected", "error", err.Error())
		h.HandleServiceError(c, err)
		return
	}

	if h.archive != nil {
		ref := payload.TransactionReference
		if ref == "" {
			ref = payload.ExternalReference
		}
		if path, err := h.archive.Save(ctx, ref, body); err != nil {
			logger.CtxWarn(ctx, "webhook archive failed", "reference", ref, "error", err.Error())
		} else {
			logger.CtxDebug(ctx, "webhook archived", "reference", ref, "path", path)
		}
	}

	txn, err := h.reconcileService.HandleWebhook(ctx, payload)
	if err != nil && !apperrors.IsNonFatal(err) {
		h.HandleServiceError(c, err)
		return
	}
	h.Respond(c, http.StatusOK, gin.H{
		"status":        "ok",
		"transactionId": txn.ID,
		"state":         txn.State,
	}, err)
}
