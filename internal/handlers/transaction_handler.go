package handlers

import (
	"net/http"

	"paylink_backend/internal/middleware"
	"paylink_backend/internal/services"
	"paylink_backend/internal/services/dto"

	"github.com/gin-gonic/gin"
)

type TransactionHandler struct {
	*BaseHandler
	txService        services.TransactionService
	reconcileService services.ReconciliationService
}

func NewTransactionHandler(base *BaseHandler, txService services.TransactionService, reconcileService services.ReconciliationService) *TransactionHandler {
	return &TransactionHandler{
		BaseHandler:      base,
		txService:        txService,
		reconcileService: reconcileService,
	}
}

func (h *TransactionHandler) RegisterRoutes(r *gin.RouterGroup) {
	// Payer-facing routes
	public := r.Group("/transactions")
	{
		public.POST("", h.CreateTransaction)
		public.GET("/:transactionId", h.GetTransaction)
		public.POST("/:transactionId/initialize", h.InitializePayment)
	}

	// Operator routes
	ops := r.Group("/transactions")
	ops.Use(middleware.AuthMiddleware())
	{
		ops.POST("/:transactionId/record", middleware.RequirePermission("transactions:record"), h.RecordTransaction)
		ops.POST("/:transactionId/verify", middleware.RequirePermission("transactions:verify"), h.VerifyTransaction)
		ops.GET("/:transactionId/history", h.GetStateHistory)
	}
}

func (h *TransactionHandler) CreateTransaction(c *gin.Context) {
	var req dto.CreateTransactionRequest
	if !h.BindAndValidate_JSON(c, &req) {
		return
	}

	txn, err := h.txService.Create(c.Request.Context(), &req)
	h.Respond(c, http.StatusCreated, txn, err)
}

func (h *TransactionHandler) GetTransaction(c *gin.Context) {
	txn, err := h.txService.Get(c.Request.Context(), c.Param("transactionId"))
	h.Respond(c, http.StatusOK, txn, err)
}

func (h *TransactionHandler) InitializePayment(c *gin.Context) {
	txn, err := h.txService.InitializePayment(c.Request.Context(), c.Param("transactionId"))
	h.Respond(c, http.StatusOK, txn, err)
}

func (h *TransactionHandler) RecordTransaction(c *gin.Context) {
	var req dto.RecordTransactionRequest
	if !h.BindAndValidate_JSON(c, &req) {
		return
	}

	txn, err := h.txService.RecordTransaction(c.Request.Context(), c.Param("transactionId"), &req)
	h.Respond(c, http.StatusOK, txn, err)
}

func (h *TransactionHandler) VerifyTransaction(c *gin.Context) {
	txn, err := h.reconcileService.Verify(c.Request.Context(), c.Param("transactionId"))
	h.Respond(c, http.StatusOK, txn, err)
}

func (h *TransactionHandler) GetStateHistory(c *gin.Context) {
	var query dto.StateHistoryQuery
	if !h.BindAndValidate_Query(c, &query) {
		return
	}

	history, err := h.txService.GetStateHistory(c.Request.Context(), c.Param("transactionId"))
	if err == nil && query.To != "" {
		filtered := history[:0]
		for _, item := range history {
			if item.To == query.To {
				filtered = append(filtered, item)
			}
		}
		history = filtered
	}
	h.Respond(c, http.StatusOK, gin.H{"history": history}, err)
}
