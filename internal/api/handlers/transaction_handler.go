package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tollgrid/smarttoll/internal/api/dto"
	"github.com/tollgrid/smarttoll/internal/domain/billing"
	apperrors "github.com/tollgrid/smarttoll/pkg/errors"
)

const defaultListLimit = 20

// GetTransactionStatus handles GET /api/v1/transactions/status/:tollEventId
func (h *Handlers) GetTransactionStatus(c *gin.Context) {
	tollEventID := c.Param("tollEventId")

	tx, err := h.Repo.GetByTollEventID(c.Request.Context(), tollEventID)
	if errors.Is(err, billing.ErrTransactionNotFound) {
		h.respondError(c, apperrors.ErrTransactionNotFound)
		return
	}
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewTransactionResponse(tx))
}

// GetTransaction handles GET /api/v1/transactions/:id
func (h *Handlers) GetTransaction(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		h.respondError(c, apperrors.ErrInvalidTransactionID)
		return
	}

	tx, err := h.Repo.GetByID(c.Request.Context(), id)
	if errors.Is(err, billing.ErrTransactionNotFound) {
		h.respondError(c, apperrors.ErrTransactionNotFound)
		return
	}
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewTransactionResponse(tx))
}

// ListTransactions handles GET /api/v1/transactions?vehicle_id=...&status=...&limit=...
func (h *Handlers) ListTransactions(c *gin.Context) {
	vehicleID := c.Query("vehicle_id")
	if vehicleID == "" {
		h.respondError(c, apperrors.BadRequest("vehicle_id query parameter is required", nil))
		return
	}

	var status billing.Status
	if raw := c.Query("status"); raw != "" {
		status = billing.Status(strings.ToUpper(raw))
		if !status.IsValid() {
			h.respondError(c, apperrors.ErrInvalidStatusFilter)
			return
		}
	}

	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.respondError(c, apperrors.BadRequest("limit must be a positive integer", err))
			return
		}
		limit = parsed
	}

	txs, err := h.Repo.ListByVehicle(c.Request.Context(), vehicleID, status, limit)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewTransactionListResponse(vehicleID, txs))
}
