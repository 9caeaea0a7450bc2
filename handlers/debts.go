package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"popotte/internal/debts"
	"popotte/internal/reconcile"
	"popotte/pkg/ctxmanage"
	"popotte/pkg/logkey"
)

// display waits briefly for a panel's first value, then returns whatever it shows.
func (h *Handler) display(c *gin.Context, p *reconcile.Panel) {
	t := time.NewTimer(h.summaryWait)
	defer t.Stop()
	select {
	case <-p.Ready():
	case <-t.C:
	case <-c.Request.Context().Done():
	}
	c.JSON(http.StatusOK, p.Snapshot())
}

func (h *Handler) MemberDebtSummary(c *gin.Context) {
	userId, ok := userOf(c)
	if !ok {
		return
	}
	h.display(c, h.panels.Member(userId))
}

func (h *Handler) GlobalDebtSummary(c *gin.Context) {
	h.display(c, h.panels.Global())
}

type debtRequest struct {
	UserID      string          `json:"user_id" binding:"required"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

func (h *Handler) AddDebt(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)
	var request debtRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		slog.Error("invalid request body", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	debt, err := h.debts.AddDebt(c.Request.Context(), request.UserID, request.Amount, request.Description)
	if err != nil {
		if errors.Is(err, debts.ErrInvalidAmount) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		slog.Error("error adding debt", slog.String(logkey.TraceID, traceId),
			slog.String(logkey.UserID, request.UserID), slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to add debt"})
		return
	}

	h.changed(c, "debts", "INSERT", debt.ID, debt.UserID, reconcile.ExpectNonZero)
	c.JSON(http.StatusCreated, debt)
}

func (h *Handler) MarkDebtPaid(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)
	debt, err := h.debts.MarkDebtPaid(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, debts.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "debt not found"})
			return
		}
		slog.Error("error settling debt", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to settle debt"})
		return
	}

	h.changed(c, "debts", "UPDATE", debt.ID, debt.UserID, nil)
	c.JSON(http.StatusOK, debt)
}
