package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"popotte/internal/orders"
	"popotte/internal/payments"
	"popotte/pkg/ctxmanage"
	"popotte/pkg/logkey"
)

const maxWebhookBytes = int64(65536)

// Webhook confirms orders paid through Stripe Checkout.
func (h *Handler) Webhook(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)
	if h.payments == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": payments.ErrDisabled.Error()})
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBytes)
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		slog.Error("failed to read webhook body", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
		return
	}

	payment, ok, err := h.payments.ParseWebhook(payload, c.GetHeader("Stripe-Signature"))
	if errors.Is(err, payments.ErrDisabled) {
		slog.Warn("webhook received without a webhook secret", slog.String(logkey.TraceID, traceId))
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		slog.Error("invalid webhook", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusOK, gin.H{"message": "event type not handled"})
		return
	}

	order, err := h.orders.UpdateOrderStatus(c.Request.Context(), payment.OrderID, orders.StatusConfirmed)
	switch {
	case errors.Is(err, orders.ErrInvalidTransition):
		// Stripe redelivers events; an order already confirmed stays confirmed.
		slog.Info("payment for settled order", slog.String(logkey.TraceID, traceId), slog.String(logkey.OrderID, payment.OrderID))
		c.Status(http.StatusOK)
		return
	case errors.Is(err, orders.ErrNotFound):
		slog.Error("payment for unknown order", slog.String(logkey.TraceID, traceId), slog.String(logkey.OrderID, payment.OrderID))
		c.Status(http.StatusOK)
		return
	case err != nil:
		slog.Error("failed to confirm order", slog.String(logkey.TraceID, traceId),
			slog.String(logkey.OrderID, payment.OrderID), slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to confirm order"})
		return
	}

	slog.Info("order paid", slog.String(logkey.TraceID, traceId), slog.String(logkey.OrderID, order.ID),
		slog.String(logkey.UserID, order.UserID), slog.String("Event", payment.EventID))
	h.changed(c, "orders", "UPDATE", order.ID, order.UserID, nil)
	c.Status(http.StatusOK)
}
