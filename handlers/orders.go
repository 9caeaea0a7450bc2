package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"popotte/internal/orders"
	"popotte/internal/payments"
	"popotte/internal/reconcile"
	"popotte/pkg/ctxmanage"
	"popotte/pkg/logkey"
)

// SubmitOrder turns the member's cart into an order. The cart is only cleared once the
// order store accepted the order.
func (h *Handler) SubmitOrder(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)
	userId, ok := userOf(c)
	if !ok {
		return
	}

	order, err := h.submit.Submit(c.Request.Context(), h.carts.Get(userId), userId)
	if err != nil {
		var submitErr *orders.SubmitError
		switch {
		case errors.Is(err, orders.ErrInvalidSubmission):
			slog.Info("submission refused", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, orders.ErrSubmissionInProgress):
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.As(err, &submitErr):
			slog.Error("order submission failed", slog.String(logkey.TraceID, traceId),
				slog.String(logkey.UserID, userId), slog.String(logkey.ERROR, err.Error()))
			status := http.StatusBadGateway
			if errors.Is(err, orders.ErrInsufficientStock) || errors.Is(err, orders.ErrProductUnavailable) {
				status = http.StatusConflict
			}
			c.AbortWithStatusJSON(status, gin.H{"error": orders.ErrSubmitFailed.Error(), "message": submitErr.Message()})
		default:
			slog.Error("order submission failed", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": http.StatusText(http.StatusInternalServerError)})
		}
		return
	}

	h.changed(c, "orders", "INSERT", order.ID, userId, reconcile.ExpectNonZero)
	c.JSON(http.StatusCreated, gin.H{"order_id": order.ID, "order": order})
}

func (h *Handler) SubmissionState(c *gin.Context) {
	userId, ok := userOf(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.submit.State(userId))
}

func (h *Handler) ListOrders(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)
	userId, ok := userOf(c)
	if !ok {
		return
	}

	list, err := h.orders.ListOrders(c.Request.Context(), userId)
	if err != nil {
		slog.Error("error listing orders", slog.String(logkey.TraceID, traceId),
			slog.String(logkey.UserID, userId), slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch orders"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": list})
}

// ownOrder loads the order named in the path and checks it belongs to the caller.
func (h *Handler) ownOrder(c *gin.Context, userId string) (orders.Order, bool) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)
	order, err := h.orders.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return orders.Order{}, false
		}
		slog.Error("error fetching order", slog.String(logkey.TraceID, traceId),
			slog.String(logkey.OrderID, c.Param("id")), slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch order"})
		return orders.Order{}, false
	}
	if order.UserID != userId {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return orders.Order{}, false
	}
	return order, true
}

// NotifyPayment records that the member says they paid the order by other means.
func (h *Handler) NotifyPayment(c *gin.Context) {
	userId, ok := userOf(c)
	if !ok {
		return
	}
	order, ok := h.ownOrder(c, userId)
	if !ok {
		return
	}
	h.setStatus(c, order.ID, orders.StatusPaymentNotified)
}

type statusRequest struct {
	Status orders.Status `json:"status" binding:"required"`
}

func (h *Handler) UpdateOrderStatus(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)
	var request statusRequest
	if err := c.ShouldBindJSON(&request); err != nil || !request.Status.Valid() {
		slog.Error("invalid status update", slog.String(logkey.TraceID, traceId))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "status must be one of pending, payment_notified, confirmed, cancelled"})
		return
	}
	h.setStatus(c, c.Param("id"), request.Status)
}

func (h *Handler) setStatus(c *gin.Context, orderId string, status orders.Status) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)
	order, err := h.orders.UpdateOrderStatus(c.Request.Context(), orderId, status)
	if err != nil {
		switch {
		case errors.Is(err, orders.ErrNotFound):
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "order not found"})
		case errors.Is(err, orders.ErrInvalidTransition):
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			slog.Error("error updating order", slog.String(logkey.TraceID, traceId),
				slog.String(logkey.OrderID, orderId), slog.String(logkey.ERROR, err.Error()))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to update order"})
		}
		return
	}

	slog.Info("order status updated", slog.String(logkey.TraceID, traceId),
		slog.String(logkey.OrderID, order.ID), slog.String("Status", string(order.Status)))
	h.changed(c, "orders", "UPDATE", order.ID, order.UserID, nil)
	c.JSON(http.StatusOK, order)
}

// CheckoutSession opens a card payment for one of the member's orders.
func (h *Handler) CheckoutSession(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)
	userId, ok := userOf(c)
	if !ok {
		return
	}
	if h.payments == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": payments.ErrDisabled.Error()})
		return
	}
	order, ok := h.ownOrder(c, userId)
	if !ok {
		return
	}

	checkout, err := h.payments.CheckoutSession(c.Request.Context(), order)
	if err != nil {
		switch {
		case errors.Is(err, payments.ErrDisabled):
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		case errors.Is(err, payments.ErrNotPayable):
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			slog.Error("error creating checkout session", slog.String(logkey.TraceID, traceId),
				slog.String(logkey.OrderID, order.ID), slog.String(logkey.ERROR, err.Error()))
			c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "failed to create checkout session"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"checkout_session_url": checkout.URL, "session_id": checkout.SessionID})
}
