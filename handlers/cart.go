package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"popotte/internal/cart"
	"popotte/internal/catalog"
	"popotte/pkg/ctxmanage"
	"popotte/pkg/logkey"
)

type cartItemRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	Variant   string `json:"variant"`
}

func cartBody(c *cart.Store) gin.H {
	lines, total := c.Snapshot()
	return gin.H{"items": lines, "total": total}
}

func (h *Handler) GetCart(c *gin.Context) {
	userId, ok := userOf(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, cartBody(h.carts.Get(userId)))
}

// AddToCart re-reads the product and adds one unit of it to the member's cart.
func (h *Handler) AddToCart(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)
	userId, ok := userOf(c)
	if !ok {
		return
	}

	var request cartItemRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		slog.Error("invalid request body", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "product_id is required"})
		return
	}

	product, err := h.catalog.GetProduct(c.Request.Context(), request.ProductID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "product not found"})
			return
		}
		slog.Error("error fetching product", slog.String(logkey.TraceID, traceId),
			slog.String(logkey.ProductID, request.ProductID), slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "failed to fetch product"})
		return
	}

	store := h.carts.Get(userId)
	line, err := store.Add(product, request.Variant)
	if err != nil {
		var stockErr *cart.StockError
		if errors.As(err, &stockErr) {
			slog.Info("add to cart refused", slog.String(logkey.TraceID, traceId), slog.String(logkey.UserID, userId),
				slog.String(logkey.ProductID, stockErr.ProductID), slog.String(logkey.Variant, stockErr.Variant),
				slog.String("Reason", stockErr.Kind.Error()))
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{
				"error":      stockErr.Error(),
				"reason":     stockErr.Kind.Error(),
				"product_id": stockErr.ProductID,
				"variant":    stockErr.Variant,
				"in_cart":    stockErr.InCart,
				"available":  stockErr.Available,
			})
			return
		}
		slog.Error("error adding product to cart", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to add product to cart"})
		return
	}

	slog.Info("product added to cart", slog.String(logkey.TraceID, traceId), slog.String(logkey.UserID, userId),
		slog.String(logkey.ProductID, line.ProductID), slog.String(logkey.Variant, line.Variant), slog.Int("Quantity", line.Quantity))
	c.JSON(http.StatusOK, cartBody(store))
}

// RemoveFromCart takes one unit of a line out of the cart. Unknown lines are ignored.
func (h *Handler) RemoveFromCart(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)
	userId, ok := userOf(c)
	if !ok {
		return
	}

	var request cartItemRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		slog.Error("invalid request body", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "product_id is required"})
		return
	}

	store := h.carts.Get(userId)
	store.Remove(request.ProductID, request.Variant)
	c.JSON(http.StatusOK, cartBody(store))
}

func (h *Handler) ClearCart(c *gin.Context) {
	userId, ok := userOf(c)
	if !ok {
		return
	}
	h.carts.Drop(userId)
	c.JSON(http.StatusOK, cartBody(h.carts.Get(userId)))
}
