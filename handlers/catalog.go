package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"popotte/internal/catalog"
	"popotte/pkg/ctxmanage"
	"popotte/pkg/logkey"
)

func (h *Handler) ListProducts(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)
	products, err := h.catalog.ListProducts(c.Request.Context())
	if err != nil {
		slog.Error("error listing products", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch products"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (h *Handler) ListCategories(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)
	categories, err := h.catalog.ListCategories(c.Request.Context())
	if err != nil {
		slog.Error("error listing categories", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch categories"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": categories})
}

// SaveProduct creates a product, or replaces the one named in the path together with its
// stock.
func (h *Handler) SaveProduct(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)

	if c.Request.ContentLength > 16*1024 {
		slog.Error("request body limit breached", slog.String(logkey.TraceID, traceId), slog.Int64("Size Received", c.Request.ContentLength))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Request body too large."})
		return
	}

	var product catalog.Product
	if err := c.ShouldBindJSON(&product); err != nil {
		slog.Error("json validation error", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": http.StatusText(http.StatusBadRequest)})
		return
	}
	if id := c.Param("id"); id != "" {
		product.ID = id
	}

	saved, err := h.catalog.SaveProduct(c.Request.Context(), product)
	if err != nil {
		if errors.Is(err, catalog.ErrInvalidProduct) {
			slog.Info("product rejected", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		slog.Error("error saving product", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to save product"})
		return
	}

	slog.Info("product saved", slog.String(logkey.TraceID, traceId), slog.String(logkey.ProductID, saved.ID))
	h.changed(c, "products", "UPDATE", saved.ID, "", nil)
	c.JSON(http.StatusOK, saved)
}
