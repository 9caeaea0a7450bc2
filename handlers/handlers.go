package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"popotte/internal/auth"
	"popotte/internal/cart"
	"popotte/internal/catalog"
	"popotte/internal/debts"
	"popotte/internal/feed"
	"popotte/internal/orders"
	"popotte/internal/payments"
	"popotte/internal/reconcile"
	"popotte/middleware"
	"popotte/pkg/ctxmanage"
	"popotte/pkg/logkey"
)

type Catalog interface {
	ListProducts(ctx context.Context) ([]catalog.Product, error)
	GetProduct(ctx context.Context, productID string) (catalog.Product, error)
	ListCategories(ctx context.Context) ([]catalog.Category, error)
	SaveProduct(ctx context.Context, p catalog.Product) (catalog.Product, error)
}

type OrderStore interface {
	orders.Creator
	GetOrder(ctx context.Context, orderID string) (orders.Order, error)
	ListOrders(ctx context.Context, userID string) ([]orders.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID string, status orders.Status) (orders.Order, error)
}

type DebtStore interface {
	AddDebt(ctx context.Context, userID string, amount decimal.Decimal, description string) (debts.Debt, error)
	MarkDebtPaid(ctx context.Context, debtID string) (debts.Debt, error)
}

type Payments interface {
	CheckoutSession(ctx context.Context, o orders.Order) (payments.Checkout, error)
	ParseWebhook(payload []byte, signature string) (payments.Payment, bool, error)
}

// Refresher owns the displayed aggregates.
type Refresher interface {
	AfterMutation(userID string, expect reconcile.Expectation)
	Global() *reconcile.Panel
	Member(userID string) *reconcile.Panel
}

// Deps groups what the HTTP API needs. Emitter may be nil.
type Deps struct {
	Catalog  Catalog
	Orders   OrderStore
	Debts    DebtStore
	Carts    *cart.Sessions
	Payments Payments
	Panels   Refresher
	Emitter  feed.Emitter
}

type Handler struct {
	catalog  Catalog
	orders   OrderStore
	debts    DebtStore
	carts    *cart.Sessions
	submit   *orders.Submitter
	payments Payments
	panels   Refresher
	emitter  feed.Emitter

	summaryWait time.Duration
}

func NewHandler(d Deps) *Handler {
	emitter := d.Emitter
	if emitter == nil {
		emitter = feed.NopEmitter{}
	}
	carts := d.Carts
	if carts == nil {
		carts = cart.NewSessions()
	}
	return &Handler{
		catalog:     d.Catalog,
		orders:      d.Orders,
		debts:       d.Debts,
		carts:       carts,
		submit:      orders.NewSubmitter(d.Orders),
		payments:    d.Payments,
		panels:      d.Panels,
		emitter:     emitter,
		summaryWait: 2 * time.Second,
	}
}

func API(endpointPrefix string, k *auth.Keys, d Deps) *gin.Engine {
	mode := os.Getenv("GIN_MODE")
	if mode == gin.ReleaseMode || mode == gin.TestMode {
		gin.SetMode(mode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	r := gin.New()
	m, err := middleware.NewMid(k)
	if err != nil {
		panic(err)
	}

	h := NewHandler(d)
	r.Use(middleware.Logger(), gin.Recovery())
	r.GET("/ping", healthCheck)

	public := r.Group(endpointPrefix)
	{
		public.GET("/catalog/products", h.ListProducts)
		public.GET("/catalog/categories", h.ListCategories)
		public.POST("/payments/webhook", h.Webhook)
	}

	v1 := r.Group(endpointPrefix)
	{
		v1.Use(m.Authentication())
		v1.GET("/cart", m.Authorize(h.GetCart, auth.RoleUser))
		v1.DELETE("/cart", m.Authorize(h.ClearCart, auth.RoleUser))
		v1.POST("/cart/items", m.Authorize(h.AddToCart, auth.RoleUser))
		v1.DELETE("/cart/items", m.Authorize(h.RemoveFromCart, auth.RoleUser))

		v1.POST("/orders", m.Authorize(h.SubmitOrder, auth.RoleUser))
		v1.GET("/orders", m.Authorize(h.ListOrders, auth.RoleUser))
		v1.GET("/orders/submission", m.Authorize(h.SubmissionState, auth.RoleUser))
		v1.POST("/orders/:id/payment-notified", m.Authorize(h.NotifyPayment, auth.RoleUser))
		v1.POST("/orders/:id/checkout-session", m.Authorize(h.CheckoutSession, auth.RoleUser))

		v1.GET("/debts/summary", m.Authorize(h.MemberDebtSummary, auth.RoleUser))
	}

	admin := r.Group(endpointPrefix + "/admin")
	{
		admin.Use(m.Authentication())
		admin.PUT("/products", m.Authorize(h.SaveProduct, auth.RoleAdmin))
		admin.PUT("/products/:id", m.Authorize(h.SaveProduct, auth.RoleAdmin))
		admin.PATCH("/orders/:id/status", m.Authorize(h.UpdateOrderStatus, auth.RoleAdmin))
		admin.POST("/debts", m.Authorize(h.AddDebt, auth.RoleAdmin))
		admin.POST("/debts/:id/paid", m.Authorize(h.MarkDebtPaid, auth.RoleAdmin))
		admin.GET("/debts/summary", m.Authorize(h.GlobalDebtSummary, auth.RoleAdmin))
	}
	return r
}

func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// userOf returns the authenticated member, aborting with 401 when there is none.
func userOf(c *gin.Context) (string, bool) {
	claims, ok := auth.ClaimsFrom(c.Request.Context())
	if !ok || claims.Subject == "" {
		slog.Error("claims not found", slog.String(logkey.TraceID, ctxmanage.GetTraceIdOfRequest(c)))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": http.StatusText(http.StatusUnauthorized)})
		return "", false
	}
	return claims.Subject, true
}

// changed announces a write on table and queues refreshes of the aggregates it touches.
// userID may be empty for writes that only concern the catalog.
func (h *Handler) changed(c *gin.Context, table, op, rowID, userID string, expect reconcile.Expectation) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)
	ev := feed.Event{Table: table, Op: op, RowID: rowID, At: time.Now().UTC()}
	if err := h.emitter.Emit(c.Request.Context(), ev); err != nil {
		slog.Error("failed to emit change", slog.String(logkey.TraceID, traceId),
			slog.String("table", table), slog.String(logkey.ERROR, err.Error()))
	}
	if h.panels == nil || table == "products" {
		return
	}
	h.panels.AfterMutation(userID, expect)
}
