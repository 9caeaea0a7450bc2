package handlers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"popotte/internal/catalog"
	"popotte/internal/debts"
	"popotte/internal/feed"
	"popotte/internal/orders"
	"popotte/internal/payments"
	"popotte/internal/reconcile"
)

type fakeCatalog struct {
	mu       sync.Mutex
	products map[string]catalog.Product
}

func newFakeCatalog(products ...catalog.Product) *fakeCatalog {
	f := &fakeCatalog{products: make(map[string]catalog.Product)}
	for _, p := range products {
		f.products[p.ID] = p
	}
	return f
}

func (f *fakeCatalog) ListProducts(context.Context) ([]catalog.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]catalog.Product, 0, len(f.products))
	for _, p := range f.products {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeCatalog) GetProduct(_ context.Context, id string) (catalog.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[id]
	if !ok {
		return catalog.Product{}, fmt.Errorf("%w: %s", catalog.ErrNotFound, id)
	}
	return p, nil
}

func (f *fakeCatalog) ListCategories(context.Context) ([]catalog.Category, error) {
	return []catalog.Category{{ID: "c1", Name: "Plats"}}, nil
}

func (f *fakeCatalog) SaveProduct(_ context.Context, p catalog.Product) (catalog.Product, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if err := catalog.Validate(p); err != nil {
		return catalog.Product{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.products[p.ID] = p
	return p, nil
}

type fakeOrders struct {
	mu        sync.Mutex
	orders    map[string]orders.Order
	createErr error
	requests  []orders.Request
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{orders: make(map[string]orders.Order)}
}

func (f *fakeOrders) put(o orders.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[o.ID] = o
}

func (f *fakeOrders) statusOf(id string) orders.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orders[id].Status
}

func (f *fakeOrders) CreateOrder(_ context.Context, req orders.Request) (orders.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.createErr != nil {
		return orders.Order{}, f.createErr
	}
	o := orders.Order{
		ID:          fmt.Sprintf("order-%d", len(f.orders)+1),
		UserID:      req.UserID,
		Status:      orders.StatusPending,
		TotalAmount: req.TotalAmount,
		Items:       req.Items,
		CreatedAt:   time.Now(),
	}
	f.orders[o.ID] = o
	return o, nil
}

func (f *fakeOrders) GetOrder(_ context.Context, id string) (orders.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return orders.Order{}, fmt.Errorf("%w: %s", orders.ErrNotFound, id)
	}
	return o, nil
}

func (f *fakeOrders) ListOrders(_ context.Context, userID string) ([]orders.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []orders.Order
	for _, o := range f.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeOrders) UpdateOrderStatus(_ context.Context, id string, status orders.Status) (orders.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return orders.Order{}, fmt.Errorf("%w: %s", orders.ErrNotFound, id)
	}
	if !orders.CanTransition(o.Status, status) {
		return orders.Order{}, fmt.Errorf("%w: %s -> %s", orders.ErrInvalidTransition, o.Status, status)
	}
	o.Status = status
	f.orders[id] = o
	return o, nil
}

// pending is the sum the database view would report for userID, or for everyone when
// userID is empty.
func (f *fakeOrders) pending(userID string) decimal.Decimal {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := decimal.Zero
	for _, o := range f.orders {
		if userID != "" && o.UserID != userID {
			continue
		}
		if o.Status == orders.StatusPending || o.Status == orders.StatusPaymentNotified {
			total = total.Add(o.TotalAmount)
		}
	}
	return total
}

type fakeDebts struct {
	mu    sync.Mutex
	debts map[string]debts.Debt
}

func (f *fakeDebts) AddDebt(_ context.Context, userID string, amount decimal.Decimal, description string) (debts.Debt, error) {
	if !amount.IsPositive() {
		return debts.Debt{}, debts.ErrInvalidAmount
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.debts == nil {
		f.debts = make(map[string]debts.Debt)
	}
	d := debts.Debt{ID: fmt.Sprintf("debt-%d", len(f.debts)+1), UserID: userID, Amount: amount,
		Description: description, Status: debts.StatusPending}
	f.debts[d.ID] = d
	return d, nil
}

func (f *fakeDebts) MarkDebtPaid(_ context.Context, id string) (debts.Debt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.debts[id]
	if !ok {
		return debts.Debt{}, fmt.Errorf("%w: %s", debts.ErrNotFound, id)
	}
	d.Status = debts.StatusPaid
	f.debts[id] = d
	return d, nil
}

type fakePayments struct {
	payment payments.Payment
	ok      bool
	err     error
}

func (f *fakePayments) CheckoutSession(_ context.Context, o orders.Order) (payments.Checkout, error) {
	return payments.Checkout{SessionID: "cs_" + o.ID, URL: "https://checkout.test/" + o.ID}, nil
}

func (f *fakePayments) ParseWebhook([]byte, string) (payments.Payment, bool, error) {
	return f.payment, f.ok, f.err
}

type mutation struct {
	userID string
	expect bool
}

// recordingPanels wraps a registry and remembers every refresh request.
type recordingPanels struct {
	*reconcile.Registry
	mu        sync.Mutex
	mutations []mutation
}

func (r *recordingPanels) AfterMutation(userID string, expect reconcile.Expectation) {
	r.mu.Lock()
	r.mutations = append(r.mutations, mutation{userID: userID, expect: expect != nil})
	r.mu.Unlock()
	r.Registry.AfterMutation(userID, expect)
}

func (r *recordingPanels) recorded() []mutation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]mutation(nil), r.mutations...)
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []feed.Event
}

func (e *recordingEmitter) Emit(_ context.Context, ev feed.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
	return nil
}

func (e *recordingEmitter) tables() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, ev.Table+" "+ev.Op)
	}
	return out
}
