package orders

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"popotte/internal/cart"
	"popotte/pkg/logkey"
)

// Creator is the part of the order store the submission flow needs.
type Creator interface {
	CreateOrder(ctx context.Context, req Request) (Order, error)
}

type SubmissionStatus string

const (
	SubmissionIdle      SubmissionStatus = "idle"
	SubmissionPending   SubmissionStatus = "pending"
	SubmissionConfirmed SubmissionStatus = "confirmed"
	SubmissionFailed    SubmissionStatus = "failed"
)

// SubmissionState is what a member's screen shows about their last checkout.
// Success is only ever reported once the store confirmed the order.
type SubmissionState struct {
	Status    SubmissionStatus `json:"status"`
	OrderID   string           `json:"order_id,omitempty"`
	Error     string           `json:"error,omitempty"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Submitter turns carts into orders. At most one submission per member is in flight.
type Submitter struct {
	store Creator
	now   func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{}
	states   map[string]SubmissionState
}

func NewSubmitter(store Creator) *Submitter {
	return &Submitter{
		store:    store,
		now:      time.Now,
		inFlight: make(map[string]struct{}),
		states:   make(map[string]SubmissionState),
	}
}

// Submit snapshots c, sends the snapshot to the order store and clears c once the store
// accepted it. On any store failure c is left exactly as it was and a *SubmitError is
// returned. Mutations of c while the request is in flight do not reach the request.
func (s *Submitter) Submit(ctx context.Context, c *cart.Store, userID string) (Order, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: missing user identity", ErrInvalidSubmission)
	}
	if c == nil {
		return Order{}, fmt.Errorf("%w: cart is empty", ErrInvalidSubmission)
	}

	lines := c.Lines()
	if len(lines) == 0 {
		return Order{}, fmt.Errorf("%w: cart is empty", ErrInvalidSubmission)
	}

	if !s.begin(userID) {
		return Order{}, ErrSubmissionInProgress
	}

	req := NewRequest(userID, lines)
	order, err := s.store.CreateOrder(ctx, req)
	if err != nil {
		s.finish(userID, SubmissionState{Status: SubmissionFailed, Error: err.Error()})
		slog.Error("order submission failed", slog.String(logkey.UserID, userID),
			slog.Int("Lines", len(req.Items)), slog.String(logkey.ERROR, err.Error()))
		return Order{}, &SubmitError{Err: err}
	}

	c.Clear()
	s.finish(userID, SubmissionState{Status: SubmissionConfirmed, OrderID: order.ID})
	slog.Info("order submitted", slog.String(logkey.UserID, userID), slog.String(logkey.OrderID, order.ID),
		slog.String("Total", order.TotalAmount.StringFixed(2)))
	return order, nil
}

// State returns the member's last submission state.
func (s *Submitter) State(userID string) SubmissionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[userID]
	if !ok {
		return SubmissionState{Status: SubmissionIdle}
	}
	return st
}

func (s *Submitter) begin(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.inFlight[userID]; busy {
		return false
	}
	s.inFlight[userID] = struct{}{}
	s.states[userID] = SubmissionState{Status: SubmissionPending, UpdatedAt: s.now()}
	return true
}

func (s *Submitter) finish(userID string, st SubmissionState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.inFlight, userID)
	st.UpdatedAt = s.now()
	s.states[userID] = st
}

// NewRequest copies cart lines into an order request and totals them.
func NewRequest(userID string, lines []cart.Line) Request {
	items := make([]Item, 0, len(lines))
	for _, l := range lines {
		items = append(items, Item{
			ProductID: l.ProductID,
			Variant:   l.Variant,
			Name:      l.Name,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
		})
	}
	return Request{UserID: userID, Items: items, TotalAmount: SumItems(items)}
}
