// Package payments takes card payments for orders through Stripe Checkout.
package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/checkout/session"
	"github.com/stripe/stripe-go/v81/webhook"

	"popotte/internal/orders"
)

var (
	ErrDisabled     = errors.New("card payments are not configured")
	ErrNotPayable   = errors.New("order is not awaiting payment")
	ErrBadSignature = errors.New("webhook signature verification failed")
	ErrMissingOrder = errors.New("payment event carries no order id")
)

type Options struct {
	SecretKey     string
	WebhookSecret string
	Currency      string
	SuccessURL    string
	CancelURL     string
}

type Conf struct {
	opts Options
}

// NewConf sets the Stripe API key. Checkout needs SecretKey and webhooks need WebhookSecret;
// either call returns ErrDisabled when its secret is missing.
func NewConf(opts Options) *Conf {
	if opts.SecretKey != "" {
		stripe.Key = opts.SecretKey
	}
	if opts.Currency == "" {
		opts.Currency = string(stripe.CurrencyEUR)
	}
	opts.Currency = strings.ToLower(opts.Currency)
	return &Conf{opts: opts}
}

type Checkout struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// MinorUnits converts an amount to the smallest currency unit, rounding half away from zero.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func (p *Conf) sessionParams(o orders.Order) *stripe.CheckoutSessionParams {
	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(o.Items))
	for _, item := range o.Items {
		name := item.Name
		if item.Variant != "" {
			name = fmt.Sprintf("%s (%s)", item.Name, item.Variant)
		}
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(p.opts.Currency),
				UnitAmount: stripe.Int64(MinorUnits(item.UnitPrice)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(name),
				},
			},
			Quantity: stripe.Int64(int64(item.Quantity)),
		})
	}

	metadata := map[string]string{
		"order_id": o.ID,
		"user_id":  o.UserID,
	}
	params := &stripe.CheckoutSessionParams{
		ClientReferenceID: stripe.String(o.ID),
		LineItems:         lineItems,
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(p.opts.SuccessURL),
		CancelURL:         stripe.String(p.opts.CancelURL),
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: metadata,
		},
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	return params
}

// CheckoutSession opens a Stripe Checkout session for a pending order.
func (p *Conf) CheckoutSession(ctx context.Context, o orders.Order) (Checkout, error) {
	if p.opts.SecretKey == "" {
		return Checkout{}, ErrDisabled
	}
	if o.Status != orders.StatusPending && o.Status != orders.StatusPaymentNotified {
		return Checkout{}, ErrNotPayable
	}
	params := p.sessionParams(o)
	params.Context = ctx
	s, err := session.New(params)
	if err != nil {
		return Checkout{}, fmt.Errorf("creating checkout session: %w", err)
	}
	return Checkout{SessionID: s.ID, URL: s.URL}, nil
}

// Payment is a settled payment reported by a webhook.
type Payment struct {
	EventID string
	OrderID string
	UserID  string
}

// ParseWebhook verifies the Stripe signature of payload and extracts the order of a
// completed payment. ok is false for event types that do not settle an order. Unsigned
// events are never trusted: without a webhook secret every call fails with ErrDisabled.
func (p *Conf) ParseWebhook(payload []byte, signature string) (pay Payment, ok bool, err error) {
	if p.opts.WebhookSecret == "" {
		return Payment{}, false, ErrDisabled
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.opts.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return Payment{}, false, fmt.Errorf("%w: %w", ErrBadSignature, err)
	}
	if event.Data == nil {
		return Payment{}, false, nil
	}

	var metadata map[string]string
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			return Payment{}, false, fmt.Errorf("decoding checkout session: %w", err)
		}
		if cs.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
			return Payment{}, false, nil
		}
		metadata = cs.Metadata
		if metadata["order_id"] == "" && cs.ClientReferenceID != "" {
			metadata = map[string]string{"order_id": cs.ClientReferenceID, "user_id": metadata["user_id"]}
		}
	case stripe.EventTypePaymentIntentSucceeded:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return Payment{}, false, fmt.Errorf("decoding payment intent: %w", err)
		}
		metadata = pi.Metadata
	default:
		return Payment{}, false, nil
	}

	if metadata["order_id"] == "" {
		return Payment{}, false, ErrMissingOrder
	}
	return Payment{EventID: event.ID, OrderID: metadata["order_id"], UserID: metadata["user_id"]}, true, nil
}
