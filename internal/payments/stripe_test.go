package payments

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81/webhook"

	"popotte/internal/orders"
)

const completedSession = `{
  "id": "evt_1",
  "object": "event",
  "type": "checkout.session.completed",
  "data": {"object": {
    "id": "cs_1",
    "object": "checkout.session",
    "client_reference_id": "order-7",
    "payment_status": "paid",
    "metadata": {"order_id": "order-7", "user_id": "alice"}
  }}
}`

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(4200), MinorUnits(decimal.RequireFromString("42.00")))
	assert.Equal(t, int64(251), MinorUnits(decimal.RequireFromString("2.505")))
	assert.Equal(t, int64(0), MinorUnits(decimal.Zero))
}

func TestSessionParamsCarryOrderMetadata(t *testing.T) {
	p := NewConf(Options{Currency: "EUR", SuccessURL: "https://popotte.test/ok", CancelURL: "https://popotte.test/ko"})
	o := orders.Order{
		ID:     "order-7",
		UserID: "alice",
		Status: orders.StatusPending,
		Items: []orders.Item{
			{ProductID: "p1", Variant: "M", Name: "Pastilla", Quantity: 2, UnitPrice: decimal.RequireFromString("3.50")},
		},
	}

	params := p.sessionParams(o)
	require.Len(t, params.LineItems, 1)
	li := params.LineItems[0]
	assert.Equal(t, "eur", *li.PriceData.Currency)
	assert.Equal(t, int64(350), *li.PriceData.UnitAmount)
	assert.Equal(t, "Pastilla (M)", *li.PriceData.ProductData.Name)
	assert.Equal(t, int64(2), *li.Quantity)
	assert.Equal(t, "order-7", params.PaymentIntentData.Metadata["order_id"])
	assert.Equal(t, "order-7", *params.ClientReferenceID)
}

func TestCheckoutNeedsKeyAndPendingOrder(t *testing.T) {
	_, err := NewConf(Options{}).CheckoutSession(context.Background(), orders.Order{Status: orders.StatusPending})
	assert.ErrorIs(t, err, ErrDisabled)

	p := &Conf{opts: Options{SecretKey: "sk_test_x"}}
	_, err = p.CheckoutSession(context.Background(), orders.Order{Status: orders.StatusConfirmed})
	assert.ErrorIs(t, err, ErrNotPayable)
}

const webhookSecret = "whsec_test"

func sign(payload string) *webhook.SignedPayload {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    webhookSecret,
		Timestamp: time.Now(),
	})
}

func TestParseSignedWebhook(t *testing.T) {
	p := NewConf(Options{WebhookSecret: webhookSecret})
	signed := sign(completedSession)

	pay, ok, err := p.ParseWebhook(signed.Payload, signed.Header)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Payment{EventID: "evt_1", OrderID: "order-7", UserID: "alice"}, pay)

	_, _, err = p.ParseWebhook(signed.Payload, "t=1,v1=deadbeef")
	assert.ErrorIs(t, err, ErrBadSignature)

	_, ok, err = p.ParseWebhook([]byte(completedSession), "")
	assert.ErrorIs(t, err, ErrBadSignature)
	assert.False(t, ok)
}

func TestParseWithoutSecretTrustsNothing(t *testing.T) {
	p := NewConf(Options{})

	_, ok, err := p.ParseWebhook([]byte(completedSession), "")
	assert.ErrorIs(t, err, ErrDisabled)
	assert.False(t, ok)

	signed := sign(completedSession)
	_, ok, err = p.ParseWebhook(signed.Payload, signed.Header)
	assert.ErrorIs(t, err, ErrDisabled)
	assert.False(t, ok)
}

func TestParseIgnoresOtherEvents(t *testing.T) {
	signed := sign(`{"id":"evt_2","object":"event","type":"customer.created","data":{"object":{}}}`)
	_, ok, err := NewConf(Options{WebhookSecret: webhookSecret}).ParseWebhook(signed.Payload, signed.Header)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParsePaymentIntentWithoutOrder(t *testing.T) {
	signed := sign(`{"id":"evt_3","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","object":"payment_intent","metadata":{}}}}`)
	_, ok, err := NewConf(Options{WebhookSecret: webhookSecret}).ParseWebhook(signed.Payload, signed.Header)
	assert.ErrorIs(t, err, ErrMissingOrder)
	assert.False(t, ok)
}
