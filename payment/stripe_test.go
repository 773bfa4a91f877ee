package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/jeffsasaki/storefront/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/webhook"
)

const testWebhookSecret = "whsec_test_secret"

func newTestGateway() *StripeGateway {
	return NewStripeGateway(config.StripeConfig{
		SecretKey:     "sk_test_123",
		WebhookSecret: testWebhookSecret,
		SuccessURL:    "https://shop.test/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     "https://shop.test/cart",
		Currency:      "usd",
	})
}

func TestCheckoutParams(t *testing.T) {
	g := newTestGateway()
	params := g.checkoutParams(CheckoutRequest{
		OrderID:       "o1",
		UserID:        "u1",
		CustomerEmail: "buyer@example.com",
		Items: []LineItem{
			{ProductID: "p1", Name: "Desk Lamp", ImageURL: "https://img/p1.png", UnitAmount: 2500, Quantity: 2},
		},
	})

	assert.Equal(t, "payment", *params.Mode)
	assert.Equal(t, "o1", *params.ClientReferenceID)
	assert.Equal(t, "buyer@example.com", *params.CustomerEmail)
	assert.Equal(t, map[string]string{MetadataOrderID: "o1", MetadataUserID: "u1"}, params.Metadata)

	require.Len(t, params.LineItems, 1)
	li := params.LineItems[0]
	assert.Equal(t, int64(2), *li.Quantity)
	assert.Equal(t, int64(2500), *li.PriceData.UnitAmount)
	assert.Equal(t, "usd", *li.PriceData.Currency)
	assert.Equal(t, "p1", li.PriceData.ProductData.Metadata[MetadataProductID])
	assert.Equal(t, "https://img/p1.png", *li.PriceData.ProductData.Images[0])
}

func TestSessionFromStripe(t *testing.T) {
	s := &stripe.CheckoutSession{
		ID:              "sess_123",
		PaymentStatus:   stripe.CheckoutSessionPaymentStatusPaid,
		AmountTotal:     5000,
		Metadata:        map[string]string{MetadataOrderID: "o1", MetadataUserID: "u1"},
		CustomerDetails: &stripe.CheckoutSessionCustomerDetails{Email: "buyer@example.com"},
	}

	got := sessionFromStripe(s)
	assert.True(t, got.Paid())
	assert.Equal(t, "buyer@example.com", got.CustomerEmail)
	assert.Equal(t, "o1", got.Metadata[MetadataOrderID])
	assert.Equal(t, int64(5000), got.AmountTotal)
}

func TestLineItemFromStripe(t *testing.T) {
	got := lineItemFromStripe(&stripe.LineItem{
		Description: "Desk Lamp",
		Quantity:    2,
		AmountTotal: 5000,
		Price: &stripe.Price{
			UnitAmount: 2500,
			Product: &stripe.Product{
				Name:     "Desk Lamp",
				Images:   []string{"https://img/p1.png"},
				Metadata: map[string]string{MetadataProductID: "p1"},
			},
		},
	})
	assert.Equal(t, LineItem{ProductID: "p1", Name: "Desk Lamp", ImageURL: "https://img/p1.png",
		UnitAmount: 2500, Quantity: 2}, got)
}

// fakeStripe serves one session whose line items come back ten per page.
func fakeStripe(t *testing.T, sessionID string, lines int) *httptest.Server {
	t.Helper()
	const pageSize = 10

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/checkout/sessions/"+sessionID, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":             sessionID,
			"object":         "checkout.session",
			"payment_status": "paid",
			"amount_total":   lines * 100,
			"metadata":       map[string]string{MetadataUserID: "u1"},
		})
	})
	mux.HandleFunc("/v1/checkout/sessions/"+sessionID+"/line_items", func(w http.ResponseWriter, r *http.Request) {
		start := 0
		if after := r.URL.Query().Get("starting_after"); after != "" {
			n, err := strconv.Atoi(strings.TrimPrefix(after, "li_"))
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			start = n
		}
		end := start + pageSize
		if end > lines {
			end = lines
		}

		data := []map[string]interface{}{}
		for i := start + 1; i <= end; i++ {
			data = append(data, map[string]interface{}{
				"id":           fmt.Sprintf("li_%d", i),
				"object":       "item",
				"description":  fmt.Sprintf("Item %d", i),
				"quantity":     1,
				"amount_total": 100,
				"price": map[string]interface{}{
					"id":          fmt.Sprintf("price_%d", i),
					"object":      "price",
					"unit_amount": 100,
					"product": map[string]interface{}{
						"id":       fmt.Sprintf("prod_%d", i),
						"object":   "product",
						"name":     fmt.Sprintf("Item %d", i),
						"metadata": map[string]string{MetadataProductID: fmt.Sprintf("p%d", i)},
					},
				},
			})
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"object":   "list",
			"url":      r.URL.Path,
			"data":     data,
			"has_more": end < lines,
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestGetSessionReadsEveryLineItemPage(t *testing.T) {
	srv := fakeStripe(t, "cs_large", 12)

	g := newTestGateway()
	g.sessions = &session.Client{
		B: stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			URL:               stripe.String(srv.URL),
			MaxNetworkRetries: stripe.Int64(0),
			LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
		}),
		Key: "sk_test_123",
	}

	s, err := g.GetSession(context.Background(), "cs_large")
	require.NoError(t, err)
	assert.True(t, s.Paid())
	require.Len(t, s.LineItems, 12)
	assert.Equal(t, "p1", s.LineItems[0].ProductID)
	assert.Equal(t, "p12", s.LineItems[11].ProductID)
	assert.Equal(t, "Item 12", s.LineItems[11].Name)
}

func TestSessionPaid(t *testing.T) {
	for status, paid := range map[string]bool{"paid": true, "succeeded": true, "unpaid": false, "no_payment_required": false} {
		s := &Session{PaymentStatus: status}
		assert.Equal(t, paid, s.Paid(), status)
	}
}

func TestVerifyEvent(t *testing.T) {
	g := newTestGateway()
	payload := []byte(`{"id":"evt_1","object":"event","type":"checkout.session.completed",` +
		`"data":{"object":{"id":"sess_123","object":"checkout.session"}}}`)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})

	ev, err := g.VerifyEvent(signed.Payload, signed.Header)
	require.NoError(t, err)
	assert.Equal(t, EventCheckoutCompleted, ev.Type)
	assert.Equal(t, "sess_123", ev.SessionID)
}

func TestVerifyEventRejectsBadSignature(t *testing.T) {
	g := newTestGateway()
	payload := []byte(`{"id":"evt_1","object":"event","type":"checkout.session.completed","data":{"object":{"id":"sess_123"}}}`)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    "whsec_someone_else",
		Timestamp: time.Now(),
	})

	_, err := g.VerifyEvent(signed.Payload, signed.Header)
	assert.True(t, errors.Is(err, ErrInvalidEvent))

	_, err = g.VerifyEvent(payload, "")
	assert.ErrorIs(t, err, ErrInvalidEvent)
}
