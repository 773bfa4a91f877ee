package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jeffsasaki/storefront/config"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/webhook"
)

// StripeGateway implements Gateway and WebhookVerifier on Stripe Checkout.
type StripeGateway struct {
	sessions      *session.Client
	webhookSecret string
	successURL    string
	cancelURL     string
	currency      string
}

var (
	_ Gateway         = (*StripeGateway)(nil)
	_ WebhookVerifier = (*StripeGateway)(nil)
)

func NewStripeGateway(cfg config.StripeConfig) *StripeGateway {
	return &StripeGateway{
		sessions:      &session.Client{B: stripe.GetBackend(stripe.APIBackend), Key: cfg.SecretKey},
		webhookSecret: cfg.WebhookSecret,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
		currency:      cfg.Currency,
	}
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	params := g.checkoutParams(req)
	params.Context = ctx

	s, err := g.sessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}
	return &CheckoutSession{ID: s.ID, URL: s.URL}, nil
}

func (g *StripeGateway) checkoutParams(req CheckoutRequest) *stripe.CheckoutSessionParams {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(g.successURL),
		CancelURL:         stripe.String(g.cancelURL),
		ClientReferenceID: stripe.String(req.OrderID),
	}
	params.Metadata = map[string]string{
		MetadataOrderID: req.OrderID,
		MetadataUserID:  req.UserID,
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}

	for _, item := range req.Items {
		product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name:     stripe.String(item.Name),
			Metadata: map[string]string{MetadataProductID: item.ProductID},
		}
		if item.Description != "" {
			product.Description = stripe.String(item.Description)
		}
		if item.ImageURL != "" {
			product.Images = stripe.StringSlice([]string{item.ImageURL})
		}

		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(g.currency),
				UnitAmount:  stripe.Int64(item.UnitAmount),
				ProductData: product,
			},
			Quantity: stripe.Int64(item.Quantity),
		})
	}
	return params
}

// GetSession retrieves a session with every line item. Line items are listed
// page by page since an expanded session only embeds the first page.
func (g *StripeGateway) GetSession(ctx context.Context, id string) (*Session, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	s, err := g.sessions.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve checkout session %s: %w", id, err)
	}
	out := sessionFromStripe(s)

	listParams := &stripe.CheckoutSessionListLineItemsParams{Session: stripe.String(id)}
	listParams.Context = ctx
	listParams.Limit = stripe.Int64(100)
	listParams.AddExpand("data.price.product")

	it := g.sessions.ListLineItems(listParams)
	for it.Next() {
		out.LineItems = append(out.LineItems, lineItemFromStripe(it.LineItem()))
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("failed to list line items of checkout session %s: %w", id, err)
	}
	return out, nil
}

func sessionFromStripe(s *stripe.CheckoutSession) *Session {
	out := &Session{
		ID:            s.ID,
		PaymentStatus: string(s.PaymentStatus),
		CustomerEmail: s.CustomerEmail,
		AmountTotal:   s.AmountTotal,
		Metadata:      s.Metadata,
	}
	if s.CustomerDetails != nil && s.CustomerDetails.Email != "" {
		out.CustomerEmail = s.CustomerDetails.Email
	}
	return out
}

func lineItemFromStripe(li *stripe.LineItem) LineItem {
	item := LineItem{Name: li.Description, Quantity: li.Quantity}
	if li.Quantity > 0 {
		item.UnitAmount = li.AmountTotal / li.Quantity
	}
	if li.Price != nil {
		item.UnitAmount = li.Price.UnitAmount
		if p := li.Price.Product; p != nil {
			item.ProductID = p.Metadata[MetadataProductID]
			item.Description = p.Description
			if p.Name != "" {
				item.Name = p.Name
			}
			if len(p.Images) > 0 {
				item.ImageURL = p.Images[0]
			}
		}
	}
	return item
}

// VerifyEvent checks the Stripe-Signature header and extracts the checkout
// session the event refers to.
func (g *StripeGateway) VerifyEvent(payload []byte, signature string) (*Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret,
		webhook.ConstructEventOptions{
			Tolerance:                webhook.DefaultTolerance,
			IgnoreAPIVersionMismatch: true,
		})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	out := &Event{ID: ev.ID, Type: string(ev.Type)}
	if strings.HasPrefix(out.Type, "checkout.session.") {
		if ev.Data == nil {
			return nil, fmt.Errorf("%w: event %s has no data", ErrInvalidEvent, ev.ID)
		}
		var cs struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(ev.Data.Raw, &cs); err != nil || cs.ID == "" {
			return nil, fmt.Errorf("%w: event %s carries no checkout session", ErrInvalidEvent, ev.ID)
		}
		out.SessionID = cs.ID
	}
	return out, nil
}
