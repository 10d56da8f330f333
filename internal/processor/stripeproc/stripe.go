// Package stripeproc implements the processor adapter for Stripe.
// Purchase intents are Stripe Checkout sessions in subscription mode; the
// uid, product id, and frequency ride on the subscription metadata so every
// later webhook can be traced back to the purchasing user.
package stripeproc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	checksession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/dukerupert/payline/internal/model"
	"github.com/dukerupert/payline/internal/processor"
)

const Name = "stripe"

// Metadata keys written at checkout time and read back off webhooks.
const (
	metaUID       = "uid"
	metaProductID = "product_id"
	metaFrequency = "frequency"
)

type Config struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
}

type Adapter struct {
	cfg Config
}

func New(cfg Config) *Adapter {
	stripe.Key = cfg.SecretKey
	return &Adapter{cfg: cfg}
}

func (a *Adapter) Name() string { return Name }

// CreateIntent creates a Checkout session and returns its id and URL.
func (a *Adapter) CreateIntent(ctx context.Context, params processor.CreateIntentParams) (*processor.IntentResult, error) {
	sessParams := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(params.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		ClientReferenceID:   stripe.String(params.UID),
		AllowPromotionCodes: stripe.Bool(true),
		SuccessURL:          stripe.String(a.cfg.SuccessURL),
		CancelURL:           stripe.String(a.cfg.CancelURL),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				metaUID:       params.UID,
				metaProductID: params.Product.ID,
				metaFrequency: string(params.Frequency),
			},
		},
	}
	sessParams.Context = ctx
	if params.Trial && params.Product.TrialDays > 0 {
		sessParams.SubscriptionData.TrialPeriodDays = stripe.Int64(int64(params.Product.TrialDays))
	}

	sess, err := checksession.New(sessParams)
	if err != nil {
		return nil, classify(fmt.Errorf("create checkout session: %w", err))
	}

	raw, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("encode checkout session: %w", err)
	}

	return &processor.IntentResult{ID: sess.ID, URL: sess.URL, Raw: raw}, nil
}

// classify wraps rate-limit and server-side Stripe failures as transient so
// the intent service retries them.
func classify(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode == http.StatusTooManyRequests || stripeErr.HTTPStatusCode >= 500 {
			return &processor.TransientError{Err: err}
		}
	}
	return err
}

// IsSupported filters the event types this pipeline reconciles. Everything
// else is acknowledged and discarded by the receiver.
func (a *Adapter) IsSupported(eventType string) bool {
	switch eventType {
	case "customer.subscription.created",
		"customer.subscription.updated",
		"customer.subscription.deleted":
		return true
	}
	return false
}

// ParseWebhook verifies and decodes an inbound Stripe event. When a webhook
// signing secret is configured the Stripe-Signature header is enforced;
// otherwise the envelope is decoded as-is (test and development traffic).
func (a *Adapter) ParseWebhook(body []byte, header http.Header) (*processor.ParsedEvent, error) {
	var event stripe.Event
	if a.cfg.WebhookSecret != "" {
		var err error
		event, err = webhook.ConstructEvent(body, header.Get("Stripe-Signature"), a.cfg.WebhookSecret)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", processor.ErrInvalidPayload, err)
		}
	} else if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", processor.ErrInvalidPayload, err)
	}

	if event.ID == "" || event.Type == "" || event.Data == nil {
		return nil, fmt.Errorf("%w: missing event id, type, or data", processor.ErrInvalidPayload)
	}

	parsed := &processor.ParsedEvent{
		EventID:   event.ID,
		EventType: string(event.Type),
		Raw:       json.RawMessage(body),
	}

	// uid rides on the subscription metadata written at checkout time.
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err == nil {
		if uid := sub.Metadata[metaUID]; uid != "" {
			parsed.UID = &uid
		}
	}

	return parsed, nil
}

// ToUnified normalizes a raw Stripe subscription object. Pure: the output
// depends only on the payload and the catalog, never on the clock or I/O.
func (a *Adapter) ToUnified(raw json.RawMessage, ctx processor.ToUnifiedContext) (*model.UnifiedSubscription, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, fmt.Errorf("decode stripe subscription: %w", err)
	}
	if sub.ID == "" {
		return nil, fmt.Errorf("stripe subscription missing id")
	}

	unified := &model.UnifiedSubscription{
		Status: mapStatus(sub.Status, ctx.EventName),
		Payment: model.SubPayment{
			Processor:  Name,
			Frequency:  model.Frequency(sub.Metadata[metaFrequency]),
			ResourceID: sub.ID,
		},
	}

	if sub.StartDate > 0 {
		unified.Payment.StartDate = time.Unix(sub.StartDate, 0).UTC()
	}

	// Product identity survives suspension: a past_due user keeps their plan
	// but loses privileged status.
	productID := sub.Metadata[metaProductID]
	if productID != "" && ctx.Catalog != nil {
		if p, err := ctx.Catalog.Product(productID); err == nil {
			unified.Product = model.SubProduct{ID: p.ID, Name: p.Name}
		} else {
			unified.Product = model.SubProduct{ID: productID}
		}
	} else if ctx.Catalog != nil {
		if priceID := firstPriceID(&sub); priceID != "" {
			if p, freq, ok := ctx.Catalog.ProductByPrice(priceID); ok {
				unified.Product = model.SubProduct{ID: p.ID, Name: p.Name}
				if unified.Payment.Frequency == "" {
					unified.Payment.Frequency = freq
				}
			}
		}
	}

	if sub.TrialEnd > 0 {
		t := time.Unix(sub.TrialEnd, 0).UTC()
		unified.Trial = model.SubTrial{Claimed: true, Expires: &t}
	}

	if sub.CancelAtPeriodEnd && unified.Status != model.SubStatusCancelled {
		unified.Cancellation.Pending = true
		if sub.CancelAt > 0 {
			t := time.Unix(sub.CancelAt, 0).UTC()
			unified.Cancellation.Date = &t
		}
	}

	if end := currentPeriodEnd(&sub); end > 0 {
		unified.Expires = model.SubExpiry{
			Timestamp:     time.Unix(end, 0).UTC(),
			TimestampUNIX: end,
		}
	}

	return unified, nil
}

func mapStatus(status stripe.SubscriptionStatus, eventName string) string {
	if eventName == "customer.subscription.deleted" {
		return model.SubStatusCancelled
	}
	switch status {
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return model.SubStatusCancelled
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return model.SubStatusSuspended
	case stripe.SubscriptionStatusTrialing:
		return model.SubStatusTrialing
	default:
		return model.SubStatusActive
	}
}

func firstPriceID(sub *stripe.Subscription) string {
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		return sub.Items.Data[0].Price.ID
	}
	return ""
}

// currentPeriodEnd reads the billing period end, which lives on the
// subscription item in current Stripe API versions.
func currentPeriodEnd(sub *stripe.Subscription) int64 {
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		return sub.Items.Data[0].CurrentPeriodEnd
	}
	return 0
}
