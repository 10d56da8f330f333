// Package testproc implements a simulated payment processor that exercises
// the full intent/webhook/reconciliation pipeline without an external
// provider. After creating an intent it fires a synthetic
// customer.subscription.created webhook back at the service's own receiver.
package testproc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/payline/internal/model"
	"github.com/dukerupert/payline/internal/processor"
)

const Name = "test"

type Config struct {
	// Environment guards against running the simulator against real data.
	Environment string
	// WebhookURL is the service's own webhook endpoint, including the
	// processor and key query parameters.
	WebhookURL string
	// ConfirmURL is returned as the checkout URL for intents.
	ConfirmURL string
	// FireDelay spaces the synthetic webhook from the intent response.
	FireDelay time.Duration

	HTTPClient *http.Client
	Logger     *slog.Logger
}

type Adapter struct {
	cfg Config
}

// New builds the simulated adapter. It refuses to operate in production.
func New(cfg Config) (*Adapter, error) {
	if cfg.Environment == "production" {
		return nil, fmt.Errorf("test processor is not available in production")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Adapter{cfg: cfg}, nil
}

func (a *Adapter) Name() string { return Name }

// Event is the simulated provider's webhook envelope. It mirrors the shape
// the adapter's own ParseWebhook and ToUnified expect.
type Event struct {
	ID   string    `json:"id"`
	Type string    `json:"type"`
	Data EventData `json:"data"`
}

type EventData struct {
	Object Subscription `json:"object"`
}

// Subscription is the simulated provider's subscription object.
type Subscription struct {
	ID                string            `json:"id"`
	Status            string            `json:"status"`
	Metadata          map[string]string `json:"metadata"`
	StartDate         int64             `json:"start_date"`
	TrialEnd          int64             `json:"trial_end,omitempty"`
	CancelAtPeriodEnd bool              `json:"cancel_at_period_end"`
	CancelAt          int64             `json:"cancel_at,omitempty"`
	CurrentPeriodEnd  int64             `json:"current_period_end"`
}

// CreateIntent mints provider-shaped ids, then fires a synthetic
// subscription-created webhook at the receiver in the background so the
// pipeline runs end to end.
func (a *Adapter) CreateIntent(ctx context.Context, params processor.CreateIntentParams) (*processor.IntentResult, error) {
	now := time.Now().UTC()
	sub := Subscription{
		ID:     "sub_" + uuid.NewString(),
		Status: "active",
		Metadata: map[string]string{
			"uid":        params.UID,
			"product_id": params.Product.ID,
			"frequency":  string(params.Frequency),
		},
		StartDate:        now.Unix(),
		CurrentPeriodEnd: periodEnd(now, params.Frequency),
	}
	if params.Trial && params.Product.TrialDays > 0 {
		sub.Status = "trialing"
		sub.TrialEnd = now.AddDate(0, 0, params.Product.TrialDays).Unix()
	}

	event := Event{
		ID:   "evt_" + uuid.NewString(),
		Type: "customer.subscription.created",
		Data: EventData{Object: sub},
	}

	raw, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode test event: %w", err)
	}

	go a.fire(event.ID, raw)

	return &processor.IntentResult{
		ID:  "ti_" + uuid.NewString(),
		URL: a.cfg.ConfirmURL,
		Raw: raw,
	}, nil
}

func periodEnd(from time.Time, freq model.Frequency) int64 {
	if freq == model.FrequencyAnnually {
		return from.AddDate(1, 0, 0).Unix()
	}
	return from.AddDate(0, 1, 0).Unix()
}

// FireEvent delivers an arbitrary simulated event to the receiver. Test
// journeys use it to drive suspend, recover, and cancel transitions.
func (a *Adapter) FireEvent(event Event) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode test event: %w", err)
	}
	return a.deliver(raw)
}

func (a *Adapter) fire(eventID string, raw []byte) {
	if a.cfg.FireDelay > 0 {
		time.Sleep(a.cfg.FireDelay)
	}
	if err := a.deliver(raw); err != nil {
		a.cfg.Logger.Error("deliver synthetic webhook", "event_id", eventID, "error", err)
	}
}

func (a *Adapter) deliver(raw []byte) error {
	if a.cfg.WebhookURL == "" {
		return fmt.Errorf("no webhook url configured")
	}
	resp, err := a.cfg.HTTPClient.Post(a.cfg.WebhookURL, "application/json", bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("webhook endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func (a *Adapter) IsSupported(eventType string) bool {
	switch eventType {
	case "customer.subscription.created",
		"customer.subscription.updated",
		"customer.subscription.deleted":
		return true
	}
	return false
}

func (a *Adapter) ParseWebhook(body []byte, header http.Header) (*processor.ParsedEvent, error) {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", processor.ErrInvalidPayload, err)
	}
	if event.ID == "" || event.Type == "" {
		return nil, fmt.Errorf("%w: missing event id or type", processor.ErrInvalidPayload)
	}

	parsed := &processor.ParsedEvent{
		EventID:   event.ID,
		EventType: event.Type,
		Raw:       json.RawMessage(body),
	}
	if uid := event.Data.Object.Metadata["uid"]; uid != "" {
		parsed.UID = &uid
	}
	return parsed, nil
}

// ToUnified normalizes the simulated subscription object. Pure, like every
// adapter's transform.
func (a *Adapter) ToUnified(raw json.RawMessage, ctx processor.ToUnifiedContext) (*model.UnifiedSubscription, error) {
	var sub Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, fmt.Errorf("decode test subscription: %w", err)
	}
	if sub.ID == "" {
		return nil, fmt.Errorf("test subscription missing id")
	}

	unified := &model.UnifiedSubscription{
		Status: mapStatus(sub.Status, ctx.EventName),
		Payment: model.SubPayment{
			Processor:  Name,
			Frequency:  model.Frequency(sub.Metadata["frequency"]),
			ResourceID: sub.ID,
		},
	}

	if sub.StartDate > 0 {
		unified.Payment.StartDate = time.Unix(sub.StartDate, 0).UTC()
	}

	if productID := sub.Metadata["product_id"]; productID != "" {
		unified.Product = model.SubProduct{ID: productID}
		if ctx.Catalog != nil {
			if p, err := ctx.Catalog.Product(productID); err == nil {
				unified.Product.Name = p.Name
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

	if sub.CurrentPeriodEnd > 0 {
		unified.Expires = model.SubExpiry{
			Timestamp:     time.Unix(sub.CurrentPeriodEnd, 0).UTC(),
			TimestampUNIX: sub.CurrentPeriodEnd,
		}
	}

	return unified, nil
}

func mapStatus(status, eventName string) string {
	if eventName == "customer.subscription.deleted" {
		return model.SubStatusCancelled
	}
	switch status {
	case "canceled", "cancelled":
		return model.SubStatusCancelled
	case "past_due", "unpaid":
		return model.SubStatusSuspended
	case "trialing":
		return model.SubStatusTrialing
	default:
		return model.SubStatusActive
	}
}
