package stripeproc

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"testing"

	"github.com/dukerupert/payline/internal/catalog"
	"github.com/dukerupert/payline/internal/model"
	"github.com/dukerupert/payline/internal/processor"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.Parse([]byte(`{
	  "products": [
	    {"id": "pro", "name": "Pro Plan",
	     "prices": {"monthly": "price_month", "annually": "price_year"},
	     "trial_days": 14}
	  ]
	}`))
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}
	return c
}

func subJSON(overrides string) json.RawMessage {
	base := `{
	  "id": "sub_123",
	  "status": "active",
	  "start_date": 1700000000,
	  "metadata": {"uid": "user-1", "product_id": "pro", "frequency": "monthly"},
	  "items": {"data": [{"price": {"id": "price_month"}, "current_period_end": 1702592000}]}`
	if overrides != "" {
		base += "," + overrides
	}
	return json.RawMessage(base + "}")
}

func toUnified(t *testing.T, raw json.RawMessage, eventName string) *model.UnifiedSubscription {
	t.Helper()
	a := New(Config{})
	unified, err := a.ToUnified(raw, processor.ToUnifiedContext{
		Catalog:   testCatalog(t),
		EventName: eventName,
		EventID:   "evt-1",
	})
	if err != nil {
		t.Fatalf("to unified: %v", err)
	}
	return unified
}

func TestToUnifiedActive(t *testing.T) {
	u := toUnified(t, subJSON(""), "customer.subscription.created")

	if u.Status != model.SubStatusActive {
		t.Errorf("status = %q, want active", u.Status)
	}
	if u.Product.ID != "pro" || u.Product.Name != "Pro Plan" {
		t.Errorf("product = %+v", u.Product)
	}
	if u.Payment.Processor != "stripe" {
		t.Errorf("processor = %q, want stripe", u.Payment.Processor)
	}
	if u.Payment.ResourceID != "sub_123" {
		t.Errorf("resource id = %q, want sub_123", u.Payment.ResourceID)
	}
	if u.Payment.Frequency != model.FrequencyMonthly {
		t.Errorf("frequency = %q, want monthly", u.Payment.Frequency)
	}
	if u.Expires.TimestampUNIX != 1702592000 {
		t.Errorf("expires = %d, want 1702592000", u.Expires.TimestampUNIX)
	}
	if u.Trial.Claimed {
		t.Error("expected no trial")
	}
	if u.Cancellation.Pending {
		t.Error("expected no pending cancellation")
	}
}

func TestToUnifiedPure(t *testing.T) {
	raw := subJSON(`"trial_end": 1701000000`)
	first := toUnified(t, raw, "customer.subscription.updated")
	second := toUnified(t, raw, "customer.subscription.updated")

	if !reflect.DeepEqual(first, second) {
		t.Errorf("same input produced different output:\n%+v\n%+v", first, second)
	}
}

func TestToUnifiedTrialing(t *testing.T) {
	u := toUnified(t, subJSON(`"status": "trialing", "trial_end": 1701000000`), "customer.subscription.created")

	if u.Status != model.SubStatusTrialing {
		t.Errorf("status = %q, want trialing", u.Status)
	}
	if !u.Trial.Claimed {
		t.Error("expected trial claimed")
	}
	if u.Trial.Expires == nil || u.Trial.Expires.Unix() != 1701000000 {
		t.Errorf("trial expires = %v", u.Trial.Expires)
	}
}

func TestToUnifiedTrialEndedStaysClaimed(t *testing.T) {
	// After the trial window passes, Stripe reports active with trial_end in
	// the past. The claim is historical and must survive.
	u := toUnified(t, subJSON(`"status": "active", "trial_end": 100`), "customer.subscription.updated")

	if u.Status != model.SubStatusActive {
		t.Errorf("status = %q, want active", u.Status)
	}
	if !u.Trial.Claimed {
		t.Error("expected trial claimed to remain true")
	}
}

func TestToUnifiedSuspended(t *testing.T) {
	u := toUnified(t, subJSON(`"status": "past_due"`), "customer.subscription.updated")

	if u.Status != model.SubStatusSuspended {
		t.Errorf("status = %q, want suspended", u.Status)
	}
	// A suspended user keeps their plan identity.
	if u.Product.ID != "pro" {
		t.Errorf("product = %q, want pro", u.Product.ID)
	}
}

func TestToUnifiedCancellationPending(t *testing.T) {
	u := toUnified(t, subJSON(`"cancel_at_period_end": true, "cancel_at": 1702592000`), "customer.subscription.updated")

	if u.Status != model.SubStatusActive {
		t.Errorf("status = %q, want active while cancellation pends", u.Status)
	}
	if !u.Cancellation.Pending {
		t.Error("expected cancellation pending")
	}
	if u.Cancellation.Date == nil || u.Cancellation.Date.Unix() != 1702592000 {
		t.Errorf("cancellation date = %v", u.Cancellation.Date)
	}
}

func TestToUnifiedDeleted(t *testing.T) {
	u := toUnified(t, subJSON(`"status": "canceled", "cancel_at_period_end": true`), "customer.subscription.deleted")

	if u.Status != model.SubStatusCancelled {
		t.Errorf("status = %q, want cancelled", u.Status)
	}
	if u.Cancellation.Pending {
		t.Error("cancellation is no longer pending once terminated")
	}
}

func TestToUnifiedProductFromPrice(t *testing.T) {
	// No product metadata: fall back to the price id.
	raw := json.RawMessage(`{
	  "id": "sub_456",
	  "status": "active",
	  "items": {"data": [{"price": {"id": "price_year"}, "current_period_end": 1702592000}]}
	}`)
	u := toUnified(t, raw, "customer.subscription.created")

	if u.Product.ID != "pro" {
		t.Errorf("product = %q, want pro", u.Product.ID)
	}
	if u.Payment.Frequency != model.FrequencyAnnually {
		t.Errorf("frequency = %q, want annually", u.Payment.Frequency)
	}
}

func TestToUnifiedMissingID(t *testing.T) {
	a := New(Config{})
	_, err := a.ToUnified(json.RawMessage(`{"status":"active"}`), processor.ToUnifiedContext{})
	if err == nil {
		t.Error("expected error for subscription without id")
	}
}

func TestIsSupported(t *testing.T) {
	a := New(Config{})

	for _, typ := range []string{
		"customer.subscription.created",
		"customer.subscription.updated",
		"customer.subscription.deleted",
	} {
		if !a.IsSupported(typ) {
			t.Errorf("expected %s supported", typ)
		}
	}
	for _, typ := range []string{"invoice.paid", "charge.refunded", ""} {
		if a.IsSupported(typ) {
			t.Errorf("expected %s unsupported", typ)
		}
	}
}

func TestParseWebhook(t *testing.T) {
	a := New(Config{})
	body := []byte(`{
	  "id": "evt_1",
	  "type": "customer.subscription.created",
	  "data": {"object": {"id": "sub_123", "metadata": {"uid": "user-1"}}}
	}`)

	parsed, err := a.ParseWebhook(body, http.Header{})
	if err != nil {
		t.Fatalf("parse webhook: %v", err)
	}
	if parsed.EventID != "evt_1" {
		t.Errorf("event id = %q, want evt_1", parsed.EventID)
	}
	if parsed.EventType != "customer.subscription.created" {
		t.Errorf("event type = %q", parsed.EventType)
	}
	if parsed.UID == nil || *parsed.UID != "user-1" {
		t.Errorf("uid = %v, want user-1", parsed.UID)
	}
}

func TestParseWebhookNoUID(t *testing.T) {
	a := New(Config{})
	body := []byte(`{
	  "id": "evt_1",
	  "type": "customer.subscription.created",
	  "data": {"object": {"id": "sub_123"}}
	}`)

	parsed, err := a.ParseWebhook(body, http.Header{})
	if err != nil {
		t.Fatalf("parse webhook: %v", err)
	}
	if parsed.UID != nil {
		t.Errorf("uid = %v, want nil", parsed.UID)
	}
}

func TestParseWebhookInvalid(t *testing.T) {
	a := New(Config{})

	for _, body := range []string{"not json", `{}`, `{"id":"evt_1"}`} {
		_, err := a.ParseWebhook([]byte(body), http.Header{})
		if !errors.Is(err, processor.ErrInvalidPayload) {
			t.Errorf("body %q: err = %v, want ErrInvalidPayload", body, err)
		}
	}
}

func TestParseWebhookSignatureRequired(t *testing.T) {
	a := New(Config{WebhookSecret: "whsec_test"})
	body := []byte(`{"id":"evt_1","type":"customer.subscription.created","data":{"object":{}}}`)

	_, err := a.ParseWebhook(body, http.Header{})
	if !errors.Is(err, processor.ErrInvalidPayload) {
		t.Errorf("err = %v, want ErrInvalidPayload when signature missing", err)
	}
}
