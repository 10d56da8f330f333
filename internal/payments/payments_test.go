package payments

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"testing"

	"github.com/dukerupert/payline/internal/catalog"
	"github.com/dukerupert/payline/internal/database"
	"github.com/dukerupert/payline/internal/model"
	"github.com/dukerupert/payline/internal/processor"
	"github.com/dukerupert/payline/internal/processor/testproc"
	"github.com/dukerupert/payline/internal/store"
)

type fixture struct {
	db       *sql.DB
	catalog  *catalog.Catalog
	intents  *store.IntentStore
	events   *store.WebhookEventStore
	subs     *store.SubscriptionStore
	users    *store.UserStore
	registry *processor.Registry
	notify   chan string
	logger   *slog.Logger
}

func newFixture(t *testing.T, extra ...processor.Adapter) *fixture {
	t.Helper()

	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cat, err := catalog.Parse([]byte(`{
	  "products": [
	    {"id": "pro", "name": "Pro Plan",
	     "prices": {"monthly": "price_month", "annually": "price_year"},
	     "trial_days": 14},
	    {"id": "lite", "name": "Lite Plan",
	     "prices": {"monthly": "price_lite"}}
	  ]
	}`))
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}

	tp, err := testproc.New(testproc.Config{Environment: "test"})
	if err != nil {
		t.Fatalf("new test adapter: %v", err)
	}
	adapters := append([]processor.Adapter{tp}, extra...)

	return &fixture{
		db:       db,
		catalog:  cat,
		intents:  store.NewIntentStore(db),
		events:   store.NewWebhookEventStore(db),
		subs:     store.NewSubscriptionStore(db),
		users:    store.NewUserStore(db),
		registry: processor.NewRegistry(adapters...),
		notify:   make(chan string, 16),
		logger:   slog.Default(),
	}
}

func (f *fixture) receiver(key string) *Receiver {
	return NewReceiver(f.registry, f.events, key, f.notify, f.logger)
}

func (f *fixture) reconciler() *Reconciler {
	return NewReconciler(f.db, f.registry, f.catalog, f.events, f.subs, f.users, f.notify, f.logger)
}

func (f *fixture) intentService() *IntentService {
	return NewIntentService(f.registry, f.catalog, f.intents, f.subs, f.users, f.logger)
}

// testEvent builds a simulated-provider event body in the test processor's
// wire shape.
func testEvent(eventID, eventType string, sub testproc.Subscription) []byte {
	body, err := json.Marshal(testproc.Event{
		ID:   eventID,
		Type: eventType,
		Data: testproc.EventData{Object: sub},
	})
	if err != nil {
		panic(err)
	}
	return body
}

func activeSub(resourceID, uid string) testproc.Subscription {
	return testproc.Subscription{
		ID:     resourceID,
		Status: "active",
		Metadata: map[string]string{
			"uid":        uid,
			"product_id": "pro",
			"frequency":  "monthly",
		},
		StartDate:        1700000000,
		CurrentPeriodEnd: 1702592000,
	}
}

// storeEvent persists a pending webhook event the way the receiver would.
func (f *fixture) storeEvent(t *testing.T, eventID, eventType string, uid *string, sub testproc.Subscription) {
	t.Helper()
	_, err := f.events.Create(&model.WebhookEvent{
		ID:        eventID,
		Processor: testproc.Name,
		EventType: eventType,
		Raw:       testEvent(eventID, eventType, sub),
		UID:       uid,
	})
	if err != nil {
		t.Fatalf("store event %s: %v", eventID, err)
	}
}

// fakeAdapter lets tests script adapter behavior per call.
type fakeAdapter struct {
	name      string
	createFn  func(ctx context.Context, params processor.CreateIntentParams) (*processor.IntentResult, error)
	unifiedFn func(raw json.RawMessage, ctx processor.ToUnifiedContext) (*model.UnifiedSubscription, error)
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) CreateIntent(ctx context.Context, params processor.CreateIntentParams) (*processor.IntentResult, error) {
	return f.createFn(ctx, params)
}

func (f *fakeAdapter) IsSupported(eventType string) bool {
	return eventType == "customer.subscription.created" ||
		eventType == "customer.subscription.updated" ||
		eventType == "customer.subscription.deleted"
}

func (f *fakeAdapter) ParseWebhook(body []byte, header http.Header) (*processor.ParsedEvent, error) {
	var evt struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(body, &evt); err != nil || evt.ID == "" {
		return nil, processor.ErrInvalidPayload
	}
	return &processor.ParsedEvent{EventID: evt.ID, EventType: evt.Type, Raw: body}, nil
}

func (f *fakeAdapter) ToUnified(raw json.RawMessage, ctx processor.ToUnifiedContext) (*model.UnifiedSubscription, error) {
	return f.unifiedFn(raw, ctx)
}

func strptr(s string) *string { return &s }
