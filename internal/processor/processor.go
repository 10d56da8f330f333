// Package processor defines the contract every payment processor integration
// implements and the static registry that resolves processor ids at startup.
package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/dukerupert/payline/internal/catalog"
	"github.com/dukerupert/payline/internal/model"
)

// CreateIntentParams carries a validated purchase request into an adapter.
type CreateIntentParams struct {
	UID       string
	Product   *catalog.Product
	PriceID   string
	Frequency model.Frequency
	Trial     bool
}

// IntentResult is the provider-side outcome of intent creation.
type IntentResult struct {
	ID  string
	URL string
	Raw json.RawMessage
}

// ParsedEvent is the normalized envelope of one inbound webhook delivery.
// UID may be nil: providers emit events for subscriptions that are not yet
// linked to a user.
type ParsedEvent struct {
	EventID   string
	EventType string
	Raw       json.RawMessage
	UID       *string
}

// ToUnifiedContext carries the read-only inputs ToUnified may depend on.
type ToUnifiedContext struct {
	Catalog   *catalog.Catalog
	EventName string
	EventID   string
}

// Adapter is implemented once per payment processor. CreateIntent may have
// provider-side effects but must not persist locally. ToUnified must be a
// pure function of its arguments.
type Adapter interface {
	Name() string
	CreateIntent(ctx context.Context, params CreateIntentParams) (*IntentResult, error)
	IsSupported(eventType string) bool
	ParseWebhook(body []byte, header http.Header) (*ParsedEvent, error)
	ToUnified(raw json.RawMessage, ctx ToUnifiedContext) (*model.UnifiedSubscription, error)
}

// ExtractObject pulls the provider resource out of an event envelope. Both
// supported processors nest it under data.object.
func ExtractObject(raw json.RawMessage) (json.RawMessage, error) {
	var envelope struct {
		Data struct {
			Object json.RawMessage `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("extract event object: %w", err)
	}
	if len(envelope.Data.Object) == 0 {
		return nil, fmt.Errorf("event has no data.object")
	}
	return envelope.Data.Object, nil
}

// UnknownProcessorError identifies a processor id with no registered adapter.
type UnknownProcessorError struct {
	ID string
}

func (e *UnknownProcessorError) Error() string {
	return fmt.Sprintf("unknown processor: %s", e.ID)
}

// Registry maps processor ids to adapters. It is built once at startup and
// read-only afterward.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	m := make(map[string]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Name()] = a
	}
	return &Registry{adapters: m}
}

// Get resolves a processor id, returning a typed error for unknown ids.
func (r *Registry) Get(id string) (Adapter, error) {
	a, ok := r.adapters[id]
	if !ok {
		return nil, &UnknownProcessorError{ID: id}
	}
	return a, nil
}

// Names returns the registered processor ids, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
