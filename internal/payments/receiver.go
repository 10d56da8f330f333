package payments

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/payline/internal/model"
	"github.com/dukerupert/payline/internal/processor"
	"github.com/dukerupert/payline/internal/store"
)

// Receiver handles inbound webhook deliveries. Its job ends the moment a
// pending record is durable: reconciliation happens asynchronously so the
// HTTP response never waits on downstream work and stays inside provider
// response SLAs.
type Receiver struct {
	registry *processor.Registry
	events   *store.WebhookEventStore
	key      string
	notify   chan<- string
	logger   *slog.Logger
}

func NewReceiver(registry *processor.Registry, events *store.WebhookEventStore, key string, notify chan<- string, logger *slog.Logger) *Receiver {
	return &Receiver{
		registry: registry,
		events:   events,
		key:      key,
		notify:   notify,
		logger:   logger,
	}
}

type ReceiveResult struct {
	Received  bool `json:"received"`
	Duplicate bool `json:"duplicate,omitempty"`
	Ignored   bool `json:"ignored,omitempty"`
}

// Receive authenticates, parses, filters, and deduplicates one delivery.
// Unsupported event types are acknowledged and discarded; they are not
// errors and must not make the provider retry.
func (r *Receiver) Receive(ctx context.Context, processorID, key string, body []byte, header http.Header) (*ReceiveResult, error) {
	if subtle.ConstantTimeCompare([]byte(key), []byte(r.key)) != 1 || r.key == "" {
		return nil, authErr("invalid webhook key")
	}

	adapter, err := r.registry.Get(processorID)
	if err != nil {
		return nil, notFoundErr("unknown processor", err)
	}

	parsed, err := adapter.ParseWebhook(body, header)
	if err != nil {
		if errors.Is(err, processor.ErrInvalidPayload) {
			return nil, validationErr("invalid payload", err)
		}
		return nil, internalErr("parse webhook", err)
	}

	if !adapter.IsSupported(parsed.EventType) {
		r.logger.Debug("ignoring unsupported event",
			"processor", processorID, "event_id", parsed.EventID, "event_type", parsed.EventType)
		return &ReceiveResult{Received: true, Ignored: true}, nil
	}

	existing, err := r.events.GetByID(parsed.EventID)
	if err != nil {
		return nil, internalErr("dedup lookup", err)
	}

	evt := &model.WebhookEvent{
		ID:        parsed.EventID,
		Processor: processorID,
		EventType: parsed.EventType,
		Raw:       parsed.Raw,
		UID:       parsed.UID,
	}

	if existing != nil {
		switch existing.Status {
		case model.WebhookStatusFailed:
			// A re-delivery of a failed event is the retry mechanism.
			reopened, err := r.events.Reopen(evt)
			if err != nil {
				return nil, internalErr("reopen failed event", err)
			}
			if !reopened {
				return &ReceiveResult{Received: true, Duplicate: true}, nil
			}
			r.signal(parsed.EventID)
			r.logger.Info("failed event reopened", "event_id", parsed.EventID, "processor", processorID)
			return &ReceiveResult{Received: true}, nil
		default:
			// pending, processing, or completed: the first delivery owns it.
			return &ReceiveResult{Received: true, Duplicate: true}, nil
		}
	}

	if _, err := r.events.Create(evt); err != nil {
		return nil, internalErr("persist webhook event", err)
	}
	r.signal(parsed.EventID)

	r.logger.Info("webhook event accepted",
		"event_id", parsed.EventID, "event_type", parsed.EventType, "processor", processorID)
	return &ReceiveResult{Received: true}, nil
}

// signal nudges the reconciler without blocking; the poll loop picks up
// anything a full channel drops.
func (r *Receiver) signal(eventID string) {
	select {
	case r.notify <- eventID:
	default:
	}
}
