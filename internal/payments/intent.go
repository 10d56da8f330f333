package payments

import (
	"context"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dukerupert/payline/internal/catalog"
	"github.com/dukerupert/payline/internal/model"
	"github.com/dukerupert/payline/internal/processor"
	"github.com/dukerupert/payline/internal/store"
)

// IntentService validates purchase requests and delegates intent creation to
// the processor adapter. It writes the Intent audit record but never touches
// subscription state; that is the reconciler's job alone.
type IntentService struct {
	registry *processor.Registry
	catalog  *catalog.Catalog
	intents  *store.IntentStore
	subs     *store.SubscriptionStore
	users    *store.UserStore
	logger   *slog.Logger

	providerTimeout time.Duration
	retryBase       time.Duration
	maxRetries      uint64
}

func NewIntentService(
	registry *processor.Registry,
	cat *catalog.Catalog,
	intents *store.IntentStore,
	subs *store.SubscriptionStore,
	users *store.UserStore,
	logger *slog.Logger,
) *IntentService {
	return &IntentService{
		registry:        registry,
		catalog:         cat,
		intents:         intents,
		subs:            subs,
		users:           users,
		logger:          logger,
		providerTimeout: 30 * time.Second,
		retryBase:       500 * time.Millisecond,
		maxRetries:      2,
	}
}

type CreateIntentRequest struct {
	UID       string          `json:"-"`
	Processor string          `json:"processor"`
	ProductID string          `json:"product_id"`
	Frequency model.Frequency `json:"frequency"`
	Trial     bool            `json:"trial"`
}

type CreateIntentResponse struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Trial bool   `json:"trial"`
}

// Create runs the purchase-intent flow: guard against double purchase,
// apply the lifetime one-trial-per-identity rule, resolve the catalog
// entry, call the provider with bounded retries, and persist the Intent.
func (s *IntentService) Create(ctx context.Context, req CreateIntentRequest) (*CreateIntentResponse, error) {
	if req.UID == "" {
		return nil, authErr("no authenticated user")
	}
	if req.ProductID == "" {
		return nil, validationErr("product_id is required", nil)
	}
	if !req.Frequency.Valid() {
		return nil, validationErr("frequency must be monthly or annually", nil)
	}

	adapter, err := s.registry.Get(req.Processor)
	if err != nil {
		return nil, notFoundErr("unknown processor", err)
	}

	user, err := s.users.Ensure(req.UID)
	if err != nil {
		return nil, internalErr("load user", err)
	}
	if user.Subscription != nil && user.Subscription.Status != model.SubStatusCancelled {
		return nil, conflictErr("user already has a subscription")
	}

	// One trial per identity, for life. Any prior registry entry, whatever
	// its state, silently downgrades the request.
	trial := req.Trial
	if trial {
		exists, err := s.subs.ExistsForUser(req.UID)
		if err != nil {
			return nil, internalErr("check prior subscriptions", err)
		}
		if exists {
			s.logger.Info("trial downgraded, user has subscription history", "uid", req.UID)
			trial = false
		}
	}

	product, err := s.catalog.Product(req.ProductID)
	if err != nil {
		return nil, validationErr("unknown product", err)
	}
	priceID, err := product.PriceFor(req.Frequency)
	if err != nil {
		return nil, validationErr("price not configured", err)
	}

	params := processor.CreateIntentParams{
		UID:       req.UID,
		Product:   product,
		PriceID:   priceID,
		Frequency: req.Frequency,
		Trial:     trial,
	}

	result, err := s.createWithRetry(ctx, adapter, params)
	if err != nil {
		return nil, processorErr("provider intent creation failed", err)
	}

	intent := &model.Intent{
		ID:        result.ID,
		Processor: adapter.Name(),
		UID:       req.UID,
		ProductID: product.ID,
		Frequency: req.Frequency,
		Trial:     trial,
		Raw:       result.Raw,
	}
	if _, err := s.intents.Create(intent); err != nil {
		return nil, internalErr("persist intent", err)
	}

	s.logger.Info("intent created",
		"intent_id", result.ID, "processor", adapter.Name(),
		"uid", req.UID, "product", product.ID, "trial", trial)

	return &CreateIntentResponse{ID: result.ID, URL: result.URL, Trial: trial}, nil
}

// createWithRetry calls the provider under a timeout, retrying transient
// failures a bounded number of times. Permanent failures surface on the
// first attempt.
func (s *IntentService) createWithRetry(ctx context.Context, adapter processor.Adapter, params processor.CreateIntentParams) (*processor.IntentResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()

	var result *processor.IntentResult
	backoff := retry.WithMaxRetries(s.maxRetries, retry.NewExponential(s.retryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		r, err := adapter.CreateIntent(ctx, params)
		if err != nil {
			if processor.IsTransient(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
