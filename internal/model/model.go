package model

import (
	"encoding/json"
	"time"
)

// Frequency is a billing interval.
type Frequency string

const (
	FrequencyMonthly  Frequency = "monthly"
	FrequencyAnnually Frequency = "annually"
)

func (f Frequency) Valid() bool {
	return f == FrequencyMonthly || f == FrequencyAnnually
}

// Intent records a requested purchase. It is written once at purchase time
// and never mutated by the pipeline; it exists for audit and tracing.
type Intent struct {
	ID        string          `json:"id"`
	Processor string          `json:"processor"`
	UID       string          `json:"uid"`
	Status    string          `json:"status"`
	ProductID string          `json:"product_id"`
	Frequency Frequency       `json:"frequency"`
	Trial     bool            `json:"trial"`
	Raw       json.RawMessage `json:"raw,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

const IntentStatusPending = "pending"

// Webhook event statuses. A record in processing or completed must never be
// reprocessed for the same event id; failed may be reopened by a re-delivery.
const (
	WebhookStatusPending    = "pending"
	WebhookStatusProcessing = "processing"
	WebhookStatusCompleted  = "completed"
	WebhookStatusFailed     = "failed"
)

// WebhookEvent is the durable record of one inbound processor notification.
// The provider event id is the global dedup key. Records are never deleted;
// the table doubles as the audit log and idempotency ledger.
type WebhookEvent struct {
	ID          string          `json:"id"`
	Processor   string          `json:"processor"`
	Status      string          `json:"status"`
	EventType   string          `json:"event_type"`
	Raw         json.RawMessage `json:"raw"`
	UID         *string         `json:"uid"`
	Error       *string         `json:"error"`
	ReceivedAt  time.Time       `json:"received_at"`
	ProcessedAt *time.Time      `json:"processed_at"`
}

// Canonical subscription statuses.
const (
	SubStatusActive    = "active"
	SubStatusTrialing  = "trialing"
	SubStatusSuspended = "suspended"
	SubStatusCancelled = "cancelled"
)

// UnifiedSubscription is the processor-agnostic subscription shape every
// adapter normalizes into. Adapters must produce it as a pure function of
// the raw provider payload and the catalog.
type UnifiedSubscription struct {
	Status       string          `json:"status"`
	Product      SubProduct      `json:"product"`
	Payment      SubPayment      `json:"payment"`
	Trial        SubTrial        `json:"trial"`
	Cancellation SubCancellation `json:"cancellation"`
	Expires      SubExpiry       `json:"expires"`
}

type SubProduct struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type SubPayment struct {
	Processor  string    `json:"processor"`
	Frequency  Frequency `json:"frequency"`
	ResourceID string    `json:"resource_id"`
	StartDate  time.Time `json:"start_date"`
}

type SubTrial struct {
	Claimed bool       `json:"claimed"`
	Expires *time.Time `json:"expires,omitempty"`
}

type SubCancellation struct {
	Pending bool       `json:"pending"`
	Date    *time.Time `json:"date,omitempty"`
}

type SubExpiry struct {
	Timestamp     time.Time `json:"timestamp"`
	TimestampUNIX int64     `json:"timestamp_unix"`
}

// Active reports whether the subscription grants privileged status.
func (s *UnifiedSubscription) Active() bool {
	return s.Status == SubStatusActive || s.Status == SubStatusTrialing
}

// SubscriptionRecord is the registry document, one per provider resource id.
// Many webhook events update one record over time.
type SubscriptionRecord struct {
	ResourceID   string              `json:"resource_id"`
	UID          string              `json:"uid"`
	Processor    string              `json:"processor"`
	Subscription UnifiedSubscription `json:"subscription"`
	Raw          json.RawMessage     `json:"raw"`
	Metadata     RecordMetadata      `json:"metadata"`
}

type RecordMetadata struct {
	Created   time.Time `json:"created"`
	Updated   time.Time `json:"updated"`
	UpdatedBy string    `json:"updated_by"`
}

// User carries the subscription projection used for authorization checks.
// The projection mirrors the most recently reconciled unified subscription.
type User struct {
	UID          string               `json:"uid"`
	Email        *string              `json:"email"`
	Subscription *UnifiedSubscription `json:"subscription"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}
