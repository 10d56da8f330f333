package store

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/dukerupert/payline/internal/model"
)

func newTestRecord(resourceID, uid, eventID string) *model.SubscriptionRecord {
	return &model.SubscriptionRecord{
		ResourceID: resourceID,
		UID:        uid,
		Processor:  "test",
		Subscription: model.UnifiedSubscription{
			Status:  model.SubStatusActive,
			Product: model.SubProduct{ID: "pro", Name: "Pro"},
			Payment: model.SubPayment{
				Processor:  "test",
				Frequency:  model.FrequencyMonthly,
				ResourceID: resourceID,
			},
		},
		Raw:      json.RawMessage(`{}`),
		Metadata: model.RecordMetadata{UpdatedBy: eventID},
	}
}

func TestSubscriptionUpsertCreates(t *testing.T) {
	s := NewSubscriptionStore(setupTestDB(t))

	if err := s.Upsert(newTestRecord("sub_1", "user-1", "evt-1")); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	rec, err := s.GetByResourceID("sub_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec == nil {
		t.Fatal("expected record, got nil")
	}
	if rec.UID != "user-1" {
		t.Errorf("uid = %q, want user-1", rec.UID)
	}
	if rec.Subscription.Status != model.SubStatusActive {
		t.Errorf("status = %q, want active", rec.Subscription.Status)
	}
	if rec.Metadata.UpdatedBy != "evt-1" {
		t.Errorf("updated_by = %q, want evt-1", rec.Metadata.UpdatedBy)
	}
}

func TestSubscriptionUpsertOverwrites(t *testing.T) {
	s := NewSubscriptionStore(setupTestDB(t))

	if err := s.Upsert(newTestRecord("sub_1", "user-1", "evt-1")); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	first, _ := s.GetByResourceID("sub_1")

	time.Sleep(5 * time.Millisecond)

	rec := newTestRecord("sub_1", "user-1", "evt-2")
	rec.Subscription.Status = model.SubStatusSuspended
	if err := s.Upsert(rec); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, _ := s.GetByResourceID("sub_1")
	if got.Subscription.Status != model.SubStatusSuspended {
		t.Errorf("status = %q, want suspended", got.Subscription.Status)
	}
	if got.Metadata.UpdatedBy != "evt-2" {
		t.Errorf("updated_by = %q, want evt-2", got.Metadata.UpdatedBy)
	}
	if !got.Metadata.Updated.After(first.Metadata.Updated) {
		t.Error("expected updated timestamp to advance")
	}
}

func TestSubscriptionGetNotFound(t *testing.T) {
	s := NewSubscriptionStore(setupTestDB(t))

	rec, err := s.GetByResourceID("nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec != nil {
		t.Error("expected nil for nonexistent resource id")
	}
}

func TestSubscriptionExistsForUser(t *testing.T) {
	s := NewSubscriptionStore(setupTestDB(t))

	exists, err := s.ExistsForUser("user-1")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if exists {
		t.Error("expected no records for fresh user")
	}

	rec := newTestRecord("sub_1", "user-1", "evt-1")
	rec.Subscription.Status = model.SubStatusCancelled
	if err := s.Upsert(rec); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// Status does not matter: any history counts.
	exists, err = s.ExistsForUser("user-1")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if !exists {
		t.Error("expected history for user-1")
	}
}

func TestSubscriptionListByUID(t *testing.T) {
	s := NewSubscriptionStore(setupTestDB(t))

	if err := s.Upsert(newTestRecord("sub_1", "user-1", "evt-1")); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.Upsert(newTestRecord("sub_2", "user-1", "evt-2")); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	recs, err := s.ListByUID("user-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("len = %d, want 2", len(recs))
	}
}
