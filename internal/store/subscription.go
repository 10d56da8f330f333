package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dukerupert/payline/internal/model"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx so projection writes can run
// inside the reconciler's transaction.
type dbtx interface {
	Exec(query string, args ...any) (sql.Result, error)
	QueryRow(query string, args ...any) *sql.Row
}

// SubscriptionStore is the processor-agnostic registry, one row per provider
// resource id. Writes are full-object overwrites of the unified subscription.
type SubscriptionStore struct {
	db *sql.DB
}

func NewSubscriptionStore(db *sql.DB) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

const subscriptionCols = `resource_id, uid, processor, subscription, raw, created, updated, updated_by`

func scanSubscriptionRecord(scanner interface{ Scan(...any) error }) (*model.SubscriptionRecord, error) {
	var rec model.SubscriptionRecord
	var subJSON string
	var raw sql.NullString
	err := scanner.Scan(
		&rec.ResourceID, &rec.UID, &rec.Processor, &subJSON, &raw,
		&rec.Metadata.Created, &rec.Metadata.Updated, &rec.Metadata.UpdatedBy,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(subJSON), &rec.Subscription); err != nil {
		return nil, fmt.Errorf("decode subscription: %w", err)
	}
	if raw.Valid {
		rec.Raw = json.RawMessage(raw.String)
	}
	return &rec, nil
}

// Upsert writes the full record for a resource id, creating it on first
// sight. updatedBy records the webhook event id that produced the write.
func (s *SubscriptionStore) Upsert(rec *model.SubscriptionRecord) error {
	return upsertSubscription(s.db, rec)
}

// UpsertTx is Upsert inside an existing transaction.
func (s *SubscriptionStore) UpsertTx(tx *sql.Tx, rec *model.SubscriptionRecord) error {
	return upsertSubscription(tx, rec)
}

func upsertSubscription(q dbtx, rec *model.SubscriptionRecord) error {
	subJSON, err := json.Marshal(rec.Subscription)
	if err != nil {
		return fmt.Errorf("encode subscription: %w", err)
	}
	var raw any
	if len(rec.Raw) > 0 {
		raw = string(rec.Raw)
	}
	now := time.Now().UTC()
	_, err = q.Exec(
		`INSERT INTO subscriptions (resource_id, uid, processor, subscription, raw, created, updated, updated_by)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (resource_id) DO UPDATE SET
		   uid = excluded.uid,
		   processor = excluded.processor,
		   subscription = excluded.subscription,
		   raw = excluded.raw,
		   updated = excluded.updated,
		   updated_by = excluded.updated_by`,
		rec.ResourceID, rec.UID, rec.Processor, string(subJSON), raw, now, now, rec.Metadata.UpdatedBy,
	)
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}

func (s *SubscriptionStore) GetByResourceID(resourceID string) (*model.SubscriptionRecord, error) {
	row := s.db.QueryRow(
		`SELECT `+subscriptionCols+` FROM subscriptions WHERE resource_id = ?`, resourceID,
	)
	rec, err := scanSubscriptionRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription record: %w", err)
	}
	return rec, nil
}

// ExistsForUser reports whether the registry holds any record for the uid,
// regardless of status. The intent service uses it for the lifetime
// one-trial-per-identity check.
func (s *SubscriptionStore) ExistsForUser(uid string) (bool, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM subscriptions WHERE uid = ?`, uid,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("count subscriptions for user: %w", err)
	}
	return count > 0, nil
}

func (s *SubscriptionStore) ListByUID(uid string) ([]*model.SubscriptionRecord, error) {
	rows, err := s.db.Query(
		`SELECT `+subscriptionCols+` FROM subscriptions WHERE uid = ? ORDER BY updated DESC`, uid,
	)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var recs []*model.SubscriptionRecord
	for rows.Next() {
		rec, err := scanSubscriptionRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription record: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
