package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dukerupert/payline/internal/model"
)

// WebhookEventStore is the dedup ledger and audit log for inbound processor
// notifications. Rows are inserted by the receiver and mutated only by the
// reconciler; nothing deletes them.
type WebhookEventStore struct {
	db *sql.DB
}

func NewWebhookEventStore(db *sql.DB) *WebhookEventStore {
	return &WebhookEventStore{db: db}
}

const webhookEventCols = `id, processor, status, event_type, raw, uid, error, received_at, processed_at`

func scanWebhookEvent(scanner interface{ Scan(...any) error }) (*model.WebhookEvent, error) {
	var evt model.WebhookEvent
	var raw string
	var uid, errMsg sql.NullString
	var processedAt sql.NullTime
	err := scanner.Scan(
		&evt.ID, &evt.Processor, &evt.Status, &evt.EventType, &raw,
		&uid, &errMsg, &evt.ReceivedAt, &processedAt,
	)
	if err != nil {
		return nil, err
	}
	evt.Raw = json.RawMessage(raw)
	if uid.Valid {
		evt.UID = &uid.String
	}
	if errMsg.Valid {
		evt.Error = &errMsg.String
	}
	if processedAt.Valid {
		t := processedAt.Time
		evt.ProcessedAt = &t
	}
	return &evt, nil
}

func (s *WebhookEventStore) Create(evt *model.WebhookEvent) (*model.WebhookEvent, error) {
	var uid any
	if evt.UID != nil {
		uid = *evt.UID
	}
	_, err := s.db.Exec(
		`INSERT INTO webhook_events (id, processor, status, event_type, raw, uid)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		evt.ID, evt.Processor, model.WebhookStatusPending, evt.EventType, string(evt.Raw), uid,
	)
	if err != nil {
		return nil, fmt.Errorf("insert webhook event: %w", err)
	}
	return s.GetByID(evt.ID)
}

func (s *WebhookEventStore) GetByID(id string) (*model.WebhookEvent, error) {
	row := s.db.QueryRow(`SELECT `+webhookEventCols+` FROM webhook_events WHERE id = ?`, id)
	evt, err := scanWebhookEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get webhook event: %w", err)
	}
	return evt, nil
}

// ClaimPending transitions the event from pending to processing and reports
// whether this caller won the claim. The conditional update makes the claim
// a compare-and-set, so concurrent triggers for the same id cannot both win.
func (s *WebhookEventStore) ClaimPending(id string) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE webhook_events SET status = ? WHERE id = ? AND status = ?`,
		model.WebhookStatusProcessing, id, model.WebhookStatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("claim webhook event: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim webhook event rows: %w", err)
	}
	return n == 1, nil
}

func (s *WebhookEventStore) MarkCompleted(id string, uid string) error {
	return markCompleted(s.db, id, uid)
}

// MarkCompletedTx is MarkCompleted inside the reconciler's projection
// transaction.
func (s *WebhookEventStore) MarkCompletedTx(tx *sql.Tx, id string, uid string) error {
	return markCompleted(tx, id, uid)
}

func markCompleted(q dbtx, id string, uid string) error {
	_, err := q.Exec(
		`UPDATE webhook_events SET status = ?, uid = ?, error = NULL, processed_at = ? WHERE id = ?`,
		model.WebhookStatusCompleted, uid, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("mark webhook event completed: %w", err)
	}
	return nil
}

func (s *WebhookEventStore) MarkFailed(id string, message string) error {
	_, err := s.db.Exec(
		`UPDATE webhook_events SET status = ?, error = ?, processed_at = ? WHERE id = ?`,
		model.WebhookStatusFailed, message, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("mark webhook event failed: %w", err)
	}
	return nil
}

// Reopen overwrites a failed record with a fresh delivery of the same event
// id and puts it back in pending. It refuses to touch any other status.
func (s *WebhookEventStore) Reopen(evt *model.WebhookEvent) (bool, error) {
	var uid any
	if evt.UID != nil {
		uid = *evt.UID
	}
	result, err := s.db.Exec(
		`UPDATE webhook_events
		 SET status = ?, event_type = ?, raw = ?, uid = ?, error = NULL, processed_at = NULL, received_at = ?
		 WHERE id = ? AND status = ?`,
		model.WebhookStatusPending, evt.EventType, string(evt.Raw), uid, time.Now().UTC(),
		evt.ID, model.WebhookStatusFailed,
	)
	if err != nil {
		return false, fmt.Errorf("reopen webhook event: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reopen webhook event rows: %w", err)
	}
	return n == 1, nil
}

func (s *WebhookEventStore) ListPending(limit int) ([]*model.WebhookEvent, error) {
	rows, err := s.db.Query(
		`SELECT `+webhookEventCols+` FROM webhook_events WHERE status = ? ORDER BY received_at LIMIT ?`,
		model.WebhookStatusPending, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending webhook events: %w", err)
	}
	defer rows.Close()

	var events []*model.WebhookEvent
	for rows.Next() {
		evt, err := scanWebhookEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook event: %w", err)
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

// ListSettledBefore returns completed and failed events processed before the
// cutoff, oldest first. Used by the archive exporter.
func (s *WebhookEventStore) ListSettledBefore(cutoff time.Time, after time.Time, limit int) ([]*model.WebhookEvent, error) {
	rows, err := s.db.Query(
		`SELECT `+webhookEventCols+` FROM webhook_events
		 WHERE status IN (?, ?) AND processed_at < ? AND processed_at > ?
		 ORDER BY processed_at LIMIT ?`,
		model.WebhookStatusCompleted, model.WebhookStatusFailed, cutoff, after, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list settled webhook events: %w", err)
	}
	defer rows.Close()

	var events []*model.WebhookEvent
	for rows.Next() {
		evt, err := scanWebhookEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook event: %w", err)
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}
