package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/dukerupert/payline/internal/model"
)

type IntentStore struct {
	db *sql.DB
}

func NewIntentStore(db *sql.DB) *IntentStore {
	return &IntentStore{db: db}
}

const intentCols = `id, processor, uid, status, product_id, frequency, trial, raw, created_at`

func scanIntent(scanner interface{ Scan(...any) error }) (*model.Intent, error) {
	var in model.Intent
	var trial int
	var raw sql.NullString
	err := scanner.Scan(
		&in.ID, &in.Processor, &in.UID, &in.Status, &in.ProductID,
		&in.Frequency, &trial, &raw, &in.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	in.Trial = trial != 0
	if raw.Valid {
		in.Raw = json.RawMessage(raw.String)
	}
	return &in, nil
}

func (s *IntentStore) Create(in *model.Intent) (*model.Intent, error) {
	var trial int
	if in.Trial {
		trial = 1
	}
	var raw any
	if len(in.Raw) > 0 {
		raw = string(in.Raw)
	}
	_, err := s.db.Exec(
		`INSERT INTO payment_intents (id, processor, uid, status, product_id, frequency, trial, raw)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ID, in.Processor, in.UID, model.IntentStatusPending, in.ProductID, in.Frequency, trial, raw,
	)
	if err != nil {
		return nil, fmt.Errorf("insert intent: %w", err)
	}
	return s.GetByID(in.ID)
}

func (s *IntentStore) GetByID(id string) (*model.Intent, error) {
	row := s.db.QueryRow(`SELECT `+intentCols+` FROM payment_intents WHERE id = ?`, id)
	in, err := scanIntent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get intent: %w", err)
	}
	return in, nil
}

func (s *IntentStore) ListByUID(uid string) ([]*model.Intent, error) {
	rows, err := s.db.Query(
		`SELECT `+intentCols+` FROM payment_intents WHERE uid = ? ORDER BY created_at DESC`, uid,
	)
	if err != nil {
		return nil, fmt.Errorf("list intents: %w", err)
	}
	defer rows.Close()

	var intents []*model.Intent
	for rows.Next() {
		in, err := scanIntent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan intent: %w", err)
		}
		intents = append(intents, in)
	}
	return intents, rows.Err()
}
