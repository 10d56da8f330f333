package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dukerupert/payline/internal/model"
)

type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

const userCols = `uid, email, subscription, created_at, updated_at`

func scanUser(scanner interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	var email, subJSON sql.NullString
	err := scanner.Scan(&u.UID, &email, &subJSON, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if email.Valid {
		u.Email = &email.String
	}
	if subJSON.Valid && subJSON.String != "" {
		var sub model.UnifiedSubscription
		if err := json.Unmarshal([]byte(subJSON.String), &sub); err != nil {
			return nil, fmt.Errorf("decode user subscription: %w", err)
		}
		u.Subscription = &sub
	}
	return &u, nil
}

// Ensure creates the user row if it does not exist and returns it.
func (s *UserStore) Ensure(uid string) (*model.User, error) {
	_, err := s.db.Exec(
		`INSERT INTO users (uid) VALUES (?) ON CONFLICT (uid) DO NOTHING`, uid,
	)
	if err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	return s.GetByID(uid)
}

func (s *UserStore) GetByID(uid string) (*model.User, error) {
	row := s.db.QueryRow(`SELECT `+userCols+` FROM users WHERE uid = ?`, uid)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// UpdateSubscription overwrites the embedded projection with the reconciled
// unified subscription. The row is created if the uid has never been seen;
// webhooks can land before any authenticated request for the user.
func (s *UserStore) UpdateSubscription(uid string, sub *model.UnifiedSubscription) error {
	return updateUserSubscription(s.db, uid, sub)
}

// UpdateSubscriptionTx is UpdateSubscription inside an existing transaction.
func (s *UserStore) UpdateSubscriptionTx(tx *sql.Tx, uid string, sub *model.UnifiedSubscription) error {
	return updateUserSubscription(tx, uid, sub)
}

func updateUserSubscription(q dbtx, uid string, sub *model.UnifiedSubscription) error {
	subJSON, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("encode subscription: %w", err)
	}
	now := time.Now().UTC()
	_, err = q.Exec(
		`INSERT INTO users (uid, subscription, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (uid) DO UPDATE SET subscription = excluded.subscription, updated_at = excluded.updated_at`,
		uid, string(subJSON), now,
	)
	if err != nil {
		return fmt.Errorf("update user subscription: %w", err)
	}
	return nil
}

func (s *UserStore) ClearSubscription(uid string) error {
	_, err := s.db.Exec(
		`UPDATE users SET subscription = NULL, updated_at = ? WHERE uid = ?`,
		time.Now().UTC(), uid,
	)
	if err != nil {
		return fmt.Errorf("clear user subscription: %w", err)
	}
	return nil
}
