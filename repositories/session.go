// Package repositories holds the BadgerDB-backed durable client
// state: the persisted session record and a local cache of the last
// seen messages.
package repositories

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
)

// SessionRecord is the one persisted record of §durable storage: it
// survives reloads and is erased on logout.
type SessionRecord struct {
	Credential string `json:"credential"`
	Username   string `json:"username"`
}

const sessionKey = "session:current"

type SessionRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewSessionRepository(db *badger.DB, log *slog.Logger) SessionRepository {
	return SessionRepository{db: db, log: log}
}

func (r SessionRepository) Save(record SessionRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding session record: %w", err)
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(sessionKey), raw)
	})
}

// Load returns the stored record and whether one exists.
func (r SessionRepository) Load() (SessionRecord, bool, error) {
	var record SessionRecord
	found := false
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(sessionKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(value []byte) error {
			return json.Unmarshal(value, &record)
		})
	})
	if err != nil {
		return SessionRecord{}, false, err
	}
	return record, found, nil
}

// Clear erases the record; clearing an absent record is fine.
func (r SessionRepository) Clear() error {
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(sessionKey))
	})
}
