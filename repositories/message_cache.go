package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"chat-sync/domain"
)

// MessageCache mirrors reconciled messages on disk so the client can
// show recent history while offline. It is a cache of the server of
// record, never an authority: the bootstrap snapshot always wins.
type MessageCache struct {
	db    *badger.DB
	log   *slog.Logger
	limit *int
}

func NewMessageCache(db *badger.DB, log *slog.Logger, limit *int) MessageCache {
	return MessageCache{db: db, log: log, limit: limit}
}

// key is formatted as "msg:{channel_id}:{timestamp_padded}:{id}" to:
//  1. Ensure chronological sorting using 19-digit zero padding
//     (lexicographical order).
//  2. Keep the message id as a collision disconnector if two messages
//     arrive at the same nanosecond.
func key(channelID domain.ChannelID, at time.Time, id int) []byte {
	return []byte(fmt.Sprintf("msg:%d:%019d:%d", channelID, at.UnixNano(), id))
}

func prefix(channelID domain.ChannelID) []byte {
	return []byte(fmt.Sprintf("msg:%d:", channelID))
}

func (c MessageCache) Store(m domain.Message, at time.Time) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding cached message: %w", err)
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(m.ChannelID, at, m.ID), raw)
	})
}

// Consume implements the reconciler's message sink.
func (c MessageCache) Consume(_ context.Context, m domain.Message) error {
	return c.Store(m, time.Now().UTC())
}

// Messages retrieves the cached messages of one channel using a
// prefix scan. Thanks to the padded timestamp in the key, they come
// back naturally sorted by arrival time. Collection stops once the
// configured limit is reached.
func (c MessageCache) Messages(channelID domain.ChannelID) ([]domain.Message, error) {
	var messages []domain.Message
	err := c.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		p := prefix(channelID)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			if c.limit != nil && len(messages) == *c.limit {
				c.log.Debug(fmt.Sprintf("Maximum of %d cached messages reached", *c.limit))
				break
			}
			err := it.Item().Value(func(value []byte) error {
				var m domain.Message
				if err := json.Unmarshal(value, &m); err != nil {
					return err
				}
				messages = append(messages, m)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return messages, err
}

// Purge drops a channel's cached messages, mirroring the store's
// cascade delete.
func (c MessageCache) Purge(channelID domain.ChannelID) error {
	var keys [][]byte
	err := c.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.PrefetchValues = false
		it := txn.NewIterator(options)
		defer it.Close()

		p := prefix(channelID)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}
