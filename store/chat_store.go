// Package store holds the canonical in-memory mirror of channels,
// messages and the current selection. It is the single source of
// truth for rendering; every change goes through a declared mutation
// and runs to completion under the lock.
package store

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/samber/lo"

	"chat-sync/domain"
)

// Status tracks the bootstrap lifecycle. It is the only interface the
// UI needs to render loading and error states.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusLoading   Status = "loading"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

type ChatStore struct {
	mu        sync.RWMutex
	channels  []domain.Channel
	messages  []domain.Message
	selection domain.ChannelID // 0 means no selection
	status    Status
	loadErr   error

	updated chan struct{}
	log     *slog.Logger
}

func New(log *slog.Logger) *ChatStore {
	return &ChatStore{
		status:  StatusIdle,
		updated: make(chan struct{}, 1),
		log:     log,
	}
}

// BeginLoad marks the bootstrap fetch as started.
func (s *ChatStore) BeginLoad() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusLoading
	s.loadErr = nil
	s.notify()
}

// FailLoad records a bootstrap failure. The store stays empty.
func (s *ChatStore) FailLoad(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusFailed
	s.loadErr = err
	s.notify()
}

// LoadSnapshot replaces the whole mirror, applied once after a
// successful bootstrap fetch. A zero selection falls back to the
// first channel. ctx is the bootstrap's: once a logout cancelled it,
// the stale snapshot is discarded and false returned. The check runs
// under the same lock Reset takes, and logout cancels before it
// resets, so a reset mirror can never be overwritten by a late fetch.
func (s *ChatStore) LoadSnapshot(ctx context.Context, channels []domain.Channel, messages []domain.Message, selection domain.ChannelID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ctx.Err() != nil {
		return false
	}
	s.channels = append([]domain.Channel(nil), channels...)
	s.messages = append([]domain.Message(nil), messages...)
	s.selection = selection
	if !s.hasChannel(s.selection) {
		s.selection = s.fallbackSelection()
	}
	s.status = StatusSucceeded
	s.loadErr = nil
	s.notify()
	return true
}

// AppendMessage appends idempotently: delivering the same message id
// twice (realtime push racing the fallback response) is a no-op.
func (s *ChatStore) AppendMessage(m domain.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lo.SomeBy(s.messages, func(existing domain.Message) bool {
		return existing.ID == m.ID
	}) {
		return false
	}
	s.messages = append(s.messages, m)
	s.notify()
	return true
}

// AddChannel inserts unless the id is already present, which makes
// duplicate delivery safe.
func (s *ChatStore) AddChannel(c domain.Channel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasChannel(c.ID) {
		return false
	}
	s.channels = append(s.channels, c)
	if s.selection == 0 {
		s.selection = c.ID
	}
	s.notify()
	return true
}

// RemoveChannel deletes the channel and cascade-deletes its messages.
// If it was selected, selection falls back to the default channel or
// the first remaining one.
func (s *ChatStore) RemoveChannel(id domain.ChannelID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasChannel(id) {
		s.log.Debug("Remove of unknown channel ignored", "id", int(id))
		return
	}
	s.channels = lo.Filter(s.channels, func(c domain.Channel, _ int) bool {
		return c.ID != id
	})
	s.messages = lo.Filter(s.messages, func(m domain.Message, _ int) bool {
		return m.ChannelID != id
	})
	if s.selection == id {
		s.selection = s.fallbackSelection()
	}
	s.notify()
}

// RenameChannel is a no-op when the channel is absent (it may already
// have been removed by a concurrent event).
func (s *ChatStore) RenameChannel(id domain.ChannelID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.channels {
		if s.channels[i].ID == id {
			s.channels[i].Name = name
			s.notify()
			return
		}
	}
}

// Select moves the selection to an existing channel. Selecting an
// unknown id is refused so the selection invariant holds.
func (s *ChatStore) Select(id domain.ChannelID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasChannel(id) {
		return false
	}
	s.selection = id
	s.notify()
	return true
}

// Reset empties the mirror, used on logout.
func (s *ChatStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.channels = nil
	s.messages = nil
	s.selection = 0
	s.status = StatusIdle
	s.loadErr = nil
	s.notify()
}

func (s *ChatStore) Channels() []domain.Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Channel(nil), s.channels...)
}

func (s *ChatStore) Channel(id domain.ChannelID) (domain.Channel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Find(s.channels, func(c domain.Channel) bool { return c.ID == id })
}

// Messages returns the messages of one channel, in insertion order.
func (s *ChatStore) Messages(id domain.ChannelID) []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Filter(s.messages, func(m domain.Message, _ int) bool {
		return m.ChannelID == id
	})
}

func (s *ChatStore) Selection() domain.ChannelID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selection
}

func (s *ChatStore) Status() (Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status, s.loadErr
}

// NameTaken reports whether a channel name is already in use,
// case-insensitively, excluding one channel (the one being renamed).
func (s *ChatStore) NameTaken(name string, exclude domain.ChannelID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return lo.SomeBy(s.channels, func(c domain.Channel) bool {
		return c.ID != exclude && strings.EqualFold(c.Name, name)
	})
}

// Updated exposes a coalescing change signal for render loops. The
// channel never closes and carries at most one pending tick.
func (s *ChatStore) Updated() <-chan struct{} {
	return s.updated
}

func (s *ChatStore) notify() {
	select {
	case s.updated <- struct{}{}:
	default:
	}
}

func (s *ChatStore) hasChannel(id domain.ChannelID) bool {
	return lo.SomeBy(s.channels, func(c domain.Channel) bool { return c.ID == id })
}

// fallbackSelection prefers the default channel, then the first
// remaining channel, and zero only when no channel exists.
func (s *ChatStore) fallbackSelection() domain.ChannelID {
	if s.hasChannel(domain.DefaultChannelID) {
		return domain.DefaultChannelID
	}
	if len(s.channels) > 0 {
		return s.channels[0].ID
	}
	return 0
}
