// Package reconcile applies server-originated events to the local
// mirror. It is the only bridge between transport-shaped payloads and
// store-shaped mutations: each inbound kind maps to exactly one
// mutation, with no business logic in between. Events referencing
// unknown targets are no-ops, never errors.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"chat-sync/contract"
	"chat-sync/domain"
	"chat-sync/domain/event"
	"chat-sync/moderation"
	"chat-sync/realtime"
)

// MessageSink receives every reconciled message, fire-and-forget
// (local cache, search index). Errors are logged, never propagated.
type MessageSink interface {
	Consume(ctx context.Context, m domain.Message) error
}

type Reconciler struct {
	pushes    <-chan realtime.Push
	store     contract.Mutations
	sanitizer *moderation.Sanitizer
	sinks     []MessageSink
	log       *slog.Logger
	running   atomic.Bool
}

func New(pushes <-chan realtime.Push, store contract.Mutations,
	sanitizer *moderation.Sanitizer, log *slog.Logger, sinks ...MessageSink) *Reconciler {
	return &Reconciler{
		pushes:    pushes,
		store:     store,
		sanitizer: sanitizer,
		sinks:     sinks,
		log:       log,
	}
}

// Run consumes the push stream until ctx is done. The stream survives
// reconnects, so one Run per reconciler is the whole subscription
// story; a second concurrent Run is refused to keep delivery
// at-most-once.
func (r *Reconciler) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return fmt.Errorf("reconciler already running")
	}
	defer r.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			r.log.Debug("Stopping reconciler")
			return ctx.Err()
		case push := <-r.pushes:
			evt, err := r.decode(push)
			if err != nil {
				r.log.Warn("Dropping undecodable push", "event", push.Event, "error", err)
				continue
			}
			r.apply(ctx, evt)
		}
	}
}

// decode turns a wire push into the closed event union.
func (r *Reconciler) decode(push realtime.Push) (event.Event, error) {
	switch push.Event {
	case event.NameNewMessage:
		var m domain.Message
		if err := json.Unmarshal(push.Payload, &m); err != nil {
			return nil, err
		}
		return event.NewMessage{Message: m}, nil
	case event.NameNewChannel:
		var c domain.Channel
		if err := json.Unmarshal(push.Payload, &c); err != nil {
			return nil, err
		}
		return event.NewChannel{Channel: c}, nil
	case event.NameChannelRemoved:
		var ref struct {
			ID domain.ChannelID `json:"id"`
		}
		if err := json.Unmarshal(push.Payload, &ref); err != nil {
			return nil, err
		}
		return event.ChannelRemoved{ID: ref.ID}, nil
	case event.NameChannelRenamed:
		var ref struct {
			ID   domain.ChannelID `json:"id"`
			Name string           `json:"name"`
		}
		if err := json.Unmarshal(push.Payload, &ref); err != nil {
			return nil, err
		}
		return event.ChannelRenamed{ID: ref.ID, Name: ref.Name}, nil
	default:
		return nil, fmt.Errorf("unknown event %q", push.Event)
	}
}

// apply maps one event to one store mutation. Inbound text is cleaned
// again in case an upstream client skipped sanitizing.
func (r *Reconciler) apply(ctx context.Context, evt event.Event) {
	switch e := evt.(type) {
	case event.NewMessage:
		m := e.Message
		m.Body = r.clean(m.Body)
		if r.store.AppendMessage(m) {
			r.fanout(ctx, m)
		}
	case event.NewChannel:
		c := e.Channel
		c.Name = r.clean(c.Name)
		r.store.AddChannel(c)
	case event.ChannelRemoved:
		r.store.RemoveChannel(e.ID)
	case event.ChannelRenamed:
		r.store.RenameChannel(e.ID, r.clean(e.Name))
	}
}

func (r *Reconciler) fanout(ctx context.Context, m domain.Message) {
	for _, sink := range r.sinks {
		if err := sink.Consume(ctx, m); err != nil {
			r.log.Debug("Message sink failed", "error", err)
		}
	}
}

func (r *Reconciler) clean(text string) string {
	if r.sanitizer == nil {
		return text
	}
	return r.sanitizer.Clean(text)
}
