// Package dispatch translates user intents into outbound operations.
// The realtime channel is tried first with a bounded acknowledgment;
// when it is down, the ack times out, or the server reports transport
// trouble, the same operation is replayed over the stateless fallback.
// Callers always see exactly one outcome.
package dispatch

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"chat-sync/contract"
	"chat-sync/domain"
	"chat-sync/errors"
	"chat-sync/moderation"
	"chat-sync/realtime"
)

// Result carries the ack payload of a successful command (for a
// create, the server-assigned channel; for a message send, the stored
// message).
type Result struct {
	Data json.RawMessage
}

type Dispatcher struct {
	realtime   contract.Commander
	fallback   contract.Fallback
	tokens     contract.TokenSource
	notifier   contract.Notifier
	sanitizer  *moderation.Sanitizer
	ackTimeout time.Duration
	log        *slog.Logger
}

func New(rt contract.Commander, fb contract.Fallback, tokens contract.TokenSource,
	notifier contract.Notifier, sanitizer *moderation.Sanitizer,
	ackTimeout time.Duration, log *slog.Logger) *Dispatcher {
	if ackTimeout <= 0 {
		ackTimeout = 5 * time.Second
	}
	return &Dispatcher{
		realtime:   rt,
		fallback:   fb,
		tokens:     tokens,
		notifier:   notifier,
		sanitizer:  sanitizer,
		ackTimeout: ackTimeout,
		log:        log,
	}
}

// Dispatch sends one command and resolves it to a single outcome.
// Text carried by the command is sanitized first, so the sender sees
// cleaned content no matter which path delivered it.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd domain.Command) (Result, error) {
	cmd = d.sanitize(cmd)

	result, err := d.route(ctx, cmd)
	d.notify(cmd, err)
	return result, err
}

func (d *Dispatcher) route(ctx context.Context, cmd domain.Command) (Result, error) {
	if d.realtime.Status() != realtime.StatusConnected {
		return d.viaFallback(ctx, cmd)
	}

	ackCtx, cancel := context.WithTimeout(ctx, d.ackTimeout)
	defer cancel()
	ack, err := d.realtime.Send(ackCtx, cmd.Name(), cmd)
	switch {
	case err != nil:
		d.log.Debug("Realtime send failed, falling back", "command", cmd.Name(), "error", err)
		return d.viaFallback(ctx, cmd)
	case ack.OK():
		return Result{Data: ack.Data}, nil
	case ack.Retryable():
		d.log.Debug("Server reported transport trouble, falling back", "command", cmd.Name())
		return d.viaFallback(ctx, cmd)
	default:
		return Result{}, fmt.Errorf("%w: %s", errors.ErrRejected, ack.Error)
	}
}

// viaFallback replays the command over the stateless transport. A
// transport failure here means both paths are gone, which degrades to
// a generic connectivity failure.
func (d *Dispatcher) viaFallback(ctx context.Context, cmd domain.Command) (Result, error) {
	token, ok := d.tokens.Token()
	if !ok {
		return Result{}, errors.ErrNoSession
	}

	var payload any
	var err error
	switch c := cmd.(type) {
	case domain.SendMessage:
		payload, err = d.fallback.PostMessage(ctx, token,
			domain.Message{ChannelID: c.ChannelID, Username: c.Username, Body: c.Body})
	case domain.NewChannel:
		payload, err = d.fallback.CreateChannel(ctx, token, c.ChannelName)
	case domain.RenameChannel:
		payload, err = d.fallback.RenameChannel(ctx, token, c.ID, c.ChannelName)
	case domain.RemoveChannel:
		err = d.fallback.DeleteChannel(ctx, token, c.ID)
	default:
		return Result{}, fmt.Errorf("unknown command %q", cmd.Name())
	}

	if err != nil {
		if stderrors.Is(err, errors.ErrTransport) {
			return Result{}, fmt.Errorf("%w: %v", errors.ErrConnectivity, err)
		}
		return Result{}, err
	}
	if payload == nil {
		return Result{}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("encoding fallback result: %w", err)
	}
	return Result{Data: raw}, nil
}

// sanitize rewrites the user-entered text fields of a command.
func (d *Dispatcher) sanitize(cmd domain.Command) domain.Command {
	if d.sanitizer == nil {
		return cmd
	}
	switch c := cmd.(type) {
	case domain.SendMessage:
		c.Body = d.sanitizer.Clean(c.Body)
		return c
	case domain.NewChannel:
		c.ChannelName = d.sanitizer.Clean(c.ChannelName)
		return c
	case domain.RenameChannel:
		c.ChannelName = d.sanitizer.Clean(c.ChannelName)
		return c
	default:
		return cmd
	}
}

var outcomeText = map[string][2]string{
	"send-message":    {"Message sent", "Message not sent"},
	"new-channel":     {"Channel created", "Channel not created"},
	"channel-renamed": {"Channel renamed", "Channel not renamed"},
	"channel-removed": {"Channel removed", "Channel not removed"},
}

func (d *Dispatcher) notify(cmd domain.Command, err error) {
	if d.notifier == nil {
		return
	}
	texts := outcomeText[cmd.Name()]
	if err == nil {
		d.notifier.Success(texts[0])
		return
	}
	d.notifier.Failure(fmt.Sprintf("%s: %v", texts[1], err))
}
