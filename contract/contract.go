//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"

	"chat-sync/domain"
	"chat-sync/realtime"
)

// Commander is the realtime side of the dispatcher's routing: command
// emission with a correlated ack, plus the status that gates it.
type Commander interface {
	Send(ctx context.Context, event string, payload any) (realtime.Ack, error)
	Status() realtime.Status
}

// Fallback is the stateless transport the dispatcher falls back to.
type Fallback interface {
	CreateChannel(ctx context.Context, token, name string) (domain.Channel, error)
	RenameChannel(ctx context.Context, token string, id domain.ChannelID, name string) (domain.Channel, error)
	DeleteChannel(ctx context.Context, token string, id domain.ChannelID) error
	PostMessage(ctx context.Context, token string, m domain.Message) (domain.Message, error)
}

// TokenSource exposes the current credential without handing out the
// session itself.
type TokenSource interface {
	Token() (string, bool)
}

// Notifier is the toast-style UI sink. Calls are fire-and-forget and
// must never block the dispatcher.
type Notifier interface {
	Success(text string)
	Failure(text string)
}

// Mutations is the slice of the chat store the reconciler writes to.
type Mutations interface {
	AppendMessage(m domain.Message) bool
	AddChannel(c domain.Channel) bool
	RemoveChannel(id domain.ChannelID)
	RenameChannel(id domain.ChannelID, name string)
}
