// Package event defines the closed set of server pushes the client
// reconciles into its local mirror. Each kind maps to exactly one
// store mutation; the reconciler switches over the union and the
// unexported marker keeps the set from growing elsewhere.
package event

import "chat-sync/domain"

// Wire names of the inbound pushes.
const (
	NameNewMessage     = "new-message"
	NameNewChannel     = "new-channel"
	NameChannelRemoved = "channel-removed"
	NameChannelRenamed = "channel-renamed"
)

type Event interface {
	isEvent()
}

type NewMessage struct {
	Message domain.Message
}

type NewChannel struct {
	Channel domain.Channel
}

type ChannelRemoved struct {
	ID domain.ChannelID
}

type ChannelRenamed struct {
	ID   domain.ChannelID
	Name string
}

func (NewMessage) isEvent()     {}
func (NewChannel) isEvent()     {}
func (ChannelRemoved) isEvent() {}
func (ChannelRenamed) isEvent() {}
