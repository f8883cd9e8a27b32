// Package domain contains core concepts of the chat client.
// Entities mirror the server of record and carry no behavior beyond
// identity; all state transitions live in the store package.
package domain

// ChannelID identifies a channel on the server of record.
type ChannelID int

// Channel is a named message partition. Removable is false for the
// permanent default channels, which can never be renamed or removed.
type Channel struct {
	ID        ChannelID `json:"id"`
	Name      string    `json:"name"`
	Removable bool      `json:"removable"`
}

// DefaultChannelID is the channel selection falls back to when the
// selected channel disappears. The server guarantees its existence as
// long as any channel exists.
const DefaultChannelID ChannelID = 1
