package domain

// Message represents an immutable chat entry bound to a channel.
// Messages are deleted with their channel (cascade).
type Message struct {
	ID        int       `json:"id"`
	ChannelID ChannelID `json:"channelId"`
	Username  string    `json:"username"`
	Body      string    `json:"body"`
}
