package domain

// Command is the closed set of outbound operations a client can send.
// Name is the wire event carried on the realtime channel; the REST
// fallback maps each command to its resource-oriented equivalent.
type Command interface {
	Name() string
}

type SendMessage struct {
	ChannelID ChannelID `json:"channelId"`
	Username  string    `json:"username"`
	Body      string    `json:"body"`
}

func (SendMessage) Name() string { return "send-message" }

type NewChannel struct {
	ChannelName string `json:"name"`
}

func (NewChannel) Name() string { return "new-channel" }

type RenameChannel struct {
	ID          ChannelID `json:"id"`
	ChannelName string    `json:"name"`
}

func (RenameChannel) Name() string { return "channel-renamed" }

type RemoveChannel struct {
	ID ChannelID `json:"id"`
}

func (RemoveChannel) Name() string { return "channel-removed" }
