// Package validation enforces the local constraints on channel names
// before a command is dispatched. All checks run synchronously against
// the current mirror; the server stays authoritative and may still
// reject a race between two clients.
package validation

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"chat-sync/domain"
)

// Field-level rule errors, surfaced next to the input that caused them.
var (
	ErrNameRequired     = fmt.Errorf("channel name is required")
	ErrNameLength       = fmt.Errorf("channel name must be 3 to 20 characters")
	ErrNameTaken        = fmt.Errorf("channel name is already in use")
	ErrPermanentChannel = fmt.Errorf("default channels cannot be changed")
)

var validate = validator.New()

// ChannelNames is the slice of the store the engine needs: a
// case-insensitive uniqueness check with one excluded channel.
type ChannelNames interface {
	NameTaken(name string, exclude domain.ChannelID) bool
}

// ChannelName trims and validates a proposed channel name. For a
// rename, exclude carries the id of the channel being renamed so it
// does not collide with itself; for a create it is zero. Returns the
// trimmed name to dispatch.
func ChannelName(name string, exclude domain.ChannelID, names ChannelNames) (string, error) {
	trimmed := strings.TrimSpace(name)
	if err := validate.Var(trimmed, "required"); err != nil {
		return "", ErrNameRequired
	}
	if err := validate.Var(trimmed, "min=3,max=20"); err != nil {
		return "", ErrNameLength
	}
	if names.NameTaken(trimmed, exclude) {
		return "", ErrNameTaken
	}
	return trimmed, nil
}

// Mutable rejects rename/remove of the permanent default channels.
func Mutable(c domain.Channel) error {
	if !c.Removable {
		return ErrPermanentChannel
	}
	return nil
}
