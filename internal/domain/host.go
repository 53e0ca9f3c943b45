package domain

import (
	"context"
	"errors"
)

// ErrChannelNotFound is returned by a TicketHost when a channel id does not resolve.
var ErrChannelNotFound = errors.New("channel not found")

// TicketHost is the chat platform the relocator runs against (Discord, or a fake in tests).
type TicketHost interface {
	// Channel looks a channel up by id. Returns ErrChannelNotFound when it is gone.
	Channel(ctx context.Context, id string) (*Channel, error)

	// CategoryExists reports whether id resolves to a category on the host.
	CategoryExists(ctx context.Context, id string) (bool, error)

	// MoveChannel places the channel under the given category.
	MoveChannel(ctx context.Context, channelID, categoryID string) error

	// History returns up to limit messages, newest first.
	History(ctx context.Context, channelID string, limit int) ([]Message, error)

	// IsTicket reports whether the channel is a support-ticket channel.
	IsTicket(ctx context.Context, ch Channel) (bool, error)
}

// ConfigStore is a scoped key-value store. Absence of a key is not an error.
type ConfigStore interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	EnsureDefaults(ctx context.Context, keys []string) error
	Keys(ctx context.Context) ([]string, error)
	Close() error
}
