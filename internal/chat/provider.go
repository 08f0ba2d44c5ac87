// Package chat implements the ChatBridge (spec §4.6): N provider
// adapters per instance deliver classified events to channels and
// source custom commands from deployment artifacts. One provider's
// failure never blocks delivery to the others.
package chat

import "context"

// Provider is a single chat backend's capability surface: deliver a
// message to one of its channels.
type Provider interface {
	ID() string
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Deliver(ctx context.Context, channelID, message string) error
}

// CommandHandler answers an inbound custom command with a reply, or an
// empty reply and a nil error if it isn't recognised.
type CommandHandler func(ctx context.Context, channelID, command string, args []string) (reply string, err error)

// CommandCapable is implemented by providers that receive inbound
// messages (full-duplex), as opposed to send-only ones.
type CommandCapable interface {
	Provider
	OnCommand(handler CommandHandler)
}
