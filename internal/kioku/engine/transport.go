package engine

import (
	"context"
	"time"
)

// InboundMessage is one user message as delivered by a transport.
type InboundMessage struct {
	ChatID    string
	MessageID string // empty means the transport has no id; one is generated
	Text      string
	Timestamp time.Time // zero means "now"

	// ReplyToBot is set when the message replies to one of the bot's own
	// messages. It selects the direct humor mode.
	ReplyToBot bool
}

// Handler receives inbound messages from a transport. It must be safe to
// call from several goroutines.
type Handler func(ctx context.Context, msg InboundMessage)

// Transport connects the engine to a chat network.
type Transport interface {
	// Start begins delivering messages to h and returns once the transport
	// is running. Delivery stops when ctx is cancelled or Stop is called.
	Start(ctx context.Context, h Handler) error
	// Send posts text to a chat.
	Send(ctx context.Context, chatID, text string) error
	Stop()
}
