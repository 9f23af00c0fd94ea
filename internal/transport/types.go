package transport

import "context"

// Message is an inbound chat message, normalized away from any specific
// platform.
type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
}

// ChatTarget addresses an outbound send.
type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

// SendOptions tweaks one outbound message.
type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// MessageRef identifies a message the adapter has sent.
type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

// Adapter is the chat platform boundary. Start feeds inbound messages into
// out until Stop or context cancellation; SendText must be safe to call
// concurrently.
type Adapter interface {
	Start(ctx context.Context, out chan<- Message) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}
