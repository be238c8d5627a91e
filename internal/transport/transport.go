// Package transport defines the boundary between the engine and whatever
// delivers messages. The engine never sees provider formats, only Inbound
// events and a Sender.
package transport

import "context"

// Inbound is one user message delivered by the transport. Delivery is
// at-least-once; the engine deduplicates by (thread_id, timestamp).
type Inbound struct {
	ThreadID        string
	Text            string
	TimestampUnixMs int64

	// ContactName is best-effort display information, may be empty.
	ContactName string
	HasMedia    bool
}

// Sender pushes replies back out over the transport.
type Sender interface {
	SendText(ctx context.Context, threadID string, text string) error
	SendTyping(ctx context.Context, threadID string) error
}

// Listener receives transport events. OnHumanReply fires when a human
// operator replied on the thread directly, bypassing the engine.
type Listener interface {
	OnInbound(ev Inbound)
	OnHumanReply(threadID string)
}
