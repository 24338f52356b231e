// Package channels abstracts the messaging side of the bridge. The concrete
// implementation talks to an external bridge daemon; pairing (QR / numeric
// code) is that daemon's responsibility.
package channels

import "context"

// Channel is the transport the bridge relays messages over.
type Channel interface {
	// Name returns the channel identifier (e.g. "signal").
	Name() string

	// Start begins listening for messages. Non-blocking after setup.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the channel.
	Stop(ctx context.Context) error

	// Send delivers text to a conversation and returns the outgoing
	// message identifier assigned by the channel.
	Send(ctx context.Context, chatID, text string) (string, error)

	// IsRunning reports whether the channel is actively processing.
	IsRunning() bool
}
