package domain

import "context"

// Backend is a notification transport (email, Matrix, Telegram, ...).
// A Backend owns exactly one transport session and is not safe for use by
// more than one control loop at a time.
type Backend interface {
	Name() string

	// Send delivers one message. Calling it again after a failure may
	// produce duplicates; transports give no exactly-once guarantee.
	Send(ctx context.Context, msg Sendable) error

	// Receive blocks until one reply from the authorized sender is
	// available and returns it classified. Replies from anyone else are
	// logged and skipped.
	Receive(ctx context.Context) (ControlCommand, error)

	Close() error
}
