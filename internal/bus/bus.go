// Package bus buffers inbound operator messages for push-style backends.
// The transport's event goroutine publishes into an Inbox and the control
// loop's Receive call waits on it.
package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrClosed is returned by Wait once the inbox has been closed.
var ErrClosed = errors.New("inbox closed")

// Message is one authorized inbound chat message.
type Message struct {
	Sender   string
	Body     string
	Received time.Time
}

// Inbox is a mutex-guarded buffer with a wake-up signal. It is owned by a
// single backend instance.
type Inbox struct {
	mu     sync.Mutex
	msgs   []Message
	notify chan struct{}
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

// New creates an empty inbox.
func New(logger *slog.Logger) *Inbox {
	return &Inbox{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Publish buffers msg and wakes a waiting receiver. Publishing to a closed
// inbox is a no-op.
func (b *Inbox) Publish(msg Message) {
	select {
	case <-b.done:
		b.logger.Warn("attempted to publish to closed inbox", "sender", msg.Sender)
		return
	default:
	}
	if msg.Received.IsZero() {
		msg.Received = time.Now()
	}

	b.mu.Lock()
	b.msgs = append(b.msgs, msg)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
		// A wake-up is already pending.
	}
}

// Wait blocks until at least one message is buffered, then returns the most
// recent one. Older buffered messages are superseded and discarded.
func (b *Inbox) Wait(ctx context.Context) (Message, error) {
	for {
		if msg, ok := b.take(); ok {
			return msg, nil
		}
		select {
		case <-b.notify:
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case <-b.done:
			return Message{}, ErrClosed
		}
	}
}

func (b *Inbox) take() (Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.msgs) == 0 {
		return Message{}, false
	}
	msg := b.msgs[len(b.msgs)-1]
	if stale := len(b.msgs) - 1; stale > 0 {
		b.logger.Info("discarding superseded messages", "count", stale)
	}
	b.msgs = b.msgs[:0]
	return msg, true
}

// Len returns the number of buffered messages.
func (b *Inbox) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.msgs)
}

// Close wakes all waiters with ErrClosed.
func (b *Inbox) Close() {
	b.once.Do(func() { close(b.done) })
}
