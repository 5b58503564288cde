package backend

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"notirun/internal/domain"
	"notirun/internal/reply"
)

const (
	emailName                = "email"
	emailDefaultPollInterval = 10 * time.Second
)

// Mailbox is the retrieval side of the email backend. Ids are opaque and
// stable for the lifetime of a message (IMAP UIDs, POP3 UIDL values).
type Mailbox interface {
	// Search returns the ids of messages whose sender matches address,
	// oldest first.
	Search(ctx context.Context, address string) ([]string, error)
	// Fetch returns the raw RFC 5322 message.
	Fetch(ctx context.Context, id string) ([]byte, error)
	// Delete removes the messages permanently.
	Delete(ctx context.Context, ids ...string) error
	Close() error
}

// Sender delivers a composed message.
type Sender interface {
	Send(ctx context.Context, from string, to []string, raw []byte) error
}

// Email notifies the operator by mail and polls a mailbox for replies.
type Email struct {
	address  string // operator
	from     string // account we send as
	sender   Sender
	mailbox  Mailbox
	interval time.Duration
	sleep    func(context.Context, time.Duration) error
	now      func() time.Time
	logger   *slog.Logger

	skipped map[string]bool // ids whose From did not match exactly
}

// EmailConfig configures an Email backend.
type EmailConfig struct {
	Address      string
	From         string
	Sender       Sender
	Mailbox      Mailbox
	PollInterval time.Duration
	Logger       *slog.Logger

	// Sleep waits between polls. Defaults to a context-aware timer.
	Sleep func(context.Context, time.Duration) error
}

// NewEmail builds the backend and deletes every message already waiting
// from the operator so stale replies are never acted on.
func NewEmail(ctx context.Context, cfg EmailConfig) (*Email, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = emailDefaultPollInterval
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	e := &Email{
		address:  cfg.Address,
		from:     cfg.From,
		sender:   cfg.Sender,
		mailbox:  cfg.Mailbox,
		interval: cfg.PollInterval,
		sleep:    cfg.Sleep,
		now:      time.Now,
		logger:   cfg.Logger,
		skipped:  make(map[string]bool),
	}

	stale, err := e.mailbox.Search(ctx, e.address)
	if err != nil {
		return nil, domain.NewBackendError(emailName, domain.ErrServer, "search existing replies", err)
	}
	if len(stale) > 0 {
		if err := e.mailbox.Delete(ctx, stale...); err != nil {
			return nil, domain.NewBackendError(emailName, domain.ErrServer, "delete existing replies", err)
		}
		e.logger.Info("deleted stale replies", "count", len(stale))
	}

	return e, nil
}

func (e *Email) Name() string { return emailName }

func (e *Email) Send(ctx context.Context, msg domain.Sendable) error {
	raw, err := composeEmail(e.from, e.address, msg, e.now())
	if err != nil {
		return domain.NewBackendError(emailName, domain.ErrSend, "compose message", err)
	}
	if err := e.sender.Send(ctx, e.from, []string{e.address}, raw); err != nil {
		return err
	}
	e.logger.Debug("email sent", "to", e.address, "bytes", len(raw))
	return nil
}

// Receive polls until a reply from the operator arrives, consumes it and
// returns it classified.
func (e *Email) Receive(ctx context.Context) (domain.ControlCommand, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.ControlCommand{}, err
		}

		ids, err := e.mailbox.Search(ctx, e.address)
		if err != nil {
			e.logger.Warn("mailbox search failed, retrying", "err", err, "backoff", e.interval)
			if err := e.sleep(ctx, e.interval); err != nil {
				return domain.ControlCommand{}, err
			}
			continue
		}

		id, ok := e.firstUnskipped(ids)
		if !ok {
			if err := e.sleep(ctx, e.interval); err != nil {
				return domain.ControlCommand{}, err
			}
			continue
		}

		raw, err := e.mailbox.Fetch(ctx, id)
		if err != nil {
			e.logger.Warn("fetch reply failed, retrying", "id", id, "err", err)
			if err := e.sleep(ctx, e.interval); err != nil {
				return domain.ControlCommand{}, err
			}
			continue
		}

		cmd, ok := e.consume(ctx, id, raw)
		if !ok {
			continue
		}
		return cmd, nil
	}
}

// consume parses one fetched message. ok is false when the message was not
// from the operator and has been set aside.
func (e *Email) consume(ctx context.Context, id string, raw []byte) (domain.ControlCommand, bool) {
	var cmd domain.ControlCommand

	parsed, err := reply.ParseEmail(raw)
	if parsed != nil && !reply.SameAddress(parsed.From, e.address) {
		e.logger.Warn("ignoring reply from unauthorized sender", "id", id, "from", parsed.From)
		e.skipped[id] = true
		return domain.ControlCommand{}, false
	}
	if err != nil {
		e.logger.Warn("unreadable reply", "id", id, "err", err)
		cmd = domain.Unknown(unreadableText(parsed, err))
	} else {
		cmd = reply.ClassifyEmail(parsed.Text)
	}

	if err := e.mailbox.Delete(ctx, id); err != nil {
		// Never act on the same reply twice.
		e.skipped[id] = true
		e.logger.Error("delete consumed reply failed", "id", id, "err", err)
	}
	e.logger.Info("reply received", "command", cmd.String())
	return cmd, true
}

// unreadableText describes a reply with no usable text so the operator can
// recognise which message it was.
func unreadableText(parsed *reply.Email, err error) string {
	if parsed != nil && parsed.Subject != "" {
		return fmt.Sprintf("%s [%v]", parsed.Subject, err)
	}
	return fmt.Sprintf("[%v]", err)
}

func (e *Email) firstUnskipped(ids []string) (string, bool) {
	for _, id := range ids {
		if !e.skipped[id] {
			return id, true
		}
	}
	return "", false
}

func (e *Email) Close() error {
	return e.mailbox.Close()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
