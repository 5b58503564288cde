// Package loop drives one session: run the command, report the result, then
// react to operator replies until told to stop.
package loop

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"notirun/internal/domain"
	"notirun/internal/metrics"
	"notirun/internal/payload"
)

const (
	defaultRetryDelay = 30 * time.Second

	doneMessage    = "Done!"
	unknownMessage = "Unknown command: %s"
	noCatMessage   = "No cat today :("
)

// State is the control loop's position in the session.
type State string

const (
	StateIdle          State = "idle"
	StateRunning       State = "running"
	StateSending       State = "sending"
	StateAwaitingReply State = "awaiting_reply"
	StateTerminated    State = "terminated"
)

// Runner executes the operator's command.
type Runner interface {
	Run(ctx context.Context, command string) (domain.CommandResult, error)
}

// Loop owns the backend for the duration of a session.
type Loop struct {
	backend     domain.Backend
	runner      Runner
	command     string
	attachments []string
	catImage    string
	retryDelay  time.Duration
	sleep       func(context.Context, time.Duration) error
	logger      *slog.Logger

	mu    sync.Mutex
	state State
}

// Config holds the dependencies and tuning parameters for a Loop.
type Config struct {
	Backend     domain.Backend
	Runner      Runner
	Command     string
	Attachments []string // re-read before every send
	CatImage    string
	RetryDelay  time.Duration // default 30s
	Logger      *slog.Logger

	// Sleep waits before a send retry. Defaults to a context-aware timer.
	Sleep func(context.Context, time.Duration) error
}

func New(cfg Config) *Loop {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	return &Loop{
		backend:     cfg.Backend,
		runner:      cfg.Runner,
		command:     cfg.Command,
		attachments: cfg.Attachments,
		catImage:    cfg.CatImage,
		retryDelay:  cfg.RetryDelay,
		sleep:       cfg.Sleep,
		logger:      cfg.Logger,
		state:       StateIdle,
	}
}

// State returns the current state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	prev := l.state
	l.state = s
	l.mu.Unlock()

	if s == StateAwaitingReply {
		metrics.AwaitingReply.Set(1)
	} else if prev == StateAwaitingReply {
		metrics.AwaitingReply.Set(0)
	}
	l.logger.Debug("state change", "from", prev, "to", s)
}

// Run executes the session. It returns nil after the operator replies
// "done", and an error when the command cannot be started, a message cannot
// be delivered after one retry, the backend fails to receive or ctx ends.
func (l *Loop) Run(ctx context.Context) error {
	defer l.setState(StateTerminated)

	for {
		if err := l.runOnce(ctx); err != nil {
			return err
		}

	await:
		for {
			l.setState(StateAwaitingReply)
			cmd, err := l.backend.Receive(ctx)
			if err != nil {
				return fmt.Errorf("receive reply: %w", err)
			}
			metrics.RepliesTotal(string(cmd.Kind)).Inc()
			l.logger.Info("handling reply", "command", cmd.String())

			l.setState(StateSending)
			switch cmd.Kind {
			case domain.CommandRerun:
				break await
			case domain.CommandDone:
				return l.send(ctx, domain.Text{Body: doneMessage})
			case domain.CommandCat:
				if err := l.send(ctx, l.cat()); err != nil {
					return err
				}
			default:
				if err := l.send(ctx, domain.Text{Body: fmt.Sprintf(unknownMessage, cmd.Text)}); err != nil {
					return err
				}
			}
		}
	}
}

// runOnce runs the command and delivers the result followed by every
// attachment.
func (l *Loop) runOnce(ctx context.Context) error {
	l.setState(StateRunning)
	l.logger.Info("running command", "command", l.command)

	res, err := l.runner.Run(ctx, l.command)
	if err != nil {
		metrics.RunFailures.Inc()
		return err
	}
	metrics.RunsTotal.Inc()
	metrics.LastExitCode.Set(int64(res.ExitCode))
	metrics.CommandDuration.Observe(res.Elapsed.Seconds())
	l.logger.Info("command finished",
		"elapsed", res.Elapsed,
		"exit_code", res.ExitCode,
		"stdout_len", len(res.Stdout),
		"stderr_len", len(res.Stderr),
	)

	l.setState(StateSending)
	if err := l.send(ctx, payload.FromResult(res)); err != nil {
		return err
	}
	for _, path := range l.attachments {
		msg, err := payload.LoadFile(path)
		if err != nil {
			l.logger.Warn("attachment unreadable", "path", path, "err", err)
			msg = domain.Text{Body: fmt.Sprintf("Could not attach %s: %v", path, err)}
		}
		if err := l.send(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// send delivers msg, retrying exactly once after the retry delay.
func (l *Loop) send(ctx context.Context, msg domain.Sendable) error {
	err := l.backend.Send(ctx, msg)
	if err == nil {
		metrics.SendsTotal.Inc()
		return nil
	}
	metrics.SendFailures.Inc()
	if ctx.Err() != nil {
		return ctx.Err()
	}

	l.logger.Warn("send failed, retrying", "err", err, "delay", l.retryDelay)
	if err := l.sleep(ctx, l.retryDelay); err != nil {
		return err
	}

	if err := l.backend.Send(ctx, msg); err != nil {
		metrics.SendFailures.Inc()
		return fmt.Errorf("can't send results: %w", err)
	}
	metrics.SendsTotal.Inc()
	return nil
}

func (l *Loop) cat() domain.Sendable {
	msg, err := payload.LoadFile(l.catImage)
	if err != nil {
		l.logger.Warn("cat image unavailable", "path", l.catImage, "err", err)
		return domain.Text{Body: noCatMessage}
	}
	return msg
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
