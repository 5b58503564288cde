package backend

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"notirun/internal/bus"
	"notirun/internal/domain"
	"notirun/internal/payload"
)

const (
	slackName      = "slack"
	slackMaxMsgLen = 4000
)

// Slack talks to the operator in one channel over Socket Mode.
type Slack struct {
	client  *slack.Client
	socket  *socketmode.Client
	channel string
	address string
	botUID  string
	inbox   *bus.Inbox
	logger  *slog.Logger

	cancel    context.CancelFunc
	closeOnce sync.Once
}

// SlackConfig configures the Slack backend.
type SlackConfig struct {
	BotToken string
	AppToken string
	Address  string // authorized user id
	Channel  string
	Logger   *slog.Logger
}

// NewSlack authenticates and starts the Socket Mode event loop.
func NewSlack(ctx context.Context, cfg SlackConfig) (*Slack, error) {
	api := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))

	auth, err := api.AuthTestContext(ctx)
	if err != nil {
		return nil, domain.NewBackendError(slackName, domain.ErrAuthorization, "auth test", err)
	}

	s := &Slack{
		client:  api,
		socket:  socketmode.New(api),
		channel: cfg.Channel,
		address: cfg.Address,
		botUID:  auth.UserID,
		inbox:   bus.New(cfg.Logger),
		logger:  cfg.Logger,
	}
	s.logger.Info("slack bot connected", "user", auth.User, "user_id", auth.UserID, "channel", cfg.Channel)

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.dispatch(runCtx)
	go func() {
		if err := s.socket.RunContext(runCtx); err != nil && runCtx.Err() == nil {
			s.logger.Error("slack socket mode stopped", "err", err)
		}
		s.inbox.Close()
	}()

	return s, nil
}

func (s *Slack) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-s.socket.Events:
			if !ok {
				return
			}
			// Unacknowledged events make Slack drop the connection.
			if evt.Request != nil {
				s.socket.Ack(*evt.Request)
			}
			if evt.Type != socketmode.EventTypeEventsAPI {
				continue
			}
			apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
			if !ok || apiEvent.Type != slackevents.CallbackEvent {
				continue
			}
			if ev, ok := apiEvent.InnerEvent.Data.(*slackevents.MessageEvent); ok {
				s.handleMessage(ev)
			}
		}
	}
}

func (s *Slack) handleMessage(ev *slackevents.MessageEvent) {
	// Edits, joins and bot posts carry a subtype.
	if ev.Channel != s.channel || ev.User == "" || ev.User == s.botUID || ev.SubType != "" {
		return
	}
	if ev.User != s.address {
		s.logger.Warn("ignoring message from unauthorized sender", "user", ev.User)
		return
	}
	s.inbox.Publish(bus.Message{
		Sender:   ev.User,
		Body:     ev.Text,
		Received: time.Now(),
	})
}

func (s *Slack) Name() string { return slackName }

func (s *Slack) Send(ctx context.Context, msg domain.Sendable) error {
	if text, ok := payload.Text(msg); ok {
		for _, chunk := range payload.Split(text, slackMaxMsgLen) {
			_, _, err := s.client.PostMessageContext(ctx, s.channel, slack.MsgOptionText(chunk, false))
			if err != nil {
				return domain.NewBackendError(slackName, domain.ErrSend, "post message", err)
			}
		}
		return nil
	}

	_, filename, data, ok := domain.Attachment(msg)
	if !ok {
		return domain.NewBackendError(slackName, domain.ErrSend, "unsupported message", nil)
	}
	_, err := s.client.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
		Channel:  s.channel,
		Filename: filename,
		Title:    filename,
		FileSize: len(data),
		Reader:   bytes.NewReader(data),
	})
	if err != nil {
		return domain.NewBackendError(slackName, domain.ErrSend, "upload "+filename, err)
	}
	return nil
}

func (s *Slack) Receive(ctx context.Context) (domain.ControlCommand, error) {
	return receiveChat(ctx, slackName, s.inbox, s.logger)
}

func (s *Slack) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.inbox.Close()
	})
	return nil
}
