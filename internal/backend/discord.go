package backend

import (
	"bytes"
	"context"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"notirun/internal/bus"
	"notirun/internal/domain"
	"notirun/internal/payload"
)

const (
	discordName      = "discord"
	discordMaxMsgLen = 2000
)

// Discord talks to the operator in one channel through a bot session.
type Discord struct {
	session *discordgo.Session
	channel string
	address string
	selfID  string
	inbox   *bus.Inbox
	logger  *slog.Logger
}

// DiscordConfig configures the Discord backend.
type DiscordConfig struct {
	Token   string
	Address string // authorized user id
	Channel string
	Logger  *slog.Logger
}

// NewDiscord opens the gateway connection.
func NewDiscord(cfg DiscordConfig) (*Discord, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, domain.NewBackendError(discordName, domain.ErrInitialization, "create session", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent

	d := &Discord{
		session: session,
		channel: cfg.Channel,
		address: cfg.Address,
		inbox:   bus.New(cfg.Logger),
		logger:  cfg.Logger,
	}
	session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		d.handleMessage(m)
	})
	session.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		d.logger.Warn("discord gateway disconnected")
	})

	if err := session.Open(); err != nil {
		return nil, domain.NewBackendError(discordName, domain.ErrServer, "connect to gateway", err)
	}
	if session.State != nil && session.State.User != nil {
		d.selfID = session.State.User.ID
		d.logger.Info("discord bot connected", "user", session.State.User.Username, "channel", cfg.Channel)
	}
	return d, nil
}

func (d *Discord) handleMessage(m *discordgo.MessageCreate) {
	if m.Author == nil || m.ChannelID != d.channel || m.Author.ID == d.selfID {
		return
	}
	if m.Author.ID != d.address {
		d.logger.Warn("ignoring message from unauthorized sender", "author", m.Author.Username, "id", m.Author.ID)
		return
	}
	d.inbox.Publish(bus.Message{
		Sender:   m.Author.ID,
		Body:     m.Content,
		Received: time.Now(),
	})
}

func (d *Discord) Name() string { return discordName }

func (d *Discord) Send(ctx context.Context, msg domain.Sendable) error {
	if text, ok := payload.Text(msg); ok {
		for _, chunk := range payload.Split(text, discordMaxMsgLen) {
			if _, err := d.session.ChannelMessageSend(d.channel, chunk, discordgo.WithContext(ctx)); err != nil {
				return domain.NewBackendError(discordName, domain.ErrSend, "send text", err)
			}
		}
		return nil
	}

	_, filename, data, ok := domain.Attachment(msg)
	if !ok {
		return domain.NewBackendError(discordName, domain.ErrSend, "unsupported message", nil)
	}
	if _, err := d.session.ChannelFileSend(d.channel, filename, bytes.NewReader(data), discordgo.WithContext(ctx)); err != nil {
		return domain.NewBackendError(discordName, domain.ErrSend, "send "+filename, err)
	}
	return nil
}

func (d *Discord) Receive(ctx context.Context) (domain.ControlCommand, error) {
	return receiveChat(ctx, discordName, d.inbox, d.logger)
}

func (d *Discord) Close() error {
	d.inbox.Close()
	return d.session.Close()
}
