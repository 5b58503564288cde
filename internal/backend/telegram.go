package backend

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"notirun/internal/bus"
	"notirun/internal/domain"
	"notirun/internal/payload"
)

const (
	telegramName      = "telegram"
	telegramMaxMsgLen = 4000
)

// Telegram talks to the operator through a bot in one chat.
type Telegram struct {
	bot     *tgbotapi.BotAPI
	chatID  int64
	address int64
	started time.Time
	inbox   *bus.Inbox
	logger  *slog.Logger

	cancel   context.CancelFunc
	stopOnce sync.Once
}

type TelegramConfig struct {
	Token   string
	Address int64 // authorized user id
	ChatID  int64
	Logger  *slog.Logger
}

// NewTelegram connects the bot and starts long polling. Messages sent before
// the backend started are ignored.
func NewTelegram(ctx context.Context, cfg TelegramConfig) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, domain.NewBackendError(telegramName, domain.ErrAuthorization, "bot login", err)
	}
	t := &Telegram{
		bot:     bot,
		chatID:  cfg.ChatID,
		address: cfg.Address,
		started: time.Now(),
		inbox:   bus.New(cfg.Logger),
		logger:  cfg.Logger,
	}
	t.logger.Info("telegram bot connected", "username", bot.Self.UserName, "chat_id", cfg.ChatID)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	pollCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	go t.poll(pollCtx, updates)

	return t, nil
}

func (t *Telegram) poll(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	defer t.inbox.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			t.handleUpdate(update)
		}
	}
}

func (t *Telegram) handleUpdate(update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil || msg.Chat.ID != t.chatID {
		return
	}
	if msg.From.ID != t.address {
		t.logger.Warn("ignoring message from unauthorized sender",
			"user_id", msg.From.ID,
			"username", msg.From.UserName,
		)
		return
	}
	sent := time.Unix(int64(msg.Date), 0)
	if sent.Before(t.started.Truncate(time.Second)) {
		t.logger.Debug("ignoring message sent before startup", "date", sent)
		return
	}
	if strings.TrimSpace(msg.Text) == "" {
		return
	}
	t.inbox.Publish(bus.Message{
		Sender:   strconv.FormatInt(msg.From.ID, 10),
		Body:     msg.Text,
		Received: sent,
	})
}

func (t *Telegram) Name() string { return telegramName }

func (t *Telegram) Send(ctx context.Context, msg domain.Sendable) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if text, ok := payload.Text(msg); ok {
		for _, chunk := range payload.Split(text, telegramMaxMsgLen) {
			if err := t.sendChunk(chunk); err != nil {
				return domain.NewBackendError(telegramName, domain.ErrSend, "send text", err)
			}
		}
		return nil
	}

	mime, filename, data, ok := domain.Attachment(msg)
	if !ok {
		return domain.NewBackendError(telegramName, domain.ErrSend, "unsupported message", nil)
	}
	file := tgbotapi.FileBytes{Name: filename, Bytes: data}
	var c tgbotapi.Chattable
	if strings.HasPrefix(mime, "image/") {
		c = tgbotapi.NewPhoto(t.chatID, file)
	} else {
		c = tgbotapi.NewDocument(t.chatID, file)
	}
	if _, err := t.bot.Send(c); err != nil {
		return domain.NewBackendError(telegramName, domain.ErrSend, "send "+filename, err)
	}
	return nil
}

// sendChunk tries Markdown first and falls back to plain text when Telegram
// rejects the entities.
func (t *Telegram) sendChunk(text string) error {
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	_, err := t.bot.Send(msg)
	if err == nil {
		return nil
	}
	if !strings.Contains(err.Error(), "can't parse entities") {
		return err
	}
	t.logger.Debug("telegram markdown rejected, sending plain text", "err", err)
	_, err = t.bot.Send(tgbotapi.NewMessage(t.chatID, text))
	return err
}

func (t *Telegram) Receive(ctx context.Context) (domain.ControlCommand, error) {
	return receiveChat(ctx, telegramName, t.inbox, t.logger)
}

// Close stops polling. StopReceivingUpdates panics when called twice.
func (t *Telegram) Close() error {
	t.stopOnce.Do(func() {
		t.cancel()
		t.bot.StopReceivingUpdates()
	})
	return nil
}
