// Package backend implements the notification transports: email (SMTP out,
// IMAP or POP3 in), Matrix, Telegram, Discord and Slack.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"notirun/internal/config"
	"notirun/internal/domain"
)

// Constructor creates a connected backend from config.
type Constructor func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (domain.Backend, error)

// Factory creates backends by name.
type Factory struct {
	cfg          *config.Config
	logger       *slog.Logger
	constructors map[string]Constructor
	mu           sync.RWMutex
}

// NewFactory creates a factory with the built-in constructors registered.
func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	f := &Factory{
		cfg:          cfg,
		logger:       logger,
		constructors: make(map[string]Constructor),
	}
	f.registerDefaults()
	return f
}

// RegisterConstructor adds (or replaces) a backend constructor by name.
func (f *Factory) RegisterConstructor(name string, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[name] = ctor
}

// Names returns the registered backend names, sorted.
func (f *Factory) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.constructors))
	for name := range f.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create validates the named backend's config section and connects it.
func (f *Factory) Create(ctx context.Context, name string) (domain.Backend, error) {
	f.mu.RLock()
	ctor, ok := f.constructors[name]
	f.mu.RUnlock()
	if !ok {
		return nil, domain.NewBackendError(name, domain.ErrInitialization, fmt.Sprintf("unknown backend (supported: %v)", f.Names()), nil)
	}

	if err := config.ValidateBackend(f.cfg, name); err != nil {
		return nil, domain.NewBackendError(name, domain.ErrInitialization, "incomplete config section", err)
	}

	logger := f.logger.With("backend", name)
	b, err := ctor(ctx, f.cfg, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("backend ready")
	return b, nil
}

func (f *Factory) registerDefaults() {
	f.constructors[config.BackendEmail] = newEmailFromConfig

	f.constructors[config.BackendMatrix] = func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (domain.Backend, error) {
		mc := cfg.Matrix
		return NewMatrix(ctx, MatrixConfig{
			Address:    mc.Address,
			Username:   mc.Username,
			Password:   mc.Password,
			Room:       mc.Room,
			Homeserver: mc.Homeserver,
			Logger:     logger,
		})
	}

	f.constructors[config.BackendTelegram] = func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (domain.Backend, error) {
		tc := cfg.Telegram
		return NewTelegram(ctx, TelegramConfig{Token: tc.Token, Address: tc.Address, ChatID: tc.ChatID, Logger: logger})
	}

	f.constructors[config.BackendDiscord] = func(_ context.Context, cfg *config.Config, logger *slog.Logger) (domain.Backend, error) {
		dc := cfg.Discord
		return NewDiscord(DiscordConfig{Token: dc.Token, Address: dc.Address, Channel: dc.Channel, Logger: logger})
	}

	f.constructors[config.BackendSlack] = func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (domain.Backend, error) {
		sc := cfg.Slack
		return NewSlack(ctx, SlackConfig{
			BotToken: sc.BotToken,
			AppToken: sc.AppToken,
			Address:  sc.Address,
			Channel:  sc.Channel,
			Logger:   logger,
		})
	}
}

func newEmailFromConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger) (domain.Backend, error) {
	ec := cfg.Email

	var (
		mailbox Mailbox
		err     error
	)
	switch ec.MailProtocol() {
	case config.ProtocolPOP3:
		mailbox, err = DialPOP3(POP3Config{
			Server:   ec.POPServer,
			Port:     ec.POPPort,
			Username: ec.Username,
			Password: ec.Password,
			Logger:   logger,
		})
	default:
		mailbox, err = DialIMAP(IMAPConfig{
			Server:   ec.IMAPServer,
			Port:     ec.IMAPPort,
			Username: ec.Username,
			Password: ec.Password,
			Logger:   logger,
		})
	}
	if err != nil {
		return nil, err
	}

	e, err := NewEmail(ctx, EmailConfig{
		Address: ec.Address,
		From:    ec.Username,
		Sender: NewSMTP(SMTPConfig{
			Server:   ec.SMTPServer,
			Port:     ec.SMTPPort,
			Username: ec.Username,
			Password: ec.Password,
			Logger:   logger,
		}),
		Mailbox:      mailbox,
		PollInterval: time.Duration(ec.PollIntervalSeconds) * time.Second,
		Logger:       logger,
	})
	if err != nil {
		mailbox.Close()
		return nil, err
	}
	return e, nil
}
