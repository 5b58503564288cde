package backend

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"notirun/internal/config"
	"notirun/internal/domain"
)

type stubBackend struct{ name string }

func (s *stubBackend) Name() string                                { return s.name }
func (s *stubBackend) Send(context.Context, domain.Sendable) error { return nil }
func (s *stubBackend) Close() error                                { return nil }

func (s *stubBackend) Receive(context.Context) (domain.ControlCommand, error) {
	return domain.Done, nil
}

func TestFactory_RegistersBuiltins(t *testing.T) {
	f := NewFactory(config.Defaults(), testLogger())
	names := f.Names()
	if len(names) != len(config.BackendNames) {
		t.Fatalf("expected %d backends, got %v", len(config.BackendNames), names)
	}
}

func TestFactory_UnknownBackend(t *testing.T) {
	f := NewFactory(config.Defaults(), testLogger())
	_, err := f.Create(context.Background(), "fax")
	if !domain.IsKind(err, domain.ErrInitialization) {
		t.Fatalf("expected initialization error, got %v", err)
	}
}

func TestFactory_IncompleteSectionFailsBeforeConnecting(t *testing.T) {
	f := NewFactory(config.Defaults(), testLogger())
	called := false
	f.RegisterConstructor(config.BackendMatrix, func(context.Context, *config.Config, *slog.Logger) (domain.Backend, error) {
		called = true
		return &stubBackend{name: config.BackendMatrix}, nil
	})

	_, err := f.Create(context.Background(), config.BackendMatrix)
	if !domain.IsKind(err, domain.ErrInitialization) {
		t.Fatalf("expected initialization error, got %v", err)
	}
	if called {
		t.Fatal("constructor must not run with an incomplete section")
	}
}

func TestFactory_CreateUsesRegisteredConstructor(t *testing.T) {
	cfg := config.Defaults()
	cfg.Discord = config.DiscordConfig{Token: "t", Address: "u", Channel: "c"}
	f := NewFactory(cfg, testLogger())
	f.RegisterConstructor(config.BackendDiscord, func(context.Context, *config.Config, *slog.Logger) (domain.Backend, error) {
		return &stubBackend{name: config.BackendDiscord}, nil
	})

	b, err := f.Create(context.Background(), config.BackendDiscord)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if b.Name() != config.BackendDiscord {
		t.Fatalf("expected discord, got %q", b.Name())
	}
}

func TestFactory_ConstructorErrorPassesThrough(t *testing.T) {
	cfg := config.Defaults()
	cfg.Discord = config.DiscordConfig{Token: "t", Address: "u", Channel: "c"}
	f := NewFactory(cfg, testLogger())
	want := domain.NewBackendError(config.BackendDiscord, domain.ErrAuthorization, "bad token", errors.New("401"))
	f.RegisterConstructor(config.BackendDiscord, func(context.Context, *config.Config, *slog.Logger) (domain.Backend, error) {
		return nil, want
	})

	_, err := f.Create(context.Background(), config.BackendDiscord)
	if !errors.Is(err, want) {
		t.Fatalf("expected constructor error, got %v", err)
	}
}
