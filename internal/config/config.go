package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Backend names accepted on the command line.
const (
	BackendEmail    = "email"
	BackendMatrix   = "matrix"
	BackendTelegram = "telegram"
	BackendDiscord  = "discord"
	BackendSlack    = "slack"
)

// BackendNames lists every supported backend in display order.
var BackendNames = []string{BackendEmail, BackendMatrix, BackendTelegram, BackendDiscord, BackendSlack}

// Email protocols.
const (
	ProtocolIMAP = "imap"
	ProtocolPOP3 = "pop3"
)

// Config is the root configuration for notirun.
type Config struct {
	General  GeneralConfig  `json:"general" yaml:"general"`
	Runner   RunnerConfig   `json:"runner" yaml:"runner"`
	Loop     LoopConfig     `json:"loop" yaml:"loop"`
	Email    EmailConfig    `json:"email" yaml:"email"`
	Matrix   MatrixConfig   `json:"matrix" yaml:"matrix"`
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
	Discord  DiscordConfig  `json:"discord" yaml:"discord"`
	Slack    SlackConfig    `json:"slack" yaml:"slack"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"log_level" yaml:"log_level"` // debug | info | warn | error
	CatImage string `json:"cat_image" yaml:"cat_image"` // sent in answer to "cat"
}

type RunnerConfig struct {
	Shell      string `json:"shell" yaml:"shell"`
	WorkingDir string `json:"working_dir,omitempty" yaml:"working_dir,omitempty"`
}

type LoopConfig struct {
	RetryDelaySeconds int `json:"retry_delay_seconds" yaml:"retry_delay_seconds"`
}

// EmailConfig configures the mailbox-polling backend. Address is the
// operator: results are sent to it and only its replies are accepted.
// Username is the account the runner logs in (and sends) as.
type EmailConfig struct {
	Address             string `json:"address" yaml:"address"`
	Username            string `json:"username" yaml:"username"`
	Password            string `json:"password" yaml:"password"`
	SMTPServer          string `json:"smtp_server" yaml:"smtp_server"`
	SMTPPort            int    `json:"smtp_port" yaml:"smtp_port"`
	Protocol            string `json:"protocol,omitempty" yaml:"protocol,omitempty"` // imap | pop3; inferred when empty
	IMAPServer          string `json:"imap_server,omitempty" yaml:"imap_server,omitempty"`
	IMAPPort            int    `json:"imap_port,omitempty" yaml:"imap_port,omitempty"`
	POPServer           string `json:"pop_server,omitempty" yaml:"pop_server,omitempty"`
	POPPort             int    `json:"pop_port,omitempty" yaml:"pop_port,omitempty"`
	PollIntervalSeconds int    `json:"poll_interval_seconds" yaml:"poll_interval_seconds"`
}

// MailProtocol returns the configured retrieval protocol, inferring it from
// which server is set.
func (e EmailConfig) MailProtocol() string {
	if e.Protocol != "" {
		return strings.ToLower(e.Protocol)
	}
	if e.IMAPServer == "" && e.POPServer != "" {
		return ProtocolPOP3
	}
	return ProtocolIMAP
}

// MatrixConfig configures the Matrix backend. Address and Username are full
// user ids (@name:server).
type MatrixConfig struct {
	Address    string `json:"address" yaml:"address"`
	Username   string `json:"username" yaml:"username"`
	Password   string `json:"password" yaml:"password"`
	Room       string `json:"room" yaml:"room"`
	Homeserver string `json:"homeserver,omitempty" yaml:"homeserver,omitempty"` // skips .well-known discovery
}

type TelegramConfig struct {
	Token   string `json:"token" yaml:"token"`
	Address int64  `json:"address" yaml:"address"` // authorized user id
	ChatID  int64  `json:"chat_id" yaml:"chat_id"`
}

type DiscordConfig struct {
	Token   string `json:"token" yaml:"token"`
	Address string `json:"address" yaml:"address"` // authorized user id
	Channel string `json:"channel" yaml:"channel"`
}

type SlackConfig struct {
	BotToken string `json:"bot_token" yaml:"bot_token"`
	AppToken string `json:"app_token" yaml:"app_token"` // required for Socket Mode
	Address  string `json:"address" yaml:"address"`     // authorized user id
	Channel  string `json:"channel" yaml:"channel"`
}

// MetricsConfig configures the Prometheus text endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Listen  string `json:"listen" yaml:"listen"`
}

func DefaultConfigPath() string {
	return "./config.json"
}

// Load reads a JSON or YAML (by extension) config file over Defaults.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.CatImage = ExpandPath(cfg.General.CatImage)
	cfg.Runner.WorkingDir = ExpandPath(cfg.Runner.WorkingDir)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

// Save writes cfg as JSON, or YAML when path ends in .yaml/.yml.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	// Credentials live in this file.
	return os.WriteFile(path, data, 0o600)
}

// Validate checks values that do not depend on the selected backend.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.log_level must be one of: debug, info, warn, error")
	}
	if cfg.Loop.RetryDelaySeconds < 0 {
		errs = append(errs, "loop.retry_delay_seconds must be >= 0")
	}
	if cfg.Email.PollIntervalSeconds < 1 {
		errs = append(errs, "email.poll_interval_seconds must be >= 1")
	}
	for name, port := range map[string]int{
		"email.smtp_port": cfg.Email.SMTPPort,
		"email.imap_port": cfg.Email.IMAPPort,
		"email.pop_port":  cfg.Email.POPPort,
	} {
		if port < 0 || port > 65535 {
			errs = append(errs, name+" must be between 0 and 65535")
		}
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		errs = append(errs, "metrics.listen is required when metrics are enabled")
	}

	return joinErrors(errs)
}

// ValidateBackend checks that the section for the named backend is complete.
func ValidateBackend(cfg *Config, name string) error {
	var errs []string
	require := func(field, value string) {
		if strings.TrimSpace(value) == "" {
			errs = append(errs, fmt.Sprintf("%s.%s is required", name, field))
		}
	}

	switch name {
	case BackendEmail:
		e := cfg.Email
		require("address", e.Address)
		require("username", e.Username)
		require("password", e.Password)
		require("smtp_server", e.SMTPServer)
		switch e.MailProtocol() {
		case ProtocolIMAP:
			require("imap_server", e.IMAPServer)
		case ProtocolPOP3:
			require("pop_server", e.POPServer)
		default:
			errs = append(errs, "email.protocol must be one of: imap, pop3")
		}
	case BackendMatrix:
		m := cfg.Matrix
		require("address", m.Address)
		require("username", m.Username)
		require("password", m.Password)
		require("room", m.Room)
	case BackendTelegram:
		require("token", cfg.Telegram.Token)
		if cfg.Telegram.Address == 0 {
			errs = append(errs, "telegram.address is required")
		}
		if cfg.Telegram.ChatID == 0 {
			errs = append(errs, "telegram.chat_id is required")
		}
	case BackendDiscord:
		require("token", cfg.Discord.Token)
		require("address", cfg.Discord.Address)
		require("channel", cfg.Discord.Channel)
	case BackendSlack:
		require("bot_token", cfg.Slack.BotToken)
		require("app_token", cfg.Slack.AppToken)
		require("address", cfg.Slack.Address)
		require("channel", cfg.Slack.Channel)
	default:
		return fmt.Errorf("unknown backend %q (supported: %s)", name, strings.Join(BackendNames, ", "))
	}

	return joinErrors(errs)
}

func joinErrors(errs []string) error {
	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
