package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"notirun/internal/config"

	"github.com/spf13/cobra"
)

// wizardField is one prompt for a backend section.
type wizardField struct {
	Label  string
	EnvVar string // suggested ${VAR} placeholder for secrets
	Get    func(*config.Config) string
	Set    func(*config.Config, string) error
}

func stringField(label, env string, ptr func(*config.Config) *string) wizardField {
	return wizardField{
		Label:  label,
		EnvVar: env,
		Get:    func(c *config.Config) string { return *ptr(c) },
		Set:    func(c *config.Config, v string) error { *ptr(c) = v; return nil },
	}
}

func int64Field(label string, ptr func(*config.Config) *int64) wizardField {
	return wizardField{
		Label: label,
		Get: func(c *config.Config) string {
			if *ptr(c) == 0 {
				return ""
			}
			return strconv.FormatInt(*ptr(c), 10)
		},
		Set: func(c *config.Config, v string) error {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return fmt.Errorf("%s: not a number: %q", label, v)
			}
			*ptr(c) = n
			return nil
		},
	}
}

var wizardFields = map[string][]wizardField{
	config.BackendEmail: {
		stringField("Your address (results go here, replies come from here)", "", func(c *config.Config) *string { return &c.Email.Address }),
		stringField("Account to send from", "", func(c *config.Config) *string { return &c.Email.Username }),
		stringField("Account password", "NOTIRUN_EMAIL_PASSWORD", func(c *config.Config) *string { return &c.Email.Password }),
		stringField("SMTP server", "", func(c *config.Config) *string { return &c.Email.SMTPServer }),
		stringField("Mailbox protocol (imap/pop3)", "", func(c *config.Config) *string { return &c.Email.Protocol }),
		stringField("IMAP server (blank for POP3)", "", func(c *config.Config) *string { return &c.Email.IMAPServer }),
		stringField("POP3 server (blank for IMAP)", "", func(c *config.Config) *string { return &c.Email.POPServer }),
	},
	config.BackendMatrix: {
		stringField("Your user id (@you:server)", "", func(c *config.Config) *string { return &c.Matrix.Address }),
		stringField("Bot user id (@bot:server)", "", func(c *config.Config) *string { return &c.Matrix.Username }),
		stringField("Bot password", "NOTIRUN_MATRIX_PASSWORD", func(c *config.Config) *string { return &c.Matrix.Password }),
		stringField("Room id or alias", "", func(c *config.Config) *string { return &c.Matrix.Room }),
	},
	config.BackendTelegram: {
		stringField("Bot token", "NOTIRUN_TELEGRAM_TOKEN", func(c *config.Config) *string { return &c.Telegram.Token }),
		int64Field("Your user id", func(c *config.Config) *int64 { return &c.Telegram.Address }),
		int64Field("Chat id", func(c *config.Config) *int64 { return &c.Telegram.ChatID }),
	},
	config.BackendDiscord: {
		stringField("Bot token", "NOTIRUN_DISCORD_TOKEN", func(c *config.Config) *string { return &c.Discord.Token }),
		stringField("Your user id", "", func(c *config.Config) *string { return &c.Discord.Address }),
		stringField("Channel id", "", func(c *config.Config) *string { return &c.Discord.Channel }),
	},
	config.BackendSlack: {
		stringField("Bot token (xoxb-)", "NOTIRUN_SLACK_BOT_TOKEN", func(c *config.Config) *string { return &c.Slack.BotToken }),
		stringField("App token (xapp-)", "NOTIRUN_SLACK_APP_TOKEN", func(c *config.Config) *string { return &c.Slack.AppToken }),
		stringField("Your user id", "", func(c *config.Config) *string { return &c.Slack.Address }),
		stringField("Channel id", "", func(c *config.Config) *string { return &c.Slack.Channel }),
	},
}

func wizardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wizard",
		Short: "Interactive setup: backend → credentials → save config",
		Long:  "Asks which backend to configure and fills in its section. Writes config to the path used by --config or default.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				cfg = config.Defaults()
			}
			name, err := runWizard(os.Stdin, os.Stdout, cfg)
			if err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Printf("\nSaved %s. Try:\n  notirun run -b %s -- echo hello\n", cfgPath, name)
			return nil
		},
	}
}

// runWizard fills the chosen backend section of cfg from answers read on in.
func runWizard(in io.Reader, out io.Writer, cfg *config.Config) (string, error) {
	reader := bufio.NewReader(in)
	prompt := func(label, def string) (string, error) {
		if def != "" {
			fmt.Fprintf(out, "%s [%s]: ", label, def)
		} else {
			fmt.Fprintf(out, "%s: ", label)
		}
		line, err := reader.ReadString('\n')
		if err != nil && !(err == io.EOF && line != "") {
			return "", err
		}
		s := strings.TrimSpace(line)
		if s == "" {
			return def, nil
		}
		return s, nil
	}

	fmt.Fprintln(out, "--- Step 1: Backend ---")
	var name backendValue
	answer, err := prompt("Backend ("+strings.Join(config.BackendNames, "/")+")", config.BackendEmail)
	if err != nil {
		return "", err
	}
	if err := name.Set(answer); err != nil {
		return "", fmt.Errorf("backend: %w", err)
	}

	fmt.Fprintf(out, "\n--- Step 2: %s ---\n", name)
	for _, f := range wizardFields[name.String()] {
		def := f.Get(cfg)
		if def == "" && f.EnvVar != "" {
			def = "${" + f.EnvVar + "}"
		}
		v, err := prompt(f.Label, def)
		if err != nil {
			return "", err
		}
		if v == "" {
			continue
		}
		if err := f.Set(cfg, v); err != nil {
			return "", err
		}
	}

	if err := config.ValidateBackend(cfg, name.String()); err != nil {
		fmt.Fprintf(out, "\nWarning: section is incomplete:\n%v\n", err)
	}
	return name.String(), nil
}
