package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"notirun/internal/backend"
	"notirun/internal/config"
	"notirun/internal/loop"
	"notirun/internal/metrics"
	"notirun/internal/runner"

	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	var (
		name  backendValue
		files []string
	)
	cmd := &cobra.Command{
		Use:   "run -b <backend> [-f file]... -- <command>",
		Short: "Run a command and report the result",
		Long: `Runs <command> through the configured shell, sends stdout and stderr
(and every --file) to the chosen backend, then waits for replies.

A single argument after -- is handed to the shell as written, so it may use
pipes and &&. Several arguments are quoted one by one and run as a plain
command line.`,
		Example: `  notirun run -b email -- make test
  notirun run -b slack -- "make test && make lint"
  notirun run -b matrix -f loss.png -f metrics.csv -- python train.py`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(name.String(), files, commandLine(args))
		},
	}
	cmd.Flags().VarP(&name, "backend", "b", "backend to use ("+strings.Join(config.BackendNames, "|")+")")
	cmd.MarkFlagRequired("backend")
	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "file to send after every run (repeatable)")
	return cmd
}

// commandLine builds the shell command from the arguments after --.
func commandLine(args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = shellQuote(a)
	}
	return strings.Join(quoted, " ")
}

// shellQuote single-quotes s for a POSIX shell unless it is made only of
// characters the shell treats literally.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !isShellSafe(r) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func isShellSafe(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	}
	return strings.ContainsRune("-_./=:,+@%", r)
}

func runSession(backendName string, files []string, command string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	logger = newLogger(cfg.General.LogLevel)

	// Graceful shutdown on signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Listen, logger); err != nil {
				logger.Error("metrics server error", "err", err)
			}
		}()
	}

	b, err := backend.NewFactory(cfg, logger).Create(ctx, backendName)
	if err != nil {
		return fmt.Errorf("start %s backend: %w", backendName, err)
	}
	defer b.Close()

	session := loop.New(loop.Config{
		Backend: b,
		Runner: runner.New(runner.Config{
			Shell:      cfg.Runner.Shell,
			WorkingDir: cfg.Runner.WorkingDir,
			Logger:     logger,
		}),
		Command:     command,
		Attachments: files,
		CatImage:    cfg.General.CatImage,
		RetryDelay:  time.Duration(cfg.Loop.RetryDelaySeconds) * time.Second,
		Logger:      logger,
	})

	if err := session.Run(ctx); err != nil {
		return err
	}
	logger.Info("session finished")
	return nil
}
