// Package runner executes the operator's shell command, echoing its output
// to the local terminal while capturing it for the notification backend.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"notirun/internal/domain"
)

const (
	defaultShell = "sh"

	invalidStdout = "Failed to parse stdout"
	invalidStderr = "Failed to parse stderr"
)

// Error reports that the command could not be started at all.
type Error struct {
	Command string
	Reason  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("error running command %s:\n %s", e.Command, e.Reason)
}

// Runner spawns commands through a shell.
type Runner struct {
	shell      string
	workingDir string
	stdout     io.Writer
	stderr     io.Writer
	logger     *slog.Logger
}

// Config holds runner settings. Zero values fall back to sh, the current
// directory and the process's own stdout/stderr.
type Config struct {
	Shell      string
	WorkingDir string
	Stdout     io.Writer
	Stderr     io.Writer
	Logger     *slog.Logger
}

func New(cfg Config) *Runner {
	if cfg.Shell == "" {
		cfg.Shell = defaultShell
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Runner{
		shell:      cfg.Shell,
		workingDir: cfg.WorkingDir,
		stdout:     cfg.Stdout,
		stderr:     cfg.Stderr,
		logger:     cfg.Logger,
	}
}

// Run executes command and waits for it to exit. A non-zero exit status is
// reported in the result; only a failure to start returns *Error.
func (r *Runner) Run(ctx context.Context, command string) (domain.CommandResult, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return domain.CommandResult{}, &Error{Command: command, Reason: "empty command"}
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.shell, "-c", command)
	if r.workingDir != "" {
		dir, err := filepath.Abs(r.workingDir)
		if err != nil {
			dir = r.workingDir
		}
		cmd.Dir = dir
	}
	// exec copies each pipe on its own goroutine and Wait joins both.
	cmd.Stdout = Tee(&stdout, r.stdout)
	cmd.Stderr = Tee(&stderr, r.stderr)

	r.logger.Info("running command", "command", command)
	start := time.Now()
	if err := cmd.Start(); err != nil {
		return domain.CommandResult{}, &Error{Command: command, Reason: err.Error()}
	}

	exitCode := 0
	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return domain.CommandResult{}, &Error{Command: command, Reason: err.Error()}
		}
		exitCode = exitErr.ExitCode()
	}
	elapsed := time.Since(start)

	r.logger.Info("command finished",
		"command", command,
		"elapsed", elapsed,
		"exit_code", exitCode,
		"stdout_bytes", stdout.Len(),
		"stderr_bytes", stderr.Len(),
	)

	return domain.CommandResult{
		Command:  command,
		Elapsed:  elapsed,
		Stdout:   decode(stdout.Bytes(), invalidStdout),
		Stderr:   decode(stderr.Bytes(), invalidStderr),
		ExitCode: exitCode,
	}, nil
}

func decode(b []byte, fallback string) string {
	if !utf8.Valid(b) {
		return fallback
	}
	return string(b)
}
