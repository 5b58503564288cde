package runner

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func newTestRunner(stdout, stderr io.Writer) *Runner {
	return New(Config{Stdout: stdout, Stderr: stderr})
}

// --- Run ---

func TestRun_CapturesAndEchoesStdout(t *testing.T) {
	var echo bytes.Buffer
	r := newTestRunner(&echo, io.Discard)

	res, err := r.Run(context.Background(), "echo hello")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Stdout != "hello\n" {
		t.Errorf("stdout: got %q", res.Stdout)
	}
	if echo.String() != "hello\n" {
		t.Errorf("echo: got %q", echo.String())
	}
	if res.Command != "echo hello" {
		t.Errorf("command: got %q", res.Command)
	}
	if res.ExitCode != 0 {
		t.Errorf("exit code: got %d", res.ExitCode)
	}
}

func TestRun_CapturesStderrSeparately(t *testing.T) {
	var out, errOut bytes.Buffer
	r := newTestRunner(&out, &errOut)

	res, err := r.Run(context.Background(), "echo out; echo err 1>&2")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Stdout != "out\n" || res.Stderr != "err\n" {
		t.Errorf("got stdout=%q stderr=%q", res.Stdout, res.Stderr)
	}
	if errOut.String() != "err\n" {
		t.Errorf("stderr echo: got %q", errOut.String())
	}
}

func TestRun_NonZeroExitIsNotAnError(t *testing.T) {
	r := newTestRunner(io.Discard, io.Discard)
	res, err := r.Run(context.Background(), "exit 3")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("exit code: got %d, want 3", res.ExitCode)
	}
}

func TestRun_MeasuresElapsed(t *testing.T) {
	r := newTestRunner(io.Discard, io.Discard)
	res, err := r.Run(context.Background(), "sleep 0.1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Elapsed.Seconds() < 0.1 {
		t.Errorf("elapsed too short: %v", res.Elapsed)
	}
}

func TestRun_SpawnFailure_ReturnsRunnerError(t *testing.T) {
	r := New(Config{Shell: "/nonexistent/shell", Stdout: io.Discard, Stderr: io.Discard})
	_, err := r.Run(context.Background(), "echo hi")
	var rerr *Error
	if !errors.As(err, &rerr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if rerr.Command != "echo hi" {
		t.Errorf("command: got %q", rerr.Command)
	}
}

func TestRun_EmptyCommand_Error(t *testing.T) {
	r := newTestRunner(io.Discard, io.Discard)
	if _, err := r.Run(context.Background(), "   "); err == nil {
		t.Fatal("expected error for whitespace-only command")
	}
}

func TestRun_InvalidUTF8_UsesMarker(t *testing.T) {
	r := newTestRunner(io.Discard, io.Discard)
	res, err := r.Run(context.Background(), `printf '\377\376'`)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Stdout != invalidStdout {
		t.Errorf("stdout: got %q", res.Stdout)
	}
}

// --- Tee ---

// shortWriter accepts at most n bytes per call.
type shortWriter struct {
	n   int
	buf bytes.Buffer
}

func (s *shortWriter) Write(p []byte) (int, error) {
	if len(p) > s.n {
		p = p[:s.n]
	}
	return s.buf.Write(p)
}

type failWriter struct{}

func (failWriter) Write(p []byte) (int, error) { return 0, errors.New("closed") }

func TestTee_PartialWritesAreCompleted(t *testing.T) {
	var capture bytes.Buffer
	echo := &shortWriter{n: 3}
	w := Tee(&capture, echo)

	n, err := w.Write([]byte("abcdefgh"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != 8 {
		t.Errorf("n: got %d", n)
	}
	if capture.String() != "abcdefgh" || echo.buf.String() != "abcdefgh" {
		t.Errorf("capture=%q echo=%q", capture.String(), echo.buf.String())
	}
}

func TestTee_EchoFailureFailsWrite(t *testing.T) {
	var capture bytes.Buffer
	w := Tee(&capture, failWriter{})
	if _, err := w.Write([]byte("x")); err == nil {
		t.Fatal("expected error when echo destination fails")
	}
}

func TestTee_ZeroProgressIsShortWrite(t *testing.T) {
	w := Tee(io.Discard, &shortWriter{n: 0})
	_, err := w.Write([]byte("x"))
	if !errors.Is(err, io.ErrShortWrite) {
		t.Fatalf("expected io.ErrShortWrite, got %v", err)
	}
}

func TestError_MessageNamesCommand(t *testing.T) {
	err := &Error{Command: "make", Reason: "no such file"}
	if !strings.Contains(err.Error(), "make") || !strings.Contains(err.Error(), "no such file") {
		t.Errorf("unexpected message %q", err.Error())
	}
}
