package payload

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"notirun/internal/domain"
)

// Subject is the email subject line for a finished run.
func Subject(res domain.CommandResult) string {
	return fmt.Sprintf("Command \"%s\" finished in %g", res.Command, res.Elapsed.Seconds())
}

// PlainBody renders a run's output as plain text.
func PlainBody(res domain.CommandResult) string {
	var sb strings.Builder
	if res.ExitCode != 0 {
		fmt.Fprintf(&sb, "EXIT CODE: %d\n\n", res.ExitCode)
	}
	fmt.Fprintf(&sb, "STDOUT:\n%s\n\nSTDERR:\n%s", res.Stdout, res.Stderr)
	return sb.String()
}

// Markdown renders a run for chat transports.
func Markdown(res domain.CommandResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Ran command *%s* in *%d*s", res.Command, int64(res.Elapsed.Seconds()))
	if res.ExitCode != 0 {
		fmt.Fprintf(&sb, " (exit code *%d*)", res.ExitCode)
	}
	fmt.Fprintf(&sb, " \n\n **STANDARD OUT:**\n\n%s\n\n**STANDARD ERROR:**\n\n%s", res.Stdout, res.Stderr)
	return sb.String()
}

// Text returns the chat rendering of a text-like Sendable. ok is false for
// attachments.
func Text(s domain.Sendable) (string, bool) {
	switch v := s.(type) {
	case domain.Text:
		return v.Body, true
	case *domain.Text:
		return v.Body, true
	case domain.Result:
		return Markdown(v.Result), true
	case *domain.Result:
		return Markdown(v.Result), true
	}
	return "", false
}

// Split breaks msg into chunks of at most maxLen bytes, preferring to cut
// after a newline in the second half of a chunk. Chunks never split a UTF-8
// sequence.
func Split(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}
		cut := maxLen
		if idx := strings.LastIndex(msg[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx + 1
		}
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		if cut == 0 {
			_, cut = utf8.DecodeRuneInString(msg)
		}
		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}
