// Package reply turns free-text operator replies into control commands.
package reply

import (
	"regexp"
	"strings"

	"notirun/internal/domain"
)

// attributionPattern matches the "On <date> at <time> <someone> wrote:" line
// mail clients put above the quoted original.
var attributionPattern = regexp.MustCompile(`^On\s.+\swrote:$`)

// ClassifyEmail classifies the text part of an email reply. Quoted lines,
// the client's attribution line and a trailing signature are removed first;
// exactly one line must remain. A single unrecognised line is Unknown with
// the line exactly as written; anything else is Unknown with the trimmed
// reply text.
func ClassifyEmail(text string) domain.ControlCommand {
	lines := ExtractLines(text)
	if len(lines) != 1 {
		return domain.Unknown(strings.TrimSpace(text))
	}
	return match(lines[0])
}

// ClassifyChat classifies a chat message body. Chat transports do not quote
// the previous message, so the body is matched as-is.
func ClassifyChat(body string) domain.ControlCommand {
	return match(body)
}

func match(line string) domain.ControlCommand {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "rerun":
		return domain.Rerun
	case "done":
		return domain.Done
	case "cat":
		return domain.Cat
	}
	return domain.Unknown(line)
}

// ExtractLines returns the operator-written lines of an email body. Lines are
// returned as written, without their line terminator.
func ExtractLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var kept []string
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if raw == "-- " || line == "--" {
			break
		}
		if strings.HasPrefix(line, ">") {
			continue
		}
		if attributionPattern.MatchString(line) {
			continue
		}
		// Some clients wrap the attribution; drop both halves.
		if strings.HasSuffix(line, "wrote:") && len(kept) > 0 && strings.HasPrefix(strings.TrimSpace(kept[len(kept)-1]), "On ") {
			kept = kept[:len(kept)-1]
			continue
		}
		kept = append(kept, raw)
	}
	return kept
}
