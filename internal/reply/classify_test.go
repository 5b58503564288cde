package reply

import (
	"errors"
	"strings"
	"testing"

	"notirun/internal/domain"
)

// --- ClassifyEmail ---

func TestClassifyEmail_Keywords(t *testing.T) {
	cases := map[string]domain.ControlCommand{
		"rerun":     domain.Rerun,
		"RERUN":     domain.Rerun,
		"Done":      domain.Done,
		"done\n":    domain.Done,
		"  cat  ":   domain.Cat,
		"\n\nCat\n": domain.Cat,
	}
	for in, want := range cases {
		if got := ClassifyEmail(in); got != want {
			t.Errorf("ClassifyEmail(%q): got %v, want %v", in, got, want)
		}
	}
}

func TestClassifyEmail_UnknownPreservesText(t *testing.T) {
	got := ClassifyEmail("Rerun please")
	if got.Kind != domain.CommandUnknown || got.Text != "Rerun please" {
		t.Errorf("got %+v", got)
	}
}

func TestClassifyEmail_UnknownSingleLineIsVerbatim(t *testing.T) {
	got := ClassifyEmail("  Please Rerun it  \r\n\r\n> quoted\r\n")
	if got.Kind != domain.CommandUnknown {
		t.Fatalf("expected unknown, got %v", got)
	}
	if got.Text != "  Please Rerun it  " {
		t.Errorf("text: got %q", got.Text)
	}
}

func TestClassifyEmail_StripsQuotedReply(t *testing.T) {
	body := strings.Join([]string{
		"rerun",
		"",
		"On Mon, Jan 8, 2024 at 10:15 AM Runner <runner@example.com> wrote:",
		"> STDOUT:",
		"> all tests passed",
		">",
		"> STDERR:",
	}, "\r\n")
	if got := ClassifyEmail(body); got != domain.Rerun {
		t.Errorf("got %v", got)
	}
}

func TestClassifyEmail_WrappedAttribution(t *testing.T) {
	body := "done\n\nOn Mon, Jan 8, 2024 at 10:15 AM Runner <\nrunner@example.com> wrote:\n> x\n"
	if got := ClassifyEmail(body); got != domain.Done {
		t.Errorf("got %v", got)
	}
}

func TestClassifyEmail_StripsSignature(t *testing.T) {
	body := "cat\n-- \nSent from my phone\n"
	if got := ClassifyEmail(body); got != domain.Cat {
		t.Errorf("got %v", got)
	}
}

func TestClassifyEmail_MultipleLinesIsUnknown(t *testing.T) {
	body := "rerun\ndone\n"
	got := ClassifyEmail(body)
	if got.Kind != domain.CommandUnknown {
		t.Fatalf("expected unknown, got %v", got)
	}
	if got.Text != "rerun\ndone" {
		t.Errorf("text: got %q", got.Text)
	}
}

func TestClassifyEmail_EmptyIsUnknown(t *testing.T) {
	got := ClassifyEmail("> only quoted\n\n")
	if got.Kind != domain.CommandUnknown {
		t.Fatalf("expected unknown, got %v", got)
	}
}

func TestClassifyEmail_Idempotent(t *testing.T) {
	inputs := []string{
		"rerun\n\nOn Tue, Feb 6, 2024 at 9:00 PM A <a@b.c> wrote:\n> old",
		"what is this\n> quoted",
		"DONE",
		"cat",
	}
	for _, in := range inputs {
		first := ClassifyEmail(in)
		lines := ExtractLines(in)
		if len(lines) != 1 {
			t.Fatalf("expected one line for %q, got %q", in, lines)
		}
		if second := ClassifyEmail(lines[0]); second != first {
			t.Errorf("not idempotent for %q: %v then %v", in, first, second)
		}
	}
}

// --- ClassifyChat ---

func TestClassifyChat(t *testing.T) {
	if got := ClassifyChat("rerun"); got != domain.Rerun {
		t.Errorf("got %v", got)
	}
	if got := ClassifyChat("Done"); got != domain.Done {
		t.Errorf("got %v", got)
	}
	got := ClassifyChat("> cat")
	if got.Kind != domain.CommandUnknown || got.Text != "> cat" {
		t.Errorf("chat must not strip quotes: %+v", got)
	}
}

// --- ParseEmail ---

const plainReply = "From: Operator <OP@example.com>\r\n" +
	"To: runner@example.com\r\n" +
	"Subject: Re: Command \"ls\" finished in 0.1\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"rerun\r\n" +
	"\r\n" +
	"On Mon, Jan 8, 2024 at 10:15 AM Runner <runner@example.com> wrote:\r\n" +
	"> STDOUT:\r\n"

const multipartReply = "From: op@example.com\r\n" +
	"Subject: Re: x\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/alternative; boundary=\"b1\"\r\n" +
	"\r\n" +
	"--b1\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>done</p>\r\n" +
	"--b1\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"done\r\n" +
	"--b1--\r\n"

func TestParseEmail_Plain(t *testing.T) {
	msg, err := ParseEmail([]byte(plainReply))
	if err != nil {
		t.Fatalf("ParseEmail: %v", err)
	}
	if !SameAddress(msg.From, "op@example.com") {
		t.Errorf("from: got %q", msg.From)
	}
	if got := ClassifyEmail(msg.Text); got != domain.Rerun {
		t.Errorf("classified as %v from %q", got, msg.Text)
	}
}

func TestParseEmail_PrefersTextPlain(t *testing.T) {
	msg, err := ParseEmail([]byte(multipartReply))
	if err != nil {
		t.Fatalf("ParseEmail: %v", err)
	}
	if strings.TrimSpace(msg.Text) != "done" {
		t.Errorf("text: got %q", msg.Text)
	}
}

func TestParseEmail_NoTextPart(t *testing.T) {
	raw := "From: op@example.com\r\nSubject: screenshot\r\nContent-Type: image/png\r\n\r\nxx"
	msg, err := ParseEmail([]byte(raw))
	if !errors.Is(err, ErrNoText) {
		t.Fatalf("expected ErrNoText, got %v", err)
	}
	if msg == nil || msg.From != "op@example.com" || msg.Subject != "screenshot" {
		t.Errorf("header must survive a missing text part: %+v", msg)
	}
}
