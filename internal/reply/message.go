package reply

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// ErrNoText is returned by ParseEmail when a message carries no text part.
var ErrNoText = errors.New("message has no text part")

// Email is the part of a fetched message the classifier needs.
type Email struct {
	From    string
	Subject string
	Text    string
}

// ParseEmail decodes a raw RFC 5322 message and returns its sender and
// primary text. text/plain is preferred over other text/* parts. Once the
// header is decoded, errors come back together with an Email holding From
// and Subject so the caller can still tell who sent it.
func ParseEmail(raw []byte) (*Email, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	defer mr.Close()

	out := &Email{}
	if addrs, err := mr.Header.AddressList("From"); err == nil && len(addrs) > 0 {
		out.From = addrs[0].Address
	}
	out.Subject, _ = mr.Header.Subject()

	var fallback string
	haveFallback := false
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return out, fmt.Errorf("read message part: %w", err)
		}
		if part == nil {
			continue
		}
		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		if !strings.HasPrefix(ct, "text/") {
			continue
		}
		body, err := io.ReadAll(part.Body)
		if err != nil {
			return out, fmt.Errorf("read message body: %w", err)
		}
		if ct == "text/plain" {
			out.Text = string(body)
			return out, nil
		}
		if !haveFallback {
			fallback = string(body)
			haveFallback = true
		}
	}
	if !haveFallback {
		return out, ErrNoText
	}
	out.Text = fallback
	return out, nil
}

// SameAddress compares two email addresses case-insensitively.
func SameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
