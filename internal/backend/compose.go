package backend

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"

	"notirun/internal/domain"
	"notirun/internal/payload"
)

const emailDefaultSubject = "notirun"

// composeEmail renders msg as an RFC 5322 message from -> to.
func composeEmail(from, to string, msg domain.Sendable, now time.Time) ([]byte, error) {
	var (
		subject string
		body    string
	)
	mime, filename, data, isAttachment := domain.Attachment(msg)
	switch v := msg.(type) {
	case domain.Result:
		subject, body = payload.Subject(v.Result), payload.PlainBody(v.Result)
	case *domain.Result:
		subject, body = payload.Subject(v.Result), payload.PlainBody(v.Result)
	case domain.Text:
		subject, body = emailDefaultSubject, v.Body
	case *domain.Text:
		subject, body = emailDefaultSubject, v.Body
	default:
		if !isAttachment {
			return nil, fmt.Errorf("unsupported message type %T", msg)
		}
		subject = emailDefaultSubject + ": " + filename
		body = "Attached: " + filename
	}

	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*mail.Address{{Address: from}})
	h.SetAddressList("To", []*mail.Address{{Address: to}})
	h.SetSubject(subject)
	h.SetMessageID(messageID(from))

	var buf bytes.Buffer
	if !isAttachment {
		h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
		w, err := mail.CreateSingleInlineWriter(&buf, h)
		if err != nil {
			return nil, err
		}
		if err := writeAndClose(w, []byte(body)); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	tw, err := mw.CreateInline()
	if err != nil {
		return nil, err
	}
	var ih mail.InlineHeader
	ih.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	pw, err := tw.CreatePart(ih)
	if err != nil {
		return nil, err
	}
	if err := writeAndClose(pw, []byte(body)); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}

	var ah mail.AttachmentHeader
	ah.SetContentType(mime, nil)
	ah.SetFilename(filename)
	aw, err := mw.CreateAttachment(ah)
	if err != nil {
		return nil, err
	}
	if err := writeAndClose(aw, data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func messageID(from string) string {
	domainPart := "localhost"
	if at := strings.LastIndex(from, "@"); at >= 0 && at < len(from)-1 {
		domainPart = from[at+1:]
	}
	return uuid.NewString() + "@" + domainPart
}

func writeAndClose(w io.WriteCloser, p []byte) error {
	if _, err := w.Write(p); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
