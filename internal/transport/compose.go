package transport

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
)

// Envelope describes a message to compose. HTML is optional; without it the
// message is a single text/plain part.
type Envelope struct {
	ID       string
	FromName string
	From     string
	To       string
	Subject  string
	Text     string
	HTML     string
	Date     time.Time
}

// Compose builds the RFC 5322 form of env. With an HTML body the message is
// multipart/alternative with the text part first.
func Compose(env Envelope) (*Message, error) {
	var h mail.Header
	date := env.Date
	if date.IsZero() {
		date = time.Now()
	}
	h.SetDate(date)
	h.SetAddressList("From", []*mail.Address{{Name: env.FromName, Address: env.From}})
	h.SetAddressList("To", []*mail.Address{{Address: env.To}})
	h.SetSubject(env.Subject)
	if env.ID != "" {
		h.SetMessageID(env.ID + "@" + domainOf(env.From))
	}

	var buf bytes.Buffer
	if env.HTML == "" {
		h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
		h.Set("Content-Transfer-Encoding", "quoted-printable")
		w, err := mail.CreateSingleInlineWriter(&buf, h)
		if err != nil {
			return nil, fmt.Errorf("compose: %w", err)
		}
		if err := writeAndClose(w, env.Text); err != nil {
			return nil, fmt.Errorf("compose text: %w", err)
		}
	} else {
		h.SetContentType("multipart/alternative", nil)
		w, err := mail.CreateInlineWriter(&buf, h)
		if err != nil {
			return nil, fmt.Errorf("compose: %w", err)
		}
		if err := writePart(w, "text/plain", env.Text); err != nil {
			return nil, fmt.Errorf("compose text: %w", err)
		}
		if err := writePart(w, "text/html", env.HTML); err != nil {
			return nil, fmt.Errorf("compose html: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("compose: %w", err)
		}
	}

	return &Message{
		ID:      env.ID,
		From:    env.From,
		To:      []string{env.To},
		Subject: env.Subject,
		Raw:     buf.Bytes(),
	}, nil
}

func writePart(w *mail.InlineWriter, contentType, body string) error {
	var ph mail.InlineHeader
	ph.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	ph.Set("Content-Transfer-Encoding", "quoted-printable")
	pw, err := w.CreatePart(ph)
	if err != nil {
		return err
	}
	return writeAndClose(pw, body)
}

func writeAndClose(w io.WriteCloser, body string) error {
	if _, err := io.WriteString(w, body); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func domainOf(addr string) string {
	if i := strings.LastIndexByte(addr, '@'); i >= 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return "localhost"
}
