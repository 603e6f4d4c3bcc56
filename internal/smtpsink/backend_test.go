package smtpsink

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

const testMessage = "From: sender@example.com\r\n" +
	"To: learner@example.com\r\n" +
	"Subject: Welcome\r\n" +
	"\r\n" +
	"Hello.\r\n"

func startSink(t *testing.T, opts Options) (*Local, *Backend) {
	t.Helper()
	b := NewBackend(opts, zerolog.Nop())
	l, err := StartLocal(b)
	if err != nil {
		t.Fatalf("start sink: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l, b
}

func dial(t *testing.T, addr string) *gosmtp.Client {
	t.Helper()
	c, err := gosmtp.Dial(addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNewBackend_DefaultMaxConns(t *testing.T) {
	b := NewBackend(Options{}, zerolog.Nop())
	if b.opts.MaxConns != 100 {
		t.Errorf("expected default MaxConns=100, got %d", b.opts.MaxConns)
	}
	if b.ActiveSessions() != 0 {
		t.Errorf("expected 0 active sessions, got %d", b.ActiveSessions())
	}
	_ = gosmtp.NewServer(b)
}

func TestSink_AcceptsMessage(t *testing.T) {
	inbox := &Inbox{}
	l, _ := startSink(t, Options{Deliver: inbox.Deliver})

	c := dial(t, l.Addr)
	err := c.SendMail("sender@example.com", []string{"learner@example.com"}, strings.NewReader(testMessage))
	if err != nil {
		t.Fatalf("SendMail: %v", err)
	}

	msgs := inbox.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	got := msgs[0]
	if got.From != "sender@example.com" {
		t.Errorf("From = %q", got.From)
	}
	if len(got.Recipients) != 1 || got.Recipients[0] != "learner@example.com" {
		t.Errorf("Recipients = %v", got.Recipients)
	}
	if got.Subject != "Welcome" {
		t.Errorf("Subject = %q", got.Subject)
	}
	if !strings.Contains(string(got.Raw), "Hello.") {
		t.Errorf("body missing from raw message: %q", got.Raw)
	}
}

func TestSink_AuthRequired(t *testing.T) {
	inbox := &Inbox{}
	l, _ := startSink(t, Options{Username: "user", Password: "secret", Deliver: inbox.Deliver})

	c := dial(t, l.Addr)
	err := c.SendMail("sender@example.com", []string{"learner@example.com"}, strings.NewReader(testMessage))
	var smtpErr *gosmtp.SMTPError
	if !errors.As(err, &smtpErr) || smtpErr.Code != 530 {
		t.Fatalf("expected 530, got %v", err)
	}
	if len(inbox.Messages()) != 0 {
		t.Error("expected no messages without auth")
	}
}

func TestSink_AuthPlain(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}

	tests := []struct {
		name       string
		configured string
		password   string
		wantCode   int
	}{
		{name: "valid credentials", configured: "secret", password: "secret"},
		{name: "wrong password", configured: "secret", password: "nope", wantCode: 535},
		{name: "valid against bcrypt hash", configured: string(hash), password: "secret"},
		{name: "wrong against bcrypt hash", configured: string(hash), password: "nope", wantCode: 535},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inbox := &Inbox{}
			l, _ := startSink(t, Options{Username: "user", Password: tt.configured, Deliver: inbox.Deliver})

			c := dial(t, l.Addr)
			err := c.Auth(sasl.NewPlainClient("", "user", tt.password))
			if tt.wantCode == 0 {
				if err != nil {
					t.Fatalf("Auth: %v", err)
				}
				if err := c.SendMail("sender@example.com", []string{"learner@example.com"}, strings.NewReader(testMessage)); err != nil {
					t.Fatalf("SendMail: %v", err)
				}
				if len(inbox.Messages()) != 1 {
					t.Errorf("expected 1 message, got %d", len(inbox.Messages()))
				}
				return
			}
			var smtpErr *gosmtp.SMTPError
			if !errors.As(err, &smtpErr) || smtpErr.Code != tt.wantCode {
				t.Fatalf("expected %d, got %v", tt.wantCode, err)
			}
		})
	}
}

func TestSink_RcptPolicy(t *testing.T) {
	reject := &gosmtp.SMTPError{
		Code:         550,
		EnhancedCode: gosmtp.EnhancedCode{5, 1, 1},
		Message:      "No such user",
	}
	l, _ := startSink(t, Options{Rcpt: func(addr string) error {
		if strings.HasPrefix(addr, "ghost@") {
			return reject
		}
		return nil
	}})

	c := dial(t, l.Addr)
	err := c.SendMail("sender@example.com", []string{"ghost@example.com"}, strings.NewReader(testMessage))
	var smtpErr *gosmtp.SMTPError
	if !errors.As(err, &smtpErr) || smtpErr.Code != 550 {
		t.Fatalf("expected 550, got %v", err)
	}
}

func TestSink_DeliverErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{
			name:     "smtp error passed through",
			err:      &gosmtp.SMTPError{Code: 452, EnhancedCode: gosmtp.EnhancedCode{4, 2, 2}, Message: "Mailbox full"},
			wantCode: 452,
		},
		{
			name:     "plain error becomes 451",
			err:      errors.New("disk full"),
			wantCode: 451,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, _ := startSink(t, Options{Deliver: func(_ context.Context, _ Delivery) error {
				return tt.err
			}})

			c := dial(t, l.Addr)
			err := c.SendMail("sender@example.com", []string{"learner@example.com"}, strings.NewReader(testMessage))
			var smtpErr *gosmtp.SMTPError
			if !errors.As(err, &smtpErr) || smtpErr.Code != tt.wantCode {
				t.Fatalf("expected %d, got %v", tt.wantCode, err)
			}
		})
	}
}

func TestSink_InvalidSender(t *testing.T) {
	l, _ := startSink(t, Options{})

	c := dial(t, l.Addr)
	err := c.Mail("not-an-address", nil)
	var smtpErr *gosmtp.SMTPError
	if !errors.As(err, &smtpErr) || smtpErr.Code < 500 {
		t.Fatalf("expected permanent rejection, got %v", err)
	}
}
