package smtpsink

import (
	"bytes"
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/mail"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"github.com/rs/zerolog"
	"github.com/sungwon/enroll-notify/internal/metrics"
	"golang.org/x/crypto/bcrypt"
)

var (
	errAuthRequired = &gosmtp.SMTPError{
		Code:         530,
		EnhancedCode: gosmtp.EnhancedCode{5, 7, 0},
		Message:      "Authentication required",
	}
	errAuthFailed = &gosmtp.SMTPError{
		Code:         535,
		EnhancedCode: gosmtp.EnhancedCode{5, 7, 8},
		Message:      "Authentication failed",
	}
)

// Session handles a single SMTP connection.
type Session struct {
	ctx           context.Context
	conn          *gosmtp.Conn
	log           zerolog.Logger
	backend       *Backend
	authenticated bool
	sender        string
	recipients    []string
}

// AuthMechanisms advertises PLAIN when credentials are configured.
func (s *Session) AuthMechanisms() []string {
	if s.backend.opts.Username == "" {
		return nil
	}
	return []string{sasl.Plain}
}

// Auth starts a SASL exchange for mech.
func (s *Session) Auth(mech string) (sasl.Server, error) {
	if mech != sasl.Plain {
		return nil, gosmtp.ErrAuthUnknownMechanism
	}
	return sasl.NewPlainServer(func(_, username, password string) error {
		opts := s.backend.opts
		userOK := subtle.ConstantTimeCompare([]byte(username), []byte(opts.Username)) == 1
		if !userOK || !checkPassword(opts.Password, password) {
			metrics.SMTPAuthAttemptsTotal.WithLabelValues("failure").Inc()
			s.log.Warn().Str("username", username).Msg("auth failed")
			return errAuthFailed
		}
		metrics.SMTPAuthAttemptsTotal.WithLabelValues("success").Inc()
		s.authenticated = true
		return nil
	}), nil
}

// checkPassword compares a login password with the configured one, which
// may be a bcrypt hash.
func checkPassword(configured, given string) bool {
	if strings.HasPrefix(configured, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(configured), []byte(given)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(given), []byte(configured)) == 1
}

// Mail handles MAIL FROM.
func (s *Session) Mail(from string, _ *gosmtp.MailOptions) error {
	if !s.authenticated {
		return errAuthRequired
	}
	addr, err := envelopeAddress(from)
	if err != nil {
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 7},
			Message:      "Invalid sender address",
		}
	}
	s.sender = addr
	return nil
}

// Rcpt handles RCPT TO.
func (s *Session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	if !s.authenticated {
		return errAuthRequired
	}
	addr, err := envelopeAddress(to)
	if err != nil {
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 1},
			Message:      "Invalid recipient address",
		}
	}
	if check := s.backend.opts.Rcpt; check != nil {
		if err := check(addr); err != nil {
			return err
		}
	}
	s.recipients = append(s.recipients, addr)
	return nil
}

// Data reads the message and hands it to the backend's DeliverFunc.
// Message bodies are never logged.
func (s *Session) Data(r io.Reader) error {
	if !s.authenticated {
		return errAuthRequired
	}
	if len(s.recipients) == 0 {
		return &gosmtp.SMTPError{
			Code:         503,
			EnhancedCode: gosmtp.EnhancedCode{5, 5, 1},
			Message:      "No recipients specified",
		}
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		s.log.Error().Err(err).Msg("failed to read message data")
		return &gosmtp.SMTPError{
			Code:         451,
			EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
			Message:      "Error reading message",
		}
	}

	metrics.SMTPMessageSizeBytes.Observe(float64(buf.Len()))

	subject := ""
	if msg, err := mail.ReadMessage(bytes.NewReader(buf.Bytes())); err == nil {
		subject = msg.Header.Get("Subject")
	}

	d := Delivery{
		From:       s.sender,
		Recipients: append([]string(nil), s.recipients...),
		Subject:    subject,
		Raw:        buf.Bytes(),
		ReceivedAt: time.Now().UTC(),
	}
	if s.conn != nil {
		_, d.TLS = s.conn.TLSConnectionState()
	}

	if deliver := s.backend.opts.Deliver; deliver != nil {
		if err := deliver(s.ctx, d); err != nil {
			metrics.SMTPMessagesReceivedTotal.WithLabelValues("rejected").Inc()
			var smtpErr *gosmtp.SMTPError
			if errors.As(err, &smtpErr) {
				return smtpErr
			}
			s.log.Error().Err(err).Msg("failed to store message")
			return &gosmtp.SMTPError{
				Code:         451,
				EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
				Message:      "Error storing message",
			}
		}
	}

	metrics.SMTPMessagesReceivedTotal.WithLabelValues("stored").Inc()
	s.log.Info().
		Str("from", s.sender).
		Int("recipient_count", len(s.recipients)).
		Msg("message accepted")
	return nil
}

// Reset is called between messages in the same session. It clears the sender
// and recipients but preserves the authentication state.
func (s *Session) Reset() {
	s.sender = ""
	s.recipients = nil
}

// Logout is called when the client disconnects.
func (s *Session) Logout() error {
	s.backend.active.Add(-1)
	metrics.SMTPActiveSessions.Dec()
	s.log.Debug().Msg("session closed")
	return nil
}
