package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"net"
	"strconv"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"github.com/rs/zerolog"
)

// implicitTLSPort is the submission port that expects TLS from the first byte.
const implicitTLSPort = 465

// SMTP submits messages to a mail server. Each Send opens its own
// connection so that concurrent workers never share protocol state.
type SMTP struct {
	cfg       Config
	tlsConfig *tls.Config
	log       zerolog.Logger
}

// NewSMTP creates an SMTP transport. Port 465 uses implicit TLS; any other
// port upgrades with STARTTLS when cfg.UseTLS is set. AUTH PLAIN is used only
// when both username and password are configured.
func NewSMTP(cfg Config, log zerolog.Logger) *SMTP {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &SMTP{
		cfg: cfg,
		tlsConfig: &tls.Config{
			ServerName:         cfg.Host,
			InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // opt-in for local relays
			MinVersion:         tls.VersionTLS12,
		},
		log: log,
	}
}

func (s *SMTP) Name() string { return "smtp" }

func (s *SMTP) addr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

func (s *SMTP) heloName() string {
	if s.cfg.HeloName != "" {
		return s.cfg.HeloName
	}
	return "localhost"
}

func (s *SMTP) implicitTLS() bool {
	return s.cfg.Port == implicitTLSPort
}

// Send implements Transport. The whole exchange, from dial to QUIT, is
// bounded by the configured timeout.
func (s *SMTP) Send(ctx context.Context, msg *Message) error {
	c, cleanup, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := c.SendMail(msg.From, msg.To, bytes.NewReader(msg.Raw)); err != nil {
		return classify("send", err)
	}

	// The message has been accepted once DATA completes; a failed QUIT is
	// not a delivery failure.
	if err := c.Quit(); err != nil {
		s.log.Debug().Err(err).Str("task_id", msg.ID).Msg("smtp quit failed after delivery")
	}
	return nil
}

// HealthCheck connects, negotiates TLS and authenticates without sending.
func (s *SMTP) HealthCheck(ctx context.Context) error {
	c, cleanup, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := c.Noop(); err != nil {
		return classify("noop", err)
	}
	_ = c.Quit()
	return nil
}

// connect dials, applies TLS and AUTH, and returns a ready client. cleanup
// closes the connection and releases the timeout.
func (s *SMTP) connect(ctx context.Context) (*gosmtp.Client, func(), error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)

	conn, err := s.dial(ctx)
	if err != nil {
		cancel()
		return nil, nil, classify("dial", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	// Unblock any pending read or write as soon as ctx ends.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })

	var c *gosmtp.Client
	startTLS := s.cfg.UseTLS && !s.implicitTLS()
	if startTLS {
		c, err = gosmtp.NewClientStartTLS(conn, s.tlsConfig)
		if err == nil {
			// The handshake runs with the first command on the upgraded
			// connection, so a rejected certificate surfaces here.
			if err = c.Hello(s.heloName()); err != nil {
				_ = c.Close()
			}
		}
		if err != nil {
			stop()
			cancel()
			return nil, nil, classify("starttls", err)
		}
	} else {
		c = gosmtp.NewClient(conn)
	}
	cleanup := func() {
		stop()
		_ = c.Close()
		cancel()
	}

	if !startTLS && s.cfg.HeloName != "" {
		if err := c.Hello(s.cfg.HeloName); err != nil {
			cleanup()
			return nil, nil, classify("hello", err)
		}
	}

	if s.cfg.Username != "" && s.cfg.Password != "" {
		if err := c.Auth(sasl.NewPlainClient("", s.cfg.Username, s.cfg.Password)); err != nil {
			cleanup()
			return nil, nil, classify("auth", err)
		}
	}

	return c, cleanup, nil
}

func (s *SMTP) dial(ctx context.Context) (net.Conn, error) {
	if s.implicitTLS() {
		d := &tls.Dialer{Config: s.tlsConfig}
		return d.DialContext(ctx, "tcp", s.addr())
	}
	var d net.Dialer
	return d.DialContext(ctx, "tcp", s.addr())
}
