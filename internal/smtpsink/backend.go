// Package smtpsink is a small SMTP server that accepts messages and hands
// them to a callback. It backs the local smtp-sink binary and the transport
// tests.
package smtpsink

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/rs/zerolog"
	"github.com/sungwon/enroll-notify/internal/logger"
	"github.com/sungwon/enroll-notify/internal/metrics"
)

// Delivery is one accepted message.
type Delivery struct {
	From       string
	Recipients []string
	Subject    string
	Raw        []byte
	ReceivedAt time.Time
	// TLS reports whether the message arrived over an encrypted connection.
	TLS bool
}

// DeliverFunc receives accepted messages. Returning an *gosmtp.SMTPError
// sends that reply to the client; any other error becomes a 451.
type DeliverFunc func(ctx context.Context, d Delivery) error

// Options configures a Backend.
type Options struct {
	// Username and Password enable AUTH PLAIN and make it mandatory.
	// Password may be a bcrypt hash.
	Username string
	Password string
	MaxConns int
	// Rcpt, when set, may reject a recipient by returning an error.
	Rcpt    func(addr string) error
	Deliver DeliverFunc
}

// Backend implements the go-smtp Backend interface.
// It manages session creation and enforces connection limits.
type Backend struct {
	opts   Options
	log    zerolog.Logger
	active atomic.Int64
}

// NewBackend creates a Backend.
func NewBackend(opts Options, log zerolog.Logger) *Backend {
	if opts.MaxConns <= 0 {
		opts.MaxConns = 100
	}
	return &Backend{opts: opts, log: log}
}

// NewSession is called after a client sends EHLO/HELO. It enforces connection
// limits and creates a new Session for the connection.
func (b *Backend) NewSession(conn *gosmtp.Conn) (gosmtp.Session, error) {
	current := b.active.Add(1)
	if int(current) > b.opts.MaxConns {
		b.active.Add(-1)
		metrics.SMTPConnectionsTotal.WithLabelValues("rejected").Inc()
		b.log.Warn().
			Int64("active", current-1).
			Int("max", b.opts.MaxConns).
			Msg("connection limit reached")
		return nil, &gosmtp.SMTPError{
			Code:         421,
			EnhancedCode: gosmtp.EnhancedCode{4, 7, 0},
			Message:      "Too many connections",
		}
	}

	metrics.SMTPConnectionsTotal.WithLabelValues("accepted").Inc()
	metrics.SMTPActiveSessions.Inc()

	correlationID := logger.NewCorrelationID()
	ctx := logger.WithCorrelationID(context.Background(), correlationID)

	sessionLog := b.log.With().
		Str("correlation_id", correlationID).
		Str("remote_addr", conn.Hostname()).
		Logger()
	sessionLog.Debug().Msg("new SMTP session")

	return &Session{
		ctx:           ctx,
		conn:          conn,
		log:           sessionLog,
		backend:       b,
		authenticated: b.opts.Username == "",
	}, nil
}

// ActiveSessions returns the current number of active SMTP sessions.
func (b *Backend) ActiveSessions() int64 {
	return b.active.Load()
}

// Inbox collects deliveries in memory.
type Inbox struct {
	mu       sync.Mutex
	messages []Delivery
}

// Deliver appends d; it satisfies DeliverFunc.
func (in *Inbox) Deliver(_ context.Context, d Delivery) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.messages = append(in.messages, d)
	return nil
}

// Messages returns a copy of everything received so far.
func (in *Inbox) Messages() []Delivery {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]Delivery(nil), in.messages...)
}
