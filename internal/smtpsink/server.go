package smtpsink

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	gosmtp "github.com/emersion/go-smtp"
)

// ServerConfig holds listener settings for NewServer.
type ServerConfig struct {
	Addr            string
	Domain          string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxMessageBytes int64
	// AllowInsecureAuth permits AUTH without TLS. Only for local use.
	AllowInsecureAuth bool
	TLSConfig         *tls.Config
}

// NewServer wraps b in a configured go-smtp server.
func NewServer(b *Backend, cfg ServerConfig) *gosmtp.Server {
	s := gosmtp.NewServer(b)
	s.Addr = cfg.Addr
	s.Domain = cfg.Domain
	if s.Domain == "" {
		s.Domain = "smtp-sink"
	}
	s.ReadTimeout = cfg.ReadTimeout
	s.WriteTimeout = cfg.WriteTimeout
	if cfg.MaxMessageBytes > 0 {
		s.MaxMessageBytes = cfg.MaxMessageBytes
	}
	s.AllowInsecureAuth = cfg.AllowInsecureAuth
	s.TLSConfig = cfg.TLSConfig
	return s
}

// Local is a sink listening on a loopback port.
type Local struct {
	Addr   string
	Server *gosmtp.Server
}

// StartLocal starts b on 127.0.0.1 with an ephemeral port.
func StartLocal(b *Backend) (*Local, error) {
	return StartLocalTLS(b, nil)
}

// StartLocalTLS is StartLocal with STARTTLS offered using tlsConfig.
func StartLocalTLS(b *Backend, tlsConfig *tls.Config) (*Local, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s := NewServer(b, ServerConfig{
		Addr:              ln.Addr().String(),
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      5 * time.Second,
		AllowInsecureAuth: true,
		TLSConfig:         tlsConfig,
	})
	go func() { _ = s.Serve(ln) }()
	return &Local{Addr: ln.Addr().String(), Server: s}, nil
}

// Close shuts the server down.
func (l *Local) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return l.Server.Shutdown(ctx)
}
