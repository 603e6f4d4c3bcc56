package transport

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/rs/zerolog"
	"github.com/sungwon/enroll-notify/internal/smtpsink"
)

func startSink(t *testing.T, opts smtpsink.Options) Config {
	t.Helper()
	return startTLSSink(t, opts, nil)
}

// startTLSSink starts a sink that offers STARTTLS when tlsConfig is set.
func startTLSSink(t *testing.T, opts smtpsink.Options, tlsConfig *tls.Config) Config {
	t.Helper()
	b := smtpsink.NewBackend(opts, zerolog.Nop())
	l, err := smtpsink.StartLocalTLS(b, tlsConfig)
	if err != nil {
		t.Fatalf("start sink: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })

	host, portStr, err := net.SplitHostPort(l.Addr)
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	return Config{
		Type:    "smtp",
		Host:    host,
		Port:    port,
		Timeout: 5 * time.Second,
	}
}

// selfSignedTLS returns a server config with a throwaway certificate for
// 127.0.0.1.
func selfSignedTLS(t *testing.T) *tls.Config {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "smtp-sink"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}},
		MinVersion:   tls.VersionTLS12,
	}
}

func testMessage(t *testing.T) *Message {
	t.Helper()
	msg, err := Compose(Envelope{
		ID:       "task-1",
		FromName: "Poridhi",
		From:     "noreply@example.com",
		To:       "learner@example.com",
		Subject:  "Welcome",
		Text:     "hello",
		HTML:     "<p>hello</p>",
	})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	return msg
}

func TestSMTP_Send(t *testing.T) {
	inbox := &smtpsink.Inbox{}
	cfg := startSink(t, smtpsink.Options{Deliver: inbox.Deliver})

	tr := NewSMTP(cfg, zerolog.Nop())
	if err := tr.Send(context.Background(), testMessage(t)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	msgs := inbox.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 delivered message, got %d", len(msgs))
	}
	if msgs[0].From != "noreply@example.com" {
		t.Errorf("envelope from = %q", msgs[0].From)
	}
	if msgs[0].Subject != "Welcome" {
		t.Errorf("subject = %q", msgs[0].Subject)
	}
	if !strings.Contains(string(msgs[0].Raw), "multipart/alternative") {
		t.Error("expected multipart body to reach the server")
	}
}

func TestSMTP_SendWithAuth(t *testing.T) {
	inbox := &smtpsink.Inbox{}
	cfg := startSink(t, smtpsink.Options{
		Username: "mailer",
		Password: "secret",
		Deliver:  inbox.Deliver,
	})

	t.Run("valid credentials", func(t *testing.T) {
		c := cfg
		c.Username, c.Password = "mailer", "secret"
		if err := NewSMTP(c, zerolog.Nop()).Send(context.Background(), testMessage(t)); err != nil {
			t.Fatalf("Send: %v", err)
		}
	})

	t.Run("wrong password is permanent", func(t *testing.T) {
		c := cfg
		c.Username, c.Password = "mailer", "wrong"
		err := NewSMTP(c, zerolog.Nop()).Send(context.Background(), testMessage(t))
		var te *Error
		if !errors.As(err, &te) {
			t.Fatalf("expected *Error, got %v", err)
		}
		if te.Op != "auth" || !te.Permanent {
			t.Errorf("expected permanent auth failure, got %+v", te)
		}
	})

	t.Run("no credentials", func(t *testing.T) {
		err := NewSMTP(cfg, zerolog.Nop()).Send(context.Background(), testMessage(t))
		if !IsPermanent(err) {
			t.Errorf("expected permanent failure, got %v", err)
		}
	})

	if got := len(inbox.Messages()); got != 1 {
		t.Errorf("expected exactly 1 accepted message, got %d", got)
	}
}

func TestSMTP_RejectionClassification(t *testing.T) {
	tests := []struct {
		name          string
		reply         *gosmtp.SMTPError
		wantCode      int
		wantPermanent bool
	}{
		{
			name:          "mailbox unavailable",
			reply:         &gosmtp.SMTPError{Code: 550, EnhancedCode: gosmtp.EnhancedCode{5, 1, 1}, Message: "No such user"},
			wantCode:      550,
			wantPermanent: true,
		},
		{
			name:          "greylisted",
			reply:         &gosmtp.SMTPError{Code: 451, EnhancedCode: gosmtp.EnhancedCode{4, 7, 1}, Message: "Try again later"},
			wantCode:      451,
			wantPermanent: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := startSink(t, smtpsink.Options{
				Deliver: func(context.Context, smtpsink.Delivery) error { return tt.reply },
			})

			err := NewSMTP(cfg, zerolog.Nop()).Send(context.Background(), testMessage(t))
			var te *Error
			if !errors.As(err, &te) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if te.Code != tt.wantCode {
				t.Errorf("Code = %d, want %d", te.Code, tt.wantCode)
			}
			if te.Permanent != tt.wantPermanent {
				t.Errorf("Permanent = %v, want %v", te.Permanent, tt.wantPermanent)
			}
			if IsTransient(err) == tt.wantPermanent {
				t.Errorf("IsTransient disagrees with Permanent=%v", tt.wantPermanent)
			}
		})
	}
}

func TestSMTP_SendSTARTTLS(t *testing.T) {
	inbox := &smtpsink.Inbox{}
	cfg := startTLSSink(t, smtpsink.Options{
		Username: "mailer",
		Password: "secret",
		Deliver:  inbox.Deliver,
	}, selfSignedTLS(t))
	cfg.UseTLS = true
	cfg.InsecureSkipVerify = true
	cfg.HeloName = "worker.example.com"
	cfg.Username, cfg.Password = "mailer", "secret"

	if err := NewSMTP(cfg, zerolog.Nop()).Send(context.Background(), testMessage(t)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	msgs := inbox.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 delivered message, got %d", len(msgs))
	}
	if !msgs[0].TLS {
		t.Error("message should arrive over the upgraded connection")
	}
}

func TestSMTP_STARTTLSFailures(t *testing.T) {
	tests := []struct {
		name      string
		serverTLS *tls.Config
		skipCheck bool
	}{
		// The sink offers no STARTTLS without a certificate.
		{name: "not offered", serverTLS: nil, skipCheck: true},
		{name: "untrusted certificate", serverTLS: selfSignedTLS(t), skipCheck: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inbox := &smtpsink.Inbox{}
			cfg := startTLSSink(t, smtpsink.Options{Deliver: inbox.Deliver}, tt.serverTLS)
			cfg.UseTLS = true
			cfg.InsecureSkipVerify = tt.skipCheck

			err := NewSMTP(cfg, zerolog.Nop()).Send(context.Background(), testMessage(t))

			var te *Error
			if !errors.As(err, &te) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if te.Op != "starttls" {
				t.Errorf("Op = %q, want starttls", te.Op)
			}
			if len(inbox.Messages()) != 0 {
				t.Error("no message may be sent in the clear")
			}
		})
	}
}

func TestSMTP_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	tr := NewSMTP(Config{Host: "127.0.0.1", Port: addr.Port, Timeout: 2 * time.Second}, zerolog.Nop())
	err = tr.Send(context.Background(), testMessage(t))

	var te *Error
	if !errors.As(err, &te) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if te.Op != "dial" {
		t.Errorf("Op = %q, want dial", te.Op)
	}
	if !IsTransient(err) {
		t.Error("connection refused should be transient")
	}
}

func TestSMTP_HealthCheck(t *testing.T) {
	cfg := startSink(t, smtpsink.Options{})
	if err := NewSMTP(cfg, zerolog.Nop()).HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck: %v", err)
	}
}

func TestSMTP_DefaultTimeout(t *testing.T) {
	tr := NewSMTP(Config{Host: "localhost", Port: 25}, zerolog.Nop())
	if tr.cfg.Timeout != defaultTimeout {
		t.Errorf("Timeout = %v, want %v", tr.cfg.Timeout, defaultTimeout)
	}
	if tr.Name() != "smtp" {
		t.Errorf("Name = %q", tr.Name())
	}
	if tr.implicitTLS() {
		t.Error("port 25 should not use implicit TLS")
	}
	if !NewSMTP(Config{Host: "localhost", Port: 465}, zerolog.Nop()).implicitTLS() {
		t.Error("port 465 should use implicit TLS")
	}
}
