package transport

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

// Stdout writes a summary of each message to standard output instead of
// delivering it. Intended for development.
type Stdout struct {
	writer io.Writer
}

// NewStdout creates a Stdout transport writing to os.Stdout.
func NewStdout() *Stdout {
	return &Stdout{writer: os.Stdout}
}

func (s *Stdout) Name() string { return "stdout" }

// Send implements Transport.
func (s *Stdout) Send(_ context.Context, msg *Message) error {
	var b strings.Builder
	b.WriteString("--- stdout transport: message ---\n")
	fmt.Fprintf(&b, "Task:    %s\n", msg.ID)
	fmt.Fprintf(&b, "From:    %s\n", msg.From)
	fmt.Fprintf(&b, "To:      %s\n", strings.Join(msg.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	fmt.Fprintf(&b, "Size:    %d bytes\n", len(msg.Raw))
	b.WriteString("--- end ---\n")

	if _, err := io.WriteString(s.writer, b.String()); err != nil {
		return &Error{Op: "write", Err: err}
	}
	return nil
}

// HealthCheck always succeeds.
func (s *Stdout) HealthCheck(context.Context) error {
	return nil
}
