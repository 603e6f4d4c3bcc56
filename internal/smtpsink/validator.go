package smtpsink

import (
	"fmt"
	"net/mail"
	"strings"
)

// envelopeAddress checks a MAIL FROM or RCPT TO argument and returns it with
// the domain lower-cased. Display names and comments are rejected: the
// envelope carries bare addresses only.
func envelopeAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	parsed, err := mail.ParseAddress(addr)
	if err != nil {
		return "", err
	}
	if parsed.Name != "" || parsed.Address != addr {
		return "", fmt.Errorf("not a bare address: %q", addr)
	}

	at := strings.LastIndexByte(parsed.Address, '@')
	return parsed.Address[:at] + "@" + strings.ToLower(parsed.Address[at+1:]), nil
}
