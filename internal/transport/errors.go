package transport

import (
	"errors"
	"fmt"

	gosmtp "github.com/emersion/go-smtp"
)

// Error is a failed submission. Permanent failures will not succeed on a
// retry with the same message; everything else may.
type Error struct {
	// Op is the protocol step that failed: dial, starttls, auth, send, write.
	Op        string
	Code      int // SMTP reply code, zero when none was received
	Permanent bool
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// classify wraps err as an *Error. SMTP 5xx replies are permanent and 4xx
// replies transient; network and TLS failures are transient.
func classify(op string, err error) *Error {
	te := &Error{Op: op, Err: err}

	var se *gosmtp.SMTPError
	if errors.As(err, &se) {
		te.Code = se.Code
		te.Permanent = se.Code >= 500
	}
	return te
}

// IsPermanent reports whether err is a permanent transport failure.
func IsPermanent(err error) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Permanent
	}
	return false
}

// IsTransient reports whether err may succeed on retry. Errors that did not
// come from a transport are treated as transient.
func IsTransient(err error) bool {
	var te *Error
	if errors.As(err, &te) {
		return !te.Permanent
	}
	return true
}
