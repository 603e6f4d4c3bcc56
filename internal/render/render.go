// Package render builds the subject and the plain text and HTML bodies of
// outgoing notifications.
package render

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"net/url"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/sungwon/enroll-notify/internal/enrollment"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// dateLayout renders dates as "January 02, 2006".
const dateLayout = "January 02, 2006"

// Error reports that a message could not be rendered.
type Error struct {
	Template string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("render %s: %v", e.Template, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Branding holds the sender identity shown in message bodies.
type Branding struct {
	CompanyName   string `mapstructure:"name"`
	ContactNumber string `mapstructure:"contact_number"`
}

// DefaultBranding returns the default company details.
func DefaultBranding() Branding {
	return Branding{
		CompanyName:   "Poridhi",
		ContactNumber: "+0000000000",
	}
}

// Message is a rendered notification. HTML may be empty.
type Message struct {
	Subject string
	Text    string
	HTML    string
}

// Renderer renders notifications. It is safe for concurrent use.
type Renderer struct {
	branding Branding
	text     *texttemplate.Template
	html     *htmltemplate.Template
	now      func() time.Time
}

// New parses the embedded templates.
func New(branding Branding) (*Renderer, error) {
	text, err := texttemplate.ParseFS(templateFS, "templates/*.txt.tmpl")
	if err != nil {
		return nil, &Error{Template: "text", Err: err}
	}
	html, err := htmltemplate.ParseFS(templateFS, "templates/*.html.tmpl")
	if err != nil {
		return nil, &Error{Template: "html", Err: err}
	}

	return &Renderer{
		branding: branding,
		text:     text,
		html:     html,
		now:      time.Now,
	}, nil
}

// EnrollmentSubject returns the subject line for a course enrollment.
func EnrollmentSubject(courseName string) string {
	return fmt.Sprintf("🎉 Welcome to %s – Enrollment Confirmed!", courseName)
}

// Greeting returns the salutation for an optional user name.
func Greeting(userName string) string {
	if name := strings.TrimSpace(userName); name != "" {
		return "Dear " + name + ","
	}
	return "Dear Learner,"
}

type enrollmentData struct {
	Greeting      string
	CourseName    string
	UserID        string
	Date          string
	CompanyName   string
	ContactNumber string
	WhatsAppURL   htmltemplate.URL
}

// Enrollment renders the confirmation for t.
func (r *Renderer) Enrollment(t enrollment.Task) (*Message, error) {
	if strings.TrimSpace(t.CourseName) == "" {
		return nil, &Error{Template: "enrollment", Err: fmt.Errorf("course name is empty")}
	}

	data := enrollmentData{
		Greeting:      Greeting(t.UserName),
		CourseName:    t.CourseName,
		UserID:        t.UserID,
		Date:          r.now().Format(dateLayout),
		CompanyName:   r.branding.CompanyName,
		ContactNumber: r.branding.ContactNumber,
		WhatsAppURL:   htmltemplate.URL(whatsAppURL(r.branding.ContactNumber)),
	}

	var text, html bytes.Buffer
	if err := r.text.ExecuteTemplate(&text, "enrollment.txt.tmpl", data); err != nil {
		return nil, &Error{Template: "enrollment.txt.tmpl", Err: err}
	}
	if err := r.html.ExecuteTemplate(&html, "enrollment.html.tmpl", data); err != nil {
		return nil, &Error{Template: "enrollment.html.tmpl", Err: err}
	}

	return &Message{
		Subject: EnrollmentSubject(t.CourseName),
		Text:    text.String(),
		HTML:    html.String(),
	}, nil
}

// Custom passes a caller supplied message through unchanged.
func (r *Renderer) Custom(c enrollment.CustomEmail) (*Message, error) {
	if strings.TrimSpace(c.Subject) == "" {
		return nil, &Error{Template: "custom", Err: fmt.Errorf("subject is empty")}
	}
	return &Message{
		Subject: c.Subject,
		Text:    c.PlainContent,
		HTML:    c.HTMLContent,
	}, nil
}

// whatsAppURL builds the wa.me link for a phone number in international form.
func whatsAppURL(number string) string {
	digits := strings.TrimLeft(strings.TrimSpace(number), "+")
	return "https://wa.me/" + url.PathEscape(digits)
}
