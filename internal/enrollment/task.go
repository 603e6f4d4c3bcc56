// Package enrollment defines the task payloads exchanged between producers
// and workers.
package enrollment

import (
	"fmt"
	"strings"
)

// Task names registered on the queue.
const (
	TaskSendCourseEnrollmentEmail = "send_course_enrollment_email"
	TaskSendCustomEmail           = "send_custom_email"
)

// Task asks a worker to send one enrollment confirmation. UserID is opaque
// and Email is not validated beyond presence.
type Task struct {
	CourseName string `json:"course_name"`
	UserID     string `json:"user_id"`
	Email      string `json:"email"`
	UserName   string `json:"user_name,omitempty"`
}

// Validate reports every missing required field in one error.
func (t Task) Validate() error {
	return requireFields(
		field{"course_name", t.CourseName},
		field{"user_id", t.UserID},
		field{"email", t.Email},
	)
}

// CustomEmail asks a worker to send an arbitrary message. HTMLContent is
// optional.
type CustomEmail struct {
	To           string `json:"to"`
	Subject      string `json:"subject"`
	PlainContent string `json:"plain_content"`
	HTMLContent  string `json:"html_content,omitempty"`
}

// Validate reports every missing required field in one error.
func (c CustomEmail) Validate() error {
	return requireFields(
		field{"to", c.To},
		field{"subject", c.Subject},
		field{"plain_content", c.PlainContent},
	)
}

type field struct {
	name  string
	value string
}

// MissingFieldsError lists required fields that were empty.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("missing required fields: %s", strings.Join(e.Fields, ", "))
}

func requireFields(fields ...field) error {
	var missing []string
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return &MissingFieldsError{Fields: missing}
	}
	return nil
}
