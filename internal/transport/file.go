package transport

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// File writes each message as an .eml file instead of delivering it.
// Intended for development.
type File struct {
	outputDir string
}

// NewFile creates a File transport writing into dir.
func NewFile(dir string) *File {
	if dir == "" {
		dir = defaultOutputDir
	}
	return &File{outputDir: dir}
}

func (f *File) Name() string { return "file" }

// Path returns the file a message with the given id and time is written to.
func (f *File) Path(id string, at time.Time) string {
	safeID := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(id)
	return filepath.Join(f.outputDir, fmt.Sprintf("%s_%s.eml", at.Format("20060102_150405"), safeID))
}

// Send implements Transport.
func (f *File) Send(_ context.Context, msg *Message) error {
	if err := os.MkdirAll(f.outputDir, 0o750); err != nil {
		return &Error{Op: "write", Permanent: true, Err: fmt.Errorf("create output dir: %w", err)}
	}

	path := f.Path(msg.ID, time.Now())
	if err := os.WriteFile(path, msg.Raw, 0o640); err != nil {
		return &Error{Op: "write", Err: fmt.Errorf("write %s: %w", path, err)}
	}
	return nil
}

// HealthCheck verifies the output directory is writable.
func (f *File) HealthCheck(context.Context) error {
	if err := os.MkdirAll(f.outputDir, 0o750); err != nil {
		return fmt.Errorf("file: output dir not writable: %w", err)
	}
	return nil
}
