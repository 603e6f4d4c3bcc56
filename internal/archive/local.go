package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Local stores messages as .eml files in a directory.
type Local struct {
	basePath string
}

// NewLocal creates a Local archive at basePath, creating the directory if
// it does not exist.
func NewLocal(basePath string) (*Local, error) {
	if err := os.MkdirAll(basePath, 0o750); err != nil {
		return nil, fmt.Errorf("archive: create base directory: %w", err)
	}
	return &Local{basePath: basePath}, nil
}

// Put writes the message through a temp file and rename, replacing any
// earlier copy for the same task.
func (s *Local) Put(_ context.Context, taskID string, raw []byte) error {
	name := objectName(taskID)
	finalPath := filepath.Join(s.basePath, name)

	tmp, err := os.CreateTemp(s.basePath, ".tmp-"+name+"-*")
	if err != nil {
		return fmt.Errorf("archive: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("archive: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("archive: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, finalPath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("archive: rename temp file: %w", err)
	}
	return nil
}

// Get returns the archived message or ErrNotFound.
func (s *Local) Get(_ context.Context, taskID string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.basePath, objectName(taskID)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("archive: read file: %w", err)
	}
	return data, nil
}
