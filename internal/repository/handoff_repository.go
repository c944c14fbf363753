package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// HandoffPrefix marks a side-channel slot that carries the record collection.
const HandoffPrefix = "P1ST_PROVIDERS_JSON::"

// HandoffRepository is the same-context side channel: a single named slot
// that outlives one run of the context but holds only the latest value.
// Keys are accepted for interface compatibility; there is one slot per path.
// A slot without HandoffPrefix belongs to someone else and reads as absent.
type HandoffRepository struct {
	path string
}

// NewHandoffRepository binds the side channel to a file path.
func NewHandoffRepository(path string) *HandoffRepository {
	return &HandoffRepository{path: path}
}

func (r *HandoffRepository) Get(_ context.Context, _ string) ([]byte, bool, error) {
	if r.path == "" {
		return nil, false, ErrBackendClosed
	}
	content, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	value, ok := bytes.CutPrefix(content, []byte(HandoffPrefix))
	if !ok {
		return nil, false, nil
	}
	return value, true, nil
}

func (r *HandoffRepository) Set(_ context.Context, _ string, value []byte) error {
	if r.path == "" {
		return ErrBackendClosed
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create handoff dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".handoff-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append([]byte(HandoffPrefix), value...)); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), r.path)
}

func (r *HandoffRepository) Delete(_ context.Context, _ string) error {
	if r.path == "" {
		return ErrBackendClosed
	}
	if err := os.Remove(r.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
