package repository

import (
	"context"
	"errors"
)

// ErrBackendClosed is returned by repositories whose backing resource is gone.
var ErrBackendClosed = errors.New("backend closed")

// KVRepository persists opaque values by key. Every storage tier and the
// session descriptor lookup go through it.
type KVRepository interface {
	// Get returns the stored value and whether the key exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
