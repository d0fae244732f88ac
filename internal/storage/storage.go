// Package storage writes encoded snapshots to durable storage.
package storage

import (
	"context"
	"errors"
	"fmt"
)

// ErrStorage matches every *Error with errors.Is.
var ErrStorage = errors.New("snapshot storage failed")

// Writer stores one snapshot body under key. Writing an existing key replaces it.
type Writer interface {
	Put(ctx context.Context, key string, body []byte) error
	// Backend names the writer for logs and metric labels.
	Backend() string
}

// Error is a failed Put.
type Error struct {
	Backend string
	Key     string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s put %s: %v", e.Backend, e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrStorage }
