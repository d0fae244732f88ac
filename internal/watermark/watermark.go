// Package watermark persists the single timestamp the change gate compares against.
package watermark

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// ErrCorrupt is wrapped by Read when the stored value is not a decimal int64.
var ErrCorrupt = errors.New("watermark corrupt")

// Store reads and writes the watermark. Read returns ok=false when nothing has been
// written yet; that is not an error.
type Store interface {
	Read(ctx context.Context) (value int64, ok bool, err error)
	Write(ctx context.Context, value int64) error
}

// MemoryStore keeps the watermark in process memory. Safe for concurrent use.
type MemoryStore struct {
	mu    sync.Mutex
	value int64
	set   bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Read implements Store.Read.
func (s *MemoryStore) Read(ctx context.Context) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.set, nil
}

// Write implements Store.Write.
func (s *MemoryStore) Write(ctx context.Context, value int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = value
	s.set = true
	return nil
}

func parseValue(raw []byte) (int64, error) {
	s := strings.TrimSpace(string(raw))
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an int64", ErrCorrupt, s)
	}
	return v, nil
}

func formatValue(v int64) []byte {
	return []byte(strconv.FormatInt(v, 10))
}
