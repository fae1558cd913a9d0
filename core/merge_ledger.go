package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryMergeLedger is a process-local MergeMarker. Marks never expire:
// dropping one would let a re-run count its record twice.
type MemoryMergeLedger struct {
	mu      sync.Mutex
	entries map[string]time.Time
	Now     func() time.Time
}

func NewMemoryMergeLedger() *MemoryMergeLedger {
	return &MemoryMergeLedger{
		entries: map[string]time.Time{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (l *MemoryMergeLedger) Seen(_ context.Context, key string) (bool, error) {
	if l == nil {
		return false, fmt.Errorf("core: merge ledger is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return false, fmt.Errorf("core: merge key is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[key]
	return ok, nil
}

func (l *MemoryMergeLedger) Mark(_ context.Context, key string) error {
	if l == nil {
		return fmt.Errorf("core: merge ledger is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("core: merge key is required")
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.entries == nil {
		l.entries = map[string]time.Time{}
	}
	if _, ok := l.entries[key]; ok {
		return nil
	}
	l.entries[key] = now
	return nil
}

// MarkedAt reports when key was first marked.
func (l *MemoryMergeLedger) MarkedAt(key string) (time.Time, bool) {
	if l == nil {
		return time.Time{}, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	markedAt, ok := l.entries[strings.TrimSpace(key)]
	return markedAt, ok
}

func (l *MemoryMergeLedger) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *MemoryMergeLedger) now() time.Time {
	if l != nil && l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}
