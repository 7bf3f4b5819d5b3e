package permission

import (
	"context"
	"sync"
	"time"
)

// ActionLog records a caller's own recent actions for sliding-window throttles.
type ActionLog interface {
	Record(ctx context.Context, caller string, action Action, at time.Time) error
	// Count returns how many actions happened strictly after since.
	Count(ctx context.Context, caller string, action Action, since time.Time) (int, error)
}

// MemoryLog is an in-process ActionLog.
type MemoryLog struct {
	mu      sync.Mutex
	entries map[string][]time.Time
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{entries: make(map[string][]time.Time)}
}

func logKey(caller string, action Action) string {
	return string(action) + ":" + caller
}

func (l *MemoryLog) Record(_ context.Context, caller string, action Action, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := logKey(caller, action)
	l.entries[key] = append(l.entries[key], at)
	return nil
}

func (l *MemoryLog) Count(_ context.Context, caller string, action Action, since time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := logKey(caller, action)

	// Drop entries that fell out of the window, keeping the slice short.
	kept := l.entries[key][:0]
	for _, at := range l.entries[key] {
		if at.After(since) {
			kept = append(kept, at)
		}
	}
	if len(kept) == 0 {
		delete(l.entries, key)
		return 0, nil
	}
	l.entries[key] = kept
	return len(kept), nil
}
