// Package modlog keeps the append-only moderation history as a
// reverse-chronological, paginated read model. It is never replayed to
// rebuild membership.
package modlog

import (
	"agora/backend/internal/models"
	"cmp"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

var ErrBadCursor = errors.New("invalid cursor")

// Store persists entries. Save must be idempotent by entry id.
type Store interface {
	SaveModerationEntry(ctx context.Context, entry *models.ModerationLogEntry) error
}

// Query selects a page of entries. Empty fields match everything.
type Query struct {
	CommunityID string
	Action      models.ModerationAction
	Target      string
	Cursor      string
	Limit       int
}

// Page is one slice of the log, newest first.
type Page struct {
	Entries    []models.ModerationLogEntry `json:"entries"`
	NextCursor string                      `json:"next_cursor,omitempty"`
}

// Log is safe for concurrent use.
type Log struct {
	mu      sync.RWMutex
	entries []models.ModerationLogEntry // newest first
	ids     map[string]struct{}
	store   Store
}

// New returns an empty log; store may be nil.
func New(store Store) *Log {
	return &Log{ids: make(map[string]struct{}), store: store}
}

// newestFirst orders by timestamp descending, then id ascending.
func newestFirst(a, b models.ModerationLogEntry) int {
	if c := cmp.Compare(b.Timestamp, a.Timestamp); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// Append adds entry unless its id is already present and reports whether it
// was added. A persistence failure is logged; the entry stays in the read
// model.
func (l *Log) Append(ctx context.Context, entry models.ModerationLogEntry) bool {
	if entry.ID == "" {
		log.Printf("WARNING: moderation entry without id dropped (%s on %s)", entry.Action, entry.Target)
		return false
	}
	if !l.insert(entry) {
		return false
	}
	if l.store != nil {
		if err := l.store.SaveModerationEntry(ctx, &entry); err != nil {
			log.Printf("ERROR: failed to persist moderation entry %s: %v", entry.ID, err)
		}
	}
	return true
}

// Restore loads previously persisted entries without writing them back.
func (l *Log) Restore(entries []models.ModerationLogEntry) {
	for _, e := range entries {
		l.insert(e)
	}
}

func (l *Log) insert(entry models.ModerationLogEntry) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, dup := l.ids[entry.ID]; dup {
		return false
	}
	entry.Metadata = maps.Clone(entry.Metadata)
	i, _ := slices.BinarySearchFunc(l.entries, entry, newestFirst)
	l.entries = slices.Insert(l.entries, i, entry)
	l.ids[entry.ID] = struct{}{}
	return true
}

// Has reports whether an entry with id was appended.
func (l *Log) Has(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.ids[id]
	return ok
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Page returns entries matching q, newest first, after q.Cursor.
func (l *Log) Page(q Query) (Page, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	limit = min(limit, MaxPageSize)

	l.mu.RLock()
	defer l.mu.RUnlock()

	start := 0
	if q.Cursor != "" {
		after, err := decodeCursor(q.Cursor)
		if err != nil {
			return Page{}, err
		}
		start, _ = slices.BinarySearchFunc(l.entries, after, newestFirst)
		if start < len(l.entries) && l.entries[start].ID == after.ID {
			start++
		}
	}

	page := Page{Entries: []models.ModerationLogEntry{}}
	for i := start; i < len(l.entries); i++ {
		e := l.entries[i]
		if !q.matches(e) {
			continue
		}
		if len(page.Entries) == limit {
			page.NextCursor = encodeCursor(page.Entries[limit-1])
			break
		}
		e.Metadata = maps.Clone(e.Metadata)
		page.Entries = append(page.Entries, e)
	}
	return page, nil
}

func (q Query) matches(e models.ModerationLogEntry) bool {
	if q.CommunityID != "" && e.CommunityID != q.CommunityID {
		return false
	}
	if q.Action != "" && e.Action != q.Action {
		return false
	}
	if q.Target != "" && e.Target != q.Target {
		return false
	}
	return true
}

func encodeCursor(e models.ModerationLogEntry) string {
	raw := strconv.FormatInt(e.Timestamp, 10) + ":" + e.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (models.ModerationLogEntry, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return models.ModerationLogEntry{}, fmt.Errorf("%w: %v", ErrBadCursor, err)
	}
	ts, id, ok := strings.Cut(string(raw), ":")
	if !ok {
		return models.ModerationLogEntry{}, ErrBadCursor
	}
	n, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return models.ModerationLogEntry{}, fmt.Errorf("%w: %v", ErrBadCursor, err)
	}
	return models.ModerationLogEntry{ID: id, Timestamp: n}, nil
}
