// Package reconciler merges events delivered by any number of feeds: it
// drops duplicates and parks events whose parent has not arrived yet.
package reconciler

import (
	"agora/backend/internal/config"
	"agora/backend/internal/models"
	"log"
	"slices"
	"sync"
	"time"
)

// Stats are cumulative counters plus the current pending size.
type Stats struct {
	Seen     int `json:"seen"`
	Pending  int `json:"pending"`
	Released int `json:"released"`
	Expired  int `json:"expired"`
	Evicted  int `json:"evicted"`
}

type seenID struct {
	id string
	at time.Time
}

type orphan struct {
	evt      models.Event
	parent   string
	parkedAt time.Time
}

// Reconciler is safe for concurrent use.
type Reconciler struct {
	mu   sync.Mutex
	seen map[string]time.Time
	// seenOrder holds accepted ids oldest first; forgotten ones are skipped lazily.
	seenOrder []seenID
	pending   map[string][]*orphan
	byID      map[string]*orphan
	// queue holds parked orphans in arrival order; released ones are skipped lazily.
	queue []*orphan

	limit  int
	window time.Duration
	stats  Stats

	// SeenLimit and SeenRetention bound the duplicate filter. An id older
	// than the retention, or beyond the limit, is processed again when
	// redelivered.
	SeenLimit     int
	SeenRetention time.Duration

	Now func() time.Time
}

// New returns a reconciler holding at most limit orphans for window each.
// Non-positive values fall back to the defaults.
func New(limit int, window time.Duration) *Reconciler {
	if limit <= 0 {
		limit = config.OrphanLimit
	}
	if window <= 0 {
		window = config.OrphanWindow
	}
	return &Reconciler{
		seen:          make(map[string]time.Time),
		pending:       make(map[string][]*orphan),
		byID:          make(map[string]*orphan),
		limit:         limit,
		window:        window,
		SeenLimit:     config.SeenLimit,
		SeenRetention: config.SeenRetention,
		Now:           time.Now,
	}
}

// Accept marks evt as seen and reports whether it is new.
func (r *Reconciler) Accept(evt models.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.seen[evt.ID]; dup {
		return false
	}
	now := r.Now()
	r.seen[evt.ID] = now
	r.seenOrder = append(r.seenOrder, seenID{id: evt.ID, at: now})
	r.stats.Seen++
	r.pruneSeen(now)
	return true
}

// Seen reports whether an event with id was already accepted.
func (r *Reconciler) Seen(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.seen[id]
	return ok
}

// Forget removes id from the seen set so a later delivery is processed again.
func (r *Reconciler) Forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.seen, id)
}

// Park holds evt until parent is released. When the buffer is full the
// oldest orphan is evicted.
func (r *Reconciler) Park(parent string, evt models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[evt.ID]; ok {
		return
	}

	o := &orphan{evt: evt, parent: parent, parkedAt: r.Now()}
	r.pending[parent] = append(r.pending[parent], o)
	r.byID[evt.ID] = o
	r.queue = append(r.queue, o)

	for len(r.byID) > r.limit {
		oldest := r.popOldest()
		if oldest == nil {
			break
		}
		r.drop(oldest)
		r.stats.Evicted++
		log.Printf("WARNING: orphan buffer full, evicted %s waiting for %s", oldest.evt.ID, oldest.parent)
	}
}

// Release returns the orphans waiting for parent, in arrival order. Callers
// apply them and release again for every parent they define, which makes
// release recursive.
func (r *Reconciler) Release(parent string) []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	waiting := r.pending[parent]
	if len(waiting) == 0 {
		return nil
	}
	delete(r.pending, parent)

	out := make([]models.Event, 0, len(waiting))
	for _, o := range waiting {
		delete(r.byID, o.evt.ID)
		out = append(out, o.evt)
	}
	r.stats.Released += len(out)
	r.compact()
	return out
}

// Sweep discards orphans parked for longer than the window and returns them.
// An expired orphan is unresolved, not an error; a later delivery of the same
// event is processed again.
func (r *Reconciler) Sweep(now time.Time) []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []models.Event
	for len(r.queue) > 0 {
		o := r.queue[0]
		if r.byID[o.evt.ID] != o {
			r.queue = r.queue[1:]
			continue
		}
		if now.Sub(o.parkedAt) < r.window {
			break
		}
		r.queue = r.queue[1:]
		r.drop(o)
		expired = append(expired, o.evt)
	}
	if len(expired) > 0 {
		r.stats.Expired += len(expired)
		log.Printf("INFO: discarded %d unresolved orphan events", len(expired))
	}
	return expired
}

// Pending reports how many orphans wait for parent.
func (r *Reconciler) Pending(parent string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending[parent])
}

func (r *Reconciler) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats
	s.Pending = len(r.byID)
	return s
}

func (r *Reconciler) popOldest() *orphan {
	for len(r.queue) > 0 {
		o := r.queue[0]
		r.queue = r.queue[1:]
		if r.byID[o.evt.ID] == o {
			return o
		}
	}
	return nil
}

func (r *Reconciler) drop(o *orphan) {
	delete(r.byID, o.evt.ID)
	delete(r.seen, o.evt.ID)
	siblings := slices.DeleteFunc(r.pending[o.parent], func(s *orphan) bool { return s == o })
	if len(siblings) == 0 {
		delete(r.pending, o.parent)
	} else {
		r.pending[o.parent] = siblings
	}
}

// pruneSeen forgets the oldest ids past the retention or the limit.
func (r *Reconciler) pruneSeen(now time.Time) {
	for len(r.seenOrder) > 0 {
		e := r.seenOrder[0]
		if at, ok := r.seen[e.id]; !ok || !at.Equal(e.at) {
			r.seenOrder = r.seenOrder[1:]
			continue
		}
		if len(r.seen) <= r.SeenLimit && now.Sub(e.at) < r.SeenRetention {
			break
		}
		delete(r.seen, e.id)
		r.seenOrder = r.seenOrder[1:]
	}
	if len(r.seenOrder) > 2*len(r.seen)+16 {
		r.seenOrder = slices.DeleteFunc(r.seenOrder, func(e seenID) bool {
			at, ok := r.seen[e.id]
			return !ok || !at.Equal(e.at)
		})
	}
}

// compact drops released entries from the queue once they dominate it.
func (r *Reconciler) compact() {
	if len(r.queue) <= 2*len(r.byID)+16 {
		return
	}
	r.queue = slices.DeleteFunc(r.queue, func(o *orphan) bool { return r.byID[o.evt.ID] != o })
}
