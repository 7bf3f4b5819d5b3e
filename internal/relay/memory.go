package relay

import (
	"agora/backend/internal/models"
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
)

// Memory is an in-process relay. It stores every accepted event and pushes
// matching ones to subscribers synchronously, which makes it a deterministic
// Transport for tests and single-node setups.
type Memory struct {
	mu         sync.Mutex
	events     []models.Event
	ids        map[string]struct{}
	subs       map[string]memorySub
	seq        int
	publishErr error
}

type memorySub struct {
	filters []models.Filter
	onEvent func(models.Event)
}

func NewMemory() *Memory {
	return &Memory{
		ids:  make(map[string]struct{}),
		subs: make(map[string]memorySub),
	}
}

// FailPublish makes every later Publish fail with err until called with nil.
func (m *Memory) FailPublish(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishErr = err
}

func (m *Memory) Subscribe(_ context.Context, filters []models.Filter, onEvent func(models.Event)) (string, error) {
	m.mu.Lock()
	m.seq++
	subID := fmt.Sprintf("mem-%d", m.seq)
	m.subs[subID] = memorySub{filters: filters, onEvent: onEvent}
	stored := m.match(filters)
	m.mu.Unlock()

	for _, evt := range stored {
		onEvent(evt)
	}
	return subID, nil
}

func (m *Memory) Unsubscribe(subID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, subID)
}

// Publish stores evt and delivers it to matching subscribers. Publishing a
// stored event again is accepted without a second delivery.
func (m *Memory) Publish(_ context.Context, evt models.Event) (string, error) {
	m.mu.Lock()
	if m.publishErr != nil {
		err := m.publishErr
		m.mu.Unlock()
		return "", err
	}
	if _, dup := m.ids[evt.ID]; dup {
		m.mu.Unlock()
		return evt.ID, nil
	}
	m.ids[evt.ID] = struct{}{}
	m.events = append(m.events, evt)

	var targets []func(models.Event)
	for _, sub := range m.subs {
		if models.MatchAny(sub.filters, evt) {
			targets = append(targets, sub.onEvent)
		}
	}
	m.mu.Unlock()

	for _, deliver := range targets {
		deliver(evt)
	}
	return evt.ID, nil
}

func (m *Memory) Query(_ context.Context, filters []models.Filter) ([]models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.match(filters), nil
}

// Events returns every stored event in arrival order.
func (m *Memory) Events() []models.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.events)
}

// match applies each filter's limit to its newest matches. Callers hold mu.
func (m *Memory) match(filters []models.Filter) []models.Event {
	seen := make(map[string]struct{})
	var out []models.Event
	for _, f := range filters {
		var hits []models.Event
		for _, evt := range m.events {
			if f.Matches(evt) {
				hits = append(hits, evt)
			}
		}
		if f.Limit > 0 && len(hits) > f.Limit {
			slices.SortStableFunc(hits, func(a, b models.Event) int { return cmp.Compare(b.CreatedAt, a.CreatedAt) })
			hits = hits[:f.Limit]
		}
		for _, evt := range hits {
			if _, ok := seen[evt.ID]; ok {
				continue
			}
			seen[evt.ID] = struct{}{}
			out = append(out, evt)
		}
	}
	return out
}
