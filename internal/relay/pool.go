package relay

import (
	"agora/backend/internal/models"
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"
)

var ErrNoRelays = errors.New("no relay available")

// Pool fans a Transport out over several relays. Subscriptions and queries
// merge every relay's events; a publish succeeds once any relay accepts.
type Pool struct {
	relays []Transport

	mu   sync.Mutex
	subs map[string][]relaySub
	seq  int
}

type relaySub struct {
	relay Transport
	id    string
}

func NewPool(relays ...Transport) *Pool {
	return &Pool{relays: relays, subs: make(map[string][]relaySub)}
}

// DialPool connects to every url concurrently. Unreachable relays are logged
// and skipped; it fails only when none connects.
func DialPool(ctx context.Context, urls []string) (*Pool, []*Client, error) {
	clients := make([]*Client, len(urls))
	var g errgroup.Group
	for i, url := range urls {
		g.Go(func() error {
			c, err := Dial(ctx, url)
			if err != nil {
				log.Printf("WARNING: skipping relay %s: %v", url, err)
				return nil
			}
			clients[i] = c
			return nil
		})
	}
	g.Wait()

	var (
		live   []*Client
		relays []Transport
	)
	for _, c := range clients {
		if c != nil {
			live = append(live, c)
			relays = append(relays, c)
		}
	}
	if len(relays) == 0 {
		return nil, nil, ErrNoRelays
	}
	log.Printf("INFO: connected to %d/%d relays", len(relays), len(urls))
	return NewPool(relays...), live, nil
}

func (p *Pool) Subscribe(ctx context.Context, filters []models.Filter, onEvent func(models.Event)) (string, error) {
	var (
		subs []relaySub
		errs []error
	)
	for _, r := range p.relays {
		id, err := r.Subscribe(ctx, filters, onEvent)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		subs = append(subs, relaySub{relay: r, id: id})
	}
	if len(subs) == 0 {
		return "", errors.Join(append(errs, ErrNoRelays)...)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	poolID := fmt.Sprintf("pool-%d", p.seq)
	p.subs[poolID] = subs
	return poolID, nil
}

func (p *Pool) Unsubscribe(subID string) {
	p.mu.Lock()
	subs := p.subs[subID]
	delete(p.subs, subID)
	p.mu.Unlock()
	for _, s := range subs {
		s.relay.Unsubscribe(s.id)
	}
}

func (p *Pool) Publish(ctx context.Context, evt models.Event) (string, error) {
	var (
		mu       sync.Mutex
		accepted int
		errs     []error
		g        errgroup.Group
	)
	for _, r := range p.relays {
		g.Go(func() error {
			_, err := r.Publish(ctx, evt)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
			} else {
				accepted++
			}
			return nil
		})
	}
	g.Wait()

	if accepted == 0 {
		if len(errs) == 0 {
			return "", ErrNoRelays
		}
		return "", errors.Join(errs...)
	}
	if len(errs) > 0 {
		log.Printf("WARNING: event %s accepted by %d relays, %d failed", evt.ID, accepted, len(errs))
	}
	return evt.ID, nil
}

// Query asks every relay concurrently and merges the answers by id. A relay
// that fails or times out contributes whatever it returned.
func (p *Pool) Query(ctx context.Context, filters []models.Filter) ([]models.Event, error) {
	results := make([][]models.Event, len(p.relays))
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range p.relays {
		g.Go(func() error {
			events, err := r.Query(gctx, filters)
			if err != nil {
				log.Printf("WARNING: relay query failed: %v", err)
			}
			results[i] = events
			return nil
		})
	}
	g.Wait()

	seen := make(map[string]struct{})
	var merged []models.Event
	for _, events := range results {
		for _, evt := range events {
			if _, dup := seen[evt.ID]; dup {
				continue
			}
			seen[evt.ID] = struct{}{}
			merged = append(merged, evt)
		}
	}
	return merged, ctx.Err()
}
