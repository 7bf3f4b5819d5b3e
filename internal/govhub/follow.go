package govhub

import (
	"agora/backend/internal/config"
	"agora/backend/internal/models"
	"cmp"
	"context"
	"fmt"
	"log"
	"slices"
)

// followFilters selects everything that belongs to a community: its
// definition, the proposals and moderation events referencing it, and votes,
// comments and deletions that also tag the community.
func followFilters(communityID string) []models.Filter {
	return []models.Filter{
		{Kinds: []int{models.KindCommunity}, Tags: map[string][]string{"d": {communityID}}},
		{Kinds: []int{models.KindProposal, models.KindModeration}, Tags: map[string][]string{"e": {communityID}}},
		{Kinds: []int{models.KindVote, models.KindComment, models.KindDeletion}, Tags: map[string][]string{"e": {communityID}}},
	}
}

func proposalFilters(proposalID string) []models.Filter {
	return []models.Filter{
		{Kinds: []int{models.KindVote, models.KindComment, models.KindDeletion}, Tags: map[string][]string{"e": {proposalID}}},
	}
}

// Follow loads the history of a community and subscribes to its live
// events. Live events are queued on IncomingCh, so Run must be running.
// Following an already followed community is a no-op.
func (m *ManagerService) Follow(ctx context.Context, communityID string) error {
	if m.transport == nil {
		return ErrNoTransport
	}
	m.mu.Lock()
	if _, ok := m.follows[communityID]; ok {
		m.mu.Unlock()
		return nil
	}
	f := &follow{watched: make(map[string]bool)}
	m.follows[communityID] = f
	m.mu.Unlock()

	filters := followFilters(communityID)
	m.backfill(ctx, filters)

	subID, err := m.transport.Subscribe(ctx, filters, m.enqueue)
	if err != nil {
		m.mu.Lock()
		delete(m.follows, communityID)
		m.mu.Unlock()
		return fmt.Errorf("subscribe to %s: %w", communityID, err)
	}

	m.mu.Lock()
	f.subIDs = append(f.subIDs, subID)
	var ids []string
	for id, p := range m.proposals {
		if p.CommunityID == communityID {
			ids = append(ids, id)
		}
	}
	for id, kp := range m.kicks {
		if kp.CommunityID == communityID {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.watchProposal(communityID, id)
	}
	log.Printf("INFO: following community %s", communityID)
	return nil
}

// backfill applies stored events matching filters before the live
// subscription starts. Partial results on timeout are still applied.
func (m *ManagerService) backfill(ctx context.Context, filters []models.Filter) {
	qctx, cancel := context.WithTimeout(ctx, config.QueryTimeout)
	defer cancel()

	events, err := m.transport.Query(qctx, filters)
	if err != nil {
		log.Printf("WARNING: history query returned %d events: %v", len(events), err)
	}
	slices.SortFunc(events, func(a, b models.Event) int { return cmp.Compare(a.CreatedAt, b.CreatedAt) })
	for _, evt := range events {
		m.HandleEvent(evt)
	}
}

// Unfollow closes every subscription opened for a community. Its state is
// kept.
func (m *ManagerService) Unfollow(communityID string) {
	m.mu.Lock()
	f, ok := m.follows[communityID]
	delete(m.follows, communityID)
	m.mu.Unlock()
	if !ok {
		return
	}
	for _, id := range f.subIDs {
		m.transport.Unsubscribe(id)
	}
	log.Printf("INFO: unfollowed community %s", communityID)
}

// Following lists the followed community ids.
func (m *ManagerService) Following() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.follows))
	for id := range m.follows {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// watchProposal subscribes to activity that tags only the proposal.
func (m *ManagerService) watchProposal(communityID, proposalID string) {
	m.mu.Lock()
	f, ok := m.follows[communityID]
	if !ok || f.watched[proposalID] {
		m.mu.Unlock()
		return
	}
	f.watched[proposalID] = true
	m.mu.Unlock()

	subID, err := m.transport.Subscribe(context.Background(), proposalFilters(proposalID), m.enqueue)
	if err != nil {
		log.Printf("ERROR: failed to watch proposal %s: %v", proposalID, err)
		m.mu.Lock()
		delete(f.watched, proposalID)
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.follows[communityID] != f {
		// Unfollowed while subscribing.
		m.transport.Unsubscribe(subID)
		return
	}
	f.subIDs = append(f.subIDs, subID)
}

// EventSource delivers events published by other instances.
type EventSource interface {
	ListenEvents(ctx context.Context, onEvent func(models.Event))
}

// ListenFanOut feeds events from other instances into the hub until ctx is
// done.
func (m *ManagerService) ListenFanOut(ctx context.Context, src EventSource) {
	src.ListenEvents(ctx, m.enqueue)
}
