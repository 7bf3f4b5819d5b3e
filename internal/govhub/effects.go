package govhub

import (
	"agora/backend/internal/config"
	"context"
	"log"
)

// flush performs the side effects of a mutation after mu is released.
func (m *ManagerService) flush(fx *effects) {
	if fx.changed {
		m.mu.Lock()
		m.version++
		m.mu.Unlock()
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.QueryTimeout)
	defer cancel()

	if m.storage != nil {
		for _, evt := range fx.saveEvents {
			if err := m.storage.SaveEvent(ctx, evt); err != nil {
				log.Printf("ERROR: failed to cache event %s: %v", evt.ID, err)
			}
		}
		for _, c := range fx.communities {
			if err := m.storage.SaveCommunity(ctx, c); err != nil {
				log.Printf("ERROR: failed to save community %s: %v", c.ID, err)
			}
		}
	}

	for _, c := range fx.republish {
		go m.publishMembership(c)
	}
	for _, w := range fx.watch {
		go m.watchProposal(w.communityID, w.proposalID)
	}

	if m.notifier != nil {
		for _, r := range fx.resolved {
			m.notifier.KickResolved(r.kp, r.community)
		}
		for _, e := range fx.entries {
			m.notifier.ModerationLogged(e)
		}
	}

	if fx.changed {
		m.broadcast()
	}
}
