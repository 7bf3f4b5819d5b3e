package govhub

import (
	"agora/backend/internal/models"
	"agora/backend/internal/modlog"
	"agora/backend/internal/tally"
	"cmp"
	"slices"
)

// Subscribe registers l for every later state change and returns a function
// that removes it. Listeners run on the goroutine that made the change and
// must not block.
func (m *ManagerService) Subscribe(l Listener) (unsubscribe func()) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = l
	return func() {
		m.listenersMu.Lock()
		defer m.listenersMu.Unlock()
		delete(m.listeners, id)
	}
}

func (m *ManagerService) broadcast() {
	m.listenersMu.Lock()
	ls := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		ls = append(ls, l)
	}
	m.listenersMu.Unlock()
	if len(ls) == 0 {
		return
	}
	snap := m.Snapshot()
	for _, l := range ls {
		l(snap)
	}
}

// Snapshot returns a deep copy of the current read model.
func (m *ManagerService) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		Version:     m.version,
		Communities: make(map[string]*models.Community, len(m.communities)),
		Proposals:   m.proposalViews(""),
		Kicks:       m.kickViews(""),
		Invites:     m.inviteList(""),
	}
	for id, st := range m.communities {
		if st.effective != nil {
			snap.Communities[id] = st.effective.Clone()
		}
	}
	return snap
}

// Communities lists the ids of every known community.
func (m *ManagerService) Communities() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.communities))
	for id, st := range m.communities {
		if st.effective != nil {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Community returns the effective state of a community.
func (m *ManagerService) Community(id string) (*models.Community, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.communities[id]
	if st == nil || st.effective == nil {
		return nil, false
	}
	return st.effective.Clone(), true
}

// Proposals lists a community's non-kick proposals, newest first.
func (m *ManagerService) Proposals(communityID string) []ProposalView {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.proposalViews(communityID)
}

// KickProposals lists a community's kick proposals, newest first.
func (m *ManagerService) KickProposals(communityID string) []KickView {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.kickViews(communityID)
}

// Invites lists a community's invite links, newest first.
func (m *ManagerService) Invites(communityID string) []models.InviteLink {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inviteList(communityID)
}

// Tally returns the latest tally of a proposal or kick proposal.
func (m *ManagerService) Tally(proposalID string) (tally.Result, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.tallies[proposalID]
	return res, ok
}

// Comments returns the comments on a proposal, oldest first.
func (m *ManagerService) Comments(proposalID string) []Comment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.comments[proposalID])
}

// ModerationLog pages through the moderation history, newest first.
func (m *ManagerService) ModerationLog(q modlog.Query) (modlog.Page, error) {
	return m.modlog.Page(q)
}

func (m *ManagerService) proposalViews(communityID string) []ProposalView {
	out := []ProposalView{}
	for _, p := range m.proposals {
		if communityID != "" && p.CommunityID != communityID {
			continue
		}
		out = append(out, ProposalView{Proposal: *p.Clone(), Tally: m.tallies[p.ID], Comments: len(m.comments[p.ID])})
	}
	slices.SortFunc(out, func(a, b ProposalView) int { return newestFirst(&a.Proposal, &b.Proposal) })
	return out
}

func (m *ManagerService) kickViews(communityID string) []KickView {
	out := []KickView{}
	for _, kp := range m.kicks {
		if communityID != "" && kp.CommunityID != communityID {
			continue
		}
		out = append(out, KickView{KickProposal: *kp.Clone(), Tally: m.tallies[kp.ID], Comments: len(m.comments[kp.ID])})
	}
	slices.SortFunc(out, func(a, b KickView) int { return newestFirst(&a.Proposal, &b.Proposal) })
	return out
}

func (m *ManagerService) inviteList(communityID string) []models.InviteLink {
	out := []models.InviteLink{}
	for _, inv := range m.invites {
		if communityID == "" || inv.CommunityID == communityID {
			out = append(out, *cloneInvite(inv))
		}
	}
	slices.SortFunc(out, func(a, b models.InviteLink) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

func newestFirst(a, b *models.Proposal) int {
	if c := cmp.Compare(b.CreatedAt, a.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// openKicks returns the kick proposals of a community. Callers hold mu.
func (m *ManagerService) openKicks(communityID string) []*models.KickProposal {
	var out []*models.KickProposal
	for _, kp := range m.kicks {
		if kp.CommunityID == communityID && kp.Status == models.StatusActive {
			out = append(out, kp)
		}
	}
	return out
}
