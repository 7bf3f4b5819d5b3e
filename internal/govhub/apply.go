package govhub

import (
	"agora/backend/internal/config"
	"agora/backend/internal/kick"
	"agora/backend/internal/models"
	"agora/backend/internal/tally"
	"agora/backend/internal/validator"
	"cmp"
	"context"
	"errors"
	"log"
	"maps"
	"slices"
)

// effects collects the work a mutation implies outside the lock.
type effects struct {
	restoring   bool
	changed     bool
	saveEvents  []models.Event
	communities []*models.Community
	resolved    []resolvedKick
	entries     []models.ModerationLogEntry
	watch       []watchRequest
	republish   []*models.Community
}

type resolvedKick struct {
	kp        models.KickProposal
	community models.Community
}

type watchRequest struct {
	communityID string
	proposalID  string
}

type work struct {
	evt     models.Event
	content validator.Content
}

// ingest runs the inbound pipeline for evt and every orphan it releases.
// Callers hold mu.
func (m *ManagerService) ingest(evt models.Event, fx *effects) bool {
	if m.reconciler.Seen(evt.ID) {
		return false
	}
	// Validate before marking the id seen, so a forged copy cannot shadow
	// the genuine event.
	content, err := m.validator.Decode(evt)
	if err != nil {
		log.Printf("WARNING: dropping event: %v", err)
		return false
	}
	if !m.reconciler.Accept(evt) {
		return false
	}
	if !fx.restoring {
		fx.saveEvents = append(fx.saveEvents, evt)
	}

	queue := []work{{evt: evt, content: content}}
	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]
		for _, parent := range m.apply(item.evt, item.content, fx) {
			for _, released := range m.reconciler.Release(parent) {
				c, err := m.validator.Decode(released)
				if err != nil {
					continue
				}
				queue = append(queue, work{evt: released, content: c})
			}
		}
	}
	return true
}

// apply dispatches on the decoded content and returns the ids of entities
// that became known, whose orphans can now be released.
func (m *ManagerService) apply(evt models.Event, content validator.Content, fx *effects) []string {
	now := m.now().Unix()
	switch c := content.(type) {
	case validator.CommunityContent:
		return m.applyCommunity(evt, c, now, fx)
	case validator.ProposalContent:
		return m.applyProposal(evt, c, now, fx)
	case validator.VoteContent:
		m.applyVote(evt, c, now, fx)
	case validator.CommentContent:
		m.applyComment(evt, c, fx)
	case validator.ModerationContent:
		m.applyModeration(evt, c, fx)
	case validator.DeletionContent:
		m.applyDeletion(evt, c, now, fx)
	}
	return nil
}

func (m *ManagerService) applyCommunity(evt models.Event, c validator.CommunityContent, now int64, fx *effects) []string {
	st, ok := m.communities[c.ID]
	if !ok {
		st = newCommunityState(c.ID)
		m.communities[c.ID] = st
	}
	if _, dup := st.versions[evt.ID]; dup {
		return nil
	}
	wasKnown := st.current != nil
	prevEventID := ""
	if wasKnown {
		prevEventID = st.current.EventID
	}

	st.versions[evt.ID] = communityVersion{evt: evt, content: c}
	st.rebuild()

	if st.current.EventID == prevEventID {
		return nil
	}
	fx.changed = true
	fx.communities = append(fx.communities, st.effective.Clone())
	m.retallyCommunity(st.id, now, fx)
	if !wasKnown {
		return []string{c.ID}
	}
	return nil
}

func (m *ManagerService) applyProposal(evt models.Event, pc validator.ProposalContent, now int64, fx *effects) []string {
	st := m.communities[pc.CommunityID]
	if st == nil || st.effective == nil {
		m.reconciler.Park(pc.CommunityID, evt)
		return nil
	}
	if pc.IsKick() && pc.TargetPubkey == st.effective.Creator {
		log.Printf("WARNING: ignoring kick proposal %s targeting the creator of %s", pc.ID, st.id)
		return nil
	}

	if existing := m.lookup(pc.ID); existing != nil {
		// Only the author may replace a proposal, and the original wins.
		if existing.Creator != evt.PubKey || !models.Newer(models.Event{ID: existing.EventID, CreatedAt: existing.CreatedAt}, evt) {
			return nil
		}
		existing.Title, existing.Description = pc.Title, pc.Description
		existing.CreatedAt, existing.EventID = evt.CreatedAt, evt.ID
		fx.changed = true
		return nil
	}

	p := models.Proposal{
		ID:          pc.ID,
		CommunityID: pc.CommunityID,
		Title:       pc.Title,
		Description: pc.Description,
		Options:     slices.Clone(pc.Options),
		Category:    models.Category(pc.Category),
		Creator:     evt.PubKey,
		CreatedAt:   evt.CreatedAt,
		EndsAt:      pc.EndsAt,
		EventID:     evt.ID,
		Votes:       make(map[string]models.Ballot),
		Status:      models.StatusActive,
	}
	if p.EndsAt == 0 {
		p.EndsAt = p.CreatedAt + int64(config.DefaultVotingPeriod.Seconds())
	}

	if pc.IsKick() {
		kp := &models.KickProposal{Proposal: p, TargetPubkey: pc.TargetPubkey}
		m.kicks[kp.ID] = kp
		m.evaluateKick(kp, now, fx)
	} else {
		pp := &p
		m.proposals[pp.ID] = pp
		m.evaluateProposal(pp, now, fx)
	}
	fx.changed = true
	if _, followed := m.follows[pc.CommunityID]; followed {
		fx.watch = append(fx.watch, watchRequest{communityID: pc.CommunityID, proposalID: pc.ID})
	}
	return []string{pc.ID}
}

func (m *ManagerService) applyVote(evt models.Event, vc validator.VoteContent, now int64, fx *effects) {
	p := m.lookup(vc.ProposalID)
	if p == nil {
		m.reconciler.Park(vc.ProposalID, evt)
		return
	}
	if vc.OptionIndex >= len(p.Options) {
		log.Printf("WARNING: vote %s has option %d, proposal %s has %d options", evt.ID, vc.OptionIndex, p.ID, len(p.Options))
		return
	}

	if p.Confirm(evt.PubKey, evt.ID) {
		fx.changed = true
		m.evaluate(p.ID, now, fx)
		return
	}
	// The tally of a resolved proposal is frozen.
	if p.Status.IsTerminal() {
		log.Printf("INFO: ignoring vote %s on %s proposal %s", evt.ID, p.Status, p.ID)
		return
	}
	ballot := models.Ballot{OptionIndex: vc.OptionIndex, CreatedAt: evt.CreatedAt, EventID: evt.ID}
	if !p.Cast(evt.PubKey, ballot) {
		return
	}
	fx.changed = true
	m.evaluate(p.ID, now, fx)
}

func (m *ManagerService) applyComment(evt models.Event, cc validator.CommentContent, fx *effects) {
	if m.lookup(cc.ProposalID) == nil {
		m.reconciler.Park(cc.ProposalID, evt)
		return
	}
	if slices.ContainsFunc(m.comments[cc.ProposalID], func(c Comment) bool { return c.ID == evt.ID }) {
		return
	}
	list := append(m.comments[cc.ProposalID], Comment{
		ID:         evt.ID,
		ProposalID: cc.ProposalID,
		Author:     evt.PubKey,
		Content:    cc.Text,
		CreatedAt:  evt.CreatedAt,
	})
	slices.SortStableFunc(list, func(a, b Comment) int { return cmp.Compare(a.CreatedAt, b.CreatedAt) })
	m.comments[cc.ProposalID] = list
	fx.changed = true
}

func (m *ManagerService) applyModeration(evt models.Event, mc validator.ModerationContent, fx *effects) {
	st := m.communities[mc.CommunityID]
	if st == nil || st.effective == nil {
		m.reconciler.Park(mc.CommunityID, evt)
		return
	}
	c := st.effective
	if evt.PubKey != c.Creator && !c.IsModerator(evt.PubKey) {
		log.Printf("WARNING: ignoring %s by %s in %s: not a moderator", mc.Action, evt.PubKey, c.ID)
		return
	}

	entry := models.ModerationLogEntry{
		ID:          evt.ID,
		CommunityID: c.ID,
		Moderator:   evt.PubKey,
		Action:      mc.Action,
		Target:      mc.Target,
		Reason:      mc.Reason,
		Metadata:    maps.Clone(mc.Metadata),
		Timestamp:   evt.CreatedAt,
	}
	if mc.PostID != "" {
		if entry.Metadata == nil {
			entry.Metadata = make(map[string]string)
		}
		entry.Metadata["post_id"] = mc.PostID
		if entry.Target == "" {
			entry.Target = mc.PostID
		}
	}
	// A published kick decision shares the id of the locally derived entry.
	if mc.Action == models.ActionKick && entry.Metadata["proposal_id"] != "" {
		entry.ID = kick.EntryID(entry.Metadata["proposal_id"])
	}
	m.appendEntry(entry, fx)
}

func (m *ManagerService) applyDeletion(evt models.Event, dc validator.DeletionContent, now int64, fx *effects) {
	for _, id := range dc.ProposalIDs {
		p := m.lookup(id)
		if p == nil {
			// Released again once the proposal arrives; known ids are
			// canceled now and ignored on the second pass.
			m.reconciler.Park(id, evt)
			continue
		}
		var c *models.Community
		if st := m.communities[p.CommunityID]; st != nil {
			c = st.effective
		}
		if err := kick.CanCancel(p, c, evt.PubKey); err != nil {
			if !errors.Is(err, kick.ErrNotActive) {
				log.Printf("WARNING: ignoring deletion %s of %s: %v", evt.ID, id, err)
			}
			continue
		}
		p.Status = models.StatusCanceled
		p.ResolvedAt = evt.CreatedAt
		m.evaluate(id, now, fx)
		fx.changed = true
	}
}

// lookup returns the proposal with id, kick proposals included.
func (m *ManagerService) lookup(id string) *models.Proposal {
	if p, ok := m.proposals[id]; ok {
		return p
	}
	if kp, ok := m.kicks[id]; ok {
		return &kp.Proposal
	}
	return nil
}

func (m *ManagerService) evaluate(id string, now int64, fx *effects) {
	if kp, ok := m.kicks[id]; ok {
		m.evaluateKick(kp, now, fx)
		return
	}
	if p, ok := m.proposals[id]; ok {
		m.evaluateProposal(p, now, fx)
	}
}

// retallyCommunity re-evaluates every proposal of a community after its
// membership changed. Tallies of resolved proposals stay as they were.
func (m *ManagerService) retallyCommunity(communityID string, now int64, fx *effects) {
	for _, p := range m.proposals {
		if p.CommunityID == communityID && !m.frozen(p) {
			m.evaluateProposal(p, now, fx)
		}
	}
	for _, kp := range m.kicks {
		if kp.CommunityID == communityID && !m.frozen(&kp.Proposal) {
			m.evaluateKick(kp, now, fx)
		}
	}
}

func (m *ManagerService) frozen(p *models.Proposal) bool {
	res, ok := m.tallies[p.ID]
	return ok && p.Status.IsTerminal() && res.Status == p.Status
}

// confirmed returns a copy of p without pending ballots. Status changes are
// decided on confirmed votes only, so a rolled back vote cannot have
// resolved anything.
func confirmed(p *models.Proposal) *models.Proposal {
	return p.WithoutPending()
}

func (m *ManagerService) evaluateProposal(p *models.Proposal, now int64, fx *effects) {
	st := m.communities[p.CommunityID]
	if st == nil || st.effective == nil {
		return
	}
	c := st.effective
	eligible := kick.Eligibility(c, m.countNonMembers)
	m.tallies[p.ID] = tally.Compute(p, c.MemberCount(), eligible, now)
	if p.Status != models.StatusActive {
		return
	}

	res := tally.Compute(confirmed(p), c.MemberCount(), eligible, now)
	if res.Status == models.StatusActive {
		return
	}
	p.Status = res.Status
	p.ResolvedAt = p.EndsAt
	m.tallies[p.ID] = tally.Compute(p, c.MemberCount(), eligible, now)
	fx.changed = true
	log.Printf("INFO: proposal %s in %s resolved as %s", p.ID, p.CommunityID, p.Status)
}

func (m *ManagerService) evaluateKick(kp *models.KickProposal, now int64, fx *effects) {
	st := m.communities[kp.CommunityID]
	if st == nil || st.effective == nil {
		return
	}
	c := st.effective
	m.tallies[kp.ID] = tally.Compute(&kp.Proposal, c.MemberCount(), kick.Eligibility(c, m.countNonMembers), now)

	settled := &models.KickProposal{Proposal: *confirmed(&kp.Proposal), TargetPubkey: kp.TargetPubkey}
	tr := kick.Evaluate(settled, c, now, m.countNonMembers)
	if !tr.Changed {
		return
	}
	kp.Status = tr.To
	kp.ResolvedAt = tr.ResolvedAt
	fx.changed = true
	m.tallies[kp.ID] = tally.Compute(&kp.Proposal, c.MemberCount(), kick.Eligibility(c, m.countNonMembers), now)
	log.Printf("INFO: kick %s of %s in %s resolved as %s", kp.ID, kp.TargetPubkey, kp.CommunityID, kp.Status)

	if kp.Status == models.StatusPassed {
		// Membership change and log entry are committed under the same lock.
		_, entry := kick.Apply(c, kp)
		if prev, ok := st.kicked[kp.TargetPubkey]; !ok || prev < kp.ResolvedAt {
			st.kicked[kp.TargetPubkey] = kp.ResolvedAt
		}
		st.refresh()
		m.appendEntry(entry, fx)

		fx.communities = append(fx.communities, st.effective.Clone())
		me := m.PublicKey()
		if !fx.restoring && me != "" && (me == st.effective.Creator || st.effective.IsModerator(me)) {
			fx.republish = append(fx.republish, st.effective.Clone())
		}
		m.retallyCommunity(kp.CommunityID, now, fx)
	}
	if !fx.restoring {
		fx.resolved = append(fx.resolved, resolvedKick{kp: *kp.Clone(), community: *st.effective.Clone()})
	}
}

func (m *ManagerService) appendEntry(entry models.ModerationLogEntry, fx *effects) {
	if m.modlog.Append(context.Background(), entry) {
		fx.changed = true
		if !fx.restoring {
			fx.entries = append(fx.entries, entry)
		}
	}
}
