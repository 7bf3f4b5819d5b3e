package models

import (
	"maps"
	"slices"
)

// ProposalStatus is the lifecycle status of a proposal.
type ProposalStatus string

const (
	StatusActive   ProposalStatus = "active"
	StatusPassed   ProposalStatus = "passed"
	StatusRejected ProposalStatus = "rejected"
	StatusCanceled ProposalStatus = "canceled"
)

// IsTerminal reports whether the status can no longer change.
func (s ProposalStatus) IsTerminal() bool {
	return s == StatusPassed || s == StatusRejected || s == StatusCanceled
}

// Category selects the quorum rule applied to a proposal.
type Category string

const (
	CategoryGeneral    Category = "general"
	CategoryGovernance Category = "governance"
	CategoryKick       Category = "kick"
)

// Kick proposals always use these two options in this order.
const (
	KickOptionRemove = 0
	KickOptionKeep   = 1
)

// KickOptions are the fixed options of a kick proposal.
var KickOptions = []string{"remove", "keep"}

// Ballot is one voter's current choice. Pending ballots were cast locally
// and have not been echoed back by a relay yet.
type Ballot struct {
	OptionIndex int    `json:"option_index"`
	CreatedAt   int64  `json:"created_at"`
	EventID     string `json:"event_id"`
	Pending     bool   `json:"pending,omitempty"`
}

// Supersedes reports whether b replaces other under the last-vote-wins rule.
func (b Ballot) Supersedes(other Ballot) bool {
	if b.CreatedAt != other.CreatedAt {
		return b.CreatedAt > other.CreatedAt
	}
	return b.EventID < other.EventID
}

// Proposal is a community decision open for votes until EndsAt.
type Proposal struct {
	ID          string            `json:"id"`
	CommunityID string            `json:"community_id"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Options     []string          `json:"options"`
	Category    Category          `json:"category"`
	Creator     string            `json:"creator"`
	CreatedAt   int64             `json:"created_at"`
	EndsAt      int64             `json:"ends_at"`
	EventID     string            `json:"event_id"`
	Votes       map[string]Ballot `json:"votes"`
	// History keeps every accepted ballot per voter, superseded ones
	// included, so tallies can be replayed in created_at order.
	History map[string][]Ballot `json:"-"`
	Status  ProposalStatus      `json:"status"`
	// ResolvedAt is set once Status leaves active.
	ResolvedAt int64 `json:"resolved_at,omitempty"`
}

// Clone returns a copy whose votes map can be mutated independently.
func (p *Proposal) Clone() *Proposal {
	if p == nil {
		return nil
	}
	out := *p
	out.Options = append([]string(nil), p.Options...)
	out.Votes = maps.Clone(p.Votes)
	if out.Votes == nil {
		out.Votes = make(map[string]Ballot)
	}
	out.History = make(map[string][]Ballot, len(p.History))
	for voter, list := range p.History {
		out.History[voter] = slices.Clone(list)
	}
	return &out
}

// Cast records b for voter and makes it the current ballot when it
// supersedes the previous one. It reports false when b is already known.
func (p *Proposal) Cast(voter string, b Ballot) bool {
	if p.Votes == nil {
		p.Votes = make(map[string]Ballot)
	}
	if p.History == nil {
		p.History = make(map[string][]Ballot)
	}
	list := p.History[voter]
	if cur, ok := p.Votes[voter]; ok && len(list) == 0 {
		list = append(list, cur)
	}
	if slices.ContainsFunc(list, func(h Ballot) bool { return h.EventID == b.EventID }) {
		return false
	}
	p.History[voter] = append(list, b)
	if cur, ok := p.Votes[voter]; !ok || b.Supersedes(cur) {
		p.Votes[voter] = b
	}
	return true
}

// Confirm clears the pending flag of voter's ballot eventID. It reports
// whether a pending ballot was found.
func (p *Proposal) Confirm(voter, eventID string) bool {
	found := false
	for i, h := range p.History[voter] {
		if h.EventID == eventID && h.Pending {
			p.History[voter][i].Pending = false
			found = true
		}
	}
	if cur, ok := p.Votes[voter]; ok && cur.EventID == eventID && cur.Pending {
		cur.Pending = false
		p.Votes[voter] = cur
		found = true
	}
	return found
}

// Retract drops voter's pending ballot eventID and restores the ballot it
// replaced. It reports whether anything was removed.
func (p *Proposal) Retract(voter, eventID string) bool {
	list := p.History[voter]
	i := slices.IndexFunc(list, func(h Ballot) bool { return h.EventID == eventID && h.Pending })
	if i < 0 {
		return false
	}
	list = slices.Delete(list, i, i+1)
	if len(list) == 0 {
		delete(p.History, voter)
		delete(p.Votes, voter)
		return true
	}
	p.History[voter] = list
	p.Votes[voter] = latest(list)
	return true
}

// WithoutPending returns a copy holding confirmed ballots only.
func (p *Proposal) WithoutPending() *Proposal {
	out := p.Clone()
	for voter, list := range out.History {
		list = slices.DeleteFunc(list, func(b Ballot) bool { return b.Pending })
		if len(list) == 0 {
			delete(out.History, voter)
			delete(out.Votes, voter)
			continue
		}
		out.History[voter] = list
		out.Votes[voter] = latest(list)
	}
	maps.DeleteFunc(out.Votes, func(_ string, b Ballot) bool { return b.Pending })
	return out
}

// latest returns the ballot of list that wins under last-vote-wins.
func latest(list []Ballot) Ballot {
	best := list[0]
	for _, b := range list[1:] {
		if b.Supersedes(best) {
			best = b
		}
	}
	return best
}

// KickProposal is a proposal to remove TargetPubkey from the community.
type KickProposal struct {
	Proposal
	TargetPubkey string `json:"target_pubkey"`
}

// Clone returns an independent copy.
func (k *KickProposal) Clone() *KickProposal {
	if k == nil {
		return nil
	}
	return &KickProposal{Proposal: *k.Proposal.Clone(), TargetPubkey: k.TargetPubkey}
}
