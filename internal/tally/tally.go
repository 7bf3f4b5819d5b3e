// Package tally computes vote counts, quorum thresholds and proposal status.
// Every function is pure: the result depends only on its arguments, so a
// tally can be recomputed from scratch after any accepted vote.
package tally

import (
	"agora/backend/internal/config"
	"agora/backend/internal/models"
)

// Result is the outcome of tallying one proposal at one instant.
type Result struct {
	Counts      []int                 `json:"counts"`
	Total       int                   `json:"total"`
	VotesNeeded int                   `json:"votes_needed"`
	Percentages []int                 `json:"percentages"`
	Leading     int                   `json:"leading"`
	Status      models.ProposalStatus `json:"status"`
	// DecidedAt is the created_at of the vote that met the threshold, or 0.
	DecidedAt int64 `json:"decided_at,omitempty"`
}

// QuorumPercent returns the share of the membership, in whole percent, that
// must back an option for it to pass.
func QuorumPercent(memberCount int, category models.Category) int {
	if category == models.CategoryKick {
		return config.KickQuorumPercent
	}
	pct := config.DefaultQuorumPercent
	switch {
	case memberCount > config.LargeCommunityMembers:
		pct = config.LargeQuorumPercent
	case memberCount > config.MediumCommunityMembers:
		pct = config.MediumQuorumPercent
	}
	if category == models.CategoryGovernance && pct < config.GovernanceQuorumPercent {
		pct = config.GovernanceQuorumPercent
	}
	return pct
}

// QuorumFraction is QuorumPercent as a fraction, for display.
func QuorumFraction(memberCount int, category models.Category) float64 {
	return float64(QuorumPercent(memberCount, category)) / 100
}

// VotesNeeded is ceil(memberCount × fraction), never less than one.
func VotesNeeded(memberCount int, category models.Category) int {
	n := (memberCount*QuorumPercent(memberCount, category) + 99) / 100
	if n < 1 {
		return 1
	}
	return n
}

// Eligible reports whether ballot counts toward p. isMember may be nil to
// count every voter.
func Eligible(p *models.Proposal, voter string, b models.Ballot, isMember func(string) bool) bool {
	if b.OptionIndex < 0 || b.OptionIndex >= len(p.Options) {
		return false
	}
	if p.EndsAt > 0 && b.CreatedAt >= p.EndsAt {
		return false
	}
	if isMember != nil && !isMember(voter) {
		return false
	}
	return true
}

// Compute tallies p for a community of memberCount members at unix time now.
//
// Ballots are replayed in created_at order with last-vote-wins per voter.
// General and governance proposals stay active until EndsAt and then pass
// when the leading option (lowest index on ties) reached the threshold.
// Kick proposals pass at the first point of the replay where the remove
// option reaches the threshold and are rejected at EndsAt otherwise.
// Terminal proposals keep their status and count only ballots cast up to
// ResolvedAt.
func Compute(p *models.Proposal, memberCount int, isMember func(string) bool, now int64) Result {
	res := Result{
		Counts:      make([]int, len(p.Options)),
		Percentages: make([]int, len(p.Options)),
		VotesNeeded: VotesNeeded(memberCount, p.Category),
		Leading:     -1,
	}
	terminal := p.Status.IsTerminal()
	isKick := p.Category == models.CategoryKick && len(p.Options) > models.KickOptionRemove

	// Created_at of the ballot that last brought each option to the threshold.
	reached := make([]int64, len(p.Options))
	var (
		kickDecided bool
		kickAt      int64
	)
	current := make(map[string]models.Ballot)
	for _, vb := range replayOrder(p) {
		b := vb.ballot
		if !Eligible(p, vb.voter, b, isMember) {
			continue
		}
		if terminal && p.ResolvedAt > 0 && b.CreatedAt > p.ResolvedAt {
			continue
		}
		if cur, ok := current[vb.voter]; ok {
			if !b.Supersedes(cur) {
				continue
			}
			res.Counts[cur.OptionIndex]--
			res.Total--
		}
		current[vb.voter] = b
		i := b.OptionIndex
		res.Counts[i]++
		res.Total++
		if res.Counts[i] == res.VotesNeeded {
			reached[i] = b.CreatedAt
		}
		if isKick && !kickDecided && res.Counts[models.KickOptionRemove] >= res.VotesNeeded {
			kickDecided, kickAt = true, b.CreatedAt
		}
	}

	for i, c := range res.Counts {
		res.Percentages[i] = percentage(c, res.VotesNeeded)
		if c > 0 && (res.Leading < 0 || c > res.Counts[res.Leading]) {
			res.Leading = i
		}
	}

	expired := p.EndsAt > 0 && now >= p.EndsAt
	res.Status = models.StatusActive
	switch {
	case terminal:
		res.Status = p.Status
		if p.Status == models.StatusPassed {
			res.DecidedAt = p.ResolvedAt
		}
	case isKick:
		if kickDecided {
			res.Status = models.StatusPassed
			res.DecidedAt = kickAt
		} else if expired {
			res.Status = models.StatusRejected
		}
	case expired:
		if res.Leading >= 0 && res.Counts[res.Leading] >= res.VotesNeeded {
			res.Status = models.StatusPassed
			res.DecidedAt = reached[res.Leading]
		} else {
			res.Status = models.StatusRejected
		}
	}
	return res
}

// percentage is round(count/needed×100) clamped to 100.
func percentage(count, needed int) int {
	if needed <= 0 {
		return 0
	}
	pct := (count*200 + needed) / (2 * needed)
	if pct > 100 {
		return 100
	}
	return pct
}
