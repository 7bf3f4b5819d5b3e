// Package kick drives kick proposals through active → passed | rejected |
// canceled and produces the membership change a passed kick implies.
package kick

import (
	"agora/backend/internal/config"
	"agora/backend/internal/models"
	"agora/backend/internal/permission"
	"agora/backend/internal/tally"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrNotActive     = errors.New("proposal is no longer active")
	ErrMissingReason = errors.New("kick reason is required")
)

// Transition describes a status change found by Evaluate. Changed is false
// when the proposal stays where it was.
type Transition struct {
	From       models.ProposalStatus
	To         models.ProposalStatus
	ResolvedAt int64
	Tally      tally.Result
	Changed    bool
}

// NewKickProposal builds a kick proposal after the target checks pass. open
// is the set of kick proposals already known for the community.
func NewKickProposal(c *models.Community, open []*models.KickProposal, proposer, target, reason string, createdAt int64) (*models.KickProposal, error) {
	if err := permission.CheckKickTarget(c, target, open); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrMissingReason
	}
	return &models.KickProposal{
		Proposal: models.Proposal{
			ID:          uuid.NewString(),
			CommunityID: c.ID,
			Title:       fmt.Sprintf("Remove %s", shortKey(target)),
			Description: reason,
			Options:     append([]string(nil), models.KickOptions...),
			Category:    models.CategoryKick,
			Creator:     proposer,
			CreatedAt:   createdAt,
			EndsAt:      createdAt + int64(config.DefaultVotingPeriod.Seconds()),
			Votes:       make(map[string]models.Ballot),
			Status:      models.StatusActive,
		},
		TargetPubkey: target,
	}, nil
}

// Evaluate re-tallies kp against the community and reports whether it
// should leave the active state. kp is not modified.
func Evaluate(kp *models.KickProposal, c *models.Community, now int64, countNonMembers bool) Transition {
	res := tally.Compute(&kp.Proposal, c.MemberCount(), Eligibility(c, countNonMembers), now)
	t := Transition{From: kp.Status, To: kp.Status, Tally: res, ResolvedAt: kp.ResolvedAt}
	if kp.Status != models.StatusActive || res.Status == models.StatusActive {
		return t
	}

	t.To = res.Status
	t.Changed = true
	switch res.Status {
	case models.StatusPassed:
		t.ResolvedAt = res.DecidedAt
	case models.StatusRejected:
		t.ResolvedAt = kp.EndsAt
	}
	return t
}

// Eligibility returns the voter filter for c: members only, or everyone
// when countNonMembers is set.
func Eligibility(c *models.Community, countNonMembers bool) func(string) bool {
	if countNonMembers || c == nil {
		return nil
	}
	return c.IsMember
}

// CanCancel reports whether caller may withdraw p: the proposer or the
// community creator, and only while p is active.
func CanCancel(p *models.Proposal, c *models.Community, caller string) error {
	if p.Status != models.StatusActive {
		return ErrNotActive
	}
	if caller != p.Creator && (c == nil || caller != c.Creator) {
		return &permission.Denial{
			Reason:  permission.ReasonInsufficientRole,
			Action:  permission.ActionCancelProposal,
			Message: "only the proposer or the creator can cancel",
		}
	}
	return nil
}

// Apply returns the community without the kicked member and the log entry
// recording it. Both must be committed together.
func Apply(c *models.Community, kp *models.KickProposal) (*models.Community, models.ModerationLogEntry) {
	next := c.Without(kp.TargetPubkey)
	entry := models.ModerationLogEntry{
		ID:          EntryID(kp.ID),
		CommunityID: c.ID,
		Moderator:   kp.Creator,
		Action:      models.ActionKick,
		Target:      kp.TargetPubkey,
		Reason:      kp.Description,
		Metadata: map[string]string{
			"proposal_id": kp.ID,
			"event_id":    kp.EventID,
		},
		Timestamp: kp.ResolvedAt,
	}
	return next, entry
}

// EntryID is the moderation log id of the kick decided by proposal id, so
// replaying the same outcome never adds a second entry.
func EntryID(proposalID string) string {
	return "kick:" + proposalID
}

func shortKey(pubkey string) string {
	if len(pubkey) > 12 {
		return pubkey[:12]
	}
	return pubkey
}
