// Package permission derives a caller's role in a community and authorizes
// write intents before any outgoing event is built. Every check is local and
// synchronous.
package permission

import (
	"agora/backend/internal/config"
	"agora/backend/internal/models"
	"context"
	"fmt"
	"log"
	"time"
)

// Role is a caller's standing in a community, highest first.
type Role int

const (
	RoleNone Role = iota
	RoleMember
	RoleModerator
	RoleCreator
)

func (r Role) String() string {
	switch r {
	case RoleCreator:
		return "creator"
	case RoleModerator:
		return "moderator"
	case RoleMember:
		return "member"
	default:
		return "none"
	}
}

// Action is a write intent subject to authorization.
type Action string

const (
	ActionCreateProposal Action = "create_proposal"
	ActionVote           Action = "vote"
	ActionComment        Action = "comment"
	ActionKickPropose    Action = "kick_propose"
	ActionInvite         Action = "invite"
	ActionModerate       Action = "moderate"
	ActionSetGuidelines  Action = "set_guidelines"
	ActionEditMetadata   Action = "edit_metadata"

	// ActionCancelProposal is checked against the proposal, not the matrix.
	ActionCancelProposal Action = "cancel_proposal"
)

// minimumRole is the authorization matrix: the lowest role allowed per action.
var minimumRole = map[Action]Role{
	ActionCreateProposal: RoleMember,
	ActionVote:           RoleMember,
	ActionComment:        RoleMember,
	ActionKickPropose:    RoleMember,
	ActionInvite:         RoleMember,
	ActionModerate:       RoleModerator,
	ActionSetGuidelines:  RoleCreator,
	ActionEditMetadata:   RoleCreator,
}

// Policy configures the tenure gate and throttles applied to members.
type Policy struct {
	// MinJoinTime is the tenure required before a member may create proposals.
	// Zero disables the gate.
	MinJoinTime time.Duration
	Limits      map[Action]Limit
}

// Limit allows Max actions per rolling Window.
type Limit struct {
	Max    int
	Window time.Duration
}

// DefaultPolicy returns the stock throttles and no tenure gate.
func DefaultPolicy() Policy {
	return Policy{
		Limits: map[Action]Limit{
			ActionCreateProposal: {Max: config.ProposalsPerDay, Window: config.ProposalWindow},
			ActionKickPropose:    {Max: config.KickProposalsPerWeek, Window: config.KickProposalWindow},
		},
	}
}

// RoleOf derives pubkey's role: creator > moderator > member > none.
func RoleOf(c *models.Community, pubkey string) Role {
	switch {
	case c == nil || pubkey == "":
		return RoleNone
	case pubkey == c.Creator:
		return RoleCreator
	case c.IsModerator(pubkey):
		return RoleModerator
	case c.IsMember(pubkey):
		return RoleMember
	default:
		return RoleNone
	}
}

// Resolver authorizes actions against a community snapshot.
type Resolver struct {
	Policy Policy
	Log    ActionLog
	Now    func() time.Time
}

// NewResolver returns a resolver; a nil log uses an in-memory one.
func NewResolver(policy Policy, actions ActionLog) *Resolver {
	if actions == nil {
		actions = NewMemoryLog()
	}
	return &Resolver{Policy: policy, Log: actions, Now: time.Now}
}

func (r *Resolver) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}

// Authorize returns nil when caller may perform action in c, or a *Denial.
func (r *Resolver) Authorize(ctx context.Context, c *models.Community, caller string, action Action) error {
	need, ok := minimumRole[action]
	if !ok {
		return deny(ReasonInsufficientRole, action, fmt.Sprintf("unknown action %q", action))
	}

	role := RoleOf(c, caller)
	if role == RoleNone {
		return deny(ReasonNotMember, action, "caller is not a member")
	}
	if role < need {
		return deny(ReasonInsufficientRole, action, fmt.Sprintf("%s requires %s, caller is %s", action, need, role))
	}
	if role != RoleMember {
		return nil
	}

	if action == ActionCreateProposal && r.Policy.MinJoinTime > 0 {
		if joined, known := c.JoinTime(caller); known {
			tenure := r.now().Sub(time.Unix(joined, 0))
			if tenure < r.Policy.MinJoinTime {
				return deny(ReasonTenureNotMet, action, fmt.Sprintf("member for %s, need %s", tenure, r.Policy.MinJoinTime))
			}
		}
	}

	return r.checkThrottle(ctx, caller, action)
}

func (r *Resolver) checkThrottle(ctx context.Context, caller string, action Action) error {
	limit, ok := r.Policy.Limits[action]
	if !ok || limit.Max <= 0 {
		return nil
	}
	now := r.now()
	recent, err := r.Log.Count(ctx, caller, action, now.Add(-limit.Window))
	if err != nil {
		// The action log is a local cache; an unreadable log must not lock members out.
		log.Printf("WARNING: throttle lookup failed for %s/%s: %v", caller, action, err)
		return nil
	}
	if recent >= limit.Max {
		return deny(ReasonThrottled, action, fmt.Sprintf("%d %s in the last %s", recent, action, limit.Window))
	}
	return nil
}

// Record notes a successful action for future throttle checks.
func (r *Resolver) Record(ctx context.Context, caller string, action Action) {
	if _, ok := r.Policy.Limits[action]; !ok {
		return
	}
	if err := r.Log.Record(ctx, caller, action, r.now()); err != nil {
		log.Printf("WARNING: failed to record %s for %s: %v", action, caller, err)
	}
}

// CheckKickTarget validates a kick target before the proposal is built.
func CheckKickTarget(c *models.Community, target string, open []*models.KickProposal) error {
	if c == nil {
		return deny(ReasonNotMember, ActionKickPropose, "unknown community")
	}
	if target == c.Creator {
		return deny(ReasonTargetIsCreator, ActionKickPropose, "the creator cannot be kicked")
	}
	if !c.IsMember(target) {
		return deny(ReasonNotMember, ActionKickPropose, "target is not a member")
	}
	for _, kp := range open {
		if kp.TargetPubkey == target && kp.Status == models.StatusActive {
			return deny(ReasonDuplicateProposal, ActionKickPropose, fmt.Sprintf("kick %s already open for target", kp.ID))
		}
	}
	return nil
}
