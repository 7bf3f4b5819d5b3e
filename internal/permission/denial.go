package permission

import (
	"errors"
	"fmt"
)

// Reason enumerates why an intent was refused locally.
type Reason string

const (
	ReasonNotMember         Reason = "not_member"
	ReasonInsufficientRole  Reason = "insufficient_role"
	ReasonTenureNotMet      Reason = "tenure_not_met"
	ReasonThrottled         Reason = "throttled"
	ReasonTargetIsCreator   Reason = "target_is_creator"
	ReasonDuplicateProposal Reason = "duplicate_proposal"
)

// Denial is returned synchronously when an intent is refused. No event has
// been built or published when a Denial is returned.
type Denial struct {
	Reason  Reason
	Action  Action
	Message string
}

func (d *Denial) Error() string {
	return fmt.Sprintf("%s denied: %s (%s)", d.Action, d.Reason, d.Message)
}

func deny(reason Reason, action Action, msg string) *Denial {
	return &Denial{Reason: reason, Action: action, Message: msg}
}

// IsDenied reports whether err is a Denial, returning it.
func IsDenied(err error) (*Denial, bool) {
	var d *Denial
	if errors.As(err, &d) {
		return d, true
	}
	return nil, false
}
