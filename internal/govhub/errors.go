package govhub

import "errors"

var (
	ErrPublishFailed    = errors.New("publish failed")
	ErrNoSigner         = errors.New("no signing key configured")
	ErrNoTransport      = errors.New("no relay transport configured")
	ErrUnknownCommunity = errors.New("unknown community")
	ErrUnknownProposal  = errors.New("unknown proposal")
	ErrProposalClosed   = errors.New("proposal is not active")
	ErrInvalidOption    = errors.New("option index out of range")
	ErrInvalidInvite    = errors.New("invite is expired, exhausted or unknown")
	ErrAlreadyMember    = errors.New("already a member")
	ErrCannotAdmit      = errors.New("only the creator or a moderator can admit members")
	ErrInvalidEvent     = errors.New("event failed validation")
)
