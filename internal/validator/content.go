package validator

import (
	"agora/backend/internal/models"
	"encoding/json"
	"fmt"
	"strings"
)

// Content is the typed payload of a decoded governance event. It is a closed
// union: CommunityContent, ProposalContent, VoteContent, CommentContent,
// ModerationContent or DeletionContent.
type Content interface {
	kind() int
}

// CommunityContent is the decoded body of a community definition.
type CommunityContent struct {
	ID          string   `json:"-"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Guidelines  string   `json:"guidelines"`
	IsPrivate   bool     `json:"isPrivate"`
	Tags        []string `json:"tags"`
	Members     []string `json:"-"`
	Moderators  []string `json:"-"`
}

// ProposalContent is the decoded body of a proposal or kick proposal.
type ProposalContent struct {
	ID          string   `json:"-"`
	CommunityID string   `json:"-"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Options     []string `json:"options"`
	Category    string   `json:"category"`
	EndsAt      int64    `json:"endsAt"`
	// TargetPubkey is set for kick proposals only.
	TargetPubkey string `json:"-"`
}

// IsKick reports whether the proposal is a kick proposal.
func (p ProposalContent) IsKick() bool {
	return p.TargetPubkey != ""
}

// Reason returns the structured reason embedded in a JSON description, or the
// plain description when it is not JSON.
func (p ProposalContent) Reason() string {
	var structured struct {
		Reason string `json:"reason"`
	}
	trimmed := strings.TrimSpace(p.Description)
	if strings.HasPrefix(trimmed, "{") && json.Unmarshal([]byte(trimmed), &structured) == nil && structured.Reason != "" {
		return structured.Reason
	}
	return p.Description
}

// VoteContent is the decoded body of a vote.
type VoteContent struct {
	ProposalID  string
	OptionIndex int
}

// CommentContent is the decoded body of a comment on a proposal.
type CommentContent struct {
	ProposalID string
	Text       string
}

// ModerationContent is the decoded body of a moderation action.
type ModerationContent struct {
	CommunityID string
	Action      models.ModerationAction
	Target      string
	PostID      string
	Reason      string
	Metadata    map[string]string
}

// DeletionContent withdraws the referenced proposals.
type DeletionContent struct {
	ProposalIDs []string
	Reason      string
}

func (CommunityContent) kind() int  { return models.KindCommunity }
func (ProposalContent) kind() int   { return models.KindProposal }
func (VoteContent) kind() int       { return models.KindVote }
func (CommentContent) kind() int    { return models.KindComment }
func (ModerationContent) kind() int { return models.KindModeration }
func (DeletionContent) kind() int   { return models.KindDeletion }

// DecodeError lists every reason an event failed validation.
type DecodeError struct {
	Kind    int
	EventID string
	Reasons []string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid kind %d event %s: %s", e.Kind, e.EventID, strings.Join(e.Reasons, "; "))
}
