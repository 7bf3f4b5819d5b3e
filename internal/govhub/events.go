package govhub

import (
	"agora/backend/internal/models"
	"encoding/json"
	"fmt"
)

type communityBody struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Guidelines  string `json:"guidelines,omitempty"`
	IsPrivate   bool   `json:"isPrivate,omitempty"`
}

type proposalBody struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Options     []string `json:"options"`
	Category    string   `json:"category,omitempty"`
	EndsAt      int64    `json:"endsAt"`
}

type moderationBody struct {
	Reason   string            `json:"reason,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		// Only plain structs of strings and numbers are encoded here.
		panic(fmt.Sprintf("encode event content: %v", err))
	}
	return string(data)
}

func communityEvent(c *models.Community, createdAt int64) models.Event {
	tags := models.Tags{{"d", c.ID}}
	for _, member := range c.Members {
		if c.IsModerator(member) {
			tags = append(tags, models.Tag{"p", member, "", "moderator"})
		} else {
			tags = append(tags, models.Tag{"p", member})
		}
	}
	for _, t := range c.Tags {
		tags = append(tags, models.Tag{"t", t})
	}
	return models.Event{
		CreatedAt: createdAt,
		Kind:      models.KindCommunity,
		Tags:      tags,
		Content: mustJSON(communityBody{
			Name:        c.Name,
			Description: c.Description,
			Guidelines:  c.Guidelines,
			IsPrivate:   c.IsPrivate,
		}),
	}
}

func proposalEvent(p *models.Proposal, target string) models.Event {
	tags := models.Tags{{"d", p.ID}, {"e", p.CommunityID}}
	switch p.Category {
	case models.CategoryKick:
		tags = append(tags, models.Tag{"t", string(models.CategoryKick)}, models.Tag{"p", target})
	case models.CategoryGovernance:
		tags = append(tags, models.Tag{"t", string(models.CategoryGovernance)})
	}
	return models.Event{
		CreatedAt: p.CreatedAt,
		Kind:      models.KindProposal,
		Tags:      tags,
		Content: mustJSON(proposalBody{
			Title:       p.Title,
			Description: p.Description,
			Options:     p.Options,
			Category:    string(p.Category),
			EndsAt:      p.EndsAt,
		}),
	}
}

// voteEvent references the proposal first and the community second, so
// community-wide subscriptions see it too.
func voteEvent(proposalID, communityID string, option int, createdAt int64) models.Event {
	return models.Event{
		CreatedAt: createdAt,
		Kind:      models.KindVote,
		Tags:      models.Tags{{"e", proposalID}, {"e", communityID}},
		Content:   mustJSON(map[string]int{"optionIndex": option}),
	}
}

func deletionEvent(proposalID, communityID, reason string, createdAt int64) models.Event {
	return models.Event{
		CreatedAt: createdAt,
		Kind:      models.KindDeletion,
		Tags:      models.Tags{{"e", proposalID}, {"k", fmt.Sprint(models.KindProposal)}, {"h", communityID}},
		Content:   reason,
	}
}

func moderationEvent(communityID string, action models.ModerationAction, target, postID, reason string, metadata map[string]string, createdAt int64) models.Event {
	tags := models.Tags{{"e", communityID}, {"action", string(action)}}
	if target != "" {
		tags = append(tags, models.Tag{"p", target})
	}
	if postID != "" {
		tags = append(tags, models.Tag{"q", postID})
	}
	return models.Event{
		CreatedAt: createdAt,
		Kind:      models.KindModeration,
		Tags:      tags,
		Content:   mustJSON(moderationBody{Reason: reason, Metadata: metadata}),
	}
}

// prepare signs evt and checks it against the same rules inbound events
// must pass.
func (m *ManagerService) prepare(evt *models.Event) error {
	if m.signer == nil {
		return ErrNoSigner
	}
	if err := m.signer.Sign(evt); err != nil {
		return fmt.Errorf("sign event: %w", err)
	}
	if _, err := m.validator.Decode(*evt); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return nil
}
