package models

import (
	"maps"
	"slices"

	"github.com/lib/pq"
)

// Community is the projected state of the latest accepted community
// definition event. Members keep their publication order for display.
type Community struct {
	// ID is the stable identifier carried in the "d" tag.
	ID string `gorm:"primaryKey" json:"id"`
	// Name is the display name of the community.
	Name string `gorm:"type:text;not null" json:"name"`
	// Description is free text shown on the community page.
	Description string `gorm:"type:text" json:"description"`
	// Creator is the public key of the founding author.
	Creator string `gorm:"type:text;not null;index" json:"creator"`
	// Members always contains the creator.
	Members pq.StringArray `gorm:"type:text[]" json:"members"`
	// Moderators never contains the creator.
	Moderators pq.StringArray `gorm:"type:text[]" json:"moderators"`
	// Tags are free topic labels.
	Tags pq.StringArray `gorm:"type:text[]" json:"tags"`
	// Guidelines is optional rules text, only editable by the creator.
	Guidelines string `gorm:"type:text" json:"guidelines,omitempty"`
	// IsPrivate restricts visibility to members.
	IsPrivate bool `json:"is_private"`
	// CreatedAt is the created_at of the accepted version (unix seconds).
	CreatedAt int64 `json:"created_at"`
	// EventID is the id of the accepted version.
	EventID string `gorm:"type:text" json:"event_id"`
	// JoinedAt maps a member to the created_at of the first version listing them.
	JoinedAt map[string]int64 `gorm:"serializer:json" json:"joined_at,omitempty"`
}

// IsMember reports whether pubkey belongs to the community.
func (c *Community) IsMember(pubkey string) bool {
	return pubkey == c.Creator || slices.Contains(c.Members, pubkey)
}

// IsModerator reports whether pubkey is listed as a moderator.
func (c *Community) IsModerator(pubkey string) bool {
	return slices.Contains(c.Moderators, pubkey)
}

// MemberCount returns the number of distinct members, creator included.
func (c *Community) MemberCount() int {
	n := len(c.Members)
	if c.Creator != "" && !slices.Contains(c.Members, c.Creator) {
		n++
	}
	return n
}

// JoinTime returns the known join time of pubkey.
func (c *Community) JoinTime(pubkey string) (int64, bool) {
	t, ok := c.JoinedAt[pubkey]
	return t, ok
}

// Clone returns a deep copy safe to hand to readers.
func (c *Community) Clone() *Community {
	if c == nil {
		return nil
	}
	out := *c
	out.Members = slices.Clone(c.Members)
	out.Moderators = slices.Clone(c.Moderators)
	out.Tags = slices.Clone(c.Tags)
	out.JoinedAt = maps.Clone(c.JoinedAt)
	return &out
}

// Without returns a copy with pubkey removed from members and moderators.
func (c *Community) Without(pubkey string) *Community {
	out := c.Clone()
	out.Members = slices.DeleteFunc(out.Members, func(m string) bool { return m == pubkey })
	out.Moderators = slices.DeleteFunc(out.Moderators, func(m string) bool { return m == pubkey })
	return out
}
