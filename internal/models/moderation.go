package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ModerationAction is the verb recorded in the moderation log.
type ModerationAction string

const (
	ActionApprovePost  ModerationAction = "approve_post"
	ActionRejectPost   ModerationAction = "reject_post"
	ActionBan          ModerationAction = "ban"
	ActionUnban        ModerationAction = "unban"
	ActionKick         ModerationAction = "kick"
	ActionReviewReport ModerationAction = "review_report"
)

// IsValid reports whether a is one of the known moderation actions.
func (a ModerationAction) IsValid() bool {
	switch a {
	case ActionApprovePost, ActionRejectPost, ActionBan, ActionUnban, ActionKick, ActionReviewReport:
		return true
	}
	return false
}

// ModerationLogEntry is an immutable audit record of a moderation action.
type ModerationLogEntry struct {
	// ID is the originating event id, or a UUID for locally derived entries.
	ID          string           `gorm:"primaryKey" json:"id"`
	CommunityID string           `gorm:"type:text;not null;index:idx_modlog_community_ts" json:"community_id"`
	Moderator   string           `gorm:"type:text;not null" json:"moderator"`
	Action      ModerationAction `gorm:"type:text;not null" json:"action"`
	Target      string           `gorm:"type:text" json:"target"`
	Reason      string           `gorm:"type:text" json:"reason,omitempty"`
	// Metadata is free-form context such as the proposal id behind a kick.
	Metadata  map[string]string `gorm:"serializer:json" json:"metadata,omitempty"`
	Timestamp int64             `gorm:"not null;index:idx_modlog_community_ts" json:"timestamp"`
}

// BeforeCreate is a GORM hook that assigns a UUID when ID is still empty.
func (e *ModerationLogEntry) BeforeCreate(tx *gorm.DB) (err error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	return
}
