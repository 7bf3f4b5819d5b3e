package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// InviteLink lets a holder request membership of a community.
type InviteLink struct {
	// ID is the invite code (UUID).
	ID          string `gorm:"primaryKey" json:"id"`
	CommunityID string `gorm:"type:text;not null;index" json:"community_id"`
	CreatedBy   string `gorm:"type:text;not null" json:"created_by"`
	// MaxUses is unlimited when nil.
	MaxUses   *int `json:"max_uses,omitempty"`
	UsedCount int  `gorm:"not null;default:0" json:"used_count"`
	// ExpiresAt never expires when nil.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// IsValid reports whether the link can still be redeemed at now.
func (l *InviteLink) IsValid(now time.Time) bool {
	if l.ExpiresAt != nil && !l.ExpiresAt.After(now) {
		return false
	}
	if l.MaxUses != nil && l.UsedCount >= *l.MaxUses {
		return false
	}
	return true
}

// BeforeCreate is a GORM hook that assigns a UUID when ID is still empty.
func (l *InviteLink) BeforeCreate(tx *gorm.DB) (err error) {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	return
}
