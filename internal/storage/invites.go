package storage

import (
	"agora/backend/internal/models"
	"context"
	"log"
)

// SaveInvite inserts or updates an invite, including its use count.
func (s *Service) SaveInvite(ctx context.Context, invite *models.InviteLink) error {
	if err := s.DB.WithContext(ctx).Save(invite).Error; err != nil {
		log.Printf("ERROR: Failed to save invite for community %s: %v", invite.CommunityID, err)
		return err
	}
	return nil
}

// ListInvites returns a community's invites, newest first. An empty
// communityID lists every invite.
func (s *Service) ListInvites(ctx context.Context, communityID string) ([]models.InviteLink, error) {
	var invites []models.InviteLink
	q := s.DB.WithContext(ctx).Order("created_at desc")
	if communityID != "" {
		q = q.Where("community_id = ?", communityID)
	}
	if err := q.Find(&invites).Error; err != nil {
		return nil, err
	}
	return invites, nil
}
