package storage

import (
	"agora/backend/internal/models"
	"context"
	"log"

	"gorm.io/gorm/clause"
)

// SaveModerationEntry appends an entry. Entries are immutable, so an
// existing id is left untouched.
func (s *Service) SaveModerationEntry(ctx context.Context, entry *models.ModerationLogEntry) error {
	result := s.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(entry)
	if result.Error != nil {
		log.Printf("ERROR: Failed to save moderation entry for community %s: %v", entry.CommunityID, result.Error)
		return result.Error
	}
	return nil
}

// ListModerationEntries returns the newest entries first. An empty
// communityID lists every community; limit <= 0 means no limit.
func (s *Service) ListModerationEntries(ctx context.Context, communityID string, limit int) ([]models.ModerationLogEntry, error) {
	var entries []models.ModerationLogEntry
	q := s.DB.WithContext(ctx).Order("timestamp desc, id asc")
	if communityID != "" {
		q = q.Where("community_id = ?", communityID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&entries).Error; err != nil {
		log.Printf("ERROR: Failed to list moderation entries for %s: %v", communityID, err)
		return nil, err
	}
	return entries, nil
}
