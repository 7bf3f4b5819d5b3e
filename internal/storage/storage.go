package storage

import (
	"agora/backend/internal/models"
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = errors.New("record not found")

type Storage interface {
	SaveEvent(ctx context.Context, evt models.Event) error
	LoadEvents(ctx context.Context, kinds []int, since int64) ([]models.Event, error)

	SaveCommunity(ctx context.Context, c *models.Community) error
	GetCommunity(ctx context.Context, id string) (*models.Community, error)

	SaveModerationEntry(ctx context.Context, entry *models.ModerationLogEntry) error
	ListModerationEntries(ctx context.Context, communityID string, limit int) ([]models.ModerationLogEntry, error)

	SaveInvite(ctx context.Context, invite *models.InviteLink) error
	ListInvites(ctx context.Context, communityID string) ([]models.InviteLink, error)

	PublishEvent(ctx context.Context, evt models.Event) error
}

type Service struct {
	DB    *gorm.DB
	Redis *redis.Client
}

// NewStorageService Constructor
func NewStorageService(db *gorm.DB, rdb *redis.Client) *Service {
	return &Service{
		DB:    db,
		Redis: rdb,
	}
}

// Migrate creates or updates every table the service writes to.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.EventRecord{},
		&models.Community{},
		&models.ModerationLogEntry{},
		&models.InviteLink{},
	)
}

// SaveEvent caches an accepted event. Saving the same id twice is a no-op.
func (s *Service) SaveEvent(ctx context.Context, evt models.Event) error {
	rec := models.NewEventRecord(evt)
	if err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error; err != nil {
		log.Printf("ERROR: Failed to cache event %s: %v", evt.ID, err)
		return err
	}
	return nil
}

// LoadEvents returns cached events of the given kinds created at or after
// since, oldest first.
func (s *Service) LoadEvents(ctx context.Context, kinds []int, since int64) ([]models.Event, error) {
	var records []models.EventRecord
	q := s.DB.WithContext(ctx).Where("event_time >= ?", since)
	if len(kinds) > 0 {
		q = q.Where("kind IN ?", kinds)
	}
	if err := q.Order("event_time asc, id asc").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}

	events := make([]models.Event, 0, len(records))
	for _, r := range records {
		events = append(events, r.Event())
	}
	return events, nil
}

// SaveCommunity stores the latest projected community state.
func (s *Service) SaveCommunity(ctx context.Context, c *models.Community) error {
	return s.DB.WithContext(ctx).Save(c).Error
}

func (s *Service) GetCommunity(ctx context.Context, id string) (*models.Community, error) {
	var c models.Community
	err := s.DB.WithContext(ctx).Where("id = ?", id).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		log.Printf("ERROR: Failed to get community %s: %v", id, err)
		return nil, err
	}
	return &c, nil
}
