package govhub_test

import (
	"agora/backend/internal/models"
	"context"

	"github.com/stretchr/testify/mock"
)

// MockStorage is a testify mock of storage.Storage.
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) SaveEvent(ctx context.Context, evt models.Event) error {
	args := m.Called(ctx, evt)
	return args.Error(0)
}

func (m *MockStorage) LoadEvents(ctx context.Context, kinds []int, since int64) ([]models.Event, error) {
	args := m.Called(ctx, kinds, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Event), args.Error(1)
}

func (m *MockStorage) SaveCommunity(ctx context.Context, c *models.Community) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *MockStorage) GetCommunity(ctx context.Context, id string) (*models.Community, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Community), args.Error(1)
}

func (m *MockStorage) SaveModerationEntry(ctx context.Context, entry *models.ModerationLogEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockStorage) ListModerationEntries(ctx context.Context, communityID string, limit int) ([]models.ModerationLogEntry, error) {
	args := m.Called(ctx, communityID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ModerationLogEntry), args.Error(1)
}

func (m *MockStorage) SaveInvite(ctx context.Context, invite *models.InviteLink) error {
	args := m.Called(ctx, invite)
	return args.Error(0)
}

func (m *MockStorage) ListInvites(ctx context.Context, communityID string) ([]models.InviteLink, error) {
	args := m.Called(ctx, communityID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.InviteLink), args.Error(1)
}

func (m *MockStorage) PublishEvent(ctx context.Context, evt models.Event) error {
	args := m.Called(ctx, evt)
	return args.Error(0)
}

// MockNotifier records kick outcomes and moderation entries.
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) KickResolved(kp models.KickProposal, c models.Community) {
	m.Called(kp, c)
}

func (m *MockNotifier) ModerationLogged(entry models.ModerationLogEntry) {
	m.Called(entry)
}
