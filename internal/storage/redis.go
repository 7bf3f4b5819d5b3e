package storage

import (
	"agora/backend/internal/models"
	"agora/backend/internal/permission"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// EventsChannel carries accepted events between service instances.
const EventsChannel = "agora:events"

const actionKeyPrefix = "actions:"

// PublishEvent fans an accepted event out to the other instances.
func (s *Service) PublishEvent(ctx context.Context, evt models.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return s.Redis.Publish(ctx, EventsChannel, payload).Err()
}

// ListenEvents delivers events published by any instance until ctx is done.
func (s *Service) ListenEvents(ctx context.Context, onEvent func(models.Event)) {
	pubsub := s.Redis.Subscribe(ctx, EventsChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var evt models.Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				log.Printf("Error unmarshalling Redis event: %v", err)
				continue
			}
			onEvent(evt)
		}
	}
}

// ActionLog is a permission.ActionLog kept in Redis sorted sets, so every
// instance throttles against the same history.
type ActionLog struct {
	Redis *redis.Client
	// Retention bounds how long a key lives after its last write.
	Retention time.Duration
}

func NewActionLog(rdb *redis.Client, retention time.Duration) *ActionLog {
	return &ActionLog{Redis: rdb, Retention: retention}
}

func actionKey(caller string, action permission.Action) string {
	return actionKeyPrefix + string(action) + ":" + caller
}

func (l *ActionLog) Record(ctx context.Context, caller string, action permission.Action, at time.Time) error {
	key := actionKey(caller, action)
	pipe := l.Redis.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(at.UnixMilli()), Member: uuid.NewString()})
	if l.Retention > 0 {
		pipe.Expire(ctx, key, l.Retention)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record %s: %w", action, err)
	}
	return nil
}

func (l *ActionLog) Count(ctx context.Context, caller string, action permission.Action, since time.Time) (int, error) {
	key := actionKey(caller, action)
	bound := strconv.FormatInt(since.UnixMilli(), 10)

	pipe := l.Redis.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", bound)
	count := pipe.ZCount(ctx, key, "("+bound, "+inf")
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("count %s: %w", action, err)
	}
	return int(count.Val()), nil
}
