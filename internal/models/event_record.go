package models

import "time"

// EventRecord is the cached form of an accepted event, used to warm the
// engine on restart.
type EventRecord struct {
	ID         string    `gorm:"primaryKey"`
	PubKey     string    `gorm:"type:text;not null;index"`
	Kind       int       `gorm:"not null;index:idx_events_kind_time"`
	EventTime  int64     `gorm:"not null;index:idx_events_kind_time"`
	Tags       Tags      `gorm:"serializer:json"`
	Content    string    `gorm:"type:text"`
	Sig        string    `gorm:"type:text"`
	ReceivedAt time.Time `gorm:"autoCreateTime"`
}

func NewEventRecord(evt Event) EventRecord {
	return EventRecord{
		ID:        evt.ID,
		PubKey:    evt.PubKey,
		Kind:      evt.Kind,
		EventTime: evt.CreatedAt,
		Tags:      evt.Tags,
		Content:   evt.Content,
		Sig:       evt.Sig,
	}
}

// Event converts the record back to its wire form.
func (r EventRecord) Event() Event {
	return Event{
		ID:        r.ID,
		PubKey:    r.PubKey,
		CreatedAt: r.EventTime,
		Kind:      r.Kind,
		Tags:      r.Tags,
		Content:   r.Content,
		Sig:       r.Sig,
	}
}
