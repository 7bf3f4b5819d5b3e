package models

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Governance event kinds understood by the engine.
const (
	KindDeletion   = 5
	KindComment    = 1111
	KindModeration = 4550
	KindCommunity  = 34550
	KindProposal   = 34551
	KindVote       = 34552
)

// Tag is a single event tag, e.g. ["e", "<id>"] or ["p", "<pubkey>"].
type Tag []string

// Key returns the tag name or an empty string for an empty tag.
func (t Tag) Key() string {
	if len(t) == 0 {
		return ""
	}
	return t[0]
}

// Value returns the first tag value or an empty string.
func (t Tag) Value() string {
	if len(t) < 2 {
		return ""
	}
	return t[1]
}

// Tags is the ordered tag list of an event.
type Tags []Tag

// Value returns the value of the first tag named key.
func (tags Tags) Value(key string) string {
	for _, t := range tags {
		if t.Key() == key {
			return t.Value()
		}
	}
	return ""
}

// Values returns the non-empty values of every tag named key, in order.
func (tags Tags) Values(key string) []string {
	var out []string
	for _, t := range tags {
		if t.Key() == key && t.Value() != "" {
			out = append(out, t.Value())
		}
	}
	return out
}

// Has reports whether a tag named key carries value.
func (tags Tags) Has(key, value string) bool {
	for _, t := range tags {
		if t.Key() == key && t.Value() == value {
			return true
		}
	}
	return false
}

// Event is the signed wire envelope shared by every governance kind.
type Event struct {
	ID        string `json:"id"`
	PubKey    string `json:"pubkey"`
	CreatedAt int64  `json:"created_at"`
	Kind      int    `json:"kind"`
	Tags      Tags   `json:"tags"`
	Content   string `json:"content"`
	Sig       string `json:"sig"`
}

// Serialize returns the canonical commitment the event id is derived from.
func (e Event) Serialize() []byte {
	tags := e.Tags
	if tags == nil {
		tags = Tags{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode([]any{0, e.PubKey, e.CreatedAt, e.Kind, tags, e.Content})
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
}

// ComputeID returns the hex sha256 of the canonical serialization.
func (e Event) ComputeID() string {
	sum := sha256.Sum256(e.Serialize())
	return hex.EncodeToString(sum[:])
}

// Newer reports whether a supersedes b: a later created_at wins and, on a
// tie, the lexicographically smaller id wins.
func Newer(a, b Event) bool {
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt > b.CreatedAt
	}
	return a.ID < b.ID
}
