package govhub_test

import (
	"agora/backend/internal/govhub"
	"agora/backend/internal/keys"
	"agora/backend/internal/models"
	"agora/backend/internal/relay"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const club = "club"

// cast holds the identities used across the hub tests. A is the creator and
// B a moderator; C, D and E are plain members.
type cast struct {
	A, B, C, D, E *keys.KeySigner
}

func newCast(t *testing.T) cast {
	t.Helper()
	gen := func() *keys.KeySigner {
		s, err := keys.Generate()
		require.NoError(t, err)
		return s
	}
	return cast{A: gen(), B: gen(), C: gen(), D: gen(), E: gen()}
}

func (c cast) members() []*keys.KeySigner {
	return []*keys.KeySigner{c.A, c.B, c.C, c.D, c.E}
}

type clock struct{ unix atomic.Int64 }

func newClock(start int64) *clock {
	c := &clock{}
	c.unix.Store(start)
	return c
}

func (c *clock) Now() time.Time { return time.Unix(c.unix.Load(), 0) }
func (c *clock) Set(unix int64) { c.unix.Store(unix) }
func (c *clock) Advance(s int64) { c.unix.Add(s) }

func sign(t *testing.T, s *keys.KeySigner, evt models.Event) models.Event {
	t.Helper()
	require.NoError(t, s.Sign(&evt))
	return evt
}

func communityEvt(t *testing.T, author *keys.KeySigner, createdAt int64, members []*keys.KeySigner, moderators ...*keys.KeySigner) models.Event {
	t.Helper()
	mods := make(map[string]bool)
	for _, m := range moderators {
		mods[m.PublicKey()] = true
	}
	tags := models.Tags{{"d", club}}
	for _, m := range members {
		if mods[m.PublicKey()] {
			tags = append(tags, models.Tag{"p", m.PublicKey(), "", "moderator"})
		} else {
			tags = append(tags, models.Tag{"p", m.PublicKey()})
		}
	}
	return sign(t, author, models.Event{
		CreatedAt: createdAt,
		Kind:      models.KindCommunity,
		Tags:      tags,
		Content:   `{"name":"Chess Club","description":"weekly games"}`,
	})
}

func proposalEvt(t *testing.T, author *keys.KeySigner, id string, createdAt, endsAt int64) models.Event {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"title":   "Move to Thursdays",
		"options": []string{"yes", "no"},
		"endsAt":  endsAt,
	})
	require.NoError(t, err)
	return sign(t, author, models.Event{
		CreatedAt: createdAt,
		Kind:      models.KindProposal,
		Tags:      models.Tags{{"d", id}, {"e", club}},
		Content:   string(body),
	})
}

func kickEvt(t *testing.T, author *keys.KeySigner, id, target string, createdAt int64) models.Event {
	t.Helper()
	return sign(t, author, models.Event{
		CreatedAt: createdAt,
		Kind:      models.KindProposal,
		Tags:      models.Tags{{"d", id}, {"e", club}, {"t", "kick"}, {"p", target}},
		Content:   fmt.Sprintf(`{"title":"Remove","description":"spam","options":["remove","keep"],"endsAt":%d}`, createdAt+604800),
	})
}

func voteEvt(t *testing.T, voter *keys.KeySigner, proposalID string, option int, createdAt int64) models.Event {
	t.Helper()
	return sign(t, voter, models.Event{
		CreatedAt: createdAt,
		Kind:      models.KindVote,
		Tags:      models.Tags{{"e", proposalID}, {"e", club}},
		Content:   fmt.Sprintf(`{"optionIndex":%d}`, option),
	})
}

// newHub returns a hub acting as self over an in-memory relay, with the
// club already defined by A at t=100.
func newHub(t *testing.T, c cast, self *keys.KeySigner, opts ...func(*govhub.Options)) (*govhub.ManagerService, *relay.Memory, *clock) {
	t.Helper()
	mem := relay.NewMemory()
	o := govhub.Options{Transport: mem}
	if self != nil {
		o.Signer = self
	}
	for _, fn := range opts {
		fn(&o)
	}
	hub := govhub.NewManagerService(o)
	clk := newClock(1000)
	hub.Now = clk.Now

	require.True(t, hub.HandleEvent(communityEvt(t, c.A, 100, c.members(), c.B)))
	return hub, mem, clk
}

func published(mem *relay.Memory, kind int, author string) []models.Event {
	var out []models.Event
	for _, evt := range mem.Events() {
		if evt.Kind == kind && evt.PubKey == author {
			out = append(out, evt)
		}
	}
	return out
}
