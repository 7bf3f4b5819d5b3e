package govhub_test

import (
	"agora/backend/internal/config"
	"agora/backend/internal/govhub"
	"agora/backend/internal/keys"
	"agora/backend/internal/kick"
	"agora/backend/internal/models"
	"agora/backend/internal/modlog"
	"agora/backend/internal/permission"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestKick_RejectedWhenVotingEnds(t *testing.T) {
	c := newCast(t)
	hub, _, _ := newHub(t, c, c.C)
	ctx := context.Background()

	id, err := hub.CreateKickProposal(ctx, club, c.B.PublicKey(), "posts spam")
	require.NoError(t, err)

	require.True(t, hub.HandleEvent(voteEvt(t, c.D, id, models.KickOptionRemove, 1100)))
	require.True(t, hub.HandleEvent(voteEvt(t, c.E, id, models.KickOptionRemove, 1200)))

	kicks := hub.KickProposals(club)
	require.Len(t, kicks, 1)
	kp := kicks[0]
	assert.Equal(t, models.StatusActive, kp.Status)
	assert.Equal(t, 2, kp.Tally.Counts[models.KickOptionRemove])
	assert.Equal(t, 3, kp.Tally.VotesNeeded)

	hub.Tick(time.Unix(kp.EndsAt, 0))

	kp = hub.KickProposals(club)[0]
	assert.Equal(t, models.StatusRejected, kp.Status)
	assert.Equal(t, kp.EndsAt, kp.ResolvedAt)

	community, ok := hub.Community(club)
	require.True(t, ok)
	assert.True(t, community.IsMember(c.B.PublicKey()))

	page, err := hub.ModerationLog(modlog.Query{CommunityID: club})
	require.NoError(t, err)
	assert.Empty(t, page.Entries)
}

func TestKick_PassesEarlyAndRemovesMember(t *testing.T) {
	c := newCast(t)
	notifier := new(MockNotifier)
	notifier.On("KickResolved", mock.Anything, mock.Anything).Return()
	notifier.On("ModerationLogged", mock.Anything).Return()
	hub, _, clk := newHub(t, c, c.C, func(o *govhub.Options) { o.Notifier = notifier })
	ctx := context.Background()

	id, err := hub.CreateKickProposal(ctx, club, c.E.PublicKey(), "abusive")
	require.NoError(t, err)
	_, err = hub.VoteOnKick(ctx, id, true)
	require.NoError(t, err)

	clk.Set(1300)
	hub.HandleEvent(voteEvt(t, c.D, id, models.KickOptionRemove, 1250))
	assert.Equal(t, models.StatusActive, hub.KickProposals(club)[0].Status)
	hub.HandleEvent(voteEvt(t, c.A, id, models.KickOptionRemove, 1260))

	kp := hub.KickProposals(club)[0]
	assert.Equal(t, models.StatusPassed, kp.Status)
	assert.Equal(t, int64(1260), kp.ResolvedAt)

	community, _ := hub.Community(club)
	assert.False(t, community.IsMember(c.E.PublicKey()))
	assert.Equal(t, 4, community.MemberCount())

	page, err := hub.ModerationLog(modlog.Query{CommunityID: club, Action: models.ActionKick})
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	entry := page.Entries[0]
	assert.Equal(t, kick.EntryID(id), entry.ID)
	assert.Equal(t, c.E.PublicKey(), entry.Target)
	assert.Equal(t, c.C.PublicKey(), entry.Moderator)
	assert.Equal(t, int64(1260), entry.Timestamp)

	notifier.AssertCalled(t, "KickResolved", mock.MatchedBy(func(kp models.KickProposal) bool {
		return kp.ID == id && kp.Status == models.StatusPassed
	}), mock.Anything)
	notifier.AssertCalled(t, "ModerationLogged", mock.MatchedBy(func(e models.ModerationLogEntry) bool {
		return e.ID == kick.EntryID(id)
	}))

	// A late vote for keep does not reopen a decided kick or move its tally.
	decided, ok := hub.Tally(id)
	require.True(t, ok)
	hub.HandleEvent(voteEvt(t, c.B, id, models.KickOptionKeep, 1270))
	kp = hub.KickProposals(club)[0]
	assert.Equal(t, models.StatusPassed, kp.Status)
	assert.Equal(t, int64(1260), kp.ResolvedAt)
	assert.Equal(t, []int{3, 0}, kp.Tally.Counts)
	assert.Equal(t, 3, kp.Tally.VotesNeeded)
	assert.Equal(t, models.StatusPassed, kp.Tally.Status)
	after, _ := hub.Tally(id)
	assert.Equal(t, decided, after)
}

func TestKick_OutcomeIndependentOfDeliveryOrder(t *testing.T) {
	c := newCast(t)
	proposal := kickEvt(t, c.B, "kick-1", c.E.PublicKey(), 150)
	removeC := voteEvt(t, c.C, "kick-1", models.KickOptionRemove, 200)
	removeD := voteEvt(t, c.D, "kick-1", models.KickOptionRemove, 250)
	removeA := voteEvt(t, c.A, "kick-1", models.KickOptionRemove, 260)
	keepD := voteEvt(t, c.D, "kick-1", models.KickOptionKeep, 280)

	orders := map[string][]models.Event{
		"causal":     {proposal, removeC, removeD, removeA, keepD},
		"switch":     {proposal, removeC, keepD, removeD, removeA},
		"late first": {keepD, removeA, removeD, removeC, proposal},
	}
	for name, events := range orders {
		t.Run(name, func(t *testing.T) {
			hub, _, _ := newHub(t, c, nil)
			for _, evt := range events {
				hub.HandleEvent(evt)
			}

			kicks := hub.KickProposals(club)
			require.Len(t, kicks, 1)
			kp := kicks[0]
			assert.Equal(t, models.StatusPassed, kp.Status)
			assert.Equal(t, int64(260), kp.ResolvedAt)
			assert.Equal(t, []int{3, 0}, kp.Tally.Counts)
			assert.Equal(t, models.StatusPassed, kp.Tally.Status)

			community, _ := hub.Community(club)
			assert.False(t, community.IsMember(c.E.PublicKey()))
		})
	}
}

func TestKick_SwitchBeforeThresholdKeepsItActive(t *testing.T) {
	c := newCast(t)
	hub, _, _ := newHub(t, c, nil)

	hub.HandleEvent(kickEvt(t, c.B, "kick-1", c.E.PublicKey(), 150))
	hub.HandleEvent(voteEvt(t, c.D, "kick-1", models.KickOptionKeep, 255))
	hub.HandleEvent(voteEvt(t, c.C, "kick-1", models.KickOptionRemove, 200))
	hub.HandleEvent(voteEvt(t, c.D, "kick-1", models.KickOptionRemove, 250))
	hub.HandleEvent(voteEvt(t, c.A, "kick-1", models.KickOptionRemove, 260))

	kp := hub.KickProposals(club)[0]
	assert.Equal(t, models.StatusActive, kp.Status)
	assert.Equal(t, []int{2, 1}, kp.Tally.Counts)
}

func TestKick_ModeratorRepublishesMembership(t *testing.T) {
	c := newCast(t)
	hub, mem, clk := newHub(t, c, c.B)
	ctx := context.Background()

	id, err := hub.CreateKickProposal(ctx, club, c.E.PublicKey(), "abusive")
	require.NoError(t, err)
	_, err = hub.VoteOnKick(ctx, id, true)
	require.NoError(t, err)

	clk.Set(1300)
	hub.HandleEvent(voteEvt(t, c.C, id, models.KickOptionRemove, 1250))
	hub.HandleEvent(voteEvt(t, c.D, id, models.KickOptionRemove, 1260))

	assert.Eventually(t, func() bool {
		return len(published(mem, models.KindCommunity, c.B.PublicKey())) == 1
	}, time.Second, 10*time.Millisecond)

	evt := published(mem, models.KindCommunity, c.B.PublicKey())[0]
	assert.NotContains(t, evt.Tags.Values("p"), c.E.PublicKey())
	assert.Contains(t, evt.Tags.Values("p"), c.D.PublicKey())

	assert.Eventually(t, func() bool {
		community, _ := hub.Community(club)
		return community.EventID == evt.ID
	}, time.Second, 10*time.Millisecond)
	community, _ := hub.Community(club)
	assert.Equal(t, c.A.PublicKey(), community.Creator)
	assert.False(t, community.IsMember(c.E.PublicKey()))
}

func TestKick_CreatorIsImmune(t *testing.T) {
	c := newCast(t)
	hub, mem, _ := newHub(t, c, c.C)

	_, err := hub.CreateKickProposal(context.Background(), club, c.A.PublicKey(), "tyrant")
	denial, ok := permission.IsDenied(err)
	require.True(t, ok)
	assert.Equal(t, permission.ReasonTargetIsCreator, denial.Reason)
	assert.Empty(t, published(mem, models.KindProposal, c.C.PublicKey()))

	// Inbound kicks against the creator are dropped too.
	hub.HandleEvent(kickEvt(t, c.D, "kick-a", c.A.PublicKey(), 1100))
	assert.Empty(t, hub.KickProposals(club))
}

func TestKick_DuplicateTargetDenied(t *testing.T) {
	c := newCast(t)
	hub, _, _ := newHub(t, c, c.C)
	ctx := context.Background()

	_, err := hub.CreateKickProposal(ctx, club, c.D.PublicKey(), "spam")
	require.NoError(t, err)

	_, err = hub.CreateKickProposal(ctx, club, c.D.PublicKey(), "more spam")
	denial, ok := permission.IsDenied(err)
	require.True(t, ok)
	assert.Equal(t, permission.ReasonDuplicateProposal, denial.Reason)
}

func TestHandleEvent_OrderIndependent(t *testing.T) {
	c := newCast(t)
	hub := govhub.NewManagerService(govhub.Options{})
	hub.Now = newClock(1000).Now

	// Everything arrives before the community that anchors it.
	vote := voteEvt(t, c.D, "prop-1", 0, 1100)
	proposal := proposalEvt(t, c.C, "prop-1", 1000, 5000)
	require.True(t, hub.HandleEvent(vote))
	require.True(t, hub.HandleEvent(proposal))
	assert.Equal(t, 2, hub.Stats().Pending)

	_, ok := hub.Tally("prop-1")
	assert.False(t, ok)

	require.True(t, hub.HandleEvent(communityEvt(t, c.A, 100, c.members(), c.B)))

	res, ok := hub.Tally("prop-1")
	require.True(t, ok)
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, 0, hub.Stats().Pending)

	// Redelivery is ignored.
	assert.False(t, hub.HandleEvent(vote))
}

func TestHandleEvent_LastVoteWins(t *testing.T) {
	c := newCast(t)
	hub, _, _ := newHub(t, c, nil)

	hub.HandleEvent(proposalEvt(t, c.C, "prop-1", 1000, 5000))
	newer := voteEvt(t, c.D, "prop-1", 1, 1200)
	older := voteEvt(t, c.D, "prop-1", 0, 1100)
	hub.HandleEvent(newer)
	hub.HandleEvent(older)

	res, _ := hub.Tally("prop-1")
	assert.Equal(t, []int{0, 1}, res.Counts)

	// Votes from outside the community are not counted.
	outsider, err := keys.Generate()
	require.NoError(t, err)
	hub.HandleEvent(voteEvt(t, outsider, "prop-1", 0, 1300))
	res, _ = hub.Tally("prop-1")
	assert.Equal(t, 1, res.Total)
}

func TestTick_ResolvesExpiredProposal(t *testing.T) {
	c := newCast(t)
	hub, _, _ := newHub(t, c, nil)

	hub.HandleEvent(proposalEvt(t, c.C, "prop-1", 1000, 2000))
	hub.HandleEvent(voteEvt(t, c.D, "prop-1", 0, 1100))
	hub.HandleEvent(proposalEvt(t, c.C, "prop-2", 1000, 2000))

	hub.Tick(time.Unix(1999, 0))
	for _, p := range hub.Proposals(club) {
		assert.Equal(t, models.StatusActive, p.Status)
	}

	hub.Tick(time.Unix(2000, 0))
	status := map[string]models.ProposalStatus{}
	for _, p := range hub.Proposals(club) {
		status[p.ID] = p.Status
		assert.Equal(t, int64(2000), p.ResolvedAt)
	}
	assert.Equal(t, models.StatusPassed, status["prop-1"])
	assert.Equal(t, models.StatusRejected, status["prop-2"])
}

func TestVote_RollsBackWhenPublishFails(t *testing.T) {
	c := newCast(t)
	hub, mem, _ := newHub(t, c, c.D)
	ctx := context.Background()
	hub.HandleEvent(proposalEvt(t, c.C, "prop-1", 1000, 5000))

	var mu sync.Mutex
	sawPending := false
	unsubscribe := hub.Subscribe(func(s govhub.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		for _, p := range s.Proposals {
			if b, ok := p.Votes[c.D.PublicKey()]; ok && b.Pending {
				sawPending = true
			}
		}
	})
	defer unsubscribe()

	mem.FailPublish(errors.New("relay down"))
	_, err := hub.Vote(ctx, "prop-1", 0)
	assert.ErrorIs(t, err, govhub.ErrPublishFailed)

	mu.Lock()
	assert.True(t, sawPending)
	mu.Unlock()
	res, _ := hub.Tally("prop-1")
	assert.Equal(t, 0, res.Total)
	assert.Empty(t, hub.Proposals(club)[0].Votes)

	mem.FailPublish(nil)
	id, err := hub.Vote(ctx, "prop-1", 1)
	require.NoError(t, err)

	ballot := hub.Proposals(club)[0].Votes[c.D.PublicKey()]
	assert.Equal(t, id, ballot.EventID)
	assert.False(t, ballot.Pending)
	assert.Len(t, published(mem, models.KindVote, c.D.PublicKey()), 1)
}

func TestVote_ChangedVoteSortsAfterPrevious(t *testing.T) {
	c := newCast(t)
	hub, _, _ := newHub(t, c, c.D)
	ctx := context.Background()
	hub.HandleEvent(proposalEvt(t, c.C, "prop-1", 1000, 5000))

	_, err := hub.Vote(ctx, "prop-1", 0)
	require.NoError(t, err)
	_, err = hub.Vote(ctx, "prop-1", 1)
	require.NoError(t, err)

	ballot := hub.Proposals(club)[0].Votes[c.D.PublicKey()]
	assert.Equal(t, 1, ballot.OptionIndex)
	assert.Equal(t, int64(1001), ballot.CreatedAt)
}

func TestVote_Rejections(t *testing.T) {
	c := newCast(t)
	hub, _, clk := newHub(t, c, c.D)
	ctx := context.Background()
	hub.HandleEvent(proposalEvt(t, c.C, "prop-1", 1000, 2000))

	_, err := hub.Vote(ctx, "prop-1", 5)
	assert.ErrorIs(t, err, govhub.ErrInvalidOption)

	_, err = hub.Vote(ctx, "missing", 0)
	assert.ErrorIs(t, err, govhub.ErrUnknownProposal)

	clk.Set(2000)
	_, err = hub.Vote(ctx, "prop-1", 0)
	assert.ErrorIs(t, err, govhub.ErrProposalClosed)

	outsider, err := keys.Generate()
	require.NoError(t, err)
	other, _, _ := newHub(t, c, outsider)
	other.HandleEvent(proposalEvt(t, c.C, "prop-1", 1000, 5000))
	_, err = other.Vote(ctx, "prop-1", 0)
	denial, ok := permission.IsDenied(err)
	require.True(t, ok)
	assert.Equal(t, permission.ReasonNotMember, denial.Reason)
}

func TestCreateProposal_Throttled(t *testing.T) {
	c := newCast(t)
	hub, mem, _ := newHub(t, c, c.C)
	ctx := context.Background()
	draft := govhub.ProposalDraft{CommunityID: club, Title: "Snacks", Options: []string{"yes", "no"}}

	for range 5 {
		_, err := hub.CreateProposal(ctx, draft)
		require.NoError(t, err)
	}
	_, err := hub.CreateProposal(ctx, draft)
	denial, ok := permission.IsDenied(err)
	require.True(t, ok)
	assert.Equal(t, permission.ReasonThrottled, denial.Reason)

	assert.Len(t, published(mem, models.KindProposal, c.C.PublicKey()), 5)
	assert.Len(t, hub.Proposals(club), 5)
}

func TestCancelProposal(t *testing.T) {
	c := newCast(t)
	hub, _, _ := newHub(t, c, c.C)
	ctx := context.Background()

	id, err := hub.CreateProposal(ctx, govhub.ProposalDraft{
		CommunityID: club,
		Title:       "Rename club",
		Options:     []string{"yes", "no"},
		Category:    models.CategoryGovernance,
	})
	require.NoError(t, err)

	// A deletion from someone else is ignored.
	hub.HandleEvent(sign(t, c.D, models.Event{CreatedAt: 1100, Kind: models.KindDeletion, Tags: models.Tags{{"e", id}}}))
	assert.Equal(t, models.StatusActive, hub.Proposals(club)[0].Status)

	_, err = hub.CancelProposal(ctx, id, "duplicate")
	require.NoError(t, err)
	p := hub.Proposals(club)[0]
	assert.Equal(t, models.StatusCanceled, p.Status)
	assert.Equal(t, models.CategoryGovernance, p.Category)

	_, err = hub.CancelProposal(ctx, id, "again")
	assert.ErrorIs(t, err, govhub.ErrProposalClosed)
}

func TestModeration(t *testing.T) {
	c := newCast(t)
	member, _, _ := newHub(t, c, c.D)
	ctx := context.Background()

	_, err := member.Ban(ctx, club, c.E.PublicKey(), "spam")
	denial, ok := permission.IsDenied(err)
	require.True(t, ok)
	assert.Equal(t, permission.ReasonInsufficientRole, denial.Reason)

	moderator, _, _ := newHub(t, c, c.B)
	// Moderation events from plain members are not logged.
	moderator.HandleEvent(sign(t, c.D, models.Event{
		CreatedAt: 1100, Kind: models.KindModeration,
		Tags: models.Tags{{"e", club}, {"action", "ban"}, {"p", c.E.PublicKey()}},
	}))
	page, err := moderator.ModerationLog(modlog.Query{CommunityID: club})
	require.NoError(t, err)
	assert.Empty(t, page.Entries)

	id, err := moderator.Ban(ctx, club, c.E.PublicKey(), "spam")
	require.NoError(t, err)
	_, err = moderator.RejectPost(ctx, club, "post-9", "off topic")
	require.NoError(t, err)

	page, err = moderator.ModerationLog(modlog.Query{CommunityID: club, Action: models.ActionBan})
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, id, page.Entries[0].ID)
	assert.Equal(t, c.B.PublicKey(), page.Entries[0].Moderator)
	assert.Equal(t, "spam", page.Entries[0].Reason)

	page, err = moderator.ModerationLog(modlog.Query{CommunityID: club, Action: models.ActionRejectPost})
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, "post-9", page.Entries[0].Metadata["post_id"])
}

func TestUpdateCommunity(t *testing.T) {
	c := newCast(t)
	ctx := context.Background()
	guidelines := "Be kind"

	moderator, _, _ := newHub(t, c, c.B)
	_, err := moderator.UpdateCommunity(ctx, club, govhub.CommunityPatch{Guidelines: &guidelines})
	denial, ok := permission.IsDenied(err)
	require.True(t, ok)
	assert.Equal(t, permission.ActionSetGuidelines, denial.Action)

	creator, _, _ := newHub(t, c, c.A)
	_, err = creator.UpdateCommunity(ctx, club, govhub.CommunityPatch{Guidelines: &guidelines})
	require.NoError(t, err)

	community, _ := creator.Community(club)
	assert.Equal(t, "Be kind", community.Guidelines)
	assert.Equal(t, "Chess Club", community.Name)
	assert.Equal(t, 5, community.MemberCount())
	assert.True(t, community.IsModerator(c.B.PublicKey()))
}

func TestInvites(t *testing.T) {
	c := newCast(t)
	hub, _, clk := newHub(t, c, c.A)
	ctx := context.Background()
	newcomer, err := keys.Generate()
	require.NoError(t, err)
	late, err := keys.Generate()
	require.NoError(t, err)

	inv, err := hub.CreateInvite(ctx, club, 1, time.Hour)
	require.NoError(t, err)

	_, err = hub.RedeemInvite(ctx, inv.ID, c.D.PublicKey())
	assert.ErrorIs(t, err, govhub.ErrAlreadyMember)

	_, err = hub.RedeemInvite(ctx, inv.ID, newcomer.PublicKey())
	require.NoError(t, err)
	community, _ := hub.Community(club)
	assert.True(t, community.IsMember(newcomer.PublicKey()))
	assert.Equal(t, 6, community.MemberCount())

	_, err = hub.RedeemInvite(ctx, inv.ID, late.PublicKey())
	assert.ErrorIs(t, err, govhub.ErrInvalidInvite)

	timed, err := hub.CreateInvite(ctx, club, 0, time.Hour)
	require.NoError(t, err)
	clk.Advance(3600)
	_, err = hub.RedeemInvite(ctx, timed.ID, late.PublicKey())
	assert.ErrorIs(t, err, govhub.ErrInvalidInvite)

	invites := hub.Invites(club)
	require.Len(t, invites, 2)
	for _, i := range invites {
		if i.ID == inv.ID {
			assert.Equal(t, 1, i.UsedCount)
		}
	}
}

func TestRedeemInvite_RequiresModerator(t *testing.T) {
	c := newCast(t)
	hub, _, _ := newHub(t, c, c.C)
	ctx := context.Background()
	newcomer, err := keys.Generate()
	require.NoError(t, err)

	inv, err := hub.CreateInvite(ctx, club, 0, 0)
	require.NoError(t, err)
	_, err = hub.RedeemInvite(ctx, inv.ID, newcomer.PublicKey())
	assert.ErrorIs(t, err, govhub.ErrCannotAdmit)
	assert.Equal(t, 0, hub.Invites(club)[0].UsedCount)
}

func TestFollow_BackfillsAndReceivesLiveEvents(t *testing.T) {
	c := newCast(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub, mem, _ := newHub(t, c, c.D)
	// The stored history of the relay.
	_, err := mem.Publish(ctx, proposalEvt(t, c.C, "prop-1", 1000, 5000))
	require.NoError(t, err)

	go hub.Run(ctx)
	require.NoError(t, hub.Follow(ctx, club))
	assert.Equal(t, []string{club}, hub.Following())
	assert.Len(t, hub.Proposals(club), 1)

	_, err = mem.Publish(ctx, voteEvt(t, c.E, "prop-1", 0, 1100))
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		res, _ := hub.Tally("prop-1")
		return res.Total == 1
	}, time.Second, 10*time.Millisecond)

	// Votes that only tag the proposal arrive through its own subscription.
	_, err = mem.Publish(ctx, sign(t, c.C, models.Event{
		CreatedAt: 1200, Kind: models.KindVote, Tags: models.Tags{{"e", "prop-1"}}, Content: "1",
	}))
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		res, _ := hub.Tally("prop-1")
		return res.Total == 2
	}, time.Second, 10*time.Millisecond)

	hub.Unfollow(club)
	assert.Empty(t, hub.Following())
}

func TestRestore(t *testing.T) {
	c := newCast(t)
	store := new(MockStorage)
	entry := models.ModerationLogEntry{ID: "m1", CommunityID: club, Moderator: c.B.PublicKey(), Action: models.ActionBan, Target: c.E.PublicKey(), Timestamp: 900}
	events := []models.Event{
		voteEvt(t, c.D, "prop-1", 0, 1100),
		proposalEvt(t, c.C, "prop-1", 1000, 5000),
		communityEvt(t, c.A, 100, c.members(), c.B),
	}
	store.On("ListModerationEntries", mock.Anything, "", 0).Return([]models.ModerationLogEntry{entry}, nil)
	store.On("ListInvites", mock.Anything, "").Return([]models.InviteLink{{ID: "inv-1", CommunityID: club, CreatedBy: c.A.PublicKey()}}, nil)
	store.On("LoadEvents", mock.Anything, mock.Anything, int64(0)).Return(events, nil)
	store.On("SaveCommunity", mock.Anything, mock.AnythingOfType("*models.Community")).Return(nil)

	hub := govhub.NewManagerService(govhub.Options{Storage: store})
	hub.Now = newClock(1000).Now
	require.NoError(t, hub.Restore(context.Background()))

	res, ok := hub.Tally("prop-1")
	require.True(t, ok)
	assert.Equal(t, 1, res.Total)
	assert.Len(t, hub.Invites(club), 1)
	page, err := hub.ModerationLog(modlog.Query{CommunityID: club})
	require.NoError(t, err)
	assert.Len(t, page.Entries, 1)

	store.AssertNotCalled(t, "SaveEvent", mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "SaveModerationEntry", mock.Anything, mock.Anything)
}

func TestHandleEvent_PersistsAndBroadcasts(t *testing.T) {
	c := newCast(t)
	store := new(MockStorage)
	store.On("SaveEvent", mock.Anything, mock.AnythingOfType("models.Event")).Return(nil)
	store.On("SaveCommunity", mock.Anything, mock.AnythingOfType("*models.Community")).Return(nil)

	hub := govhub.NewManagerService(govhub.Options{Storage: store})
	var versions []uint64
	unsubscribe := hub.Subscribe(func(s govhub.Snapshot) { versions = append(versions, s.Version) })

	hub.HandleEvent(communityEvt(t, c.A, 100, c.members(), c.B))
	unsubscribe()
	hub.HandleEvent(proposalEvt(t, c.C, "prop-1", 1000, 5000))

	assert.Equal(t, []uint64{1}, versions)
	store.AssertNumberOfCalls(t, "SaveEvent", 2)
	store.AssertNumberOfCalls(t, "SaveCommunity", 1)

	snap := hub.Snapshot()
	assert.Equal(t, uint64(2), snap.Version)
	assert.Contains(t, snap.Communities, club)
	assert.Len(t, snap.Proposals, 1)
}

func TestHandleEvent_RejectsForgedEvents(t *testing.T) {
	c := newCast(t)
	hub, _, _ := newHub(t, c, nil)

	forged := voteEvt(t, c.D, "prop-1", 0, 1100)
	forged.Content = `{"optionIndex":1}`
	assert.False(t, hub.HandleEvent(forged))
}

func TestTick_SweepsOrphansOnHubClock(t *testing.T) {
	c := newCast(t)
	hub, _, clk := newHub(t, c, nil)

	hub.HandleEvent(voteEvt(t, c.D, "prop-x", 0, 1000))
	require.Equal(t, 1, hub.Stats().Pending)

	clk.Advance(int64(config.OrphanWindow.Seconds()) - 1)
	hub.Tick(clk.Now())
	assert.Equal(t, 1, hub.Stats().Pending)

	clk.Advance(1)
	hub.Tick(clk.Now())
	assert.Equal(t, 0, hub.Stats().Pending)
	assert.Equal(t, 1, hub.Stats().Expired)
}

func TestDeletion_CancelsKnownAndWaitsForMissing(t *testing.T) {
	c := newCast(t)
	hub, _, _ := newHub(t, c, nil)

	hub.HandleEvent(proposalEvt(t, c.C, "prop-1", 1000, 5000))
	hub.HandleEvent(sign(t, c.C, models.Event{
		CreatedAt: 1100,
		Kind:      models.KindDeletion,
		Tags:      models.Tags{{"e", "prop-1"}, {"e", "prop-2"}},
	}))

	status := func(id string) models.ProposalStatus {
		for _, p := range hub.Proposals(club) {
			if p.ID == id {
				return p.Status
			}
		}
		return ""
	}
	assert.Equal(t, models.StatusCanceled, status("prop-1"))
	assert.Equal(t, 1, hub.Stats().Pending)

	hub.HandleEvent(proposalEvt(t, c.C, "prop-2", 1050, 5000))
	assert.Equal(t, models.StatusCanceled, status("prop-2"))
	assert.Equal(t, 0, hub.Stats().Pending)
}
