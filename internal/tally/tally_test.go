package tally_test

import (
	"agora/backend/internal/models"
	"agora/backend/internal/tally"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVotesNeeded_Kick(t *testing.T) {
	tests := []struct{ members, want int }{
		{5, 3},
		{10, 6},
		{11, 6},
		{19, 10},
		{1, 1},
		{0, 1},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.members), func(t *testing.T) {
			assert.Equal(t, tt.want, tally.VotesNeeded(tt.members, models.CategoryKick))
		})
	}
}

func TestQuorumPercent_Tiers(t *testing.T) {
	assert.Equal(t, 20, tally.QuorumPercent(25, models.CategoryGeneral))
	assert.Equal(t, 15, tally.QuorumPercent(26, models.CategoryGeneral))
	assert.Equal(t, 15, tally.QuorumPercent(100, models.CategoryGeneral))
	assert.Equal(t, 10, tally.QuorumPercent(101, models.CategoryGeneral))
	assert.Equal(t, 25, tally.QuorumPercent(10, models.CategoryGovernance))
	assert.Equal(t, 25, tally.QuorumPercent(500, models.CategoryGovernance))
	assert.Equal(t, 51, tally.QuorumPercent(500, models.CategoryKick))
	assert.InDelta(t, 0.15, tally.QuorumFraction(30, models.CategoryGeneral), 1e-9)

	// 10 members at 20% need exactly 2; 26 at 15% need ceil(3.9) = 4.
	assert.Equal(t, 2, tally.VotesNeeded(10, models.CategoryGeneral))
	assert.Equal(t, 4, tally.VotesNeeded(26, models.CategoryGeneral))
}

func proposal(category models.Category, votes map[string]models.Ballot) *models.Proposal {
	return &models.Proposal{
		ID:       "p1",
		Options:  []string{"yes", "no", "abstain"},
		Category: category,
		EndsAt:   1000,
		Votes:    votes,
		Status:   models.StatusActive,
	}
}

func TestCompute_Conservation(t *testing.T) {
	p := proposal(models.CategoryGeneral, map[string]models.Ballot{
		"A": {OptionIndex: 0, CreatedAt: 10, EventID: "a"},
		"B": {OptionIndex: 1, CreatedAt: 11, EventID: "b"},
		"C": {OptionIndex: 0, CreatedAt: 12, EventID: "c"},
		"D": {OptionIndex: 2, CreatedAt: 13, EventID: "d"},
	})

	res := tally.Compute(p, 10, nil, 500)

	sum := 0
	for _, c := range res.Counts {
		sum += c
	}
	assert.Equal(t, len(p.Votes), sum)
	assert.Equal(t, res.Total, sum)
	assert.Equal(t, []int{2, 1, 1}, res.Counts)
	assert.Equal(t, []int{100, 50, 50}, res.Percentages)
	assert.Equal(t, 0, res.Leading)
	assert.Equal(t, models.StatusActive, res.Status)
}

func TestCompute_Idempotent(t *testing.T) {
	p := proposal(models.CategoryGeneral, map[string]models.Ballot{
		"A": {OptionIndex: 1, CreatedAt: 10, EventID: "a"},
	})
	first := tally.Compute(p, 10, nil, 500)

	// Re-applying the same ballot leaves the votes map unchanged.
	p.Votes["A"] = models.Ballot{OptionIndex: 1, CreatedAt: 10, EventID: "a"}
	assert.Equal(t, first, tally.Compute(p, 10, nil, 500))
}

func TestCompute_IgnoresIneligibleVotes(t *testing.T) {
	p := proposal(models.CategoryGeneral, map[string]models.Ballot{
		"A": {OptionIndex: 0, CreatedAt: 10},
		"B": {OptionIndex: 7, CreatedAt: 10},
		"C": {OptionIndex: 0, CreatedAt: 1000},
		"X": {OptionIndex: 0, CreatedAt: 10},
	})
	members := map[string]bool{"A": true, "B": true, "C": true}

	res := tally.Compute(p, 3, func(pk string) bool { return members[pk] }, 500)

	assert.Equal(t, []int{1, 0, 0}, res.Counts)
	assert.Equal(t, 1, res.Total)
}

func TestCompute_ResolutionAtEndsAt(t *testing.T) {
	votes := map[string]models.Ballot{
		"A": {OptionIndex: 1, CreatedAt: 10, EventID: "a"},
		"B": {OptionIndex: 1, CreatedAt: 20, EventID: "b"},
	}

	assert.Equal(t, models.StatusActive, tally.Compute(proposal(models.CategoryGeneral, votes), 10, nil, 999).Status)

	passed := tally.Compute(proposal(models.CategoryGeneral, votes), 10, nil, 1000)
	assert.Equal(t, models.StatusPassed, passed.Status)
	assert.Equal(t, 1, passed.Leading)
	assert.Equal(t, int64(20), passed.DecidedAt)

	// Governance needs 25% of 10 = 3.
	assert.Equal(t, models.StatusRejected, tally.Compute(proposal(models.CategoryGovernance, votes), 10, nil, 1000).Status)
	assert.Equal(t, models.StatusRejected, tally.Compute(proposal(models.CategoryGeneral, nil), 10, nil, 1000).Status)
}

func TestCompute_TieGoesToLowestIndex(t *testing.T) {
	p := proposal(models.CategoryGeneral, map[string]models.Ballot{
		"A": {OptionIndex: 2, CreatedAt: 1},
		"B": {OptionIndex: 1, CreatedAt: 2},
	})

	assert.Equal(t, 1, tally.Compute(p, 5, nil, 10).Leading)
}

func TestCompute_KickPassesEarly(t *testing.T) {
	p := &models.Proposal{
		Options:  models.KickOptions,
		Category: models.CategoryKick,
		EndsAt:   1000,
		Status:   models.StatusActive,
		Votes: map[string]models.Ballot{
			"C": {OptionIndex: models.KickOptionRemove, CreatedAt: 10, EventID: "c"},
			"D": {OptionIndex: models.KickOptionRemove, CreatedAt: 30, EventID: "d"},
			"E": {OptionIndex: models.KickOptionRemove, CreatedAt: 20, EventID: "e"},
		},
	}

	res := tally.Compute(p, 5, nil, 100)
	assert.Equal(t, models.StatusPassed, res.Status)
	assert.Equal(t, int64(30), res.DecidedAt)

	delete(p.Votes, "D")
	res = tally.Compute(p, 5, nil, 100)
	assert.Equal(t, models.StatusActive, res.Status)
	assert.Equal(t, 67, res.Percentages[models.KickOptionRemove])
	assert.Equal(t, models.StatusRejected, tally.Compute(p, 5, nil, 1000).Status)
}

func TestCompute_CanceledIsSticky(t *testing.T) {
	p := proposal(models.CategoryGeneral, map[string]models.Ballot{"A": {OptionIndex: 0, CreatedAt: 1}})
	p.Status = models.StatusCanceled

	assert.Equal(t, models.StatusCanceled, tally.Compute(p, 1, nil, 5000).Status)
}

func TestCompute_KickReplaysSupersededBallots(t *testing.T) {
	remove := models.Ballot{OptionIndex: models.KickOptionRemove}
	at := func(b models.Ballot, createdAt int64, id string) models.Ballot {
		b.CreatedAt, b.EventID = createdAt, id
		return b
	}
	p := &models.Proposal{
		Options:  models.KickOptions,
		Category: models.CategoryKick,
		EndsAt:   1000,
		Status:   models.StatusActive,
		History: map[string][]models.Ballot{
			"C": {at(remove, 200, "c1")},
			"D": {at(remove, 250, "d1"), {OptionIndex: models.KickOptionKeep, CreatedAt: 280, EventID: "d2"}},
			"A": {at(remove, 260, "a1")},
		},
	}
	p.Votes = map[string]models.Ballot{}
	for voter, list := range p.History {
		p.Votes[voter] = list[len(list)-1]
	}

	// Remove reached 3 of 5 at 260 before D switched to keep.
	res := tally.Compute(p, 5, nil, 300)
	assert.Equal(t, models.StatusPassed, res.Status)
	assert.Equal(t, int64(260), res.DecidedAt)
	assert.Equal(t, []int{1, 2}, res.Counts)
}

func TestCompute_TerminalIsFrozenAtResolvedAt(t *testing.T) {
	p := proposal(models.CategoryGeneral, map[string]models.Ballot{
		"A": {OptionIndex: 0, CreatedAt: 10, EventID: "a"},
		"B": {OptionIndex: 0, CreatedAt: 20, EventID: "b"},
		"C": {OptionIndex: 1, CreatedAt: 1500, EventID: "c"},
	})
	p.EndsAt = 0
	p.Status = models.StatusPassed
	p.ResolvedAt = 1000

	res := tally.Compute(p, 10, nil, 5000)
	assert.Equal(t, models.StatusPassed, res.Status)
	assert.Equal(t, []int{2, 0, 0}, res.Counts)
	assert.Equal(t, int64(1000), res.DecidedAt)
}
