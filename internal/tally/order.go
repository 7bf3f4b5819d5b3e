package tally

import (
	"agora/backend/internal/models"
	"cmp"
	"slices"
	"strings"
)

type voterBallot struct {
	voter  string
	ballot models.Ballot
}

// replayOrder returns every ballot of p, superseded ones included, ordered
// by created_at then event id. The order depends only on the ballots, never
// on the order they were received in.
func replayOrder(p *models.Proposal) []voterBallot {
	seen := make(map[string]bool)
	var out []voterBallot
	add := func(voter string, b models.Ballot) {
		key := voter + "/" + b.EventID
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, voterBallot{voter: voter, ballot: b})
	}
	for voter, list := range p.History {
		for _, b := range list {
			add(voter, b)
		}
	}
	for voter, b := range p.Votes {
		add(voter, b)
	}

	slices.SortFunc(out, func(a, b voterBallot) int {
		if c := cmp.Compare(a.ballot.CreatedAt, b.ballot.CreatedAt); c != 0 {
			return c
		}
		if c := strings.Compare(a.ballot.EventID, b.ballot.EventID); c != 0 {
			return c
		}
		return strings.Compare(a.voter, b.voter)
	})
	return out
}
