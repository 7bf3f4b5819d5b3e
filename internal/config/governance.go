package config

import "time"

const (
	// Quorum, in percent of total membership
	DefaultQuorumPercent    = 20
	MediumQuorumPercent     = 15
	LargeQuorumPercent      = 10
	GovernanceQuorumPercent = 25
	KickQuorumPercent       = 51

	// Community size thresholds for the quorum tiers
	MediumCommunityMembers = 25
	LargeCommunityMembers  = 100

	// Throttle
	ProposalsPerDay      = 5
	ProposalWindow       = 24 * time.Hour
	KickProposalsPerWeek = 3
	KickProposalWindow   = 7 * 24 * time.Hour

	// Voting
	DefaultVotingPeriod = 7 * 24 * time.Hour

	// Orphan buffering
	OrphanLimit  = 1000
	OrphanWindow = 10 * time.Minute

	// Duplicate suppression
	SeenLimit     = 100_000
	SeenRetention = 24 * time.Hour

	// Engine housekeeping
	TickInterval = 5 * time.Second
	QueryTimeout = 10 * time.Second
)
