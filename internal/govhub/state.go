package govhub

import (
	"agora/backend/internal/models"
	"agora/backend/internal/tally"
	"agora/backend/internal/validator"
	"cmp"
	"slices"
	"strings"
)

// communityVersion is one accepted community definition event.
type communityVersion struct {
	evt     models.Event
	content validator.CommunityContent
}

// communityState holds every version seen for a community id and the
// projections derived from them.
type communityState struct {
	id       string
	versions map[string]communityVersion
	// kicked maps a removed member to the resolution time of the kick.
	kicked map[string]int64

	// current is the latest authorized version; effective is current minus
	// members removed by passed kicks resolved after it was published.
	current   *models.Community
	effective *models.Community
}

func newCommunityState(id string) *communityState {
	return &communityState{
		id:       id,
		versions: make(map[string]communityVersion),
		kicked:   make(map[string]int64),
	}
}

// rebuild re-derives the projection from all versions. The creator is the
// author of the oldest version; later versions count only when authored by
// the creator or a moderator of the version they replace. The result does
// not depend on the order versions arrived in.
func (st *communityState) rebuild() {
	if len(st.versions) == 0 {
		return
	}
	ordered := make([]communityVersion, 0, len(st.versions))
	for _, v := range st.versions {
		ordered = append(ordered, v)
	}
	// Oldest first; on equal created_at the smaller id wins, so it goes last.
	slices.SortFunc(ordered, func(a, b communityVersion) int {
		if c := cmp.Compare(a.evt.CreatedAt, b.evt.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.evt.ID, a.evt.ID)
	})

	creator := ordered[0].evt.PubKey
	joined := make(map[string]int64)
	var current *communityVersion
	for i := range ordered {
		v := &ordered[i]
		if current != nil && v.evt.PubKey != creator && !slices.Contains(current.content.Moderators, v.evt.PubKey) {
			continue
		}
		current = v
		for _, m := range v.content.Members {
			if _, ok := joined[m]; !ok {
				joined[m] = v.evt.CreatedAt
			}
		}
		if _, ok := joined[creator]; !ok {
			joined[creator] = v.evt.CreatedAt
		}
	}

	st.current = projectCommunity(st.id, creator, current, joined)
	st.refresh()
}

// refresh re-applies passed kicks to the current version.
func (st *communityState) refresh() {
	if st.current == nil {
		return
	}
	eff := st.current.Clone()
	for target, resolvedAt := range st.kicked {
		if eff.CreatedAt <= resolvedAt {
			eff = eff.Without(target)
		}
	}
	st.effective = eff
}

func projectCommunity(id, creator string, v *communityVersion, joined map[string]int64) *models.Community {
	members := []string{creator}
	for _, m := range v.content.Members {
		if !slices.Contains(members, m) {
			members = append(members, m)
		}
	}
	var moderators []string
	for _, m := range v.content.Moderators {
		if m != creator && !slices.Contains(moderators, m) {
			moderators = append(moderators, m)
		}
	}
	return &models.Community{
		ID:          id,
		Name:        v.content.Name,
		Description: v.content.Description,
		Creator:     creator,
		Members:     members,
		Moderators:  moderators,
		Tags:        slices.Clone(v.content.Tags),
		Guidelines:  v.content.Guidelines,
		IsPrivate:   v.content.IsPrivate,
		CreatedAt:   v.evt.CreatedAt,
		EventID:     v.evt.ID,
		JoinedAt:    joined,
	}
}

// Comment is a comment attached to a proposal.
type Comment struct {
	ID         string `json:"id"`
	ProposalID string `json:"proposal_id"`
	Author     string `json:"author"`
	Content    string `json:"content"`
	CreatedAt  int64  `json:"created_at"`
}

// ProposalView is a proposal with its current tally.
type ProposalView struct {
	models.Proposal
	Tally    tally.Result `json:"tally"`
	Comments int          `json:"comments"`
}

// KickView is a kick proposal with its current tally.
type KickView struct {
	models.KickProposal
	Tally    tally.Result `json:"tally"`
	Comments int          `json:"comments"`
}

// Snapshot is a consistent copy of the whole read model.
type Snapshot struct {
	Version     uint64                       `json:"version"`
	Communities map[string]*models.Community `json:"communities"`
	Proposals   []ProposalView               `json:"proposals"`
	Kicks       []KickView                   `json:"kicks"`
	Invites     []models.InviteLink          `json:"invites"`
}
