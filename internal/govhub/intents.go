package govhub

import (
	"agora/backend/internal/config"
	"agora/backend/internal/kick"
	"agora/backend/internal/models"
	"agora/backend/internal/permission"
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// ProposalDraft is the input of CreateProposal. A zero EndsAt uses the
// default voting period.
type ProposalDraft struct {
	CommunityID string
	Title       string
	Description string
	Options     []string
	Category    models.Category
	EndsAt      int64
}

// CommunityPatch changes community metadata. Nil fields are kept.
type CommunityPatch struct {
	Name        *string
	Description *string
	Guidelines  *string
	IsPrivate   *bool
	Tags        []string
}

// community returns a copy of the effective community state.
func (m *ManagerService) community(id string) (*models.Community, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.communities[id]
	if st == nil || st.effective == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommunity, id)
	}
	return st.effective.Clone(), nil
}

// proposal returns a copy of a proposal and its community.
func (m *ManagerService) proposal(id string) (*models.Proposal, *models.Community, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.lookup(id)
	if p == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownProposal, id)
	}
	var c *models.Community
	if st := m.communities[p.CommunityID]; st != nil && st.effective != nil {
		c = st.effective.Clone()
	}
	return p.Clone(), c, nil
}

func (m *ManagerService) identity() (string, error) {
	me := m.PublicKey()
	if me == "" {
		return "", ErrNoSigner
	}
	return me, nil
}

// publish sends a prepared event to the relays and mirrors it on the
// fan-out channel.
func (m *ManagerService) publish(ctx context.Context, evt models.Event) error {
	if m.transport == nil {
		return ErrNoTransport
	}
	if _, err := m.transport.Publish(ctx, evt); err != nil {
		return fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}
	if m.storage != nil {
		if err := m.storage.PublishEvent(ctx, evt); err != nil {
			log.Printf("WARNING: failed to fan out event %s: %v", evt.ID, err)
		}
	}
	return nil
}

// send prepares, publishes and applies evt locally.
func (m *ManagerService) send(ctx context.Context, evt *models.Event) error {
	if err := m.prepare(evt); err != nil {
		return err
	}
	if err := m.publish(ctx, *evt); err != nil {
		return err
	}
	m.HandleEvent(*evt)
	return nil
}

// CreateProposal publishes a new proposal and returns its id.
func (m *ManagerService) CreateProposal(ctx context.Context, d ProposalDraft) (string, error) {
	me, err := m.identity()
	if err != nil {
		return "", err
	}
	c, err := m.community(d.CommunityID)
	if err != nil {
		return "", err
	}
	if err := m.resolver.Authorize(ctx, c, me, permission.ActionCreateProposal); err != nil {
		return "", err
	}

	category := d.Category
	switch category {
	case "":
		category = models.CategoryGeneral
	case models.CategoryKick:
		return "", fmt.Errorf("%w: kick proposals need a target", ErrInvalidEvent)
	}
	now := m.now().Unix()
	p := &models.Proposal{
		ID:          uuid.NewString(),
		CommunityID: c.ID,
		Title:       strings.TrimSpace(d.Title),
		Description: d.Description,
		Options:     slices.Clone(d.Options),
		Category:    category,
		Creator:     me,
		CreatedAt:   now,
		EndsAt:      d.EndsAt,
	}
	if p.EndsAt == 0 {
		p.EndsAt = now + int64(config.DefaultVotingPeriod.Seconds())
	}
	if p.EndsAt <= now {
		return "", fmt.Errorf("%w: voting would end before it starts", ErrInvalidEvent)
	}

	evt := proposalEvent(p, "")
	if err := m.send(ctx, &evt); err != nil {
		return "", err
	}
	m.resolver.Record(ctx, me, permission.ActionCreateProposal)
	return p.ID, nil
}

// CreateKickProposal opens a vote on removing target and returns the
// proposal id.
func (m *ManagerService) CreateKickProposal(ctx context.Context, communityID, target, reason string) (string, error) {
	me, err := m.identity()
	if err != nil {
		return "", err
	}
	c, err := m.community(communityID)
	if err != nil {
		return "", err
	}
	if err := m.resolver.Authorize(ctx, c, me, permission.ActionKickPropose); err != nil {
		return "", err
	}

	m.mu.Lock()
	var open []*models.KickProposal
	for _, kp := range m.openKicks(communityID) {
		open = append(open, kp.Clone())
	}
	m.mu.Unlock()

	kp, err := kick.NewKickProposal(c, open, me, target, reason, m.now().Unix())
	if err != nil {
		return "", err
	}
	evt := proposalEvent(&kp.Proposal, target)
	if err := m.send(ctx, &evt); err != nil {
		return "", err
	}
	m.resolver.Record(ctx, me, permission.ActionKickPropose)
	return kp.ID, nil
}

// Vote casts or changes the local vote on a proposal and returns the vote
// event id. The ballot counts as pending until the relay accepts it and is
// rolled back if publishing fails.
func (m *ManagerService) Vote(ctx context.Context, proposalID string, option int) (string, error) {
	me, err := m.identity()
	if err != nil {
		return "", err
	}
	p, c, err := m.proposal(proposalID)
	if err != nil {
		return "", err
	}
	if err := m.resolver.Authorize(ctx, c, me, permission.ActionVote); err != nil {
		return "", err
	}
	now := m.now().Unix()
	if p.Status != models.StatusActive || now >= p.EndsAt {
		return "", ErrProposalClosed
	}
	if option < 0 || option >= len(p.Options) {
		return "", ErrInvalidOption
	}

	// A changed vote must sort after the one it replaces.
	createdAt := now
	if prev, ok := p.Votes[me]; ok && prev.CreatedAt >= createdAt {
		createdAt = prev.CreatedAt + 1
	}
	evt := voteEvent(p.ID, p.CommunityID, option, createdAt)
	if err := m.prepare(&evt); err != nil {
		return "", err
	}

	restore, err := m.stageVote(p.ID, me, option, evt)
	if err != nil {
		return "", err
	}
	if err := m.publish(ctx, evt); err != nil {
		restore()
		return "", err
	}
	m.HandleEvent(evt)
	return evt.ID, nil
}

// VoteOnKick votes to remove (true) or keep (false) the target of a kick
// proposal.
func (m *ManagerService) VoteOnKick(ctx context.Context, kickID string, remove bool) (string, error) {
	m.mu.Lock()
	_, isKick := m.kicks[kickID]
	m.mu.Unlock()
	if !isKick {
		return "", fmt.Errorf("%w: %s", ErrUnknownProposal, kickID)
	}
	option := models.KickOptionKeep
	if remove {
		option = models.KickOptionRemove
	}
	return m.Vote(ctx, kickID, option)
}

// stageVote applies evt as a pending ballot and returns a function that
// undoes it.
func (m *ManagerService) stageVote(proposalID, voter string, option int, evt models.Event) (restore func(), err error) {
	ballot := models.Ballot{OptionIndex: option, CreatedAt: evt.CreatedAt, EventID: evt.ID, Pending: true}

	fx := &effects{changed: true}
	m.mu.Lock()
	p := m.lookup(proposalID)
	switch {
	case p == nil:
		err = ErrUnknownProposal
	case p.Status.IsTerminal():
		err = ErrProposalClosed
	case !p.Cast(voter, ballot):
		err = fmt.Errorf("vote %s already recorded", evt.ID)
	}
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.evaluate(proposalID, m.now().Unix(), fx)
	m.mu.Unlock()
	m.flush(fx)

	return func() {
		fx := &effects{}
		m.mu.Lock()
		if p := m.lookup(proposalID); p != nil && p.Retract(voter, evt.ID) {
			fx.changed = true
			m.evaluate(proposalID, m.now().Unix(), fx)
		}
		m.mu.Unlock()
		m.flush(fx)
		log.Printf("WARNING: rolled back vote %s on %s", evt.ID, proposalID)
	}, nil
}

// Comment posts a comment on a proposal and returns the event id.
func (m *ManagerService) Comment(ctx context.Context, proposalID, text string) (string, error) {
	me, err := m.identity()
	if err != nil {
		return "", err
	}
	p, c, err := m.proposal(proposalID)
	if err != nil {
		return "", err
	}
	if err := m.resolver.Authorize(ctx, c, me, permission.ActionComment); err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: empty comment", ErrInvalidEvent)
	}
	evt := models.Event{
		CreatedAt: m.now().Unix(),
		Kind:      models.KindComment,
		Tags:      models.Tags{{"e", p.ID}, {"e", p.CommunityID}},
		Content:   text,
	}
	if err := m.send(ctx, &evt); err != nil {
		return "", err
	}
	return evt.ID, nil
}

// CancelProposal withdraws an active proposal. Only its author or the
// community creator may cancel.
func (m *ManagerService) CancelProposal(ctx context.Context, proposalID, reason string) (string, error) {
	me, err := m.identity()
	if err != nil {
		return "", err
	}
	p, c, err := m.proposal(proposalID)
	if err != nil {
		return "", err
	}
	if err := kick.CanCancel(p, c, me); err != nil {
		if errors.Is(err, kick.ErrNotActive) {
			return "", ErrProposalClosed
		}
		return "", err
	}
	evt := deletionEvent(p.ID, p.CommunityID, reason, m.now().Unix())
	if err := m.send(ctx, &evt); err != nil {
		return "", err
	}
	return evt.ID, nil
}

// moderate publishes a moderation decision; the log entry is appended when
// the event is applied.
func (m *ManagerService) moderate(ctx context.Context, communityID string, action models.ModerationAction, target, postID, reason string, metadata map[string]string) (string, error) {
	me, err := m.identity()
	if err != nil {
		return "", err
	}
	c, err := m.community(communityID)
	if err != nil {
		return "", err
	}
	if err := m.resolver.Authorize(ctx, c, me, permission.ActionModerate); err != nil {
		return "", err
	}
	if target == "" && postID == "" {
		return "", fmt.Errorf("%w: missing target", ErrInvalidEvent)
	}
	evt := moderationEvent(c.ID, action, target, postID, reason, metadata, m.now().Unix())
	if err := m.send(ctx, &evt); err != nil {
		return "", err
	}
	return evt.ID, nil
}

func (m *ManagerService) ApprovePost(ctx context.Context, communityID, postID, reason string) (string, error) {
	return m.moderate(ctx, communityID, models.ActionApprovePost, "", postID, reason, nil)
}

func (m *ManagerService) RejectPost(ctx context.Context, communityID, postID, reason string) (string, error) {
	return m.moderate(ctx, communityID, models.ActionRejectPost, "", postID, reason, nil)
}

// Ban records a ban of target. Membership is only changed by kick votes.
func (m *ManagerService) Ban(ctx context.Context, communityID, target, reason string) (string, error) {
	return m.moderate(ctx, communityID, models.ActionBan, target, "", reason, nil)
}

func (m *ManagerService) Unban(ctx context.Context, communityID, target, reason string) (string, error) {
	return m.moderate(ctx, communityID, models.ActionUnban, target, "", reason, nil)
}

// ReviewReport records the outcome of a user report about target.
func (m *ManagerService) ReviewReport(ctx context.Context, communityID, reportID, target, decision string) (string, error) {
	meta := map[string]string{"report_id": reportID}
	return m.moderate(ctx, communityID, models.ActionReviewReport, target, "", decision, meta)
}

// UpdateCommunity publishes a new version of the community definition.
// Guidelines need set_guidelines, every other field edit_metadata.
func (m *ManagerService) UpdateCommunity(ctx context.Context, communityID string, patch CommunityPatch) (string, error) {
	me, err := m.identity()
	if err != nil {
		return "", err
	}
	c, err := m.community(communityID)
	if err != nil {
		return "", err
	}
	if patch.Guidelines != nil {
		if err := m.resolver.Authorize(ctx, c, me, permission.ActionSetGuidelines); err != nil {
			return "", err
		}
	}
	if patch.Name != nil || patch.Description != nil || patch.IsPrivate != nil || patch.Tags != nil {
		if err := m.resolver.Authorize(ctx, c, me, permission.ActionEditMetadata); err != nil {
			return "", err
		}
	}

	next := c.Clone()
	if patch.Name != nil {
		if strings.TrimSpace(*patch.Name) == "" {
			return "", fmt.Errorf("%w: empty name", ErrInvalidEvent)
		}
		next.Name = *patch.Name
	}
	if patch.Description != nil {
		next.Description = *patch.Description
	}
	if patch.Guidelines != nil {
		next.Guidelines = *patch.Guidelines
	}
	if patch.IsPrivate != nil {
		next.IsPrivate = *patch.IsPrivate
	}
	if patch.Tags != nil {
		next.Tags = slices.Clone(patch.Tags)
	}

	evt := communityEvent(next, m.nextVersionTime(c))
	if err := m.send(ctx, &evt); err != nil {
		return "", err
	}
	return evt.ID, nil
}

// nextVersionTime returns a created_at that sorts after the current version.
func (m *ManagerService) nextVersionTime(c *models.Community) int64 {
	return max(m.now().Unix(), c.CreatedAt+1)
}

// publishMembership republishes c after a kick passed so other clients
// converge on the new member list. Failures are logged.
func (m *ManagerService) publishMembership(c *models.Community) {
	ctx, cancel := context.WithTimeout(context.Background(), config.QueryTimeout)
	defer cancel()

	evt := communityEvent(c, m.nextVersionTime(c))
	if err := m.send(ctx, &evt); err != nil {
		log.Printf("ERROR: failed to republish membership of %s: %v", c.ID, err)
		return
	}
	log.Printf("INFO: republished membership of %s (%d members)", c.ID, c.MemberCount())
}
