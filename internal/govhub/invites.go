package govhub

import (
	"agora/backend/internal/config"
	"agora/backend/internal/models"
	"agora/backend/internal/permission"
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// CreateInvite issues an invite link for a community. maxUses <= 0 means
// unlimited and ttl <= 0 means the link never expires.
func (m *ManagerService) CreateInvite(ctx context.Context, communityID string, maxUses int, ttl time.Duration) (*models.InviteLink, error) {
	me, err := m.identity()
	if err != nil {
		return nil, err
	}
	c, err := m.community(communityID)
	if err != nil {
		return nil, err
	}
	if err := m.resolver.Authorize(ctx, c, me, permission.ActionInvite); err != nil {
		return nil, err
	}

	now := m.now()
	inv := &models.InviteLink{
		ID:          uuid.NewString(),
		CommunityID: c.ID,
		CreatedBy:   me,
		CreatedAt:   now,
	}
	if maxUses > 0 {
		inv.MaxUses = &maxUses
	}
	if ttl > 0 {
		expires := now.Add(ttl)
		inv.ExpiresAt = &expires
	}

	m.mu.Lock()
	m.invites[inv.ID] = inv
	out := cloneInvite(inv)
	m.mu.Unlock()

	m.saveInvite(ctx, out)
	m.flush(&effects{changed: true})
	m.resolver.Record(ctx, me, permission.ActionInvite)
	return out, nil
}

// RedeemInvite admits pubkey with an invite code by publishing a new
// community version, and returns its event id. The local identity must be
// able to publish that version.
func (m *ManagerService) RedeemInvite(ctx context.Context, code, pubkey string) (string, error) {
	me, err := m.identity()
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	inv, ok := m.invites[code]
	if !ok || !inv.IsValid(m.now()) {
		m.mu.Unlock()
		return "", ErrInvalidInvite
	}
	st := m.communities[inv.CommunityID]
	if st == nil || st.effective == nil {
		m.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrUnknownCommunity, inv.CommunityID)
	}
	c := st.effective.Clone()
	if c.IsMember(pubkey) {
		m.mu.Unlock()
		return "", ErrAlreadyMember
	}
	if permission.RoleOf(c, me) < permission.RoleModerator {
		m.mu.Unlock()
		return "", ErrCannotAdmit
	}
	// Reserve the use so concurrent redemptions cannot exceed MaxUses.
	inv.UsedCount++
	m.mu.Unlock()

	next := c.Clone()
	next.Members = append(next.Members, pubkey)
	evt := communityEvent(next, m.nextVersionTime(c))
	if err := m.send(ctx, &evt); err != nil {
		m.mu.Lock()
		inv.UsedCount--
		m.mu.Unlock()
		return "", err
	}

	m.mu.Lock()
	out := cloneInvite(inv)
	m.mu.Unlock()
	m.saveInvite(ctx, out)
	log.Printf("INFO: %s joined %s with invite %s", pubkey, c.ID, code)
	return evt.ID, nil
}

func (m *ManagerService) saveInvite(ctx context.Context, inv *models.InviteLink) {
	if m.storage == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, config.QueryTimeout)
	defer cancel()
	if err := m.storage.SaveInvite(ctx, inv); err != nil {
		log.Printf("ERROR: failed to save invite %s: %v", inv.ID, err)
	}
}

func cloneInvite(inv *models.InviteLink) *models.InviteLink {
	out := *inv
	if inv.MaxUses != nil {
		n := *inv.MaxUses
		out.MaxUses = &n
	}
	if inv.ExpiresAt != nil {
		t := *inv.ExpiresAt
		out.ExpiresAt = &t
	}
	return &out
}
