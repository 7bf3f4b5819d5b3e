package permission_test

import (
	"agora/backend/internal/models"
	"agora/backend/internal/permission"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func club() *models.Community {
	return &models.Community{
		ID:         "club",
		Creator:    "A",
		Members:    []string{"A", "B", "C", "D"},
		Moderators: []string{"B"},
		JoinedAt:   map[string]int64{"A": 1000, "B": 1000, "C": 1000, "D": 5000},
	}
}

func reasonOf(t *testing.T, err error) permission.Reason {
	t.Helper()
	d, ok := permission.IsDenied(err)
	require.True(t, ok, "expected a denial, got %v", err)
	return d.Reason
}

func TestRoleOf_Priority(t *testing.T) {
	c := club()
	c.Moderators = append(c.Moderators, "A")

	assert.Equal(t, permission.RoleCreator, permission.RoleOf(c, "A"))
	assert.Equal(t, permission.RoleModerator, permission.RoleOf(c, "B"))
	assert.Equal(t, permission.RoleMember, permission.RoleOf(c, "C"))
	assert.Equal(t, permission.RoleNone, permission.RoleOf(c, "Z"))
	assert.Equal(t, permission.RoleNone, permission.RoleOf(nil, "A"))
}

func TestAuthorize_Matrix(t *testing.T) {
	r := permission.NewResolver(permission.Policy{}, nil)
	ctx := context.Background()

	tests := []struct {
		caller string
		action permission.Action
		want   permission.Reason
	}{
		{"A", permission.ActionEditMetadata, ""},
		{"A", permission.ActionSetGuidelines, ""},
		{"B", permission.ActionModerate, ""},
		{"B", permission.ActionSetGuidelines, permission.ReasonInsufficientRole},
		{"C", permission.ActionVote, ""},
		{"C", permission.ActionInvite, ""},
		{"C", permission.ActionModerate, permission.ReasonInsufficientRole},
		{"C", permission.ActionEditMetadata, permission.ReasonInsufficientRole},
		{"Z", permission.ActionVote, permission.ReasonNotMember},
	}

	for _, tt := range tests {
		t.Run(tt.caller+"/"+string(tt.action), func(t *testing.T) {
			err := r.Authorize(ctx, club(), tt.caller, tt.action)
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.want, reasonOf(t, err))
		})
	}
}

func TestAuthorize_TenureBoundary(t *testing.T) {
	minJoin := 48 * time.Hour
	joined := time.Unix(5000, 0)
	r := permission.NewResolver(permission.Policy{MinJoinTime: minJoin}, nil)
	ctx := context.Background()

	r.Now = func() time.Time { return joined.Add(minJoin - time.Millisecond) }
	assert.Equal(t, permission.ReasonTenureNotMet, reasonOf(t, r.Authorize(ctx, club(), "D", permission.ActionCreateProposal)))

	r.Now = func() time.Time { return joined.Add(minJoin) }
	assert.NoError(t, r.Authorize(ctx, club(), "D", permission.ActionCreateProposal))
}

func TestAuthorize_TenureOnlyGatesMembers(t *testing.T) {
	r := permission.NewResolver(permission.Policy{MinJoinTime: time.Hour}, nil)
	r.Now = func() time.Time { return time.Unix(1001, 0) }
	c := club()

	assert.NoError(t, r.Authorize(context.Background(), c, "A", permission.ActionCreateProposal))
	assert.NoError(t, r.Authorize(context.Background(), c, "C", permission.ActionVote))

	delete(c.JoinedAt, "C")
	assert.NoError(t, r.Authorize(context.Background(), c, "C", permission.ActionCreateProposal), "unknown join time is not gated")
}

func TestAuthorize_ThrottleBoundary(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	now := start
	r := permission.NewResolver(permission.DefaultPolicy(), nil)
	r.Now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		now = start.Add(time.Duration(i) * time.Hour)
		require.NoError(t, r.Authorize(ctx, club(), "C", permission.ActionCreateProposal))
		r.Record(ctx, "C", permission.ActionCreateProposal)
	}

	now = start.Add(23 * time.Hour)
	assert.Equal(t, permission.ReasonThrottled, reasonOf(t, r.Authorize(ctx, club(), "C", permission.ActionCreateProposal)))

	// Other callers are unaffected.
	assert.NoError(t, r.Authorize(ctx, club(), "D", permission.ActionCreateProposal))

	now = start.Add(24 * time.Hour)
	assert.NoError(t, r.Authorize(ctx, club(), "C", permission.ActionCreateProposal))
}

func TestAuthorize_KickThrottleSkipsModerators(t *testing.T) {
	r := permission.NewResolver(permission.DefaultPolicy(), nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		r.Record(ctx, "B", permission.ActionKickPropose)
		r.Record(ctx, "C", permission.ActionKickPropose)
	}

	assert.NoError(t, r.Authorize(ctx, club(), "B", permission.ActionKickPropose))
	assert.Equal(t, permission.ReasonThrottled, reasonOf(t, r.Authorize(ctx, club(), "C", permission.ActionKickPropose)))
}

type failingLog struct{}

func (failingLog) Record(context.Context, string, permission.Action, time.Time) error {
	return errors.New("down")
}

func (failingLog) Count(context.Context, string, permission.Action, time.Time) (int, error) {
	return 0, errors.New("down")
}

func TestAuthorize_ThrottleLogFailureAllows(t *testing.T) {
	r := permission.NewResolver(permission.DefaultPolicy(), failingLog{})

	assert.NoError(t, r.Authorize(context.Background(), club(), "C", permission.ActionCreateProposal))
}

func TestCheckKickTarget(t *testing.T) {
	open := []*models.KickProposal{{
		Proposal:     models.Proposal{ID: "k1", Status: models.StatusActive},
		TargetPubkey: "D",
	}}

	assert.Equal(t, permission.ReasonTargetIsCreator, reasonOf(t, permission.CheckKickTarget(club(), "A", nil)))
	assert.Equal(t, permission.ReasonNotMember, reasonOf(t, permission.CheckKickTarget(club(), "Z", nil)))
	assert.Equal(t, permission.ReasonDuplicateProposal, reasonOf(t, permission.CheckKickTarget(club(), "D", open)))
	assert.NoError(t, permission.CheckKickTarget(club(), "C", open))

	open[0].Status = models.StatusRejected
	assert.NoError(t, permission.CheckKickTarget(club(), "D", open))
}

func TestDenial_ErrorsAs(t *testing.T) {
	err := permission.CheckKickTarget(club(), "A", nil)
	wrapped := errors.Join(errors.New("context"), err)

	var d *permission.Denial
	require.True(t, errors.As(wrapped, &d))
	assert.Equal(t, permission.ActionKickPropose, d.Action)
	assert.Contains(t, d.Error(), "target_is_creator")
}
