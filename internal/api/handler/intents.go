package handler

import (
	"agora/backend/internal/govhub"
	"agora/backend/internal/models"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type proposalRequest struct {
	Title       string          `json:"title" binding:"required"`
	Description string          `json:"description"`
	Options     []string        `json:"options" binding:"required,min=2"`
	Category    models.Category `json:"category"`
	EndsAt      int64           `json:"ends_at"`
}

type kickRequest struct {
	Target string `json:"target" binding:"required"`
	Reason string `json:"reason" binding:"required"`
}

type voteRequest struct {
	Option *int `json:"option" binding:"required"`
}

type kickVoteRequest struct {
	Remove *bool `json:"remove" binding:"required"`
}

type commentRequest struct {
	Text string `json:"text" binding:"required"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type moderationRequest struct {
	Action   models.ModerationAction `json:"action" binding:"required"`
	Target   string                  `json:"target"`
	PostID   string                  `json:"post_id"`
	ReportID string                  `json:"report_id"`
	Reason   string                  `json:"reason"`
}

type communityPatchRequest struct {
	Name        *string  `json:"name"`
	Description *string  `json:"description"`
	Guidelines  *string  `json:"guidelines"`
	IsPrivate   *bool    `json:"is_private"`
	Tags        []string `json:"tags"`
}

type inviteRequest struct {
	MaxUses    int   `json:"max_uses"`
	TTLSeconds int64 `json:"ttl_seconds"`
}

type redeemRequest struct {
	Pubkey string `json:"pubkey" binding:"required,len=64,hexadecimal"`
}

func (h *Handler) CreateProposal(c *gin.Context) {
	var req proposalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	id, err := h.Hub.CreateProposal(c.Request.Context(), govhub.ProposalDraft{
		CommunityID: c.Param("id"),
		Title:       req.Title,
		Description: req.Description,
		Options:     req.Options,
		Category:    req.Category,
		EndsAt:      req.EndsAt,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *Handler) CreateKickProposal(c *gin.Context) {
	var req kickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	id, err := h.Hub.CreateKickProposal(c.Request.Context(), c.Param("id"), req.Target, req.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *Handler) Vote(c *gin.Context) {
	var req voteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	eventID, err := h.Hub.Vote(c.Request.Context(), c.Param("id"), *req.Option)
	h.created(c, eventID, err)
}

func (h *Handler) VoteOnKick(c *gin.Context) {
	var req kickVoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	eventID, err := h.Hub.VoteOnKick(c.Request.Context(), c.Param("id"), *req.Remove)
	h.created(c, eventID, err)
}

func (h *Handler) Comment(c *gin.Context) {
	var req commentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	eventID, err := h.Hub.Comment(c.Request.Context(), c.Param("id"), req.Text)
	h.created(c, eventID, err)
}

func (h *Handler) CancelProposal(c *gin.Context) {
	var req cancelRequest
	// The body is optional.
	_ = c.ShouldBindJSON(&req)
	eventID, err := h.Hub.CancelProposal(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"event_id": eventID})
}

func (h *Handler) Moderate(c *gin.Context) {
	var req moderationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	ctx, id := c.Request.Context(), c.Param("id")

	var (
		eventID string
		err     error
	)
	switch req.Action {
	case models.ActionApprovePost:
		eventID, err = h.Hub.ApprovePost(ctx, id, req.PostID, req.Reason)
	case models.ActionRejectPost:
		eventID, err = h.Hub.RejectPost(ctx, id, req.PostID, req.Reason)
	case models.ActionBan:
		eventID, err = h.Hub.Ban(ctx, id, req.Target, req.Reason)
	case models.ActionUnban:
		eventID, err = h.Hub.Unban(ctx, id, req.Target, req.Reason)
	case models.ActionReviewReport:
		eventID, err = h.Hub.ReviewReport(ctx, id, req.ReportID, req.Target, req.Reason)
	default:
		// Kicks go through a vote.
		h.badRequest(c, fmt.Errorf("action %q cannot be performed directly", req.Action))
		return
	}
	h.created(c, eventID, err)
}

func (h *Handler) UpdateCommunity(c *gin.Context) {
	var req communityPatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	eventID, err := h.Hub.UpdateCommunity(c.Request.Context(), c.Param("id"), govhub.CommunityPatch{
		Name:        req.Name,
		Description: req.Description,
		Guidelines:  req.Guidelines,
		IsPrivate:   req.IsPrivate,
		Tags:        req.Tags,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"event_id": eventID})
}

func (h *Handler) CreateInvite(c *gin.Context) {
	var req inviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	inv, err := h.Hub.CreateInvite(c.Request.Context(), c.Param("id"), req.MaxUses, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, inv)
}

func (h *Handler) RedeemInvite(c *gin.Context) {
	var req redeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	eventID, err := h.Hub.RedeemInvite(c.Request.Context(), c.Param("code"), req.Pubkey)
	h.created(c, eventID, err)
}

func (h *Handler) Follow(c *gin.Context) {
	if err := h.Hub.Follow(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) Unfollow(c *gin.Context) {
	h.Hub.Unfollow(c.Param("id"))
	c.Status(http.StatusNoContent)
}

func (h *Handler) created(c *gin.Context, eventID string, err error) {
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"event_id": eventID})
}
