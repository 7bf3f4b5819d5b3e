package handler

import (
	"agora/backend/internal/models"
	"agora/backend/internal/modlog"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

func (h *Handler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"pubkey":      h.Hub.PublicKey(),
		"following":   h.Hub.Following(),
		"communities": len(h.Hub.Communities()),
		"reconciler":  h.Hub.Stats(),
	})
}

func (h *Handler) ListCommunities(c *gin.Context) {
	out := []*models.Community{}
	for _, id := range h.Hub.Communities() {
		if community, ok := h.Hub.Community(id); ok {
			out = append(out, community)
		}
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) GetCommunity(c *gin.Context) {
	community, ok := h.Hub.Community(c.Param("id"))
	if !ok {
		h.notFound(c)
		return
	}
	c.JSON(http.StatusOK, community)
}

func (h *Handler) ListProposals(c *gin.Context) {
	if !h.knownCommunity(c) {
		return
	}
	c.JSON(http.StatusOK, h.Hub.Proposals(c.Param("id")))
}

func (h *Handler) ListKicks(c *gin.Context) {
	if !h.knownCommunity(c) {
		return
	}
	c.JSON(http.StatusOK, h.Hub.KickProposals(c.Param("id")))
}

func (h *Handler) ListInvites(c *gin.Context) {
	if !h.knownCommunity(c) {
		return
	}
	c.JSON(http.StatusOK, h.Hub.Invites(c.Param("id")))
}

// GetModerationLog pages the log of a community, newest first. Filters:
// action, target, cursor and limit.
func (h *Handler) GetModerationLog(c *gin.Context) {
	if !h.knownCommunity(c) {
		return
	}
	q := modlog.Query{
		CommunityID: c.Param("id"),
		Action:      models.ModerationAction(c.Query("action")),
		Target:      c.Query("target"),
		Cursor:      c.Query("cursor"),
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			h.badRequest(c, fmt.Errorf("invalid limit %q", raw))
			return
		}
		q.Limit = limit
	}
	if q.Action != "" && !q.Action.IsValid() {
		h.badRequest(c, fmt.Errorf("unknown action %q", q.Action))
		return
	}

	page, err := h.Hub.ModerationLog(q)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) GetTally(c *gin.Context) {
	res, ok := h.Hub.Tally(c.Param("id"))
	if !ok {
		h.notFound(c)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) ListComments(c *gin.Context) {
	if _, ok := h.Hub.Tally(c.Param("id")); !ok {
		h.notFound(c)
		return
	}
	c.JSON(http.StatusOK, h.Hub.Comments(c.Param("id")))
}

func (h *Handler) knownCommunity(c *gin.Context) bool {
	if _, ok := h.Hub.Community(c.Param("id")); !ok {
		h.notFound(c)
		return false
	}
	return true
}

func (h *Handler) notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": h.Localizer.GetString(h.language(c), "not_found")})
}
