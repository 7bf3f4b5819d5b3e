// Package handler exposes the governance hub over HTTP: read models for
// everyone, write intents for the holder of an operator token, and a
// WebSocket stream of snapshots.
package handler

import (
	"agora/backend/internal/govhub"
	"agora/backend/internal/kick"
	"agora/backend/internal/localization"
	"agora/backend/internal/modlog"
	"agora/backend/internal/permission"
	"errors"
	"log"
	"net/http"
	"slices"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

type Handler struct {
	Hub       *govhub.ManagerService
	Localizer *localization.Localizer
	Secret    []byte
}

func NewHandler(hub *govhub.ManagerService, l *localization.Localizer, secret []byte) *Handler {
	if l == nil {
		l = localization.Default()
	}
	return &Handler{Hub: hub, Localizer: l, Secret: secret}
}

// Router builds the gin engine. An empty origins list allows every origin.
func (h *Handler) Router(origins []string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	corsCfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "Accept-Language"},
		ExposeHeaders: []string{"Content-Length"},
	}
	if len(origins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = origins
		corsCfg.AllowCredentials = true
	}
	r.Use(cors.New(corsCfg))

	h.Register(r.Group("/api"))
	return r
}

// Register mounts every route on g.
func (h *Handler) Register(g *gin.RouterGroup) {
	g.GET("/stats", h.GetStats)
	g.GET("/ws", h.ServeWebSocket)

	g.GET("/communities", h.ListCommunities)
	g.GET("/communities/:id", h.GetCommunity)
	g.GET("/communities/:id/proposals", h.ListProposals)
	g.GET("/communities/:id/kicks", h.ListKicks)
	g.GET("/communities/:id/modlog", h.GetModerationLog)
	g.GET("/proposals/:id/tally", h.GetTally)
	g.GET("/proposals/:id/comments", h.ListComments)

	auth := g.Group("", h.RequireAuth())
	auth.GET("/communities/:id/invites", h.ListInvites)
	auth.POST("/communities/:id/follow", h.Follow)
	auth.DELETE("/communities/:id/follow", h.Unfollow)
	auth.PATCH("/communities/:id", h.UpdateCommunity)
	auth.POST("/communities/:id/proposals", h.CreateProposal)
	auth.POST("/communities/:id/kicks", h.CreateKickProposal)
	auth.POST("/communities/:id/moderation", h.Moderate)
	auth.POST("/communities/:id/invites", h.CreateInvite)
	auth.POST("/invites/:code/redeem", h.RedeemInvite)
	auth.POST("/proposals/:id/votes", h.Vote)
	auth.POST("/kicks/:id/votes", h.VoteOnKick)
	auth.POST("/proposals/:id/comments", h.Comment)
	auth.DELETE("/proposals/:id", h.CancelProposal)
}

// language picks the first Accept-Language tag with a loaded catalog.
func (h *Handler) language(c *gin.Context) string {
	langs := h.Localizer.Languages()
	for _, part := range strings.Split(c.GetHeader("Accept-Language"), ",") {
		tag, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		primary, _, _ := strings.Cut(strings.ToLower(tag), "-")
		if slices.Contains(langs, primary) {
			return primary
		}
	}
	return "en"
}

// fail writes err as a JSON error with a status and localized message.
func (h *Handler) fail(c *gin.Context, err error) {
	lang := h.language(c)
	if d, ok := permission.IsDenied(err); ok {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   h.Localizer.GetString(lang, string(d.Reason)),
			"reason":  d.Reason,
			"action":  d.Action,
			"details": d.Message,
		})
		return
	}

	status, key := http.StatusInternalServerError, ""
	switch {
	case errors.Is(err, govhub.ErrUnknownCommunity), errors.Is(err, govhub.ErrUnknownProposal):
		status, key = http.StatusNotFound, "not_found"
	case errors.Is(err, govhub.ErrProposalClosed):
		status, key = http.StatusConflict, "proposal_closed"
	case errors.Is(err, govhub.ErrInvalidInvite):
		status, key = http.StatusGone, "invalid_invite"
	case errors.Is(err, govhub.ErrCannotAdmit):
		status, key = http.StatusForbidden, "insufficient_role"
	case errors.Is(err, govhub.ErrInvalidOption), errors.Is(err, govhub.ErrInvalidEvent),
		errors.Is(err, govhub.ErrAlreadyMember), errors.Is(err, kick.ErrMissingReason),
		errors.Is(err, modlog.ErrBadCursor):
		status, key = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, govhub.ErrPublishFailed):
		status, key = http.StatusBadGateway, "publish_failed"
	case errors.Is(err, govhub.ErrNoSigner), errors.Is(err, govhub.ErrNoTransport):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		log.Printf("ERROR: %s %s: %v", c.Request.Method, c.FullPath(), err)
	}

	msg := err.Error()
	if key != "" {
		msg = h.Localizer.GetString(lang, key)
	}
	c.JSON(status, gin.H{"error": msg, "details": err.Error()})
}

// badRequest answers a malformed body or query.
func (h *Handler) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   h.Localizer.GetString(h.language(c), "invalid_request"),
		"details": err.Error(),
	})
}
