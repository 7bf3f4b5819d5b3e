package handler

import (
	"agora/backend/internal/govhub"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The stream is read-only public data.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWebSocket streams the current snapshot and then every new one.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already answered the request.
		return
	}

	client := newSnapshotClient(conn)
	unsubscribe := h.Hub.Subscribe(func(s govhub.Snapshot) { client.Offer(public(s)) })
	defer unsubscribe()

	client.Offer(public(h.Hub.Snapshot()))
	client.Run()
}

// public strips invite codes, which only authenticated callers may list.
func public(s govhub.Snapshot) govhub.Snapshot {
	s.Invites = nil
	return s
}
