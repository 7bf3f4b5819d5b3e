package handler

import (
	"agora/backend/internal/govhub"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// snapshotClient streams hub snapshots to one WebSocket peer. Only the
// latest undelivered snapshot is kept, so a slow peer skips versions
// instead of blocking the hub.
type snapshotClient struct {
	Conn *websocket.Conn
	Send chan govhub.Snapshot

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func newSnapshotClient(conn *websocket.Conn) *snapshotClient {
	return &snapshotClient{
		Conn: conn,
		Send: make(chan govhub.Snapshot, 1),
		done: make(chan struct{}),
	}
}

// Offer queues s, replacing an undelivered older snapshot.
func (c *snapshotClient) Offer(s govhub.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case old := <-c.Send:
		if old.Version > s.Version {
			s = old
		}
	default:
	}
	c.Send <- s
}

// Close stops the write pump.
func (c *snapshotClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// Run starts both pumps and blocks until the peer goes away.
func (c *snapshotClient) Run() {
	go c.writePump()
	c.readPump()
	<-c.done
}

// readPump only handles control frames; peers do not send data.
func (c *snapshotClient) readPump() {
	defer c.Close()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WARNING: snapshot stream read error: %v", err)
			}
			return
		}
	}
}

func (c *snapshotClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		close(c.done)
	}()

	for {
		select {
		case snap, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(snap)
			if err != nil {
				log.Printf("ERROR: failed to encode snapshot %d: %v", snap.Version, err)
				continue
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
