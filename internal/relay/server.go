package relay

import (
	"agora/backend/internal/models"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Server speaks the relay wire protocol over websockets on top of a Memory
// store. It backs the embedded development relay and client tests.
type Server struct {
	Store *Memory
	// Verify, when set, rejects events failing the check with OK false.
	Verify func(models.Event) error

	upgrader websocket.Upgrader
}

func NewServer(store *Memory, verify func(models.Event) error) *Server {
	return &Server{
		Store:  store,
		Verify: verify,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type session struct {
	server *Server
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}

	mu   sync.Mutex
	subs map[string]string // client sub id → store sub id
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ERROR: relay upgrade failed: %v", err)
		return
	}
	sess := &session{
		server: s,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		subs:   make(map[string]string),
	}
	go sess.writePump()
	sess.readPump()
}

func (s *session) readPump() {
	defer func() {
		close(s.done)
		s.mu.Lock()
		for _, storeID := range s.subs {
			s.server.Store.Unsubscribe(storeID)
		}
		s.mu.Unlock()
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		s.handle(message)
	}
}

func (s *session) handle(message []byte) {
	label, args, err := decodeFrame(message)
	if err != nil {
		s.reply(labelNotice, "invalid: "+err.Error())
		return
	}

	switch label {
	case labelEvent:
		var evt models.Event
		if len(args) < 1 || json.Unmarshal(args[0], &evt) != nil {
			s.reply(labelNotice, "invalid: malformed event")
			return
		}
		if s.server.Verify != nil {
			if err := s.server.Verify(evt); err != nil {
				s.reply(labelOK, evt.ID, false, "invalid: "+err.Error())
				return
			}
		}
		if _, err := s.server.Store.Publish(context.Background(), evt); err != nil {
			s.reply(labelOK, evt.ID, false, "error: "+err.Error())
			return
		}
		s.reply(labelOK, evt.ID, true, "")

	case labelReq:
		if len(args) < 1 {
			s.reply(labelNotice, "invalid: REQ without subscription id")
			return
		}
		subID := decodeString(args[0])
		filters := make([]models.Filter, 0, len(args)-1)
		for _, raw := range args[1:] {
			var f models.Filter
			if err := json.Unmarshal(raw, &f); err != nil {
				s.reply(labelClosed, subID, "invalid: bad filter")
				return
			}
			filters = append(filters, f)
		}
		s.closeSub(subID)
		storeID, _ := s.server.Store.Subscribe(context.Background(), filters, func(evt models.Event) {
			s.reply(labelEvent, subID, evt)
		})
		s.mu.Lock()
		s.subs[subID] = storeID
		s.mu.Unlock()
		s.reply(labelEOSE, subID)

	case labelClose:
		if len(args) > 0 {
			s.closeSub(decodeString(args[0]))
		}

	default:
		s.reply(labelNotice, "unsupported: "+label)
	}
}

func (s *session) closeSub(subID string) {
	s.mu.Lock()
	storeID, ok := s.subs[subID]
	delete(s.subs, subID)
	s.mu.Unlock()
	if ok {
		s.server.Store.Unsubscribe(storeID)
	}
}

func (s *session) reply(parts ...any) {
	frame, err := encodeFrame(parts...)
	if err != nil {
		log.Printf("ERROR: relay reply: %v", err)
		return
	}
	select {
	case s.send <- frame:
	case <-s.done:
	}
}

func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case frame := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}
