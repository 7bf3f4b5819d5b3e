package relay

import (
	"agora/backend/internal/models"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendBuffer     = 256
)

var (
	ErrClosed   = errors.New("relay connection closed")
	ErrRejected = errors.New("relay rejected event")
)

// Client is a Transport over one relay websocket. It does not reconnect;
// a dropped connection fails every pending call with ErrClosed.
type Client struct {
	URL string

	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	subs    map[string]*subscription
	waiters map[string]chan okReply
	seq     atomic.Uint64
}

type subscription struct {
	onEvent  func(models.Event)
	eose     chan struct{}
	eoseOnce sync.Once
}

func (s *subscription) markEOSE() {
	s.eoseOnce.Do(func() { close(s.eose) })
}

type okReply struct {
	accepted bool
	message  string
}

// Dial connects to the relay at url and starts the read and write pumps.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c := &Client{
		URL:     url,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
		subs:    make(map[string]*subscription),
		waiters: make(map[string]chan okReply),
	}
	go c.writePump()
	go c.readPump()
	return c, nil
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close shuts the connection down.
func (c *Client) Close() error {
	c.shutdown()
	return nil
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		c.conn.Close()
	})
}

func (c *Client) enqueue(ctx context.Context, frame []byte) error {
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) Subscribe(ctx context.Context, filters []models.Filter, onEvent func(models.Event)) (string, error) {
	subID, _, err := c.subscribe(ctx, filters, onEvent)
	return subID, err
}

func (c *Client) subscribe(ctx context.Context, filters []models.Filter, onEvent func(models.Event)) (string, *subscription, error) {
	subID := fmt.Sprintf("sub-%d", c.seq.Add(1))
	sub := &subscription{onEvent: onEvent, eose: make(chan struct{})}

	frame, err := encodeReq(subID, filters)
	if err != nil {
		return "", nil, err
	}
	c.mu.Lock()
	c.subs[subID] = sub
	c.mu.Unlock()

	if err := c.enqueue(ctx, frame); err != nil {
		c.removeSub(subID)
		return "", nil, err
	}
	return subID, sub, nil
}

func (c *Client) Unsubscribe(subID string) {
	if c.removeSub(subID) == nil {
		return
	}
	frame, err := encodeFrame(labelClose, subID)
	if err != nil {
		return
	}
	select {
	case c.send <- frame:
	case <-c.done:
	}
}

func (c *Client) removeSub(subID string) *subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub := c.subs[subID]
	delete(c.subs, subID)
	return sub
}

func (c *Client) Publish(ctx context.Context, evt models.Event) (string, error) {
	frame, err := encodeFrame(labelEvent, evt)
	if err != nil {
		return "", err
	}
	reply := make(chan okReply, 1)
	c.mu.Lock()
	c.waiters[evt.ID] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.waiters, evt.ID)
		c.mu.Unlock()
	}()

	if err := c.enqueue(ctx, frame); err != nil {
		return "", err
	}
	select {
	case r := <-reply:
		if !r.accepted {
			return "", fmt.Errorf("%w by %s: %s", ErrRejected, c.URL, r.message)
		}
		return evt.ID, nil
	case <-c.done:
		return "", ErrClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Query collects stored events until the relay signals end of stored
// events. On timeout it returns what arrived so far together with ctx.Err().
func (c *Client) Query(ctx context.Context, filters []models.Filter) ([]models.Event, error) {
	var (
		mu     sync.Mutex
		events []models.Event
	)
	subID, sub, err := c.subscribe(ctx, filters, func(evt models.Event) {
		mu.Lock()
		events = append(events, evt)
		mu.Unlock()
	})
	if err != nil {
		return nil, err
	}
	defer c.Unsubscribe(subID)

	var waitErr error
	select {
	case <-sub.eose:
	case <-c.done:
		waitErr = ErrClosed
	case <-ctx.Done():
		waitErr = ctx.Err()
	}

	mu.Lock()
	defer mu.Unlock()
	return append([]models.Event(nil), events...), waitErr
}

func (c *Client) readPump() {
	defer c.shutdown()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	// Relays ping too; answering resets our own read deadline.
	c.conn.SetPingHandler(func(appData string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return c.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WARNING: relay %s read error: %v", c.URL, err)
			}
			return
		}
		c.dispatch(message)
	}
}

func (c *Client) dispatch(message []byte) {
	label, args, err := decodeFrame(message)
	if err != nil {
		log.Printf("WARNING: relay %s sent a bad frame: %v", c.URL, err)
		return
	}

	switch label {
	case labelEvent:
		if len(args) < 2 {
			return
		}
		var evt models.Event
		if err := json.Unmarshal(args[1], &evt); err != nil {
			log.Printf("WARNING: relay %s sent an undecodable event: %v", c.URL, err)
			return
		}
		c.mu.Lock()
		sub := c.subs[decodeString(args[0])]
		c.mu.Unlock()
		if sub != nil {
			sub.onEvent(evt)
		}

	case labelEOSE:
		if len(args) < 1 {
			return
		}
		c.mu.Lock()
		sub := c.subs[decodeString(args[0])]
		c.mu.Unlock()
		if sub != nil {
			sub.markEOSE()
		}

	case labelOK:
		if len(args) < 2 {
			return
		}
		var r okReply
		if err := json.Unmarshal(args[1], &r.accepted); err != nil {
			return
		}
		if len(args) > 2 {
			r.message = decodeString(args[2])
		}
		c.mu.Lock()
		waiter := c.waiters[decodeString(args[0])]
		c.mu.Unlock()
		if waiter != nil {
			select {
			case waiter <- r:
			default:
			}
		}

	case labelClosed:
		if len(args) < 1 {
			return
		}
		subID := decodeString(args[0])
		if len(args) > 1 {
			log.Printf("WARNING: relay %s closed %s: %s", c.URL, subID, decodeString(args[1]))
		}
		if sub := c.removeSub(subID); sub != nil {
			sub.markEOSE()
		}

	case labelNotice:
		if len(args) > 0 {
			log.Printf("INFO: relay %s notice: %s", c.URL, decodeString(args[0]))
		}

	default:
		log.Printf("WARNING: relay %s sent unknown frame %q", c.URL, label)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Printf("WARNING: relay %s write error: %v", c.URL, err)
				c.shutdown()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}

		case <-c.done:
			return
		}
	}
}
