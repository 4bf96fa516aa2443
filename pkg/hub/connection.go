package hub

import (
	"log"
	"sync"
	"time"
)

// wsConn is the subset of *websocket.Conn this package depends on. Tests
// substitute a fake satisfying the same interface instead of dialing a real
// socket.
type wsConn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	outboxCapacity = 64
)

// Connection is one client's edit-room socket. A connection joins exactly
// one page under exactly one userId; a client editing two pages at once
// opens two connections, matching how a browser tab maps to a room.
type Connection struct {
	id string
	ws wsConn

	writeMu sync.Mutex
	outbox  chan outboundFrame

	mu     sync.RWMutex
	pageID string
	userID string

	closeOnce sync.Once
	closed    chan struct{}
}

func newConnection(id string, ws wsConn) *Connection {
	return &Connection{
		id:     id,
		ws:     ws,
		outbox: make(chan outboundFrame, outboxCapacity),
		closed: make(chan struct{}),
	}
}

func (c *Connection) bind(pageID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pageID = pageID
	c.userID = userID
}

// PageID and UserID are zero until bind has run (i.e. before JoinEditRoom or
// Init has been processed).
func (c *Connection) PageID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pageID
}

func (c *Connection) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// enqueue schedules a frame for delivery without blocking the caller. A
// connection whose outbox is full is considered a slow peer: the frame is
// dropped and logged rather than stalling whoever is fanning it out (never
// the drain loop, never another peer's write).
func (c *Connection) enqueue(f outboundFrame) {
	select {
	case c.outbox <- f:
	case <-c.closed:
	default:
		log.Printf("hub: dropping frame %q for slow connection %s", f.Type, c.id)
	}
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.ws.Close()
	})
}

// writePump drains outbox to the socket and keeps the connection alive with
// periodic pings, until a write fails or the connection is closed.
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.close()

	for {
		select {
		case <-c.closed:
			return
		case f := <-c.outbox:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(f); err != nil {
				log.Printf("hub: write failed for connection %s: %v", c.id, err)
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(outboundFrame{Type: "ping"}); err != nil {
				return
			}
		}
	}
}
