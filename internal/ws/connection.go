package ws

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection is one upgraded WebSocket client. Writes are serialized through
// a mutex so application messages, heartbeat pings and error replies never
// interleave frame bytes.
type Connection struct {
	ID        string   // session id handed to the client on connect
	Conn      net.Conn // raw socket
	Fd        int      // descriptor used as the poller key
	CreatedAt time.Time

	// lastSeen is unix nanos, atomic: read goroutines touch it while the
	// heartbeat sweep reads it.
	lastSeen int64

	writeMu sync.Mutex
	reading int32 // CAS guard against double dispatch from a level-triggered poller
}

// Touch records frame activity on the connection.
func (c *Connection) Touch() {
	atomic.StoreInt64(&c.lastSeen, time.Now().UnixNano())
}

// LastSeen returns when the connection last produced a readable frame.
func (c *Connection) LastSeen() time.Time {
	return time.Unix(0, atomic.LoadInt64(&c.lastSeen))
}

// WriteMessage sends one text frame to the client.
func (c *Connection) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// WritePing sends a protocol-level ping frame. Browsers answer it with a
// pong automatically.
func (c *Connection) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}

// Close closes the underlying socket.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// ConnTable indexes live connections by session id and by descriptor, both
// O(1). The fd index exists because the poller reports readiness by
// descriptor while the application addresses clients by session id.
type ConnTable struct {
	mu   sync.RWMutex
	byID map[string]*Connection
	byFd map[int]*Connection
}

func NewConnTable() *ConnTable {
	return &ConnTable{
		byID: make(map[string]*Connection),
		byFd: make(map[int]*Connection),
	}
}

// Add registers a connection under both indexes.
func (t *ConnTable) Add(c *Connection) {
	t.mu.Lock()
	t.byID[c.ID] = c
	t.byFd[c.Fd] = c
	t.mu.Unlock()
}

// Remove drops the connection for id from both indexes and closes its
// socket. It reports false when the connection was already gone, which lets
// racing removers (read error vs heartbeat timeout) agree on a single
// winner.
func (t *ConnTable) Remove(id string) bool {
	t.mu.Lock()
	c, ok := t.byID[id]
	if ok {
		delete(t.byID, id)
		delete(t.byFd, c.Fd)
	}
	t.mu.Unlock()

	if ok {
		c.Close()
	}
	return ok
}

// Get returns the connection for a session id, or nil.
func (t *ConnTable) Get(id string) *Connection {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.byID[id]
}

// Lookup resolves a raw socket back to its Connection via the descriptor,
// or nil when the socket is no longer registered.
func (t *ConnTable) Lookup(conn net.Conn) *Connection {
	fd := socketFD(conn)
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.byFd[fd]
}

// Count returns the number of live connections.
func (t *ConnTable) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}

// All returns a snapshot safe to iterate without the lock.
func (t *ConnTable) All() []*Connection {
	t.mu.RLock()
	out := make([]*Connection, 0, len(t.byID))
	for _, c := range t.byID {
		out = append(out, c)
	}
	t.mu.RUnlock()
	return out
}
