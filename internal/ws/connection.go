package ws

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection is one live WebSocket session. The ID doubles as the session
// identifier handed to the client and used as the room membership key, so
// it must stay stable for the connection's whole life. Outbound frames are
// serialized by the write mutex; the activity stamp feeds the heartbeat
// sweep.
type Connection struct {
	ID        string
	Conn      net.Conn
	Fd        int
	CreatedAt time.Time

	lastActive int64 // unix nanos, read and written atomically
	writeMu    sync.Mutex
	reading    int32 // 1 while a worker is reading this connection
}

// NewConnection wraps an upgraded network connection.
func NewConnection(id string, conn net.Conn, fd int) *Connection {
	c := &Connection{
		ID:        id,
		Conn:      conn,
		Fd:        fd,
		CreatedAt: time.Now(),
	}
	c.Touch()
	return c
}

// Touch records activity on the connection. Called for every inbound frame,
// data or control.
func (c *Connection) Touch() {
	atomic.StoreInt64(&c.lastActive, time.Now().UnixNano())
}

// LastActive returns the time of the most recent inbound frame.
func (c *Connection) LastActive() time.Time {
	return time.Unix(0, atomic.LoadInt64(&c.lastActive))
}

// tryBeginRead claims the connection for a read worker. Level-triggered
// epoll can report the same fd ready to several Wait rounds; only the first
// claimant may read, the rest back off.
func (c *Connection) tryBeginRead() bool {
	return atomic.CompareAndSwapInt32(&c.reading, 0, 1)
}

// endRead releases the read claim.
func (c *Connection) endRead() {
	atomic.StoreInt32(&c.reading, 0)
}

// WriteMessage sends a text frame. Concurrent senders (room fan-out, direct
// replies, heartbeat) are serialized by the write mutex so frame bytes never
// interleave on the wire.
func (c *Connection) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// WritePing sends a protocol-level ping control frame, serialized with any
// concurrent application writes.
func (c *Connection) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}

// Close closes the underlying network connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// ConnectionManager is the registry of live sessions, addressable by
// session ID (the dispatcher and room delivery path) and by file descriptor
// (the epoll read path). Both lookups are O(1).
type ConnectionManager struct {
	mu   sync.RWMutex
	byID map[string]*Connection
	byFd map[int]*Connection
}

// NewConnectionManager creates an empty registry.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byID: make(map[string]*Connection),
		byFd: make(map[int]*Connection),
	}
}

// Add registers a connection under both keys.
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	cm.byID[conn.ID] = conn
	cm.byFd[conn.Fd] = conn
	cm.mu.Unlock()
}

// Remove drops a session by ID and closes its socket. It reports whether
// the session was still registered, which lets racing removers (read error
// vs heartbeat eviction) agree on who runs the disconnect cleanup.
func (cm *ConnectionManager) Remove(id string) bool {
	cm.mu.Lock()
	conn, ok := cm.byID[id]
	if ok {
		delete(cm.byID, id)
		delete(cm.byFd, conn.Fd)
	}
	cm.mu.Unlock()

	if ok {
		conn.Close()
	}
	return ok
}

// Get returns the session with the given ID, or nil.
func (cm *ConnectionManager) Get(id string) *Connection {
	cm.mu.RLock()
	conn := cm.byID[id]
	cm.mu.RUnlock()
	return conn
}

// GetByFd returns the session registered for a file descriptor, or nil.
func (cm *ConnectionManager) GetByFd(fd int) *Connection {
	cm.mu.RLock()
	conn := cm.byFd[fd]
	cm.mu.RUnlock()
	return conn
}

// GetByConn resolves a raw network connection back to its session via the
// file descriptor.
func (cm *ConnectionManager) GetByConn(c net.Conn) *Connection {
	return cm.GetByFd(socketFD(c))
}

// Count returns the number of live sessions.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	n := len(cm.byID)
	cm.mu.RUnlock()
	return n
}

// All returns a snapshot of the live sessions, safe to iterate without the
// lock.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.byID))
	for _, conn := range cm.byID {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()
	return conns
}
