package ws

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// sendQueueSize bounds the per-connection outbound buffer. A full queue means
// the client is not draining its socket; further frames are dropped until it
// catches up or the heartbeat evicts it.
const sendQueueSize = 64

// Connection is a single WebSocket client connection. Outbound frames go
// through a buffered queue drained by a dedicated write pump, so producers
// never block on a slow client's socket.
type Connection struct {
	ID        string   // connection ID (UUID)
	Conn      net.Conn // underlying TCP connection
	Fd        int      // file descriptor for epoll lookups
	Origin    string   // client network origin (IP)
	CreatedAt time.Time
	LastPing  time.Time // last activity observed from the client

	sendCh  chan []byte
	done    chan struct{}
	writeMu sync.Mutex // serializes frames from the pump and heartbeat pings

	closeOnce  sync.Once
	processing int32 // atomic flag: 0 = idle, 1 = being read by handleConn
}

func newConnection(id string, conn net.Conn, fd int, origin string) *Connection {
	now := time.Now()
	return &Connection{
		ID:        id,
		Conn:      conn,
		Fd:        fd,
		Origin:    origin,
		CreatedAt: now,
		LastPing:  now,
		sendCh:    make(chan []byte, sendQueueSize),
		done:      make(chan struct{}),
	}
}

// Enqueue queues a text frame for the write pump. It never blocks; when the
// queue is full the frame is dropped and false is returned.
func (c *Connection) Enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.sendCh <- data:
		return true
	default:
		return false
	}
}

// writePump drains the send queue onto the socket. It exits when the
// connection is closed; a write error leaves the connection for the read path
// or heartbeat to evict.
func (c *Connection) writePump(writeTimeout time.Duration) {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.sendCh:
			c.writeMu.Lock()
			if writeTimeout > 0 {
				_ = c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			}
			err := wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
			_ = c.Conn.SetWriteDeadline(time.Time{})
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// WritePing sends a protocol-level ping frame (opcode 0x9), serialized with
// the pump's data frames by the write mutex.
func (c *Connection) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}

// Close stops the write pump and closes the underlying network connection.
// Safe to call multiple times.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return c.Conn.Close()
}

// ConnectionManager is a goroutine-safe registry mapping connection IDs and
// file descriptors to Connection objects.
type ConnectionManager struct {
	mu   sync.RWMutex
	byID map[string]*Connection
	byFd map[int]*Connection
}

// NewConnectionManager creates an empty ConnectionManager.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byID: make(map[string]*Connection),
		byFd: make(map[int]*Connection),
	}
}

// Add registers a connection in both lookup maps.
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	cm.byID[conn.ID] = conn
	cm.byFd[conn.Fd] = conn
	cm.mu.Unlock()
}

// Remove removes a connection by ID and closes it. Returns false if it was
// already gone, which lets racing cleanup paths coordinate.
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

// Get returns the connection for the given ID, or nil.
func (cm *ConnectionManager) Get(id string) *Connection {
	cm.mu.RLock()
	conn := cm.byID[id]
	cm.mu.RUnlock()
	return conn
}

// GetByFd returns the connection for the given file descriptor, or nil.
func (cm *ConnectionManager) GetByFd(fd int) *Connection {
	cm.mu.RLock()
	conn := cm.byFd[fd]
	cm.mu.RUnlock()
	return conn
}

// GetByConn resolves a net.Conn to its Connection via the file descriptor.
func (cm *ConnectionManager) GetByConn(c net.Conn) *Connection {
	return cm.GetByFd(socketFD(c))
}

// Count returns the number of active connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	n := len(cm.byID)
	cm.mu.RUnlock()
	return n
}

// All returns a snapshot of all current connections.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.byID))
	for _, conn := range cm.byID {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()
	return conns
}

// markProcessing guards against duplicate dispatch from level-triggered epoll.
func (c *Connection) markProcessing() bool {
	return atomic.CompareAndSwapInt32(&c.processing, 0, 1)
}

func (c *Connection) doneProcessing() {
	atomic.StoreInt32(&c.processing, 0)
}
