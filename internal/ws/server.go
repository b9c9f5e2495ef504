// Package ws runs the WebSocket transport: HTTP upgrade, epoll-driven frame
// reading through a bounded worker pool, per-connection write pumps, and
// heartbeat eviction of dead clients.
package ws

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sayra/lingomatch/internal/protocol"
)

// ServerConfig holds the transport tunables.
type ServerConfig struct {
	WorkerPoolSize int           // max concurrent read-worker goroutines
	MaxConnections int           // hard cap on total connections
	ReadTimeout    time.Duration // timeout for WebSocket read operations
	WriteTimeout   time.Duration // timeout for WebSocket write operations
}

// DefaultServerConfig returns production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		WorkerPoolSize: 256,
		MaxConnections: 100000,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
	}
}

// Server upgrades HTTP connections to WebSocket, registers them with epoll
// for read readiness, and hands ready sockets to a bounded worker pool.
// Server satisfies the engine's Notifier contract: Send enqueues into the
// target's write pump and never blocks, Drop closes the transport.
type Server struct {
	config ServerConfig
	log    zerolog.Logger

	epoll      *Epoll
	conns      *ConnectionManager
	workerPool chan struct{} // semaphore limiting concurrent read workers

	onConnect    func(connID, origin string)
	onMessage    func(conn *Connection, data []byte)
	onDisconnect func(connID string)

	done      chan struct{}
	closeOnce sync.Once
	startedAt time.Time
}

// NewServer creates a Server. The onMessage callback runs on a worker
// goroutine for every complete text frame.
func NewServer(config ServerConfig, logger zerolog.Logger, onMessage func(conn *Connection, data []byte)) *Server {
	return &Server{
		config:     config,
		log:        logger.With().Str("component", "ws").Logger(),
		conns:      NewConnectionManager(),
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		onMessage:  onMessage,
		done:       make(chan struct{}),
	}
}

// SetOnConnect registers the callback invoked after a successful upgrade.
func (s *Server) SetOnConnect(fn func(connID, origin string)) { s.onConnect = fn }

// SetOnDisconnect registers the callback invoked when a connection is
// removed, for any reason.
func (s *Server) SetOnDisconnect(fn func(connID string)) { s.onDisconnect = fn }

// Start initializes epoll, begins the event loop and the heartbeat monitor.
// It returns immediately; the HTTP listener is owned by the caller, which
// mounts Handler() wherever it serves.
func (s *Server) Start() error {
	var err error
	s.epoll, err = NewEpoll()
	if err != nil {
		return fmt.Errorf("ws: failed to create epoll: %w", err)
	}
	s.startedAt = time.Now()

	go s.startEventLoop()
	StartHeartbeat(s, DefaultHeartbeatConfig())

	s.log.Info().
		Int("workers", s.config.WorkerPoolSize).
		Int("max_conns", s.config.MaxConnections).
		Msg("transport started")
	return nil
}

// Handler returns the HTTP handler performing the WebSocket upgrade.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleUpgrade)
}

// handleUpgrade upgrades an HTTP request with the gobwas zero-copy upgrader
// and registers the resulting connection.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	origin := clientOrigin(r)

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.log.Warn().Err(err).Msg("upgrade failed")
		return
	}

	connID := uuid.NewString()
	c := newConnection(connID, conn, socketFD(conn), origin)

	s.conns.Add(c)
	if err := s.epoll.Add(conn); err != nil {
		s.log.Error().Err(err).Str("conn", connID).Msg("epoll add failed")
		s.conns.Remove(connID)
		return
	}

	go c.writePump(s.config.WriteTimeout)

	if s.onConnect != nil {
		s.onConnect(connID, origin)
	}

	s.log.Debug().Str("conn", connID).Str("origin", origin).Int("total", s.conns.Count()).Msg("connected")
}

// clientOrigin resolves the client IP, honoring the first X-Forwarded-For hop
// when present (the server sits behind a reverse proxy in production).
func clientOrigin(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		if ip := strings.TrimSpace(fwd); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// startEventLoop runs the epoll wait loop, dispatching ready connections to
// the worker pool.
func (s *Server) startEventLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		conns, err := s.epoll.Wait()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				if isEINTR(err) {
					continue
				}
				s.log.Warn().Err(err).Msg("epoll wait error")
				continue
			}
		}

		for _, conn := range conns {
			conn := conn

			s.workerPool <- struct{}{}
			go func() {
				defer func() { <-s.workerPool }()
				s.handleConn(conn)
			}()
		}
	}
}

// handleConn reads one frame from a ready connection. Control frames are
// handled inline; data frames go to the onMessage callback.
func (s *Server) handleConn(netConn net.Conn) {
	c := s.conns.GetByConn(netConn)
	if c == nil {
		return
	}

	if !c.markProcessing() {
		return
	}
	defer c.doneProcessing()

	if s.config.ReadTimeout > 0 {
		_ = netConn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}

	header, reader, err := wsutil.NextReader(netConn, ws.StateServerSide)
	if err != nil {
		// A timeout means a stale epoll dispatch, not a dead connection.
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return
		}
		s.RemoveConnection(c)
		return
	}
	_ = netConn.SetReadDeadline(time.Time{})

	c.LastPing = time.Now()

	if header.OpCode.IsControl() {
		if header.OpCode == ws.OpClose {
			s.RemoveConnection(c)
		}
		return
	}

	data := make([]byte, header.Length)
	if header.Length > 0 {
		if _, err := io.ReadFull(reader, data); err != nil {
			s.RemoveConnection(c)
			return
		}
	}
	if len(data) == 0 {
		return
	}

	if s.onMessage != nil {
		s.onMessage(c, data)
	}
}

// RemoveConnection evicts a connection from epoll and the manager and fires
// the disconnect callback. Racing removals coordinate through the manager.
func (s *Server) RemoveConnection(c *Connection) {
	_ = s.epoll.Remove(c.Conn)

	if !s.conns.Remove(c.ID) {
		return
	}

	if s.onDisconnect != nil {
		s.onDisconnect(c.ID)
	}

	s.log.Debug().Str("conn", c.ID).Int("total", s.conns.Count()).Msg("closed")
}

// Send encodes a server message and enqueues it for the target's write pump.
// Unknown connections and full queues drop silently; a persistently full
// queue means the heartbeat will evict the client shortly.
func (s *Server) Send(connID string, msgType string, payload interface{}) {
	c := s.conns.Get(connID)
	if c == nil {
		return
	}

	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		s.log.Error().Err(err).Str("type", msgType).Msg("encode failed")
		return
	}

	if !c.Enqueue(data) {
		s.log.Debug().Str("conn", connID).Str("type", msgType).Msg("send queue full, frame dropped")
	}
}

// Drop closes a connection's transport. The close runs on its own goroutine
// because the disconnect callback re-enters the engine, and Drop may be
// called from inside an engine operation.
func (s *Server) Drop(connID string) {
	if c := s.conns.Get(connID); c != nil {
		go s.RemoveConnection(c)
	}
}

// Connections exposes the manager for the heartbeat monitor.
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Uptime reports how long the transport has been running.
func (s *Server) Uptime() time.Duration {
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}

// Shutdown stops the event loop and closes every active connection.
func (s *Server) Shutdown() error {
	s.log.Info().Msg("shutting down transport")
	s.closeOnce.Do(func() { close(s.done) })

	for _, c := range s.conns.All() {
		_ = s.epoll.Remove(c.Conn)
		s.conns.Remove(c.ID)
	}

	if s.epoll != nil {
		_ = s.epoll.Close()
	}

	s.log.Info().Msg("transport stopped")
	return nil
}

// isEINTR reports an interrupted epoll_wait, expected during signal handling.
func isEINTR(err error) bool {
	if err == nil {
		return false
	}
	return err.Error() == "interrupted system call" || err.Error() == "errno 4"
}
