// Package ws provides the WebSocket front end: HTTP upgrade, an epoll-based
// read loop with a bounded worker pool, per-connection write serialization,
// heartbeat eviction, and dispatch of parsed messages to application
// handlers.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/flickpick/match-app/internal/metrics"
	"github.com/flickpick/match-app/internal/protocol"
	"github.com/flickpick/match-app/internal/session"
)

// ServerConfig holds the server's tunable knobs.
type ServerConfig struct {
	ListenAddr     string
	WorkerPoolSize int           // cap on concurrent frame-reading goroutines
	MaxConnections int           // hard cap on accepted clients
	ReadTimeout    time.Duration // per-frame read deadline
	WriteTimeout   time.Duration // per-message write deadline
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":8080",
		WorkerPoolSize: 256,
		MaxConnections: 100000,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
	}
}

// Server accepts WebSocket clients and pumps their frames to the onMessage
// callback. Sockets are registered with a poller instead of getting a
// dedicated read goroutine; a semaphore bounds how many ready sockets are
// read at once.
type Server struct {
	config       ServerConfig
	poll         *poller
	conns        *ConnTable
	sessions     *session.Store
	workerSlots  chan struct{}
	onMessage    func(conn *Connection, data []byte)
	onDisconnect func(connID string)
	httpServer   *http.Server
	done         chan struct{}
	startedAt    time.Time
}

// NewServer builds a Server. onMessage runs on a worker goroutine for every
// complete text frame; sessions may be nil in tests.
func NewServer(config ServerConfig, sessions *session.Store, onMessage func(conn *Connection, data []byte)) *Server {
	return &Server{
		config:      config,
		conns:       NewConnTable(),
		sessions:    sessions,
		workerSlots: make(chan struct{}, config.WorkerPoolSize),
		onMessage:   onMessage,
		done:        make(chan struct{}),
	}
}

// SetOnDisconnect registers the hook called when a connection goes away for
// any reason. It runs before the Redis session is deleted so the handler
// can still read session state.
func (s *Server) SetOnDisconnect(fn func(connID string)) {
	s.onDisconnect = fn
}

// Connections exposes the live connection table.
func (s *Server) Connections() *ConnTable {
	return s.conns
}

// SessionStore exposes the Redis session store to message handlers.
func (s *Server) SessionStore() *session.Store {
	return s.sessions
}

// Start creates the poller, mounts the HTTP endpoints and blocks serving
// until Shutdown. The poll loop and heartbeat run in the background.
func (s *Server) Start() error {
	var err error
	s.poll, err = newPoller()
	if err != nil {
		return fmt.Errorf("ws: create poller: %w", err)
	}
	s.startedAt = time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())

	s.httpServer = &http.Server{Addr: s.config.ListenAddr, Handler: mux}

	go s.pollLoop()
	s.startHeartbeat(DefaultHeartbeatConfig())

	log.Printf("ws: listening on %s workers=%d max_conns=%d",
		s.config.ListenAddr, s.config.WorkerPoolSize, s.config.MaxConnections)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ws: http server: %w", err)
	}
	return nil
}

// handleUpgrade turns an HTTP request into a WebSocket connection, assigns
// a session id, registers the socket with the poller and greets the client
// with session_created.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}

	sid := uuid.New().String()
	c := &Connection{
		ID:        sid,
		Conn:      conn,
		Fd:        socketFD(conn),
		CreatedAt: time.Now(),
	}
	c.Touch()

	s.conns.Add(c)
	if err := s.poll.Add(conn); err != nil {
		log.Printf("ws: poller add failed session=%s: %v", sid, err)
		s.conns.Remove(sid)
		return
	}
	metrics.ConnectionsTotal.Inc()

	if s.sessions != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := s.sessions.Create(ctx, sid); err != nil {
			log.Printf("ws: create session %s: %v", sid, err)
		}
	}

	greeting, err := protocol.NewServerMessage(protocol.TypeSessionCreated, protocol.SessionCreatedMsg{
		SessionID: sid,
	})
	if err != nil {
		log.Printf("ws: build session_created for %s: %v", sid, err)
	} else if err := c.WriteMessage(greeting); err != nil {
		log.Printf("ws: send session_created to %s: %v", sid, err)
	}

	log.Printf("ws: connected session=%s fd=%d total=%d", sid, c.Fd, s.conns.Count())
}

// handleHealth serves the load balancer health probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	_ = json.NewEncoder(w).Encode(struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.conns.Count(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// pollLoop waits on the poller and hands each ready socket to a worker,
// blocking for a slot when the pool is saturated.
func (s *Server) pollLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		ready, err := s.poll.Wait()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if isEINTR(err) {
				continue
			}
			log.Printf("ws: poll wait: %v", err)
			continue
		}

		for _, conn := range ready {
			conn := conn
			s.workerSlots <- struct{}{}
			go func() {
				defer func() { <-s.workerSlots }()
				s.readFrame(conn)
			}()
		}
	}
}

// readFrame reads one frame from a ready socket. wsutil.NextReader lets
// control frames through without blocking on a data frame that may never
// come. A failed read tears the connection down; a read timeout is treated
// as a stale poll wakeup and ignored.
func (s *Server) readFrame(netConn net.Conn) {
	c := s.conns.Lookup(netConn)
	if c == nil {
		return
	}

	// The poller is level-triggered, so one readable socket can be
	// reported more than once; only one worker may read it.
	if !atomic.CompareAndSwapInt32(&c.reading, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&c.reading, 0)

	if s.config.ReadTimeout > 0 {
		_ = netConn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}

	header, reader, err := wsutil.NextReader(netConn, ws.StateServerSide)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return
		}
		s.RemoveConnection(c)
		return
	}
	_ = netConn.SetReadDeadline(time.Time{})

	c.Touch()

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

// RemoveConnection evicts a client: poller deregistration, table removal,
// disconnect hook, session deletion. Exactly one of several racing callers
// (read error, heartbeat, close frame) performs the cleanup.
func (s *Server) RemoveConnection(c *Connection) {
	_ = s.poll.Remove(c.Conn)

	if !s.conns.Remove(c.ID) {
		return
	}
	metrics.ConnectionsTotal.Dec()

	if s.onDisconnect != nil {
		s.onDisconnect(c.ID)
	}

	if s.sessions != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := s.sessions.Delete(ctx, c.ID); err != nil {
			log.Printf("ws: delete session %s: %v", c.ID, err)
		}
	}

	log.Printf("ws: disconnected session=%s total=%d", c.ID, s.conns.Count())
}

// SendMessage writes a text frame to the client identified by connID.
func (s *Server) SendMessage(connID string, data []byte) error {
	c := s.conns.Get(connID)
	if c == nil {
		return fmt.Errorf("ws: connection %s not found", connID)
	}

	if s.config.WriteTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	}
	err := c.WriteMessage(data)
	_ = c.Conn.SetWriteDeadline(time.Time{})
	return err
}

// Shutdown stops the listener, wakes the poll loop, deletes every live
// session and closes all sockets.
func (s *Server) Shutdown() error {
	log.Println("ws: shutting down")

	close(s.done)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("ws: http shutdown: %v", err)
	}

	for _, c := range s.conns.All() {
		if s.sessions != nil {
			delCtx, delCancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = s.sessions.Delete(delCtx, c.ID)
			delCancel()
		}
		_ = s.poll.Remove(c.Conn)
		c.Close()
	}

	if s.poll != nil {
		_ = s.poll.Close()
	}

	log.Printf("ws: stopped, all connections closed")
	return nil
}

// isEINTR reports the interrupted-syscall error the poll wait sees while
// signals are being delivered; the wait is simply retried.
func isEINTR(err error) bool {
	if err == nil {
		return false
	}
	return err.Error() == "interrupted system call" || err.Error() == "errno 4"
}
