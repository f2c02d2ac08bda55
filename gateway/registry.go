package gateway

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// session is one live WebSocket connection together with its liveness state
// and ping goroutine handle.
type session struct {
	id   int64
	conn *websocket.Conn

	writeMu sync.Mutex // serialises writes to conn

	mu       sync.Mutex
	lastPong time.Time

	cancel context.CancelFunc
	done   chan struct{} // closed when the ping goroutine exits
}

// send marshals v and writes it as a single text frame.
func (s *session) send(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, raw)
}

func (s *session) pongReceived() {
	s.mu.Lock()
	s.lastPong = time.Now()
	s.mu.Unlock()
}

func (s *session) sincePong() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastPong)
}

// Registry tracks live gateway sessions.  A single mutex covers both the
// membership map and ping-goroutine bookkeeping: a ping goroutine exists iff
// its session is registered, and the mutex is never held across a network
// send.
type Registry struct {
	mu       sync.Mutex
	sessions map[int64]*session
	nextID   int64

	pingInterval time.Duration
	pongTimeout  time.Duration
}

// NewRegistry creates a Registry.  Non-positive intervals fall back to the
// defaults (ping every 20s, evict after 30s without a pong).
func NewRegistry(pingInterval, pongTimeout time.Duration) *Registry {
	if pingInterval <= 0 {
		pingInterval = 20 * time.Second
	}
	if pongTimeout <= 0 {
		pongTimeout = 30 * time.Second
	}
	return &Registry{
		sessions:     make(map[int64]*session),
		pingInterval: pingInterval,
		pongTimeout:  pongTimeout,
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// add registers conn and starts its ping goroutine.  ctx bounds the
// goroutine's lifetime beyond explicit removal (service shutdown).
func (r *Registry) add(ctx context.Context, conn *websocket.Conn) *session {
	r.mu.Lock()
	r.nextID++
	s := &session{
		id:       r.nextID,
		conn:     conn,
		lastPong: time.Now(),
		done:     make(chan struct{}),
	}
	pctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	r.sessions[s.id] = s
	r.mu.Unlock()

	go r.pingLoop(pctx, s)
	return s
}

// remove drops the session, then cancels its ping goroutine and waits for
// it.  The connection is closed before the wait so a ping goroutine blocked
// mid-write unblocks.  Safe to call more than once.
func (r *Registry) remove(s *session) {
	r.mu.Lock()
	delete(r.sessions, s.id)
	r.mu.Unlock()

	s.cancel()
	s.conn.Close()
	<-s.done
}

// snapshot returns the current membership without holding the mutex across
// any subsequent sends.
func (r *Registry) snapshot() []*session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// CloseAll tears down every session; each ping goroutine is cancelled and
// awaited.  Used during service shutdown.
func (r *Registry) CloseAll() {
	for _, s := range r.snapshot() {
		r.remove(s)
	}
}

// pingLoop probes the client on a fixed schedule.  A session that has not
// answered within pongTimeout is considered stale: the loop closes the
// connection (unblocking the read loop, which converges on the normal
// disconnect path) and exits.
func (r *Registry) pingLoop(ctx context.Context, s *session) {
	defer close(s.done)

	ticker := time.NewTicker(r.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.sincePong() > r.pongTimeout {
				log.Printf("gateway: session %d stale (no pong in %s), closing", s.id, r.pongTimeout)
				s.conn.Close()
				return
			}
			if err := s.send(message{Type: "ping"}); err != nil {
				s.conn.Close()
				return
			}
		}
	}
}
