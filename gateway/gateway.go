// Package gateway maintains live WebSocket sessions for the queue UI.
//
// Each client receives a full queue_state snapshot on connect, then a live
// stream of queue events.  Client commands (retry / cancel / dismiss /
// refresh) are translated into queue mutations; liveness is probed with
// application-level ping/pong frames and stale sessions are evicted.
package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/whisper-darkly/conveyor-backend/queue"
)

// message is the top-level wire shape of every frame, in both directions.
type message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// clientMessage is the inbound variant; the payload stays raw until the type
// is known.
type clientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// actionResult reports the outcome of a client command.
type actionResult struct {
	Action  string `json:"action"`
	Success bool   `json:"success"`
	QueueID string `json:"queueId"`
}

func errorFrame(msg string) message {
	return message{Type: "error", Payload: map[string]string{"message": msg}}
}

// Gateway accepts client connections, streams queue events outbound, and
// dispatches client commands to the queue.
type Gateway struct {
	q            *queue.Queue
	registry     *Registry
	upgrader     websocket.Upgrader
	pendingLimit int

	// ctx bounds every per-session ping goroutine; cancelled at shutdown.
	ctx context.Context
}

// New creates a Gateway and registers its event fanout with the queue.
// Call before starting the queue's cross-instance listener so no event can
// slip past an empty subscriber list.
func New(ctx context.Context, q *queue.Queue, registry *Registry, pendingLimit int) *Gateway {
	if pendingLimit <= 0 {
		pendingLimit = 50
	}
	g := &Gateway{
		q:            q,
		registry:     registry,
		pendingLimit: pendingLimit,
		ctx:          ctx,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	q.Subscribe(g.broadcast)
	return g
}

// Registry exposes the session registry (health reporting, shutdown).
func (g *Gateway) Registry() *Registry { return g.registry }

// HandleWS upgrades the connection, registers the session, sends the initial
// snapshot, and runs the read loop until the client goes away.  All exit
// paths converge on the same disconnect handling.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("gateway: upgrade from %s: %v", r.RemoteAddr, err)
		return
	}

	s := g.registry.add(g.ctx, conn)
	log.Printf("gateway: session %d connected from %s", s.id, r.RemoteAddr)
	defer func() {
		g.registry.remove(s)
		log.Printf("gateway: session %d disconnected", s.id)
	}()

	g.sendState(r.Context(), s)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		g.handleMessage(r.Context(), s, raw)
	}
}

// sendState pushes a fresh queue_state snapshot to one session.
func (g *Gateway) sendState(ctx context.Context, s *session) {
	st, err := g.q.GetState(ctx, g.pendingLimit)
	if err != nil {
		log.Printf("gateway: session %d snapshot: %v", s.id, err)
		s.send(errorFrame(err.Error()))
		return
	}
	if err := s.send(message{Type: "queue_state", Payload: st}); err != nil {
		log.Printf("gateway: session %d send snapshot: %v", s.id, err)
	}
}

// handleMessage parses one inbound frame and performs the requested action.
// Malformed JSON and unknown types produce an error frame for this client
// only; the session stays open.
func (g *Gateway) handleMessage(ctx context.Context, s *session, raw []byte) {
	var msg clientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.send(errorFrame("invalid JSON: " + err.Error()))
		return
	}

	switch msg.Type {
	case "retry":
		queueID := payloadQueueID(msg.Payload)
		it, err := g.q.Retry(ctx, queueID)
		if err != nil {
			s.send(errorFrame(err.Error()))
			return
		}
		s.send(message{Type: "action_result", Payload: actionResult{Action: "retry", Success: it != nil, QueueID: queueID}})

	case "cancel":
		queueID := payloadQueueID(msg.Payload)
		ok, err := g.q.Cancel(ctx, queueID)
		if err != nil {
			s.send(errorFrame(err.Error()))
			return
		}
		s.send(message{Type: "action_result", Payload: actionResult{Action: "cancel", Success: ok, QueueID: queueID}})

	case "dismiss":
		queueID := payloadQueueID(msg.Payload)
		ok, err := g.q.DismissFailed(ctx, queueID)
		if err != nil {
			s.send(errorFrame(err.Error()))
			return
		}
		s.send(message{Type: "action_result", Payload: actionResult{Action: "dismiss", Success: ok, QueueID: queueID}})

	case "refresh":
		g.sendState(ctx, s)

	case "ping":
		s.send(message{Type: "pong"})

	case "pong":
		s.pongReceived()

	default:
		s.send(errorFrame("unknown message type: " + msg.Type))
	}
}

func payloadQueueID(raw json.RawMessage) string {
	var p struct {
		QueueID string `json:"queueId"`
	}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &p)
	}
	return p.QueueID
}

// broadcast sends one frame per queue event to every session: type is the
// event action, payload is the event itself.  Sessions that fail the send
// are torn down.
func (g *Gateway) broadcast(ev queue.Event) {
	frame := message{Type: ev.Action, Payload: ev}
	var failed []*session
	for _, s := range g.registry.snapshot() {
		if err := s.send(frame); err != nil {
			log.Printf("gateway: session %d send %s event: %v", s.id, ev.Action, err)
			failed = append(failed, s)
		}
	}
	for _, s := range failed {
		g.registry.remove(s)
	}
}
