package queue

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event actions, one per observable mutation.
const (
	ActionAdded     = "added"
	ActionStarted   = "started"
	ActionCompleted = "completed"
	ActionFailed    = "failed"
	ActionRetried   = "retried"
	ActionCancelled = "cancelled"
	ActionDismissed = "dismissed"
	ActionUpdated   = "updated"
)

// Event describes a single queue mutation.  SourceInstance identifies the
// process that originated it; the listener uses it to avoid re-delivering an
// instance's own events after the round-trip through Redis.
type Event struct {
	Action         string    `json:"action"`
	Item           *WorkItem `json:"item"`
	Timestamp      time.Time `json:"timestamp"`
	SourceInstance string    `json:"sourceInstance"`
}

// Subscribe registers fn to receive every local mutation and every
// peer-instance event forwarded by the listener.  Intended for component
// startup; a panicking subscriber is logged and does not stop dispatch to
// the others.
func (q *Queue) Subscribe(fn func(Event)) {
	q.mu.Lock()
	q.subs = append(q.subs, fn)
	q.mu.Unlock()
}

// emit publishes the event to queue:events for peer instances, then
// dispatches it to local subscribers.  The publish is best effort: its
// failure never fails the mutation — peers simply miss the event and recover
// on the next client refresh.
func (q *Queue) emit(ctx context.Context, rdb *redis.Client, action string, it *WorkItem) {
	ev := Event{
		Action:         action,
		Item:           it,
		Timestamp:      time.Now().UTC(),
		SourceInstance: q.instanceID,
	}

	raw, err := json.Marshal(ev)
	if err != nil {
		log.Printf("queue: marshal %s event: %v", action, err)
	} else if err := rdb.Publish(ctx, chanEvents, raw).Err(); err != nil {
		log.Printf("queue: publish %s event: %v", action, err)
	}

	q.dispatch(ev)
}

func (q *Queue) dispatch(ev Event) {
	q.mu.RLock()
	subs := make([]func(Event), len(q.subs))
	copy(subs, q.subs)
	q.mu.RUnlock()

	for _, fn := range subs {
		callSubscriber(fn, ev)
	}
}

func callSubscriber(fn func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("queue: subscriber panic on %s event: %v", ev.Action, r)
		}
	}()
	fn(ev)
}

// ---- cross-instance listener ----

// Listener forwards peer-instance events from queue:events to local
// subscribers.  Obtain one via Listen; stop it with Close.
type Listener struct {
	pubsub *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
}

// Listen subscribes to queue:events and starts the forwarding goroutine.
// It returns after the subscription is confirmed, so no event published
// afterwards can be missed.
func (q *Queue) Listen(ctx context.Context) (*Listener, error) {
	rdb, err := q.client()
	if err != nil {
		return nil, err
	}

	pubsub := rdb.Subscribe(ctx, chanEvents)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", chanEvents, err)
	}

	lctx, cancel := context.WithCancel(ctx)
	l := &Listener{pubsub: pubsub, cancel: cancel, done: make(chan struct{})}
	go q.listenLoop(lctx, pubsub, l.done)
	return l, nil
}

// Close cancels the forwarding goroutine and waits for it to exit.
func (l *Listener) Close() {
	l.cancel()
	l.pubsub.Close()
	<-l.done
}

func (q *Queue) listenLoop(ctx context.Context, pubsub *redis.PubSub, done chan struct{}) {
	defer close(done)
	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Printf("queue: bad event on %s: %v", chanEvents, err)
				continue
			}
			if ev.SourceInstance == q.instanceID {
				// Our own event; locals already got it straight from emit.
				continue
			}
			q.dispatch(ev)
		}
	}
}

// newInstanceID returns a process-lifetime-unique opaque id: 8 random bytes,
// hex encoded.
func newInstanceID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("%016x", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}
