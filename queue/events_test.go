package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

// eventTestPair wires two independent instances to the same store, with the
// cross-instance listener running on both.
func eventTestPair(t *testing.T) (*Queue, *Queue) {
	t.Helper()
	mr := miniredis.RunT(t)
	ctx := context.Background()

	pair := make([]*Queue, 2)
	for i := range pair {
		q := New(Options{Addr: mr.Addr()})
		if err := q.Connect(ctx); err != nil {
			t.Fatalf("connect: %v", err)
		}
		t.Cleanup(func() { q.Close() })

		lis, err := q.Listen(ctx)
		if err != nil {
			t.Fatalf("listen: %v", err)
		}
		t.Cleanup(lis.Close)
		pair[i] = q
	}
	return pair[0], pair[1]
}

type eventCollector struct {
	mu     sync.Mutex
	events []Event
	ch     chan Event
}

func newEventCollector() *eventCollector {
	return &eventCollector{ch: make(chan Event, 16)}
}

func (c *eventCollector) collect(ev Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	c.ch <- ev
}

func (c *eventCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *eventCollector) wait(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-c.ch:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestPeerEventDelivery(t *testing.T) {
	qa, qb := eventTestPair(t)

	remote := newEventCollector()
	qb.Subscribe(remote.collect)

	it, err := qa.Enqueue(context.Background(), "j1", "Engineer", "Acme", "apply", "standard")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ev := remote.wait(t)
	if ev.Action != ActionAdded {
		t.Errorf("action = %s, want added", ev.Action)
	}
	if ev.Item == nil || ev.Item.QueueID != it.QueueID {
		t.Errorf("event item = %+v, want queueId %s", ev.Item, it.QueueID)
	}
	if ev.SourceInstance != qa.InstanceID() {
		t.Errorf("sourceInstance = %s, want %s", ev.SourceInstance, qa.InstanceID())
	}
}

func TestOwnEventsNotRedelivered(t *testing.T) {
	qa, qb := eventTestPair(t)

	local := newEventCollector()
	qa.Subscribe(local.collect)
	remote := newEventCollector()
	qb.Subscribe(remote.collect)

	if _, err := qa.Enqueue(context.Background(), "j1", "", "", "", ""); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// The remote delivery proves the publish round-tripped; by then the local
	// instance must have seen its own event exactly once, not a second time
	// via the listener.
	remote.wait(t)
	time.Sleep(100 * time.Millisecond)

	if n := local.count(); n != 1 {
		t.Errorf("local deliveries = %d, want exactly 1", n)
	}
}

func TestMalformedEventSkipped(t *testing.T) {
	qa, qb := eventTestPair(t)
	ctx := context.Background()

	remote := newEventCollector()
	qb.Subscribe(remote.collect)

	rdb, err := qa.client()
	if err != nil {
		t.Fatal(err)
	}
	if err := rdb.Publish(ctx, chanEvents, "{not json").Err(); err != nil {
		t.Fatalf("publish garbage: %v", err)
	}

	// The listener logs the bad payload and keeps going.
	if _, err := qa.Enqueue(ctx, "j1", "", "", "", ""); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	ev := remote.wait(t)
	if ev.Action != ActionAdded || ev.Item.JobID != "j1" {
		t.Errorf("event after garbage = %+v, want added j1", ev)
	}
}

func TestSubscriberPanicIsolated(t *testing.T) {
	mr := miniredis.RunT(t)
	q := New(Options{Addr: mr.Addr()})
	if err := q.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { q.Close() })

	q.Subscribe(func(Event) { panic("subscriber bug") })
	survivor := newEventCollector()
	q.Subscribe(survivor.collect)

	if _, err := q.Enqueue(context.Background(), "j1", "", "", "", ""); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if n := survivor.count(); n != 1 {
		t.Errorf("survivor deliveries = %d, want 1", n)
	}
}

func TestListenerClose(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	q := New(Options{Addr: mr.Addr()})
	if err := q.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { q.Close() })

	lis, err := q.Listen(ctx)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	// Close must return, proving the forwarding goroutine exited.
	done := make(chan struct{})
	go func() {
		lis.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("listener close did not return")
	}
}

func TestInstanceIDsUnique(t *testing.T) {
	a := New(Options{})
	b := New(Options{})
	if a.InstanceID() == "" || a.InstanceID() == b.InstanceID() {
		t.Errorf("instance ids = %q, %q; want distinct non-empty", a.InstanceID(), b.InstanceID())
	}
}
