// Package queue implements the persistent job queue for conveyor-backend.
//
// All state lives in Redis so that multiple backend instances can share one
// queue.  A logical work item spans four structures:
//
//   - queue:pending        — list; LPUSH on enqueue, RPOP on dequeue (FIFO)
//   - queue:running        — set of checked-out items
//   - queue:failed         — sorted set scored by failure time
//   - queue:history        — capped list of recent completions
//   - queue:item:{id}      — per-item hash, 7-day TTL reset on every write
//
// Moves between structures are two adjacent non-atomic steps; the narrow
// inconsistency windows are repaired by RestoreInterruptedRuns (startup) and
// CleanupStale (periodic).  Every observable mutation emits an event that is
// dispatched to in-process subscribers and published on queue:events for peer
// instances.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotConnected is returned by every operation invoked before Connect (or
// after Close).  The gateway translates it into an error frame.
var ErrNotConnected = errors.New("queue: not connected to redis")

const (
	keyPending = "queue:pending"
	keyRunning = "queue:running"
	keyFailed  = "queue:failed"
	keyHistory = "queue:history"
	chanEvents = "queue:events"

	itemKeyPrefix = "queue:item:"
)

func itemKey(queueID string) string { return itemKeyPrefix + queueID }

// Options tunes a Queue.  Zero values fall back to the documented defaults.
type Options struct {
	Addr     string
	Password string
	DB       int

	// ItemTTL is the expiry of every item hash, reset on each write.
	ItemTTL time.Duration

	// HistoryCap bounds the history list; completions beyond it are trimmed.
	HistoryCap int

	// FailedLimit and HistoryLimit bound the failed/history slices of a
	// GetState snapshot.
	FailedLimit  int
	HistoryLimit int
}

func (o Options) withDefaults() Options {
	if o.ItemTTL <= 0 {
		o.ItemTTL = 7 * 24 * time.Hour
	}
	if o.HistoryCap <= 0 {
		o.HistoryCap = 100
	}
	if o.FailedLimit <= 0 {
		o.FailedLimit = 20
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 20
	}
	return o
}

// Queue is the durable FIFO work queue.  All methods are safe for concurrent
// use; each may suspend while awaiting Redis replies.
type Queue struct {
	instanceID string
	opts       Options

	mu   sync.RWMutex // guards rdb and subs
	rdb  *redis.Client
	subs []func(Event)
}

// New creates a Queue.  Call Connect before use.
func New(opts Options) *Queue {
	return &Queue{
		instanceID: newInstanceID(),
		opts:       opts.withDefaults(),
	}
}

// InstanceID returns the process-lifetime-unique id stamped on every event
// this instance emits.
func (q *Queue) InstanceID() string { return q.instanceID }

// Connect establishes the Redis session and verifies it with a ping.
func (q *Queue) Connect(ctx context.Context) error {
	rdb := redis.NewClient(&redis.Options{
		Addr:     q.opts.Addr,
		Password: q.opts.Password,
		DB:       q.opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return fmt.Errorf("ping %s: %w", q.opts.Addr, err)
	}

	q.mu.Lock()
	q.rdb = rdb
	q.mu.Unlock()
	return nil
}

// Connected reports whether a Redis session is live.
func (q *Queue) Connected() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.rdb != nil
}

// Close disconnects from Redis.  Subsequent operations fail with
// ErrNotConnected.
func (q *Queue) Close() error {
	q.mu.Lock()
	rdb := q.rdb
	q.rdb = nil
	q.mu.Unlock()
	if rdb == nil {
		return nil
	}
	return rdb.Close()
}

func (q *Queue) client() (*redis.Client, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.rdb == nil {
		return nil, ErrNotConnected
	}
	return q.rdb, nil
}

// ---- item persistence ----

// writeItem stores the item hash and resets its TTL.
func (q *Queue) writeItem(ctx context.Context, rdb *redis.Client, it *WorkItem) error {
	key := itemKey(it.QueueID)
	if err := rdb.HSet(ctx, key, it.toMap()).Err(); err != nil {
		return fmt.Errorf("write item %s: %w", it.QueueID, err)
	}
	if err := rdb.Expire(ctx, key, q.opts.ItemTTL).Err(); err != nil {
		return fmt.Errorf("expire item %s: %w", it.QueueID, err)
	}
	return nil
}

// readItem fetches an item hash.  Returns (nil, nil) when no hash exists —
// the caller decides whether that is an orphan or simply "not found".
func (q *Queue) readItem(ctx context.Context, rdb *redis.Client, queueID string) (*WorkItem, error) {
	m, err := rdb.HGetAll(ctx, itemKey(queueID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read item %s: %w", queueID, err)
	}
	if len(m) == 0 {
		return nil, nil
	}
	return itemFromMap(queueID, m), nil
}

// ---- mutations ----

// Enqueue creates a new pending item and pushes it to the head of the
// pending list.  The returned item's Position is its 1-based distance from
// the tail (the tail is served next).  Emits "added".
func (q *Queue) Enqueue(ctx context.Context, jobID, jobTitle, company, operation, processingTier string) (*WorkItem, error) {
	rdb, err := q.client()
	if err != nil {
		return nil, err
	}

	it := &WorkItem{
		QueueID:        uuid.NewString(),
		JobID:          jobID,
		JobTitle:       jobTitle,
		Company:        company,
		Operation:      operation,
		ProcessingTier: processingTier,
		Status:         StatusPending,
		CreatedAt:      time.Now().UTC(),
	}
	if err := q.writeItem(ctx, rdb, it); err != nil {
		return nil, err
	}

	n, err := rdb.LPush(ctx, keyPending, it.QueueID).Result()
	if err != nil {
		return nil, fmt.Errorf("push pending: %w", err)
	}
	it.Position = int(n)

	q.emit(ctx, rdb, ActionAdded, it)
	return it, nil
}

// Dequeue pops the tail of the pending list and moves the item into the
// running set.  Returns (nil, nil) when the list is empty or the popped id
// has no backing hash (the orphan entry is gone either way; CleanupStale
// repairs any siblings).  Emits "started".
func (q *Queue) Dequeue(ctx context.Context) (*WorkItem, error) {
	rdb, err := q.client()
	if err != nil {
		return nil, err
	}

	queueID, err := rdb.RPop(ctx, keyPending).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pop pending: %w", err)
	}

	it, err := q.readItem(ctx, rdb, queueID)
	if err != nil {
		return nil, err
	}
	if it == nil {
		log.Printf("queue: dequeued orphan %s (no item hash), skipping", queueID)
		return nil, nil
	}

	if err := rdb.SAdd(ctx, keyRunning, queueID).Err(); err != nil {
		return nil, fmt.Errorf("add running: %w", err)
	}

	now := time.Now().UTC()
	it.Status = StatusRunning
	it.StartedAt = &now
	it.Position = 0
	if err := q.writeItem(ctx, rdb, it); err != nil {
		return nil, err
	}

	q.emit(ctx, rdb, ActionStarted, it)
	return it, nil
}

// Complete reports the result of a checked-out item.  success=true moves it
// to the history list and emits "completed"; success=false records err in
// the failed ordering and emits "failed".  Returns (nil, nil) when the item
// does not exist.
func (q *Queue) Complete(ctx context.Context, queueID string, success bool, errMsg string) (*WorkItem, error) {
	rdb, err := q.client()
	if err != nil {
		return nil, err
	}

	it, err := q.readItem(ctx, rdb, queueID)
	if err != nil {
		return nil, err
	}
	if it == nil {
		return nil, nil
	}

	// Best effort: a concurrent restore may already have pulled the item out
	// of the running set.
	if err := rdb.SRem(ctx, keyRunning, queueID).Err(); err != nil {
		return nil, fmt.Errorf("remove running: %w", err)
	}

	now := time.Now().UTC()
	it.CompletedAt = &now
	it.Position = 0

	if success {
		it.Status = StatusCompleted
		if err := q.writeItem(ctx, rdb, it); err != nil {
			return nil, err
		}
		if err := q.pushHistory(ctx, rdb, queueID); err != nil {
			return nil, err
		}
		q.emit(ctx, rdb, ActionCompleted, it)
		return it, nil
	}

	it.Status = StatusFailed
	it.Error = errMsg
	if err := q.writeItem(ctx, rdb, it); err != nil {
		return nil, err
	}
	z := redis.Z{Score: float64(now.Unix()), Member: queueID}
	if err := rdb.ZAdd(ctx, keyFailed, z).Err(); err != nil {
		return nil, fmt.Errorf("add failed: %w", err)
	}
	q.emit(ctx, rdb, ActionFailed, it)
	return it, nil
}

// Fail is shorthand for Complete(queueID, false, errMsg).
func (q *Queue) Fail(ctx context.Context, queueID, errMsg string) (*WorkItem, error) {
	return q.Complete(ctx, queueID, false, errMsg)
}

// Retry re-admits a failed item.  It is pushed to the tail of the pending
// list — the served-next slot — so a retry takes precedence over waiting
// work.  Returns (nil, nil) when the item is missing or not failed.  Emits
// "retried".
func (q *Queue) Retry(ctx context.Context, queueID string) (*WorkItem, error) {
	rdb, err := q.client()
	if err != nil {
		return nil, err
	}

	it, err := q.readItem(ctx, rdb, queueID)
	if err != nil {
		return nil, err
	}
	if it == nil || it.Status != StatusFailed {
		return nil, nil
	}

	if err := rdb.ZRem(ctx, keyFailed, queueID).Err(); err != nil {
		return nil, fmt.Errorf("remove failed: %w", err)
	}

	it.Status = StatusPending
	it.StartedAt = nil
	it.CompletedAt = nil
	it.Error = ""
	it.RunID = ""
	it.Position = 1
	if err := q.writeItem(ctx, rdb, it); err != nil {
		return nil, err
	}

	if err := rdb.RPush(ctx, keyPending, queueID).Err(); err != nil {
		return nil, fmt.Errorf("push pending: %w", err)
	}

	q.emit(ctx, rdb, ActionRetried, it)
	return it, nil
}

// Cancel removes a pending item from the queue.  Returns false when the item
// is missing or not pending.  Emits "cancelled".
func (q *Queue) Cancel(ctx context.Context, queueID string) (bool, error) {
	rdb, err := q.client()
	if err != nil {
		return false, err
	}

	it, err := q.readItem(ctx, rdb, queueID)
	if err != nil {
		return false, err
	}
	if it == nil || it.Status != StatusPending {
		return false, nil
	}

	if err := rdb.LRem(ctx, keyPending, 0, queueID).Err(); err != nil {
		return false, fmt.Errorf("remove pending: %w", err)
	}

	now := time.Now().UTC()
	it.Status = StatusCancelled
	it.CompletedAt = &now
	it.Position = 0
	if err := q.writeItem(ctx, rdb, it); err != nil {
		return false, err
	}

	q.emit(ctx, rdb, ActionCancelled, it)
	return true, nil
}

// DismissFailed moves a failed item out of the failed panel into history.
// The status stays failed — the move is visibility only.  Returns false when
// the item is missing or not failed.  Emits "dismissed".
func (q *Queue) DismissFailed(ctx context.Context, queueID string) (bool, error) {
	rdb, err := q.client()
	if err != nil {
		return false, err
	}

	it, err := q.readItem(ctx, rdb, queueID)
	if err != nil {
		return false, err
	}
	if it == nil || it.Status != StatusFailed {
		return false, nil
	}

	if err := rdb.ZRem(ctx, keyFailed, queueID).Err(); err != nil {
		return false, fmt.Errorf("remove failed: %w", err)
	}
	if err := q.writeItem(ctx, rdb, it); err != nil { // TTL refresh
		return false, err
	}
	if err := q.pushHistory(ctx, rdb, queueID); err != nil {
		return false, err
	}

	q.emit(ctx, rdb, ActionDismissed, it)
	return true, nil
}

// LinkRunID records the worker's run id on an item mid-execution and emits
// "updated".  A missing item is a silent no-op.
func (q *Queue) LinkRunID(ctx context.Context, queueID, runID string) error {
	rdb, err := q.client()
	if err != nil {
		return err
	}

	it, err := q.readItem(ctx, rdb, queueID)
	if err != nil {
		return err
	}
	if it == nil {
		return nil
	}

	it.RunID = runID
	if err := q.writeItem(ctx, rdb, it); err != nil {
		return err
	}
	q.emit(ctx, rdb, ActionUpdated, it)
	return nil
}

// pushHistory prepends a queueId to the history list and trims it to cap.
func (q *Queue) pushHistory(ctx context.Context, rdb *redis.Client, queueID string) error {
	if err := rdb.LPush(ctx, keyHistory, queueID).Err(); err != nil {
		return fmt.Errorf("push history: %w", err)
	}
	if err := rdb.LTrim(ctx, keyHistory, 0, int64(q.opts.HistoryCap-1)).Err(); err != nil {
		return fmt.Errorf("trim history: %w", err)
	}
	return nil
}

// ---- lookups ----

// GetItem fetches an item by queueId.  Returns (nil, nil) when not found.
func (q *Queue) GetItem(ctx context.Context, queueID string) (*WorkItem, error) {
	rdb, err := q.client()
	if err != nil {
		return nil, err
	}
	return q.readItem(ctx, rdb, queueID)
}

// GetItemByJobID finds the first item carrying jobId.  Scan order is
// running, then pending, then failed (ascending failure time), so an
// in-flight retry wins over an older failed row for the same job.
func (q *Queue) GetItemByJobID(ctx context.Context, jobID string) (*WorkItem, error) {
	rdb, err := q.client()
	if err != nil {
		return nil, err
	}

	running, err := rdb.SMembers(ctx, keyRunning).Result()
	if err != nil {
		return nil, fmt.Errorf("list running: %w", err)
	}
	for _, id := range running {
		it, err := q.readItem(ctx, rdb, id)
		if err != nil {
			return nil, err
		}
		if it != nil && it.JobID == jobID {
			return it, nil
		}
	}

	pending, err := rdb.LRange(ctx, keyPending, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	for i, id := range pending {
		it, err := q.readItem(ctx, rdb, id)
		if err != nil {
			return nil, err
		}
		if it != nil && it.JobID == jobID {
			// Head is index 0; the tail is served next, at position 1.
			it.Position = len(pending) - i
			return it, nil
		}
	}

	failed, err := rdb.ZRange(ctx, keyFailed, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list failed: %w", err)
	}
	for _, id := range failed {
		it, err := q.readItem(ctx, rdb, id)
		if err != nil {
			return nil, err
		}
		if it != nil && it.JobID == jobID {
			return it, nil
		}
	}
	return nil, nil
}

// ---- snapshots ----

// QueueState is a point-in-time view for UI bootstrapping.  Position is
// defined only for items present in the Pending slice.
type QueueState struct {
	Pending []*WorkItem `json:"pending"`
	Running []*WorkItem `json:"running"`
	Failed  []*WorkItem `json:"failed"`
	History []*WorkItem `json:"history"`
	Stats   QueueStats  `json:"stats"`
}

// QueueStats is the aggregate counter triple of a snapshot.
type QueueStats struct {
	TotalPending        int64 `json:"total_pending"`
	TotalRunning        int64 `json:"total_running"`
	TotalFailed         int64 `json:"total_failed"`
	TotalCompletedToday int   `json:"total_completed_today"`
}

// GetState assembles a snapshot: up to pendingLimit soonest-served pending
// items (position 1 first), all running items, the most recent failures and
// completions, and the stats counters.  Membership entries whose hash has
// expired are skipped; CleanupStale removes them later.
func (q *Queue) GetState(ctx context.Context, pendingLimit int) (*QueueState, error) {
	rdb, err := q.client()
	if err != nil {
		return nil, err
	}
	if pendingLimit <= 0 {
		pendingLimit = 50
	}

	st := &QueueState{
		Pending: []*WorkItem{},
		Running: []*WorkItem{},
		Failed:  []*WorkItem{},
		History: []*WorkItem{},
	}

	// The last pendingLimit entries are the ones nearest the tail, i.e. the
	// soonest to be served.  The slice always ends at the tail, so absolute
	// positions count back from its end.
	pending, err := rdb.LRange(ctx, keyPending, int64(-pendingLimit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	for i := len(pending) - 1; i >= 0; i-- {
		it, err := q.readItem(ctx, rdb, pending[i])
		if err != nil {
			return nil, err
		}
		if it == nil {
			continue
		}
		it.Position = len(pending) - i
		st.Pending = append(st.Pending, it)
	}

	running, err := rdb.SMembers(ctx, keyRunning).Result()
	if err != nil {
		return nil, fmt.Errorf("list running: %w", err)
	}
	for _, id := range running {
		it, err := q.readItem(ctx, rdb, id)
		if err != nil {
			return nil, err
		}
		if it != nil {
			st.Running = append(st.Running, it)
		}
	}

	failed, err := rdb.ZRevRange(ctx, keyFailed, 0, int64(q.opts.FailedLimit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list failed: %w", err)
	}
	for _, id := range failed {
		it, err := q.readItem(ctx, rdb, id)
		if err != nil {
			return nil, err
		}
		if it != nil {
			st.Failed = append(st.Failed, it)
		}
	}

	history, err := rdb.LRange(ctx, keyHistory, 0, int64(q.opts.HistoryLimit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	for _, id := range history {
		it, err := q.readItem(ctx, rdb, id)
		if err != nil {
			return nil, err
		}
		if it != nil {
			st.History = append(st.History, it)
		}
	}

	if st.Stats.TotalPending, err = rdb.LLen(ctx, keyPending).Result(); err != nil {
		return nil, fmt.Errorf("pending length: %w", err)
	}
	if st.Stats.TotalRunning, err = rdb.SCard(ctx, keyRunning).Result(); err != nil {
		return nil, fmt.Errorf("running cardinality: %w", err)
	}
	if st.Stats.TotalFailed, err = rdb.ZCard(ctx, keyFailed).Result(); err != nil {
		return nil, fmt.Errorf("failed cardinality: %w", err)
	}
	if st.Stats.TotalCompletedToday, err = q.completedToday(ctx, rdb); err != nil {
		return nil, err
	}
	return st, nil
}

// completedToday counts history entries completed on the current UTC day.
// History is ordered newest first, so the walk stops at the first entry from
// an earlier day.
func (q *Queue) completedToday(ctx context.Context, rdb *redis.Client) (int, error) {
	ids, err := rdb.LRange(ctx, keyHistory, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("list history: %w", err)
	}

	today := time.Now().UTC()
	ty, tm, td := today.Date()

	count := 0
	for _, id := range ids {
		it, err := q.readItem(ctx, rdb, id)
		if err != nil {
			return 0, err
		}
		if it == nil || it.CompletedAt == nil {
			continue
		}
		y, m, d := it.CompletedAt.UTC().Date()
		if y != ty || m != tm || d != td {
			break
		}
		count++
	}
	return count, nil
}

// ---- recovery ----

// RestoreInterruptedRuns moves every running item back to pending, clearing
// its execution state.  Restored items are pushed to the tail of the pending
// list — the served-next slot — the same precedence a retry gets.  Intended
// to run once at startup, before the event listener serves clients; it
// therefore emits no events.
func (q *Queue) RestoreInterruptedRuns(ctx context.Context) ([]*WorkItem, error) {
	rdb, err := q.client()
	if err != nil {
		return nil, err
	}

	ids, err := rdb.SMembers(ctx, keyRunning).Result()
	if err != nil {
		return nil, fmt.Errorf("list running: %w", err)
	}

	var restored []*WorkItem
	for _, id := range ids {
		it, err := q.readItem(ctx, rdb, id)
		if err != nil {
			return restored, err
		}
		if it == nil {
			// Orphan-running; CleanupStale removes it.
			continue
		}

		if err := rdb.SRem(ctx, keyRunning, id).Err(); err != nil {
			return restored, fmt.Errorf("remove running: %w", err)
		}

		it.Status = StatusPending
		it.StartedAt = nil
		it.CompletedAt = nil
		it.Error = ""
		it.RunID = ""
		it.Position = 0
		if err := q.writeItem(ctx, rdb, it); err != nil {
			return restored, err
		}
		if err := rdb.RPush(ctx, keyPending, id).Err(); err != nil {
			return restored, fmt.Errorf("push pending: %w", err)
		}
		restored = append(restored, it)
	}
	return restored, nil
}

// CleanupStats is the per-category breakdown returned by CleanupStale.
type CleanupStats struct {
	OrphanPending int `json:"orphan_pending"`
	TimedOut      int `json:"timed_out"`
	WrongState    int `json:"wrong_state"`
	OrphanRunning int `json:"orphan_running"`
}

// Total sums all categories.
func (s CleanupStats) Total() int {
	return s.OrphanPending + s.TimedOut + s.WrongState + s.OrphanRunning
}

// CleanupStale repairs the membership structures: pending entries without a
// backing hash are dropped, pending items older than maxAge are failed with
// a synthetic timeout error (emitting "failed"), pending entries whose hash
// carries a non-pending status are dropped silently, and running entries
// without a hash are removed from the set.
func (q *Queue) CleanupStale(ctx context.Context, maxAge time.Duration) (CleanupStats, error) {
	var stats CleanupStats
	rdb, err := q.client()
	if err != nil {
		return stats, err
	}

	cutoff := time.Now().UTC().Add(-maxAge)

	pending, err := rdb.LRange(ctx, keyPending, 0, -1).Result()
	if err != nil {
		return stats, fmt.Errorf("list pending: %w", err)
	}
	for _, id := range pending {
		it, err := q.readItem(ctx, rdb, id)
		if err != nil {
			return stats, err
		}

		switch {
		case it == nil:
			if err := rdb.LRem(ctx, keyPending, 0, id).Err(); err != nil {
				return stats, fmt.Errorf("remove pending: %w", err)
			}
			log.Printf("queue: cleanup removed orphan pending entry %s", id)
			stats.OrphanPending++

		case it.Status != StatusPending:
			// Membership out of sync with the hash; drop the list entry.
			if err := rdb.LRem(ctx, keyPending, 0, id).Err(); err != nil {
				return stats, fmt.Errorf("remove pending: %w", err)
			}
			stats.WrongState++

		case it.CreatedAt.Before(cutoff):
			if err := rdb.LRem(ctx, keyPending, 0, id).Err(); err != nil {
				return stats, fmt.Errorf("remove pending: %w", err)
			}
			now := time.Now().UTC()
			it.Status = StatusFailed
			it.Error = fmt.Sprintf("timed out: pending for more than %s", maxAge)
			it.CompletedAt = &now
			it.Position = 0
			if err := q.writeItem(ctx, rdb, it); err != nil {
				return stats, err
			}
			z := redis.Z{Score: float64(now.Unix()), Member: id}
			if err := rdb.ZAdd(ctx, keyFailed, z).Err(); err != nil {
				return stats, fmt.Errorf("add failed: %w", err)
			}
			q.emit(ctx, rdb, ActionFailed, it)
			stats.TimedOut++
		}
	}

	running, err := rdb.SMembers(ctx, keyRunning).Result()
	if err != nil {
		return stats, fmt.Errorf("list running: %w", err)
	}
	for _, id := range running {
		it, err := q.readItem(ctx, rdb, id)
		if err != nil {
			return stats, err
		}
		if it == nil {
			if err := rdb.SRem(ctx, keyRunning, id).Err(); err != nil {
				return stats, fmt.Errorf("remove running: %w", err)
			}
			log.Printf("queue: cleanup removed orphan running entry %s", id)
			stats.OrphanRunning++
		}
	}
	return stats, nil
}

// ClearStats is the breakdown returned by ClearAll.
type ClearStats struct {
	Pending int `json:"pending"`
	Running int `json:"running"`
	Failed  int `json:"failed"`
	History int `json:"history"`
	Items   int `json:"items"`
}

// ClearAll wipes every membership structure and deletes every addressed item
// hash.  Admin-only; publishes no per-item events.
func (q *Queue) ClearAll(ctx context.Context) (ClearStats, error) {
	var stats ClearStats
	rdb, err := q.client()
	if err != nil {
		return stats, err
	}

	pending, err := rdb.LRange(ctx, keyPending, 0, -1).Result()
	if err != nil {
		return stats, fmt.Errorf("list pending: %w", err)
	}
	running, err := rdb.SMembers(ctx, keyRunning).Result()
	if err != nil {
		return stats, fmt.Errorf("list running: %w", err)
	}
	failed, err := rdb.ZRange(ctx, keyFailed, 0, -1).Result()
	if err != nil {
		return stats, fmt.Errorf("list failed: %w", err)
	}
	history, err := rdb.LRange(ctx, keyHistory, 0, -1).Result()
	if err != nil {
		return stats, fmt.Errorf("list history: %w", err)
	}
	stats.Pending = len(pending)
	stats.Running = len(running)
	stats.Failed = len(failed)
	stats.History = len(history)

	seen := make(map[string]struct{})
	var keys []string
	for _, group := range [][]string{pending, running, failed, history} {
		for _, id := range group {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			keys = append(keys, itemKey(id))
		}
	}
	stats.Items = len(keys)

	if len(keys) > 0 {
		if err := rdb.Del(ctx, keys...).Err(); err != nil {
			return stats, fmt.Errorf("delete items: %w", err)
		}
	}
	if err := rdb.Del(ctx, keyPending, keyRunning, keyFailed, keyHistory).Err(); err != nil {
		return stats, fmt.Errorf("delete queue keys: %w", err)
	}
	return stats, nil
}
