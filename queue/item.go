package queue

import (
	"strconv"
	"time"
)

// Status is the persisted lifecycle state of a work item.
type Status string

const (
	// StatusPending means the item is waiting in the pending list to be served.
	StatusPending Status = "pending"

	// StatusRunning means a worker has checked the item out via Dequeue and has
	// not yet reported a result.
	StatusRunning Status = "running"

	// StatusCompleted is terminal; the item also appears in the history list.
	StatusCompleted Status = "completed"

	// StatusFailed is terminal-for-now; only Retry or DismissFailed moves it.
	StatusFailed Status = "failed"

	// StatusCancelled is terminal; the item was removed from pending before a
	// worker picked it up.
	StatusCancelled Status = "cancelled"
)

// WorkItem is the sole persistent entity of the queue.  It is owned by Queue;
// subscribers and gateway sessions receive read-only snapshots.
type WorkItem struct {
	QueueID        string     `json:"queue_id"`
	JobID          string     `json:"job_id"`
	JobTitle       string     `json:"job_title"`
	Company        string     `json:"company"`
	Operation      string     `json:"operation"`
	ProcessingTier string     `json:"processing_tier"`
	Status         Status     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at"`
	Error          string     `json:"error"`
	RunID          string     `json:"run_id"`

	// Position is 1-based distance from the service end of the pending list
	// (1 = next to be served) and 0 everywhere else.  Derived; recomputed on
	// listing.
	Position int `json:"position"`
}

// toMap flattens an item into its Redis hash representation.  The field set
// is fixed for cross-instance compatibility; absent optionals serialise as
// empty strings.  The queueId lives in the key, not the hash.
func (w *WorkItem) toMap() map[string]string {
	return map[string]string{
		"job_id":          w.JobID,
		"job_title":       w.JobTitle,
		"company":         w.Company,
		"status":          string(w.Status),
		"operation":       w.Operation,
		"processing_tier": w.ProcessingTier,
		"created_at":      encodeTime(&w.CreatedAt),
		"started_at":      encodeTime(w.StartedAt),
		"completed_at":    encodeTime(w.CompletedAt),
		"error":           w.Error,
		"run_id":          w.RunID,
		"position":        strconv.Itoa(w.Position),
	}
}

// itemFromMap rebuilds an item from a Redis hash.  Parsing is total: unknown
// keys are ignored, missing keys fall back to defaults, and malformed
// timestamps decode to absent rather than failing the record.
func itemFromMap(queueID string, m map[string]string) *WorkItem {
	w := &WorkItem{
		QueueID:        queueID,
		JobID:          m["job_id"],
		JobTitle:       m["job_title"],
		Company:        m["company"],
		Operation:      m["operation"],
		ProcessingTier: m["processing_tier"],
		Status:         Status(m["status"]),
		Error:          m["error"],
		RunID:          m["run_id"],
	}

	if w.Status == "" {
		w.Status = StatusPending
	}
	if w.JobTitle == "" {
		w.JobTitle = "Unknown"
	}
	if w.Company == "" {
		w.Company = "Unknown"
	}

	if t := decodeTime(m["created_at"]); t != nil {
		w.CreatedAt = *t
	}
	w.StartedAt = decodeTime(m["started_at"])
	w.CompletedAt = decodeTime(m["completed_at"])

	if n, err := strconv.Atoi(m["position"]); err == nil {
		w.Position = n
	}
	return w
}

// encodeTime serialises a timestamp as ISO-8601 in UTC, or "" when absent.
func encodeTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// timeLayouts are accepted on decode.  The zoneless variant covers records
// written by implementations that store naive UTC timestamps.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
}

// decodeTime parses an ISO-8601 timestamp.  Empty or malformed input decodes
// to absent.
func decodeTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
