package queue

import (
	"testing"
	"time"
)

func TestItemRoundTrip(t *testing.T) {
	started := time.Date(2026, 3, 14, 9, 26, 53, 589000000, time.UTC)
	completed := started.Add(90 * time.Second)

	in := &WorkItem{
		QueueID:        "q-1",
		JobID:          "j-1",
		JobTitle:       "Data Engineer",
		Company:        "Acme",
		Operation:      "apply",
		ProcessingTier: "fast",
		Status:         StatusFailed,
		CreatedAt:      started.Add(-time.Minute),
		StartedAt:      &started,
		CompletedAt:    &completed,
		Error:          "boom",
		RunID:          "run-7",
		Position:       0,
	}

	out := itemFromMap("q-1", in.toMap())

	if out.JobID != in.JobID || out.JobTitle != in.JobTitle || out.Company != in.Company {
		t.Errorf("identity fields lost: got %+v", out)
	}
	if out.Status != StatusFailed {
		t.Errorf("status = %q, want failed", out.Status)
	}
	if !out.CreatedAt.Equal(in.CreatedAt) {
		t.Errorf("createdAt = %v, want %v", out.CreatedAt, in.CreatedAt)
	}
	if out.StartedAt == nil || !out.StartedAt.Equal(started) {
		t.Errorf("startedAt = %v, want %v", out.StartedAt, started)
	}
	if out.CompletedAt == nil || !out.CompletedAt.Equal(completed) {
		t.Errorf("completedAt = %v, want %v", out.CompletedAt, completed)
	}
	if out.Error != "boom" || out.RunID != "run-7" {
		t.Errorf("error/runId lost: %+v", out)
	}
}

func TestItemAbsentOptionals(t *testing.T) {
	in := &WorkItem{QueueID: "q-2", JobID: "j-2", Status: StatusPending, CreatedAt: time.Now().UTC()}
	m := in.toMap()

	if m["started_at"] != "" || m["completed_at"] != "" || m["error"] != "" || m["run_id"] != "" {
		t.Errorf("absent optionals should serialise empty, got %v", m)
	}

	out := itemFromMap("q-2", m)
	if out.StartedAt != nil || out.CompletedAt != nil {
		t.Errorf("empty timestamps should decode to absent, got %+v", out)
	}
}

func TestItemDefaults(t *testing.T) {
	out := itemFromMap("q-3", map[string]string{"job_id": "j-3"})

	if out.Status != StatusPending {
		t.Errorf("status = %q, want default pending", out.Status)
	}
	if out.JobTitle != "Unknown" || out.Company != "Unknown" {
		t.Errorf("jobTitle/company = %q/%q, want Unknown/Unknown", out.JobTitle, out.Company)
	}
	if out.Position != 0 {
		t.Errorf("position = %d, want 0", out.Position)
	}
}

func TestItemParsingIsTotal(t *testing.T) {
	out := itemFromMap("q-4", map[string]string{
		"job_id":       "j-4",
		"created_at":   "not a timestamp",
		"started_at":   "2026-13-45T99:99:99Z",
		"completed_at": "yesterday",
		"position":     "many",
		"some_future":  "ignored",
	})

	if !out.CreatedAt.IsZero() {
		t.Errorf("malformed createdAt should decode to zero, got %v", out.CreatedAt)
	}
	if out.StartedAt != nil || out.CompletedAt != nil {
		t.Errorf("malformed timestamps should decode to absent, got %+v", out)
	}
	if out.Position != 0 {
		t.Errorf("malformed position should default to 0, got %d", out.Position)
	}
}

func TestItemZonelessTimestamp(t *testing.T) {
	out := itemFromMap("q-5", map[string]string{
		"job_id":     "j-5",
		"created_at": "2026-03-14T09:26:53.589123",
	})
	want := time.Date(2026, 3, 14, 9, 26, 53, 589123000, time.UTC)
	if !out.CreatedAt.Equal(want) {
		t.Errorf("createdAt = %v, want %v (naive timestamps are UTC)", out.CreatedAt, want)
	}
}
