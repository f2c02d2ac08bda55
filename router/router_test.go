package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/whisper-darkly/conveyor-backend/config"
	"github.com/whisper-darkly/conveyor-backend/gateway"
	"github.com/whisper-darkly/conveyor-backend/journal"
	"github.com/whisper-darkly/conveyor-backend/queue"
)

func newTestServer(t *testing.T) (*httptest.Server, *queue.Queue) {
	t.Helper()

	mr := miniredis.RunT(t)
	q := queue.New(queue.Options{Addr: mr.Addr()})
	if err := q.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { q.Close() })

	dir := t.TempDir()
	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	jnl, err := journal.Open(filepath.Join(dir, "conveyor.db"))
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	t.Cleanup(func() { jnl.Close() })
	jnl.Attach(q)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	gw := gateway.New(ctx, q, gateway.NewRegistry(time.Minute, time.Minute), 50)

	srv := httptest.NewServer(New(q, gw, jnl, cfg))
	t.Cleanup(srv.Close)
	return srv, q
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp
}

func TestEnqueueJob(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/jobs", map[string]string{
		"job_id":    "j1",
		"job_title": "Engineer",
		"company":   "Acme",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	var it queue.WorkItem
	if err := json.NewDecoder(resp.Body).Decode(&it); err != nil {
		t.Fatal(err)
	}
	if it.QueueID == "" || it.JobID != "j1" || it.Status != queue.StatusPending || it.Position != 1 {
		t.Errorf("created item = %+v", it)
	}
}

func TestEnqueueJobValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/jobs", map[string]string{"job_title": "Engineer"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing job_id status = %d, want 400", resp.StatusCode)
	}
}

func TestGetState(t *testing.T) {
	srv, q := newTestServer(t)

	for _, jobID := range []string{"j1", "j2"} {
		if _, err := q.Enqueue(context.Background(), jobID, "", "", "", ""); err != nil {
			t.Fatal(err)
		}
	}

	var st queue.QueueState
	resp := getJSON(t, srv.URL+"/api/state", &st)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if st.Stats.TotalPending != 2 || len(st.Pending) != 2 {
		t.Errorf("state = %+v", st)
	}

	st = queue.QueueState{}
	getJSON(t, srv.URL+"/api/state?limit=1", &st)
	if len(st.Pending) != 1 || st.Stats.TotalPending != 2 {
		t.Errorf("bounded state = %+v", st)
	}
}

func TestGetItem(t *testing.T) {
	srv, q := newTestServer(t)

	it, err := q.Enqueue(context.Background(), "j1", "", "", "", "")
	if err != nil {
		t.Fatal(err)
	}

	var got queue.WorkItem
	resp := getJSON(t, srv.URL+"/api/jobs/"+it.QueueID, &got)
	if resp.StatusCode != http.StatusOK || got.QueueID != it.QueueID {
		t.Errorf("status = %d, item = %+v", resp.StatusCode, got)
	}

	resp = getJSON(t, srv.URL+"/api/jobs/no-such-id", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing item status = %d, want 404", resp.StatusCode)
	}
}

func TestClearEndpoint(t *testing.T) {
	srv, q := newTestServer(t)

	if _, err := q.Enqueue(context.Background(), "j1", "", "", "", ""); err != nil {
		t.Fatal(err)
	}

	resp := postJSON(t, srv.URL+"/api/queue/clear", struct{}{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var stats queue.ClearStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats.Pending != 1 || stats.Items != 1 {
		t.Errorf("clear stats = %+v", stats)
	}
}

func TestCleanupEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/queue/cleanup", struct{}{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var stats queue.CleanupStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats.Total() != 0 {
		t.Errorf("cleanup on empty queue repaired %d entries", stats.Total())
	}
}

func TestJournalEndpoint(t *testing.T) {
	srv, q := newTestServer(t)

	if _, err := q.Enqueue(context.Background(), "j1", "", "", "", ""); err != nil {
		t.Fatal(err)
	}

	var entries []journal.Entry
	resp := getJSON(t, srv.URL+"/api/journal", &entries)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(entries) != 1 || entries[0].Action != "added" {
		t.Errorf("journal = %+v", entries)
	}
}

func TestHealth(t *testing.T) {
	srv, q := newTestServer(t)

	var body map[string]any
	resp := getJSON(t, srv.URL+"/api/health", &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["status"] != "ok" || body["redis_connected"] != true {
		t.Errorf("health = %+v", body)
	}

	q.Close()
	resp = getJSON(t, srv.URL+"/api/health", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("disconnected health status = %d, want 503", resp.StatusCode)
	}
}
