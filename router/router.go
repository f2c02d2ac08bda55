// Package router registers all HTTP endpoints using vanilla net/http (Go 1.22+ mux).
package router

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/whisper-darkly/conveyor-backend/config"
	"github.com/whisper-darkly/conveyor-backend/gateway"
	"github.com/whisper-darkly/conveyor-backend/journal"
	"github.com/whisper-darkly/conveyor-backend/queue"
)

// New builds and returns the application HTTP handler.
//
// The WebSocket control channel lives at /ws; everything under /api is the
// admin/producer surface:
//
//	POST /api/jobs            {"job_id":"j1","job_title":"...","company":"..."}
//	GET  /api/state?limit=50
//	POST /api/queue/cleanup
//	POST /api/queue/clear
//	GET  /api/journal?limit=50
func New(q *queue.Queue, gw *gateway.Gateway, jnl *journal.DB, cfg *config.Global) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /ws", gw.HandleWS)

	mux.HandleFunc("POST /api/jobs", enqueueJob(q))
	mux.HandleFunc("GET /api/state", getState(q, cfg))
	mux.HandleFunc("GET /api/jobs/{queueId}", getItem(q))

	// Admin
	mux.HandleFunc("POST /api/queue/cleanup", cleanupStale(q, cfg))
	mux.HandleFunc("POST /api/queue/clear", clearAll(q))
	mux.HandleFunc("GET /api/journal", recentJournal(jnl))

	// System / diagnostics
	mux.HandleFunc("GET /api/health", health(q, gw))

	return mux
}

// ---- response helpers ----

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// ---- handlers ----

func enqueueJob(q *queue.Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			JobID          string `json:"job_id"`
			JobTitle       string `json:"job_title"`
			Company        string `json:"company"`
			Operation      string `json:"operation"`
			ProcessingTier string `json:"processing_tier"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
		if body.JobID == "" {
			writeError(w, http.StatusBadRequest, "job_id is required")
			return
		}
		it, err := q.Enqueue(r.Context(), body.JobID, body.JobTitle, body.Company, body.Operation, body.ProcessingTier)
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, it)
	}
}

func getState(q *queue.Queue, cfg *config.Global) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := cfg.Get().PendingLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				limit = n
			}
		}
		st, err := q.GetState(r.Context(), limit)
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func getItem(q *queue.Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		it, err := q.GetItem(r.Context(), r.PathValue("queueId"))
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		if it == nil {
			writeError(w, http.StatusNotFound, "no such item")
			return
		}
		writeJSON(w, http.StatusOK, it)
	}
}

func cleanupStale(q *queue.Queue, cfg *config.Global) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		maxAge := config.Duration(cfg.Get().StalePendingAge, 60*time.Minute)
		stats, err := q.CleanupStale(r.Context(), maxAge)
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func clearAll(q *queue.Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := q.ClearAll(r.Context())
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func recentJournal(jnl *journal.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				limit = n
			}
		}
		entries, err := jnl.Recent(r.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if entries == nil {
			entries = []journal.Entry{}
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func health(q *queue.Queue, gw *gateway.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connected := q.Connected()

		code := http.StatusOK
		status := "ok"
		if !connected {
			code = http.StatusServiceUnavailable
			status = "redis_disconnected"
		}
		writeJSON(w, code, map[string]any{
			"status":          status,
			"redis_connected": connected,
			"sessions":        gw.Registry().Len(),
			"instance":        q.InstanceID(),
		})
	}
}
