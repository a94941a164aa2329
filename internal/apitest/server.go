// Package apitest runs an in-process fake of the analyzer API so the
// client stack can be exercised end to end: submit, status, and the
// realtime socket.
package apitest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type Job struct {
	ID           string
	VideoID      string
	VideoURL     string
	State        string // active | completed | failed
	Progress     int
	Result       json.RawMessage
	FailedReason string

	frames chan frame
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type Server struct {
	HTTP *httptest.Server

	// Silent makes the socket accept connections but never confirm
	// them, to exercise the connect-timeout fallback.
	Silent bool
	// NoRealtime rejects socket connections outright.
	NoRealtime bool

	mu           sync.Mutex
	jobs         map[string]*Job
	analyzeCalls int
	lastIdemKey  string
	lastJobID    string
	upgrader     websocket.Upgrader
}

func NewServer() *Server {
	s := &Server{jobs: map[string]*Job{}}

	r := chi.NewRouter()
	r.Post("/api/video/analyze", s.handleAnalyze)
	r.Get("/api/video/status/{id}", s.handleStatus)
	r.Get("/socket", s.handleSocket)

	s.HTTP = httptest.NewServer(r)
	return s
}

func (s *Server) Close() {
	s.HTTP.Close()
}

// BaseURL is what api.NewClient expects.
func (s *Server) BaseURL() string {
	return s.HTTP.URL + "/api"
}

// WSURL is what realtime.Dialer expects.
func (s *Server) WSURL() string {
	return "ws" + strings.TrimPrefix(s.HTTP.URL, "http")
}

func (s *Server) AnalyzeCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.analyzeCalls
}

func (s *Server) LastIdempotencyKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastIdemKey
}

// LastJobID is the id the most recent analyze call produced.
func (s *Server) LastJobID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastJobID
}

// AddJob pre-seeds a job, for resume tests.
func (s *Server) AddJob(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.frames == nil {
		job.frames = make(chan frame, 16)
	}
	s.jobs[job.ID] = job
}

// PushProgress updates the job and forwards a progress frame to any
// attached socket.
func (s *Server) PushProgress(jobID, stage, message string, percentage int) {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if ok {
		job.Progress = percentage
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	s.push(job, "progress", map[string]any{
		"jobId":      jobID,
		"videoId":    job.VideoID,
		"stage":      stage,
		"message":    message,
		"percentage": percentage,
	})
}

// Complete marks the job done and forwards a completed frame.
func (s *Server) Complete(jobID string, result json.RawMessage) {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if ok {
		job.State = "completed"
		job.Result = result
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	s.push(job, "completed", map[string]any{"result": result})
}

// Fail marks the job failed and forwards an error frame.
func (s *Server) Fail(jobID, reason string) {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if ok {
		job.State = "failed"
		job.FailedReason = reason
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	s.push(job, "error", map[string]any{"jobId": jobID, "error": reason})
}

// RemoveJob makes the job unknown to the status endpoint.
func (s *Server) RemoveJob(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, jobID)
}

func (s *Server) push(job *Job, event string, data any) {
	raw, _ := json.Marshal(data)
	select {
	case job.frames <- frame{Event: event, Data: raw}:
	default:
	}
}

// ---- handlers ----

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var dto struct {
		VideoURL string `json:"videoUrl"`
	}
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "invalid json"})
		return
	}

	s.mu.Lock()
	s.analyzeCalls++
	s.lastIdemKey = r.Header.Get("Idempotency-Key")
	job := &Job{
		ID:       uuid.NewString(),
		VideoID:  extractVideoID(dto.VideoURL),
		VideoURL: dto.VideoURL,
		State:    "active",
		frames:   make(chan frame, 16),
	}
	s.jobs[job.ID] = job
	s.lastJobID = job.ID
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    map[string]string{"jobId": job.ID, "videoId": job.VideoID},
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	job, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "job not found"})
		return
	}

	data := map[string]any{"state": job.State, "progress": job.Progress}
	if job.State == "completed" && len(job.Result) > 0 {
		data["returnvalue"] = job.Result
	}
	if job.State == "failed" {
		data["failedReason"] = job.FailedReason
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": data})
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	if s.NoRealtime {
		http.Error(w, "realtime disabled", http.StatusServiceUnavailable)
		return
	}

	jobID := r.URL.Query().Get("jobId")
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	s.mu.Unlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if s.Silent || !ok {
		// hold the connection open without confirming it
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}

	if err := conn.WriteJSON(frame{Event: "connected", Data: json.RawMessage(`{}`)}); err != nil {
		return
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case f := <-job.frames:
			if err := conn.WriteJSON(f); err != nil {
				return
			}
			if f.Event == "completed" || f.Event == "error" {
				return
			}
		case <-closed:
			return
		}
	}
}

func extractVideoID(videoURL string) string {
	u, err := url.Parse(videoURL)
	if err != nil {
		return videoURL
	}
	if v := u.Query().Get("v"); v != "" {
		return v
	}
	return strings.TrimPrefix(u.Path, "/")
}
