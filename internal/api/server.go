// Package api exposes the proctoring report service over HTTP and the
// client used by the session runner to talk to it.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/verte-zerg/proctor/internal/model"
	"github.com/verte-zerg/proctor/internal/store"
)

// activeSession tracks a registered, not-yet-ended session.
type activeSession struct {
	SessionID     string    `json:"session_id"`
	CandidateName string    `json:"candidate_name"`
	StartedAt     time.Time `json:"started_at"`
}

// Server is the report service: session lifecycle registry plus report
// persistence and queries.
type Server struct {
	store  *store.Store
	logger *log.Logger

	mu     sync.Mutex
	active map[string]activeSession
}

// NewServer builds a Server backed by the given store. A nil logger
// discards request diagnostics.
func NewServer(st *store.Store, logger *log.Logger) *Server {
	return &Server{
		store:  st,
		logger: logger,
		active: make(map[string]activeSession),
	}
}

// Router builds the HTTP route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/api/session/start", s.handleSessionStart).Methods("POST")
	r.HandleFunc("/api/session/{id}/end", s.handleSessionEnd).Methods("POST")
	r.HandleFunc("/api/session/{id}/report", s.handleSubmitReport).Methods("POST")
	r.HandleFunc("/api/sessions", s.handleActiveSessions).Methods("GET")
	r.HandleFunc("/api/reports", s.handleListReports).Methods("GET")
	r.HandleFunc("/api/reports/stats/summary", s.handleSummary).Methods("GET")
	r.HandleFunc("/api/reports/{id}", s.handleGetReport).Methods("GET")
	r.HandleFunc("/api/reports/{id}", s.handleDeleteReport).Methods("DELETE")
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	count := len(s.active)
	s.mu.Unlock()
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "healthy",
		"active_sessions": count,
	})
}

type startSessionRequest struct {
	SessionID     string `json:"session_id"`
	CandidateName string `json:"candidate_name"`
}

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	req.CandidateName = strings.TrimSpace(req.CandidateName)
	if req.SessionID == "" || req.CandidateName == "" {
		respondError(w, http.StatusBadRequest, "session_id and candidate_name are required")
		return
	}

	s.mu.Lock()
	if _, exists := s.active[req.SessionID]; exists {
		s.mu.Unlock()
		respondError(w, http.StatusConflict, "session already active")
		return
	}
	entry := activeSession{
		SessionID:     req.SessionID,
		CandidateName: req.CandidateName,
		StartedAt:     time.Now().UTC(),
	}
	s.active[req.SessionID] = entry
	s.mu.Unlock()

	s.logf("session started: %s (%s)", req.SessionID, req.CandidateName)
	respondJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleSessionEnd(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.Lock()
	_, exists := s.active[id]
	delete(s.active, id)
	s.mu.Unlock()
	if !exists {
		respondError(w, http.StatusNotFound, "unknown session")
		return
	}

	// The score here is advisory: it reflects a report submitted earlier
	// for the same session id, if any. The runner's own computation from
	// its frozen counters is the one that ends up in the report.
	advisory := 100
	if rep, err := s.store.GetReport(r.Context(), id); err == nil {
		advisory = rep.IntegrityScore
	}

	s.logf("session ended: %s", id)
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id":      id,
		"integrity_score": advisory,
	})
}

func (s *Server) handleSubmitReport(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var rep model.Report
	if err := json.NewDecoder(r.Body).Decode(&rep); err != nil {
		respondError(w, http.StatusBadRequest, "invalid report body")
		return
	}
	if rep.SessionID == "" {
		rep.SessionID = id
	}
	if rep.SessionID != id {
		respondError(w, http.StatusBadRequest, "report session_id does not match path")
		return
	}
	if err := s.store.SaveReport(r.Context(), rep); err != nil {
		s.logf("failed to save report %s: %v", id, err)
		respondError(w, http.StatusInternalServerError, "failed to save report")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"session_id": id, "saved": true})
}

func (s *Server) handleActiveSessions(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	sessions := make([]activeSession, 0, len(s.active))
	for _, entry := range s.active {
		sessions = append(sessions, entry)
	}
	s.mu.Unlock()
	respondJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	reports, total, err := s.store.ListReports(r.Context(), f)
	if err != nil {
		s.logf("failed to list reports: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to list reports")
		return
	}
	if reports == nil {
		reports = []model.Report{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"reports": reports,
		"total":   total,
		"limit":   f.Limit,
		"offset":  f.Offset,
	})
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rep, err := s.store.GetReport(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "report not found")
			return
		}
		s.logf("failed to get report %s: %v", id, err)
		respondError(w, http.StatusInternalServerError, "failed to load report")
		return
	}
	respondJSON(w, http.StatusOK, rep)
}

func (s *Server) handleDeleteReport(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.store.DeleteReport(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "report not found")
			return
		}
		s.logf("failed to delete report %s: %v", id, err)
		respondError(w, http.StatusInternalServerError, "failed to delete report")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"session_id": id, "deleted": true})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.store.Summarize(r.Context())
	if err != nil {
		s.logf("failed to summarize reports: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to summarize reports")
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func filterFromQuery(r *http.Request) (store.Filter, error) {
	q := r.URL.Query()
	f := store.Filter{Candidate: q.Get("candidate")}

	for name, dst := range map[string]**time.Time{"from": &f.From, "to": &f.To} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return store.Filter{}, errors.New(name + " must be RFC3339")
		}
		*dst = &t
	}

	for name, dst := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return store.Filter{}, errors.New(name + " must be a non-negative integer")
		}
		*dst = n
	}
	return f, nil
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		// Best-effort write; the client may have gone away.
		_ = err
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
