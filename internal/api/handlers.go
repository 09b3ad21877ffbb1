package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hivefeed/hivefeed/internal/cadence"
	"github.com/hivefeed/hivefeed/internal/jobs"
	"github.com/hivefeed/hivefeed/internal/models"
	"github.com/hivefeed/hivefeed/internal/store"
)

// maxRequestBodyBytes bounds admin request bodies; personas are text,
// not uploads.
const maxRequestBodyBytes = 1 << 20

// validEnqueueKinds lists the kinds the manual enqueue endpoint accepts.
var validEnqueueKinds = map[string]bool{
	jobs.JobKindAgentCycle:            true,
	jobs.JobKindGenerateContent:       true,
	jobs.JobKindCrewInteraction:       true,
	jobs.JobKindRespondToComment:      true,
	jobs.JobKindRespondToPost:         true,
	jobs.JobKindRecalculateEngagement: true,
	jobs.JobKindOnboardAgent:          true,
}

// Server hosts the administrative HTTP surface: agent onboarding,
// scheduling toggles, manual job enqueue, and introspection. All
// mutations flow through the durable job queue or the store; the server
// itself holds no state.
type Server struct {
	store   store.Store
	planner *cadence.Planner
}

// NewServer creates the admin API server.
func NewServer(st store.Store, planner *cadence.Planner) *Server {
	return &Server{store: st, planner: planner}
}

// Routes registers the server's handlers on the given mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/agents", s.handleAgents)
	mux.HandleFunc("/agents/", s.handleAgentByID)
	mux.HandleFunc("/jobs", s.handleJobs)
	mux.HandleFunc("/jobs/stats", s.handleJobStats)
	mux.HandleFunc("/jobs/", s.handleJobByID)
}

// handleHealth reports process liveness and store reachability.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	if _, err := s.store.GetJobStats(); err != nil {
		slog.Error("Server.handleHealth: store unreachable", "error", err)
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("store unreachable"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("healthy", nil))
}

// handleAgents accepts an onboarding request and enqueues the durable
// onboard_agent job that performs the actual creation.
func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}

	var p jobs.OnboardAgentPayload
	if err := decodeJSONBody(w, r, &p); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON body: "+err.Error()))
		return
	}

	// Validate eagerly so callers get a 400 instead of a dead-lettered job.
	probe := models.Agent{
		Name:             p.Name,
		Persona:          p.Persona,
		PostingFrequency: p.PostingFrequency,
		RhythmProfile:    p.RhythmProfile,
		ActiveStartHour:  p.ActiveStartHour,
		ActiveEndHour:    p.ActiveEndHour,
	}
	if err := probe.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	payload, err := json.Marshal(p)
	if err != nil {
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to encode payload"))
		return
	}
	jobID, err := s.store.EnqueueJob(jobs.JobKindOnboardAgent, "", time.Now(), string(payload), "")
	if err != nil {
		slog.Error("Server.handleAgents: enqueue onboarding failed", "name", p.Name, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to enqueue onboarding"))
		return
	}

	slog.Info("Server.handleAgents: onboarding enqueued", "name", p.Name, "jobID", jobID)
	writeJSONResponse(w, http.StatusAccepted, models.SuccessWithMessage("Onboarding enqueued", map[string]string{"job_id": jobID}))
}

// handleAgentByID routes GET /agents/{id} and POST /agents/{id}/scheduling.
func (s *Server) handleAgentByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/agents/")
	if rest == "" {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Not found"))
		return
	}

	if id, ok := strings.CutSuffix(rest, "/scheduling"); ok {
		s.handleAgentScheduling(w, r, id)
		return
	}
	if strings.Contains(rest, "/") {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Not found"))
		return
	}
	s.handleGetAgent(w, r, rest)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	agent, err := s.store.GetAgent(id)
	if err != nil {
		slog.Error("Server.handleGetAgent: lookup failed", "agentID", id, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to read agent"))
		return
	}
	if agent == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Agent not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(agent))
}

// schedulingRequest is the body of POST /agents/{id}/scheduling.
type schedulingRequest struct {
	Enabled bool `json:"enabled"`
}

// handleAgentScheduling toggles an agent's participation in the cadence
// loop. Enabling computes a fresh next run; disabling leaves next_run_at
// untouched so re-enabling later does not cause an immediate burst.
func (s *Server) handleAgentScheduling(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}

	var req schedulingRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON body: "+err.Error()))
		return
	}

	agent, err := s.store.GetAgent(id)
	if err != nil {
		slog.Error("Server.handleAgentScheduling: lookup failed", "agentID", id, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to read agent"))
		return
	}
	if agent == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Agent not found"))
		return
	}

	var nextRun time.Time
	if req.Enabled {
		nextRun = s.planner.NextRunOnSuccess(*agent, time.Now())
	}
	if err := s.store.SetAgentScheduling(id, req.Enabled, nextRun); err != nil {
		slog.Error("Server.handleAgentScheduling: update failed", "agentID", id, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to update scheduling"))
		return
	}

	slog.Info("Server.handleAgentScheduling: scheduling updated", "agentID", id, "enabled", req.Enabled)
	result := map[string]interface{}{"agent_id": id, "enabled": req.Enabled}
	if req.Enabled {
		result["next_run_at"] = nextRun
	}
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

// enqueueRequest is the body of POST /jobs: a manual, operator-driven
// enqueue of any known job kind.
type enqueueRequest struct {
	Kind      string          `json:"kind"`
	AgentID   string          `json:"agent_id,omitempty"`
	RunAt     *time.Time      `json:"run_at,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	DedupeKey string          `json:"dedupe_key,omitempty"`
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}

	var req enqueueRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON body: "+err.Error()))
		return
	}
	if !validEnqueueKinds[req.Kind] {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(fmt.Sprintf("Unknown job kind: %q", req.Kind)))
		return
	}

	runAt := time.Now()
	if req.RunAt != nil {
		runAt = *req.RunAt
	}
	payload := "{}"
	if len(req.Payload) > 0 {
		payload = string(req.Payload)
	}

	jobID, err := s.store.EnqueueJob(req.Kind, req.AgentID, runAt, payload, req.DedupeKey)
	if err != nil {
		slog.Error("Server.handleJobs: enqueue failed", "kind", req.Kind, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to enqueue job"))
		return
	}

	slog.Info("Server.handleJobs: job enqueued", "kind", req.Kind, "jobID", jobID, "runAt", runAt)
	writeJSONResponse(w, http.StatusAccepted, models.SuccessWithMessage("Job enqueued", map[string]string{"job_id": jobID}))
}

func (s *Server) handleJobStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	stats, err := s.store.GetJobStats()
	if err != nil {
		slog.Error("Server.handleJobStats: stats query failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to read job stats"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(stats))
}

func (s *Server) handleJobByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/jobs/")
	if id == "" || strings.Contains(id, "/") {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Not found"))
		return
	}
	job, err := s.store.GetJob(id)
	if err != nil {
		slog.Error("Server.handleJobByID: lookup failed", "jobID", id, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to read job"))
		return
	}
	if job == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Job not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(job))
}

// decodeJSONBody decodes a size-limited JSON request body into dst,
// rejecting unknown fields so typos surface as errors rather than
// silently dropped settings.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
