package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/gantryci/gantry/api"
	"github.com/gantryci/gantry/internal/gantry/archive"
	"github.com/gantryci/gantry/internal/gantry/definition"
	"github.com/gantryci/gantry/internal/gantry/domain"
	"github.com/gantryci/gantry/internal/gantry/engine"
	"github.com/gantryci/gantry/internal/gantry/events"
)

// handleCreateRun parses the submitted definition and triggers a run
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	log := s.logger.WithField("operation", "CreateRun")

	var req api.CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Warn("unreadable request body", "error", err)
		s.badRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Definition) == "" {
		s.badRequest(w, "definition is required")
		return
	}

	def, err := definition.Parse([]byte(req.Definition))
	if err != nil {
		log.Warn("definition rejected", "error", err)
		s.writeError(w, err)
		return
	}

	source := req.Source
	if source == "" {
		source = "api"
	}

	snap, err := s.engine.CreateRun(r.Context(), def, domain.TriggerContext{
		Ref:       req.Ref,
		Source:    source,
		Variables: req.Variables,
	})
	if err != nil {
		log.Warn("run rejected", "pipeline", def.Name, "error", err)
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, runToAPI(snap))
}

// handleListRuns lists live runs, or archived records with ?archived=true.
// Both forms accept state and limit filters.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.badRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	state := q.Get("state")

	if q.Get("archived") == "true" {
		records, err := s.engine.ListArchivedRuns(r.Context(), &archive.Filter{
			State:    state,
			Pipeline: q.Get("pipeline"),
			Limit:    limit,
		})
		if err != nil {
			s.logger.Error("failed to list archived runs", "error", err)
			s.writeError(w, err)
			return
		}
		out := make([]api.ArchivedRun, 0, len(records))
		for _, rec := range records {
			out = append(out, recordToAPI(rec))
		}
		s.writeJSON(w, http.StatusOK, out)
		return
	}

	runs := s.engine.ListRuns(engine.RunFilter{
		State: state,
		Limit: limit,
	})
	out := make([]api.Run, 0, len(runs))
	for _, snap := range runs {
		out = append(out, runToAPI(snap))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.RunStatus(chi.URLParam(r, "runID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, runToAPI(snap))
}

// handleGetArchivedRun fetches one archived record. Runs archived by an
// earlier process are only reachable here; live runs 404 until they
// settle and the archiver stores them.
func (s *Server) handleGetArchivedRun(w http.ResponseWriter, r *http.Request) {
	rec, err := s.engine.ArchivedRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, recordToAPI(rec))
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	log := s.logger.WithFields("operation", "CancelRun", "runId", runID)
	log.Debug("cancel request received")

	snap, err := s.engine.CancelRun(r.Context(), runID)
	if err != nil {
		log.Warn("cancel rejected", "error", err)
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, runToAPI(snap))
}

func (s *Server) handlePlayJob(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	job := chi.URLParam(r, "job")
	log := s.logger.WithFields("operation", "PlayJob", "runId", runID, "job", job)
	log.Debug("play request received")

	jr, err := s.engine.PlayJob(r.Context(), runID, job)
	if err != nil {
		log.Warn("play rejected", "error", err)
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, jobRunToAPI(jr))
}

func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	job := chi.URLParam(r, "job")
	log := s.logger.WithFields("operation", "RetryJob", "runId", runID, "job", job)
	log.Debug("retry request received")

	jr, err := s.engine.RetryJob(r.Context(), runID, job)
	if err != nil {
		log.Warn("retry rejected", "error", err)
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, jobRunToAPI(jr))
}

func (s *Server) handleJobArtifacts(w http.ResponseWriter, r *http.Request) {
	refs, err := s.engine.JobArtifacts(chi.URLParam(r, "runID"), chi.URLParam(r, "job"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := make([]api.Artifact, 0, len(refs))
	for _, a := range refs {
		out = append(out, artifactToAPI(a))
	}
	s.writeJSON(w, http.StatusOK, out)
}

// handleWatchRun streams the run's lifecycle events as server-sent
// events. The stream ends when the run settles or the client leaves; a
// run resumed by a later explicit retry needs a fresh stream.
func (s *Server) handleWatchRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeJSON(w, http.StatusInternalServerError, api.Error{Error: "streaming unsupported"})
		return
	}

	msgs, cancel, err := s.engine.Watch(r.Context(), runID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, open := <-msgs:
			if !open {
				return
			}

			payload, marshalErr := json.Marshal(watchEventToAPI(msg.Payload))
			if marshalErr != nil {
				s.logger.Error("failed to encode watch event", "runId", runID, "error", marshalErr)
				continue
			}

			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()

			if msg.Payload.Type == string(events.RunFinished) {
				return
			}
		}
	}
}
