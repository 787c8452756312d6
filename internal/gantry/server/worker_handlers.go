package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gantryci/gantry/api"
	"github.com/gantryci/gantry/pkg/errors"
)

// handleRegisterWorker adds an execution agent to the registry
func (s *Server) handleRegisterWorker(w http.ResponseWriter, r *http.Request) {
	log := s.logger.WithField("operation", "RegisterWorker")

	var req api.RegisterWorkerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Warn("unreadable request body", "error", err)
		s.badRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if req.Name == "" {
		s.badRequest(w, "name is required")
		return
	}

	// A worker that cannot run anything would never match a dispatch
	capacity := req.Capacity
	if capacity <= 0 {
		capacity = 1
	}

	wk, err := s.engine.Coordinator().Register(r.Context(), req.Name, req.Tags, capacity)
	if err != nil {
		log.Error("failed to register worker", "name", req.Name, "error", err)
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, workerToAPI(wk))
}

// handleHeartbeat refreshes liveness and returns pending stop notices
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	cancels, err := s.engine.Coordinator().Heartbeat(r.Context(), chi.URLParam(r, "workerID"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	if cancels == nil {
		cancels = []string{}
	}
	s.writeJSON(w, http.StatusOK, api.HeartbeatResponse{Cancels: cancels})
}

// handlePoll long-polls for assignments. An empty body is a plain poll
// bounded by the server's per-poll maximum.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	workerID := chi.URLParam(r, "workerID")

	var req api.PollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.badRequest(w, "invalid JSON body: "+err.Error())
		return
	}

	resp, err := s.engine.Coordinator().Poll(r.Context(), workerID, req.Max)
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := api.PollResponse{
		Assignments: make([]api.Assignment, 0, len(resp.Assignments)),
		Cancels:     resp.Cancels,
	}
	for _, a := range resp.Assignments {
		out.Assignments = append(out.Assignments, assignmentToAPI(a))
	}
	if out.Cancels == nil {
		out.Cancels = []string{}
	}
	s.writeJSON(w, http.StatusOK, out)
}

// handleResult applies a worker's terminal outcome for one attempt
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	workerID := chi.URLParam(r, "workerID")
	log := s.logger.WithFields("operation", "Result", "workerId", workerID)

	var req api.ReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Warn("unreadable request body", "error", err)
		s.badRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if req.JobRunID == "" || req.LeaseID == "" {
		s.badRequest(w, "jobRunId and leaseId are required")
		return
	}

	if err := s.engine.Coordinator().HandleReport(r.Context(), reportFromRequest(workerID, &req)); err != nil {
		log.Warn("report rejected", "jobRunId", req.JobRunID, "error", err)
		s.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	workers := s.engine.ListWorkers()

	out := make([]api.Worker, 0, len(workers))
	for _, wk := range workers {
		out = append(out, workerToAPI(wk))
	}
	s.writeJSON(w, http.StatusOK, out)
}

// handleDeregisterWorker removes a worker, draining it first when it
// still holds leases
func (s *Server) handleDeregisterWorker(w http.ResponseWriter, r *http.Request) {
	workerID := chi.URLParam(r, "workerID")
	log := s.logger.WithFields("operation", "DeregisterWorker", "workerId", workerID)
	log.Debug("deregister request received")

	if err := s.engine.Coordinator().Deregister(r.Context(), workerID); err != nil {
		log.Warn("deregister rejected", "error", err)
		s.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
