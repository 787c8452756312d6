package server

import (
	"time"

	"github.com/gantryci/gantry/api"
	"github.com/gantryci/gantry/internal/gantry/archive"
	"github.com/gantryci/gantry/internal/gantry/artifact"
	"github.com/gantryci/gantry/internal/gantry/coordinator"
	"github.com/gantryci/gantry/internal/gantry/domain"
	"github.com/gantryci/gantry/internal/gantry/engine"
)

func runToAPI(r *domain.PipelineRun) api.Run {
	out := api.Run{
		ID:         r.ID,
		Pipeline:   r.Pipeline.Name,
		State:      string(r.State),
		Ref:        r.Trigger.Ref,
		Source:     r.Trigger.Source,
		CreatedAt:  r.CreatedAt,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Jobs:       make([]api.JobRun, 0, len(r.Jobs)),
	}

	// Definition order keeps job listings stable across snapshots
	for _, def := range r.Pipeline.Jobs {
		if jr, ok := r.Jobs[def.Name]; ok {
			out.Jobs = append(out.Jobs, jobRunToAPI(jr))
		}
	}
	return out
}

func jobRunToAPI(j *domain.JobRun) api.JobRun {
	return api.JobRun{
		ID:            j.ID,
		Name:          j.Name,
		Stage:         j.Stage,
		State:         string(j.State),
		Attempt:       j.Attempt,
		WorkerID:      j.WorkerID,
		AllowFailure:  j.AllowFailure,
		ManualHold:    j.ManualHold,
		DelayedUntil:  j.DelayedUntil,
		QueuedAt:      j.QueuedAt,
		StartedAt:     j.StartedAt,
		FinishedAt:    j.FinishedAt,
		ExitCode:      j.ExitCode,
		FailureKind:   string(j.FailureKind),
		FailureReason: j.FailureReason,
		SkipOrigin:    string(j.SkipOrigin),
		ArtifactIDs:   j.ArtifactIDs,
	}
}

func workerToAPI(w *domain.Worker) api.Worker {
	return api.Worker{
		ID:            w.ID,
		Name:          w.Name,
		Tags:          w.Tags,
		Capacity:      w.Capacity,
		State:         string(w.State),
		RegisteredAt:  w.RegisteredAt,
		LastHeartbeat: w.LastHeartbeat,
		Running:       w.Running,
	}
}

func artifactToAPI(a *domain.Artifact) api.Artifact {
	out := api.Artifact{
		ID:        a.ID,
		RunID:     a.RunID,
		JobName:   a.JobName,
		Attempt:   a.Attempt,
		Paths:     a.Paths,
		Size:      a.Size,
		StoreKey:  a.StoreKey,
		CreatedAt: a.CreatedAt,
	}
	if !a.ExpiresAt.IsZero() {
		expires := a.ExpiresAt
		out.ExpiresAt = &expires
	}
	return out
}

func assignmentToAPI(a *coordinator.Assignment) api.Assignment {
	out := api.Assignment{
		JobRunID:       a.JobRunID,
		RunID:          a.RunID,
		Job:            a.Job,
		Attempt:        a.Attempt,
		LeaseID:        a.LeaseID,
		Script:         a.Script,
		Variables:      a.Variables,
		TimeoutSeconds: int64(a.Timeout / time.Second),
	}

	if len(a.Inputs) > 0 {
		out.Inputs = make([]api.Artifact, 0, len(a.Inputs))
		for _, in := range a.Inputs {
			out.Inputs = append(out.Inputs, artifactToAPI(in))
		}
	}

	if len(a.Collect.Paths) > 0 {
		decl := &api.ArtifactDecl{
			Paths: a.Collect.Paths,
			When:  string(a.Collect.When),
		}
		if a.Collect.ExpireIn == domain.NeverExpire {
			decl.ExpireInSeconds = -1
		} else {
			decl.ExpireInSeconds = int64(a.Collect.ExpireIn / time.Second)
		}
		out.Collect = decl
	}
	return out
}

func recordToAPI(rec *archive.RunRecord) api.ArchivedRun {
	out := api.ArchivedRun{
		RunID:          rec.RunID,
		Pipeline:       rec.Pipeline,
		Ref:            rec.Ref,
		Source:         rec.Source,
		State:          rec.State,
		CreatedAt:      rec.CreatedAt,
		FinishedAt:     rec.FinishedAt,
		JobsTotal:      rec.JobsTotal,
		JobsSucceeded:  rec.JobsSucceeded,
		JobsFailed:     rec.JobsFailed,
		JobsSkipped:    rec.JobsSkipped,
		FailureSummary: rec.FailureSummary,
	}
	if !rec.StartedAt.IsZero() {
		started := rec.StartedAt
		out.StartedAt = &started
	}
	return out
}

func watchEventToAPI(ev engine.WatchEvent) api.Event {
	return api.Event{
		Type:      ev.Type,
		RunID:     ev.RunID,
		Job:       ev.Job,
		State:     ev.State,
		Attempt:   ev.Attempt,
		Reason:    ev.Reason,
		WorkerID:  ev.WorkerID,
		Timestamp: ev.Timestamp,
	}
}

// reportFromRequest binds the URL's worker ID to the request body,
// yielding the coordinator's report form
func reportFromRequest(workerID string, req *api.ReportRequest) *coordinator.Report {
	rep := &coordinator.Report{
		WorkerID:       workerID,
		RunID:          req.RunID,
		Job:            req.Job,
		JobRunID:       req.JobRunID,
		LeaseID:        req.LeaseID,
		IdempotencyKey: req.IdempotencyKey,
		Success:        req.Success,
		ExitCode:       req.ExitCode,
		FailureReason:  req.FailureReason,
	}
	for _, a := range req.Artifacts {
		rep.Artifacts = append(rep.Artifacts, artifact.ProducedArtifact{
			Paths:    a.Paths,
			Size:     a.Size,
			StoreKey: a.StoreKey,
		})
	}
	return rep
}
