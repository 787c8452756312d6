package coordinator

import (
	"context"
	"time"

	"github.com/gantryci/gantry/internal/gantry/domain"
	"github.com/gantryci/gantry/internal/gantry/events"
)

// Start launches the monitor loop enforcing worker liveness, job
// deadlines, and cancel confirmation
func (c *Coordinator) Start() {
	go c.monitorLoop()
}

// Stop terminates the monitor loop and unblocks waiting polls
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Coordinator) monitorLoop() {
	ticker := time.NewTicker(c.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.patrol(context.Background(), time.Now())
		case <-c.stop:
			return
		}
	}
}

// patrol is one monitor pass. Order matters: dead workers are handled
// before lease expiry so their jobs fail as worker_lost, not timeout.
func (c *Coordinator) patrol(ctx context.Context, now time.Time) {
	c.expireWorkers(ctx, now)
	c.enforceDeadlines(ctx, now)
	c.expireLeases(ctx, now)
	c.forceFinishCancels(ctx, now)
	c.reapDrained(ctx)
	c.pruneSeenKeys(now)
}

// expireWorkers marks workers offline after the heartbeat timeout and
// fails their leased jobs as worker_lost
func (c *Coordinator) expireWorkers(ctx context.Context, now time.Time) {
	for _, w := range c.workers.List() {
		if w.State == domain.WorkerOffline || !w.HeartbeatExpired(c.cfg.WorkerTimeout, now) {
			continue
		}

		err := c.workers.Update(w.ID, func(w *domain.Worker) error {
			w.State = domain.WorkerOffline
			return nil
		})
		if err != nil {
			continue
		}
		c.logger.Warn("worker lost", "workerId", w.ID, "name", w.Name,
			"lastHeartbeat", w.LastHeartbeat, "leased", len(w.Running))
		c.publishWorker(ctx, events.WorkerOffline, w)

		for _, lease := range c.leasesOf(w.ID) {
			c.failLease(ctx, lease, domain.FailureWorkerLost, "worker stopped heartbeating", now)
		}
	}
}

// enforceDeadlines fails attempts running past their execution timeout
// and tells the worker to stop them
func (c *Coordinator) enforceDeadlines(ctx context.Context, now time.Time) {
	for _, lease := range c.expiredBy(now, func(l *Lease) time.Time { return l.Deadline }) {
		c.failLease(ctx, lease, domain.FailureTimeout, "job exceeded its timeout", now)

		// The worker still runs the process; notify it to stop
		c.mu.Lock()
		c.cancels[lease.WorkerID] = append(c.cancels[lease.WorkerID], lease.JobRunID)
		c.mu.Unlock()
	}
}

// expireLeases catches leases whose expiry passed without the owning
// worker being declared dead, e.g. after a worker re-registered under a
// new identity
func (c *Coordinator) expireLeases(ctx context.Context, now time.Time) {
	for _, lease := range c.expiredBy(now, func(l *Lease) time.Time { return l.ExpiresAt }) {
		c.failLease(ctx, lease, domain.FailureWorkerLost, "lease expired without heartbeat", now)
	}
}

// forceFinishCancels releases leases whose worker never confirmed a stop
// notice within the grace period
func (c *Coordinator) forceFinishCancels(ctx context.Context, now time.Time) {
	type revoked struct {
		workerID string
		jobRunID string
		runID    string
	}

	c.mu.Lock()
	var overdue []revoked
	for id, notice := range c.canceling {
		if notice.deadline.IsZero() || notice.deadline.After(now) {
			continue
		}
		delete(c.canceling, id)
		rv := revoked{workerID: notice.workerID, jobRunID: id}
		if lease, ok := c.leases[id]; ok {
			rv.runID = lease.RunID
			delete(c.leases, id)
		}
		c.dropCancelLocked(notice.workerID, id)
		overdue = append(overdue, rv)
	}
	c.mu.Unlock()

	for _, rv := range overdue {
		c.logger.Warn("cancel unconfirmed, lease force-finished",
			"workerId", rv.workerID, "jobRunId", rv.jobRunID)
		c.releaseWorkerSlot(rv.workerID, rv.jobRunID)
		if rv.runID != "" {
			c.sched.Queue().Release(rv.runID)
		}
	}
}

// reapDrained removes draining workers whose last job has reported
func (c *Coordinator) reapDrained(ctx context.Context) {
	for _, w := range c.workers.List() {
		if w.State != domain.WorkerDraining || len(w.Running) > 0 {
			continue
		}
		c.workers.Remove(w.ID)
		c.logger.Info("drained worker deregistered", "workerId", w.ID)
		c.publishWorker(ctx, events.WorkerDeregistered, w)
	}
}

func (c *Coordinator) pruneSeenKeys(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, at := range c.seenKeys {
		if now.Sub(at) > seenKeyRetention {
			delete(c.seenKeys, key)
		}
	}
}

// failLease revokes a lease and records a platform failure for its job.
// The revocation wins races with a late report: once the lease is gone,
// the worker's report is rejected as stale.
func (c *Coordinator) failLease(ctx context.Context, lease *Lease, kind domain.FailureKind, reason string, now time.Time) {
	c.mu.Lock()
	current, ok := c.leases[lease.JobRunID]
	if !ok || current.ID != lease.ID {
		c.mu.Unlock()
		return
	}
	delete(c.leases, lease.JobRunID)
	delete(c.canceling, lease.JobRunID)
	c.dropCancelLocked(lease.WorkerID, lease.JobRunID)
	c.mu.Unlock()

	c.releaseWorkerSlot(lease.WorkerID, lease.JobRunID)

	if r, ok := c.runs.Get(lease.RunID); ok {
		if ch, err := r.FailJob(lease.Job, kind, reason, now); err == nil {
			c.logger.Warn("leased job failed", "runId", lease.RunID, "job", lease.Job,
				"kind", string(kind), "reason", reason, "workerId", lease.WorkerID)
			c.sched.Queue().Release(lease.RunID)
			c.sched.Apply(ctx, r, ch)
			if !contains(ch.Retried, lease.Job) {
				c.publishJob(ctx, events.JobFinished, r, lease.Job)
			}
			return
		}
	}
	c.sched.Queue().Release(lease.RunID)
}

// leasesOf snapshots the live leases held by one worker
func (c *Coordinator) leasesOf(workerID string) []*Lease {
	c.mu.Lock()
	defer c.mu.Unlock()

	var held []*Lease
	for _, lease := range c.leases {
		if lease.WorkerID == workerID {
			copied := *lease
			held = append(held, &copied)
		}
	}
	return held
}

// expiredBy snapshots leases whose given timestamp lies in the past
func (c *Coordinator) expiredBy(now time.Time, ts func(*Lease) time.Time) []*Lease {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expired []*Lease
	for _, lease := range c.leases {
		if ts(lease).Before(now) {
			copied := *lease
			expired = append(expired, &copied)
		}
	}
	return expired
}
