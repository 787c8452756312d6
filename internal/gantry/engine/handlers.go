package engine

import (
	"context"
	"sync"
	"time"

	"github.com/gantryci/gantry/internal/gantry/archive"
	"github.com/gantryci/gantry/internal/gantry/events"
	"github.com/gantryci/gantry/internal/gantry/pubsub"
	"github.com/gantryci/gantry/internal/gantry/store"
	"github.com/gantryci/gantry/pkg/errors"
	"github.com/gantryci/gantry/pkg/logger"
)

// WatchEvent is the flattened, JSON-ready form of one run lifecycle event
// as delivered on the watch stream
type WatchEvent struct {
	Type      string    `json:"type"`
	RunID     string    `json:"runId"`
	Job       string    `json:"job,omitempty"`
	State     string    `json:"state,omitempty"`
	Attempt   int       `json:"attempt,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	WorkerID  string    `json:"workerId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// watchTopic names the per-run pubsub topic carrying that run's events
func watchTopic(runID string) string {
	return "runs/" + runID
}

// watchBridge forwards bus events onto the per-run watch topics
type watchBridge struct {
	watch  pubsub.PubSub[WatchEvent]
	logger *logger.Logger
}

func (b *watchBridge) SupportedEvents() []events.EventType {
	return []events.EventType{
		events.RunCreated,
		events.RunFinished,
		events.JobEligible,
		events.JobManual,
		events.JobDelayed,
		events.JobDispatched,
		events.JobRetried,
		events.JobSkipped,
		events.JobFinished,
	}
}

func (b *watchBridge) Handle(ctx context.Context, event events.Event) error {
	if event.RunID == "" {
		return nil
	}

	we := WatchEvent{
		Type:      string(event.Type),
		RunID:     event.RunID,
		Job:       event.Job,
		WorkerID:  event.WorkerID,
		Timestamp: time.Unix(event.Timestamp, 0),
	}

	switch data := event.Data.(type) {
	case events.RunEventData:
		we.State = string(data.State)
	case events.JobEventData:
		we.State = string(data.State)
		we.Attempt = data.Attempt
		we.Reason = data.Reason
		if we.Reason == "" && data.FailureKind != "" {
			we.Reason = string(data.FailureKind)
		}
	}

	if err := b.watch.Publish(ctx, watchTopic(event.RunID), we); err != nil {
		b.logger.Debug("watch publish failed", "runId", event.RunID, "error", err)
	}
	return nil
}

// archiveWriteTimeout bounds one backend write so a slow archive cannot
// jam the writer loop
const archiveWriteTimeout = 10 * time.Second

// archiveWriter persists finished runs asynchronously. Writes are
// fire-and-forget: a full queue drops the record rather than blocking the
// scheduler's fan-out, and the shutdown export sweeps up what was missed.
type archiveWriter struct {
	backend archive.Backend
	runs    store.RunStorer
	logger  *logger.Logger

	pending  chan string
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// newArchiveWriter starts the writer loop. queueSize caps how many
// finished runs may wait for archival (0 = 64).
func newArchiveWriter(backend archive.Backend, runs store.RunStorer, queueSize int, log *logger.Logger) *archiveWriter {
	if queueSize <= 0 {
		queueSize = 64
	}

	w := &archiveWriter{
		backend: backend,
		runs:    runs,
		logger:  log.WithField("component", "archiver"),
		pending: make(chan string, queueSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *archiveWriter) SupportedEvents() []events.EventType {
	return []events.EventType{events.RunFinished}
}

// Handle queues the finished run for archival without blocking the
// publisher
func (w *archiveWriter) Handle(ctx context.Context, event events.Event) error {
	select {
	case w.pending <- event.RunID:
	default:
		w.logger.Warn("archive queue full, record deferred to shutdown export", "runId", event.RunID)
	}
	return nil
}

// Close stops the writer loop after draining queued records
func (w *archiveWriter) Close() {
	w.stopOnce.Do(func() {
		close(w.stop)
	})
	<-w.done
}

func (w *archiveWriter) loop() {
	defer close(w.done)

	for {
		select {
		case runID := <-w.pending:
			w.write(runID)
		case <-w.stop:
			for {
				select {
				case runID := <-w.pending:
					w.write(runID)
				default:
					return
				}
			}
		}
	}
}

// write summarizes the run and puts it to the backend. A record that
// already exists is rewritten through the upsert path: an explicit retry
// can resume a finished run, and its final state wins.
func (w *archiveWriter) write(runID string) {
	r, ok := w.runs.Get(runID)
	if !ok {
		w.logger.Debug("finished run vanished before archival", "runId", runID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), archiveWriteTimeout)
	defer cancel()

	rec := archive.Summarize(r.Snapshot())
	err := w.backend.Put(ctx, rec)
	if errors.Is(err, archive.ErrRecordExists) {
		w.logger.Debug("rewriting archive record for resumed run", "runId", runID)
		err = w.backend.Export(ctx, []*archive.RunRecord{rec})
	}
	if err != nil {
		w.logger.Error("archive write failed", "runId", runID, "error", err)
		return
	}

	w.logger.Info("run archived", "runId", runID, "state", rec.State)
}
