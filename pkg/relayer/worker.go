package relayer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vianetwork/bridge-relayer/internal/metrics"
	apperrors "github.com/vianetwork/bridge-relayer/pkg/app/errors"
	"github.com/vianetwork/bridge-relayer/pkg/db"
)

// WorkerStatus is one worker's last-iteration snapshot, served on the health
// endpoint.
type WorkerStatus struct {
	Stage      Stage     `json:"stage"`
	Origin     db.Origin `json:"origin"`
	LastRun    time.Time `json:"last_run"`
	Progressed bool      `json:"progressed"`
	LastError  string    `json:"last_error,omitempty"`
}

// Worker drives one handler: poll again immediately while it progresses,
// sleep one interval otherwise. Cancellation is observed between iterations;
// handlers additionally check it between items.
type Worker struct {
	handler  Handler
	interval time.Duration
	logger   *zap.Logger

	mu   sync.Mutex
	last WorkerStatus
}

// NewWorker wraps a handler in a polling loop.
func NewWorker(handler Handler, interval time.Duration, logger *zap.Logger) *Worker {
	return &Worker{
		handler:  handler,
		interval: interval,
		logger: logger.With(
			zap.String("stage", string(handler.Stage())),
			zap.String("origin", string(handler.Origin()))),
	}
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("Worker started", zap.Duration("interval", w.interval))
	for {
		if ctx.Err() != nil {
			w.logger.Info("Worker stopped")
			return
		}

		started := time.Now()
		progressed, err := w.handler.Handle(ctx)
		metrics.StageDuration.WithLabelValues(string(w.handler.Stage())).Observe(time.Since(started).Seconds())

		outcome := "ok"
		if err != nil {
			outcome = "error"
			w.logger.Error("Stage iteration failed", zap.Error(err))
			metrics.ErrorsTotal.WithLabelValues(string(w.handler.Stage()), apperrors.CategoryOf(err).String()).Inc()
		}
		metrics.StageRunsTotal.WithLabelValues(string(w.handler.Stage()), string(w.handler.Origin()), outcome).Inc()
		w.record(progressed, err)

		if progressed && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			w.logger.Info("Worker stopped")
			return
		case <-time.After(w.interval):
		}
	}
}

func (w *Worker) record(progressed bool, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.last = WorkerStatus{
		Stage:      w.handler.Stage(),
		Origin:     w.handler.Origin(),
		LastRun:    time.Now().UTC(),
		Progressed: progressed,
	}
	if err != nil {
		w.last.LastError = err.Error()
	}
}

// Status returns the last-iteration snapshot.
func (w *Worker) Status() WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}
