package relayer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/vianetwork/bridge-relayer/pkg/config"
	"github.com/vianetwork/bridge-relayer/pkg/db"
	"github.com/vianetwork/bridge-relayer/pkg/indexer"
)

// stopGracePeriod caps how long Stop waits for in-flight iterations.
const stopGracePeriod = 30 * time.Second

// Deps carries the engine's external handles, wired by the supervisor.
type Deps struct {
	Store    Store
	Source   indexer.Source
	Ethereum ChainClient
	Via      ChainClient
}

// Engine runs one worker per (origin, stage) pair across both bridge
// directions.
type Engine struct {
	workers []*Worker
	logger  *zap.Logger

	running  atomic.Bool
	cancel   context.CancelFunc
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewEngine builds the full worker set. The Ethereum direction runs the
// observe, finalize and reconcile stages; the Via direction adds the L2
// batch tracking and vault settlement stages.
func NewEngine(cfg *config.Config, deps Deps, logger *zap.Logger) (*Engine, error) {
	ethCtx := &StageContext{
		Origin:                  db.OriginEthereum,
		Store:                   deps.Store,
		Source:                  deps.Source,
		OriginChain:             deps.Ethereum,
		DestChain:               deps.Via,
		DestBridge:              cfg.Via.Bridge(),
		OriginConfirmations:     cfg.Ethereum.Confirmations,
		DestConfirmations:       cfg.Via.Confirmations,
		WithdrawalConfirmations: cfg.Relayer.WithdrawalFinalizationConfirmations,
		BatchSize:               cfg.Relayer.BatchSize,
		PendingTimeout:          cfg.Relayer.PendingTimeout,
		Logger:                  logger.Named("eth_to_via"),
	}
	viaCtx := &StageContext{
		Origin:                  db.OriginVia,
		Store:                   deps.Store,
		Source:                  deps.Source,
		OriginChain:             deps.Via,
		DestChain:               deps.Ethereum,
		DestBridge:              cfg.Ethereum.Bridge(),
		OriginConfirmations:     cfg.Via.Confirmations,
		DestConfirmations:       cfg.Ethereum.Confirmations,
		WithdrawalConfirmations: cfg.Relayer.WithdrawalFinalizationConfirmations,
		BatchSize:               cfg.Relayer.BatchSize,
		PendingTimeout:          cfg.Relayer.PendingTimeout,
		Logger:                  logger.Named("via_to_eth"),
	}

	ethStages := []Stage{
		StageBridgeInitiated,
		StageBridgeFinalize,
		StageStalePendingReconciler,
	}
	viaStages := []Stage{
		StageBridgeInitiated,
		StageBridgeFinalize,
		StageL1BatchNumber,
		StageVaultControllerUpdate,
		StageWithdrawalStateUpdated,
		StageStalePendingReconciler,
	}
	if cfg.Relayer.L1BatchFinalizationEnabled {
		viaStages = append(viaStages, StageL1BatchFinalized)
	}

	e := &Engine{logger: logger}
	for _, stage := range ethStages {
		h, err := NewHandler(stage, ethCtx)
		if err != nil {
			return nil, err
		}
		e.workers = append(e.workers, NewWorker(h, cfg.Relayer.PollingInterval, ethCtx.Logger))
	}
	for _, stage := range viaStages {
		h, err := NewHandler(stage, viaCtx)
		if err != nil {
			return nil, err
		}
		e.workers = append(e.workers, NewWorker(h, cfg.Relayer.PollingInterval, viaCtx.Logger))
	}
	return e, nil
}

// Start launches every worker. The engine owns a context derived from ctx;
// Stop cancels it.
func (e *Engine) Start(ctx context.Context) error {
	e.logger.Info("Starting relayer engine", zap.Int("workers", len(e.workers)))

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	for _, w := range e.workers {
		w := w
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			w.Run(runCtx)
		}()
	}

	e.running.Store(true)
	e.logger.Info("Relayer engine started")
	return nil
}

// Stop cancels the workers and waits for in-flight iterations, bounded by
// stopGracePeriod. Safe to call more than once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.logger.Info("Stopping relayer engine")
		e.running.Store(false)
		if e.cancel != nil {
			e.cancel()
		}

		done := make(chan struct{})
		go func() {
			e.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			e.logger.Info("Relayer engine stopped")
		case <-time.After(stopGracePeriod):
			e.logger.Warn("Relayer engine stop timed out; abandoning workers",
				zap.Duration("grace_period", stopGracePeriod))
		}
	})
}

// IsReady reports whether the workers are running.
func (e *Engine) IsReady() bool {
	return e.running.Load()
}

// Health snapshots every worker's last iteration.
func (e *Engine) Health() []WorkerStatus {
	statuses := make([]WorkerStatus, 0, len(e.workers))
	for _, w := range e.workers {
		statuses = append(statuses, w.Status())
	}
	return statuses
}
