package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/helixml/memkit/domain/memory"
	"github.com/helixml/memkit/internal/config"
)

// Scheduler runs the maintenance passes on their configured timers: decay,
// layer rebalancing, and a consolidation check. All passes share a single
// goroutine, so no two ever overlap.
type Scheduler struct {
	memories *Memory
	logger   *slog.Logger

	decayInterval         time.Duration
	rebalanceInterval     time.Duration
	consolidationInterval time.Duration
	threshold             int

	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewScheduler creates a Scheduler from config and the memory service.
func NewScheduler(cfg config.MaintenanceConfig, memories *Memory, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		memories:              memories,
		logger:                logger,
		decayInterval:         cfg.DecayInterval(),
		rebalanceInterval:     cfg.RebalanceInterval(),
		consolidationInterval: cfg.ConsolidationCheckInterval(),
		threshold:             cfg.ConsolidationThreshold(),
	}
}

// Start begins maintenance in a background goroutine. The first run of each
// pass happens one full interval after startup.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Go(func() {
		s.run(ctx)
	})

	s.logger.Info("maintenance scheduler started",
		slog.Duration("decay_interval", s.decayInterval),
		slog.Duration("rebalance_interval", s.rebalanceInterval),
		slog.Duration("consolidation_interval", s.consolidationInterval),
	)
}

// Stop cancels the background goroutine and waits for any in-flight pass to
// finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.logger.Info("maintenance scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	decay := time.NewTicker(s.decayInterval)
	defer decay.Stop()
	rebalance := time.NewTicker(s.rebalanceInterval)
	defer rebalance.Stop()
	consolidation := time.NewTicker(s.consolidationInterval)
	defer consolidation.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-decay.C:
			s.runTask(ctx, "decay", s.memories.ApplyDecay)
		case <-rebalance.C:
			s.runTask(ctx, "rebalance", s.memories.RebalanceLayers)
		case <-consolidation.C:
			s.runTask(ctx, "consolidation check", s.checkConsolidation)
		}
	}
}

// runTask isolates one maintenance pass so a failure never stops the
// scheduler.
func (s *Scheduler) runTask(ctx context.Context, name string, task func(context.Context) error) {
	if err := task(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("maintenance task failed",
			slog.String("task", name),
			slog.String("error", err.Error()),
		)
	}
}

// checkConsolidation consolidates short-term memory once its record count
// exceeds the configured threshold.
func (s *Scheduler) checkConsolidation(ctx context.Context) error {
	records, err := s.memories.List(ctx, memory.NewListOptions().
		WithLayer(memory.LayerShortTerm).
		WithLimit(memory.ListCap))
	if err != nil {
		return err
	}
	if len(records) <= s.threshold {
		s.logger.Debug("consolidation not needed",
			slog.Int("short_term", len(records)),
			slog.Int("threshold", s.threshold),
		)
		return nil
	}

	result, err := s.memories.Consolidate(ctx, memory.NewConsolidateOptions().
		WithLayer(memory.LayerShortTerm).
		WithTargetSize(s.threshold))
	if err != nil {
		return err
	}

	s.logger.Info("threshold consolidation finished",
		slog.Int("short_term", len(records)),
		slog.Int("consolidated", len(result.Consolidated())),
		slog.Int("deleted", result.DeletedCount()),
	)
	return nil
}
