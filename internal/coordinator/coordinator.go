// Package coordinator implements the Coordinator (C6): accepts inbound
// planting notifications, dispatches each to the Work Scheduler as an
// independent background task, and forwards the resulting completion
// report to the Notifier. The background-task-per-notification shape
// and the pending/active map bookkeeping follow the teacher's node.go
// (separate goroutines per concern, coarse mutex-guarded maps) adapted
// from p2p sync bookkeeping to per-block batch bookkeeping.
package coordinator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Dead-Bytes/kale-pool-pooler/internal/types"
)

// WorkScheduler is the subset of scheduler.Scheduler the coordinator
// depends on.
type WorkScheduler interface {
	Run(ctx context.Context, n *types.PlantingNotification) (*types.BlockWorkBatch, error)
}

// CompletionReporter is the subset of notifier.Notifier the coordinator
// depends on for outbound completion reports.
type CompletionReporter interface {
	ReportWorkCompleted(ctx context.Context, batch *types.BlockWorkBatch) error
}

// Coordinator owns pendingByBlock/activeByBlock for the lifetime of each
// block's work cycle.
type Coordinator struct {
	scheduler WorkScheduler
	reporter  CompletionReporter
	logger    *zap.Logger

	mu             sync.Mutex
	pendingByBlock map[uint32]*types.PlantingNotification
	activeByBlock  map[uint32]context.CancelFunc

	wg sync.WaitGroup
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(scheduler WorkScheduler, reporter CompletionReporter, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		scheduler:      scheduler,
		reporter:       reporter,
		logger:         logger,
		pendingByBlock: make(map[uint32]*types.PlantingNotification),
		activeByBlock:  make(map[uint32]context.CancelFunc),
	}
}

// ReceivePlantingNotification implements §4.6. Validation failures are
// logged and dropped — the Backend is trusted, so the caller still
// replies 200 OK (that decision lives in the HTTP handler, not here).
func (c *Coordinator) ReceivePlantingNotification(ctx context.Context, n *types.PlantingNotification) error {
	if len(n.PlantedFarmers) == 0 {
		c.logger.Warn("dropping planting notification with no farmers",
			zap.Uint32("block_index", n.BlockIndex),
		)
		return &types.InvalidNotification{Reason: "plantedFarmers is empty"}
	}

	c.mu.Lock()
	c.pendingByBlock[n.BlockIndex] = n
	taskCtx, cancel := context.WithCancel(ctx)
	c.activeByBlock[n.BlockIndex] = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go c.runBlock(taskCtx, cancel, n)

	return nil
}

func (c *Coordinator) runBlock(ctx context.Context, cancel context.CancelFunc, n *types.PlantingNotification) {
	defer c.wg.Done()
	defer cancel()
	defer c.clearBlock(n.BlockIndex)

	started := time.Now()
	batch, err := c.scheduler.Run(ctx, n)
	if err != nil {
		c.logger.Error("work scheduler run failed",
			zap.Uint32("block_index", n.BlockIndex),
			zap.Error(err),
		)
		return
	}
	if ctx.Err() != nil {
		c.logger.Warn("discarding block work results after emergency stop",
			zap.Uint32("block_index", n.BlockIndex),
		)
		return
	}

	c.logger.Info("block work cycle complete",
		zap.Uint32("block_index", n.BlockIndex),
		zap.Int("farmers", len(batch.Results)),
		zap.Duration("elapsed", time.Since(started)),
	)

	reportCtx, reportCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer reportCancel()
	if err := c.reporter.ReportWorkCompleted(reportCtx, batch); err != nil {
		c.logger.Error("failed to report work completion to backend",
			zap.Uint32("block_index", n.BlockIndex),
			zap.Error(err),
		)
	}
}

func (c *Coordinator) clearBlock(blockIndex uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pendingByBlock, blockIndex)
	delete(c.activeByBlock, blockIndex)
}

// PendingBlocks returns the block indices currently awaiting or
// undergoing a work cycle, for the /status/work endpoint.
func (c *Coordinator) PendingBlocks() []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	indices := make([]uint32, 0, len(c.pendingByBlock))
	for idx := range c.pendingByBlock {
		indices = append(indices, idx)
	}
	return indices
}

// Stop cancels every active block task and waits for them to unwind,
// implementing §5's emergency-stop semantics. A block task whose context
// was canceled by Stop discards its results instead of sending a
// completion report.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	for _, cancel := range c.activeByBlock {
		cancel()
	}
	c.pendingByBlock = make(map[uint32]*types.PlantingNotification)
	c.mu.Unlock()

	c.wg.Wait()
}
