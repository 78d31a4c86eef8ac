// Package pooler wires the block monitor, scheduler, coordinator,
// relay submitter, miner runner and inbound/outbound HTTP surfaces into
// one process, and owns its Start/Stop lifecycle. The shape — a single
// struct holding every subsystem, a context-canceling Stop, and a
// goroutine relaying monitor events to the outbound Notifier — follows the teacher's internal/node.Node (construction in
// NewNode, wiring in Start, central dispatch in eventLoop).
package pooler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Dead-Bytes/kale-pool-pooler/internal/api"
	"github.com/Dead-Bytes/kale-pool-pooler/internal/chainreader"
	"github.com/Dead-Bytes/kale-pool-pooler/internal/chainrpc"
	"github.com/Dead-Bytes/kale-pool-pooler/internal/config"
	"github.com/Dead-Bytes/kale-pool-pooler/internal/coordinator"
	"github.com/Dead-Bytes/kale-pool-pooler/internal/miner"
	"github.com/Dead-Bytes/kale-pool-pooler/internal/monitor"
	"github.com/Dead-Bytes/kale-pool-pooler/internal/notifier"
	"github.com/Dead-Bytes/kale-pool-pooler/internal/relay"
	"github.com/Dead-Bytes/kale-pool-pooler/internal/scheduler"
)

// Pooler owns every subsystem for the process lifetime.
type Pooler struct {
	cfg    *config.Config
	logger *zap.Logger

	rpc         *chainrpc.Client
	reader      *chainreader.Reader
	monitor     *monitor.Monitor
	minerRunner *miner.Runner
	submitter   *relay.Submitter
	scheduler   *scheduler.Scheduler
	notifier    *notifier.Notifier
	coordinator *coordinator.Coordinator
	httpServer  *http.Server

	cancel context.CancelFunc
}

// NewPooler constructs every subsystem and wires them together, but
// does not start any background work.
func NewPooler(cfg *config.Config, logger *zap.Logger) *Pooler {
	rpc := chainrpc.NewClient(cfg.RPCURL)
	reader := chainreader.NewReader(rpc, cfg.ContractID, logger)
	mon := monitor.NewMonitor(reader, cfg.BlockPollInterval, cfg.InitialBlockCheckDelay, cfg.MaxErrorCount, logger)

	minerRunner := miner.NewRunner(cfg.KaleFarmerBin, cfg.MinerTimeout, logger)

	submitter := relay.NewSubmitter(rpc, relay.Config{
		RelayURL:   cfg.LaunchtubeURL,
		RelayJWT:   cfg.LaunchtubeJWT,
		ContractID: cfg.ContractID,
		Attempts:   cfg.RetryAttempts,
		Backoff:    cfg.RetryBackoff,
	}, logger)

	sched := scheduler.NewScheduler(minerRunner, submitter, cfg.PlantDelay, cfg.WorkDelay, cfg.DefaultNonceCount, cfg.MaxRecoveryAttempts, logger)

	notif := notifier.NewNotifier(cfg.BackendAPIURL, cfg.PoolerID, cfg.PoolerAuthToken, cfg.BackendTimeout, logger)

	coord := coordinator.NewCoordinator(sched, notif, logger)

	apiServer := api.NewServer(mon, coord, minerRunner, cfg.PoolerAuthToken, cfg.MaxErrorCount, logger)

	return &Pooler{
		cfg:         cfg,
		logger:      logger,
		rpc:         rpc,
		reader:      reader,
		monitor:     mon,
		minerRunner: minerRunner,
		submitter:   submitter,
		scheduler:   sched,
		notifier:    notif,
		coordinator: coord,
		httpServer: &http.Server{
			Addr:    fmtAddr(cfg.PoolerPort),
			Handler: apiServer.Handler(),
		},
	}
}

// Start seeds the block monitor, begins relaying its events to the
// Backend, and starts the inbound HTTP server.
func (p *Pooler) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	events := p.monitor.Subscribe(ctx)

	if err := p.monitor.Start(ctx); err != nil {
		cancel()
		return err
	}

	go p.relayMonitorEvents(ctx, events)

	go func() {
		p.logger.Info("inbound http server listening", zap.String("addr", p.httpServer.Addr))
		if err := p.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			p.logger.Error("http server stopped unexpectedly", zap.Error(err))
		}
	}()

	return nil
}

// relayMonitorEvents is the pooler's equivalent of node.go's eventLoop:
// a single goroutine that dispatches monitor events to the outbound
// Notifier and, on success, advances the cursor.
func (p *Pooler) relayMonitorEvents(ctx context.Context, events <-chan monitor.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			p.handleMonitorEvent(ctx, ev)
		}
	}
}

func (p *Pooler) handleMonitorEvent(ctx context.Context, ev monitor.Event) {
	if ev.Kind != monitor.EventNewBlock || ev.Snapshot.Block == nil {
		return
	}

	var err error
	if ev.IsStartupCheck {
		err = p.notifier.ReportStartupDiscovery(ctx, *ev.Snapshot.Block, ev.BlockAgeSec)
	} else {
		err = p.notifier.ReportBlockDiscovered(ctx, *ev.Snapshot.Block, ev.BlockAgeSec, ev.Plantable, p.monitor.Stats().TotalBlocksDiscovered)
	}

	if err != nil {
		// §4.4 step 2 / §9: a failed discovery POST must not advance the
		// cursor, so the next poll re-attempts the same index.
		p.logger.Error("discovery post failed, cursor will not advance",
			zap.Uint32("block_index", ev.Snapshot.Index),
			zap.Error(err),
		)
		return
	}

	if !ev.IsStartupCheck {
		p.monitor.AdvanceCursor(ev.Snapshot.Index)
	}
}

// Stop implements the process-wide shutdown sequence from §5: stop
// accepting new inbound requests, cancel background work, kill any live
// miner child, and wait (bounded) for in-flight scheduler tasks.
func (p *Pooler) Stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := p.httpServer.Shutdown(shutdownCtx); err != nil {
		p.logger.Warn("http server shutdown error", zap.Error(err))
	}

	if p.cancel != nil {
		p.cancel()
	}

	// Stop the coordinator first: it cancels each active block's context,
	// which is what actually unblocks exec.CommandContext inside a live
	// miner invocation. Kill() is a non-blocking belt-and-suspenders signal
	// for the child the cancellation is already terminating.
	done := make(chan struct{})
	go func() {
		p.coordinator.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		p.logger.Warn("timed out waiting for in-flight block work to unwind")
	}
	p.minerRunner.Kill()
}

func fmtAddr(port int) string {
	return ":" + strconv.Itoa(port)
}
