// Package monitor implements the Block Monitor (C4): a long-running
// polling loop over the Chain Reader that detects index advances,
// tolerates transient errors up to a ceiling, and publishes
// block-discovered events. The event-subscription mechanism (Subscribe/
// Unsubscribe/emit) is adapted from the teacher's sharechain.ShareChain
// (internal/sharechain/chain.go), generalized from share-chain reorg
// events to block-discovery events.
package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Dead-Bytes/kale-pool-pooler/internal/metrics"
	"github.com/Dead-Bytes/kale-pool-pooler/internal/types"
)

// ChainReader is the subset of chainreader.Reader the monitor depends
// on, narrowed to an interface so it can be faked in tests — the same
// boundary-interface idiom as the teacher's sharechain.ShareStore.
type ChainReader interface {
	Read(ctx context.Context) (*types.ChainSnapshot, error)
}

// State is the Block Monitor's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateHalted
)

// Event is published when the monitor discovers a new block. A reorg
// moves the cursor back without publishing an event, so this monitor
// never emits EventReorg.
type Event struct {
	Kind           EventKind
	Snapshot       types.ChainSnapshot
	BlockAgeSec    int64
	Plantable      bool
	IsStartupCheck bool
}

// EventKind distinguishes a newly discovered block from a reorg.
type EventKind int

const (
	EventNewBlock EventKind = iota
	EventReorg
)

// Monitor runs the polling loop described in §4.4.
type Monitor struct {
	reader ChainReader
	logger *zap.Logger

	pollInterval    time.Duration
	initialDelay    time.Duration
	maxErrorCount   int
	startupWindow   time.Duration

	mu                sync.RWMutex
	state             State
	cursor            uint32
	stats             types.MonitorStats
	startupChecked    bool
	startupCheckIndex uint32

	subscribers []chan Event
	subMu       sync.RWMutex
}

// NewMonitor creates a Monitor.
func NewMonitor(reader ChainReader, pollInterval, initialDelay time.Duration, maxErrorCount int, logger *zap.Logger) *Monitor {
	return &Monitor{
		reader:        reader,
		logger:        logger,
		pollInterval:  pollInterval,
		initialDelay:  initialDelay,
		maxErrorCount: maxErrorCount,
		startupWindow: 120 * time.Second,
		state:         StateIdle,
	}
}

// Subscribe returns a channel of Events. The channel is closed and
// removed automatically when ctx is canceled, mirroring the teacher's
// sharechain.Subscribe pattern.
func (m *Monitor) Subscribe(ctx context.Context) chan Event {
	ch := make(chan Event, 16)

	m.subMu.Lock()
	m.subscribers = append(m.subscribers, ch)
	m.subMu.Unlock()

	go func() {
		<-ctx.Done()
		m.unsubscribe(ch)
	}()

	return ch
}

func (m *Monitor) unsubscribe(ch chan Event) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for i, s := range m.subscribers {
		if s == ch {
			m.subscribers = append(m.subscribers[:i], m.subscribers[i+1:]...)
			close(ch)
			return
		}
	}
}

func (m *Monitor) emit(ev Event) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()
	for _, ch := range m.subscribers {
		select {
		case ch <- ev:
		default:
			m.logger.Warn("monitor event channel full, dropping event")
		}
	}
}

// Start seeds the cursor from one chain read, runs the startup discovery
// shortcut, then begins the periodic poll loop. It returns once the
// initial seed read completes; the poll loop continues in a background
// goroutine until ctx is canceled.
func (m *Monitor) Start(ctx context.Context) error {
	snapshot, err := m.reader.Read(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.cursor = snapshot.Index
	m.state = StateRunning
	m.stats.StartTime = time.Now()
	m.mu.Unlock()

	m.maybeStartupShortcut(*snapshot)

	go m.pollLoop(ctx)
	return nil
}

func (m *Monitor) maybeStartupShortcut(snapshot types.ChainSnapshot) {
	if snapshot.Block == nil || snapshot.Block.Timestamp == nil {
		return
	}
	age := time.Since(*snapshot.Block.Timestamp)
	if age >= m.startupWindow {
		return
	}

	m.mu.Lock()
	m.startupChecked = true
	m.startupCheckIndex = snapshot.Index
	m.mu.Unlock()

	m.emit(Event{
		Kind:           EventNewBlock,
		Snapshot:       snapshot,
		BlockAgeSec:    int64(age.Seconds()),
		Plantable:      plantable(age),
		IsStartupCheck: true,
	})
}

func (m *Monitor) pollLoop(ctx context.Context) {
	timer := time.NewTimer(m.initialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			m.poll(ctx)
			m.mu.RLock()
			halted := m.state == StateHalted
			m.mu.RUnlock()
			if halted {
				return
			}
			timer.Reset(m.pollInterval)
		}
	}
}

func (m *Monitor) poll(ctx context.Context) {
	snapshot, err := m.reader.Read(ctx)
	if err != nil {
		m.onPollError(err)
		return
	}

	m.mu.Lock()
	cursor := m.cursor
	m.mu.Unlock()

	switch {
	case snapshot.Index > cursor:
		m.onNewBlock(*snapshot)
	case snapshot.Index < cursor:
		m.onReorg(*snapshot)
	default:
		// no-op
	}

	m.mu.Lock()
	m.stats.ConsecutiveErrorCount = 0
	m.mu.Unlock()
}

func (m *Monitor) onPollError(err error) {
	m.mu.Lock()
	m.stats.ConsecutiveErrorCount++
	count := m.stats.ConsecutiveErrorCount
	halt := count >= m.maxErrorCount
	if halt {
		m.state = StateHalted
	}
	m.mu.Unlock()

	metrics.MonitorErrors.Inc()
	m.logger.Error("block monitor poll failed",
		zap.Error(err),
		zap.Int("consecutive_errors", count),
	)

	if halt {
		metrics.MonitorHalted.Set(1)
		m.logger.Error("block monitor halted: consecutive error ceiling reached",
			zap.Int("max_error_count", m.maxErrorCount),
		)
	}
}

func (m *Monitor) onNewBlock(snapshot types.ChainSnapshot) {
	var age int64
	var ts time.Time
	if snapshot.Block != nil && snapshot.Block.Timestamp != nil {
		ts = *snapshot.Block.Timestamp
		age = int64(time.Since(ts).Seconds())
	} else {
		ts = time.Now()
		age = 0
	}

	event := Event{
		Kind:        EventNewBlock,
		Snapshot:    snapshot,
		BlockAgeSec: age,
		Plantable:   plantable(time.Duration(age) * time.Second),
	}

	// The discovery POST is performed by the caller (Notifier/Coordinator
	// wiring), which reports success back via AdvanceCursor. Per §4.4
	// step 2 and §9's open question, the cursor must not advance on POST
	// failure, so advancing happens out-of-band from emit.
	m.emit(event)
	_ = ts
}

func (m *Monitor) onReorg(snapshot types.ChainSnapshot) {
	m.mu.Lock()
	m.cursor = snapshot.Index
	m.mu.Unlock()

	m.logger.Warn("block monitor detected reorg",
		zap.Uint32("new_index", snapshot.Index),
	)
}

// AdvanceCursor moves the cursor forward after a discovery notification
// has been successfully delivered to the Backend. Must only be called
// with index > current cursor.
func (m *Monitor) AdvanceCursor(index uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index > m.cursor {
		m.cursor = index
		m.stats.TotalBlocksDiscovered++
		m.stats.LastNotificationAt = time.Now()
		metrics.BlocksDiscovered.Inc()
	}
}

// Stats returns a snapshot of the monitor's counters.
func (m *Monitor) Stats() types.MonitorStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// State returns the monitor's current lifecycle state.
func (m *Monitor) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Cursor returns the current block cursor.
func (m *Monitor) Cursor() uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cursor
}

// plantable implements §4.4's 30 <= blockAge < 240 window.
func plantable(age time.Duration) bool {
	sec := age.Seconds()
	return sec >= 30 && sec < 240
}
