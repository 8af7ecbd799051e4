// Package tracker owns the per-venue runtime: it receives adapter ticks
// into an in-memory buffer, flushes one snapshot per interval into the
// write store, and supervises reconnects.
package tracker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/perptrack/internal/domain"
	"github.com/aristath/perptrack/internal/exchanges"
	"github.com/aristath/perptrack/internal/modules/marketstats"
)

// TickWriter is the slice of the market-stats repository a tracker needs.
type TickWriter interface {
	InsertBatch(ticks []domain.RawTick) error
}

// StatusWriter persists tracker health transitions.
type StatusWriter interface {
	Upsert(status domain.TrackerStatus) error
}

// Config bounds the reconnect policy.
type Config struct {
	ReconnectDelay       time.Duration
	ReconnectMaxAttempts int
}

// Tracker supervises one venue adapter. It is the adapter's Sink: Emit
// upserts the symbol buffer (last write wins within an interval) and the
// snapshot loop flushes the whole buffer atomically.
type Tracker struct {
	adapter exchanges.Adapter
	ticks   TickWriter
	status  StatusWriter
	cfg     Config
	log     zerolog.Logger

	mu             sync.Mutex
	state          domain.TrackerState
	buffer         map[string]domain.RawTick
	lastMessageAt  *int64
	lastError      string
	reconnectCount int
	cancel         context.CancelFunc
	parent         context.Context
}

func New(adapter exchanges.Adapter, ticks TickWriter, status StatusWriter, cfg Config, log zerolog.Logger) *Tracker {
	t := &Tracker{
		adapter: adapter,
		ticks:   ticks,
		status:  status,
		cfg:     cfg,
		log:     log.With().Str("tracker", adapter.Name()).Logger(),
		state:   domain.StateInitialized,
		buffer:  make(map[string]domain.RawTick),
	}
	t.persistLocked()
	return t
}

func (t *Tracker) Name() string { return t.adapter.Name() }

// Start connects the adapter and begins the snapshot loop. Starting a
// running tracker is a no-op; starting a failed or stopped one resets the
// reconnect budget.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.state == domain.StateRunning {
		t.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	t.parent = ctx
	t.cancel = cancel
	t.reconnectCount = 0
	t.lastError = ""
	t.mu.Unlock()

	if err := t.adapter.Start(runCtx, t); err != nil {
		t.mu.Lock()
		t.state = domain.StateError
		t.lastError = err.Error()
		t.persistLocked()
		t.mu.Unlock()
		return err
	}

	t.mu.Lock()
	t.state = domain.StateRunning
	t.persistLocked()
	t.mu.Unlock()

	go t.snapshotLoop(runCtx)
	t.log.Info().Str("kind", string(t.adapter.Kind())).Msg("Tracker started")
	return nil
}

// Stop flushes the buffer one last time and halts the adapter.
func (t *Tracker) Stop() error {
	t.mu.Lock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.state = domain.StateStopped
	t.persistLocked()
	t.mu.Unlock()

	err := t.adapter.Stop()
	t.flush()
	t.log.Info().Msg("Tracker stopped")
	return err
}

// Emit implements exchanges.Sink. Within one snapshot interval the newest
// tick per symbol wins.
func (t *Tracker) Emit(tick domain.RawTick) {
	now := time.Now().UnixMilli()
	t.mu.Lock()
	t.buffer[tick.Symbol] = tick
	t.lastMessageAt = &now
	t.mu.Unlock()
}

// Disconnected implements exchanges.Sink: the adapter lost its connection
// and the tracker owns getting it back.
func (t *Tracker) Disconnected(err error) {
	t.mu.Lock()
	if t.state == domain.StateStopped {
		t.mu.Unlock()
		return
	}
	t.state = domain.StateDisconnected
	if err != nil {
		t.lastError = err.Error()
	}
	t.persistLocked()
	parent := t.parent
	t.mu.Unlock()

	t.log.Warn().Err(err).Msg("Tracker disconnected, scheduling reconnect")
	go t.reconnectLoop(parent)
}

// reconnectLoop retries with a fixed delay until the adapter comes back or
// the attempt budget is spent, at which point the tracker parks in failed
// and waits for a manual start.
func (t *Tracker) reconnectLoop(ctx context.Context) {
	for {
		t.mu.Lock()
		if t.state != domain.StateDisconnected {
			t.mu.Unlock()
			return
		}
		if t.reconnectCount >= t.cfg.ReconnectMaxAttempts {
			t.state = domain.StateFailed
			t.persistLocked()
			t.mu.Unlock()
			t.log.Error().Int("attempts", t.cfg.ReconnectMaxAttempts).Msg("Reconnect budget exhausted, tracker failed")
			return
		}
		t.reconnectCount++
		attempt := t.reconnectCount
		t.persistLocked()
		t.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-time.After(t.cfg.ReconnectDelay):
		}

		runCtx, cancel := context.WithCancel(ctx)
		if err := t.adapter.Start(runCtx, t); err != nil {
			cancel()
			t.mu.Lock()
			t.lastError = err.Error()
			t.persistLocked()
			t.mu.Unlock()
			t.log.Warn().Err(err).Int("attempt", attempt).Msg("Reconnect attempt failed")
			continue
		}

		t.mu.Lock()
		if t.cancel != nil {
			t.cancel()
		}
		t.cancel = cancel
		t.state = domain.StateRunning
		t.persistLocked()
		t.mu.Unlock()

		go t.snapshotLoop(runCtx)
		t.log.Info().Int("attempt", attempt).Msg("Tracker reconnected")
		return
	}
}

func (t *Tracker) snapshotLoop(ctx context.Context) {
	ticker := time.NewTicker(t.adapter.SnapshotInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.flush()
		}
	}
}

// flush swaps the buffer out under the lock and writes the snapshot in one
// batch outside it.
func (t *Tracker) flush() {
	t.mu.Lock()
	if len(t.buffer) == 0 {
		t.mu.Unlock()
		return
	}
	buf := t.buffer
	t.buffer = make(map[string]domain.RawTick, len(buf))
	t.mu.Unlock()

	ticks := make([]domain.RawTick, 0, len(buf))
	for _, tick := range buf {
		if err := marketstats.ValidateTick(&tick); err != nil {
			t.log.Debug().Err(err).Str("symbol", tick.Symbol).Msg("Dropping invalid tick")
			continue
		}
		ticks = append(ticks, tick)
	}
	if len(ticks) == 0 {
		return
	}

	if err := t.ticks.InsertBatch(ticks); err != nil {
		// no retry: the next snapshot carries fresher observations
		t.log.Error().Err(err).Int("ticks", len(ticks)).Msg("Snapshot flush failed")
		t.mu.Lock()
		if t.state == domain.StateRunning {
			t.state = domain.StateError
		}
		t.lastError = err.Error()
		t.persistLocked()
		t.mu.Unlock()
		return
	}

	t.mu.Lock()
	if t.state == domain.StateError {
		t.state = domain.StateRunning
		t.persistLocked()
	}
	t.mu.Unlock()
	t.log.Debug().Int("ticks", len(ticks)).Msg("Snapshot flushed")
}

// Status returns a point-in-time copy of the tracker's health.
func (t *Tracker) Status() domain.TrackerStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statusLocked()
}

func (t *Tracker) statusLocked() domain.TrackerStatus {
	st := domain.TrackerStatus{
		Exchange:       t.adapter.Name(),
		State:          t.state,
		LastError:      t.lastError,
		ReconnectCount: t.reconnectCount,
		UpdatedAt:      time.Now().Unix(),
	}
	if t.lastMessageAt != nil {
		at := *t.lastMessageAt
		st.LastMessageAt = &at
	}
	return st
}

// Debug is the introspection payload behind the tracker debug endpoint.
type Debug struct {
	Exchange       string              `json:"exchange"`
	Kind           string              `json:"kind"`
	State          domain.TrackerState `json:"state"`
	BufferSize     int                 `json:"buffer_size"`
	BufferSymbols  []string            `json:"buffer_symbols"`
	LastMessageAt  *int64              `json:"last_message_at,omitempty"`
	LastError      string              `json:"last_error,omitempty"`
	ReconnectCount int                 `json:"reconnect_count"`
}

func (t *Tracker) DebugInfo() Debug {
	t.mu.Lock()
	defer t.mu.Unlock()

	symbols := make([]string, 0, len(t.buffer))
	for sym := range t.buffer {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	d := Debug{
		Exchange:       t.adapter.Name(),
		Kind:           string(t.adapter.Kind()),
		State:          t.state,
		BufferSize:     len(t.buffer),
		BufferSymbols:  symbols,
		LastError:      t.lastError,
		ReconnectCount: t.reconnectCount,
	}
	if t.lastMessageAt != nil {
		at := *t.lastMessageAt
		d.LastMessageAt = &at
	}
	return d
}

// persistLocked writes the current status row. Callers hold t.mu.
func (t *Tracker) persistLocked() {
	if t.status == nil {
		return
	}
	if err := t.status.Upsert(t.statusLocked()); err != nil {
		t.log.Warn().Err(err).Msg("Failed to persist tracker status")
	}
}

// seed restores persisted counters after a restart.
func (t *Tracker) seed(st domain.TrackerStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reconnectCount = st.ReconnectCount
	t.lastError = st.LastError
	if st.LastMessageAt != nil {
		at := *st.LastMessageAt
		t.lastMessageAt = &at
	}
}
