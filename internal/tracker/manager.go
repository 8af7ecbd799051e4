package tracker

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/perptrack/internal/domain"
	"github.com/aristath/perptrack/internal/exchanges"
)

// Manager owns the tracker fleet: one tracker per venue adapter.
type Manager struct {
	trackers map[string]*Tracker
	log      zerolog.Logger
}

func NewManager(adapters []exchanges.Adapter, ticks TickWriter, status StatusWriter, cfg Config, log zerolog.Logger) *Manager {
	m := &Manager{
		trackers: make(map[string]*Tracker, len(adapters)),
		log:      log.With().Str("component", "tracker_manager").Logger(),
	}
	for _, a := range adapters {
		m.trackers[a.Name()] = New(a, ticks, status, cfg, log)
	}
	return m
}

// StartAll starts every tracker concurrently. One venue failing to start
// does not stop the others; the first error is returned after all attempts.
func (m *Manager) StartAll(ctx context.Context) error {
	g := new(errgroup.Group)
	for _, t := range m.trackers {
		t := t
		g.Go(func() error {
			if err := t.Start(ctx); err != nil {
				m.log.Error().Err(err).Str("tracker", t.Name()).Msg("Tracker failed to start")
				return err
			}
			return nil
		})
	}
	err := g.Wait()
	m.log.Info().Int("trackers", len(m.trackers)).Msg("Tracker fleet started")
	return err
}

// StopAll stops every tracker, flushing each buffer.
func (m *Manager) StopAll() {
	for _, t := range m.trackers {
		if err := t.Stop(); err != nil {
			m.log.Warn().Err(err).Str("tracker", t.Name()).Msg("Tracker stop reported error")
		}
	}
	m.log.Info().Msg("Tracker fleet stopped")
}

// Get returns the tracker for an exchange id.
func (m *Manager) Get(exchange string) (*Tracker, error) {
	t, ok := m.trackers[exchange]
	if !ok {
		return nil, fmt.Errorf("unknown exchange: %s", exchange)
	}
	return t, nil
}

// Names lists managed exchanges in stable order.
func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.trackers))
	for name := range m.trackers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RestoreState seeds trackers with counters persisted by a previous run.
func (m *Manager) RestoreState(path string) {
	statuses, err := LoadStateFile(path)
	if err != nil {
		m.log.Warn().Err(err).Str("path", path).Msg("No tracker state restored")
		return
	}
	for exchange, st := range statuses {
		if t, ok := m.trackers[exchange]; ok {
			t.seed(st)
		}
	}
	m.log.Info().Int("trackers", len(statuses)).Msg("Tracker state restored")
}

// SaveState persists every tracker's status for the next run.
func (m *Manager) SaveState(path string) {
	statuses := make(map[string]domain.TrackerStatus, len(m.trackers))
	for name, t := range m.trackers {
		statuses[name] = t.Status()
	}
	if err := SaveStateFile(path, statuses); err != nil {
		m.log.Warn().Err(err).Str("path", path).Msg("Failed to save tracker state")
		return
	}
	m.log.Debug().Str("path", path).Msg("Tracker state saved")
}
