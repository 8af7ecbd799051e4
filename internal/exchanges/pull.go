package exchanges

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/perptrack/internal/domain"
)

// pollFunc fetches one round of ticks for every active instrument. It is
// called with a per-call timeout already applied.
type pollFunc func(ctx context.Context, client *http.Client) ([]domain.RawTick, error)

// pullVenue is what a polled venue supplies: its id, cadence, and poll
// implementation.
type pullVenue struct {
	name             string
	pollInterval     time.Duration
	snapshotInterval time.Duration
	poll             pollFunc
}

// pullAdapter runs one polled venue. A timeout is a skipped poll; any other
// error tears the loop down and surfaces a disconnect so the tracker can
// restart it after backoff.
type pullAdapter struct {
	venue  pullVenue
	client *http.Client
	log    zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
}

func newPullAdapter(venue pullVenue, log zerolog.Logger) *pullAdapter {
	return &pullAdapter{
		venue:  venue,
		client: &http.Client{Timeout: pullCallTimeout},
		log:    log.With().Str("adapter", venue.name).Logger(),
	}
}

func (a *pullAdapter) Name() string                    { return a.venue.name }
func (a *pullAdapter) Kind() Kind                      { return KindPull }
func (a *pullAdapter) SnapshotInterval() time.Duration { return a.venue.snapshotInterval }

// Start begins the polling loop. Idempotent while running.
func (a *pullAdapter) Start(ctx context.Context, sink Sink) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.started = true
	a.mu.Unlock()

	go a.loop(loopCtx, sink)
	return nil
}

// Stop cancels the polling loop.
func (a *pullAdapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.started = false
	return nil
}

func (a *pullAdapter) loop(ctx context.Context, sink Sink) {
	ticker := time.NewTicker(a.venue.pollInterval)
	defer ticker.Stop()

	// first round immediately, then on the ticker
	if !a.pollOnce(ctx, sink) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !a.pollOnce(ctx, sink) {
				return
			}
		}
	}
}

// pollOnce runs one poll round. Returns false when the loop must stop.
func (a *pullAdapter) pollOnce(ctx context.Context, sink Sink) bool {
	callCtx, cancel := context.WithTimeout(ctx, pullCallTimeout)
	ticks, err := a.venue.poll(callCtx, a.client)
	cancel()

	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		if isTimeout(err) {
			// timeout = skipped poll, try again next tick
			a.log.Warn().Err(err).Msg("Poll timed out, skipping round")
			return true
		}
		a.log.Warn().Err(err).Msg("Poll failed, surfacing disconnect")
		a.Stop()
		sink.Disconnected(err)
		return false
	}

	for _, t := range ticks {
		sink.Emit(t)
	}
	return true
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// getJSON fetches a URL and decodes its JSON body into out.
func getJSON(ctx context.Context, client *http.Client, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", url, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed for %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d from %s: %s", resp.StatusCode, url, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", url, err)
	}
	return nil
}

// instrumentCache serves a venue's active-instruments list, refreshing it
// at most once per hour.
type instrumentCache struct {
	mu      sync.Mutex
	fetched time.Time
	items   []string
	refresh func(ctx context.Context, client *http.Client) ([]string, error)
}

func newInstrumentCache(refresh func(ctx context.Context, client *http.Client) ([]string, error)) *instrumentCache {
	return &instrumentCache{refresh: refresh}
}

// get returns the cached list, refreshing when stale. A refresh failure
// with a warm cache serves the stale list instead of failing the poll.
func (c *instrumentCache) get(ctx context.Context, client *http.Client) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if time.Since(c.fetched) < instrumentRefresh && len(c.items) > 0 {
		return c.items, nil
	}

	items, err := c.refresh(ctx, client)
	if err != nil {
		if len(c.items) > 0 {
			return c.items, nil
		}
		return nil, err
	}

	c.items = items
	c.fetched = time.Now()
	return items, nil
}
