package exchanges

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/aristath/perptrack/internal/domain"
)

const (
	writeWait   = 10 * time.Second
	dialTimeout = 30 * time.Second
)

// wsVenue is what a subscription venue supplies on top of the shared
// websocket machinery: its URL, its subscribe payload(s), its message
// parser, and optionally an app-level keepalive payload.
type wsVenue struct {
	name             string
	url              string
	snapshotInterval time.Duration
	// subscribeMessages are sent in order right after the dial succeeds
	subscribeMessages func() [][]byte
	// handleMessage parses one frame into zero or more ticks. Parse errors
	// are logged and the frame is dropped; they never kill the connection.
	handleMessage func(msg []byte, emit func(domain.RawTick)) error
	// keepalivePayload, when non-nil, is written every 30s
	keepalivePayload []byte
}

// wsAdapter runs one subscription venue over nhooyr websocket. One instance
// serves one tracker; Start after a disconnect dials fresh.
type wsAdapter struct {
	venue wsVenue
	log   zerolog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	cancel  context.CancelFunc
	started bool

	lastMsg   time.Time
	lastMsgMu sync.Mutex
}

func newWSAdapter(venue wsVenue, log zerolog.Logger) *wsAdapter {
	return &wsAdapter{
		venue: venue,
		log:   log.With().Str("adapter", venue.name).Logger(),
	}
}

func (a *wsAdapter) Name() string                    { return a.venue.name }
func (a *wsAdapter) Kind() Kind                      { return KindSubscription }
func (a *wsAdapter) SnapshotInterval() time.Duration { return a.venue.snapshotInterval }

// Start dials the venue, subscribes, and launches the read loop plus the
// keepalive and staleness watchers. Idempotent while running.
func (a *wsAdapter) Start(ctx context.Context, sink Sink) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return nil
	}

	dialCtx, dialCancel := context.WithTimeout(ctx, dialTimeout)
	conn, _, err := websocket.Dial(dialCtx, a.venue.url, nil)
	dialCancel()
	if err != nil {
		a.mu.Unlock()
		return fmt.Errorf("failed to dial %s: %w", a.venue.name, err)
	}
	// Market snapshots for a whole venue can be large frames
	conn.SetReadLimit(1 << 22)

	connCtx, cancel := context.WithCancel(ctx)
	a.conn = conn
	a.cancel = cancel
	a.started = true
	a.mu.Unlock()

	a.touch()

	for _, msg := range a.venue.subscribeMessages() {
		writeCtx, writeCancel := context.WithTimeout(connCtx, writeWait)
		err := conn.Write(writeCtx, websocket.MessageText, msg)
		writeCancel()
		if err != nil {
			a.teardown()
			return fmt.Errorf("failed to subscribe on %s: %w", a.venue.name, err)
		}
	}

	a.log.Info().Str("url", a.venue.url).Msg("Subscribed")

	go a.readLoop(connCtx, conn, sink)
	go a.watchdog(connCtx, sink)
	if a.venue.keepalivePayload != nil {
		go a.keepalive(connCtx, conn)
	}

	return nil
}

// Stop closes the connection and stops all loops.
func (a *wsAdapter) Stop() error {
	a.teardown()
	return nil
}

func (a *wsAdapter) teardown() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.conn != nil {
		_ = a.conn.Close(websocket.StatusNormalClosure, "")
		a.conn = nil
	}
	a.started = false
}

func (a *wsAdapter) readLoop(ctx context.Context, conn *websocket.Conn, sink Sink) {
	for {
		msgType, message, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				// intentional stop
				return
			}
			a.log.Warn().Err(err).Msg("Read failed, surfacing disconnect")
			a.teardown()
			sink.Disconnected(err)
			return
		}

		if msgType != websocket.MessageText {
			continue
		}

		a.touch()

		if err := a.venue.handleMessage(message, sink.Emit); err != nil {
			// Malformed payloads are dropped, the stream keeps going
			a.log.Debug().Err(err).Msg("Dropped malformed message")
		}
	}
}

// watchdog treats prolonged silence as a disconnect even when the TCP
// connection still looks alive.
func (a *wsAdapter) watchdog(ctx context.Context, sink Sink) {
	ticker := time.NewTicker(staleAfter / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.lastMsgMu.Lock()
			silent := time.Since(a.lastMsg)
			a.lastMsgMu.Unlock()
			if silent >= staleAfter {
				a.log.Warn().Dur("silent", silent).Msg("No messages, treating as disconnect")
				a.teardown()
				sink.Disconnected(fmt.Errorf("%s stream silent for %s", a.venue.name, silent))
				return
			}
		}
	}
}

func (a *wsAdapter) keepalive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			writeCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := conn.Write(writeCtx, websocket.MessageText, a.venue.keepalivePayload)
			cancel()
			if err != nil {
				// the read loop will notice the dead connection
				return
			}
		}
	}
}

func (a *wsAdapter) touch() {
	a.lastMsgMu.Lock()
	a.lastMsg = time.Now()
	a.lastMsgMu.Unlock()
}
