// Package exchanges contains one adapter per venue. Every adapter produces
// domain.RawTick values through a Sink owned by its tracker; the tracker
// never sees venue wire formats.
package exchanges

import (
	"context"
	"time"

	"github.com/aristath/perptrack/internal/domain"
)

// Kind distinguishes the two adapter shapes.
type Kind string

const (
	// KindSubscription adapters hold a websocket the venue pushes to.
	KindSubscription Kind = "subscription"
	// KindPull adapters poll a REST endpoint on a fixed interval.
	KindPull Kind = "pull"
)

// Sink is the tracker-side receiver of adapter output. Emit upserts the
// per-symbol buffer; Disconnected surfaces a connection loss so the tracker
// can schedule a reconnect.
type Sink interface {
	Emit(tick domain.RawTick)
	Disconnected(err error)
}

// Adapter is the contract every venue implements.
type Adapter interface {
	// Name returns the exchange id ("hyperliquid", "vertex", ...).
	Name() string
	// Kind reports the adapter shape.
	Kind() Kind
	// SnapshotInterval is the tracker's buffer flush cadence for this venue.
	SnapshotInterval() time.Duration
	// Start opens the connection or begins the polling loop. Idempotent if
	// already started. The context bounds the adapter's lifetime.
	Start(ctx context.Context, sink Sink) error
	// Stop closes cleanly; a final in-flight tick may still be delivered.
	Stop() error
}

const (
	// pull adapters wrap each HTTP call in this timeout; a timeout is a
	// skipped poll, not a failure
	pullCallTimeout = 10 * time.Second

	// cached instrument lists are refreshed at most this often
	instrumentRefresh = 60 * time.Minute

	// subscription adapters treat this much silence as a disconnect
	staleAfter = 60 * time.Second

	// app-level keepalive cadence where the venue requires one
	keepaliveInterval = 30 * time.Second
)
