// Package snapshot implements the periodic authoritative state poller for a
// monitoring session.
package snapshot

import (
	"context"
	"strings"
	"time"

	"github.com/coachpo/stratwatch/internal/observability"
	"github.com/coachpo/stratwatch/internal/schema"
	"github.com/coachpo/stratwatch/internal/telemetry"
)

// Source abstracts the backend subscription/portfolio read.
type Source interface {
	Snapshot(ctx context.Context, subscriptionID string) (schema.Snapshot, error)
}

// Sink receives completed snapshots stamped with their fetch completion time.
type Sink interface {
	ApplySnapshot(snap schema.Snapshot, fetchedAt time.Time)
}

// Poller fetches the authoritative snapshot on a fixed interval or on demand.
// Fetches for the same subscription are serialised: the poll loop executes one
// request at a time and coalesces refresh triggers that arrive mid-flight.
type Poller struct {
	source         Source
	sink           Sink
	subscriptionID string
	interval       time.Duration
	clock          func() time.Time
	metrics        *telemetry.Metrics

	refresh chan struct{}
}

// NewPoller constructs a poller for the given subscription id. An empty id
// disables fetching entirely.
func NewPoller(source Source, sink Sink, subscriptionID string, interval time.Duration, metrics *telemetry.Metrics) *Poller {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Poller{
		source:         source,
		sink:           sink,
		subscriptionID: strings.TrimSpace(subscriptionID),
		interval:       interval,
		clock:          time.Now,
		metrics:        metrics,
		refresh:        make(chan struct{}, 1),
	}
}

// WithClock overrides the wall clock, for tests.
func (p *Poller) WithClock(clock func() time.Time) *Poller {
	if clock != nil {
		p.clock = clock
	}
	return p
}

// Refresh requests an immediate fetch. Triggers arriving while a fetch is in
// flight collapse into one follow-up fetch.
func (p *Poller) Refresh() {
	select {
	case p.refresh <- struct{}{}:
	default:
	}
}

// Run polls until the context is cancelled. It performs one immediate fetch to
// seed state, then follows the configured interval and refresh triggers.
func (p *Poller) Run(ctx context.Context) {
	if p.subscriptionID == "" {
		observability.Log().Debug("snapshot poller disabled: no subscription id")
		return
	}

	p.fetchOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.fetchOnce(ctx)
		case <-p.refresh:
			p.fetchOnce(ctx)
		}
	}
}

// fetchOnce reads the snapshot and hands it to the sink. Failures are logged
// and swallowed: previously known good state must never be cleared, and the
// next tick retries unconditionally.
func (p *Poller) fetchOnce(ctx context.Context) {
	snap, err := p.source.Snapshot(ctx, p.subscriptionID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.metrics.SnapshotFailed(ctx, p.subscriptionID)
		observability.Log().Warn("snapshot fetch failed",
			observability.String("subscription", p.subscriptionID),
			observability.Err(err))
		return
	}

	fetchedAt := p.clock().UTC()
	p.metrics.SnapshotFetched(ctx, p.subscriptionID)
	p.sink.ApplySnapshot(snap, fetchedAt)
}
