package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	apimetric "go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/coachpo/stratwatch"

// Metrics aggregates the monitoring-session instruments exported over OTLP.
type Metrics struct {
	snapshotsFetched   apimetric.Int64Counter
	snapshotFailures   apimetric.Int64Counter
	liveUpdatesApplied apimetric.Int64Counter
	liveUpdatesStale   apimetric.Int64Counter
	eventsAppended     apimetric.Int64Counter
	eventsDeduped      apimetric.Int64Counter
	streamReconnects   apimetric.Int64Counter
	heartbeatsMissed   apimetric.Int64Counter
	commandsDispatched apimetric.Int64Counter
	commandsRejected   apimetric.Int64Counter
}

// NewMetrics registers the session instruments against the supplied meter provider.
func NewMetrics(provider apimetric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter(meterName)

	m := new(Metrics)
	var err error
	if m.snapshotsFetched, err = meter.Int64Counter("stratwatch.snapshots.fetched"); err != nil {
		return nil, fmt.Errorf("register snapshots counter: %w", err)
	}
	if m.snapshotFailures, err = meter.Int64Counter("stratwatch.snapshots.failed"); err != nil {
		return nil, fmt.Errorf("register snapshot failures counter: %w", err)
	}
	if m.liveUpdatesApplied, err = meter.Int64Counter("stratwatch.live_updates.applied"); err != nil {
		return nil, fmt.Errorf("register live updates counter: %w", err)
	}
	if m.liveUpdatesStale, err = meter.Int64Counter("stratwatch.live_updates.stale"); err != nil {
		return nil, fmt.Errorf("register stale updates counter: %w", err)
	}
	if m.eventsAppended, err = meter.Int64Counter("stratwatch.activity.appended"); err != nil {
		return nil, fmt.Errorf("register activity counter: %w", err)
	}
	if m.eventsDeduped, err = meter.Int64Counter("stratwatch.activity.deduplicated"); err != nil {
		return nil, fmt.Errorf("register dedup counter: %w", err)
	}
	if m.streamReconnects, err = meter.Int64Counter("stratwatch.stream.reconnects"); err != nil {
		return nil, fmt.Errorf("register reconnect counter: %w", err)
	}
	if m.heartbeatsMissed, err = meter.Int64Counter("stratwatch.stream.heartbeats_missed"); err != nil {
		return nil, fmt.Errorf("register heartbeat counter: %w", err)
	}
	if m.commandsDispatched, err = meter.Int64Counter("stratwatch.commands.dispatched"); err != nil {
		return nil, fmt.Errorf("register command counter: %w", err)
	}
	if m.commandsRejected, err = meter.Int64Counter("stratwatch.commands.rejected"); err != nil {
		return nil, fmt.Errorf("register rejected command counter: %w", err)
	}
	return m, nil
}

func (m *Metrics) add(ctx context.Context, counter apimetric.Int64Counter, subscription string) {
	if m == nil || counter == nil {
		return
	}
	counter.Add(ctx, 1, apimetric.WithAttributes(attribute.String("subscription", subscription)))
}

// SnapshotFetched records a completed snapshot fetch.
func (m *Metrics) SnapshotFetched(ctx context.Context, subscription string) {
	if m == nil {
		return
	}
	m.add(ctx, m.snapshotsFetched, subscription)
}

// SnapshotFailed records a swallowed snapshot fetch failure.
func (m *Metrics) SnapshotFailed(ctx context.Context, subscription string) {
	if m == nil {
		return
	}
	m.add(ctx, m.snapshotFailures, subscription)
}

// LiveUpdateApplied records a live update accepted by the recency rule.
func (m *Metrics) LiveUpdateApplied(ctx context.Context, subscription string) {
	if m == nil {
		return
	}
	m.add(ctx, m.liveUpdatesApplied, subscription)
}

// LiveUpdateStale records a live update rejected as older than the floor.
func (m *Metrics) LiveUpdateStale(ctx context.Context, subscription string) {
	if m == nil {
		return
	}
	m.add(ctx, m.liveUpdatesStale, subscription)
}

// ActivityAppended records an activity log append.
func (m *Metrics) ActivityAppended(ctx context.Context, subscription string) {
	if m == nil {
		return
	}
	m.add(ctx, m.eventsAppended, subscription)
}

// ActivityDeduplicated records an exact-duplicate activity event drop.
func (m *Metrics) ActivityDeduplicated(ctx context.Context, subscription string) {
	if m == nil {
		return
	}
	m.add(ctx, m.eventsDeduped, subscription)
}

// StreamReconnected records a completed stream re-handshake.
func (m *Metrics) StreamReconnected(ctx context.Context, subscription string) {
	if m == nil {
		return
	}
	m.add(ctx, m.streamReconnects, subscription)
}

// HeartbeatMissed records a heartbeat watchdog expiry.
func (m *Metrics) HeartbeatMissed(ctx context.Context, subscription string) {
	if m == nil {
		return
	}
	m.add(ctx, m.heartbeatsMissed, subscription)
}

// CommandDispatched records an outbound strategy action.
func (m *Metrics) CommandDispatched(ctx context.Context, subscription string) {
	if m == nil {
		return
	}
	m.add(ctx, m.commandsDispatched, subscription)
}

// CommandRejected records a backend-refused strategy action.
func (m *Metrics) CommandRejected(ctx context.Context, subscription string) {
	if m == nil {
		return
	}
	m.add(ctx, m.commandsRejected, subscription)
}
