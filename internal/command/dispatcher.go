// Package command forwards strategy lifecycle actions to the backend and
// reflects the resulting state through the snapshot path.
package command

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/coachpo/stratwatch/errs"
	"github.com/coachpo/stratwatch/internal/observability"
	"github.com/coachpo/stratwatch/internal/schema"
	"github.com/coachpo/stratwatch/internal/telemetry"
)

// ActionSender submits a lifecycle action and returns the updated state.
type ActionSender interface {
	SendAction(ctx context.Context, subscriptionID string, action schema.Action) (schema.Snapshot, error)
}

// SnapshotSink applies the post-action state; it is the same path a polled
// snapshot takes, because the action response is semantically a snapshot.
type SnapshotSink interface {
	ApplySnapshot(snap schema.Snapshot, fetchedAt time.Time)
}

// Dispatcher serialises strategy actions for one subscription: while a
// request is in flight, further dispatches are refused so exactly one
// state-changing request leaves per user action.
type Dispatcher struct {
	sender         ActionSender
	sink           SnapshotSink
	subscriptionID string
	limiter        *rate.Limiter
	clock          func() time.Time
	metrics        *telemetry.Metrics

	mu       sync.Mutex
	inFlight bool
}

// NewDispatcher constructs an action dispatcher with the given throttle.
func NewDispatcher(sender ActionSender, sink SnapshotSink, subscriptionID string, throttle float64, burst int, metrics *telemetry.Metrics) *Dispatcher {
	if throttle <= 0 {
		throttle = 2
	}
	if burst <= 0 {
		burst = 1
	}
	return &Dispatcher{
		sender:         sender,
		sink:           sink,
		subscriptionID: strings.TrimSpace(subscriptionID),
		limiter:        rate.NewLimiter(rate.Limit(throttle), burst),
		clock:          time.Now,
		metrics:        metrics,
	}
}

// WithClock overrides the wall clock, for tests.
func (d *Dispatcher) WithClock(clock func() time.Time) *Dispatcher {
	if clock != nil {
		d.clock = clock
	}
	return d
}

// InFlight reports whether an action request is currently outstanding.
// Consumers disable the corresponding controls while it returns true.
func (d *Dispatcher) InFlight() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inFlight
}

// Dispatch validates the action against the current status, submits it, and
// on success applies the returned snapshot. On failure no local state changes;
// the backend reason is carried in the returned error.
func (d *Dispatcher) Dispatch(ctx context.Context, action schema.Action, current schema.Status) error {
	if d.subscriptionID == "" {
		return errs.New("command", errs.CodeInvalid, errs.WithMessage("subscription id required"))
	}
	if err := action.Validate(); err != nil {
		return errs.New("command", errs.CodeInvalid, errs.WithCause(err))
	}
	if !schema.ActionAllowed(action, current) {
		return errs.New("command", errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("action %s not allowed from status %s", action, current)))
	}

	d.mu.Lock()
	if d.inFlight {
		d.mu.Unlock()
		return errs.New("command", errs.CodeConflict, errs.WithMessage("action already in flight"))
	}
	d.inFlight = true
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.inFlight = false
		d.mu.Unlock()
	}()

	if err := d.limiter.Wait(ctx); err != nil {
		return errs.New("command", errs.CodeUnavailable, errs.WithCause(err))
	}

	snap, err := d.sender.SendAction(ctx, d.subscriptionID, action)
	if err != nil {
		d.metrics.CommandRejected(ctx, d.subscriptionID)
		observability.Log().Warn("strategy action rejected",
			observability.String("subscription", d.subscriptionID),
			observability.String("action", string(action)),
			observability.Err(err))
		return err
	}

	d.metrics.CommandDispatched(ctx, d.subscriptionID)
	d.sink.ApplySnapshot(snap, d.clock().UTC())
	return nil
}
