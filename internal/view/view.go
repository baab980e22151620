// Package view implements the per-session reconciliation state machine that
// merges authoritative snapshot reads with best-effort live stream updates.
package view

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/stratwatch/internal/schema"
)

// DefaultActivityCap bounds the activity log when no cap is configured.
const DefaultActivityCap = 200

// State is the derived, display-ready view of one monitored subscription.
// Consumers receive copies; the owning View is the only writer.
type State struct {
	SubscriptionID string                 `json:"subscriptionId"`
	Status         schema.Status          `json:"status"`
	TotalPnl       decimal.Decimal        `json:"totalPnl"`
	TodayPnl       decimal.Decimal        `json:"todayPnl"`
	Connectivity   schema.Connectivity    `json:"connectivity"`
	Positions      []schema.Position      `json:"positions"`
	Orders         []schema.OrderRecord   `json:"orders"`
	Events         []schema.ActivityEvent `json:"events"`
	LastSnapshotAt time.Time              `json:"lastSnapshotAt"`
}

// View is the reconciliation core for one monitoring session. It is not safe
// for concurrent use; the owning session serialises all applies.
type View struct {
	state State

	// snapshotFloor is the fetch time of the most recent snapshot. Live
	// updates older than it are provisional data the poll channel has
	// already superseded.
	snapshotFloor time.Time
	// liveFloor orders live updates among themselves, independent of the
	// snapshot floor.
	liveFloor time.Time

	activityCap int
	present     map[string]struct{}
}

// New constructs a view for the subscription with the given activity log cap.
func New(subscriptionID string, activityCap int) *View {
	if activityCap <= 0 {
		activityCap = DefaultActivityCap
	}
	return &View{
		state: State{
			SubscriptionID: subscriptionID,
			Status:         schema.StatusInactive,
			TotalPnl:       decimal.Zero,
			TodayPnl:       decimal.Zero,
			Connectivity:   schema.ConnectivityDisconnected,
			Positions:      nil,
			Orders:         nil,
			Events:         nil,
			LastSnapshotAt: time.Time{},
		},
		snapshotFloor: time.Time{},
		liveFloor:     time.Time{},
		activityCap:   activityCap,
		present:       make(map[string]struct{}),
	}
}

// ApplySnapshot overwrites status, P&L, positions, and orders unconditionally:
// snapshots are authoritative as of their fetch time. The fetch time becomes
// the new floor for live updates. Connectivity and the activity log are
// untouched.
func (v *View) ApplySnapshot(snap schema.Snapshot, fetchedAt time.Time) {
	snap = snap.FilterToSymbols()
	v.state.Status = snap.Status
	v.state.TotalPnl = snap.TotalPnl
	v.state.TodayPnl = snap.TodayPnl
	v.state.Positions = snap.Positions
	v.state.Orders = snap.Orders
	v.state.LastSnapshotAt = fetchedAt
	if fetchedAt.After(v.snapshotFloor) {
		v.snapshotFloor = fetchedAt
	}
}

// ApplyLiveUpdate folds a push-delivered update into the view. State-bearing
// fields are accepted only when the update is not older than either floor;
// an embedded activity event is appended regardless of staleness, subject
// only to exact-duplicate rejection.
func (v *View) ApplyLiveUpdate(update schema.LiveUpdate) (stateApplied, eventAppended bool) {
	if update.CarriesState() && v.acceptsLive(update.Timestamp) {
		if update.Status != nil {
			v.state.Status = *update.Status
		}
		if update.TotalPnl != nil {
			v.state.TotalPnl = *update.TotalPnl
		}
		if update.TodayPnl != nil {
			v.state.TodayPnl = *update.TodayPnl
		}
		v.liveFloor = update.Timestamp
		stateApplied = true
	}
	if update.Event != nil {
		eventAppended = v.AppendEvent(*update.Event)
	}
	return stateApplied, eventAppended
}

func (v *View) acceptsLive(ts time.Time) bool {
	if ts.Before(v.snapshotFloor) {
		return false
	}
	return !ts.Before(v.liveFloor)
}

// ApplyConnectivity records the push channel state. Transitions are
// idempotent; the return value reports whether the state changed.
func (v *View) ApplyConnectivity(signal schema.Connectivity) bool {
	if v.state.Connectivity == signal {
		return false
	}
	v.state.Connectivity = signal
	return true
}

// AppendEvent appends to the capped, time-ordered activity log. Structurally
// identical events are dropped; when the cap is exceeded the oldest entries
// are evicted first.
func (v *View) AppendEvent(event schema.ActivityEvent) bool {
	key := event.DedupKey()
	if _, dup := v.present[key]; dup {
		return false
	}
	v.present[key] = struct{}{}
	v.state.Events = append(v.state.Events, event)

	// Stream timestamps are not monotonic across reconnects; keep display order.
	sort.SliceStable(v.state.Events, func(i, j int) bool {
		return v.state.Events[i].Timestamp.Before(v.state.Events[j].Timestamp)
	})

	for len(v.state.Events) > v.activityCap {
		evicted := v.state.Events[0]
		delete(v.present, evicted.DedupKey())
		v.state.Events = v.state.Events[1:]
	}
	return true
}

// State returns a copy of the current view state safe to hand to consumers.
func (v *View) State() State {
	out := v.state
	out.Positions = append([]schema.Position(nil), v.state.Positions...)
	out.Orders = append([]schema.OrderRecord(nil), v.state.Orders...)
	out.Events = append([]schema.ActivityEvent(nil), v.state.Events...)
	return out
}
