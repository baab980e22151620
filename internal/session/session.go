// Package session owns the lifecycle of one monitoring view: a reconciliation
// core fed by a snapshot poller and a stream client, torn down as a unit.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"github.com/coachpo/stratwatch/internal/command"
	"github.com/coachpo/stratwatch/internal/observability"
	"github.com/coachpo/stratwatch/internal/schema"
	"github.com/coachpo/stratwatch/internal/snapshot"
	"github.com/coachpo/stratwatch/internal/stream"
	"github.com/coachpo/stratwatch/internal/telemetry"
	"github.com/coachpo/stratwatch/internal/view"
)

// Session binds one subscription's view state to its two source channels.
// All applies are serialised through the session mutex; the inner view never
// sees concurrent access. Once closed, late results from either channel are
// dropped instead of mutating a torn-down view.
type Session struct {
	id             string
	subscriptionID string

	mu          sync.Mutex
	view        *view.View
	closed      bool
	subscribers map[int]chan view.State
	nextSubID   int

	cancel     context.CancelFunc
	lifecycle  conc.WaitGroup
	poller     *snapshot.Poller
	dispatcher *command.Dispatcher
	metrics    *telemetry.Metrics
}

// Config carries the per-session tunables and collaborators.
type Config struct {
	SubscriptionID string
	PollInterval   time.Duration
	ActivityCap    int
	StreamOptions  stream.Options
	Source         snapshot.Source
	Sender         command.ActionSender
	Throttle       float64
	Burst          int
	Metrics        *telemetry.Metrics
}

// Open creates the session and starts its poller and stream client. The
// returned session keeps running until Close is called or ctx is cancelled.
func Open(ctx context.Context, cfg Config) *Session {
	s := &Session{
		id:             uuid.NewString(),
		subscriptionID: cfg.SubscriptionID,
		view:           view.New(cfg.SubscriptionID, cfg.ActivityCap),
		subscribers:    make(map[int]chan view.State),
		metrics:        cfg.Metrics,
	}
	s.poller = snapshot.NewPoller(cfg.Source, s, cfg.SubscriptionID, cfg.PollInterval, cfg.Metrics)
	s.dispatcher = command.NewDispatcher(cfg.Sender, s, cfg.SubscriptionID, cfg.Throttle, cfg.Burst, cfg.Metrics)
	streamClient := stream.NewClient(cfg.SubscriptionID, cfg.StreamOptions, s, cfg.Metrics)

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.lifecycle.Go(func() {
		s.poller.Run(runCtx)
	})
	s.lifecycle.Go(func() {
		streamClient.Run(runCtx)
	})

	observability.Log().Info("monitoring session opened",
		observability.String("session", s.id),
		observability.String("subscription", cfg.SubscriptionID))
	return s
}

// ID returns the session identity token.
func (s *Session) ID() string { return s.id }

// SubscriptionID returns the monitored subscription id.
func (s *Session) SubscriptionID() string { return s.subscriptionID }

// ApplySnapshot folds an authoritative snapshot into the view. Late results
// arriving after Close are dropped.
func (s *Session) ApplySnapshot(snap schema.Snapshot, fetchedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.view.ApplySnapshot(snap, fetchedAt)
	s.notifyLocked()
}

// ApplyLiveUpdate folds a stream update into the view.
func (s *Session) ApplyLiveUpdate(update schema.LiveUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	stateApplied, eventAppended := s.view.ApplyLiveUpdate(update)
	if update.CarriesState() {
		if stateApplied {
			s.metrics.LiveUpdateApplied(context.Background(), s.subscriptionID)
		} else {
			s.metrics.LiveUpdateStale(context.Background(), s.subscriptionID)
		}
	}
	if update.Event != nil {
		if eventAppended {
			s.metrics.ActivityAppended(context.Background(), s.subscriptionID)
		} else {
			s.metrics.ActivityDeduplicated(context.Background(), s.subscriptionID)
		}
	}
	if stateApplied || eventAppended {
		s.notifyLocked()
	}
}

// ApplyConnectivity records the push channel state.
func (s *Session) ApplyConnectivity(signal schema.Connectivity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.view.ApplyConnectivity(signal) {
		s.notifyLocked()
	}
}

// State returns a copy of the current view state.
func (s *Session) State() view.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view.State()
}

// Subscribe registers a consumer for view-state changes. The channel carries
// the latest state only: unconsumed intermediate states are replaced, never
// queued, so a slow consumer cannot stall the session.
func (s *Session) Subscribe() (<-chan view.State, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	ch := make(chan view.State, 1)
	if !s.closed {
		s.subscribers[id] = ch
		ch <- s.view.State()
	} else {
		close(ch)
	}

	unsubscribe := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if existing, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(existing)
		}
	}
	return ch, unsubscribe
}

func (s *Session) notifyLocked() {
	state := s.view.State()
	for _, ch := range s.subscribers {
		select {
		case ch <- state:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- state:
			default:
			}
		}
	}
}

// Refresh requests an immediate snapshot fetch.
func (s *Session) Refresh() {
	s.poller.Refresh()
}

// Dispatch submits a lifecycle action validated against the current status.
func (s *Session) Dispatch(ctx context.Context, action schema.Action) error {
	return s.dispatcher.Dispatch(ctx, action, s.State().Status)
}

// ActionInFlight reports whether an action request is outstanding; consumers
// disable the corresponding controls while it returns true.
func (s *Session) ActionInFlight() bool {
	return s.dispatcher.InFlight()
}

// AllowedActions lists the actions legal from the current status.
func (s *Session) AllowedActions() []schema.Action {
	return schema.AllowedActions(s.State().Status)
}

// Close tears the session down: the stream closes, polling stops, and no
// further mutation of the view is possible even if an in-flight fetch later
// resolves. Close is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for id, ch := range s.subscribers {
		delete(s.subscribers, id)
		close(ch)
	}
	s.mu.Unlock()

	s.cancel()
	s.lifecycle.Wait()
	observability.Log().Info("monitoring session closed",
		observability.String("session", s.id),
		observability.String("subscription", s.subscriptionID))
}
