package session

import (
	"context"
	"strings"
	"sync"

	"github.com/coachpo/stratwatch/config"
	"github.com/coachpo/stratwatch/errs"
	"github.com/coachpo/stratwatch/internal/command"
	"github.com/coachpo/stratwatch/internal/snapshot"
	"github.com/coachpo/stratwatch/internal/stream"
	"github.com/coachpo/stratwatch/internal/telemetry"
)

// Backend aggregates the two backend surfaces a session consumes.
type Backend interface {
	snapshot.Source
	command.ActionSender
}

// Manager opens and closes monitoring sessions. Each open view gets its own
// session, even for the same subscription id: two tabs never share a view or
// a source pair.
type Manager struct {
	ctx      context.Context
	backend  Backend
	settings config.Settings
	metrics  *telemetry.Metrics

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager constructs a session manager. ctx bounds the lifetime of every
// session it opens.
func NewManager(ctx context.Context, backend Backend, settings config.Settings, metrics *telemetry.Metrics) *Manager {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Manager{
		ctx:      ctx,
		backend:  backend,
		settings: settings,
		metrics:  metrics,
		sessions: make(map[string]*Session),
	}
}

// Open starts a session for the subscription and registers it by session id.
func (m *Manager) Open(subscriptionID string) (*Session, error) {
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return nil, errs.New("session", errs.CodeInvalid, errs.WithMessage("subscription id required"))
	}

	monitor := m.settings.Monitor
	backendCfg := m.settings.Backend
	token := func() string { return backendCfg.Credentials.Token }

	sess := Open(m.ctx, Config{
		SubscriptionID: subscriptionID,
		PollInterval:   monitor.PollInterval,
		ActivityCap:    monitor.ActivityLogCap,
		StreamOptions: stream.Options{
			StreamURL:         backendCfg.StreamURL,
			Token:             token,
			HandshakeTimeout:  backendCfg.HandshakeTimeout,
			HeartbeatTimeout:  monitor.HeartbeatTimeout,
			ReconnectMinDelay: monitor.ReconnectMinDelay,
			ReconnectMaxDelay: monitor.ReconnectMaxDelay,
		},
		Source:   m.backend,
		Sender:   m.backend,
		Throttle: monitor.CommandThrottle,
		Burst:    monitor.CommandBurst,
		Metrics:  m.metrics,
	})

	m.mu.Lock()
	m.sessions[sess.ID()] = sess
	m.mu.Unlock()
	return sess, nil
}

// Get looks up a session by its id.
func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	return sess, ok
}

// Close tears down a session and removes it from the registry.
func (m *Manager) Close(sessionID string) error {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if !ok {
		return errs.New("session", errs.CodeNotFound, errs.WithMessage("unknown session id"))
	}
	sess.Close()
	return nil
}

// CloseAll tears down every open session, for shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for id, sess := range m.sessions {
		sessions = append(sessions, sess)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, sess := range sessions {
		sess.Close()
	}
}

// Count reports the number of open sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
