package httpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/stratwatch/config"
	"github.com/coachpo/stratwatch/errs"
	"github.com/coachpo/stratwatch/internal/schema"
	"github.com/coachpo/stratwatch/internal/session"
)

type stubBackend struct {
	mu     sync.Mutex
	status schema.Status
	reject error
}

func (s *stubBackend) Snapshot(_ context.Context, subscriptionID string) (schema.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return schema.Snapshot{SubscriptionID: subscriptionID, Status: s.status}, nil
}

func (s *stubBackend) SendAction(_ context.Context, subscriptionID string, action schema.Action) (schema.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reject != nil {
		return schema.Snapshot{}, s.reject
	}
	switch action {
	case schema.ActionStart, schema.ActionResume:
		s.status = schema.StatusActive
	case schema.ActionPause:
		s.status = schema.StatusPaused
	case schema.ActionStop:
		s.status = schema.StatusStopped
	}
	return schema.Snapshot{SubscriptionID: subscriptionID, Status: s.status}, nil
}

func newTestHandler(t *testing.T, backend *stubBackend) (http.Handler, *session.Manager) {
	t.Helper()
	cfg := config.Default()
	cfg.Backend.StreamURL = ""
	cfg.Monitor.PollInterval = time.Hour
	mgr := session.NewManager(context.Background(), backend, cfg, nil)
	t.Cleanup(mgr.CloseAll)
	return NewHandler(mgr), mgr
}

func doRequest(t *testing.T, handler http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	decoded := map[string]any{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func openSession(t *testing.T, handler http.Handler) string {
	t.Helper()
	rec, body := doRequest(t, handler, http.MethodPost, "/sessions", `{"subscriptionId":"sub-1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	id, _ := body["sessionId"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestOpenSession(t *testing.T) {
	handler, mgr := newTestHandler(t, &stubBackend{status: schema.StatusActive})

	rec, body := doRequest(t, handler, http.MethodPost, "/sessions", `{"subscriptionId":"sub-1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "sub-1", body["subscriptionId"])
	require.Equal(t, 1, mgr.Count())
}

func TestOpenSessionRequiresSubscriptionID(t *testing.T) {
	handler, _ := newTestHandler(t, &stubBackend{})

	rec, body := doRequest(t, handler, http.MethodPost, "/sessions", `{"subscriptionId":""}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "error", body["status"])
}

func TestOpenSessionMalformedBody(t *testing.T) {
	handler, _ := newTestHandler(t, &stubBackend{})

	rec, _ := doRequest(t, handler, http.MethodPost, "/sessions", `{"subscriptionId":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetSessionView(t *testing.T) {
	handler, mgr := newTestHandler(t, &stubBackend{status: schema.StatusActive})
	id := openSession(t, handler)

	sess, ok := mgr.Get(id)
	require.True(t, ok)
	waitForStatus(t, sess, schema.StatusActive)

	rec, body := doRequest(t, handler, http.MethodGet, "/sessions/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, id, body["sessionId"])
	state, ok := body["state"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "active", state["status"])
	allowed, ok := body["allowedActions"].([]any)
	require.True(t, ok)
	require.ElementsMatch(t, []any{"pause", "stop"}, allowed)
}

func TestGetUnknownSession(t *testing.T) {
	handler, _ := newTestHandler(t, &stubBackend{})

	rec, _ := doRequest(t, handler, http.MethodGet, "/sessions/nope", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDispatchAction(t *testing.T) {
	handler, mgr := newTestHandler(t, &stubBackend{status: schema.StatusActive})
	id := openSession(t, handler)
	sess, _ := mgr.Get(id)
	waitForStatus(t, sess, schema.StatusActive)

	rec, body := doRequest(t, handler, http.MethodPost, "/sessions/"+id+"/actions/pause", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "pause", body["action"])
	state := body["state"].(map[string]any)
	require.Equal(t, "paused", state["status"])
}

func TestDispatchIllegalTransition(t *testing.T) {
	handler, mgr := newTestHandler(t, &stubBackend{status: schema.StatusActive})
	id := openSession(t, handler)
	sess, _ := mgr.Get(id)
	waitForStatus(t, sess, schema.StatusActive)

	// An active subscription cannot be resumed.
	rec, _ := doRequest(t, handler, http.MethodPost, "/sessions/"+id+"/actions/resume", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDispatchBackendRejection(t *testing.T) {
	backend := &stubBackend{status: schema.StatusActive}
	handler, mgr := newTestHandler(t, backend)
	id := openSession(t, handler)
	sess, _ := mgr.Get(id)
	waitForStatus(t, sess, schema.StatusActive)

	backend.mu.Lock()
	backend.reject = errs.New("backend", errs.CodeCommandRejected,
		errs.WithReason("subscription is not active"))
	backend.mu.Unlock()

	rec, body := doRequest(t, handler, http.MethodPost, "/sessions/"+id+"/actions/pause", "")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	errMsg, _ := body["error"].(string)
	require.Contains(t, errMsg, "subscription is not active")
	// The rejected transition left the displayed status untouched.
	require.Equal(t, schema.StatusActive, sess.State().Status)
}

func TestDispatchUnknownAction(t *testing.T) {
	handler, _ := newTestHandler(t, &stubBackend{})
	id := openSession(t, handler)

	rec, _ := doRequest(t, handler, http.MethodPost, "/sessions/"+id+"/actions/launch", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefreshSession(t *testing.T) {
	handler, _ := newTestHandler(t, &stubBackend{})
	id := openSession(t, handler)

	rec, body := doRequest(t, handler, http.MethodPost, "/sessions/"+id+"/refresh", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, "refreshing", body["status"])
}

func TestCloseSession(t *testing.T) {
	handler, mgr := newTestHandler(t, &stubBackend{})
	id := openSession(t, handler)

	rec, body := doRequest(t, handler, http.MethodDelete, "/sessions/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "closed", body["status"])
	require.Zero(t, mgr.Count())

	rec, _ = doRequest(t, handler, http.MethodDelete, "/sessions/"+id, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	handler, _ := newTestHandler(t, &stubBackend{})

	rec, body := doRequest(t, handler, http.MethodGet, healthPath, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", body["status"])
}

func TestMethodNotAllowed(t *testing.T) {
	handler, _ := newTestHandler(t, &stubBackend{})

	rec, _ := doRequest(t, handler, http.MethodGet, "/sessions", "")
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	require.Equal(t, http.MethodPost, rec.Header().Get("Allow"))
}

func waitForStatus(t *testing.T, sess *session.Session, want schema.Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sess.State().Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session never reached status %q", want)
}
