// Package httpserver exposes HTTP handlers for opening monitor sessions and
// dispatching subscription actions.
package httpserver

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/coachpo/stratwatch/errs"
	"github.com/coachpo/stratwatch/internal/schema"
	"github.com/coachpo/stratwatch/internal/session"
)

const (
	maxJSONBodyBytes int64 = 1 << 20 // 1 MiB

	sessionsPath        = "/sessions"
	sessionDetailPrefix = sessionsPath + "/"

	healthPath = "/healthz"
)

type handlerFunc func(http.ResponseWriter, *http.Request)

type httpServer struct {
	manager *session.Manager
}

type openSessionPayload struct {
	SubscriptionID string `json:"subscriptionId"`
}

type sessionSummary struct {
	SessionID      string `json:"sessionId"`
	SubscriptionID string `json:"subscriptionId"`
}

// NewHandler creates the HTTP handler for session management operations.
func NewHandler(manager *session.Manager) http.Handler {
	server := &httpServer{manager: manager}
	mux := http.NewServeMux()

	mux.Handle(sessionsPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodPost: server.openSession,
	}))
	mux.Handle(sessionDetailPrefix, http.HandlerFunc(server.handleSession))
	mux.Handle(healthPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.health,
	}))

	return withCORS(mux)
}

func (s *httpServer) methodHandlers(handlers map[string]handlerFunc) http.Handler {
	allowed := allowedMethods(handlers)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := handlers[r.Method]; ok {
			handler(w, r)
			return
		}
		methodNotAllowed(w, allowed...)
	})
}

func allowedMethods(handlers map[string]handlerFunc) []string {
	if len(handlers) == 0 {
		return nil
	}
	allowed := make([]string, 0, len(handlers))
	for method := range handlers {
		allowed = append(allowed, method)
	}
	sort.Strings(allowed)
	return allowed
}

func (s *httpServer) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": s.manager.Count()})
}

func (s *httpServer) openSession(w http.ResponseWriter, r *http.Request) {
	limitRequestBody(w, r)
	payload, err := decodeOpenSessionPayload(r)
	if err != nil {
		writeDecodeError(w, err)
		return
	}
	sess, err := s.manager.Open(payload.SubscriptionID)
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionSummary{
		SessionID:      sess.ID(),
		SubscriptionID: sess.SubscriptionID(),
	})
}

func (s *httpServer) handleSession(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, sessionDetailPrefix), "/")
	if rest == "" {
		writeError(w, http.StatusNotFound, "session id required")
		return
	}

	id, verb, hasVerb := strings.Cut(rest, "/")
	id = strings.TrimSpace(id)
	if id == "" {
		writeError(w, http.StatusNotFound, "session id required")
		return
	}

	if !hasVerb {
		s.handleSessionResource(w, r, id)
		return
	}

	verb = strings.TrimSpace(verb)
	s.handleSessionVerb(w, r, id, verb)
}

func (s *httpServer) handleSessionResource(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		sess, ok := s.manager.Get(id)
		if !ok {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"sessionId":      sess.ID(),
			"subscriptionId": sess.SubscriptionID(),
			"state":          sess.State(),
			"allowedActions": sess.AllowedActions(),
			"actionInFlight": sess.ActionInFlight(),
		})
	case http.MethodDelete:
		if err := s.manager.Close(id); err != nil {
			s.writeSessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "closed", "sessionId": id})
	default:
		methodNotAllowed(w, http.MethodDelete, http.MethodGet)
	}
}

func (s *httpServer) handleSessionVerb(w http.ResponseWriter, r *http.Request, id, verb string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	sess, ok := s.manager.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	action, rest, nested := strings.Cut(verb, "/")
	switch action {
	case "refresh":
		sess.Refresh()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "refreshing", "sessionId": id})
	case "actions":
		if !nested || strings.TrimSpace(rest) == "" {
			writeError(w, http.StatusNotFound, "action name required")
			return
		}
		s.dispatchAction(w, r, sess, strings.TrimSpace(rest))
	default:
		writeError(w, http.StatusNotFound, "unsupported operation")
	}
}

func (s *httpServer) dispatchAction(w http.ResponseWriter, r *http.Request, sess *session.Session, name string) {
	action, err := schema.ParseAction(name)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := sess.Dispatch(r.Context(), action); err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "dispatched",
		"action":         action,
		"state":          sess.State(),
		"allowedActions": sess.AllowedActions(),
	})
}

func (s *httpServer) writeSessionError(w http.ResponseWriter, err error) {
	var e *errs.E
	if errors.As(err, &e) && e.HTTP != 0 {
		writeError(w, e.HTTP, err.Error())
		return
	}
	switch errs.CodeOf(err) {
	case errs.CodeInvalid:
		writeError(w, http.StatusBadRequest, err.Error())
	case errs.CodeNotFound:
		writeError(w, http.StatusNotFound, err.Error())
	case errs.CodeConflict:
		writeError(w, http.StatusConflict, err.Error())
	case errs.CodeCommandRejected:
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errs.CodeUnavailable:
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errs.CodeNetwork:
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeOpenSessionPayload(r *http.Request) (openSessionPayload, error) {
	defer func() {
		_ = r.Body.Close()
	}()
	var payload openSessionPayload
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(&payload); err != nil {
		return payload, fmt.Errorf("decode payload: %w", err)
	}
	payload.SubscriptionID = strings.TrimSpace(payload.SubscriptionID)
	return payload, nil
}

func limitRequestBody(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
}

func writeDecodeError(w http.ResponseWriter, err error) {
	if isRequestTooLarge(err) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

func isRequestTooLarge(err error) bool {
	var maxBytesErr *http.MaxBytesError
	return errors.As(err, &maxBytesErr)
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": message})
}

func withCORS(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
