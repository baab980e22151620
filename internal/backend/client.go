// Package backend implements the HTTP client for the subscription read and
// strategy action APIs consumed by the monitoring layer.
package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/coachpo/stratwatch/errs"
	"github.com/coachpo/stratwatch/internal/schema"
)

// TokenFunc supplies the bearer token for authenticated requests. Auth state
// is injected here rather than read from ambient globals.
type TokenFunc func() string

// Client talks to the trading backend's subscription and portfolio surfaces.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      TokenFunc
}

// NewClient creates a backend client with the provided base URL and timeout.
func NewClient(baseURL string, timeout time.Duration, token TokenFunc) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	client := new(http.Client)
	client.Timeout = timeout
	return &Client{
		httpClient: client,
		baseURL:    baseURL,
		token:      token,
	}
}

type subscriptionPayload struct {
	SubscriptionID string          `json:"subscriptionId"`
	Status         string          `json:"status"`
	TotalPnl       json.RawMessage `json:"totalPnl"`
	TodayPnl       json.RawMessage `json:"todayPnl"`
	Symbols        []string        `json:"symbols"`
}

type portfolioPayload struct {
	Positions []schema.Position    `json:"positions"`
	Orders    []schema.OrderRecord `json:"orders"`
}

type errorPayload struct {
	Error string `json:"error"`
}

// Snapshot reads the authoritative subscription state plus the caller's
// portfolio (positions and recent orders) in one logical operation.
func (c *Client) Snapshot(ctx context.Context, subscriptionID string) (schema.Snapshot, error) {
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return schema.Snapshot{}, errs.New("backend", errs.CodeInvalid, errs.WithMessage("subscription id required"))
	}

	var sub subscriptionPayload
	if err := c.getJSON(ctx, "/v1/subscriptions/"+url.PathEscape(subscriptionID), &sub); err != nil {
		return schema.Snapshot{}, err
	}
	snap, err := buildSnapshot(sub)
	if err != nil {
		return schema.Snapshot{}, err
	}

	var portfolio portfolioPayload
	if err := c.getJSON(ctx, "/v1/portfolio", &portfolio); err != nil {
		return schema.Snapshot{}, err
	}
	snap.Positions = portfolio.Positions
	snap.Orders = portfolio.Orders
	return snap, nil
}

// SendAction submits a strategy lifecycle action. On success the backend
// returns the updated subscription state, which callers apply through the
// same path as a polled snapshot.
func (c *Client) SendAction(ctx context.Context, subscriptionID string, action schema.Action) (schema.Snapshot, error) {
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return schema.Snapshot{}, errs.New("backend", errs.CodeInvalid, errs.WithMessage("subscription id required"))
	}
	if err := action.Validate(); err != nil {
		return schema.Snapshot{}, errs.New("backend", errs.CodeInvalid, errs.WithCause(err))
	}

	body, err := json.Marshal(map[string]string{"action": string(action)})
	if err != nil {
		return schema.Snapshot{}, fmt.Errorf("marshal action request: %w", err)
	}

	endpoint := c.baseURL + "/v1/subscriptions/" + url.PathEscape(subscriptionID) + "/actions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return schema.Snapshot{}, fmt.Errorf("create action request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return schema.Snapshot{}, errs.New("backend", errs.CodeNetwork, errs.WithCause(err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return schema.Snapshot{}, errs.New("backend", errs.CodeNetwork, errs.WithCause(err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		reason := decodeReason(payload)
		return schema.Snapshot{}, errs.New("backend", errs.CodeCommandRejected,
			errs.WithHTTP(resp.StatusCode),
			errs.WithMessage(fmt.Sprintf("%s rejected", action)),
			errs.WithReason(reason))
	}

	var sub subscriptionPayload
	if err := json.Unmarshal(payload, &sub); err != nil {
		return schema.Snapshot{}, errs.New("backend", errs.CodeBackend,
			errs.WithMessage("malformed action response"), errs.WithCause(err))
	}
	return buildSnapshot(sub)
}

func (c *Client) getJSON(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errs.New("backend", errs.CodeNetwork, errs.WithCause(err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.New("backend", errs.CodeNetwork, errs.WithCause(err))
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errs.New("backend", errs.CodeNotFound, errs.WithHTTP(resp.StatusCode), errs.WithReason(decodeReason(payload)))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return errs.New("backend", errs.CodeBackend, errs.WithHTTP(resp.StatusCode), errs.WithReason(decodeReason(payload)))
	}

	if err := json.Unmarshal(payload, dest); err != nil {
		return errs.New("backend", errs.CodeBackend, errs.WithMessage("malformed response"), errs.WithCause(err))
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token == nil {
		return
	}
	if token := strings.TrimSpace(c.token()); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func buildSnapshot(payload subscriptionPayload) (schema.Snapshot, error) {
	status, err := schema.ParseStatus(payload.Status)
	if err != nil {
		return schema.Snapshot{}, errs.New("backend", errs.CodeBackend, errs.WithCause(err))
	}
	snap := schema.Snapshot{
		SubscriptionID: payload.SubscriptionID,
		Status:         status,
		Symbols:        payload.Symbols,
	}
	if len(payload.TotalPnl) > 0 {
		if err := json.Unmarshal(payload.TotalPnl, &snap.TotalPnl); err != nil {
			return schema.Snapshot{}, errs.New("backend", errs.CodeBackend,
				errs.WithMessage("malformed totalPnl"), errs.WithCause(err))
		}
	}
	if len(payload.TodayPnl) > 0 {
		if err := json.Unmarshal(payload.TodayPnl, &snap.TodayPnl); err != nil {
			return schema.Snapshot{}, errs.New("backend", errs.CodeBackend,
				errs.WithMessage("malformed todayPnl"), errs.WithCause(err))
		}
	}
	return snap, nil
}

func decodeReason(payload []byte) string {
	var envelope errorPayload
	if err := json.Unmarshal(payload, &envelope); err == nil && envelope.Error != "" {
		return envelope.Error
	}
	return strings.TrimSpace(string(payload))
}
