// Package stream maintains the push channel delivering live updates for one
// monitored subscription.
package stream

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"

	"github.com/coachpo/stratwatch/internal/observability"
	"github.com/coachpo/stratwatch/internal/schema"
	"github.com/coachpo/stratwatch/internal/telemetry"
)

// Sink receives decoded live updates and connectivity signals.
type Sink interface {
	ApplyLiveUpdate(update schema.LiveUpdate)
	ApplyConnectivity(signal schema.Connectivity)
}

// Options configures a stream client.
type Options struct {
	// StreamURL is the websocket endpoint; the subscription id is appended
	// as a query parameter.
	StreamURL string
	// Token supplies the bearer token for the handshake, if any.
	Token func() string
	// HandshakeTimeout bounds each dial attempt.
	HandshakeTimeout time.Duration
	// HeartbeatTimeout marks the connection dead when no frame arrives within it.
	HeartbeatTimeout time.Duration
	// ReconnectMinDelay floors the gap between reconnect attempts.
	ReconnectMinDelay time.Duration
	// ReconnectMaxDelay caps the exponential reconnect backoff.
	ReconnectMaxDelay time.Duration
}

func (o *Options) normalize() {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.HeartbeatTimeout <= 0 {
		o.HeartbeatTimeout = 15 * time.Second
	}
	if o.ReconnectMinDelay <= 0 {
		o.ReconnectMinDelay = time.Second
	}
	if o.ReconnectMaxDelay < o.ReconnectMinDelay {
		o.ReconnectMaxDelay = 30 * time.Second
	}
}

// Client owns the websocket connection for exactly one subscription id. At
// most one connection is live at any time; Run tears the old one down before
// opening another.
type Client struct {
	subscriptionID string
	opts           Options
	sink           Sink
	metrics        *telemetry.Metrics
}

// NewClient constructs a stream client. An empty subscription id leaves the
// client disabled: Run returns without attempting a connection.
func NewClient(subscriptionID string, opts Options, sink Sink, metrics *telemetry.Metrics) *Client {
	opts.normalize()
	return &Client{
		subscriptionID: strings.TrimSpace(subscriptionID),
		opts:           opts,
		sink:           sink,
		metrics:        metrics,
	}
}

// Run maintains the connection until the context is cancelled. Reconnection is
// automatic and unbounded, paced by exponential backoff with a configured
// floor so attempts never busy-loop.
func (c *Client) Run(ctx context.Context) {
	if c.subscriptionID == "" || strings.TrimSpace(c.opts.StreamURL) == "" {
		observability.Log().Debug("stream client disabled",
			observability.String("subscription", c.subscriptionID))
		return
	}

	endpoint, err := c.endpoint()
	if err != nil {
		observability.Log().Error("stream endpoint invalid",
			observability.String("url", c.opts.StreamURL),
			observability.Err(err))
		return
	}

	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.InitialInterval = c.opts.ReconnectMinDelay
	backoffCfg.MaxInterval = c.opts.ReconnectMaxDelay

	connectedBefore := false
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := c.dial(ctx, endpoint)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			observability.Log().Warn("stream dial failed",
				observability.String("subscription", c.subscriptionID),
				observability.Err(err))
			if !c.sleep(ctx, backoffCfg.NextBackOff()) {
				return
			}
			continue
		}

		if connectedBefore {
			c.metrics.StreamReconnected(ctx, c.subscriptionID)
		}
		connectedBefore = true
		backoffCfg.Reset()
		c.sink.ApplyConnectivity(schema.ConnectivityConnected)

		c.readLoop(ctx, conn)

		// Mark the loss immediately; the UI must reflect it without waiting
		// for a reconnect attempt to fail.
		c.sink.ApplyConnectivity(schema.ConnectivityDisconnected)
		if ctx.Err() != nil {
			return
		}
		if !c.sleep(ctx, backoffCfg.NextBackOff()) {
			return
		}
	}
}

func (c *Client) endpoint() (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(c.opts.StreamURL))
	if err != nil {
		return "", err
	}
	query := parsed.Query()
	query.Set("subscription", c.subscriptionID)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func (c *Client) dial(ctx context.Context, endpoint string) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.opts.HandshakeTimeout)
	defer cancel()

	var header http.Header
	if c.opts.Token != nil {
		if token := strings.TrimSpace(c.opts.Token()); token != "" {
			header = http.Header{}
			header.Set("Authorization", "Bearer "+token)
		}
	}

	conn, _, err := websocket.Dial(dialCtx, endpoint, &websocket.DialOptions{HTTPHeader: header}) //nolint:bodyclose
	return conn, err
}

// readLoop consumes frames until the transport drops or the heartbeat
// watchdog expires. Each read carries a deadline: a connection that stops
// delivering pulses is indistinguishable from a dead one and is torn down.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer func() {
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		readCtx, cancel := context.WithTimeout(ctx, c.opts.HeartbeatTimeout)
		msgType, data, err := conn.Read(readCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, context.DeadlineExceeded) {
				c.metrics.HeartbeatMissed(ctx, c.subscriptionID)
				observability.Log().Warn("stream heartbeat missed",
					observability.String("subscription", c.subscriptionID))
				return
			}
			observability.Log().Warn("stream read failed",
				observability.String("subscription", c.subscriptionID),
				observability.Err(err))
			return
		}
		if msgType != websocket.MessageText {
			continue
		}

		msg, err := schema.DecodeStreamFrame(data)
		if err != nil {
			// Malformed frames are infrastructure noise, never fatal.
			observability.Log().Warn("stream frame dropped",
				observability.String("subscription", c.subscriptionID),
				observability.Err(err))
			continue
		}
		if msg.Heartbeat {
			c.sink.ApplyConnectivity(schema.ConnectivityConnected)
			continue
		}
		c.sink.ApplyLiveUpdate(msg.Update)
	}
}

func (c *Client) sleep(ctx context.Context, delay time.Duration) bool {
	if delay < c.opts.ReconnectMinDelay {
		delay = c.opts.ReconnectMinDelay
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
