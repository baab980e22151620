package schema

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// EventType names a category of activity event. The set is open: unknown
// future types are carried through and rendered, never rejected.
type EventType string

const (
	// EventTypeOrder marks an order fill or placement event.
	EventTypeOrder EventType = "order"
	// EventTypePosition marks a position open/close/resize event.
	EventTypePosition EventType = "position"
)

// ActivityEvent is a display-only entry in the per-session activity log.
type ActivityEvent struct {
	Timestamp time.Time       `json:"timestamp"`
	Type      EventType       `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

// DedupKey returns the structural identity used to drop exact resends.
func (e ActivityEvent) DedupKey() string {
	var b strings.Builder
	b.WriteString(string(e.Type))
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(e.Timestamp.UnixMilli(), 10))
	b.WriteByte('|')
	b.Write(e.Payload)
	return b.String()
}

// LiveUpdate is a push-delivered, best-effort message describing a state
// change or activity item. State-bearing fields are nil when absent.
type LiveUpdate struct {
	Timestamp time.Time
	Status    *Status
	TotalPnl  *decimal.Decimal
	TodayPnl  *decimal.Decimal
	Event     *ActivityEvent
}

// CarriesState reports whether the update mutates status or P&L fields.
func (u LiveUpdate) CarriesState() bool {
	return u.Status != nil || u.TotalPnl != nil || u.TodayPnl != nil
}

// Frame kinds recognised on the stream transport. Frames carrying any other
// kind are treated as activity events of that kind.
const (
	frameKindHeartbeat = "heartbeat"
	frameKindStatus    = "status"
	frameKindPnl       = "pnl"
)

// StreamFrame is the wire envelope delivered on the per-subscription channel.
type StreamFrame struct {
	Kind      string          `json:"type"`
	Timestamp int64           `json:"ts"`
	Payload   json.RawMessage `json:"payload"`
}

type statusPayload struct {
	Status string `json:"status"`
}

type pnlPayload struct {
	TotalPnl *decimal.Decimal `json:"totalPnl"`
	TodayPnl *decimal.Decimal `json:"todayPnl"`
}

// StreamMessage is the decoded form of one stream frame.
type StreamMessage struct {
	// Heartbeat is true for connectivity pulses; such frames carry no update.
	Heartbeat bool
	Update    LiveUpdate
}

// DecodeStreamFrame parses a raw transport frame into a stream message.
// Malformed frames return an error and must be dropped by the caller.
func DecodeStreamFrame(data []byte) (StreamMessage, error) {
	var frame StreamFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return StreamMessage{}, fmt.Errorf("decode stream frame: %w", err)
	}

	kind := strings.ToLower(strings.TrimSpace(frame.Kind))
	if kind == "" {
		return StreamMessage{}, fmt.Errorf("stream frame missing type")
	}
	if kind == frameKindHeartbeat {
		return StreamMessage{Heartbeat: true}, nil
	}
	if frame.Timestamp <= 0 {
		return StreamMessage{}, fmt.Errorf("stream frame %q missing timestamp", kind)
	}
	ts := time.UnixMilli(frame.Timestamp).UTC()

	switch kind {
	case frameKindStatus:
		var payload statusPayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			return StreamMessage{}, fmt.Errorf("decode status payload: %w", err)
		}
		status, err := ParseStatus(payload.Status)
		if err != nil {
			return StreamMessage{}, err
		}
		return StreamMessage{Update: LiveUpdate{Timestamp: ts, Status: &status}}, nil
	case frameKindPnl:
		var payload pnlPayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			return StreamMessage{}, fmt.Errorf("decode pnl payload: %w", err)
		}
		if payload.TotalPnl == nil && payload.TodayPnl == nil {
			return StreamMessage{}, fmt.Errorf("pnl frame carries no amounts")
		}
		return StreamMessage{Update: LiveUpdate{
			Timestamp: ts,
			TotalPnl:  payload.TotalPnl,
			TodayPnl:  payload.TodayPnl,
		}}, nil
	default:
		event := ActivityEvent{
			Timestamp: ts,
			Type:      EventType(kind),
			Payload:   append(json.RawMessage(nil), frame.Payload...),
		}
		return StreamMessage{Update: LiveUpdate{Timestamp: ts, Event: &event}}, nil
	}
}
