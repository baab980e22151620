// Package schema defines the canonical monitoring data model shared across layers.
package schema

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status enumerates the lifecycle states of a strategy subscription.
type Status string

const (
	// StatusInactive marks a subscription that has never been started.
	StatusInactive Status = "inactive"
	// StatusActive marks a running subscription.
	StatusActive Status = "active"
	// StatusPaused marks a temporarily halted subscription.
	StatusPaused Status = "paused"
	// StatusStopped marks a terminally halted subscription.
	StatusStopped Status = "stopped"
)

// ParseStatus normalises and validates a wire-format status value.
func ParseStatus(raw string) (Status, error) {
	status := Status(strings.ToLower(strings.TrimSpace(raw)))
	if err := status.Validate(); err != nil {
		return "", err
	}
	return status, nil
}

// Validate reports whether the status is one of the known lifecycle states.
func (s Status) Validate() error {
	switch s {
	case StatusInactive, StatusActive, StatusPaused, StatusStopped:
		return nil
	default:
		return fmt.Errorf("unknown subscription status %q", string(s))
	}
}

// Connectivity reflects whether the push channel is currently established.
type Connectivity string

const (
	// ConnectivityConnected marks a live push channel.
	ConnectivityConnected Connectivity = "connected"
	// ConnectivityDisconnected marks a lost or never-established push channel.
	ConnectivityDisconnected Connectivity = "disconnected"
)

// Position describes an open position attributed to the monitored subscription.
type Position struct {
	Symbol        string          `json:"symbol"`
	Quantity      decimal.Decimal `json:"quantity"`
	AvgPrice      decimal.Decimal `json:"avgPrice"`
	UnrealizedPnl decimal.Decimal `json:"unrealizedPnl"`
}

// OrderRecord describes a recent order attributed to the monitored subscription.
type OrderRecord struct {
	ID       string          `json:"id"`
	Symbol   string          `json:"symbol"`
	Side     string          `json:"side"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Status   string          `json:"status"`
	PlacedAt time.Time       `json:"placedAt"`
}

// Snapshot is a full authoritative read of subscription and portfolio state.
type Snapshot struct {
	SubscriptionID string          `json:"subscriptionId"`
	Status         Status          `json:"status"`
	TotalPnl       decimal.Decimal `json:"totalPnl"`
	TodayPnl       decimal.Decimal `json:"todayPnl"`
	Symbols        []string        `json:"symbols"`
	Positions      []Position      `json:"positions"`
	Orders         []OrderRecord   `json:"orders"`
}

// FilterToSymbols narrows positions and orders to the subscription's instruments.
// An empty symbol set keeps everything; the backend portfolio read is account-wide.
func (s Snapshot) FilterToSymbols() Snapshot {
	if len(s.Symbols) == 0 {
		return s
	}
	allowed := make(map[string]struct{}, len(s.Symbols))
	for _, symbol := range s.Symbols {
		allowed[strings.ToUpper(strings.TrimSpace(symbol))] = struct{}{}
	}

	filtered := s
	filtered.Positions = make([]Position, 0, len(s.Positions))
	for _, pos := range s.Positions {
		if _, ok := allowed[strings.ToUpper(pos.Symbol)]; ok {
			filtered.Positions = append(filtered.Positions, pos)
		}
	}
	filtered.Orders = make([]OrderRecord, 0, len(s.Orders))
	for _, ord := range s.Orders {
		if _, ok := allowed[strings.ToUpper(ord.Symbol)]; ok {
			filtered.Orders = append(filtered.Orders, ord)
		}
	}
	return filtered
}
