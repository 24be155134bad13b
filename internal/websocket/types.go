package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raaihank/phi-sentinel/internal/audit"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeAudit carries every logged audit event
	EventTypeAudit EventType = "audit_event"
	// EventTypeHighRiskAlert carries high and critical risk audit events
	EventTypeHighRiskAlert EventType = "high_risk_alert"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
	// EventTypePong answers a client ping
	EventTypePong EventType = "pong"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action    string `json:"action"` // "connected", "disconnected"
	ClientID  string `json:"client_id"`
	ClientIP  string `json:"client_ip"`
	UserAgent string `json:"user_agent,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type string               `json:"type"`
	Data *SubscriptionRequest `json:"data,omitempty"`
}

// SubscriptionRequest narrows the events a client receives
type SubscriptionRequest struct {
	Events []EventType  `json:"events"`
	Filter *EventFilter `json:"filter,omitempty"`
}

// EventFilter applies to audit and alert events
type EventFilter struct {
	MinRiskLevel audit.RiskLevel `json:"min_risk_level,omitempty"`
	Actions      []audit.Action  `json:"actions,omitempty"`
	UserIDs      []string        `json:"user_ids,omitempty"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID          string
	conn        *websocket.Conn
	Send        chan Event
	ConnectedAt time.Time
	IP          string
	UserAgent   string

	mu           sync.RWMutex
	subscription *SubscriptionRequest
	lastPing     time.Time
}

func (c *Client) setSubscription(s *SubscriptionRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscription = s
}

func (c *Client) getSubscription() *SubscriptionRequest {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscription
}

func (c *Client) touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastPing = time.Now()
}
