package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raaihank/phi-sentinel/internal/audit"
	"github.com/raaihank/phi-sentinel/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testHubConfig() config.WebSocketConfig {
	cfg := config.GetDefaults().WebSocket
	cfg.Username = "admin"
	cfg.Password = "s3cret"
	cfg.Events.BroadcastConnections = false
	return cfg
}

func startHub(t *testing.T, cfg config.WebSocketConfig) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(cfg, zap.NewNop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, hub *Hub, srv *httptest.Server, user, pass string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	header := http.Header{}
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.SetBasicAuth(user, pass)
	header.Set("Authorization", req.Header.Get("Authorization"))

	before := hub.GetStats().TotalConnections
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool {
		return hub.GetStats().TotalConnections > before
	}, 2*time.Second, 10*time.Millisecond)
	return conn
}

type wireEvent struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

func readEvent(t *testing.T, conn *websocket.Conn) wireEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev wireEvent
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestHubAuth(t *testing.T) {
	_, srv := startHub(t, testHubConfig())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHubAlert(t *testing.T) {
	hub, srv := startHub(t, testHubConfig())
	conn := dial(t, hub, srv, "admin", "s3cret")

	event := audit.Event{ID: "evt-1", Action: audit.ActionPHIDetected, RiskLevel: audit.RiskHigh, UserID: "alice"}
	require.NoError(t, hub.Alert(context.Background(), event))

	got := readEvent(t, conn)
	assert.Equal(t, EventTypeHighRiskAlert, got.Type)

	var data audit.Event
	require.NoError(t, json.Unmarshal(got.Data, &data))
	assert.Equal(t, "evt-1", data.ID)
	assert.Equal(t, audit.RiskHigh, data.RiskLevel)
}

func TestHubAuditStream(t *testing.T) {
	hub, srv := startHub(t, testHubConfig())
	conn := dial(t, hub, srv, "admin", "s3cret")

	hub.OnEvent(audit.Event{ID: "evt-2", Action: audit.ActionPHIRedacted, RiskLevel: audit.RiskMedium})

	got := readEvent(t, conn)
	assert.Equal(t, EventTypeAudit, got.Type)
}

func TestHubPing(t *testing.T) {
	hub, srv := startHub(t, testHubConfig())
	conn := dial(t, hub, srv, "admin", "s3cret")

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "ping"}))
	assert.Equal(t, EventTypePong, readEvent(t, conn).Type)
}

func TestHubDisabledEvents(t *testing.T) {
	cfg := testHubConfig()
	cfg.Events.BroadcastAlerts = false
	cfg.Events.BroadcastAudit = false
	hub := NewHub(cfg, zap.NewNop(), nil)

	assert.NoError(t, hub.Alert(context.Background(), audit.Event{RiskLevel: audit.RiskCritical}))
	hub.OnEvent(audit.Event{})
	assert.Len(t, hub.broadcast, 0)
}

func TestHubBroadcastDropped(t *testing.T) {
	hub := NewHub(testHubConfig(), zap.NewNop(), nil)
	for i := 0; i < cap(hub.broadcast); i++ {
		require.True(t, hub.BroadcastEvent(Event{Type: EventTypeAudit}))
	}
	err := hub.Alert(context.Background(), audit.Event{RiskLevel: audit.RiskHigh})
	assert.ErrorIs(t, err, ErrBroadcastDropped)
}

func TestShouldSendToClient(t *testing.T) {
	high := Event{Type: EventTypeHighRiskAlert, Data: audit.Event{Action: audit.ActionPHIDetected, RiskLevel: audit.RiskHigh, UserID: "alice"}}
	low := Event{Type: EventTypeAudit, Data: audit.Event{Action: audit.ActionFileUploaded, RiskLevel: audit.RiskLow, UserID: "bob"}}

	tests := []struct {
		name string
		sub  *SubscriptionRequest
		want []bool
	}{
		{"no subscription", nil, []bool{true, true}},
		{"alerts only", &SubscriptionRequest{Events: []EventType{EventTypeHighRiskAlert}}, []bool{true, false}},
		{"min risk", &SubscriptionRequest{
			Events: []EventType{EventTypeAudit, EventTypeHighRiskAlert},
			Filter: &EventFilter{MinRiskLevel: audit.RiskMedium},
		}, []bool{true, false}},
		{"user filter", &SubscriptionRequest{
			Events: []EventType{EventTypeAudit, EventTypeHighRiskAlert},
			Filter: &EventFilter{UserIDs: []string{"bob"}},
		}, []bool{false, true}},
		{"action filter", &SubscriptionRequest{
			Events: []EventType{EventTypeAudit, EventTypeHighRiskAlert},
			Filter: &EventFilter{Actions: []audit.Action{audit.ActionPHIDetected}},
		}, []bool{true, false}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Client{}
			c.setSubscription(tt.sub)
			assert.Equal(t, tt.want, []bool{shouldSendToClient(c, high), shouldSendToClient(c, low)})
		})
	}
}

func TestCheckOrigin(t *testing.T) {
	cfg := testHubConfig()
	cfg.AllowedOrigins = []string{"https://dash.example.com"}
	hub := NewHub(cfg, zap.NewNop(), nil)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, hub.checkOrigin(req))
	req.Header.Set("Origin", "https://dash.example.com")
	assert.True(t, hub.checkOrigin(req))
	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, hub.checkOrigin(req))
}
