package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/radieske/betting-house/internal/journal"
	"github.com/radieske/betting-house/internal/projection"
)

func dial(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(v))
}

func TestSubscribeAndReceiveMarketEvents(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t), func(*http.Request) bool { return true })
	conn := dial(t, h)

	require.NoError(t, conn.WriteJSON(ClientMsg{Type: "subscribe", MarketID: "M1"}))
	var ack map[string]string
	readJSON(t, conn, &ack)
	assert.Equal(t, "subscribed", ack["type"])
	assert.Equal(t, 1, h.Subscribers("M1"))

	require.NoError(t, h.Apply(context.Background(), journal.Record{
		EntityType: "market", EntityID: "M2", EventType: "Opened", Payload: []byte(`{}`),
	}))
	require.NoError(t, h.Apply(context.Background(), journal.Record{
		EntityType: "market", EntityID: "M1", SeqNr: 2, EventType: "Closed",
		Payload: []byte(`{"marketId":"M1","result":1}`),
	}))

	var got projection.MarketEvent
	readJSON(t, conn, &got)
	assert.Equal(t, "M1", got.MarketID)
	assert.Equal(t, "Closed", got.Type)
	assert.Equal(t, int64(2), got.SeqNr)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(got.Payload, &payload))
	assert.EqualValues(t, 1, payload["result"])
}

func TestPingAndUnsubscribe(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t), func(*http.Request) bool { return true })
	conn := dial(t, h)

	require.NoError(t, conn.WriteJSON(ClientMsg{Type: "subscribe", MarketID: "M1"}))
	var msg map[string]string
	readJSON(t, conn, &msg)

	require.NoError(t, conn.WriteJSON(ClientMsg{Type: "unsubscribe", MarketID: "M1"}))
	require.NoError(t, conn.WriteJSON(ClientMsg{Type: "ping"}))
	readJSON(t, conn, &msg)
	assert.Equal(t, "pong", msg["type"])
	assert.Zero(t, h.Subscribers("M1"))
	assert.Zero(t, h.Broadcast(projection.MarketEvent{MarketID: "M1"}))
}

func TestNonMarketRecordsAreIgnored(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t), nil)
	assert.NoError(t, h.Apply(context.Background(), journal.Record{EntityType: "bet", EntityID: "B1"}))
}
