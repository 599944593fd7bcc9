package finnhub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeFeed(t *testing.T, subs chan<- string) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "k" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var msg map[string]string
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		subs <- msg["symbol"]

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"trade","data":[{"s":"AAPL","p":181.5,"v":10,"t":1700000000123}]}`))
		// hold until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestStreamDeliversTrades(t *testing.T) {
	subs := make(chan string, 1)
	srv := fakeFeed(t, subs)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewStream(wsURL(srv), "k", nil, WithPingInterval(time.Hour))
	require.NoError(t, s.Connect(ctx))
	assert.True(t, s.IsConnected())
	require.NoError(t, s.Subscribe(ctx, []string{"AAPL"}))
	assert.Equal(t, "AAPL", <-subs)

	trades, _ := s.Read(ctx)
	select {
	case tr := <-trades:
		require.NotNil(t, tr)
		assert.Equal(t, "AAPL", tr.Symbol)
		assert.Equal(t, int64(1700000000), tr.Timestamp)
		assert.Equal(t, 181.5, tr.Price)
	case <-time.After(2 * time.Second):
		t.Fatal("no trade received")
	}

	require.NoError(t, s.Close())
	assert.False(t, s.IsConnected())
}

func TestStreamRequiresConnection(t *testing.T) {
	s := NewStream("ws://127.0.0.1:1", "k", nil)
	assert.ErrorIs(t, s.Subscribe(context.Background(), []string{"AAPL"}), errNotConnected)

	trades, errs := s.Read(context.Background())
	assert.ErrorIs(t, <-errs, errNotConnected)
	_, ok := <-trades
	assert.False(t, ok)
}

func TestStreamRejectedToken(t *testing.T) {
	srv := fakeFeed(t, make(chan string, 1))
	s := NewStream(wsURL(srv), "wrong", nil)
	assert.Error(t, s.Connect(context.Background()))
	assert.False(t, s.IsConnected())
}
