package polymarket

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newWSServer runs an in-process websocket endpoint that records the first
// frame of every connection and discards the rest.
func newWSServer(t *testing.T) (wsURL string, firstFrame <-chan []byte) {
	t.Helper()

	frames := make(chan []byte, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for first := true; ; first = false {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if first {
				select {
				case frames <- raw:
				default:
				}
			}
		}
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http"), frames
}

func wsTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMarketStreamConnectSubscribes(t *testing.T) {
	wsURL, frames := newWSServer(t)

	s := NewMarketStream(wsURL, wsTestLogger())
	require.NoError(t, s.Connect(context.Background(), []string{"tok-a", "tok-b"}))
	defer s.Disconnect()

	assert.Equal(t, StateSubscribed, s.State())

	select {
	case raw := <-frames:
		var sub wsSubscribe
		require.NoError(t, json.Unmarshal(raw, &sub))
		assert.Equal(t, "market", sub.Type)
		assert.Equal(t, []string{"tok-a", "tok-b"}, sub.AssetIDs)
	case <-time.After(2 * time.Second):
		t.Fatal("no subscription frame received")
	}
}

func TestMarketStreamRejectsDoubleConnect(t *testing.T) {
	wsURL, _ := newWSServer(t)

	s := NewMarketStream(wsURL, wsTestLogger())
	require.NoError(t, s.Connect(context.Background(), []string{"tok-a"}))
	defer s.Disconnect()

	err := s.Connect(context.Background(), []string{"tok-a"})
	require.Error(t, err)
}

// The transport permits only one writer at a time; the keep-alive goroutine
// and Disconnect must never write simultaneously. Hammer the shared write
// path from several goroutines while disconnecting mid-flight.
func TestMarketStreamSerializesConcurrentWrites(t *testing.T) {
	wsURL, _ := newWSServer(t)

	s := NewMarketStream(wsURL, wsTestLogger())
	require.NoError(t, s.Connect(context.Background(), []string{"tok-a"}))

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	require.NotNil(t, conn)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				// Errors are expected once Disconnect closes the
				// connection; the assertion is that nothing panics.
				_ = s.writeMessage(conn, websocket.TextMessage, []byte("PING"))
			}
		}()
	}

	time.Sleep(5 * time.Millisecond)
	_ = s.Disconnect()
	wg.Wait()

	assert.Equal(t, StateDisconnected, s.State())
}

func TestMarketStreamDisconnectIdempotent(t *testing.T) {
	wsURL, _ := newWSServer(t)

	s := NewMarketStream(wsURL, wsTestLogger())
	require.NoError(t, s.Connect(context.Background(), []string{"tok-a"}))

	require.NoError(t, s.Disconnect())
	require.NoError(t, s.Disconnect())
	assert.Equal(t, StateDisconnected, s.State())
}
