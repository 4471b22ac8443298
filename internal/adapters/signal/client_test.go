package signal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dkeye/meet/internal/core"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wsServer accepts websocket connections and hands each to the test.
type wsServer struct {
	*httptest.Server
	conns chan *websocket.Conn
}

func newWSServer(t *testing.T) *wsServer {
	s := &wsServer{conns: make(chan *websocket.Conn, 4)}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.conns <- conn
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *wsServer) url() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *wsServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-s.conns:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("no connection")
		return nil
	}
}

func newTestClient(url string) *Client {
	return NewClient(Options{
		URL:        url,
		SendBuffer: 4,
		NewBackOff: func() backoff.BackOff { return backoff.NewConstantBackOff(10 * time.Millisecond) },
	})
}

func runClient(t *testing.T, c *Client) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestClientDeliversBothWays(t *testing.T) {
	srv := newWSServer(t)
	c := newTestClient(srv.url())

	got := make(chan string, 1)
	c.Subscribe(core.EventPeerLeft, func(ev core.Event) {
		var p core.PeerLeftPayload
		if ev.Decode(&p) == nil {
			got <- p.ID
		}
	})

	// Queued before the connection exists.
	require.NoError(t, c.Emit(core.EventRequestRoster, core.RequestRosterPayload{RoomID: "main"}))
	runClient(t, c)
	conn := srv.accept(t)
	defer conn.Close()

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"request-roster","payload":{"roomId":"main"}}`, string(data))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("garbage")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"peer-left","payload":{"id":"x"}}`)))
	select {
	case id := <-got:
		assert.Equal(t, "x", id)
	case <-time.After(5 * time.Second):
		t.Fatal("event not delivered")
	}
	assert.Equal(t, core.StatusOpen, c.Status())
}

func TestClientResyncOnlyOnReconnect(t *testing.T) {
	srv := newWSServer(t)
	c := newTestClient(srv.url())

	var mu sync.Mutex
	var statuses []core.ConnectionStatus
	c.OnStatus(func(s core.ConnectionStatus) {
		mu.Lock()
		statuses = append(statuses, s)
		mu.Unlock()
	})
	resyncs := make(chan struct{}, 4)
	c.Subscribe(core.EventResyncRequired, func(core.Event) { resyncs <- struct{}{} })

	runClient(t, c)
	first := srv.accept(t)
	select {
	case <-resyncs:
		t.Fatal("resync on first connect")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, first.Close())
	second := srv.accept(t)
	defer second.Close()

	select {
	case <-resyncs:
	case <-time.After(5 * time.Second):
		t.Fatal("no resync after reconnect")
	}
	select {
	case <-resyncs:
		t.Fatal("resync dispatched twice")
	case <-time.After(100 * time.Millisecond):
	}

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(statuses), 3)
	assert.Equal(t, core.StatusOpen, statuses[0])
	assert.Equal(t, core.StatusReconnecting, statuses[1])
	assert.Equal(t, core.StatusOpen, statuses[2])
}

func TestClientQueueSurvivesReconnect(t *testing.T) {
	srv := newWSServer(t)
	c := newTestClient(srv.url())
	lost := make(chan struct{}, 1)
	c.OnStatus(func(s core.ConnectionStatus) {
		if s == core.StatusReconnecting {
			lost <- struct{}{}
		}
	})
	runClient(t, c)

	first := srv.accept(t)
	require.NoError(t, first.Close())
	select {
	case <-lost:
	case <-time.After(5 * time.Second):
		t.Fatal("disconnect not noticed")
	}
	require.NoError(t, c.Emit(core.EventLeaveRoom, core.LeaveRoomPayload{RoomID: "main", ID: "a"}))

	second := srv.accept(t)
	defer second.Close()
	_ = second.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := second.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"leave-room"`)
}

func TestClientBackpressure(t *testing.T) {
	c := NewClient(Options{URL: "ws://unused", SendBuffer: 1})
	require.NoError(t, c.Emit(core.EventLeaveRoom, nil))
	assert.ErrorIs(t, c.Emit(core.EventLeaveRoom, nil), ErrBackpressure)
	assert.Equal(t, core.StatusConnecting, c.Status())
}

func TestClientMsgpackUsesBinaryFrames(t *testing.T) {
	srv := newWSServer(t)
	c := NewClient(Options{URL: srv.url(), Codec: MsgpackCodec{}})
	require.NoError(t, c.Emit(core.EventPeerLeft, core.PeerLeftPayload{ID: "x"}))
	runClient(t, c)

	conn := srv.accept(t)
	defer conn.Close()
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, kind)

	ev, err := MsgpackCodec{}.Decode(data)
	require.NoError(t, err)
	var p core.PeerLeftPayload
	require.NoError(t, ev.Decode(&p))
	assert.Equal(t, "x", p.ID)
}
