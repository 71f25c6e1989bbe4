package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/adwski/waypoint/backend/directory"
	"github.com/adwski/waypoint/backend/model"
	"github.com/adwski/waypoint/backend/registry"
	"github.com/adwski/waypoint/backend/service"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	relay *service.Relay
	srv   *Server
	url   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvKeepalive(t, 0, 0)
}

func newTestEnvKeepalive(t *testing.T, pingInterval, pongWait time.Duration) *testEnv {
	t.Helper()
	logger := zerolog.Nop()
	relay := service.NewRelay(service.RelayConfig{
		Directory:  directory.New(&logger),
		Registry:   registry.New(),
		Logger:     &logger,
		CodeLength: 6,
	})
	srv := NewServer(Config{
		Logger:       &logger,
		RelayService: relay,
		OutboxSize:   16,
		PingInterval: pingInterval,
		PongWait:     pongWait,
	})
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(func() {
		srv.CloseConnections()
		ts.Close()
	})
	return &testEnv{
		relay: relay,
		srv:   srv,
		url:   "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
	}
}

func (env *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(env.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	assert.JSONEq(t, `{"type":"welcome","message":"Welcome to the location relay"}`, read(t, conn))
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
}

func read(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, b, err := conn.ReadMessage()
	require.NoError(t, err)
	return string(b)
}

func assertNothing(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, b, err := conn.ReadMessage()
	assert.Error(t, err, "unexpected message %s", b)
}

func decodeAdvertising(t *testing.T, raw string) string {
	t.Helper()
	msg, err := model.DecodeMessage([]byte(raw))
	require.NoError(t, err)
	adv, ok := msg.(model.Advertising)
	require.True(t, ok, raw)
	return adv.Code
}

func TestRelay_Scenario(t *testing.T) {
	env := newTestEnv(t)
	x := env.dial(t)
	y := env.dial(t)

	send(t, x, `{"type":"advertise"}`)
	c := decodeAdvertising(t, read(t, x))
	assert.Regexp(t, `^[A-Z0-9]{6}$`, c)

	send(t, y, `{"type":"subscribe","code":"`+c+`"}`)
	assert.Equal(t, `{"type":"subscribed","code":"`+c+`"}`, read(t, y))

	send(t, x, `{"type":"location","location":{"lat":1,"lon":2},"route":[]}`)
	assert.Equal(t, `{"type":"location","location":{"lat":1,"lon":2},"route":[]}`, read(t, y))
	assertNothing(t, x)
}

func TestRelay_SubscribeUnknownCode(t *testing.T) {
	env := newTestEnv(t)
	y := env.dial(t)

	send(t, y, `{"type":"subscribe","code":"ZZZZZZ"}`)
	assert.Equal(t, `{"type":"error","message":"Invalid or unknown code"}`, read(t, y))

	send(t, y, `{"type":"dance"}`)
	assert.Equal(t, `{"type":"error","message":"Unknown message type"}`, read(t, y))

	send(t, y, `{"type":"advertise","code":"ABC123"}`)
	assert.Equal(t, `{"type":"advertising","code":"ABC123"}`, read(t, y))
}

func TestRelay_SubscriberDisconnect(t *testing.T) {
	env := newTestEnv(t)
	x := env.dial(t)
	y := env.dial(t)

	send(t, x, `{"type":"advertise","code":"ROUTE1"}`)
	read(t, x)
	send(t, y, `{"type":"subscribe","code":"ROUTE1"}`)
	read(t, y)

	require.NoError(t, y.Close())
	require.Eventually(t, func() bool {
		return env.relay.Stats().Connections == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, env.relay.Stats().Codes)

	send(t, x, `{"type":"location","location":{}}`)
	assertNothing(t, x)

	z := env.dial(t)
	send(t, z, `{"type":"subscribe","code":"ROUTE1"}`)
	assert.Equal(t, `{"type":"error","message":"Invalid or unknown code"}`, read(t, z))
}

func TestRelay_CloseConnections(t *testing.T) {
	env := newTestEnv(t)
	x := env.dial(t)
	y := env.dial(t)

	send(t, x, `{"type":"advertise","code":"ROUTE2"}`)
	read(t, x)
	send(t, y, `{"type":"subscribe","code":"ROUTE2"}`)
	read(t, y)

	env.srv.CloseConnections()
	assert.Equal(t, model.RelayStats{}, env.relay.Stats())

	require.NoError(t, y.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := y.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestRelay_TrafficKeepsConnectionAlive(t *testing.T) {
	env := newTestEnvKeepalive(t, 50*time.Millisecond, 300*time.Millisecond)
	x := env.dial(t)

	// x does not read, so pings stay unanswered while it keeps sending
	for range 10 {
		send(t, x, `{"type":"location","location":{}}`)
		time.Sleep(100 * time.Millisecond)
	}
	assert.Equal(t, 1, env.relay.Stats().Connections)

	send(t, x, `{"type":"advertise","code":"ALIVE1"}`)
	assert.Equal(t, `{"type":"advertising","code":"ALIVE1"}`, read(t, x))
}

func TestRelay_SilentClientIsDropped(t *testing.T) {
	env := newTestEnvKeepalive(t, 50*time.Millisecond, 300*time.Millisecond)
	x := env.dial(t)

	send(t, x, `{"type":"advertise","code":"QUIET1"}`)
	require.Eventually(t, func() bool {
		return env.relay.Stats() == model.RelayStats{}
	}, 3*time.Second, 20*time.Millisecond)
}

func TestRelay_NoConnectionsAfterClose(t *testing.T) {
	env := newTestEnv(t)

	var (
		wg   sync.WaitGroup
		stop = make(chan struct{})
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				conn, _, err := websocket.DefaultDialer.Dial(env.url, nil)
				if err != nil {
					continue
				}
				_ = conn.Close()
			}
		}()
	}

	time.Sleep(50 * time.Millisecond)
	env.srv.CloseConnections()
	assert.Equal(t, model.RelayStats{}, env.relay.Stats())

	time.Sleep(50 * time.Millisecond)
	close(stop)
	wg.Wait()
	assert.Equal(t, model.RelayStats{}, env.relay.Stats())

	_, resp, err := websocket.DefaultDialer.Dial(env.url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	_ = resp.Body.Close()
}
