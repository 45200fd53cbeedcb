package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/capturekit/server/internal/status"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixedSnapshot struct{ version string }

func (f fixedSnapshot) Snapshot(context.Context) status.CombinedStatus {
	return status.CombinedStatus{Info: status.Info{Version: f.version}}
}

func validToken(token string) error {
	if token != "good" {
		return errors.New("bad token")
	}
	return nil
}

type wsFixture struct {
	hub    *Hub
	url    string
	cancel context.CancelFunc
	done   chan struct{}
}

func startHub(t *testing.T, pub EventPublisher, sub EventSubscriber) *wsFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hub := NewHub(nil, fixedSnapshot{version: "test"}, time.Hour, pub, sub)
	r := gin.New()
	r.GET("/ws/status", ServeWs(hub, hub.logger, validToken))
	srv := httptest.NewServer(r)

	ctx, cancel := context.WithCancel(context.Background())
	f := &wsFixture{hub: hub, url: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/status", cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(f.done)
		assert.NoError(t, hub.Run(ctx))
	}()
	t.Cleanup(func() {
		cancel()
		<-f.done
		srv.Close()
	})
	return f
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url+"?token=good", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestServeWs_RejectsMissingOrBadToken(t *testing.T) {
	f := startHub(t, nil, nil)
	for _, q := range []string{"", "?token=bad"} {
		_, resp, err := websocket.DefaultDialer.Dial(f.url+q, nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		_ = resp.Body.Close()
	}
}

func TestServeWs_InitialSnapshotAndOnRequest(t *testing.T) {
	f := startHub(t, nil, nil)
	conn := dial(t, f.url)

	msg := readEvent(t, conn)
	assert.Equal(t, EventStatus, msg.Event)
	var st status.CombinedStatus
	require.NoError(t, json.Unmarshal(msg.Data, &st))
	assert.Equal(t, "test", st.Version)

	require.NoError(t, conn.WriteJSON(WSMessage{Event: EventStatus}))
	assert.Equal(t, EventStatus, readEvent(t, conn).Event)
}

func TestHub_PublishLocal(t *testing.T) {
	f := startHub(t, nil, nil)
	conn := dial(t, f.url)
	readEvent(t, conn)

	require.NoError(t, f.hub.Publish(context.Background(), "capture_started", map[string]string{"session_id": "s1"}))
	msg := readEvent(t, conn)
	assert.Equal(t, "capture_started", msg.Event)
	assert.JSONEq(t, `{"session_id":"s1"}`, string(msg.Data))
}

func TestHub_PublishThroughRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	ps := NewRedisPubSub(rdb, nil)

	f := startHub(t, ps, ps)
	conn := dial(t, f.url)
	readEvent(t, conn)

	// the subscription is set up asynchronously by Run
	require.Eventually(t, func() bool {
		return len(mr.PubSubChannels("")) == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, f.hub.Publish(context.Background(), "capture_finished", map[string]string{"session_id": "s2"}))
	msg := readEvent(t, conn)
	assert.Equal(t, "capture_finished", msg.Event)
	assert.JSONEq(t, `{"session_id":"s2"}`, string(msg.Data))
}

func TestHub_RunClosesClients(t *testing.T) {
	f := startHub(t, nil, nil)
	conn := dial(t, f.url)
	readEvent(t, conn)
	require.Eventually(t, func() bool { return f.hub.Count() == 1 }, time.Second, 5*time.Millisecond)

	f.cancel()
	<-f.done
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Zero(t, f.hub.Count())
}
