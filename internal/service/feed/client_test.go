package feed

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

	"SpinCast/pkg/logger"
)

func feedServer(t *testing.T, frames []string) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var sub map[string]string
		if err := conn.ReadJSON(&sub); err != nil || sub["type"] != "subscribe" {
			return
		}
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_ReadsOutcomes(t *testing.T) {
	srv := feedServer(t, []string{
		`{"type":"outcome","table":"t1","number":17,"timestamp":"2024-05-01T12:00:00Z"}`,
		`{"type":"heartbeat"}`,
		`not json`,
		`{"type":"outcome","table":"t1","number":"0"}`,
	})
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c := New(url, "t1", 10*time.Millisecond, time.Second, logger.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	assert.True(t, c.IsConnected())

	out, errs := c.Read(ctx)
	first := <-out
	assert.Equal(t, "feed:t1", first.Source)
	assert.Equal(t, float64(17), first.Value)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), first.At.UTC())

	second := <-out
	assert.Equal(t, "0", second.Value)
	assert.False(t, second.At.IsZero())

	err := <-errs
	assert.Error(t, err)
	assert.False(t, c.IsConnected())
	require.NoError(t, c.Close())
}

func TestClient_ReadWithoutConnect(t *testing.T) {
	c := New("ws://127.0.0.1:1", "", time.Millisecond, time.Second, logger.NewNop())
	_, errs := c.Read(context.Background())
	assert.Error(t, <-errs)
}
