package webhook

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizora/quizora/pkg/quiz"
)

func dialStream(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, b *Broadcaster, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for b.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", want, b.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestBroadcaster(t *testing.T) {
	t.Run("should deliver progress events to a connected client", func(t *testing.T) {
		b := NewBroadcaster(testLogger())
		ts := httptest.NewServer(httptestHandler(b))
		defer ts.Close()

		conn := dialStream(t, ts)
		waitForClients(t, b, 1)

		b.Publish(quiz.ProgressEvent{
			Type:     "chain_started",
			ChainURL: "https://quiz.test/start",
			Time:     time.Now(),
		})

		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg EventMessage
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, "event", msg.Type)
		assert.Equal(t, "chain_started", msg.Event)
		assert.Equal(t, "https://quiz.test/start", msg.Data.ChainURL)
		assert.Equal(t, int64(1), msg.Seq)
		assert.NotZero(t, msg.Timestamp)
	})

	t.Run("should fan out to every client with increasing sequence", func(t *testing.T) {
		b := NewBroadcaster(testLogger())
		ts := httptest.NewServer(httptestHandler(b))
		defer ts.Close()

		first := dialStream(t, ts)
		second := dialStream(t, ts)
		waitForClients(t, b, 2)

		b.Publish(quiz.ProgressEvent{Type: "sweep_started", Time: time.Now()})
		b.Publish(quiz.ProgressEvent{Type: "chain_finished", Time: time.Now()})

		for _, conn := range []*websocket.Conn{first, second} {
			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			var one, two EventMessage
			require.NoError(t, conn.ReadJSON(&one))
			require.NoError(t, conn.ReadJSON(&two))
			assert.Equal(t, "sweep_started", one.Event)
			assert.Equal(t, "chain_finished", two.Event)
			assert.Greater(t, two.Seq, one.Seq)
		}
	})

	t.Run("should drop a client that disconnected", func(t *testing.T) {
		b := NewBroadcaster(testLogger())
		ts := httptest.NewServer(httptestHandler(b))
		defer ts.Close()

		conn := dialStream(t, ts)
		waitForClients(t, b, 1)

		conn.Close()
		waitForClients(t, b, 0)

		// Publishing with no clients must not panic.
		b.Publish(quiz.ProgressEvent{Type: "chain_started", Time: time.Now()})
	})

	t.Run("should drop a client that stopped draining instead of blocking", func(t *testing.T) {
		b := NewBroadcaster(testLogger())

		// A client whose queue nobody drains: its buffer fills, then the
		// next publish must drop it rather than wait.
		stuck := newStreamClient(nil)
		b.mu.Lock()
		b.clients[stuck] = struct{}{}
		b.mu.Unlock()

		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := 0; i <= sendBuffer; i++ {
				b.Publish(quiz.ProgressEvent{Type: "episode_finished", Time: time.Now()})
			}
		}()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("publish blocked on a stalled client")
		}
		assert.Equal(t, 0, b.ClientCount())
	})

	t.Run("should keep a live client while dropping a stalled one", func(t *testing.T) {
		b := NewBroadcaster(testLogger())
		ts := httptest.NewServer(httptestHandler(b))
		defer ts.Close()

		conn := dialStream(t, ts)
		waitForClients(t, b, 1)

		stuck := newStreamClient(nil)
		b.mu.Lock()
		b.clients[stuck] = struct{}{}
		b.mu.Unlock()

		for i := 0; i <= sendBuffer; i++ {
			b.Publish(quiz.ProgressEvent{Type: "episode_finished", Time: time.Now()})
		}
		waitForClients(t, b, 1)

		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg EventMessage
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, "episode_finished", msg.Event)
	})

	t.Run("should disconnect all clients on close", func(t *testing.T) {
		b := NewBroadcaster(testLogger())
		ts := httptest.NewServer(httptestHandler(b))
		defer ts.Close()

		dialStream(t, ts)
		dialStream(t, ts)
		waitForClients(t, b, 2)

		b.Close()
		assert.Equal(t, 0, b.ClientCount())
	})
}

func httptestHandler(b *Broadcaster) http.Handler {
	return http.HandlerFunc(b.HandleWS)
}
