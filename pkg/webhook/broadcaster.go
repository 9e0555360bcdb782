package webhook

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/quizora/quizora/pkg/quiz"
)

// writeWait bounds one websocket write.
const writeWait = 10 * time.Second

// sendBuffer is how many pending events a client may lag behind before
// it is dropped.
const sendBuffer = 16

// EventMessage is the envelope pushed to every stream client.
type EventMessage struct {
	Type      string             `json:"type"`
	Event     string             `json:"event"`
	Data      quiz.ProgressEvent `json:"data"`
	Seq       int64              `json:"seq"`
	Timestamp int64              `json:"timestamp"`
}

type streamClient struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newStreamClient(conn *websocket.Conn) *streamClient {
	return &streamClient{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

func (c *streamClient) close() {
	c.once.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// Broadcaster fans driver progress events out to websocket clients. It
// implements quiz.Notifier without blocking the solve loop: each client
// drains its own buffered queue, and a client that stalls or fails a
// write is dropped.
type Broadcaster struct {
	upgrader websocket.Upgrader
	logger   zerolog.Logger
	seq      uint64

	mu      sync.Mutex
	clients map[*streamClient]struct{}
}

// NewBroadcaster creates a progress broadcaster.
func NewBroadcaster(logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:  logger,
		clients: make(map[*streamClient]struct{}),
	}
}

// HandleWS upgrades the request and keeps the connection registered
// until the peer goes away.
func (b *Broadcaster) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Websocket upgrade failed")
		return
	}

	client := newStreamClient(conn)
	b.mu.Lock()
	b.clients[client] = struct{}{}
	count := len(b.clients)
	b.mu.Unlock()

	b.logger.Info().Str("remote", r.RemoteAddr).Int("clients", count).Msg("Stream client connected")

	go b.writePump(client)

	// Reads are discarded; the read loop only detects the peer closing.
	go func() {
		defer b.drop(client)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// writePump drains one client's queue onto its connection.
func (b *Broadcaster) writePump(client *streamClient) {
	defer b.drop(client)
	for {
		select {
		case data := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				b.logger.Warn().Err(err).Msg("Dropping stream client after failed write")
				return
			}
		case <-client.done:
			return
		}
	}
}

// Publish implements quiz.Notifier. It only enqueues; a client whose
// queue is full gets dropped instead of stalling the caller.
func (b *Broadcaster) Publish(event quiz.ProgressEvent) {
	msg := EventMessage{
		Type:      "event",
		Event:     event.Type,
		Data:      event,
		Seq:       int64(atomic.AddUint64(&b.seq, 1)),
		Timestamp: time.Now().UnixMilli(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error().Err(err).Str("event", event.Type).Msg("Failed to marshal progress event")
		return
	}

	for _, client := range b.snapshot() {
		select {
		case client.send <- data:
		case <-client.done:
		default:
			b.logger.Warn().Str("event", event.Type).Msg("Dropping stream client that stopped draining")
			b.drop(client)
		}
	}
}

// ClientCount returns the number of connected stream clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Close disconnects every client.
func (b *Broadcaster) Close() {
	for _, client := range b.snapshot() {
		b.drop(client)
	}
}

func (b *Broadcaster) snapshot() []*streamClient {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*streamClient, 0, len(b.clients))
	for c := range b.clients {
		out = append(out, c)
	}
	return out
}

func (b *Broadcaster) drop(client *streamClient) {
	b.mu.Lock()
	delete(b.clients, client)
	b.mu.Unlock()
	client.close()
}
