// Package web serves the live transcript feed.
//
// [Hub] implements [transcribe.Sink]: every published transcript is encoded
// as JSON and pushed to all connected websocket clients. A client that cannot
// keep up is disconnected instead of slowing down the dispatcher.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/uttermon/internal/observe"
	"github.com/MrWong99/uttermon/internal/transcribe"
)

// Defaults for [NewHub].
const (
	DefaultClientBuffer = 16
	DefaultWriteTimeout = 5 * time.Second
)

// Message is the JSON document sent for each transcript.
type Message struct {
	UtteranceID   string    `json:"utterance_id"`
	Language      string    `json:"language"`
	Text          string    `json:"text"`
	Elapsed       float64   `json:"elapsed_seconds"`
	AudioDuration float64   `json:"audio_seconds"`
	At            time.Time `json:"at"`
}

// NewMessage converts a transcript to its wire form.
func NewMessage(t transcribe.Transcript) Message {
	return Message{
		UtteranceID:   t.UtteranceID.String(),
		Language:      t.Language,
		Text:          t.Text,
		Elapsed:       t.Elapsed.Seconds(),
		AudioDuration: t.AudioDuration.Seconds(),
		At:            t.At,
	}
}

// Option configures a [Hub].
type Option func(*Hub)

// WithClientBuffer sets how many messages may queue per client before it is
// dropped.
func WithClientBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithWriteTimeout bounds a single websocket write.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

// WithOriginPatterns allows cross-origin clients matching patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Hub) { h.origins = patterns }
}

// WithMetrics overrides the metrics instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

type client struct {
	msgs      chan Message
	closeSlow func()
}

// Hub fans transcripts out to websocket subscribers. The zero value is not
// usable; create one with [NewHub].
type Hub struct {
	buffer       int
	writeTimeout time.Duration
	origins      []string
	metrics      *observe.Metrics

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
	done    chan struct{}
}

// NewHub returns an empty Hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		buffer:       DefaultClientBuffer,
		writeTimeout: DefaultWriteTimeout,
		clients:      make(map[*client]struct{}),
		done:         make(chan struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	return h
}

// Register mounts the feed on mux at GET /transcripts.
func (h *Hub) Register(mux *http.ServeMux) {
	mux.Handle("GET /transcripts", h)
}

// Publish implements [transcribe.Sink]. It never blocks: clients whose queue
// is full are disconnected.
func (h *Hub) Publish(_ context.Context, t transcribe.Transcript) {
	msg := NewMessage(t)

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.msgs <- msg:
		default:
			go c.closeSlow()
		}
	}
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.done)
}

// ServeHTTP upgrades the request to a websocket and streams transcripts until
// the client goes away, falls behind or the hub is closed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		slog.Warn("web: websocket accept failed", "err", err, "remote", r.RemoteAddr)
		return
	}
	defer conn.CloseNow()

	var closeOnce sync.Once
	c := &client{
		msgs: make(chan Message, h.buffer),
		closeSlow: func() {
			closeOnce.Do(func() {
				conn.Close(websocket.StatusPolicyViolation, "connection too slow to keep up with transcripts")
			})
		},
	}
	if !h.add(c) {
		conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	defer h.remove(c)

	log := slog.With("remote", r.RemoteAddr)
	log.Info("web: transcript client connected")

	// The feed is one-way; CloseRead handles control frames and cancels ctx
	// once the peer closes.
	ctx := conn.CloseRead(r.Context())
	err = h.writeLoop(ctx, conn, c)
	switch {
	case err == nil:
		conn.Close(websocket.StatusGoingAway, "shutting down")
		log.Info("web: transcript client disconnected")
	case errors.Is(err, context.Canceled), websocket.CloseStatus(err) != -1:
		log.Info("web: transcript client disconnected")
	default:
		log.Warn("web: transcript client dropped", "err", err)
	}
}

func (h *Hub) writeLoop(ctx context.Context, conn *websocket.Conn, c *client) error {
	for {
		select {
		case msg := <-c.msgs:
			wctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
			err := wsjson.Write(wctx, conn, msg)
			cancel()
			if err != nil {
				return err
			}
		case <-h.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.metrics.WebsocketClients.Add(context.Background(), 1)
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	h.metrics.WebsocketClients.Add(context.Background(), -1)
}

var _ transcribe.Sink = (*Hub)(nil)
