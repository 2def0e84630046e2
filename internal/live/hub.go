package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"dcmini-stream/internal/platform/metrics"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

const (
	// DefaultQueueSize is the per-viewer backlog before old messages are dropped.
	DefaultQueueSize = 256
	writeTimeout     = 5 * time.Second
)

// Message types sent to viewers.
const (
	TypeLayout   = "layout"
	TypeSeries   = "series"
	TypeSnapshot = "snapshot"
	TypeText     = "text"
)

// Message is the JSON envelope of every websocket message.
type Message struct {
	Type          string      `json:"type"`
	Channels      int         `json:"channels,omitempty"`
	WindowSeconds float64     `json:"window_seconds,omitempty"`
	Channel       *int        `json:"channel,omitempty"`
	Times         []float64   `json:"times,omitempty"`
	Values        []float64   `json:"values,omitempty"`
	Tensor        [][]float64 `json:"tensor,omitempty"`
	Topic         string      `json:"topic,omitempty"`
	Text          string      `json:"text,omitempty"`
}

type viewer struct {
	send chan []byte
}

// Hub is a stream.Sink that fans data out to websocket viewers. Pushes never
// block: a viewer that falls behind loses its oldest queued messages.
// The layout and the latest text document per topic are replayed to viewers
// that connect later.
type Hub struct {
	log       *slog.Logger
	metrics   *metrics.Metrics
	queueSize int

	mu      sync.Mutex
	viewers map[*viewer]struct{}
	layout  []byte
	texts   map[string]string
	done    chan struct{}
	closed  bool
}

// NewHub returns a Hub. m may be nil; queueSize <= 0 uses DefaultQueueSize.
func NewHub(log *slog.Logger, m *metrics.Metrics, queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Hub{
		log:       log,
		metrics:   m,
		queueSize: queueSize,
		viewers:   make(map[*viewer]struct{}),
		texts:     make(map[string]string),
		done:      make(chan struct{}),
	}
}

func (h *Hub) ConfigureLayout(channelCount int, windowSeconds float64) error {
	msg, err := json.Marshal(Message{Type: TypeLayout, Channels: channelCount, WindowSeconds: windowSeconds})
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.layout = msg
	h.broadcastLocked(msg)
	return nil
}

func (h *Hub) PushSeries(channel int, times, values []float64) error {
	return h.publish(Message{Type: TypeSeries, Channel: &channel, Times: times, Values: values})
}

func (h *Hub) PushSnapshot(tensor [][]float64) error {
	return h.publish(Message{Type: TypeSnapshot, Tensor: tensor})
}

func (h *Hub) PushText(topic, text string) error {
	msg, err := json.Marshal(Message{Type: TypeText, Topic: topic, Text: text})
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.texts[topic] = text
	h.broadcastLocked(msg)
	return nil
}

func (h *Hub) publish(m Message) error {
	msg, err := json.Marshal(m)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcastLocked(msg)
	return nil
}

// Text returns the latest document pushed for topic.
func (h *Hub) Text(topic string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.texts[topic]
	return s, ok
}

// Viewers returns the number of connected viewers.
func (h *Hub) Viewers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.viewers)
}

// broadcastLocked queues msg for every viewer. Caller must hold h.mu.
func (h *Hub) broadcastLocked(msg []byte) {
	for v := range h.viewers {
		h.enqueue(v, msg)
	}
}

// enqueue adds msg to v's queue, discarding the oldest message when full.
func (h *Hub) enqueue(v *viewer, msg []byte) {
	for {
		select {
		case v.send <- msg:
			return
		default:
		}
		select {
		case <-v.send:
			if h.metrics != nil {
				h.metrics.IncLiveDropped()
			}
		default:
		}
	}
}

// register adds a viewer with the layout and text documents already queued.
func (h *Hub) register() (*viewer, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}

	v := &viewer{send: make(chan []byte, h.queueSize)}
	if h.layout != nil {
		h.enqueue(v, h.layout)
	}
	topics := make([]string, 0, len(h.texts))
	for t := range h.texts {
		topics = append(topics, t)
	}
	slices.Sort(topics)
	for _, t := range topics {
		msg, err := json.Marshal(Message{Type: TypeText, Topic: t, Text: h.texts[t]})
		if err == nil {
			h.enqueue(v, msg)
		}
	}

	h.viewers[v] = struct{}{}
	h.setViewersLocked()
	return v, true
}

func (h *Hub) unregister(v *viewer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.viewers, v)
	h.setViewersLocked()
}

func (h *Hub) setViewersLocked() {
	if h.metrics != nil {
		h.metrics.SetLiveClients(len(h.viewers))
	}
}

// Close disconnects every viewer and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.closed = true
		close(h.done)
	}
}

// ServeHTTP upgrades the request to a websocket and streams queued messages
// until the viewer goes away or the hub is closed. Incoming messages are
// ignored.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Debug("websocket accept failed", slog.String("error", err.Error()))
		return
	}

	v, ok := h.register()
	if !ok {
		conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	defer h.unregister(v)

	remote := r.RemoteAddr
	h.log.Info("live viewer connected", slog.String("remote", remote))

	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			h.log.Info("live viewer disconnected", slog.String("remote", remote))
			return
		case <-h.done:
			conn.Close(websocket.StatusGoingAway, "shutting down")
			return
		case msg := <-v.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				h.log.Info("live viewer write failed", slog.String("remote", remote), slog.String("error", err.Error()))
				conn.CloseNow()
				return
			}
		}
	}
}

// Register mounts the websocket at /live and the latest text documents at
// /device/{name}, serving topic "device/{name}".
func (h *Hub) Register(r chi.Router) {
	r.Get("/live", h.ServeHTTP)
	r.Get("/device/{name}", func(w http.ResponseWriter, r *http.Request) {
		h.writeText(w, "device/"+chi.URLParam(r, "name"))
	})
}

func (h *Hub) writeText(w http.ResponseWriter, topic string) {
	text, ok := h.Text(topic)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(text))
}
