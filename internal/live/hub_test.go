package live

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"dcmini-stream/internal/platform/logger"
	"dcmini-stream/internal/platform/metrics"
	"dcmini-stream/internal/stream"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var _ stream.Sink = (*Hub)(nil)

func startHub(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	hub.Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	t.Cleanup(hub.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/live", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return m
}

func waitViewers(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for hub.Viewers() != n {
		if time.Now().After(deadline) {
			t.Fatalf("viewers = %d, want %d", hub.Viewers(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_replays_layout_and_text(t *testing.T) {
	hub := NewHub(logger.Discard(), nil, 0)
	srv := startHub(t, hub)

	if err := hub.ConfigureLayout(8, 10); err != nil {
		t.Fatal(err)
	}
	if err := hub.PushText("device/info", "Hardware: r6"); err != nil {
		t.Fatal(err)
	}

	conn := dial(t, srv)
	if m := readMessage(t, conn); m.Type != TypeLayout || m.Channels != 8 || m.WindowSeconds != 10 {
		t.Errorf("first message = %+v, want layout", m)
	}
	if m := readMessage(t, conn); m.Type != TypeText || m.Topic != "device/info" || m.Text != "Hardware: r6" {
		t.Errorf("second message = %+v, want text", m)
	}
}

func TestHub_streams_pushes_in_order(t *testing.T) {
	hub := NewHub(logger.Discard(), nil, 0)
	srv := startHub(t, hub)
	conn := dial(t, srv)
	waitViewers(t, hub, 1)

	_ = hub.ConfigureLayout(2, 5)
	_ = hub.PushSeries(0, []float64{1.0, 1.004}, []float64{3, 4})
	_ = hub.PushSnapshot([][]float64{{0, 1}, {-1, 0}})

	if m := readMessage(t, conn); m.Type != TypeLayout {
		t.Fatalf("got %+v, want layout", m)
	}
	m := readMessage(t, conn)
	if m.Type != TypeSeries || m.Channel == nil || *m.Channel != 0 || len(m.Values) != 2 || m.Times[1] != 1.004 {
		t.Errorf("series message = %+v", m)
	}
	if m := readMessage(t, conn); m.Type != TypeSnapshot || len(m.Tensor) != 2 {
		t.Errorf("snapshot message = %+v", m)
	}
}

func TestHub_drops_oldest_for_slow_viewer(t *testing.T) {
	met := metrics.New()
	hub := NewHub(logger.Discard(), met, 2)

	v := &viewer{send: make(chan []byte, 2)}
	hub.viewers[v] = struct{}{}

	for i := 0; i < 5; i++ {
		if err := hub.PushSeries(i, []float64{0}, []float64{0}); err != nil {
			t.Fatal(err)
		}
	}

	if len(v.send) != 2 {
		t.Fatalf("queued = %d, want 2", len(v.send))
	}
	var got []int
	for len(v.send) > 0 {
		var m Message
		if err := json.Unmarshal(<-v.send, &m); err != nil {
			t.Fatal(err)
		}
		got = append(got, *m.Channel)
	}
	if got[0] != 3 || got[1] != 4 {
		t.Errorf("kept channels %v, want the newest [3 4]", got)
	}
	const want = `
# HELP dcmini_live_messages_dropped_total Live messages discarded because a viewer could not keep up
# TYPE dcmini_live_messages_dropped_total counter
dcmini_live_messages_dropped_total 3
`
	if err := testutil.GatherAndCompare(met.Registry(), strings.NewReader(want), "dcmini_live_messages_dropped_total"); err != nil {
		t.Error(err)
	}
}

func TestHub_text_endpoint(t *testing.T) {
	hub := NewHub(logger.Discard(), nil, 0)
	srv := startHub(t, hub)

	resp, err := http.Get(srv.URL + "/device/info")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 before any document, got %d", resp.StatusCode)
	}

	_ = hub.PushText("device/info", "Serial: A1")
	resp, err = http.Get(srv.URL + "/device/info")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "Serial: A1" {
		t.Errorf("got %d %q", resp.StatusCode, body)
	}
}

func TestHub_close_disconnects_viewers(t *testing.T) {
	met := metrics.New()
	hub := NewHub(logger.Discard(), met, 0)
	srv := startHub(t, hub)
	conn := dial(t, srv)
	waitViewers(t, hub, 1)

	hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, _, err := conn.Read(ctx); websocket.CloseStatus(err) != websocket.StatusGoingAway {
		t.Errorf("read after close = %v, want going away", err)
	}
	waitViewers(t, hub, 0)
}
