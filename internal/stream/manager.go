package stream

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"dcmini-stream/internal/platform/metrics"
)

const (
	// DefaultNumChannels matches the 8-channel front end.
	DefaultNumChannels = 8
	// DefaultMaxSamples is 20 s of history at 250 SPS.
	DefaultMaxSamples = 5000
	// DefaultSampleRateHz is the lowest front-end rate, 250 SPS.
	DefaultSampleRateHz = 250.0
	// DefaultWindowSeconds is the visible time range handed to the sink layout.
	DefaultWindowSeconds = 10.0
)

// Ingest anomaly kinds. They label the anomalies metric and log records.
const (
	anomalyEmptyFrame    = "empty_frame"
	anomalyShortFrame    = "short_frame"
	anomalyExtraChannels = "extra_channels"
	anomalyCountMismatch = "channel_count_mismatch"
	anomalyTsRegression  = "timestamp_regression"
	anomalySinkError     = "sink_error"
	anomalySinkPanic     = "sink_panic"
)

// ErrInvalidSampleRate is returned by SetSampleRate for non-positive rates.
var ErrInvalidSampleRate = errors.New("sample rate must be positive")

// Config fixes the shape of a Manager for the lifetime of a streaming session.
type Config struct {
	NumChannels   int
	MaxSamples    int
	SampleRateHz  float64
	WindowSeconds float64
	// Snapshot enables the normalized cross-channel snapshot after each ingest.
	Snapshot bool
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		NumChannels:   DefaultNumChannels,
		MaxSamples:    DefaultMaxSamples,
		SampleRateHz:  DefaultSampleRateHz,
		WindowSeconds: DefaultWindowSeconds,
		Snapshot:      true,
	}
}

// withDefaults replaces non-positive values by their defaults.
func (c Config) withDefaults() Config {
	if c.NumChannels <= 0 {
		c.NumChannels = DefaultNumChannels
	}
	if c.MaxSamples <= 0 {
		c.MaxSamples = DefaultMaxSamples
	}
	if c.SampleRateHz <= 0 {
		c.SampleRateHz = DefaultSampleRateHz
	}
	if c.WindowSeconds <= 0 {
		c.WindowSeconds = DefaultWindowSeconds
	}
	return c
}

// Manager owns one ChannelBuffer per channel and the synthesized timestamp
// series, and turns device frames into an aligned, bounded view.
//
// All mutable state (buffers, timestamps, latest timestamp, lifecycle, sample
// interval) is guarded by mu, so readers always see a single ingest
// generation. deliverMu serializes ingests and their sink delivery without
// holding mu while the sink works. The lifecycle turns Ready only after the
// sink accepted the layout, in a later mu section than the buffer update, so
// a reader may briefly see new buffers with an Uninitialized lifecycle.
type Manager struct {
	cfg     Config
	sink    Sink
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	deliverMu sync.Mutex
	seen      map[string]bool // anomaly kinds already logged at warn level

	mu              sync.RWMutex
	buffers         []*ChannelBuffer
	timestamps      *ChannelBuffer
	latestTimestamp uint64
	lifecycle       Lifecycle
	interval        float64
	generation      uint64
	lastIngest      time.Time
}

// NewManager returns a Manager for cfg. Non-positive config values fall back
// to their defaults. sink may be nil (NopSink); m may be nil to disable
// metric recording (e.g. in tests).
func NewManager(cfg Config, sink Sink, log *slog.Logger, m *metrics.Metrics) *Manager {
	cfg = cfg.withDefaults()
	if sink == nil {
		sink = NopSink{}
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	buffers := make([]*ChannelBuffer, cfg.NumChannels)
	for i := range buffers {
		buffers[i] = NewChannelBuffer(cfg.MaxSamples)
	}

	return &Manager{
		cfg:        cfg,
		sink:       sink,
		log:        log,
		metrics:    m,
		now:        time.Now,
		seen:       make(map[string]bool),
		buffers:    buffers,
		timestamps: NewChannelBuffer(cfg.MaxSamples),
		interval:   1.0 / cfg.SampleRateHz,
	}
}

// delivery is everything one ingest hands to the sink, copied out under mu.
type delivery struct {
	layout   bool
	series   []Series
	snapshot [][]float64
}

// Ingest folds one frame into the buffers and drives the sink. It is meant to
// be called from the device delivery goroutine and never fails: malformed
// frames and sink failures are logged and counted, never returned.
func (m *Manager) Ingest(frame Frame) {
	start := m.now()

	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()

	anomalies := inspectFrame(frame, m.cfg.NumChannels)
	count := frame.SampleCount()

	m.mu.Lock()
	m.latestTimestamp = frame.Timestamp
	m.generation++
	m.lastIngest = start

	appended := false
	for i := 0; i < m.cfg.NumChannels && i < len(frame.ChannelData); i++ {
		if len(frame.ChannelData[i]) > 0 {
			m.buffers[i].Append(frame.ChannelData[i])
			appended = true
		}
	}

	if count > 0 {
		ts := SynthesizeTimestamps(frame.Timestamp, count, m.interval)
		if last := m.timestamps.Last(1); len(last) == 1 && ts[0] < last[0] {
			anomalies = append(anomalies, anomalyTsRegression)
		}
		m.timestamps.Append(ts)
	}

	d := delivery{layout: m.lifecycle == Uninitialized}
	if count > 0 {
		d.series = m.newSeriesLocked(frame, count)
	}
	if appended && m.cfg.Snapshot {
		d.snapshot = m.snapshotLocked()
	}
	buffered, latest := m.timestamps.Len(), m.latestTimestamp
	m.mu.Unlock()

	for _, kind := range anomalies {
		m.anomaly(kind, slog.Uint64("timestamp", frame.Timestamp), slog.Int("channels", len(frame.ChannelData)), slog.Int("samples", count))
	}

	m.deliver(d)

	if m.metrics != nil {
		m.metrics.ObserveIngest(m.now().Sub(start), count)
		m.metrics.SetBuffered(buffered, latest)
	}
}

// newSeriesLocked returns, per channel, the newly available samples paired
// with the newest timestamps. Caller must hold m.mu.
func (m *Manager) newSeriesLocked(frame Frame, count int) []Series {
	out := make([]Series, 0, m.cfg.NumChannels)
	for i := 0; i < m.cfg.NumChannels && i < len(frame.ChannelData); i++ {
		n := min(len(frame.ChannelData[i]), count, m.buffers[i].Len(), m.timestamps.Len())
		if n == 0 {
			continue
		}
		out = append(out, Series{
			Channel: i,
			Times:   m.timestamps.Last(n),
			Values:  m.buffers[i].Last(n),
		})
	}
	return out
}

// snapshotLocked returns the newest common-length tail of every channel, or
// nil while any channel is still empty. Caller must hold m.mu.
func (m *Manager) snapshotLocked() [][]float64 {
	common := m.cfg.MaxSamples
	for _, b := range m.buffers {
		common = min(common, b.Len())
	}
	if common == 0 {
		return nil
	}
	rows := make([][]float64, len(m.buffers))
	for i, b := range m.buffers {
		rows[i] = b.Last(common)
	}
	return rows
}

// deliver drives the sink for one ingest. The layout is configured before
// any push; if it fails, the pushes of this round are skipped and the layout
// is retried on the next ingest. Caller must hold m.deliverMu.
func (m *Manager) deliver(d delivery) {
	defer func() {
		if r := recover(); r != nil {
			m.anomaly(anomalySinkPanic, slog.String("panic", fmt.Sprint(r)))
		}
	}()

	if d.layout {
		if err := m.sink.ConfigureLayout(m.cfg.NumChannels, m.cfg.WindowSeconds); err != nil {
			m.anomaly(anomalySinkError, slog.String("op", "configure_layout"), slog.String("error", err.Error()))
			return
		}
		m.markReady()
	}

	for _, s := range d.series {
		if err := m.sink.PushSeries(s.Channel, s.Times, s.Values); err != nil {
			m.anomaly(anomalySinkError, slog.String("op", "push_series"), slog.Int("channel", s.Channel), slog.String("error", err.Error()))
		}
	}

	if d.snapshot != nil {
		if err := m.sink.PushSnapshot(Normalize(d.snapshot)); err != nil {
			m.anomaly(anomalySinkError, slog.String("op", "push_snapshot"), slog.String("error", err.Error()))
		}
	}
}

// markReady performs the only lifecycle transition, Uninitialized to Ready.
func (m *Manager) markReady() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lifecycle != Uninitialized {
		return
	}
	m.lifecycle = Ready
	m.log.Info("sink layout configured",
		slog.Int("channels", m.cfg.NumChannels),
		slog.Float64("window_seconds", m.cfg.WindowSeconds))
}

// anomaly logs and counts one absorbed ingest problem. The first occurrence
// of each kind is a warning, later ones are debug. Caller must hold m.deliverMu.
func (m *Manager) anomaly(kind string, attrs ...any) {
	if m.metrics != nil {
		m.metrics.IncAnomaly(kind)
	}
	args := append([]any{slog.String("kind", kind)}, attrs...)
	if !m.seen[kind] {
		m.seen[kind] = true
		m.log.Warn("ingest anomaly", args...)
		return
	}
	m.log.Debug("ingest anomaly", args...)
}

// inspectFrame classifies shape problems of frame against numChannels.
// It never mutates anything.
func inspectFrame(frame Frame, numChannels int) []string {
	total := 0
	for _, ch := range frame.ChannelData {
		total += len(ch)
	}
	if total == 0 {
		return []string{anomalyEmptyFrame}
	}

	var kinds []string
	switch {
	case len(frame.ChannelData) < numChannels:
		kinds = append(kinds, anomalyShortFrame)
	case len(frame.ChannelData) > numChannels:
		kinds = append(kinds, anomalyExtraChannels)
	}

	ref := len(frame.ChannelData[0])
	for i := 1; i < len(frame.ChannelData) && i < numChannels; i++ {
		if len(frame.ChannelData[i]) != ref {
			kinds = append(kinds, anomalyCountMismatch)
			break
		}
	}
	return kinds
}

// Reset drops every buffered sample and timestamp, e.g. when a new stream
// starts. The sink layout and the sample interval are kept.
func (m *Manager) Reset() {
	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, b := range m.buffers {
		b.Reset()
	}
	m.timestamps.Reset()
	m.latestTimestamp = 0
	m.generation++
}

// PushText forwards a metadata document to the sink, ordered with ingest
// deliveries. Text documents do not depend on the layout.
func (m *Manager) PushText(topic, text string) error {
	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()
	if err := m.sink.PushText(topic, text); err != nil {
		return fmt.Errorf("push text %q: %w", topic, err)
	}
	return nil
}

// SetSampleRate changes the interval used for future timestamp synthesis.
// Already synthesized timestamps are left untouched.
func (m *Manager) SetSampleRate(hz float64) error {
	if hz <= 0 {
		return fmt.Errorf("set sample rate %v: %w", hz, ErrInvalidSampleRate)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interval = 1.0 / hz
	return nil
}

// View returns a deep copy of the current state, taken under one read lock.
func (m *Manager) View() View {
	m.mu.RLock()
	defer m.mu.RUnlock()

	channels := make([][]float64, len(m.buffers))
	for i, b := range m.buffers {
		channels[i] = b.Values()
	}
	return View{
		Generation:      m.generation,
		LatestTimestamp: m.latestTimestamp,
		Lifecycle:       m.lifecycle,
		Timestamps:      m.timestamps.Values(),
		Channels:        channels,
	}
}

// Series returns the newest aligned samples of one channel: at most last
// pairs, or every aligned pair when last <= 0. ok is false for an unknown
// channel.
func (m *Manager) Series(channel, last int) (s Series, ok bool) {
	if channel < 0 || channel >= m.cfg.NumChannels {
		return Series{}, false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	n := min(m.buffers[channel].Len(), m.timestamps.Len())
	if last > 0 && last < n {
		n = last
	}
	return Series{
		Channel: channel,
		Times:   m.timestamps.Last(n),
		Values:  m.buffers[channel].Last(n),
	}, true
}

// Snapshot returns the normalized channel-by-sample matrix over the newest
// common tail of all channels, or nil while any channel is empty.
func (m *Manager) Snapshot() [][]float64 {
	m.mu.RLock()
	raw := m.snapshotLocked()
	m.mu.RUnlock()
	if raw == nil {
		return nil
	}
	return Normalize(raw)
}

// Status returns a summary of the manager.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	buffered := make([]int, len(m.buffers))
	for i, b := range m.buffers {
		buffered[i] = b.Len()
	}
	return Status{
		Generation:      m.generation,
		Lifecycle:       m.lifecycle,
		NumChannels:     m.cfg.NumChannels,
		MaxSamples:      m.cfg.MaxSamples,
		SampleRateHz:    1.0 / m.interval,
		LatestTimestamp: m.latestTimestamp,
		Buffered:        buffered,
		Timestamps:      m.timestamps.Len(),
		LastIngest:      m.lastIngest,
	}
}

// CheckFresh reports an error when no frame arrived within maxAge.
// It backs the readiness probe.
func (m *Manager) CheckFresh(maxAge time.Duration) error {
	m.mu.RLock()
	last := m.lastIngest
	m.mu.RUnlock()

	if last.IsZero() {
		return errors.New("no frame ingested yet")
	}
	if age := m.now().Sub(last); age > maxAge {
		return fmt.Errorf("last frame %s ago exceeds %s", age.Round(time.Millisecond), maxAge)
	}
	return nil
}
