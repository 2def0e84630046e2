package device

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// simAmplitude is the peak of the simulated signal in raw counts
// (about 50 uV at gain x24).
const simAmplitude = 100_000

// Simulator is an in-process Client producing sine-plus-noise frames at the
// configured sample rate. Disconnect and FailNext inject faults.
type Simulator struct {
	samplesPerFrame int
	info            DeviceInfo

	mu        sync.Mutex
	cfg       AdsConfig
	connected bool
	sessionID string
	battery   BatteryLevel
	failNext  error
	streaming bool
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewSimulator returns a connected simulator with numChannels channels
// delivering samplesPerFrame samples per frame, rounded up by FrameSamples
// for rates above 1 kSPS.
func NewSimulator(numChannels, samplesPerFrame int) *Simulator {
	return &Simulator{
		samplesPerFrame: max(samplesPerFrame, 1),
		info:            DeviceInfo{HardwareVersion: "sim-r6", FirmwareVersion: "0.0.0-sim", SerialNumber: "SIM0001"},
		cfg:             DefaultAdsConfig(numChannels),
		connected:       true,
		battery:         BatteryLevel{Percentage: 87, VoltageMV: 3990},
	}
}

// Disconnect drops the link: streaming halts and every later call fails
// with a ConnectionError until Connect.
func (s *Simulator) Disconnect() {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	s.halt()
}

// Connect restores the link.
func (s *Simulator) Connect() {
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
}

// FailNext makes the next command fail with a CommunicationError wrapping err.
func (s *Simulator) FailNext(err error) {
	s.mu.Lock()
	s.failNext = err
	s.mu.Unlock()
}

// commandLocked checks the link and consumes an injected failure.
// Caller must hold s.mu.
func (s *Simulator) commandLocked(ctx context.Context, op string) error {
	if !s.connected {
		return &ConnectionError{Op: op}
	}
	if err := ctx.Err(); err != nil {
		return &CommunicationError{Op: op, Err: err}
	}
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return &CommunicationError{Op: op, Err: err}
	}
	return nil
}

func (s *Simulator) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Simulator) DeviceInfo(ctx context.Context) (DeviceInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.commandLocked(ctx, "get device info"); err != nil {
		return DeviceInfo{}, err
	}
	return s.info, nil
}

func (s *Simulator) BatteryLevel(ctx context.Context) (BatteryLevel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.commandLocked(ctx, "get battery level"); err != nil {
		return BatteryLevel{}, err
	}
	return s.battery, nil
}

func (s *Simulator) AdsConfig(ctx context.Context) (AdsConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.commandLocked(ctx, "get ads config"); err != nil {
		return AdsConfig{}, err
	}
	return cloneConfig(s.cfg), nil
}

// SetAdsConfig applies cfg. It reports false, without error, for an invalid
// configuration or while streaming, as the device refuses both.
func (s *Simulator) SetAdsConfig(ctx context.Context, cfg AdsConfig) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.commandLocked(ctx, "set ads config"); err != nil {
		return false, err
	}
	if s.streaming || cfg.Validate() != nil {
		return false, nil
	}
	s.cfg = cloneConfig(cfg)
	return true, nil
}

func (s *Simulator) ResetAdsConfig(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.commandLocked(ctx, "reset ads config"); err != nil {
		return false, err
	}
	if s.streaming {
		return false, nil
	}
	s.cfg = DefaultAdsConfig(len(s.cfg.Channels))
	return true, nil
}

func (s *Simulator) SessionID(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.commandLocked(ctx, "get session id"); err != nil {
		return "", err
	}
	return s.sessionID, nil
}

func (s *Simulator) SetSessionID(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.commandLocked(ctx, "set session id"); err != nil {
		return false, err
	}
	if len(id) > 32 {
		return false, nil
	}
	s.sessionID = id
	return true, nil
}

// SessionStatus reports whether a named session is currently recording.
func (s *Simulator) SessionStatus(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.commandLocked(ctx, "get session status"); err != nil {
		return false, err
	}
	return s.streaming && s.sessionID != "", nil
}

// StartStreaming starts the frame goroutine. Starting twice is an error-free
// no-op that keeps the first handler.
func (s *Simulator) StartStreaming(ctx context.Context, h FrameHandler) (AdsConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.commandLocked(ctx, "start streaming"); err != nil {
		return AdsConfig{}, err
	}
	cfg := cloneConfig(s.cfg)
	if s.streaming {
		return cfg, nil
	}

	s.streaming = true
	s.done = make(chan struct{})
	s.wg.Add(1)
	go s.run(cfg, h, s.done)
	return cfg, nil
}

// StopStreaming stops frame delivery. When it returns, h is no longer
// running. It must not be called from inside h.
func (s *Simulator) StopStreaming(ctx context.Context) error {
	s.mu.Lock()
	err := s.commandLocked(ctx, "stop streaming")
	s.mu.Unlock()
	s.halt()
	return err
}

// halt stops the frame goroutine if it runs and waits for it.
func (s *Simulator) halt() {
	s.mu.Lock()
	if s.streaming {
		s.streaming = false
		close(s.done)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Simulator) run(cfg AdsConfig, h FrameHandler, done <-chan struct{}) {
	defer s.wg.Done()

	hz := cfg.SampleRate.Hz()
	scales := ChannelScales(cfg)
	perFrame := FrameSamples(cfg.SampleRate, s.samplesPerFrame)
	ticker := time.NewTicker(time.Duration(perFrame) * cfg.SampleRate.Interval())
	defer ticker.Stop()

	var n uint64 // samples produced so far
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			raw := RawFrame{
				Timestamp: uint64(float64(n) * 1000 / hz),
				Samples:   make([]RawSample, perFrame),
			}
			for k := range raw.Samples {
				t := float64(n+uint64(k)) / hz
				raw.Samples[k].Data = simSample(cfg, t)
			}
			n += uint64(perFrame)
			h(raw.ChannelMajor(scales))
		}
	}
}

// FrameSamples rounds want up so that a frame at rate r spans a whole number
// of milliseconds. Frame timestamps are whole milliseconds, so any other
// length would stamp a frame before the last sample of the previous one.
func FrameSamples(r SampleRate, want int) int {
	want = max(want, 1)
	perMs := max(int(r.Hz())/1000, 1)
	return (want + perMs - 1) / perMs * perMs
}

// simSample returns one conversion: channel i carries a (8+i) Hz sine plus
// noise, powered-down channels read zero.
func simSample(cfg AdsConfig, t float64) []int32 {
	data := make([]int32, len(cfg.Channels))
	for i, ch := range cfg.Channels {
		if ch.PowerDown {
			continue
		}
		v := simAmplitude*math.Sin(2*math.Pi*float64(8+i)*t) + rand.NormFloat64()*simAmplitude/20
		data[i] = int32(v)
	}
	return data
}

func cloneConfig(c AdsConfig) AdsConfig {
	c.Channels = append([]ChannelConfig(nil), c.Channels...)
	return c
}
