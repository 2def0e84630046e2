package stream

import "time"

// Frame is one batch of samples delivered by the device.
//
// ChannelData is channel-major: ChannelData[i] holds the samples of channel i
// in arrival order. Every channel is expected to carry the same number of
// samples; Manager tolerates frames that do not. Timestamp is the device
// clock in milliseconds and applies to the first sample of the frame.
//
// A Frame belongs to the caller; Manager copies what it keeps.
type Frame struct {
	Timestamp   uint64      `json:"timestamp"`
	ChannelData [][]float64 `json:"channel_data"`
}

// SampleCount is the number of samples the reference channel (channel 0)
// contributes. It decides how many timestamps the frame produces.
func (f Frame) SampleCount() int {
	if len(f.ChannelData) == 0 {
		return 0
	}
	return len(f.ChannelData[0])
}

// Lifecycle is the one-way setup state of a Manager.
type Lifecycle int

const (
	// Uninitialized means the sink layout has not been configured yet.
	Uninitialized Lifecycle = iota
	// Ready means the sink layout is configured; it is never left.
	Ready
)

func (l Lifecycle) String() string {
	switch l {
	case Uninitialized:
		return "uninitialized"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

// MarshalText lets Lifecycle render as its name in JSON.
func (l Lifecycle) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// View is a consistent copy of the manager's state taken at one ingest
// generation. Channels[i] and Timestamps are aligned from the newest end.
type View struct {
	Generation      uint64      `json:"generation"`
	LatestTimestamp uint64      `json:"latest_timestamp"`
	Lifecycle       Lifecycle   `json:"lifecycle"`
	Timestamps      []float64   `json:"timestamps"`
	Channels        [][]float64 `json:"channels"`
}

// Series is the aligned tail of one channel.
type Series struct {
	Channel int       `json:"channel"`
	Times   []float64 `json:"times"`
	Values  []float64 `json:"values"`
}

// Status summarizes the manager for dashboards and readiness checks.
type Status struct {
	Generation      uint64    `json:"generation"`
	Lifecycle       Lifecycle `json:"lifecycle"`
	NumChannels     int       `json:"num_channels"`
	MaxSamples      int       `json:"max_samples"`
	SampleRateHz    float64   `json:"sample_rate_hz"`
	LatestTimestamp uint64    `json:"latest_timestamp"`
	Buffered        []int     `json:"buffered"`
	Timestamps      int       `json:"timestamps"`
	LastIngest      time.Time `json:"last_ingest"`
}
