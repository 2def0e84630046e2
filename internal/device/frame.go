package device

import "dcmini-stream/internal/stream"

const (
	vref     = 4.5
	bitDepth = 24
)

// RawSample is one conversion of every channel, as the device reports it.
type RawSample struct {
	LeadOffPositive uint32
	LeadOffNegative uint32
	GPIO            uint32
	Data            []int32
}

// RawFrame is the sample-major frame delivered on the wire.
type RawFrame struct {
	Timestamp uint64 // device clock, ms
	Samples   []RawSample
}

// MicrovoltsPerCount converts raw 24-bit codes to microvolts for a gain.
// It returns 1 for an unknown gain so values pass through unscaled.
func MicrovoltsPerCount(g Gain) float64 {
	f := g.Factor()
	if f == 0 {
		return 1
	}
	return (vref / f) / float64(int32(1)<<(bitDepth-1)-1) * 1e6
}

// ChannelMajor transposes the frame into a stream.Frame with one row per
// channel, scaling channel i by scale[i]. Channels beyond scale are scaled
// by 1. The number of rows is the widest sample; shorter samples leave their
// missing channels short.
func (f RawFrame) ChannelMajor(scale []float64) stream.Frame {
	width := 0
	for _, s := range f.Samples {
		width = max(width, len(s.Data))
	}

	rows := make([][]float64, width)
	for i := range rows {
		rows[i] = make([]float64, 0, len(f.Samples))
	}
	for _, s := range f.Samples {
		for i, v := range s.Data {
			k := 1.0
			if i < len(scale) {
				k = scale[i]
			}
			rows[i] = append(rows[i], float64(v)*k)
		}
	}
	return stream.Frame{Timestamp: f.Timestamp, ChannelData: rows}
}

// ChannelScales returns the microvolt factor of every configured channel.
func ChannelScales(cfg AdsConfig) []float64 {
	out := make([]float64, len(cfg.Channels))
	for i, ch := range cfg.Channels {
		out[i] = MicrovoltsPerCount(ch.Gain)
	}
	return out
}
