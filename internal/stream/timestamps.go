package stream

// SynthesizeTimestamps expands one coarse frame timestamp into per-sample
// timestamps. frameTimestampMs is in device clock milliseconds; the result is
// in seconds, starting at the frame timestamp and spaced by intervalSeconds.
//
// A sampleCount <= 0 yields nil. The function is pure: it never looks at
// buffered data, and the interval is the configured one, not a measured one.
func SynthesizeTimestamps(frameTimestampMs uint64, sampleCount int, intervalSeconds float64) []float64 {
	if sampleCount <= 0 {
		return nil
	}
	start := float64(frameTimestampMs) / 1000.0
	out := make([]float64, sampleCount)
	for k := range out {
		out[k] = start + float64(k)*intervalSeconds
	}
	return out
}
