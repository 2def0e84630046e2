package stream

import "errors"

// Sink receives trimmed, aligned data from a Manager.
//
// Manager calls ConfigureLayout exactly once, successfully, before any
// PushSeries or PushSnapshot. Slices handed to a Sink are copies the sink may
// keep. Calls arrive on the producer goroutine, so a slow sink slows frame
// delivery down.
type Sink interface {
	ConfigureLayout(channelCount int, windowSeconds float64) error
	PushSeries(channel int, times, values []float64) error
	PushSnapshot(tensor [][]float64) error
	PushText(topic, text string) error
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) ConfigureLayout(int, float64) error          { return nil }
func (NopSink) PushSeries(int, []float64, []float64) error { return nil }
func (NopSink) PushSnapshot([][]float64) error              { return nil }
func (NopSink) PushText(string, string) error               { return nil }

// MultiSink fans every call out to all of its sinks in order. Every sink is
// called even if an earlier one fails; the failures are joined.
type MultiSink []Sink

func (m MultiSink) ConfigureLayout(channelCount int, windowSeconds float64) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.ConfigureLayout(channelCount, windowSeconds))
	}
	return errors.Join(errs...)
}

func (m MultiSink) PushSeries(channel int, times, values []float64) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.PushSeries(channel, times, values))
	}
	return errors.Join(errs...)
}

func (m MultiSink) PushSnapshot(tensor [][]float64) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.PushSnapshot(tensor))
	}
	return errors.Join(errs...)
}

func (m MultiSink) PushText(topic, text string) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.PushText(topic, text))
	}
	return errors.Join(errs...)
}
