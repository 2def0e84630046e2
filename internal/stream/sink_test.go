package stream

import (
	"errors"
	"testing"
)

func TestMultiSink(t *testing.T) {
	ok := &recordingSink{}
	failing := &recordingSink{failLayout: 1, failSeries: true}
	multi := MultiSink{failing, ok}

	if err := multi.ConfigureLayout(2, 10); err == nil {
		t.Error("expected joined layout error")
	}
	if ok.layouts != 1 {
		t.Error("every sink must be called even when an earlier one fails")
	}

	err := multi.PushSeries(0, []float64{1}, []float64{2})
	if err == nil || err.Error() != "series rejected" {
		t.Errorf("PushSeries error = %v", err)
	}
	if len(ok.series) != 1 || len(failing.series) != 1 {
		t.Error("series not fanned out")
	}

	if err := multi.PushSnapshot([][]float64{{0}}); err != nil {
		t.Errorf("PushSnapshot: %v", err)
	}
	if err := multi.PushText("device/info", "x"); err != nil {
		t.Errorf("PushText: %v", err)
	}
	if ok.texts["device/info"] != "x" || failing.texts["device/info"] != "x" {
		t.Error("text not fanned out")
	}
}

func TestNopSink(t *testing.T) {
	var s Sink = NopSink{}
	err := errors.Join(
		s.ConfigureLayout(1, 1),
		s.PushSeries(0, nil, nil),
		s.PushSnapshot(nil),
		s.PushText("t", "x"),
	)
	if err != nil {
		t.Errorf("NopSink returned %v", err)
	}
}
