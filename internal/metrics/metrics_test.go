package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.FramesSent.Inc()
	m.ConnectionState.Set(2)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected registered metric families")
	}
	if got := testutil.ToFloat64(m.FramesSent); got != 1 {
		t.Errorf("expected frames sent 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.ConnectionState); got != 2 {
		t.Errorf("expected connection state 2, got %v", got)
	}
}

func TestNew_NilRegistry(t *testing.T) {
	m := New(nil)
	m.FramesSkipped.Inc()
	if got := testutil.ToFloat64(m.FramesSkipped); got != 1 {
		t.Errorf("expected 1, got %v", got)
	}
}

func TestObserveStill(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveStill("predict", nil)
	m.ObserveStill("predict", errors.New("boom"))
	m.ObserveStill("predict", nil)

	if got := testutil.ToFloat64(m.StillRequests.WithLabelValues("predict", "ok")); got != 2 {
		t.Errorf("expected 2 ok, got %v", got)
	}
	if got := testutil.ToFloat64(m.StillRequests.WithLabelValues("predict", "error")); got != 1 {
		t.Errorf("expected 1 error, got %v", got)
	}
}
