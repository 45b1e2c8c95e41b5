package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestFramesSentIncrementsPerSensorType(t *testing.T) {
	before := testutil.ToFloat64(FramesSent.WithLabelValues("camera.rgb"))
	FramesSent.WithLabelValues("camera.rgb").Inc()
	after := testutil.ToFloat64(FramesSent.WithLabelValues("camera.rgb"))
	if after != before+1 {
		t.Fatalf("expected counter to increment by 1, got %v -> %v", before, after)
	}
}

func TestSessionsOpenGauge(t *testing.T) {
	before := testutil.ToFloat64(SessionsOpen)
	SessionsOpen.Inc()
	SessionsOpen.Inc()
	SessionsOpen.Dec()
	after := testutil.ToFloat64(SessionsOpen)
	if after != before+1 {
		t.Fatalf("expected gauge net +1, got %v -> %v", before, after)
	}
}

func TestHandlerIsNotNil(t *testing.T) {
	if Handler() == nil {
		t.Fatal("expected a non-nil metrics handler")
	}
}
