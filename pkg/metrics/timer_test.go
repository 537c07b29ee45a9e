package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewTimerStartsImmediately(t *testing.T) {
	timer := NewTimer()
	if timer.start.IsZero() {
		t.Fatal("NewTimer() start time is zero")
	}
	if time.Since(timer.start) > time.Second {
		t.Error("NewTimer() start time is not recent")
	}
}

func TestTimerDurationIncreasesMonotonically(t *testing.T) {
	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)
	first := timer.Duration()
	time.Sleep(10 * time.Millisecond)
	second := timer.Duration()

	if second <= first {
		t.Errorf("Duration() should increase: first=%v, second=%v", first, second)
	}
}

func TestTimerObserveDuration(t *testing.T) {
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "test_rebuild_duration_seconds",
		Help: "registry rebuild duration test fixture",
	})

	timer := NewTimer()
	time.Sleep(5 * time.Millisecond)
	timer.ObserveDuration(histogram)

	if timer.Duration() == 0 {
		t.Error("ObserveDuration should not reset the timer's own clock")
	}
}

func TestTimerObserveDurationVecByOutcome(t *testing.T) {
	enableDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "test_flag_enable_duration_seconds",
			Help: "mirrors FlagEnableDuration's outcome label",
		},
		[]string{"outcome"},
	)

	timer := NewTimer()
	time.Sleep(5 * time.Millisecond)
	timer.ObserveDurationVec(enableDuration, "ok")

	if timer.Duration() == 0 {
		t.Error("ObserveDurationVec should not reset the timer's own clock")
	}
}

func TestIndependentTimersDoNotShareState(t *testing.T) {
	first := NewTimer()
	time.Sleep(20 * time.Millisecond)
	second := NewTimer()

	if first.Duration() <= second.Duration() {
		t.Errorf("first timer should report a longer duration: first=%v, second=%v", first.Duration(), second.Duration())
	}
}
