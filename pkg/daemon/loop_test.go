package daemon

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bflycam/bfly/pkg/camera"
)

func TestTimeSeriesRecorder(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r := NewTimeSeriesRecorder(4)
	assert.True(t, r.GetLastRecord().IsZero())

	for i := 6; i >= 1; i-- {
		r.AddRecord(now.Add(-time.Duration(i) * time.Second))
	}
	// Only the newest four are kept.
	assert.Len(t, r.Records, 4)
	assert.Equal(t, now.Add(-time.Second), r.GetLastRecord())

	tests := []struct {
		name string
		last time.Duration
		want int
	}{
		{"none", 500 * time.Millisecond, 0},
		{"one", time.Second, 1},
		{"two", 2500 * time.Millisecond, 2},
		{"all", time.Minute, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, r.GetLastRecords(tt.last, now), tt.want)
		})
	}

	assert.InDelta(t, 2.0/2.5, r.RateIn(2500*time.Millisecond, now), 1e-9)
	assert.Zero(t, r.RateIn(0, now))

	r.ClearRecords()
	assert.Empty(t, r.GetLastRecords(time.Minute, now))
}

func TestFailureLogThrottles(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l := &failureLog{interval: 10 * time.Second}
	boom := errors.New("boom")

	assert.True(t, l.observe(boom, now))
	assert.False(t, l.observe(boom, now.Add(time.Second)))
	assert.False(t, l.observe(boom, now.Add(2*time.Second)))
	assert.Equal(t, 2, l.suppressed)

	// A different error is printed right away.
	assert.True(t, l.observe(fmt.Errorf("other"), now.Add(3*time.Second)))
	// The same error again after the interval.
	assert.True(t, l.observe(fmt.Errorf("other"), now.Add(14*time.Second)))

	assert.False(t, l.observe(nil, now.Add(15*time.Second)))
	assert.Empty(t, l.lastMsg)
	assert.True(t, l.observe(boom, now.Add(16*time.Second)))
}

func TestPublishLoop(t *testing.T) {
	f := newFixture(t, Options{VideoMode: camera.VideoModeQuarter})
	f.ready(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		publishLoop(ctx, f.ctrl, 200)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(f.pub.emissions()) >= 3
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	got := f.pub.emissions()
	for i, e := range got {
		assert.Equal(t, uint32(i+1), e.Image.Header.Seq)
	}
}

func TestPublishLoopSurvivesFailures(t *testing.T) {
	f := newFixture(t, Options{VideoMode: camera.VideoModeQuarter})
	f.ready(t)
	f.dev.InjectFault(camera.OpCapture, errors.New("boom"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go publishLoop(ctx, f.ctrl, 200)

	require.Eventually(t, func() bool {
		return f.dev.Calls(camera.OpCapture) >= 3
	}, 2*time.Second, 5*time.Millisecond)
	f.dev.InjectFault(camera.OpCapture, nil)
	require.Eventually(t, func() bool {
		return len(f.pub.emissions()) >= 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestPublishLoopRejectsInvalidRate(t *testing.T) {
	f := newFixture(t, Options{VideoMode: camera.VideoModeQuarter})
	f.ready(t)

	for _, rate := range []float64{math.NaN(), math.Inf(1), 2e9} {
		done := make(chan struct{})
		go func() {
			publishLoop(context.Background(), f.ctrl, rate)
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("publish loop started with rate %v", rate)
		}
	}
	assert.Empty(t, f.pub.emissions())
}
