package daemon

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	recorderSize       = 256
	rateWindow         = 5 * time.Second
	failureLogInterval = 10 * time.Second
)

// TimeSeriesRecorder records the last N publish times.
type TimeSeriesRecorder struct {
	MaxRecordCount int
	Records        []time.Time
	mu             *sync.Mutex
}

// NewTimeSeriesRecorder returns a new TimeSeriesRecorder.
func NewTimeSeriesRecorder(maxRecordCount int) *TimeSeriesRecorder {
	return &TimeSeriesRecorder{
		MaxRecordCount: maxRecordCount,
		Records:        make([]time.Time, 0),
		mu:             &sync.Mutex{},
	}
}

// AddRecord adds a new record.
func (r *TimeSeriesRecorder) AddRecord(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Strip monotonic clock reading.
	t = t.Round(0)

	if len(r.Records) >= r.MaxRecordCount {
		r.Records = r.Records[1:]
	}
	r.Records = append(r.Records, t)
}

// ClearRecords clears all records.
func (r *TimeSeriesRecorder) ClearRecords() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Records = make([]time.Time, 0)
}

// GetLastRecords returns the records within last before now, newest first.
func (r *TimeSeriesRecorder) GetLastRecords(last time.Duration, now time.Time) []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	var records []time.Time
	for i := len(r.Records) - 1; i >= 0; i-- {
		record := r.Records[i]
		if now.Sub(record) > last {
			break
		}
		records = append(records, record)
	}

	return records
}

// RateIn returns the number of records per second within last before now.
func (r *TimeSeriesRecorder) RateIn(last time.Duration, now time.Time) float64 {
	if last <= 0 {
		return 0
	}
	return float64(len(r.GetLastRecords(last, now))) / last.Seconds()
}

// GetLastRecord returns the last record.
func (r *TimeSeriesRecorder) GetLastRecord() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.Records) == 0 {
		return time.Time{}
	}

	return r.Records[len(r.Records)-1]
}

// publishLoop publishes at rate Hz until ctx is done. Failures are logged and
// never stop the loop.
func publishLoop(ctx context.Context, c *Controller, rate float64) {
	interval := time.Duration(float64(time.Second) / rate)
	if interval <= 0 {
		logrus.WithField("rate", rate).Error("invalid publish rate, publish loop not started")
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logrus.WithField("interval", interval.String()).Debug("publish loop starts")

	fl := &failureLog{interval: failureLogInterval}
	for {
		select {
		case <-ctx.Done():
			logrus.Debug("publish loop stopped")
			return
		case <-ticker.C:
			_, err := c.Publish(ctx)
			fl.observe(err, time.Now())
		}
	}
}

// failureLog throttles repeated publish failures so a camera that is down
// does not flood the log at the publish rate.
type failureLog struct {
	interval   time.Duration
	lastMsg    string
	lastPrint  time.Time
	suppressed int
}

// observe returns true if err was printed.
func (l *failureLog) observe(err error, now time.Time) bool {
	if err == nil {
		if l.lastMsg != "" {
			logrus.WithField("suppressed", l.suppressed).Info("publishing resumed")
		}
		l.lastMsg = ""
		l.suppressed = 0
		return false
	}

	msg := err.Error()
	if msg == l.lastMsg && now.Sub(l.lastPrint) < l.interval {
		l.suppressed++
		logrus.WithError(err).Trace("publish failed")
		return false
	}

	entry := logrus.WithError(err).WithField("suppressed", l.suppressed)
	if errors.Is(err, ErrNotReady) {
		entry.Info("camera not ready, skipping publish")
	} else {
		entry.Warn("publish failed")
	}
	l.lastMsg = msg
	l.lastPrint = now
	l.suppressed = 0
	return true
}
