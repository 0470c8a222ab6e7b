package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bflycam/bfly/pkg/bus"
	"github.com/bflycam/bfly/pkg/calibration"
	"github.com/bflycam/bfly/pkg/camera"
	"github.com/bflycam/bfly/pkg/types"
)

// State is the operational state of the camera.
type State string

const (
	StateStarting State = "starting"
	StateReady    State = "ready"
	StateFailed   State = "failed"
)

// ErrNotReady is returned when a capture is requested before the camera has
// been set up.
var ErrNotReady = errors.New("camera is not ready")

// CaptureError reports a capture cycle that emitted nothing.
type CaptureError struct {
	Err error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture failed: %v", e.Err)
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

// Options configures a Controller.
type Options struct {
	FrameID          string
	VideoMode        camera.VideoMode
	PixelFormat      camera.PixelFormat
	ProjectionSource calibration.ProjectionSource
	// MaxCaptureFailures consecutive capture errors set the device up again.
	// 0 disables the reset.
	MaxCaptureFailures int

	// Clock defaults to time.Now.
	Clock func() time.Time
	// NewBackOff returns the retry policy for device setup. Defaults to an
	// exponential back-off.
	NewBackOff func() backoff.BackOff
}

// Health is a point-in-time view of the controller.
type Health struct {
	State    State            `json:"state"`
	Error    string           `json:"error,omitempty"`
	Session  string           `json:"session,omitempty"`
	Since    time.Time        `json:"since"`
	Seq      uint32           `json:"seq"`
	Last     types.Dimensions `json:"last"`
	Failures int              `json:"failures"`
	// LastPublish is the stamp of the last published frame, zero if none
	// was published in this session.
	LastPublish time.Time `json:"lastPublish"`
	// Rate is the publish rate measured over the last few seconds, in Hz.
	Rate float64 `json:"rate"`
}

// Controller runs capture cycles: it pulls a frame from the device, stamps it,
// builds the matching calibration record and publishes both as one unit.
type Controller struct {
	dev   camera.Device
	store *calibration.Store
	pub   bus.Publisher
	opts  Options

	// cycleMu serializes capture cycles and device resets. It is held across
	// blocking device calls.
	cycleMu sync.Mutex

	// mu guards the fields below and is never held across device calls, so
	// Health and Ready do not wait for a frame.
	mu       sync.Mutex
	state    State
	lastErr  error
	since    time.Time
	session  string
	seq      uint32
	lastDims types.Dimensions
	failures int

	recorder *TimeSeriesRecorder
	resetCh  chan struct{}
}

func NewController(dev camera.Device, store *calibration.Store, pub bus.Publisher, opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.NewBackOff == nil {
		opts.NewBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxInterval = 30 * time.Second
			return b
		}
	}
	if opts.ProjectionSource == "" {
		opts.ProjectionSource = calibration.ProjectionFromR
	}
	return &Controller{
		dev:      dev,
		store:    store,
		pub:      pub,
		opts:     opts,
		state:    StateStarting,
		since:    opts.Clock(),
		recorder: NewTimeSeriesRecorder(recorderSize),
		resetCh:  make(chan struct{}, 1),
	}
}

// Publish runs one capture cycle. If the device fails to deliver a frame a
// *CaptureError is returned, nothing is emitted and the sequence number is not
// consumed.
func (c *Controller) Publish(ctx context.Context) (types.Emission, error) {
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	return c.publishCycle(ctx)
}

// publishCycle must be called with cycleMu held.
func (c *Controller) publishCycle(ctx context.Context) (types.Emission, error) {
	if err := ctx.Err(); err != nil {
		return types.Emission{}, &CaptureError{Err: err}
	}
	if err := c.Ready(); err != nil {
		return types.Emission{}, &CaptureError{Err: err}
	}

	img, err := c.dev.CurrentImage()
	if err != nil {
		c.captureFailed(err)
		return types.Emission{}, &CaptureError{Err: err}
	}

	dims := types.Dimensions{Width: uint32(img.Width), Height: uint32(img.Height)}

	// One sequence number and one clock reading for both messages.
	c.mu.Lock()
	c.failures = 0
	c.seq++
	seq := c.seq
	ts := c.opts.Clock()
	c.lastDims = dims
	c.mu.Unlock()

	e := types.Emission{
		Image: types.Image{
			Header:   types.Header{Seq: seq, Stamp: ts, FrameID: c.opts.FrameID},
			Height:   dims.Height,
			Width:    dims.Width,
			Encoding: camera.Encoding(c.dev.PixelFormat()),
			Step:     uint32(img.Step),
			Data:     img.Data,
		},
		Info: calibration.Build(c.store.Snapshot(), dims, seq, ts, c.opts.FrameID),
	}

	if err := c.pub.Publish(e); err != nil {
		return e, pkgerrors.Wrapf(err, "failed to publish frame %d", seq)
	}
	c.recorder.AddRecord(ts)

	return e, nil
}

func (c *Controller) captureFailed(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failures++
	if c.opts.MaxCaptureFailures == 0 || c.failures < c.opts.MaxCaptureFailures {
		return
	}

	logrus.WithFields(logrus.Fields{
		"failures": c.failures,
		"session":  c.session,
	}).WithError(err).Error("too many consecutive capture failures, resetting camera")
	c.setStateLocked(StateFailed, err)
	select {
	case c.resetCh <- struct{}{}:
	default:
	}
}

// CaptureNow runs count capture cycles in order and returns the size of the
// last frame. With count 0 the device is not touched and the last known size
// is returned, which is zero before the first capture.
func (c *Controller) CaptureNow(ctx context.Context, count int) (types.Dimensions, error) {
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	for i := 0; i < count; i++ {
		if _, err := c.publishCycle(ctx); err != nil {
			return c.lastDimensions(), err
		}
	}
	return c.lastDimensions(), nil
}

func (c *Controller) lastDimensions() types.Dimensions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastDims
}

// ReplaceCalibration installs the requested matrices and persists them to the
// calibration file. The request is expected to carry correctly sized slices.
func (c *Controller) ReplaceCalibration(req calibration.SetRequest) calibration.SetResponse {
	m, err := req.Matrices(c.opts.ProjectionSource)
	if err != nil {
		return calibration.SetResponse{Success: false, Status: -1, Message: err.Error()}
	}

	if err := c.store.Replace(m); err != nil {
		logrus.WithError(err).WithField("path", c.store.Path()).Error("failed to save calibration")
		return calibration.SetResponse{Success: false, Status: -1, Message: err.Error()}
	}

	logrus.WithField("path", c.store.Path()).Info("calibration replaced")
	return calibration.SetResponse{Success: true, Status: 1}
}

// Calibration returns the matrices currently attached to published frames.
func (c *Controller) Calibration() calibration.Matrices {
	return c.store.Snapshot()
}

// Ready returns nil if the camera is acquiring.
func (c *Controller) Ready() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateReady {
		return ErrNotReady
	}
	return nil
}

func (c *Controller) Health() Health {
	c.mu.Lock()
	h := Health{
		State:    c.state,
		Session:  c.session,
		Since:    c.since,
		Seq:      c.seq,
		Last:     c.lastDims,
		Failures: c.failures,
	}
	if c.lastErr != nil {
		h.Error = c.lastErr.Error()
	}
	c.mu.Unlock()

	h.LastPublish = c.recorder.GetLastRecord()
	h.Rate = c.recorder.RateIn(rateWindow, c.opts.Clock())
	return h
}

func (c *Controller) setStateLocked(s State, err error) {
	if c.state != s {
		logrus.WithFields(logrus.Fields{
			"from": c.state,
			"to":   s,
		}).Info("camera state changed")
		c.since = c.opts.Clock()
	}
	c.state = s
	c.lastErr = err
}

func (c *Controller) setState(s State, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.setStateLocked(s, err)
}

// Supervise sets the device up, retrying with back-off until it succeeds,
// and sets it up again whenever repeated capture failures mark it failed.
// It returns when ctx is done.
func (c *Controller) Supervise(ctx context.Context) error {
	for {
		if err := c.setup(ctx); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.resetCh:
		}

		c.reset()
	}
}

// reset closes the device after the current capture cycle and forgets the
// publish history of the failed session.
func (c *Controller) reset() {
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	if err := c.dev.Close(); err != nil {
		logrus.WithError(err).Warn("failed to close camera before reset")
	}
	c.recorder.ClearRecords()
}

func (c *Controller) setup(ctx context.Context) error {
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := camera.Setup(c.dev, c.opts.VideoMode, c.opts.PixelFormat)
		if err != nil {
			// Leave nothing half open for the next attempt.
			_ = c.dev.Close()
			c.setState(StateFailed, err)
			return struct{}{}, err
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(c.opts.NewBackOff()),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			logrus.WithFields(logrus.Fields{
				"attempt": attempt,
				"retryIn": next.String(),
			}).WithError(err).Warn("camera setup failed")
		}),
	)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.session = uuid.NewString()
	c.failures = 0
	c.setStateLocked(StateReady, nil)
	session := c.session
	c.mu.Unlock()

	fields := logrus.Fields{
		"session":     session,
		"attempts":    attempt,
		"videoMode":   c.opts.VideoMode.String(),
		"pixelFormat": c.opts.PixelFormat.String(),
	}
	if d, ok := c.dev.(camera.Describer); ok {
		for k, v := range d.Describe() {
			fields[k] = v
		}
	}
	logrus.WithFields(fields).Info("camera acquiring")

	return nil
}
