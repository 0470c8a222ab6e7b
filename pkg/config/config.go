package config

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bflycam/bfly/pkg/calibration"
	"github.com/bflycam/bfly/pkg/camera"
)

// RunMode selects what drives capture cycles.
type RunMode int

const (
	// RunModePublisher publishes at Rate and serves requests.
	RunModePublisher RunMode = iota
	// RunModeServer only captures on request or schedule.
	RunModeServer
)

// MinPublishInterval bounds Rate from above.
const MinPublishInterval = time.Millisecond

// Config is read once at startup. Nothing re-reads it while the daemon runs.
type Config interface {
	RunMode() RunMode
	// Rate is the publish frequency in Hz.
	Rate() float64
	FrameName() string
	CameraInfoFile() string
	VideoMode() camera.VideoMode
	PixelFormat() camera.PixelFormat
	Device() string
	DevicePath() string
	// BusEndpoint is the ZeroMQ bind address. Empty disables the bus.
	BusEndpoint() string
	ProjectionSource() calibration.ProjectionSource
	// CaptureSchedule is a cron expression. Empty disables scheduled captures.
	CaptureSchedule() string
	CaptureScheduleCount() int
	// MaxCaptureFailures is the number of consecutive capture errors after
	// which the device is set up again. 0 never resets the device.
	MaxCaptureFailures() int
	AllowNonRootAccess() bool

	LogrusFields() logrus.Fields
	// Load reads the configuration from the source.
	Load() error
	// Validate reports the first invalid value.
	Validate() error
}
