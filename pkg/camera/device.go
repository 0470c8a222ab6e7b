package camera

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/bflycam/bfly/pkg/types"
)

// ErrNotAcquiring is returned by CurrentImage before StartAcquisition.
var ErrNotAcquiring = errors.New("camera is not acquiring")

// VideoMode selects a capture resolution preset.
type VideoMode int

const (
	VideoModeFull    VideoMode = iota // full sensor, 1280x960
	VideoModeHalf                     // 2x2 binned, 640x480
	VideoModeQuarter                  // 4x4 binned, 320x240
)

// Resolution is a frame size in pixels.
type Resolution struct {
	Width  int
	Height int
}

var resolutions = map[VideoMode]Resolution{
	VideoModeFull:    {Width: 1280, Height: 960},
	VideoModeHalf:    {Width: 640, Height: 480},
	VideoModeQuarter: {Width: 320, Height: 240},
}

// Resolution returns the frame size of the mode.
func (m VideoMode) Resolution() (Resolution, error) {
	r, ok := resolutions[m]
	if !ok {
		return Resolution{}, fmt.Errorf("unknown video mode %d", int(m))
	}
	return r, nil
}

func (m VideoMode) String() string {
	r, err := m.Resolution()
	if err != nil {
		return fmt.Sprintf("VideoMode(%d)", int(m))
	}
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// PixelFormat is the pixel layout produced by the device.
type PixelFormat int

const (
	PixelFormatMono8 PixelFormat = iota
	PixelFormatRGB8
	PixelFormatMono16
)

// BytesPerPixel returns the size of one pixel, or 0 for unknown formats.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case PixelFormatMono8:
		return 1
	case PixelFormatMono16:
		return 2
	case PixelFormatRGB8:
		return 3
	default:
		return 0
	}
}

func (f PixelFormat) String() string {
	switch f {
	case PixelFormatMono8:
		return "MONO8"
	case PixelFormatRGB8:
		return "RGB8"
	case PixelFormatMono16:
		return "MONO16"
	default:
		return fmt.Sprintf("PixelFormat(%d)", int(f))
	}
}

// Encoding returns the image encoding published for f. Only MONO8 and RGB8
// have a published encoding; every other format is labelled mono8.
func Encoding(f PixelFormat) string {
	if f == PixelFormatRGB8 {
		return types.EncodingRGB8
	}
	return types.EncodingMono8
}

// Image is the raw buffer returned by a device.
type Image struct {
	Data   []byte
	Width  int
	Height int
	Step   int // bytes per row
}

// Device is the capability the daemon needs from camera hardware.
type Device interface {
	Open() error
	Configure(mode VideoMode, format PixelFormat) error
	StartAcquisition() error
	// CurrentImage blocks until the device delivers a frame.
	CurrentImage() (Image, error)
	PixelFormat() PixelFormat
	Close() error
}

// Describer is implemented by devices that can report identifying details,
// logged once acquisition has started.
type Describer interface {
	Describe() logrus.Fields
}

// SetupStep names a step of bringing a device up.
type SetupStep string

const (
	StepOpen      SetupStep = "open"
	StepConfigure SetupStep = "configure"
	StepStart     SetupStep = "start-acquisition"
)

// SetupError reports which setup step failed.
type SetupError struct {
	Step SetupStep
	Err  error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("camera %s failed: %v", e.Step, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

// Setup opens d, configures it and starts acquisition. The first failing
// step is returned as a *SetupError.
func Setup(d Device, mode VideoMode, format PixelFormat) error {
	if err := d.Open(); err != nil {
		return &SetupError{Step: StepOpen, Err: err}
	}
	if err := d.Configure(mode, format); err != nil {
		return &SetupError{Step: StepConfigure, Err: err}
	}
	if err := d.StartAcquisition(); err != nil {
		return &SetupError{Step: StepStart, Err: err}
	}
	return nil
}
