//go:build !linux

package camera

import (
	"errors"

	"github.com/sirupsen/logrus"
)

var errV4L2Unsupported = errors.New("v4l2 devices are only supported on linux")

// V4L2Device is unavailable on this platform; every setup call fails.
type V4L2Device struct {
	path string
}

// NewV4L2 returns a device whose Open always fails on this platform.
func NewV4L2(path string) *V4L2Device {
	return &V4L2Device{path: path}
}

func (d *V4L2Device) Open() error { return errV4L2Unsupported }
func (d *V4L2Device) Configure(VideoMode, PixelFormat) error { return errV4L2Unsupported }
func (d *V4L2Device) StartAcquisition() error { return errV4L2Unsupported }
func (d *V4L2Device) CurrentImage() (Image, error) { return Image{}, ErrNotAcquiring }
func (d *V4L2Device) PixelFormat() PixelFormat { return PixelFormatMono8 }
func (d *V4L2Device) Close() error { return nil }
func (d *V4L2Device) Describe() logrus.Fields { return logrus.Fields{"model": "v4l2", "path": d.path} }
