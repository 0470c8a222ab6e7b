//go:build linux

package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vladimirvivien/go4vl/device"
	"github.com/vladimirvivien/go4vl/v4l2"
)

const v4l2FrameTimeout = 5 * time.Second

// V4L2Device captures frames from a Video4Linux2 device node.
type V4L2Device struct {
	mu     sync.Mutex
	path   string
	dev    *device.Device
	format PixelFormat
	pix    v4l2.PixFormat
	cancel context.CancelFunc
}

// NewV4L2 returns a device bound to path, e.g. /dev/video0. Nothing is opened
// until Open is called.
func NewV4L2(path string) *V4L2Device {
	return &V4L2Device{path: path}
}

func (d *V4L2Device) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	dev, err := device.Open(d.path)
	if err != nil {
		return fmt.Errorf("open %s: %w", d.path, err)
	}
	d.dev = dev
	return nil
}

func fourCC(f PixelFormat) (v4l2.FourCCType, error) {
	switch f {
	case PixelFormatMono8:
		return v4l2.PixelFmtGrey, nil
	case PixelFormatRGB8:
		return v4l2.PixelFmtRGB24, nil
	default:
		return 0, fmt.Errorf("pixel format %s is not supported by v4l2 devices", f)
	}
}

func (d *V4L2Device) Configure(mode VideoMode, format PixelFormat) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.dev == nil {
		return errors.New("device not open")
	}
	res, err := mode.Resolution()
	if err != nil {
		return err
	}
	fcc, err := fourCC(format)
	if err != nil {
		return err
	}

	if err := d.dev.SetPixFormat(v4l2.PixFormat{
		Width:       uint32(res.Width),
		Height:      uint32(res.Height),
		PixelFormat: fcc,
		Field:       v4l2.FieldNone,
	}); err != nil {
		return fmt.Errorf("set pixel format: %w", err)
	}

	// The driver may adjust the requested size.
	pix, err := d.dev.GetPixFormat()
	if err != nil {
		return fmt.Errorf("get pixel format: %w", err)
	}
	d.pix = pix
	d.format = format
	return nil
}

func (d *V4L2Device) StartAcquisition() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.dev == nil {
		return errors.New("device not open")
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := d.dev.Start(ctx); err != nil {
		cancel()
		return err
	}
	d.cancel = cancel
	return nil
}

func (d *V4L2Device) CurrentImage() (Image, error) {
	d.mu.Lock()
	dev, pix, format, started := d.dev, d.pix, d.format, d.cancel != nil
	d.mu.Unlock()

	if dev == nil || !started {
		return Image{}, ErrNotAcquiring
	}

	select {
	case buf, ok := <-dev.GetOutput():
		if !ok {
			return Image{}, ErrNotAcquiring
		}
		step := int(pix.BytesPerLine)
		if step == 0 {
			step = int(pix.Width) * format.BytesPerPixel()
		}
		// The driver reuses its buffers.
		data := append([]byte(nil), buf...)
		return Image{Data: data, Width: int(pix.Width), Height: int(pix.Height), Step: step}, nil
	case <-time.After(v4l2FrameTimeout):
		return Image{}, fmt.Errorf("no frame from %s within %s", d.path, v4l2FrameTimeout)
	}
}

func (d *V4L2Device) PixelFormat() PixelFormat {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.format
}

func (d *V4L2Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.dev == nil {
		return nil
	}
	err := d.dev.Close()
	d.dev = nil
	return err
}

func (d *V4L2Device) Describe() logrus.Fields {
	d.mu.Lock()
	defer d.mu.Unlock()

	return logrus.Fields{
		"model":      "v4l2",
		"path":       d.path,
		"resolution": fmt.Sprintf("%dx%d", d.pix.Width, d.pix.Height),
		"format":     d.format.String(),
	}
}
