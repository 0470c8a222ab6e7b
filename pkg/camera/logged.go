package camera

import "github.com/sirupsen/logrus"

// Logged wraps a Device and traces every call.
type Logged struct {
	dev Device
}

// NewLogged returns d wrapped with trace logging.
func NewLogged(d Device) *Logged {
	return &Logged{dev: d}
}

func (l *Logged) Open() error {
	logrus.Trace("camera Open called")

	if err := l.dev.Open(); err != nil {
		logrus.WithError(err).Trace("camera Open failed")
		return err
	}

	logrus.Trace("camera Open succeed")
	return nil
}

func (l *Logged) Configure(mode VideoMode, format PixelFormat) error {
	fields := logrus.Fields{
		"videoMode":   mode.String(),
		"pixelFormat": format.String(),
	}
	logrus.WithFields(fields).Trace("camera Configure called")

	if err := l.dev.Configure(mode, format); err != nil {
		logrus.WithFields(fields).WithError(err).Trace("camera Configure failed")
		return err
	}

	logrus.WithFields(fields).Trace("camera Configure succeed")
	return nil
}

func (l *Logged) StartAcquisition() error {
	logrus.Trace("camera StartAcquisition called")

	if err := l.dev.StartAcquisition(); err != nil {
		logrus.WithError(err).Trace("camera StartAcquisition failed")
		return err
	}

	logrus.Trace("camera StartAcquisition succeed")
	return nil
}

func (l *Logged) CurrentImage() (Image, error) {
	img, err := l.dev.CurrentImage()
	if err != nil {
		logrus.WithError(err).Trace("camera CurrentImage failed")
		return img, err
	}

	logrus.WithFields(logrus.Fields{
		"width":  img.Width,
		"height": img.Height,
		"bytes":  len(img.Data),
	}).Trace("camera CurrentImage returned")
	return img, nil
}

func (l *Logged) PixelFormat() PixelFormat {
	f := l.dev.PixelFormat()
	logrus.Tracef("camera PixelFormat returned %s", f)
	return f
}

func (l *Logged) Close() error {
	logrus.Trace("camera Close called")
	return l.dev.Close()
}

// Describe forwards to the wrapped device when it implements Describer.
func (l *Logged) Describe() logrus.Fields {
	if d, ok := l.dev.(Describer); ok {
		return d.Describe()
	}
	return logrus.Fields{}
}
