package camera

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// Op names a Device call, used to inject faults into Simulated.
type Op string

const (
	OpOpen      Op = "open"
	OpConfigure Op = "configure"
	OpStart     Op = "start"
	OpCapture   Op = "capture"
)

// Simulated is a Device that renders a diagonal gradient which shifts by one
// intensity step per frame.
type Simulated struct {
	mu        sync.Mutex
	opened    bool
	acquiring bool
	res       Resolution
	format    PixelFormat
	frame     int
	faults    map[Op]error
	calls     map[Op]int
}

// NewSimulated returns a closed simulated device.
func NewSimulated() *Simulated {
	return &Simulated{
		faults: make(map[Op]error),
		calls:  make(map[Op]int),
	}
}

// InjectFault makes every following call of op return err. A nil err clears
// the fault.
func (s *Simulated) InjectFault(op Op, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err == nil {
		delete(s.faults, op)
		return
	}
	s.faults[op] = err
}

// Calls returns how many times op was invoked, including failed calls.
func (s *Simulated) Calls(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls[op]
}

func (s *Simulated) enter(op Op) error {
	s.calls[op]++
	return s.faults[op]
}

func (s *Simulated) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(OpOpen); err != nil {
		return err
	}
	s.opened = true
	return nil
}

func (s *Simulated) Configure(mode VideoMode, format PixelFormat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(OpConfigure); err != nil {
		return err
	}
	if !s.opened {
		return errors.New("device not open")
	}
	res, err := mode.Resolution()
	if err != nil {
		return err
	}
	if format.BytesPerPixel() == 0 {
		logrus.WithField("format", format).Warn("unsupported pixel format, rendering MONO8")
	}
	s.res = res
	s.format = format
	return nil
}

func (s *Simulated) StartAcquisition() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(OpStart); err != nil {
		return err
	}
	if s.res.Width == 0 {
		return errors.New("device not configured")
	}
	s.acquiring = true
	return nil
}

func (s *Simulated) CurrentImage() (Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(OpCapture); err != nil {
		return Image{}, err
	}
	if !s.acquiring {
		return Image{}, ErrNotAcquiring
	}

	bpp := s.format.BytesPerPixel()
	if bpp == 0 {
		bpp = 1
	}
	w, h := s.res.Width, s.res.Height
	step := w * bpp
	data := make([]byte, step*h)
	for y := 0; y < h; y++ {
		row := data[y*step : (y+1)*step]
		for x := 0; x < w; x++ {
			v := byte(x + y + s.frame)
			for c := 0; c < bpp; c++ {
				row[x*bpp+c] = v
			}
		}
	}
	s.frame++

	return Image{Data: data, Width: w, Height: h, Step: step}, nil
}

func (s *Simulated) PixelFormat() PixelFormat {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.format
}

func (s *Simulated) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.opened = false
	s.acquiring = false
	return nil
}

func (s *Simulated) Describe() logrus.Fields {
	s.mu.Lock()
	defer s.mu.Unlock()

	return logrus.Fields{
		"model":      "simulated",
		"resolution": s.res,
		"format":     s.format.String(),
	}
}
