package config

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bflycam/bfly/pkg/calibration"
	"github.com/bflycam/bfly/pkg/camera"
	"github.com/bflycam/bfly/pkg/utils/ptr"
)

var (
	defaultFileConfig = &RawFileConfig{
		RunMode:              ptr.To(int(RunModePublisher)),
		Rate:                 ptr.To(30.0),
		FrameName:            ptr.To("camera"),
		CameraInfoFile:       ptr.To("/var/lib/bfly/camera_info.yaml"),
		VideoMode:            ptr.To(int(camera.VideoModeHalf)),
		PixelFormat:          ptr.To(int(camera.PixelFormatMono8)),
		Device:               ptr.To(camera.KindSimulated),
		DevicePath:           ptr.To("/dev/video0"),
		BusEndpoint:          ptr.To(""),
		ProjectionSource:     ptr.To(string(calibration.ProjectionFromR)),
		CaptureSchedule:      ptr.To(""),
		CaptureScheduleCount: ptr.To(1),
		MaxCaptureFailures:   ptr.To(10),
		AllowNonRootAccess:   ptr.To(false),
	}
)

var _ Config = &File{}

type File struct {
	c        *RawFileConfig
	mu       *sync.RWMutex
	filepath string
}

func NewFile(configPath string) (*File, error) {
	f := &File{
		filepath: configPath,
		mu:       &sync.RWMutex{},
	}
	err := f.Load()
	if err != nil {
		return nil, err
	}

	return f, nil
}

func NewFileFromConfig(c *RawFileConfig, configPath string) *File {
	if c == nil {
		c = &RawFileConfig{}
	}

	f := &File{
		c:        c,
		mu:       &sync.RWMutex{},
		filepath: configPath,
	}

	return f
}

// RawFileConfig is the on-disk form. Unset fields take their defaults.
// BFLY_* environment variables override the file.
type RawFileConfig struct {
	RunMode              *int     `json:"runMode,omitempty" env:"BFLY_RUN_MODE"`
	Rate                 *float64 `json:"rate,omitempty" env:"BFLY_RATE"`
	FrameName            *string  `json:"frameName,omitempty" env:"BFLY_FRAME_NAME"`
	CameraInfoFile       *string  `json:"cameraInfoFile,omitempty" env:"BFLY_CAMERA_INFO_FILE"`
	VideoMode            *int     `json:"videoMode,omitempty" env:"BFLY_VIDEO_MODE"`
	PixelFormat          *int     `json:"pixelFormat,omitempty" env:"BFLY_PIXEL_FORMAT"`
	Device               *string  `json:"device,omitempty" env:"BFLY_DEVICE"`
	DevicePath           *string  `json:"devicePath,omitempty" env:"BFLY_DEVICE_PATH"`
	BusEndpoint          *string  `json:"busEndpoint,omitempty" env:"BFLY_BUS_ENDPOINT"`
	ProjectionSource     *string  `json:"projectionSource,omitempty" env:"BFLY_PROJECTION_SOURCE"`
	CaptureSchedule      *string  `json:"captureSchedule,omitempty" env:"BFLY_CAPTURE_SCHEDULE"`
	CaptureScheduleCount *int     `json:"captureScheduleCount,omitempty" env:"BFLY_CAPTURE_SCHEDULE_COUNT"`
	MaxCaptureFailures   *int     `json:"maxCaptureFailures,omitempty" env:"BFLY_MAX_CAPTURE_FAILURES"`
	AllowNonRootAccess   *bool    `json:"allowNonRootAccess,omitempty" env:"BFLY_ALLOW_NON_ROOT_ACCESS"`
}

// get reads a field under the read lock, falling back to the default.
func get[T any](f *File, field func(*RawFileConfig) *T) T {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return ptr.Deref(field(f.c), *field(defaultFileConfig))
}

func (f *File) RunMode() RunMode {
	return RunMode(get(f, func(c *RawFileConfig) *int { return c.RunMode }))
}

func (f *File) Rate() float64 {
	return get(f, func(c *RawFileConfig) *float64 { return c.Rate })
}

func (f *File) FrameName() string {
	return get(f, func(c *RawFileConfig) *string { return c.FrameName })
}

func (f *File) CameraInfoFile() string {
	return get(f, func(c *RawFileConfig) *string { return c.CameraInfoFile })
}

func (f *File) VideoMode() camera.VideoMode {
	return camera.VideoMode(get(f, func(c *RawFileConfig) *int { return c.VideoMode }))
}

func (f *File) PixelFormat() camera.PixelFormat {
	return camera.PixelFormat(get(f, func(c *RawFileConfig) *int { return c.PixelFormat }))
}

func (f *File) Device() string {
	return get(f, func(c *RawFileConfig) *string { return c.Device })
}

func (f *File) DevicePath() string {
	return get(f, func(c *RawFileConfig) *string { return c.DevicePath })
}

func (f *File) BusEndpoint() string {
	return get(f, func(c *RawFileConfig) *string { return c.BusEndpoint })
}

func (f *File) ProjectionSource() calibration.ProjectionSource {
	return calibration.ProjectionSource(get(f, func(c *RawFileConfig) *string { return c.ProjectionSource }))
}

func (f *File) CaptureSchedule() string {
	return get(f, func(c *RawFileConfig) *string { return c.CaptureSchedule })
}

func (f *File) CaptureScheduleCount() int {
	return get(f, func(c *RawFileConfig) *int { return c.CaptureScheduleCount })
}

func (f *File) MaxCaptureFailures() int {
	return get(f, func(c *RawFileConfig) *int { return c.MaxCaptureFailures })
}

func (f *File) AllowNonRootAccess() bool {
	return get(f, func(c *RawFileConfig) *bool { return c.AllowNonRootAccess })
}

// Load reads the file, then applies the environment overlay. A missing or
// empty file yields the defaults.
func (f *File) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	conf, err := f.readFile()
	if err != nil {
		return err
	}

	if err := env.Parse(conf); err != nil {
		return pkgerrors.Wrap(err, "failed to parse environment overrides")
	}
	f.c = conf

	return nil
}

func (f *File) readFile() (*RawFileConfig, error) {
	fp, err := os.Open(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			return &RawFileConfig{}, nil
		}
		return nil, pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	// Since we want to tell if the file is empty, using json.Decoder will
	// not work.
	b, err := io.ReadAll(fp)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to read file %s", f.filepath)
	}

	if strings.TrimSpace(string(b)) == "" {
		return &RawFileConfig{}, nil
	}

	conf := &RawFileConfig{}
	err = json.Unmarshal(b, conf)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal config from file %s", f.filepath)
	}

	return conf, nil
}

func (f *File) Validate() error {
	if rate := f.Rate(); math.IsNaN(rate) || math.IsInf(rate, 0) || rate <= 0 {
		return fmt.Errorf("rate must be a positive number, got %v", rate)
	} else if interval := time.Duration(float64(time.Second) / rate); interval < MinPublishInterval {
		return fmt.Errorf("rate %v is too high: publish interval must be at least %s", rate, MinPublishInterval)
	}
	switch m := f.RunMode(); m {
	case RunModePublisher, RunModeServer:
	default:
		return fmt.Errorf("unknown run mode %d", int(m))
	}
	if _, err := f.VideoMode().Resolution(); err != nil {
		return err
	}
	switch d := f.Device(); d {
	case camera.KindSimulated, camera.KindV4L2:
	default:
		return fmt.Errorf("unknown device %q", d)
	}
	if src := f.ProjectionSource(); !src.Valid() {
		return fmt.Errorf("unknown projection source %q", src)
	}
	if f.FrameName() == "" {
		return fmt.Errorf("frame name must not be empty")
	}
	if f.CaptureScheduleCount() < 0 {
		return fmt.Errorf("capture schedule count must not be negative")
	}
	if f.MaxCaptureFailures() < 0 {
		return fmt.Errorf("max capture failures must not be negative")
	}
	return nil
}

func (f *File) LogrusFields() logrus.Fields {
	if f.c == nil {
		panic("config is nil")
	}

	return logrus.Fields{
		"runMode":              f.RunMode(),
		"rate":                 f.Rate(),
		"frameName":            f.FrameName(),
		"cameraInfoFile":       f.CameraInfoFile(),
		"videoMode":            f.VideoMode().String(),
		"pixelFormat":          f.PixelFormat().String(),
		"device":               f.Device(),
		"devicePath":           f.DevicePath(),
		"busEndpoint":          f.BusEndpoint(),
		"projectionSource":     f.ProjectionSource(),
		"captureSchedule":      f.CaptureSchedule(),
		"captureScheduleCount": f.CaptureScheduleCount(),
		"maxCaptureFailures":   f.MaxCaptureFailures(),
		"allowNonRootAccess":   f.AllowNonRootAccess(),
	}
}

func NewRawFileConfigFromConfig(c Config) (*RawFileConfig, error) {
	if c == nil {
		return nil, pkgerrors.New("config is nil")
	}

	return &RawFileConfig{
		RunMode:              ptr.To(int(c.RunMode())),
		Rate:                 ptr.To(c.Rate()),
		FrameName:            ptr.To(c.FrameName()),
		CameraInfoFile:       ptr.To(c.CameraInfoFile()),
		VideoMode:            ptr.To(int(c.VideoMode())),
		PixelFormat:          ptr.To(int(c.PixelFormat())),
		Device:               ptr.To(c.Device()),
		DevicePath:           ptr.To(c.DevicePath()),
		BusEndpoint:          ptr.To(c.BusEndpoint()),
		ProjectionSource:     ptr.To(string(c.ProjectionSource())),
		CaptureSchedule:      ptr.To(c.CaptureSchedule()),
		CaptureScheduleCount: ptr.To(c.CaptureScheduleCount()),
		MaxCaptureFailures:   ptr.To(c.MaxCaptureFailures()),
		AllowNonRootAccess:   ptr.To(c.AllowNonRootAccess()),
	}, nil
}
