package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bflycam/bfly/pkg/bus"
	"github.com/bflycam/bfly/pkg/calibration"
	"github.com/bflycam/bfly/pkg/camera"
	"github.com/bflycam/bfly/pkg/config"
)

// Daemon serves the request API of one camera.
type Daemon struct {
	conf      config.Config
	ctrl      *Controller
	hub       *bus.Hub
	scheduler *Scheduler // nil without a capture schedule
}

func New(conf config.Config, ctrl *Controller, hub *bus.Hub) *Daemon {
	return &Daemon{conf: conf, ctrl: ctrl, hub: hub}
}

func (d *Daemon) setupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logrus.StandardLogger()))
	router.POST("/capture", d.captureNow)
	router.GET("/calibration", d.getCalibration)
	router.PUT("/calibration", d.setCalibration)
	router.GET("/health", d.getHealth)
	router.GET("/config", d.getConfig)
	router.GET("/version", d.getVersion)
	router.GET("/schedule", d.getSchedule)
	router.POST("/schedule/skip", d.skipSchedule)
	router.POST("/schedule/postpone", d.postponeSchedule)
	router.GET("/stream", d.stream)

	return router
}

// startScheduler runs count captures at every tick of expr once the camera
// is ready.
func (d *Daemon) startScheduler(expr string, count int) error {
	s := NewScheduler(func(ctx context.Context) error {
		dims, err := d.ctrl.CaptureNow(ctx, count)
		if err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{
			"count":  count,
			"width":  dims.Width,
			"height": dims.Height,
		}).Info("scheduled capture done")
		return nil
	}, d.ctrl.Ready)
	s.OnUpcoming = func(runAt time.Time) {
		logrus.WithField("runAt", runAt.Format(time.DateTime)).Info("scheduled capture upcoming")
	}
	s.OnError = func(err error) {
		logrus.WithError(err).Warn("scheduled capture")
	}

	if err := s.Schedule(expr); err != nil {
		return err
	}
	s.Start()
	d.scheduler = s
	return nil
}

func loadCalibration(store *calibration.Store) {
	err := store.Load()
	entry := logrus.WithField("path", store.Path())
	switch {
	case err == nil:
		entry.Info("calibration loaded")
	case errors.Is(err, calibration.ErrNotFound):
		entry.Warn("calibration file not found, publishing zero calibration")
	case errors.Is(err, calibration.ErrFieldNotFound):
		entry.WithError(err).Warn("calibration file is incomplete")
	default:
		entry.WithError(err).Warn("failed to parse calibration file, publishing zero calibration")
	}
}

func Run(configPath string, unixSocketPath string, allowNonRoot bool) error {
	conf, err := config.NewFile(configPath)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to parse config during startup")
	}
	if err := conf.Validate(); err != nil {
		return pkgerrors.Wrapf(err, "invalid config %s", configPath)
	}
	logrus.WithFields(conf.LogrusFields()).Infof("config loaded")

	store := calibration.NewStore(conf.CameraInfoFile())
	loadCalibration(store)

	dev, err := camera.New(conf.Device(), conf.DevicePath())
	if err != nil {
		return err
	}

	hub := bus.NewHub()
	pub := bus.Multi{hub}
	if ep := conf.BusEndpoint(); ep != "" {
		zp, err := bus.NewZMQPublisher(ep)
		if err != nil {
			return err
		}
		pub = append(pub, zp)
	}

	ctrl := NewController(dev, store, pub, Options{
		FrameID:            conf.FrameName(),
		VideoMode:          conf.VideoMode(),
		PixelFormat:        conf.PixelFormat(),
		ProjectionSource:   conf.ProjectionSource(),
		MaxCaptureFailures: conf.MaxCaptureFailures(),
	})
	d := New(conf, ctrl, hub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wg := &sync.WaitGroup{}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ctrl.Supervise(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logrus.WithError(err).Error("camera supervisor exited")
		}
	}()

	if conf.RunMode() == config.RunModePublisher {
		wg.Add(1)
		go func() {
			defer wg.Done()
			publishLoop(ctx, ctrl, conf.Rate())
		}()
	}

	if expr := conf.CaptureSchedule(); expr != "" {
		if err := d.startScheduler(expr, conf.CaptureScheduleCount()); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Handler:           d.setupRoutes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Create the socket to listen on:
	l, err := net.Listen("unix", unixSocketPath)
	if err != nil {
		return err
	}

	if conf.AllowNonRootAccess() || allowNonRoot {
		logrus.Infof("non-root access is allowed, changing permissions of %s to 0777", unixSocketPath)
		err = os.Chmod(unixSocketPath, 0777)
		if err != nil {
			return err
		}
	}

	// Serve HTTP on unix socket
	go func() {
		logrus.Infof("http server listening on %s", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatal(err)
		}
	}()

	// Handle common process-killing signals, so we can gracefully shut down:
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	// Wait for a SIGINT or SIGTERM:
	sig := <-sigc
	logrus.Infof("caught signal \"%s\": shutting down.", sig)

	if d.scheduler != nil {
		d.scheduler.Stop()
	}
	cancel()
	wg.Wait()

	// Closing the hub ends websocket streams, which the http server does
	// not wait for.
	logrus.Info("closing publishers")
	if err := pub.Close(); err != nil {
		logrus.Errorf("failed to close publishers: %v", err)
	}

	logrus.Info("shutting down http server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = srv.Shutdown(shutdownCtx)
	if err != nil {
		logrus.Errorf("failed to shutdown http server: %v", err)
	}
	shutdownCancel()

	logrus.Info("closing camera")
	if err := dev.Close(); err != nil {
		logrus.Errorf("failed to close camera: %v", err)
	}

	logrus.Info("exiting")
	return nil
}
