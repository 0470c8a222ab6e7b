package daemon

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/bflycam/bfly/pkg/bus"
	"github.com/bflycam/bfly/pkg/calibration"
	"github.com/bflycam/bfly/pkg/config"
	"github.com/bflycam/bfly/pkg/types"
	"github.com/bflycam/bfly/pkg/version"
)

// CaptureRequest is the body of POST /capture.
type CaptureRequest struct {
	NumImages int `json:"num_images"`
}

// ScheduleStatus is returned by GET /schedule.
type ScheduleStatus struct {
	Cron     string      `json:"cron"`
	Count    int         `json:"count"`
	Running  bool        `json:"running"`
	NextRuns []time.Time `json:"nextRuns,omitempty"`
}

func (d *Daemon) captureNow(c *gin.Context) {
	var req CaptureRequest
	if err := c.BindJSON(&req); err != nil {
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}
	if req.NumImages < 0 {
		err := fmt.Errorf("num_images must not be negative, got %d", req.NumImages)
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	dims, err := d.ctrl.CaptureNow(c.Request.Context(), req.NumImages)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrNotReady) {
			status = http.StatusServiceUnavailable
		}
		c.IndentedJSON(status, err.Error())
		_ = c.AbortWithError(status, err)
		return
	}

	logrus.WithFields(logrus.Fields{
		"count":  req.NumImages,
		"width":  dims.Width,
		"height": dims.Height,
	}).Info("captured on request")

	c.IndentedJSON(http.StatusOK, dims)
}

// validateSetRequest checks the slice lengths before they reach the store.
func validateSetRequest(req calibration.SetRequest, src calibration.ProjectionSource) error {
	p, err := req.Projection(src)
	if err != nil {
		return err
	}
	for _, f := range []struct {
		name string
		got  int
		want int
	}{
		{"D", len(req.D), calibration.DistortionRows * calibration.DistortionCols},
		{"K", len(req.K), calibration.IntrinsicRows * calibration.IntrinsicCols},
		{string(src), len(p), calibration.ProjectionRows * calibration.ProjectionCols},
	} {
		if f.got != f.want {
			return fmt.Errorf("%s must have %d values, got %d", f.name, f.want, f.got)
		}
	}
	return nil
}

func (d *Daemon) setCalibration(c *gin.Context) {
	var req calibration.SetRequest
	if err := c.BindJSON(&req); err != nil {
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}
	if err := validateSetRequest(req, d.conf.ProjectionSource()); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	// A failed save is reported in the body, not as an HTTP error.
	c.IndentedJSON(http.StatusOK, d.ctrl.ReplaceCalibration(req))
}

func (d *Daemon) getCalibration(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, d.ctrl.Calibration().Request())
}

func (d *Daemon) getHealth(c *gin.Context) {
	h := d.ctrl.Health()
	status := http.StatusOK
	if h.State != StateReady {
		status = http.StatusServiceUnavailable
	}
	c.IndentedJSON(status, h)
}

func (d *Daemon) getConfig(c *gin.Context) {
	fc, err := config.NewRawFileConfigFromConfig(d.conf)
	if err != nil {
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusOK, fc)
}

func (d *Daemon) getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, version.Version)
}

func (d *Daemon) getSchedule(c *gin.Context) {
	st := ScheduleStatus{
		Cron:  d.conf.CaptureSchedule(),
		Count: d.conf.CaptureScheduleCount(),
	}
	if d.scheduler != nil {
		next, running := d.scheduler.Status()
		st.Running = running
		if !next.IsZero() {
			st.NextRuns = []time.Time{next}
			if more, err := NextRuns(st.Cron, next, 2); err == nil {
				st.NextRuns = append(st.NextRuns, more...)
			}
		}
	}
	c.IndentedJSON(http.StatusOK, st)
}

func (d *Daemon) skipSchedule(c *gin.Context) {
	if d.scheduler == nil {
		c.IndentedJSON(http.StatusNotFound, "no capture schedule configured")
		_ = c.AbortWithError(http.StatusNotFound, errors.New("no capture schedule configured"))
		return
	}
	if err := d.scheduler.Skip(); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}
	next, _ := d.scheduler.Status()
	logrus.WithField("nextRun", next).Info("skipped next scheduled capture")
	c.IndentedJSON(http.StatusOK, next)
}

func (d *Daemon) postponeSchedule(c *gin.Context) {
	if d.scheduler == nil {
		c.IndentedJSON(http.StatusNotFound, "no capture schedule configured")
		_ = c.AbortWithError(http.StatusNotFound, errors.New("no capture schedule configured"))
		return
	}
	var s string
	if err := c.BindJSON(&s); err != nil {
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}
	dur, err := time.ParseDuration(s)
	if err == nil {
		err = d.scheduler.Postpone(dur)
	}
	if err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}
	logrus.WithField("duration", dur.String()).Info("postponed next scheduled capture")
	c.IndentedJSON(http.StatusOK, "ok")
}

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// stream sends every emission to a websocket client as JSON messages, one
// per channel. Frames are only included with ?images=true.
func (d *Daemon) stream(c *gin.Context) {
	withImages := c.Query("images") == "true"

	// Subscribe first so nothing published after the handshake is missed.
	sub := d.hub.Subscribe()
	defer d.hub.Unsubscribe(sub)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	logrus.WithFields(logrus.Fields{
		"images":  withImages,
		"clients": d.hub.Subscribers(),
	}).Debug("stream client connected")

	// Reads only serve control frames; the client never sends data.
	conn.SetReadLimit(1 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingEvery)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			logrus.Debug("stream client disconnected")
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case e, ok := <-sub:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "daemon shutting down"),
					time.Now().Add(writeWait))
				return
			}
			if err := writeEmission(conn, e, withImages); err != nil {
				logrus.WithError(err).Debug("stream write failed")
				return
			}
		}
	}
}

func writeEmission(conn *websocket.Conn, e types.Emission, withImages bool) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if withImages {
		if err := conn.WriteJSON(bus.Message{Topic: bus.TopicImage, Image: &e.Image}); err != nil {
			return err
		}
	}
	return conn.WriteJSON(bus.Message{Topic: bus.TopicCameraInfo, Info: &e.Info})
}
