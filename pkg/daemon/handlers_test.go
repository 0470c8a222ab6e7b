package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bflycam/bfly/pkg/bus"
	"github.com/bflycam/bfly/pkg/calibration"
	"github.com/bflycam/bfly/pkg/camera"
	"github.com/bflycam/bfly/pkg/config"
	"github.com/bflycam/bfly/pkg/types"
	"github.com/bflycam/bfly/pkg/utils/ptr"
	"github.com/bflycam/bfly/pkg/version"
)

type testDaemon struct {
	*fixture
	d      *Daemon
	hub    *bus.Hub
	router *gin.Engine
}

func newTestDaemon(t *testing.T, raw *config.RawFileConfig) *testDaemon {
	t.Helper()
	if raw == nil {
		raw = &config.RawFileConfig{}
	}
	conf := config.NewFileFromConfig(raw, "")

	hub := bus.NewHub()
	f := newFixture(t, Options{
		VideoMode:        conf.VideoMode(),
		PixelFormat:      conf.PixelFormat(),
		ProjectionSource: conf.ProjectionSource(),
	})
	f.ctrl.pub = bus.Multi{hub, f.pub}

	d := New(conf, f.ctrl, hub)
	return &testDaemon{fixture: f, d: d, hub: hub, router: d.setupRoutes()}
}

func (td *testDaemon) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	td.router.ServeHTTP(w, req)
	return w
}

func TestCaptureHandler(t *testing.T) {
	td := newTestDaemon(t, nil)

	w := td.do(http.MethodPost, "/capture", CaptureRequest{NumImages: 1})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	td.ready(t)

	w = td.do(http.MethodPost, "/capture", CaptureRequest{NumImages: 2})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var dims types.Dimensions
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &dims))
	assert.Equal(t, types.Dimensions{Width: 640, Height: 480}, dims)
	assert.Len(t, td.pub.emissions(), 2)

	// num_images 0 only reports the last size.
	w = td.do(http.MethodPost, "/capture", CaptureRequest{})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"width":640,"height":480}`, w.Body.String())
	assert.Len(t, td.pub.emissions(), 2)

	w = td.do(http.MethodPost, "/capture", CaptureRequest{NumImages: -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = td.do(http.MethodPost, "/capture", "not an object")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCalibrationHandlers(t *testing.T) {
	td := newTestDaemon(t, &config.RawFileConfig{ProjectionSource: ptr.To("P")})

	w := td.do(http.MethodGet, "/calibration", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got calibration.SetRequest
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, make([]float64, 9), got.K)

	req := sampleMatrices(t).Request()
	req.R = nil
	w = td.do(http.MethodPut, "/calibration", req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp calibration.SetResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, calibration.SetResponse{Success: true, Status: 1}, resp)

	w = td.do(http.MethodGet, "/calibration", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, req.K, got.K)
	assert.Equal(t, req.P, got.P)
}

func TestSetCalibrationValidation(t *testing.T) {
	valid := sampleMatrices(t).Request()
	tests := []struct {
		name   string
		src    string
		mutate func(r *calibration.SetRequest)
	}{
		{"short D", "R", func(r *calibration.SetRequest) { r.D = r.D[:4] }},
		{"long K", "R", func(r *calibration.SetRequest) { r.K = append(r.K, 1) }},
		{"missing R", "R", func(r *calibration.SetRequest) { r.R = nil }},
		{"missing P", "P", func(r *calibration.SetRequest) { r.P = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			td := newTestDaemon(t, &config.RawFileConfig{ProjectionSource: ptr.To(tt.src)})
			req := valid
			req.D = append([]float64(nil), valid.D...)
			req.K = append([]float64(nil), valid.K...)
			tt.mutate(&req)

			w := td.do(http.MethodPut, "/calibration", req)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.True(t, td.ctrl.Calibration().Equal(calibration.NewMatrices()))
		})
	}
}

func TestSetCalibrationSaveFailure(t *testing.T) {
	td := newTestDaemon(t, nil)
	td.ctrl.store = calibration.NewStore(filepath.Join(t.TempDir(), "missing", "ci.yaml"))

	w := td.do(http.MethodPut, "/calibration", sampleMatrices(t).Request())
	require.Equal(t, http.StatusOK, w.Code)
	var resp calibration.SetResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, -1, resp.Status)
}

func TestHealthHandler(t *testing.T) {
	td := newTestDaemon(t, nil)

	w := td.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var h Health
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &h))
	assert.Equal(t, StateStarting, h.State)

	td.ready(t)
	w = td.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &h))
	assert.Equal(t, StateReady, h.State)
	assert.NotEmpty(t, h.Session)
}

func TestConfigAndVersionHandlers(t *testing.T) {
	td := newTestDaemon(t, &config.RawFileConfig{FrameName: ptr.To("left_cam")})

	w := td.do(http.MethodGet, "/config", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var raw config.RawFileConfig
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	assert.Equal(t, "left_cam", *raw.FrameName)
	assert.Equal(t, 30.0, *raw.Rate)

	w = td.do(http.MethodGet, "/version", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var v string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	assert.Equal(t, version.Version, v)
}

func TestScheduleHandlers(t *testing.T) {
	td := newTestDaemon(t, nil)

	w := td.do(http.MethodGet, "/schedule", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var st ScheduleStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.False(t, st.Running)
	assert.Empty(t, st.NextRuns)

	assert.Equal(t, http.StatusNotFound, td.do(http.MethodPost, "/schedule/skip", nil).Code)
	assert.Equal(t, http.StatusNotFound, td.do(http.MethodPost, "/schedule/postpone", "1m").Code)

	td = newTestDaemon(t, &config.RawFileConfig{CaptureSchedule: ptr.To("@every 1h"), CaptureScheduleCount: ptr.To(2)})
	require.NoError(t, td.d.startScheduler("@every 1h", 2))
	defer td.d.scheduler.Stop()

	w = td.do(http.MethodGet, "/schedule", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.True(t, st.Running)
	assert.Equal(t, "@every 1h", st.Cron)
	assert.Equal(t, 2, st.Count)
	assert.Len(t, st.NextRuns, 3)

	assert.Equal(t, http.StatusOK, td.do(http.MethodPost, "/schedule/postpone", "10m").Code)
	assert.Equal(t, http.StatusBadRequest, td.do(http.MethodPost, "/schedule/postpone", "soon").Code)
	assert.Equal(t, http.StatusBadRequest, td.do(http.MethodPost, "/schedule/postpone", "2h").Code)
	assert.Equal(t, http.StatusOK, td.do(http.MethodPost, "/schedule/skip", nil).Code)
}

func TestStreamHandler(t *testing.T) {
	td := newTestDaemon(t, nil)
	td.ready(t)

	srv := httptest.NewServer(td.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream?images=true"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, 1, td.hub.Subscribers())
	e, err := td.ctrl.Publish(context.Background())
	require.NoError(t, err)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var img, info bus.Message
	require.NoError(t, conn.ReadJSON(&img))
	require.NoError(t, conn.ReadJSON(&info))

	assert.Equal(t, bus.TopicImage, img.Topic)
	require.NotNil(t, img.Image)
	assert.Equal(t, e.Image.Data, img.Image.Data)

	assert.Equal(t, bus.TopicCameraInfo, info.Topic)
	require.NotNil(t, info.Info)
	assert.Equal(t, img.Image.Header.Seq, info.Info.Header.Seq)
	assert.True(t, img.Image.Header.Stamp.Equal(info.Info.Header.Stamp))

	// Closing the hub ends the stream.
	require.NoError(t, td.hub.Close())
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}
