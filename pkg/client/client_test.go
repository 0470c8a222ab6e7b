package client

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bflycam/bfly/pkg/calibration"
	"github.com/bflycam/bfly/pkg/daemon"
	"github.com/bflycam/bfly/pkg/types"
)

// serve runs handler on a fresh unix socket and returns its path.
func serve(t *testing.T, handler http.Handler) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "bfly")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	path := filepath.Join(dir, "d.sock")
	l, err := net.Listen("unix", path)
	require.NoError(t, err)

	srv := &http.Server{Handler: handler}
	go func() { _ = srv.Serve(l) }()
	t.Cleanup(func() { _ = srv.Close() })
	return path
}

func TestDaemonNotRunning(t *testing.T) {
	c := NewClient(filepath.Join(t.TempDir(), "nope.sock"))
	_, err := c.GetVersion()
	assert.ErrorIs(t, err, ErrDaemonNotRunning)
}

func TestSendErrors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/boom", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "exploded", http.StatusInternalServerError)
	})
	c := NewClient(serve(t, mux))

	_, err := c.Get("/boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "got 500")

	_, err = c.Get("/missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.Send(http.MethodDelete, "/boom", "")
	assert.Error(t, err)
}

func TestAPIs(t *testing.T) {
	captures := make(chan daemon.CaptureRequest, 1)
	calibrations := make(chan calibration.SetRequest, 1)
	var ready atomic.Bool

	mux := http.NewServeMux()
	mux.HandleFunc("POST /capture", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var req daemon.CaptureRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		captures <- req
		_ = json.NewEncoder(w).Encode(types.Dimensions{Width: 640, Height: 480})
	})
	mux.HandleFunc("PUT /calibration", func(w http.ResponseWriter, r *http.Request) {
		var req calibration.SetRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		calibrations <- req
		_ = json.NewEncoder(w).Encode(calibration.SetResponse{Success: false, Status: -1, Message: "read-only"})
	})
	mux.HandleFunc("GET /calibration", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(calibration.NewMatrices().Request())
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		h := daemon.Health{State: daemon.StateFailed, Error: "camera open failed"}
		status := http.StatusServiceUnavailable
		if ready.Load() {
			h = daemon.Health{State: daemon.StateReady}
			status = http.StatusOK
		}
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(h)
	})
	mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `"v1.2.3"`)
	})
	mux.HandleFunc("POST /schedule/postpone", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		_, _ = w.Write(b)
	})
	c := NewClient(serve(t, mux))

	dims, err := c.CaptureNow(3)
	require.NoError(t, err)
	assert.Equal(t, 3, (<-captures).NumImages)
	assert.Equal(t, types.Dimensions{Width: 640, Height: 480}, dims)

	req := calibration.SetRequest{D: make([]float64, 5), K: make([]float64, 9), R: make([]float64, 12)}
	resp, err := c.SetCalibration(req)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, -1, resp.Status)
	assert.Equal(t, req.R, (<-calibrations).R)

	cal, err := c.GetCalibration()
	require.NoError(t, err)
	assert.Len(t, cal.P, 12)

	h, err := c.GetHealth()
	require.NoError(t, err)
	assert.Equal(t, daemon.StateFailed, h.State)
	ready.Store(true)
	h, err = c.GetHealth()
	require.NoError(t, err)
	assert.Equal(t, daemon.StateReady, h.State)

	v, err := c.GetVersion()
	require.NoError(t, err)
	assert.Equal(t, "v1.2.3", v)

	echoed, err := c.PostponeSchedule(10 * time.Minute)
	require.NoError(t, err)
	assert.Equal(t, `"10m0s"`, echoed)
}

func TestDial(t *testing.T) {
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/stream", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(map[string]string{"topic": "camera_info"})
	})
	c := NewClient(serve(t, mux))

	conn, err := c.Dial(context.Background(), "/stream")
	require.NoError(t, err)
	defer conn.Close()

	var msg map[string]string
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "camera_info", msg["topic"])
}
