package client

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/bflycam/bfly/pkg/calibration"
	"github.com/bflycam/bfly/pkg/config"
	"github.com/bflycam/bfly/pkg/daemon"
	"github.com/bflycam/bfly/pkg/types"
)

func (c *Client) CaptureNow(n int) (types.Dimensions, error) {
	payload, err := json.Marshal(daemon.CaptureRequest{NumImages: n})
	if err != nil {
		return types.Dimensions{}, err
	}
	ret, err := c.Post("/capture", string(payload))
	if err != nil {
		return types.Dimensions{}, pkgerrors.Wrapf(err, "failed to capture %d images", n)
	}

	var dims types.Dimensions
	if err := json.Unmarshal([]byte(ret), &dims); err != nil {
		return types.Dimensions{}, pkgerrors.Wrapf(err, "failed to unmarshal capture response")
	}
	return dims, nil
}

// SetCalibration replaces the daemon's calibration. A save failure on the
// daemon side is reported in the response, not as an error.
func (c *Client) SetCalibration(req calibration.SetRequest) (*calibration.SetResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	ret, err := c.Put("/calibration", string(payload))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to set calibration")
	}

	var resp calibration.SetResponse
	if err := json.Unmarshal([]byte(ret), &resp); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal calibration response")
	}
	return &resp, nil
}

func (c *Client) GetCalibration() (*calibration.SetRequest, error) {
	ret, err := c.Get("/calibration")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get calibration")
	}

	var req calibration.SetRequest
	if err := json.Unmarshal([]byte(ret), &req); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal calibration")
	}
	return &req, nil
}

// GetHealth returns the controller health. A camera that is not ready is
// not an error.
func (c *Client) GetHealth() (*daemon.Health, error) {
	status, ret, err := c.do(http.MethodGet, "/health", "")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get health")
	}
	if status != http.StatusOK && status != http.StatusServiceUnavailable {
		return nil, fmt.Errorf("failed to get health: got %d: %s", status, ret)
	}

	var h daemon.Health
	if err := json.Unmarshal([]byte(ret), &h); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal health")
	}
	return &h, nil
}

func (c *Client) GetConfig() (*config.RawFileConfig, error) {
	ret, err := c.Get("/config")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get config")
	}

	var conf config.RawFileConfig
	if err := json.Unmarshal([]byte(ret), &conf); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal config")
	}

	return &conf, nil
}

func (c *Client) GetVersion() (string, error) {
	ret, err := c.Get("/version")
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to get version")
	}
	v, err := strconv.Unquote(ret)
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to parse version")
	}
	return v, nil
}

func (c *Client) GetSchedule() (*daemon.ScheduleStatus, error) {
	ret, err := c.Get("/schedule")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get schedule")
	}

	var st daemon.ScheduleStatus
	if err := json.Unmarshal([]byte(ret), &st); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal schedule")
	}
	return &st, nil
}

func (c *Client) SkipSchedule() (string, error) {
	return c.Post("/schedule/skip", "")
}

func (c *Client) PostponeSchedule(d time.Duration) (string, error) {
	return c.Post("/schedule/postpone", strconv.Quote(d.String()))
}
