package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/bflycam/bfly/pkg/calibration"
	"github.com/bflycam/bfly/pkg/config"
	"github.com/bflycam/bfly/pkg/daemon"
)

type statusData struct {
	health      *daemon.Health
	config      *config.RawFileConfig
	calibration *calibration.SetRequest
}

// fetchStatusData gathers all data required for the status command from the daemon.
func fetchStatusData() (*statusData, error) {
	health, err := apiClient.GetHealth()
	if err != nil {
		return nil, fmt.Errorf("failed to get health: %w", err)
	}

	conf, err := apiClient.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to get config: %w", err)
	}

	calib, err := apiClient.GetCalibration()
	if err != nil {
		return nil, fmt.Errorf("failed to get calibration: %w", err)
	}

	return &statusData{
		health:      health,
		config:      conf,
		calibration: calib,
	}, nil
}

func stateText(s daemon.State) string {
	switch s {
	case daemon.StateReady:
		return color.New(color.Bold, color.FgGreen).Sprint(s)
	case daemon.StateFailed:
		return color.New(color.Bold, color.FgRed).Sprint(s)
	default:
		return color.New(color.Bold, color.FgYellow).Sprint(s)
	}
}

func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		GroupID: gBasic,
		Short:   "Get the current status of bfly",
		Long:    `Get camera state, calibration, and configuration.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := fetchStatusData()
			if err != nil {
				return err
			}

			conf := config.NewFileFromConfig(data.config, "")
			h := data.health

			cmd.Println(bold("Camera status:"))
			cmd.Printf("  State: %s (since %s)\n", stateText(h.State), h.Since.Local().Format(time.DateTime))
			if h.Error != "" {
				cmd.Printf("  Last error: %s\n", color.RedString(h.Error))
			}
			if h.Session != "" {
				cmd.Printf("  Session: %s\n", h.Session)
			}
			cmd.Printf("  Sequence: %s\n", bold("%d", h.Seq))
			if h.Last.Width > 0 {
				cmd.Printf("  Last frame: %s\n", bold("%dx%d", h.Last.Width, h.Last.Height))
			}
			cmd.Printf("  Publish rate: %s\n", bold("%.1f Hz", h.Rate))
			if !h.LastPublish.IsZero() {
				cmd.Printf("  Last publish: %s\n", h.LastPublish.Local().Format(time.DateTime))
			}
			if h.Failures > 0 {
				cmd.Printf("  Consecutive failures: %s\n", color.New(color.Bold, color.FgRed).Sprintf("%d/%d", h.Failures, conf.MaxCaptureFailures()))
			}

			cmd.Println()

			cmd.Println(bold("Calibration:"))
			cmd.Printf("  D: %s\n", formatVector(data.calibration.D))
			cmd.Printf("  K: %s\n", formatVector(data.calibration.K))
			cmd.Printf("  P: %s\n", formatVector(data.calibration.P))
			cmd.Printf("  File: %s\n", conf.CameraInfoFile())

			cmd.Println()

			cmd.Println(bold("Configuration:"))
			mode := "publisher"
			if conf.RunMode() == config.RunModeServer {
				mode = "server only"
			}
			cmd.Printf("  Run mode: %s\n", bold("%s", mode))
			cmd.Printf("  Rate: %s\n", bold("%g Hz", conf.Rate()))
			cmd.Printf("  Frame: %s\n", bold("%s", conf.FrameName()))
			cmd.Printf("  Device: %s (%s)\n", bold("%s", conf.Device()), conf.DevicePath())
			cmd.Printf("  Video mode: %s, pixel format: %s\n", bold("%s", conf.VideoMode()), bold("%s", conf.PixelFormat()))
			cmd.Printf("  Projection source: %s\n", bold("%s", conf.ProjectionSource()))
			if ep := conf.BusEndpoint(); ep != "" {
				cmd.Printf("  Bus endpoint: %s\n", bold("%s", ep))
			} else {
				cmd.Printf("  Bus endpoint: %s\n", bool2Text(false))
			}
			if s := conf.CaptureSchedule(); s != "" {
				cmd.Printf("  Capture schedule: %s (%d frame(s))\n", bold("%s", s), conf.CaptureScheduleCount())
			}
			cmd.Printf("  Allow non-root users to access the daemon: %s\n", bool2Text(conf.AllowNonRootAccess()))
			return nil
		},
	}
}
