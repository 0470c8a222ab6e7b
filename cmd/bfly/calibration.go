package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bflycam/bfly/pkg/calibration"
)

func NewCalibrationCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "calibration",
		Aliases: []string{"calib", "cal"},
		Short:   "Get or replace the camera calibration",
		Long: `Get or replace the intrinsic calibration the daemon stamps on every frame.

Calibration files use the same YAML layout the daemon keeps in its
cameraInfoFile, with MatrixD (5x1), MatrixK (3x3) and MatrixP (3x4).`,
		GroupID: gBasic,
	}

	cmd.AddCommand(
		newCalibrationGetCommand(),
		newCalibrationSetCommand(),
		newCalibrationExportCommand(),
	)

	return cmd
}

func newCalibrationGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Print the current calibration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := apiClient.GetCalibration()
			if err != nil {
				return err
			}

			cmd.Println(bold("Calibration:"))
			cmd.Printf("  D: %s\n", formatVector(req.D))
			cmd.Printf("  K: %s\n", formatVector(req.K))
			cmd.Printf("  P: %s\n", formatVector(req.P))
			return nil
		},
	}
}

func newCalibrationSetCommand() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:     "set",
		Short:   "Replace the calibration from a file",
		Example: `  bfly calibration set -f camera_info.yaml`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file == "" {
				return fmt.Errorf("a calibration file is required")
			}

			m, err := calibration.ReadFile(file, calibration.NewMatrices())
			if err != nil {
				// Entries missing from the file are sent as zeros.
				if !errors.Is(err, calibration.ErrFieldNotFound) {
					return err
				}
				logrus.WithError(err).Warn("calibration file is incomplete")
			}

			resp, err := apiClient.SetCalibration(m.Request())
			if err != nil {
				return err
			}
			if !resp.Success {
				return fmt.Errorf("daemon failed to save calibration (status %d): %s", resp.Status, resp.Message)
			}

			logrus.Infof("successfully replaced calibration from %s", file)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "calibration file to send")

	return cmd
}

func newCalibrationExportCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:     "export",
		Short:   "Write the current calibration to a file",
		Example: `  bfly calibration export -o camera_info.yaml`,
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if output == "" {
				return fmt.Errorf("an output file is required")
			}

			req, err := apiClient.GetCalibration()
			if err != nil {
				return err
			}
			m, err := req.Matrices(calibration.ProjectionFromP)
			if err != nil {
				return fmt.Errorf("daemon returned an invalid calibration: %w", err)
			}
			if err := calibration.WriteFile(output, m, time.Now()); err != nil {
				return err
			}

			logrus.Infof("calibration written to %s", output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "file to write")

	return cmd
}
