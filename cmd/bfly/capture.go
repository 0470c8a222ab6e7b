package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewCaptureCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "capture [count]",
		Short: "Capture and publish frames now",
		Long: `Capture and publish count frames now, each paired with its camera_info.

With count 0 nothing is captured and the size of the last frame is printed.`,
		Example: `  bfly capture     (capture one frame)
  bfly capture 10  (capture ten frames)
  bfly capture 0   (print last frame size)`,
		GroupID: gBasic,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			count := 1
			if len(args) == 1 {
				n, err := parseIntArg(args, "count")
				if err != nil {
					return err
				}
				if n < 0 {
					return fmt.Errorf("invalid count: %d must not be negative", n)
				}
				count = n
			}

			dims, err := apiClient.CaptureNow(count)
			if err != nil {
				return err
			}

			cmd.Printf("Captured %s frame(s), last size %s\n", bold("%d", count), bold("%dx%d", dims.Width, dims.Height))
			return nil
		},
	}
}
