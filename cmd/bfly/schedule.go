package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bflycam/bfly/pkg/client"
)

func NewScheduleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "schedule",
		Aliases: []string{"sch", "sched"},
		Short:   "Inspect the capture schedule",
		Long: `Inspect the capture schedule.

The schedule itself is set with captureSchedule in the daemon config. The
schedule command can be used in multiple ways:
  bfly schedule                       Show the current schedule
  bfly schedule postpone [duration]   Postpone next run
  bfly schedule skip                  Skip next run`,
		GroupID: gAdvanced,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScheduleShow(cmd)
		},
	}

	cmd.AddCommand(
		newSchedulePostponeCommand(),
		newScheduleSkipCommand(),
		newScheduleShowCommand(),
	)

	return cmd
}

func newSchedulePostponeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "postpone [duration]",
		Short: "Postpone the next scheduled capture",
		Example: `  bfly schedule postpone      (Postpone by 1 hour)
  bfly schedule postpone 90m  (Postpone by 90 minutes)`,
		Long: `Postpone the next scheduled capture by a specified duration.
If no duration is provided, defaults to 1 hour.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := time.Hour
			if len(args) > 0 {
				parsed, err := time.ParseDuration(args[0])
				if err != nil {
					return fmt.Errorf("invalid duration %q: %w", args[0], err)
				}
				d = parsed
			}
			return runSchedulePostpone(cmd, d)
		},
	}
}

func newScheduleSkipCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "skip",
		Short: "Skip the next scheduled capture",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScheduleSkip(cmd)
		},
	}
}

func newScheduleShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the capture schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScheduleShow(cmd)
		},
	}
}

func scheduleError(err error) error {
	if errors.Is(err, client.ErrNotFound) {
		return fmt.Errorf("no capture schedule is configured")
	}
	return err
}

func runSchedulePostpone(cmd *cobra.Command, duration time.Duration) error {
	if _, err := apiClient.PostponeSchedule(duration); err != nil {
		return scheduleError(err)
	}
	cmd.Printf("Next capture postponed by %s.\n", duration)
	return nil
}

func runScheduleSkip(cmd *cobra.Command) error {
	if _, err := apiClient.SkipSchedule(); err != nil {
		return scheduleError(err)
	}
	cmd.Println("Next scheduled capture skipped.")
	return nil
}

func runScheduleShow(cmd *cobra.Command) error {
	st, err := apiClient.GetSchedule()
	if err != nil {
		if errors.Is(err, client.ErrNotFound) {
			cmd.Println("Capture schedule is not set.")
			return nil
		}
		return err
	}
	cmd.Printf("Schedule: %s, %s frame(s) per run\n", bold("%s", st.Cron), bold("%d", st.Count))
	if st.Running {
		cmd.Println("A scheduled capture is running now.")
	}
	if len(st.NextRuns) == 0 {
		return nil
	}
	cmd.Printf("Next %d run(s):\n", len(st.NextRuns))
	for _, run := range st.NextRuns {
		cmd.Printf("  - %s\n", run.Local().Format(time.DateTime))
	}
	return nil
}
