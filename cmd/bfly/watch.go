package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bflycam/bfly/pkg/bus"
	"github.com/bflycam/bfly/pkg/types"
)

func NewWatchCommand() *cobra.Command {
	var (
		endpoint string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print camera_info messages as they are published",
		Long: `Print a summary line for every camera_info message the daemon publishes.

By default the daemon's websocket stream is used. With --bus, messages are
read from the daemon's ZeroMQ endpoint instead.`,
		Example: `  bfly watch
  bfly watch -n 10
  bfly watch --bus tcp://127.0.0.1:5555`,
		GroupID: gAdvanced,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			show := func(info types.CameraInfo) {
				cmd.Println(formatInfo(info))
			}
			if endpoint != "" {
				return watchBus(ctx, endpoint, limit, show)
			}
			return watchStream(ctx, limit, show)
		},
	}

	f := cmd.Flags()
	f.StringVar(&endpoint, "bus", "", "read from this ZeroMQ endpoint instead of the daemon socket")
	f.IntVarP(&limit, "count", "n", 0, "exit after this many messages (0 means no limit)")

	return cmd
}

func formatInfo(info types.CameraInfo) string {
	return fmt.Sprintf("seq=%d stamp=%s frame=%s %dx%d fx=%g fy=%g cx=%g cy=%g",
		info.Header.Seq,
		info.Header.Stamp.Local().Format(time.StampMilli),
		info.Header.FrameID,
		info.Width, info.Height,
		info.K[0], info.K[4], info.K[2], info.K[5],
	)
}

func watchStream(ctx context.Context, limit int, show func(types.CameraInfo)) error {
	conn, err := apiClient.Dial(ctx, "/stream")
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	for n := 0; limit == 0 || n < limit; {
		var msg bus.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to read stream: %w", err)
		}
		if msg.Info == nil {
			continue
		}
		show(*msg.Info)
		n++
	}
	return nil
}

func watchBus(ctx context.Context, endpoint string, limit int, show func(types.CameraInfo)) error {
	sub, err := bus.NewZMQSubscriber(endpoint, time.Second, bus.TopicCameraInfo)
	if err != nil {
		return err
	}
	defer sub.Close()

	for n := 0; limit == 0 || n < limit; {
		if ctx.Err() != nil {
			return nil
		}
		msg, err := sub.Recv()
		if err != nil {
			// Receive timeouts let the loop notice cancellation.
			logrus.WithError(err).Trace("no message from bus")
			continue
		}
		if msg.Info == nil {
			continue
		}
		show(*msg.Info)
		n++
	}
	return nil
}
