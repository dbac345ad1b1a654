package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/accel.relay/internal/channel"
	"github.com/banshee-data/accel.relay/internal/client"
	"github.com/banshee-data/accel.relay/internal/sensor"
)

const defaultDialTimeout = 5 * time.Second

func dialFlags(cmd *cobra.Command, mode channel.Mode) (*client.Receiver, error) {
	addr, _ := cmd.Flags().GetString("addr")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	return client.Dial(ctx, addr, mode)
}

func runTail(cmd *cobra.Command, _ []string) error {
	withPose, _ := cmd.Flags().GetBool("pose")
	count, _ := cmd.Flags().GetInt("count")
	mode := channel.ModeStream
	if withPose {
		mode = channel.ModeStreamWithPose
	}

	rx, err := dialFlags(cmd, mode)
	if err != nil {
		return err
	}
	defer rx.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	unblock := context.AfterFunc(ctx, func() { rx.Close() })
	defer unblock()

	out := cmd.OutOrStdout()
	for n := 0; count == 0 || n < count; n++ {
		f, err := rx.Next()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := printFrame(out, f); err != nil {
			return err
		}
	}
	return nil
}

func printFrame(w io.Writer, f *client.Frame) error {
	samples, err := f.Samples()
	if err != nil {
		return err
	}
	line := fmt.Sprintf("ticks=%d samples=%d", f.HostTicks, len(samples))
	if len(samples) > 0 {
		s := samples[0]
		line += fmt.Sprintf(" accel=(%.3f, %.3f, %.3f) temp=%.1f", s.Values[0], s.Values[1], s.Values[2], s.Temperature)
	}
	if f.Pose != nil {
		x, y, z := f.Pose.Translation()
		line += fmt.Sprintf(" position=(%.3f, %.3f, %.3f)", x, y, z)
	}
	_, err = fmt.Fprintln(w, line)
	return err
}

func runCalibration(cmd *cobra.Command, _ []string) error {
	rx, err := dialFlags(cmd, channel.ModeCalibration)
	if err != nil {
		return err
	}
	defer rx.Close()

	ext, err := rx.Extrinsics()
	if err != nil {
		return err
	}
	return printPose(cmd.OutOrStdout(), ext)
}

func printPose(w io.Writer, p sensor.Pose) error {
	for row := 0; row < 4; row++ {
		r := p[row*4 : row*4+4]
		if _, err := fmt.Fprintf(w, "%9.5f %9.5f %9.5f %9.5f\n", r[0], r[1], r[2], r[3]); err != nil {
			return err
		}
	}
	return nil
}
