// Package client connects to an accel-relay server and decodes its frames.
package client

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"net"

	"github.com/banshee-data/accel.relay/internal/channel"
	"github.com/banshee-data/accel.relay/internal/sensor"
)

// MaxPayload bounds the sample region a receiver will allocate for.
const MaxPayload = 16 << 20

// Frame is one decoded stream frame.
type Frame struct {
	HostTicks uint64
	Payload   []byte
	// Pose is set only on sessions opened with ModeStreamWithPose.
	Pose *sensor.Pose
}

// Samples decodes the frame payload.
func (f *Frame) Samples() ([]sensor.AccelSample, error) {
	return DecodeSamples(f.Payload)
}

// Receiver reads frames for one session.
type Receiver struct {
	conn net.Conn
	r    *bufio.Reader
	mode channel.Mode
}

// Dial connects to addr and selects mode.
func Dial(ctx context.Context, addr string, mode channel.Mode) (*Receiver, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	r, err := NewReceiver(conn, mode)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return r, nil
}

// NewReceiver sends the selector for mode on an established connection.
func NewReceiver(conn net.Conn, mode channel.Mode) (*Receiver, error) {
	if _, err := conn.Write([]byte{mode.Selector()}); err != nil {
		return nil, fmt.Errorf("send selector: %w", err)
	}
	return &Receiver{conn: conn, r: bufio.NewReader(conn), mode: mode}, nil
}

// Mode returns the mode the session was opened with.
func (r *Receiver) Mode() channel.Mode { return r.mode }

// Next reads one stream frame.
func (r *Receiver) Next() (*Frame, error) {
	var header [12]byte
	if _, err := io.ReadFull(r.r, header[:]); err != nil {
		return nil, err
	}
	f := &Frame{HostTicks: binary.NativeEndian.Uint64(header[0:])}
	n := binary.NativeEndian.Uint32(header[8:])
	if n > MaxPayload {
		return nil, fmt.Errorf("payload of %d bytes exceeds limit", n)
	}
	f.Payload = make([]byte, n)
	if _, err := io.ReadFull(r.r, f.Payload); err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	if r.mode == channel.ModeStreamWithPose {
		var p sensor.Pose
		if _, err := io.ReadFull(r.r, p.Bytes()); err != nil {
			return nil, fmt.Errorf("read pose: %w", err)
		}
		f.Pose = &p
	}
	return f, nil
}

// Extrinsics reads the calibration reply.
func (r *Receiver) Extrinsics() (sensor.Pose, error) {
	var p sensor.Pose
	if _, err := io.ReadFull(r.r, p.Bytes()); err != nil {
		return p, fmt.Errorf("read extrinsics: %w", err)
	}
	return p, nil
}

// Close ends the session.
func (r *Receiver) Close() error { return r.conn.Close() }

// DecodeSamples unpacks a sample payload.
func DecodeSamples(payload []byte) ([]sensor.AccelSample, error) {
	if len(payload)%sensor.AccelSampleSize != 0 {
		return nil, fmt.Errorf("payload length %d is not a multiple of %d", len(payload), sensor.AccelSampleSize)
	}
	out := make([]sensor.AccelSample, len(payload)/sensor.AccelSampleSize)
	for i := range out {
		b := payload[i*sensor.AccelSampleSize:]
		out[i] = sensor.AccelSample{
			SensorTicks: binary.NativeEndian.Uint64(b[0:]),
			SocTicks:    binary.NativeEndian.Uint64(b[8:]),
			Values: [3]float32{
				math.Float32frombits(binary.NativeEndian.Uint32(b[16:])),
				math.Float32frombits(binary.NativeEndian.Uint32(b[20:])),
				math.Float32frombits(binary.NativeEndian.Uint32(b[24:])),
			},
			Temperature: math.Float32frombits(binary.NativeEndian.Uint32(b[28:])),
		}
	}
	return out, nil
}
