// Package channel implements the per-connection accelerometer channel: the
// consent gate, the one-byte mode selector, and the streaming and
// calibration behaviors it selects.
package channel

import (
	"context"
	"fmt"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/banshee-data/accel.relay/internal/monitoring"
	"github.com/banshee-data/accel.relay/internal/pose"
	"github.com/banshee-data/accel.relay/internal/sensor"
)

// State is a channel's position in its lifecycle.
type State int32

const (
	StateCreated State = iota
	StateAwaitingConsent
	StateReady
	StateRejected
	StateRunning
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateAwaitingConsent:
		return "awaiting-consent"
	case StateReady:
		return "ready"
	case StateRejected:
		return "rejected"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Stats is a point-in-time view of a channel.
type Stats struct {
	ID     string `json:"id"`
	State  string `json:"state"`
	Mode   string `json:"mode,omitempty"`
	Frames uint64 `json:"frames"`
	Bytes  uint64 `json:"bytes"`
}

// Channel serves one client connection. It is single use: Serve runs once.
type Channel struct {
	id     string
	sensor sensor.Sensor
	poses  pose.Source
	log    *log.Entry

	state   atomic.Int32
	mode    atomic.Int32 // -1 until the selector arrives
	frames  atomic.Uint64
	written atomic.Uint64
}

func newChannel(id string, s sensor.Sensor, poses pose.Source) *Channel {
	c := &Channel{
		id:     id,
		sensor: s,
		poses:  poses,
		log:    monitoring.Logger("channel").WithField("session", id),
	}
	c.mode.Store(-1)
	return c
}

// ID returns the session identifier the channel was opened with.
func (c *Channel) ID() string { return c.id }

// State returns the current lifecycle state.
func (c *Channel) State() State { return State(c.state.Load()) }

func (c *Channel) setState(s State) {
	c.state.Store(int32(s))
}

// Mode returns the selected mode, if one has been received.
func (c *Channel) Mode() (Mode, bool) {
	m := c.mode.Load()
	if m < 0 {
		return 0, false
	}
	return Mode(m), true
}

// Stats returns the channel counters.
func (c *Channel) Stats() Stats {
	st := Stats{
		ID:     c.id,
		State:  c.State().String(),
		Frames: c.frames.Load(),
		Bytes:  c.written.Load(),
	}
	if m, ok := c.Mode(); ok {
		st.Mode = m.String()
	}
	return st
}

// Serve runs the session: wait for consent, read the selector, then run
// the selected behavior until it completes or ctx is cancelled. Consent
// denial, a failed selector read and cancellation are normal endings and
// return nil. A failed send is returned.
func (c *Channel) Serve(ctx context.Context, tr Transport) error {
	defer c.setState(StateTerminated)

	c.setState(StateAwaitingConsent)
	if !c.sensor.WaitForConsent(ctx) {
		c.setState(StateRejected)
		c.log.Info("consent denied")
		return nil
	}
	c.setState(StateReady)

	b, err := tr.ReceiveByte(ctx)
	if err != nil {
		c.log.WithError(err).Debug("no selector received")
		return nil
	}
	m := ParseMode(b)
	c.mode.Store(int32(m))
	c.setState(StateRunning)
	c.log.WithField("mode", m).Debug("selector received")

	return c.dispatch(ctx, tr, m)
}

func (c *Channel) dispatch(ctx context.Context, tr Transport, m Mode) error {
	switch m {
	case ModeStream:
		return c.stream(ctx, tr, false)
	case ModeStreamWithPose:
		return c.stream(ctx, tr, true)
	case ModeCalibration:
		return c.calibrate(ctx, tr)
	}
	return nil
}

func (c *Channel) sent(n int) {
	c.frames.Add(1)
	c.written.Add(uint64(n))
}
