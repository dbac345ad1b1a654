package channel

import (
	"context"
	"errors"
	"fmt"
	"math"

	log "github.com/sirupsen/logrus"

	"github.com/banshee-data/accel.relay/internal/sensor"
	"github.com/banshee-data/accel.relay/internal/wire"
)

// Stream frame slots.
const (
	fieldHostTicks = iota
	fieldPayloadLen
	fieldPayload
	fieldPose
	streamFields
)

// stream forwards every delivered batch as one frame until ctx ends or a
// send fails. A send that fails because the client hung up ends the stream
// normally.
func (c *Channel) stream(ctx context.Context, tr Transport, withPose bool) error {
	p := wire.NewPacker(streamFields)
	err := c.sensor.ExecuteSensorLoop(ctx, func(b *sensor.SampleBatch) error {
		if ctx.Err() != nil {
			return nil
		}
		defer p.Reset()
		if err := c.packBatch(p, b, withPose); err != nil {
			return err
		}
		if err := tr.SendMultiple(ctx, p.Buffers()); err != nil {
			return fmt.Errorf("send frame: %w", err)
		}
		c.sent(p.Len())
		return nil
	})
	c.log.WithFields(log.Fields{
		"frames": c.frames.Load(),
		"bytes":  c.written.Load(),
	}).Debug("stream ended")

	if errors.Is(err, sensor.ErrHubClosed) {
		return nil
	}
	if err != nil && hungUp(ctx, err) {
		c.log.WithError(err).Debug("client went away mid-stream")
		return nil
	}
	return err
}

// packBatch fills p with one stream frame for b. The sample region is
// referenced, not copied.
func (c *Channel) packBatch(p *wire.Packer, b *sensor.SampleBatch, withPose bool) error {
	size := uint64(b.Count()) * uint64(sensor.AccelSampleSize)
	if size > math.MaxUint32 {
		return fmt.Errorf("batch of %d samples does not fit a frame", b.Count())
	}

	p.Pack(fieldHostTicks, wire.Uint64(b.HostTicks))
	p.Pack(fieldPayloadLen, wire.Uint32(uint32(size)))
	p.Pack(fieldPayload, b.Payload())
	if withPose {
		pose, ok := c.poses.PoseAt(b.HostTicks)
		if !ok {
			pose = sensor.Pose{}
		}
		p.Pack(fieldPose, pose.Bytes())
	} else {
		p.Pack(fieldPose, nil)
	}
	return nil
}
