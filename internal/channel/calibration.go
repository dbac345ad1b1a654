package channel

import (
	"context"
	"fmt"

	"github.com/banshee-data/accel.relay/internal/wire"
)

// calibrate sends the sensor extrinsics as a single 64-byte frame.
func (c *Channel) calibrate(ctx context.Context, tr Transport) error {
	ext := c.sensor.Extrinsics()
	p := wire.NewPacker(1)
	p.Pack(0, ext.Bytes())
	if err := tr.SendMultiple(ctx, p.Buffers()); err != nil {
		if hungUp(ctx, err) {
			return nil
		}
		return fmt.Errorf("send extrinsics: %w", err)
	}
	c.sent(p.Len())
	return nil
}
