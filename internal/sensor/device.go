package sensor

import "context"

// Device is a Sensor backed by a Hub. Each ExecuteSensorLoop call holds its
// own subscription, so concurrent sessions each see every batch their queue
// can absorb.
type Device struct {
	kind       Type
	hub        *Hub
	consent    ConsentGate
	extrinsics Pose
}

// NewDevice wires a hub, consent gate and extrinsics into a Sensor.
func NewDevice(kind Type, hub *Hub, consent ConsentGate, extrinsics Pose) *Device {
	if consent == nil {
		consent = StaticConsent(true)
	}
	return &Device{kind: kind, hub: hub, consent: consent, extrinsics: extrinsics}
}

func (d *Device) Type() Type       { return d.kind }
func (d *Device) Extrinsics() Pose { return d.extrinsics }
func (d *Device) Hub() *Hub        { return d.hub }

func (d *Device) WaitForConsent(ctx context.Context) bool {
	return d.consent.WaitForConsent(ctx, d.kind)
}

// ExecuteSensorLoop subscribes to the hub for the life of ctx. Delivery is
// bounded per subscriber: a session too slow to keep up loses batches, and
// the ones it does get arrive in publish order.
func (d *Device) ExecuteSensorLoop(ctx context.Context, fn FrameFunc) error {
	id, ch := d.hub.Subscribe()
	defer d.hub.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return nil
		case b, ok := <-ch:
			if !ok {
				return ErrHubClosed
			}
			// A batch and a cancellation can be ready together; cancellation wins.
			if ctx.Err() != nil {
				return nil
			}
			if err := fn(b); err != nil {
				return err
			}
		}
	}
}
