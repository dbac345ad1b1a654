package channel

import (
	"fmt"
	"sync"

	"github.com/banshee-data/accel.relay/internal/pose"
	"github.com/banshee-data/accel.relay/internal/sensor"
)

// Factory opens a Channel per connection and tracks the open ones. The
// sensor is resolved once, when the factory is built.
type Factory struct {
	sensor sensor.Sensor
	poses  pose.Source

	mu   sync.Mutex
	open map[string]*Channel
}

// NewFactory resolves the sensor for t. It fails with an error wrapping
// sensor.ErrSensorNotFound when the device has no such sensor.
func NewFactory(finder sensor.Finder, t sensor.Type, poses pose.Source) (*Factory, error) {
	s, err := finder.Find(t)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", t, err)
	}
	if poses == nil {
		poses = pose.Static{Pose: sensor.IdentityPose()}
	}
	return &Factory{sensor: s, poses: poses, open: make(map[string]*Channel)}, nil
}

// Sensor returns the resolved sensor handle.
func (f *Factory) Sensor() sensor.Sensor { return f.sensor }

// Open creates the channel for a new session.
func (f *Factory) Open(id string) *Channel {
	ch := newChannel(id, f.sensor, f.poses)
	f.mu.Lock()
	f.open[id] = ch
	f.mu.Unlock()
	return ch
}

// Close releases a channel opened by Open. The sensor itself needs no
// teardown; subscriptions end with the session context.
func (f *Factory) Close(ch *Channel) {
	f.mu.Lock()
	delete(f.open, ch.id)
	f.mu.Unlock()
}

// Channels lists the open channels in no particular order.
func (f *Factory) Channels() []*Channel {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Channel, 0, len(f.open))
	for _, ch := range f.open {
		out = append(out, ch)
	}
	return out
}
