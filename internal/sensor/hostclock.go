package sensor

import (
	"time"

	"github.com/banshee-data/accel.relay/internal/timeutil"
)

// TicksPerSecond is the resolution of host timestamps: one tick is 100ns.
const TicksPerSecond = 10_000_000

// HostClock stamps batches with a monotonic tick count since it was created.
type HostClock struct {
	clock timeutil.Clock
	start time.Time
}

// NewHostClock starts counting from clock's current time.
func NewHostClock(clock timeutil.Clock) *HostClock {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &HostClock{clock: clock, start: clock.Now()}
}

// Ticks returns the elapsed time in 100ns units.
func (h *HostClock) Ticks() uint64 {
	return DurationToTicks(h.clock.Since(h.start))
}

// DurationToTicks converts d to host ticks, clamping negatives to zero.
func DurationToTicks(d time.Duration) uint64 {
	if d < 0 {
		return 0
	}
	return uint64(d / 100)
}

// TicksToDuration is the inverse of DurationToTicks.
func TicksToDuration(ticks uint64) time.Duration {
	return time.Duration(ticks) * 100
}
