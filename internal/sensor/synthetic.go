package sensor

import (
	"context"
	"math"
	"time"

	"github.com/banshee-data/accel.relay/internal/timeutil"
)

// StandardGravity in m/s^2.
const StandardGravity = 9.80665

// SyntheticConfig shapes the generated stream.
type SyntheticConfig struct {
	BatchRateHz float64 `mapstructure:"batch_rate_hz" yaml:"batch_rate_hz"`
	BatchSize   int     `mapstructure:"batch_size" yaml:"batch_size"`
}

// DefaultSyntheticConfig approximates a head-mounted IMU: roughly 1.1 kHz
// sampling delivered about twelve times a second.
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{BatchRateHz: 12, BatchSize: 93}
}

// SyntheticSource generates a device at rest with a small periodic sway. It
// is paced by the clock it is given, so tests can step it with a MockClock.
type SyntheticSource struct {
	cfg    SyntheticConfig
	clock  timeutil.Clock
	host   *HostClock
	ticker timeutil.Ticker

	sensorTicks uint64
	phase       float64
}

// NewSyntheticSource returns a source that emits one batch per tick.
func NewSyntheticSource(cfg SyntheticConfig, clock timeutil.Clock, host *HostClock) *SyntheticSource {
	def := DefaultSyntheticConfig()
	if cfg.BatchRateHz <= 0 {
		cfg.BatchRateHz = def.BatchRateHz
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if host == nil {
		host = NewHostClock(clock)
	}
	return &SyntheticSource{cfg: cfg, clock: clock, host: host}
}

func (s *SyntheticSource) period() time.Duration {
	return time.Duration(float64(time.Second) / s.cfg.BatchRateHz)
}

// Next waits for the next tick and returns a freshly generated batch.
func (s *SyntheticSource) Next(ctx context.Context) (*SampleBatch, error) {
	if s.ticker == nil {
		s.ticker = s.clock.NewTicker(s.period())
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ticker.C():
	}

	host := s.host.Ticks()
	step := DurationToTicks(s.period()) / uint64(s.cfg.BatchSize)
	if step == 0 {
		step = 1
	}
	dphase := 2 * math.Pi / float64(s.cfg.BatchSize)

	samples := make([]AccelSample, s.cfg.BatchSize)
	for i := range samples {
		s.sensorTicks += step
		s.phase = math.Mod(s.phase+dphase, 2*math.Pi)
		samples[i] = AccelSample{
			SensorTicks: s.sensorTicks,
			SocTicks:    host,
			Values: [3]float32{
				float32(0.05 * math.Sin(s.phase)),
				float32(0.05 * math.Cos(s.phase)),
				float32(StandardGravity),
			},
			Temperature: 31.5,
		}
	}
	return &SampleBatch{Samples: samples, HostTicks: host, SensorTicks: s.sensorTicks}, nil
}

func (s *SyntheticSource) Close() error {
	if s.ticker != nil {
		s.ticker.Stop()
	}
	return nil
}
