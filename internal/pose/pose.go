// Package pose supplies the rig pose that accompanies streamed batches.
package pose

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/accel.relay/internal/sensor"
)

// Source resolves the rig pose at a host timestamp. ok is false when no
// pose is known for that instant.
type Source interface {
	PoseAt(hostTicks uint64) (p sensor.Pose, ok bool)
}

// Static always reports the same pose.
type Static struct {
	Pose sensor.Pose
}

func (s Static) PoseAt(uint64) (sensor.Pose, bool) { return s.Pose, true }

// Orbit moves the rig around a horizontal circle, facing the direction of
// travel. It exists for demos and tests where a moving pose is easier to
// spot than a fixed one.
type Orbit struct {
	Radius float64
	Period time.Duration
}

func (o Orbit) PoseAt(hostTicks uint64) (sensor.Pose, bool) {
	if o.Period <= 0 {
		return sensor.Pose{}, false
	}
	t := sensor.TicksToDuration(hostTicks)
	theta := 2 * math.Pi * float64(t%o.Period) / float64(o.Period)
	m := Compose(
		Translation(o.Radius*math.Cos(theta), o.Radius*math.Sin(theta), 0),
		RotationZ(theta+math.Pi/2),
	)
	return sensor.PoseFromMatrix(m), true
}

// Translation is a homogeneous translation matrix.
func Translation(x, y, z float64) *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		1, 0, 0, x,
		0, 1, 0, y,
		0, 0, 1, z,
		0, 0, 0, 1,
	})
}

// RotationZ rotates by theta radians about +Z.
func RotationZ(theta float64) *mat.Dense {
	c, s := math.Cos(theta), math.Sin(theta)
	return mat.NewDense(4, 4, []float64{
		c, -s, 0, 0,
		s, c, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
}

// Compose multiplies transforms left to right, so the last one is applied
// to a point first.
func Compose(ms ...mat.Matrix) *mat.Dense {
	out := mat.NewDense(4, 4, nil)
	out.Copy(mat.NewDiagDense(4, []float64{1, 1, 1, 1}))
	for _, m := range ms {
		var next mat.Dense
		next.Mul(out, m)
		out = &next
	}
	return out
}

// Config selects and parameterises a pose source.
type Config struct {
	Source string        `mapstructure:"source" yaml:"source"`
	Static []float32     `mapstructure:"static" yaml:"static,omitempty"`
	Orbit  OrbitSettings `mapstructure:"orbit" yaml:"orbit"`
}

// OrbitSettings configures an Orbit.
type OrbitSettings struct {
	Radius float64       `mapstructure:"radius" yaml:"radius"`
	Period time.Duration `mapstructure:"period" yaml:"period"`
}

// New builds the source named by cfg.Source. An empty name means a static
// identity pose.
func New(cfg Config) (Source, error) {
	switch cfg.Source {
	case "", "static":
		if len(cfg.Static) == 0 {
			return Static{Pose: sensor.IdentityPose()}, nil
		}
		p, err := FromSlice(cfg.Static)
		if err != nil {
			return nil, err
		}
		return Static{Pose: p}, nil
	case "orbit":
		if cfg.Orbit.Period <= 0 {
			return nil, fmt.Errorf("orbit period must be positive, got %v", cfg.Orbit.Period)
		}
		return Orbit{Radius: cfg.Orbit.Radius, Period: cfg.Orbit.Period}, nil
	}
	return nil, fmt.Errorf("unknown pose source %q", cfg.Source)
}

// FromSlice converts 16 row-major values into a rigid Pose.
func FromSlice(v []float32) (sensor.Pose, error) {
	var p sensor.Pose
	if len(v) != len(p) {
		return p, fmt.Errorf("pose needs %d values, got %d", len(p), len(v))
	}
	copy(p[:], v)
	if !p.IsRigid() {
		return p, fmt.Errorf("pose is not a rigid transform")
	}
	return p, nil
}
