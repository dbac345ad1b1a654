package pose

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/accel.relay/internal/sensor"
)

func TestStatic(t *testing.T) {
	p := sensor.IdentityPose()
	p[7] = 2
	got, ok := Static{Pose: p}.PoseAt(12345)
	assert.True(t, ok)
	assert.Equal(t, p, got)
}

func TestOrbit_PoseAt(t *testing.T) {
	o := Orbit{Radius: 2, Period: 4 * time.Second}

	p, ok := o.PoseAt(0)
	require.True(t, ok)
	assert.True(t, p.IsRigid())
	x, y, z := p.Translation()
	assert.InDelta(t, 2, x, 1e-5)
	assert.InDelta(t, 0, y, 1e-5)
	assert.InDelta(t, 0, z, 1e-5)

	// A quarter period later the rig is on +Y.
	p, ok = o.PoseAt(sensor.DurationToTicks(time.Second))
	require.True(t, ok)
	x, y, _ = p.Translation()
	assert.InDelta(t, 0, x, 1e-5)
	assert.InDelta(t, 2, y, 1e-5)
	assert.True(t, p.IsRigid())

	// Heading is tangent to the circle: local +X points along -X world.
	assert.InDelta(t, -1, p[0], 1e-5)

	_, ok = Orbit{Radius: 1}.PoseAt(0)
	assert.False(t, ok)
}

func TestCompose(t *testing.T) {
	m := Compose(Translation(1, 0, 0), RotationZ(math.Pi/2))
	p := sensor.PoseFromMatrix(m)
	assert.InDelta(t, 0, p[0], 1e-6)
	assert.InDelta(t, -1, p[1], 1e-6)
	assert.InDelta(t, 1, p[3], 1e-6)
	assert.True(t, p.IsRigid())

	assert.Equal(t, sensor.IdentityPose(), sensor.PoseFromMatrix(Compose()))
}

func TestNew(t *testing.T) {
	src, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, Static{Pose: sensor.IdentityPose()}, src)

	fixed := sensor.IdentityPose()
	fixed[11] = 1.7
	src, err = New(Config{Source: "static", Static: fixed[:]})
	require.NoError(t, err)
	assert.Equal(t, Static{Pose: fixed}, src)

	src, err = New(Config{Source: "orbit", Orbit: OrbitSettings{Radius: 1, Period: time.Second}})
	require.NoError(t, err)
	assert.IsType(t, Orbit{}, src)

	_, err = New(Config{Source: "orbit"})
	assert.Error(t, err)
	_, err = New(Config{Source: "vicon"})
	assert.Error(t, err)
	_, err = New(Config{Static: []float32{1, 2, 3}})
	assert.Error(t, err)
	_, err = New(Config{Static: make([]float32, 16)})
	assert.Error(t, err)
}
