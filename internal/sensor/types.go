package sensor

import (
	"fmt"
	"math"
	"strings"
	"unsafe"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/accel.relay/internal/wire"
)

// Type identifies a logical motion sensor.
type Type int

const (
	TypeAccelerometer Type = iota
	TypeGyroscope
	TypeMagnetometer
)

func (t Type) String() string {
	switch t {
	case TypeAccelerometer:
		return "accelerometer"
	case TypeGyroscope:
		return "gyroscope"
	case TypeMagnetometer:
		return "magnetometer"
	default:
		return fmt.Sprintf("sensor(%d)", int(t))
	}
}

// ParseType accepts the names produced by Type.String.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "accelerometer", "accel", "acc":
		return TypeAccelerometer, nil
	case "gyroscope", "gyro":
		return TypeGyroscope, nil
	case "magnetometer", "mag":
		return TypeMagnetometer, nil
	}
	return 0, fmt.Errorf("unknown sensor type %q", s)
}

// AccelSample is one accelerometer reading in the device's native layout.
// The struct has no padding, so a []AccelSample is also the wire payload.
type AccelSample struct {
	SensorTicks uint64     // sensor-local clock
	SocTicks    uint64     // host clock at delivery
	Values      [3]float32 // m/s^2, device axes
	Temperature float32    // degrees Celsius
}

// AccelSampleSize is the byte size of one AccelSample on the wire.
const AccelSampleSize = int(unsafe.Sizeof(AccelSample{}))

// SampleBatch is one delivery from the sensor. It is immutable once
// published and is not retained by consumers.
type SampleBatch struct {
	Samples     []AccelSample
	HostTicks   uint64
	SensorTicks uint64
}

// Count returns the number of samples in the batch.
func (b *SampleBatch) Count() int { return len(b.Samples) }

// Payload views the samples as raw bytes without copying.
func (b *SampleBatch) Payload() []byte {
	if len(b.Samples) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&b.Samples[0])), len(b.Samples)*AccelSampleSize)
}

// Pose is a row-major 4x4 transform. Translation lives in the last column
// (m03, m13, m23) and the last row of a rigid transform is 0 0 0 1.
type Pose [16]float32

// PoseSize is the byte size of a Pose on the wire.
const PoseSize = int(unsafe.Sizeof(Pose{}))

// IdentityPose returns the identity transform.
func IdentityPose() Pose {
	return Pose{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Bytes views the pose as raw bytes without copying.
func (p *Pose) Bytes() []byte {
	return wire.Float32s(p[:])
}

// Translation returns m03, m13, m23.
func (p Pose) Translation() (x, y, z float32) {
	return p[3], p[7], p[11]
}

// Dense copies the pose into a gonum matrix.
func (p Pose) Dense() *mat.Dense {
	data := make([]float64, 16)
	for i, v := range p {
		data[i] = float64(v)
	}
	return mat.NewDense(4, 4, data)
}

// PoseFromMatrix narrows a 4x4 gonum matrix to a Pose.
func PoseFromMatrix(m mat.Matrix) Pose {
	var p Pose
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			p[i*4+j] = float32(m.At(i, j))
		}
	}
	return p
}

// rigidTolerance bounds float32 round-off when checking rotations.
const rigidTolerance = 1e-3

// IsRigid reports whether p is a proper rigid transform: an orthonormal
// rotation block with determinant +1 and a last row of 0 0 0 1.
func (p Pose) IsRigid() bool {
	for _, v := range p {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return false
		}
	}
	if p[12] != 0 || p[13] != 0 || p[14] != 0 || math.Abs(float64(p[15])-1) > rigidTolerance {
		return false
	}

	r := p.Dense().Slice(0, 3, 0, 3)
	if math.Abs(mat.Det(r)-1) > rigidTolerance {
		return false
	}
	var rtr mat.Dense
	rtr.Mul(r.T(), r)
	identity := mat.NewDiagDense(3, []float64{1, 1, 1})
	return mat.EqualApprox(&rtr, identity, rigidTolerance)
}
