// Package testutil holds fakes and helpers shared by the relay's tests.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/banshee-data/accel.relay/internal/sensor"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// LocalRequest creates a test request that appears to come from localhost,
// which tsweb requires before serving /debug/ routes.
func LocalRequest(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

// Batch builds a batch of n samples stamped with hostTicks. Sample values
// are derived from hostTicks so batches are distinguishable on the wire.
func Batch(hostTicks uint64, n int) *sensor.SampleBatch {
	samples := make([]sensor.AccelSample, n)
	for i := range samples {
		samples[i] = sensor.AccelSample{
			SensorTicks: hostTicks*10 + uint64(i),
			SocTicks:    hostTicks,
			Values:      [3]float32{float32(hostTicks), float32(i), 9.8},
			Temperature: 30 + float32(i),
		}
	}
	b := &sensor.SampleBatch{Samples: samples, HostTicks: hostTicks}
	if n > 0 {
		b.SensorTicks = samples[n-1].SensorTicks
	}
	return b
}

// Pose returns an identity pose translated by (x, y, z).
func Pose(x, y, z float32) sensor.Pose {
	p := sensor.IdentityPose()
	p[3], p[7], p[11] = x, y, z
	return p
}
