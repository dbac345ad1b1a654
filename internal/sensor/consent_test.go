package sensor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/accel.relay/internal/monitoring"
	"github.com/banshee-data/accel.relay/internal/timeutil"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

func TestStaticConsent(t *testing.T) {
	assert.True(t, StaticConsent(true).WaitForConsent(context.Background(), TypeAccelerometer))
	assert.False(t, StaticConsent(false).WaitForConsent(context.Background(), TypeAccelerometer))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, StaticConsent(true).WaitForConsent(ctx, TypeAccelerometer))
}

func TestFileConsent_ExistingMarker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "consent")
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	fc := &FileConsent{Path: path}
	assert.True(t, fc.WaitForConsent(context.Background(), TypeAccelerometer))
}

func TestFileConsent_WaitsForMarker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "consent")
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	fc := &FileConsent{Path: path, Interval: time.Second, Clock: clock}

	done := make(chan bool, 1)
	go func() { done <- fc.WaitForConsent(context.Background(), TypeAccelerometer) }()
	require.True(t, clock.WaitForTicker(time.Second))

	clock.Advance(time.Second)
	select {
	case <-done:
		t.Fatal("consent granted without marker")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, os.WriteFile(path, nil, 0o600))
	clock.Advance(time.Second)
	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("consent not granted after marker appeared")
	}
}

func TestFileConsent_CancelDenies(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	fc := &FileConsent{Path: filepath.Join(t.TempDir(), "missing"), Clock: clock}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool, 1)
	go func() { done <- fc.WaitForConsent(ctx, TypeAccelerometer) }()
	require.True(t, clock.WaitForTicker(time.Second))
	cancel()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("wait did not end on cancel")
	}
}
