package channel

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/accel.relay/internal/monitoring"
	"github.com/banshee-data/accel.relay/internal/pose"
	"github.com/banshee-data/accel.relay/internal/sensor"
	"github.com/banshee-data/accel.relay/internal/testutil"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

type session struct {
	ch     *Channel
	fake   *testutil.FakeSensor
	tr     *testutil.RecordingTransport
	cancel context.CancelFunc
	done   chan error
}

func startSession(t *testing.T, fake *testutil.FakeSensor, poses pose.Source, selectors ...byte) *session {
	t.Helper()
	return startSessionOn(t, fake, poses, testutil.NewRecordingTransport(selectors...))
}

func startSessionOn(t *testing.T, fake *testutil.FakeSensor, poses pose.Source, tr *testutil.RecordingTransport) *session {
	t.Helper()
	reg := sensor.NewRegistry()
	require.NoError(t, reg.Register(fake))
	f, err := NewFactory(reg, sensor.TypeAccelerometer, poses)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		ch:     f.Open("test"),
		fake:   fake,
		tr:     tr,
		cancel: cancel,
		done:   make(chan error, 1),
	}
	go func() { s.done <- s.ch.Serve(ctx, s.tr) }()
	t.Cleanup(cancel)
	return s
}

func (s *session) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-s.done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
		return nil
	}
}

func (s *session) feed(t *testing.T, batches ...*sensor.SampleBatch) {
	t.Helper()
	require.True(t, s.fake.WaitStarted(time.Second), "sensor loop never started")
	for _, b := range batches {
		select {
		case s.fake.Feed <- b:
		case <-time.After(time.Second):
			t.Fatal("sensor loop stopped accepting batches")
		}
	}
	require.True(t, s.tr.WaitFrames(len(batches), time.Second))
}

type streamFrame struct {
	HostTicks  uint64
	PayloadLen uint32
	Payload    []byte
	Pose       []byte
}

func decodeStreamFrame(t *testing.T, fields [][]byte) streamFrame {
	t.Helper()
	require.Len(t, fields, 4)
	require.Len(t, fields[0], 8)
	require.Len(t, fields[1], 4)
	return streamFrame{
		HostTicks:  binary.NativeEndian.Uint64(fields[0]),
		PayloadLen: binary.NativeEndian.Uint32(fields[1]),
		Payload:    fields[2],
		Pose:       fields[3],
	}
}

func TestParseMode_MasksHighBits(t *testing.T) {
	for b := 0; b < 256; b++ {
		assert.Equal(t, Mode(b&3), ParseMode(byte(b)), "selector %#x", b)
	}
	assert.Equal(t, ModeStreamWithPose, ParseMode(0xFD))
	assert.Equal(t, "calibration", ModeCalibration.String())
	assert.Equal(t, byte(1), ModeStreamWithPose.Selector())
}

func TestStream_FrameContent(t *testing.T) {
	s := startSession(t, testutil.NewFakeSensor(), nil, byte(ModeStream))
	in := testutil.Batch(42, 5)
	s.feed(t, in)

	frames := s.tr.Frames()
	require.Len(t, frames, 1)
	got := decodeStreamFrame(t, frames[0])
	want := streamFrame{
		HostTicks:  42,
		PayloadLen: uint32(5 * sensor.AccelSampleSize),
		Payload:    in.Payload(),
		Pose:       []byte{},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("frame mismatch (-want +got):\n%s", diff)
	}
}

func TestStream_PoseFieldSizeIsFixedPerSession(t *testing.T) {
	tests := []struct {
		name     string
		selector byte
		poseLen  int
	}{
		{"mode 0", 0x00, 0},
		{"mode 1", 0x01, sensor.PoseSize},
		{"mode 0 high bits", 0xF4, 0},
		{"mode 1 high bits", 0x85, sensor.PoseSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testutil.Pose(1, 2, 3)
			s := startSession(t, testutil.NewFakeSensor(), pose.Static{Pose: p}, tt.selector)
			s.feed(t, testutil.Batch(1, 2), testutil.Batch(2, 0), testutil.Batch(3, 7))

			for _, fields := range s.tr.Frames() {
				f := decodeStreamFrame(t, fields)
				assert.Len(t, f.Pose, tt.poseLen)
				if tt.poseLen > 0 {
					assert.Equal(t, p.Bytes(), f.Pose)
				}
			}
		})
	}
}

type missingPose struct{}

func (missingPose) PoseAt(uint64) (sensor.Pose, bool) { return sensor.Pose{}, false }

func TestStream_PoseMissSendsZeroPose(t *testing.T) {
	s := startSession(t, testutil.NewFakeSensor(), missingPose{}, byte(ModeStreamWithPose))
	s.feed(t, testutil.Batch(9, 1))
	f := decodeStreamFrame(t, s.tr.Frames()[0])
	assert.Equal(t, make([]byte, sensor.PoseSize), f.Pose)
}

func TestStream_PreservesDeliveryOrder(t *testing.T) {
	s := startSession(t, testutil.NewFakeSensor(), nil, byte(ModeStream))
	s.feed(t, testutil.Batch(10, 1), testutil.Batch(20, 3), testutil.Batch(30, 2), testutil.Batch(40, 4))

	var ticks []uint64
	for _, fields := range s.tr.Frames() {
		f := decodeStreamFrame(t, fields)
		ticks = append(ticks, f.HostTicks)
		assert.Equal(t, uint32(len(f.Payload)), f.PayloadLen)
	}
	assert.Equal(t, []uint64{10, 20, 30, 40}, ticks)

	st := s.ch.Stats()
	assert.Equal(t, uint64(4), st.Frames)
	assert.Equal(t, "stream", st.Mode)
	assert.Equal(t, "running", st.State)
}

func TestCalibration_SingleFrame(t *testing.T) {
	fake := testutil.NewFakeSensor()
	fake.Ext = testutil.Pose(0.1, -0.2, 0.3)
	s := startSession(t, fake, nil, 0x02)

	require.NoError(t, s.wait(t))
	frames := s.tr.Frames()
	require.Len(t, frames, 1)
	require.Len(t, frames[0], 1)
	assert.Len(t, frames[0][0], 64)
	assert.Equal(t, fake.Ext.Bytes(), frames[0][0])

	_, loops := fake.Calls()
	assert.Zero(t, loops, "calibration must not subscribe")
	assert.Equal(t, StateTerminated, s.ch.State())
}

func TestCalibration_HighBitsSelectSameBehavior(t *testing.T) {
	s := startSession(t, testutil.NewFakeSensor(), nil, 0xFE)
	require.NoError(t, s.wait(t))
	assert.Len(t, s.tr.Frames(), 1)
}

func TestConsentDenied_NoReadsNoFrames(t *testing.T) {
	fake := testutil.NewFakeSensor()
	fake.Consent = false
	s := startSession(t, fake, nil, byte(ModeStream))

	require.NoError(t, s.wait(t))
	assert.Zero(t, s.tr.Reads())
	assert.Empty(t, s.tr.Frames())
	_, loops := fake.Calls()
	assert.Zero(t, loops)
	assert.Equal(t, StateTerminated, s.ch.State())
}

func TestReceiveFailureEndsQuietly(t *testing.T) {
	fake := testutil.NewFakeSensor()
	s := startSession(t, fake, nil)

	require.NoError(t, s.wait(t))
	assert.Equal(t, 1, s.tr.Reads())
	assert.Empty(t, s.tr.Frames())
	_, ok := s.ch.Mode()
	assert.False(t, ok)
}

func TestReservedModeIsNoop(t *testing.T) {
	fake := testutil.NewFakeSensor()
	s := startSession(t, fake, nil, 0x03)

	require.NoError(t, s.wait(t))
	assert.Empty(t, s.tr.Frames())
	_, loops := fake.Calls()
	assert.Zero(t, loops)
	assert.Equal(t, 1, s.tr.Reads(), "the selector is read exactly once")
}

func TestStream_CancellationStopsFrames(t *testing.T) {
	fake := testutil.NewFakeSensor()
	s := startSession(t, fake, nil, byte(ModeStream))
	s.feed(t, testutil.Batch(1, 1))

	late := fake.Callback()
	s.cancel()
	require.NoError(t, s.wait(t))
	assert.False(t, fake.Active(), "subscription still registered")

	// A delivery racing the cancellation must not reach the wire.
	require.NoError(t, late(testutil.Batch(2, 1)))
	assert.Len(t, s.tr.Frames(), 1)
}

func TestStream_SendFailureEndsSession(t *testing.T) {
	fake := testutil.NewFakeSensor()
	s := startSession(t, fake, nil, byte(ModeStream))
	boom := errors.New("broken pipe")
	s.tr.FailWith(boom, 2)

	s.feed(t, testutil.Batch(1, 1))
	fake.Feed <- testutil.Batch(2, 1)

	err := s.wait(t)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, s.tr.Frames(), 1)
	assert.False(t, fake.Active())
}

func TestStream_ClientHangUpIsNormalEnd(t *testing.T) {
	fake := testutil.NewFakeSensor()
	s := startSession(t, fake, nil, byte(ModeStreamWithPose))
	s.tr.FailWith(fmt.Errorf("send: %w: %w", ErrPeerClosed, syscall.EPIPE), 2)

	s.feed(t, testutil.Batch(1, 1))
	fake.Feed <- testutil.Batch(2, 1)

	assert.NoError(t, s.wait(t))
	assert.Len(t, s.tr.Frames(), 1)
	assert.False(t, fake.Active())
}

func TestCalibration_ClientHangUpIsNormalEnd(t *testing.T) {
	fake := testutil.NewFakeSensor()
	tr := testutil.NewRecordingTransport(byte(ModeCalibration))
	tr.FailWith(fmt.Errorf("send: %w", ErrPeerClosed), 1)
	s := startSessionOn(t, fake, nil, tr)

	assert.NoError(t, s.wait(t))
	assert.Empty(t, s.tr.Frames())
}

func TestStream_HubClosedIsNormalEnd(t *testing.T) {
	fake := testutil.NewFakeSensor()
	fake.LoopErr = sensor.ErrHubClosed
	s := startSession(t, fake, nil, byte(ModeStream))
	require.True(t, fake.WaitStarted(time.Second))
	close(fake.Feed)
	assert.NoError(t, s.wait(t))
}

func TestFactory(t *testing.T) {
	_, err := NewFactory(sensor.NewRegistry(), sensor.TypeAccelerometer, nil)
	assert.ErrorIs(t, err, sensor.ErrSensorNotFound)

	reg := sensor.NewRegistry()
	fake := testutil.NewFakeSensor()
	require.NoError(t, reg.Register(fake))
	f, err := NewFactory(reg, sensor.TypeAccelerometer, nil)
	require.NoError(t, err)
	assert.Same(t, fake, f.Sensor())

	a := f.Open("a")
	b := f.Open("b")
	assert.Len(t, f.Channels(), 2)
	assert.Equal(t, StateCreated, a.State())
	f.Close(a)
	require.Len(t, f.Channels(), 1)
	assert.Same(t, b, f.Channels()[0])
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "awaiting-consent", StateAwaitingConsent.String())
	assert.Equal(t, "rejected", StateRejected.String())
	assert.Equal(t, "state(42)", State(42).String())
}
