package testutil

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/banshee-data/accel.relay/internal/sensor"
)

// FakeSensor is a scripted sensor.Sensor. Batches pushed on Feed are
// delivered to the running loop in order; closing Feed ends the loop with
// LoopErr.
type FakeSensor struct {
	Kind    sensor.Type
	Consent bool
	Ext     sensor.Pose
	Feed    chan *sensor.SampleBatch
	LoopErr error

	mu           sync.Mutex
	consentCalls int
	loopCalls    int
	active       bool
	callback     sensor.FrameFunc
	started      chan struct{}
}

// NewFakeSensor returns an accelerometer that grants consent.
func NewFakeSensor() *FakeSensor {
	return &FakeSensor{
		Kind:    sensor.TypeAccelerometer,
		Consent: true,
		Ext:     sensor.IdentityPose(),
		Feed:    make(chan *sensor.SampleBatch),
		started: make(chan struct{}, 1),
	}
}

func (f *FakeSensor) Type() sensor.Type        { return f.Kind }
func (f *FakeSensor) Extrinsics() sensor.Pose { return f.Ext }

func (f *FakeSensor) WaitForConsent(ctx context.Context) bool {
	f.mu.Lock()
	f.consentCalls++
	f.mu.Unlock()
	return f.Consent && ctx.Err() == nil
}

func (f *FakeSensor) ExecuteSensorLoop(ctx context.Context, fn sensor.FrameFunc) error {
	f.mu.Lock()
	f.loopCalls++
	f.active = true
	f.callback = fn
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active = false
		f.mu.Unlock()
	}()
	select {
	case f.started <- struct{}{}:
	default:
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case b, ok := <-f.Feed:
			if !ok {
				return f.LoopErr
			}
			if err := fn(b); err != nil {
				return err
			}
		}
	}
}

// WaitStarted blocks until ExecuteSensorLoop has been entered.
func (f *FakeSensor) WaitStarted(timeout time.Duration) bool {
	select {
	case <-f.started:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Active reports whether a sensor loop is currently subscribed.
func (f *FakeSensor) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

// Callback returns the most recently registered frame callback, so a test
// can replay a late delivery.
func (f *FakeSensor) Callback() sensor.FrameFunc {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callback
}

// Calls returns how many times consent and the sensor loop were entered.
func (f *FakeSensor) Calls() (consent, loops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.consentCalls, f.loopCalls
}

// RecordingTransport is an in-memory channel.Transport. ReceiveByte pops
// the scripted selectors; once they run out it returns io.EOF. Every send is
// recorded field by field.
type RecordingTransport struct {
	mu        sync.Mutex
	sendErr   error
	failAt    int
	selectors []byte
	reads     int
	frames    [][][]byte
	sent      chan struct{}
}

// NewRecordingTransport returns a transport that will hand out selectors.
func NewRecordingTransport(selectors ...byte) *RecordingTransport {
	return &RecordingTransport{selectors: selectors, sent: make(chan struct{}, 1024)}
}

func (r *RecordingTransport) ReceiveByte(ctx context.Context) (byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(r.selectors) == 0 {
		return 0, io.EOF
	}
	b := r.selectors[0]
	r.selectors = r.selectors[1:]
	return b, nil
}

func (r *RecordingTransport) SendMultiple(ctx context.Context, bufs net.Buffers) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sendErr != nil && len(r.frames)+1 >= r.failAt {
		return r.sendErr
	}
	frame := make([][]byte, len(bufs))
	for i, b := range bufs {
		frame[i] = append([]byte{}, b...)
	}
	r.frames = append(r.frames, frame)
	r.sent <- struct{}{}
	return nil
}

// FailWith makes the send numbered at (1-based) and every later one return
// err.
func (r *RecordingTransport) FailWith(err error, at int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sendErr = err
	r.failAt = at
}

// Reads returns how many times ReceiveByte was called.
func (r *RecordingTransport) Reads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reads
}

// Frames returns the recorded frames; each frame is a list of fields.
func (r *RecordingTransport) Frames() [][][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][][]byte(nil), r.frames...)
}

// WaitFrames blocks until n more frames have been sent since the last wait.
func (r *RecordingTransport) WaitFrames(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for i := 0; i < n; i++ {
		select {
		case <-r.sent:
		case <-deadline:
			return false
		}
	}
	return true
}
