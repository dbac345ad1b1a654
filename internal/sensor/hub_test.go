package sensor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chanSource replays batches pushed onto its channel and fails with err once
// the channel is closed.
type chanSource struct {
	ch     chan *SampleBatch
	err    error
	closed bool
}

func (s *chanSource) Next(ctx context.Context) (*SampleBatch, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case b, ok := <-s.ch:
		if !ok {
			return nil, s.err
		}
		return b, nil
	}
}

func (s *chanSource) Close() error {
	s.closed = true
	return nil
}

func batchOf(n int) *SampleBatch {
	return &SampleBatch{Samples: make([]AccelSample, n), HostTicks: uint64(n)}
}

func TestHub_PublishFansOut(t *testing.T) {
	h := NewHub(2)
	id1, ch1 := h.Subscribe()
	_, ch2 := h.Subscribe()
	assert.NotEqual(t, "", id1)
	assert.Equal(t, 2, h.SubscriberCount())

	b := batchOf(3)
	h.Publish(b)
	assert.Same(t, b, <-ch1)
	assert.Same(t, b, <-ch2)
	assert.Equal(t, uint64(1), h.Stats().Published)
}

func TestHub_FullQueueDrops(t *testing.T) {
	h := NewHub(1)
	_, ch := h.Subscribe()

	h.Publish(batchOf(1))
	h.Publish(batchOf(2))

	assert.Equal(t, 1, (<-ch).Count())
	assert.Equal(t, uint64(1), h.Stats().Dropped)
	select {
	case <-ch:
		t.Fatal("dropped batch was delivered")
	default:
	}
}

func TestHub_UnsubscribeClosesQueue(t *testing.T) {
	h := NewHub(1)
	id, ch := h.Subscribe()
	h.Unsubscribe(id)
	h.Unsubscribe(id)
	_, ok := <-ch
	assert.False(t, ok)
	assert.Zero(t, h.SubscriberCount())
}

func TestHub_Close(t *testing.T) {
	h := NewHub(1)
	_, ch := h.Subscribe()
	require.NoError(t, h.Close())
	_, ok := <-ch
	assert.False(t, ok)

	_, late := h.Subscribe()
	_, ok = <-late
	assert.False(t, ok)

	h.Publish(batchOf(1))
	assert.Zero(t, h.Stats().Published)
}

func TestHub_MonitorPublishesUntilSourceFails(t *testing.T) {
	h := NewHub(4)
	_, ch := h.Subscribe()
	boom := errors.New("link lost")
	src := &chanSource{ch: make(chan *SampleBatch, 2), err: boom}
	src.ch <- batchOf(1)
	src.ch <- batchOf(2)
	close(src.ch)

	err := h.Monitor(context.Background(), src)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, (<-ch).Count())
	assert.Equal(t, 2, (<-ch).Count())
	assert.False(t, h.Stats().Running)
}

func TestHub_MonitorStopsOnCancel(t *testing.T) {
	h := NewHub(1)
	src := &chanSource{ch: make(chan *SampleBatch)}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.Monitor(ctx, src) }()
	require.Eventually(t, func() bool { return h.Stats().Running }, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Monitor did not return after cancel")
	}
}
