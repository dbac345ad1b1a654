package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

var (
	// ErrTransportClosed is returned once the connection has been closed.
	ErrTransportClosed = errors.New("transport closed")
	// ErrPeerClosed wraps write failures caused by the client going away.
	ErrPeerClosed = errors.New("peer closed connection")
)

// Transport is the connection a channel talks through. Both calls observe
// ctx: cancelling it unblocks a pending receive or send.
type Transport interface {
	// ReceiveByte blocks for exactly one byte from the client.
	ReceiveByte(ctx context.Context) (byte, error)
	// SendMultiple writes every buffer as one frame. Concurrent calls never
	// interleave on the wire.
	SendMultiple(ctx context.Context, bufs net.Buffers) error
}

// aLongTimeAgo is a deadline that has already passed.
var aLongTimeAgo = time.Unix(1, 0)

// ConnTransport adapts a net.Conn. After the selector byte has been read it
// keeps draining the read side so a client hang-up is noticed while the
// channel only writes; onDisconnect runs when the drain ends.
type ConnTransport struct {
	conn         net.Conn
	onDisconnect func()

	writeMu   sync.Mutex
	drainOnce sync.Once
	closeOnce sync.Once
	closed    atomic.Bool
}

// NewConnTransport wraps conn. onDisconnect may be nil.
func NewConnTransport(conn net.Conn, onDisconnect func()) *ConnTransport {
	return &ConnTransport{conn: conn, onDisconnect: onDisconnect}
}

func (t *ConnTransport) ReceiveByte(ctx context.Context) (byte, error) {
	if t.closed.Load() {
		return 0, ErrTransportClosed
	}
	stop := context.AfterFunc(ctx, func() { t.conn.SetReadDeadline(aLongTimeAgo) })
	defer stop()

	var b [1]byte
	if _, err := io.ReadFull(t.conn, b[:]); err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("receive: %w", err)
	}
	t.drainOnce.Do(func() { go t.drain() })
	return b[0], nil
}

func (t *ConnTransport) drain() {
	io.Copy(io.Discard, t.conn)
	if t.onDisconnect != nil {
		t.onDisconnect()
	}
}

func (t *ConnTransport) SendMultiple(ctx context.Context, bufs net.Buffers) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.closed.Load() {
		return ErrTransportClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { t.conn.SetWriteDeadline(aLongTimeAgo) })
	defer stop()

	if _, err := bufs.WriteTo(t.conn); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if peerGone(err) {
			return fmt.Errorf("send: %w: %w", ErrPeerClosed, err)
		}
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

func peerGone(err error) bool {
	return errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, io.EOF)
}

// hungUp reports whether a send error means the session ended because the
// client left or the session was cancelled.
func hungUp(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, ErrPeerClosed)
}

// Close closes the underlying connection. It is safe to call more than once.
func (t *ConnTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		err = t.conn.Close()
	})
	return err
}

// RemoteAddr reports the peer address.
func (t *ConnTransport) RemoteAddr() net.Addr { return t.conn.RemoteAddr() }
