// Package wire assembles multi-field frames for a single vectored write.
package wire

import (
	"encoding/binary"
	"net"
	"unsafe"
)

// Packer holds a fixed number of field slots. Slots reference caller memory;
// nothing is copied until the buffers are written out.
type Packer struct {
	fields [][]byte
}

// NewPacker returns a Packer with n empty slots.
func NewPacker(n int) *Packer {
	return &Packer{fields: make([][]byte, n)}
}

// Pack assigns b to slot i. It panics if i is out of range, like a slice index.
func (p *Packer) Pack(i int, b []byte) {
	p.fields[i] = b
}

// Buffers returns the slots as net.Buffers. The result shares the slot
// backing array, so WriteTo consumes a copy of the slice header only.
func (p *Packer) Buffers() net.Buffers {
	return append(net.Buffers(nil), p.fields...)
}

// Len is the total byte length across all slots.
func (p *Packer) Len() int {
	n := 0
	for _, f := range p.fields {
		n += len(f)
	}
	return n
}

// Reset clears every slot so the Packer can be reused and no longer pins
// the memory it referenced.
func (p *Packer) Reset() {
	for i := range p.fields {
		p.fields[i] = nil
	}
}

// Uint64 encodes v in host byte order.
func Uint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.NativeEndian.PutUint64(b, v)
	return b
}

// Uint32 encodes v in host byte order.
func Uint32(v uint32) []byte {
	b := make([]byte, 4)
	binary.NativeEndian.PutUint32(b, v)
	return b
}

// Float32s views a float32 slice as bytes without copying.
func Float32s(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&v[0])), len(v)*4)
}
