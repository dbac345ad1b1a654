package sensor

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/sigurn/crc16"
	"go.bug.st/serial"

	"github.com/banshee-data/accel.relay/internal/monitoring"
)

// Serial frame layout, little endian:
//
//	A5 5A | count u8 | count x (ticks u64, x f32, y f32, z f32, temp f32) | crc16 u16
//
// The CRC is CRC-16/MODBUS over the count byte and the sample records.
const (
	frameMagic0      = 0xA5
	frameMagic1      = 0x5A
	serialRecordSize = 24
)

var (
	ErrChecksum   = errors.New("serial frame checksum mismatch")
	ErrShortFrame = errors.New("serial frame has no samples")
)

var modbusTable = crc16.MakeTable(crc16.CRC16_MODBUS)

func frameChecksum(data []byte) uint16 {
	return crc16.Checksum(data, modbusTable)
}

// EncodeSerialFrame builds the frame an IMU board sends for samples. Only
// SensorTicks, Values and Temperature travel on the link.
func EncodeSerialFrame(samples []AccelSample) ([]byte, error) {
	if len(samples) == 0 || len(samples) > math.MaxUint8 {
		return nil, fmt.Errorf("serial frame must carry 1..%d samples, got %d", math.MaxUint8, len(samples))
	}
	body := make([]byte, 1, 1+len(samples)*serialRecordSize)
	body[0] = byte(len(samples))
	for _, s := range samples {
		body = binary.LittleEndian.AppendUint64(body, s.SensorTicks)
		for _, v := range s.Values {
			body = binary.LittleEndian.AppendUint32(body, math.Float32bits(v))
		}
		body = binary.LittleEndian.AppendUint32(body, math.Float32bits(s.Temperature))
	}
	frame := append([]byte{frameMagic0, frameMagic1}, body...)
	return binary.LittleEndian.AppendUint16(frame, frameChecksum(body)), nil
}

// SerialSource reads framed samples from an IMU board.
type SerialSource struct {
	port      io.ReadCloser
	r         *bufio.Reader
	host      *HostClock
	closeOnce sync.Once
	closeErr  error
}

// OpenSerialSource opens the port at path.
func OpenSerialSource(path string, opts PortOptions, host *HostClock) (*SerialSource, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}
	return NewSerialSource(port, host), nil
}

// NewSerialSource reads frames from an already open port.
func NewSerialSource(port io.ReadCloser, host *HostClock) *SerialSource {
	if host == nil {
		host = NewHostClock(nil)
	}
	return &SerialSource{port: port, r: bufio.NewReader(port), host: host}
}

// Next returns the next valid frame. Corrupt frames are logged and skipped.
// Cancelling ctx closes the port to unblock the read.
func (s *SerialSource) Next(ctx context.Context) (*SampleBatch, error) {
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	for {
		b, err := s.readFrame()
		switch {
		case err == nil:
			return b, nil
		case errors.Is(err, ErrChecksum), errors.Is(err, ErrShortFrame):
			monitoring.Logger("serial").WithError(err).Debug("skipping frame")
			continue
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			return nil, err
		}
	}
}

func (s *SerialSource) sync() error {
	prev := byte(0)
	for {
		c, err := s.r.ReadByte()
		if err != nil {
			return err
		}
		if prev == frameMagic0 && c == frameMagic1 {
			return nil
		}
		prev = c
	}
}

func (s *SerialSource) readFrame() (*SampleBatch, error) {
	if err := s.sync(); err != nil {
		return nil, err
	}
	count, err := s.r.ReadByte()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, ErrShortFrame
	}

	body := make([]byte, 1+int(count)*serialRecordSize+2)
	body[0] = count
	if _, err := io.ReadFull(s.r, body[1:]); err != nil {
		return nil, err
	}
	payload, trailer := body[:len(body)-2], body[len(body)-2:]
	if got, want := frameChecksum(payload), binary.LittleEndian.Uint16(trailer); got != want {
		return nil, fmt.Errorf("%w: got %04x want %04x", ErrChecksum, got, want)
	}

	host := s.host.Ticks()
	samples := make([]AccelSample, count)
	rec := payload[1:]
	for i := range samples {
		r := rec[i*serialRecordSize:]
		samples[i] = AccelSample{
			SensorTicks: binary.LittleEndian.Uint64(r[0:]),
			SocTicks:    host,
			Values: [3]float32{
				math.Float32frombits(binary.LittleEndian.Uint32(r[8:])),
				math.Float32frombits(binary.LittleEndian.Uint32(r[12:])),
				math.Float32frombits(binary.LittleEndian.Uint32(r[16:])),
			},
			Temperature: math.Float32frombits(binary.LittleEndian.Uint32(r[20:])),
		}
	}
	return &SampleBatch{
		Samples:     samples,
		HostTicks:   host,
		SensorTicks: samples[len(samples)-1].SensorTicks,
	}, nil
}

func (s *SerialSource) Close() error {
	s.closeOnce.Do(func() { s.closeErr = s.port.Close() })
	return s.closeErr
}
