package channel

import "fmt"

// Mode is the behavior a client selects with its first byte.
type Mode uint8

const (
	ModeStream         Mode = 0 // sample frames, no pose
	ModeStreamWithPose Mode = 1 // sample frames with a 64-byte pose
	ModeCalibration    Mode = 2 // one extrinsics frame
	ModeReserved       Mode = 3 // no behavior; the session ends silently
)

// ParseMode keeps the low two bits of the selector. Higher bits never
// change behavior.
func ParseMode(b byte) Mode {
	return Mode(b & 3)
}

// Selector is the byte a client sends to request m.
func (m Mode) Selector() byte { return byte(m) }

func (m Mode) String() string {
	switch m {
	case ModeStream:
		return "stream"
	case ModeStreamWithPose:
		return "stream+pose"
	case ModeCalibration:
		return "calibration"
	case ModeReserved:
		return "reserved"
	}
	return fmt.Sprintf("mode(%d)", uint8(m))
}
