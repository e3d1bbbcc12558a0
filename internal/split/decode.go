package split

import "encoding/binary"

// Decoders are pure: they map raw notification bytes (and, for positions,
// the previous snapshot) to values, with no queueing or logging. The thin
// notification adapters in central.go own the side effects.

// PositionBitmap is a 128-bit snapshot of pressed key positions. Bit j of
// byte i is position i*8+j.
type PositionBitmap [PositionStateLen]byte

// PositionDelta is one bit that changed between two snapshots.
type PositionDelta struct {
	Position int
	Pressed  bool
}

// DiffPositions returns exactly one delta per bit that differs between prev
// and next, tagged with next's bit value, in ascending position order.
// Identical snapshots produce no deltas.
func DiffPositions(prev, next PositionBitmap) []PositionDelta {
	var deltas []PositionDelta
	for i := 0; i < PositionStateLen; i++ {
		changed := prev[i] ^ next[i]
		if changed == 0 {
			continue
		}
		for j := 0; j < 8; j++ {
			if changed&(1<<j) == 0 {
				continue
			}
			deltas = append(deltas, PositionDelta{
				Position: i*8 + j,
				Pressed:  next[i]&(1<<j) != 0,
			})
		}
	}
	return deltas
}

// SetBits returns the positions currently pressed in the bitmap.
func (b PositionBitmap) SetBits() []int {
	var set []int
	for i := 0; i < PositionStateLen; i++ {
		for j := 0; j < 8; j++ {
			if b[i]&(1<<j) != 0 {
				set = append(set, i*8+j)
			}
		}
	}
	return set
}

// DecodePositionState validates a position notification payload. Undersized
// payloads are rejected; extra trailing bytes are ignored.
func DecodePositionState(data []byte) (PositionBitmap, bool) {
	var bm PositionBitmap
	if len(data) < PositionStateLen {
		return bm, false
	}
	copy(bm[:], data[:PositionStateLen])
	return bm, true
}

// SensorFrame is a decoded sensor notification.
type SensorFrame struct {
	SensorIndex uint8
	Channels    []SensorChannel
}

// DecodeSensorFrame parses a sensor notification. Payloads shorter than the
// fixed header are rejected; the channel count is truncated to
// MaxSensorChannels and to what the payload actually carries.
func DecodeSensorFrame(data []byte) (SensorFrame, bool) {
	if len(data) < sensorHeaderLen {
		return SensorFrame{}, false
	}

	count := int(data[1])
	if count > MaxSensorChannels {
		count = MaxSensorChannels
	}
	if avail := (len(data) - sensorHeaderLen) / sensorChannelLen; count > avail {
		count = avail
	}

	frame := SensorFrame{SensorIndex: data[0]}
	for i := 0; i < count; i++ {
		off := sensorHeaderLen + i*sensorChannelLen
		frame.Channels = append(frame.Channels, SensorChannel{
			Val1: int32(binary.LittleEndian.Uint32(data[off : off+4])),
			Val2: int32(binary.LittleEndian.Uint32(data[off+4 : off+8])),
		})
	}
	return frame, true
}

// DecodeBatteryLevel parses a battery level notification: a single
// percentage byte. Zero-length payloads are rejected.
func DecodeBatteryLevel(data []byte) (uint8, bool) {
	if len(data) == 0 {
		return 0, false
	}
	return data[0], true
}
