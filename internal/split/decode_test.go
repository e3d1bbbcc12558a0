package split

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func bitmapWith(positions ...int) PositionBitmap {
	var bm PositionBitmap
	for _, p := range positions {
		bm[p/8] |= 1 << (p % 8)
	}
	return bm
}

func TestDiffSingleBitPress(t *testing.T) {
	deltas := DiffPositions(PositionBitmap{}, bitmapWith(0))
	require.Equal(t, []PositionDelta{{Position: 0, Pressed: true}}, deltas)
}

func TestDiffSingleBitRelease(t *testing.T) {
	deltas := DiffPositions(bitmapWith(0), PositionBitmap{})
	require.Equal(t, []PositionDelta{{Position: 0, Pressed: false}}, deltas)
}

func TestDiffIdenticalSnapshots(t *testing.T) {
	require.Empty(t, DiffPositions(PositionBitmap{}, PositionBitmap{}))
	require.Empty(t, DiffPositions(bitmapWith(3, 42), bitmapWith(3, 42)))
}

func TestDiffMixedEdgesAscendingOrder(t *testing.T) {
	prev := bitmapWith(3, 9)
	next := bitmapWith(9, 64, 127)

	require.Equal(t, []PositionDelta{
		{Position: 3, Pressed: false},
		{Position: 64, Pressed: true},
		{Position: 127, Pressed: true},
	}, DiffPositions(prev, next))
}

func TestDiffBitOrderWithinByte(t *testing.T) {
	// Bit j of byte i is position i*8+j.
	var next PositionBitmap
	next[1] = 0x80
	require.Equal(t, []PositionDelta{{Position: 15, Pressed: true}}, DiffPositions(PositionBitmap{}, next))
}

func TestSetBits(t *testing.T) {
	require.Empty(t, PositionBitmap{}.SetBits())
	require.Equal(t, []int{0, 15, 120}, bitmapWith(15, 0, 120).SetBits())
}

func TestDecodePositionState(t *testing.T) {
	_, ok := DecodePositionState(make([]byte, PositionStateLen-1))
	require.False(t, ok)

	payload := make([]byte, PositionStateLen)
	payload[2] = 0x04
	bm, ok := DecodePositionState(payload)
	require.True(t, ok)
	require.Equal(t, []int{18}, bm.SetBits())

	// Trailing bytes beyond the fixed length are ignored.
	bm, ok = DecodePositionState(append(payload, 0xff, 0xff))
	require.True(t, ok)
	require.Equal(t, []int{18}, bm.SetBits())
}

func TestDecodeSensorFrame(t *testing.T) {
	// index=2, count=1, val1=120, val2=-7.
	payload := []byte{
		2, 1,
		0x78, 0x00, 0x00, 0x00,
		0xf9, 0xff, 0xff, 0xff,
	}
	frame, ok := DecodeSensorFrame(payload)
	require.True(t, ok)
	require.Equal(t, uint8(2), frame.SensorIndex)
	require.Equal(t, []SensorChannel{{Val1: 120, Val2: -7}}, frame.Channels)
}

func TestDecodeSensorFrameTruncatesChannelCount(t *testing.T) {
	// The frame claims 3 channels but only MaxSensorChannels are decoded.
	payload := []byte{0, 3}
	for i := 0; i < 3*sensorChannelLen; i++ {
		payload = append(payload, byte(i))
	}
	frame, ok := DecodeSensorFrame(payload)
	require.True(t, ok)
	require.Len(t, frame.Channels, MaxSensorChannels)
}

func TestDecodeSensorFrameClampsToPayload(t *testing.T) {
	// Claims a channel but carries only half of one.
	payload := []byte{0, 1, 0xaa, 0xbb, 0xcc}
	frame, ok := DecodeSensorFrame(payload)
	require.True(t, ok)
	require.Empty(t, frame.Channels)
}

func TestDecodeSensorFrameRejectsShortHeader(t *testing.T) {
	_, ok := DecodeSensorFrame(nil)
	require.False(t, ok)
	_, ok = DecodeSensorFrame([]byte{1})
	require.False(t, ok)
}

func TestDecodeBatteryLevel(t *testing.T) {
	_, ok := DecodeBatteryLevel(nil)
	require.False(t, ok)
	_, ok = DecodeBatteryLevel([]byte{})
	require.False(t, ok)

	level, ok := DecodeBatteryLevel([]byte{87})
	require.True(t, ok)
	require.Equal(t, uint8(87), level)

	// Extra bytes are ignored.
	level, ok = DecodeBatteryLevel([]byte{42, 0xff})
	require.True(t, ok)
	require.Equal(t, uint8(42), level)
}
