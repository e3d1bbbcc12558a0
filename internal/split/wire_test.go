package split

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBehaviorInvocationEncode(t *testing.T) {
	inv := BehaviorInvocation{
		BehaviorDev: "kp",
		Param1:      0x01020304,
		Param2:      5,
		Position:    7,
		Source:      1,
		Pressed:     true,
	}

	payload, truncated := inv.Encode()
	require.False(t, truncated)
	require.Len(t, payload, behaviorPayloadLen)

	require.Equal(t, []byte{0x04, 0x03, 0x02, 0x01}, payload[0:4])
	require.Equal(t, []byte{0x05, 0x00, 0x00, 0x00}, payload[4:8])
	require.Equal(t, byte(7), payload[8])
	require.Equal(t, byte(1), payload[9])
	require.Equal(t, byte(1), payload[10])
	require.Equal(t, []byte{'k', 'p', 0, 0, 0, 0, 0, 0, 0}, payload[11:])
}

func TestBehaviorInvocationEncodeRelease(t *testing.T) {
	inv := BehaviorInvocation{BehaviorDev: "mo", Pressed: false}
	payload, truncated := inv.Encode()
	require.False(t, truncated)
	require.Equal(t, byte(0), payload[10])
}

func TestBehaviorInvocationEncodeTruncatesLongLabel(t *testing.T) {
	inv := BehaviorInvocation{BehaviorDev: "behavior_xyz"}
	payload, truncated := inv.Encode()
	require.True(t, truncated)

	// Eight label bytes survive, the ninth stays the terminator.
	require.Equal(t, []byte("behavior"), payload[11:19])
	require.Equal(t, byte(0), payload[19])
}

func TestBehaviorInvocationEncodeMaxFittingLabel(t *testing.T) {
	inv := BehaviorInvocation{BehaviorDev: "12345678"}
	payload, truncated := inv.Encode()
	require.False(t, truncated)
	require.Equal(t, []byte("12345678"), payload[11:19])
	require.Equal(t, byte(0), payload[19])
}

func TestEncodeLayers(t *testing.T) {
	require.Equal(t, []byte{0x05, 0x00, 0x00, 0x00}, encodeLayers(0b101))
	require.Equal(t, []byte{0xff, 0xff, 0xff, 0xff}, encodeLayers(0xffffffff))
}
