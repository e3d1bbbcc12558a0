package split

import "time"

// PositionChanged reports one key position edge on a peripheral.
type PositionChanged struct {
	Source    int
	Position  int
	Pressed   bool
	Timestamp time.Time
}

func (PositionChanged) EventName() string { return "position_changed" }

func (e PositionChanged) Fields() map[string]interface{} {
	return map[string]interface{}{
		"source":   e.Source,
		"position": e.Position,
		"pressed":  e.Pressed,
	}
}

// SensorReading reports one decoded sensor frame from a peripheral.
type SensorReading struct {
	Source      int
	SensorIndex uint8
	Channels    []SensorChannel
	Timestamp   time.Time
}

func (SensorReading) EventName() string { return "sensor_reading" }

func (e SensorReading) Fields() map[string]interface{} {
	return map[string]interface{}{
		"source":       e.Source,
		"sensor_index": e.SensorIndex,
		"channels":     len(e.Channels),
	}
}

// BatteryChanged reports a peripheral's battery state of charge. A zero
// level is also synthesized on disconnect so a stale reading never lingers.
type BatteryChanged struct {
	Source int
	Level  uint8
}

func (BatteryChanged) EventName() string { return "peripheral_battery_changed" }

func (e BatteryChanged) Fields() map[string]interface{} {
	return map[string]interface{}{
		"source": e.Source,
		"level":  e.Level,
	}
}

// LayerChanged reports that the active layer bitmask was delivered to a
// peripheral.
type LayerChanged struct {
	Layers uint32
}

func (LayerChanged) EventName() string { return "peripheral_layer_changed" }

func (e LayerChanged) Fields() map[string]interface{} {
	return map[string]interface{}{
		"layers": e.Layers,
	}
}
