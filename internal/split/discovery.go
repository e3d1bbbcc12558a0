package split

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/ryan-lake/zmk/internal/transport"
)

// runDiscovery walks a freshly connected peripheral's attribute table in two
// phases: locate the split primary service, then iterate its characteristic
// declarations, capturing value handles and issuing subscriptions. Iteration
// aborts early once every mandatory (and enabled optional) handle is
// resolved. An incomplete walk leaves the slot connected but write-gated.
func (c *Central) runDiscovery(index int, conn transport.Conn) {
	ctx := context.Background()
	log := c.logger.WithFields(logrus.Fields{
		"slot":    index,
		"address": conn.Addr(),
	})

	rng, err := conn.DiscoverPrimary(ctx, ServiceUUID, transport.FullRange)
	if err != nil {
		if errors.Is(err, transport.ErrNotFound) {
			log.Warn("Split service not found on peripheral")
		} else {
			log.WithField("error", err).Error("Service discovery failed")
		}
		return
	}
	log.WithFields(logrus.Fields{
		"start": rng.Start,
		"end":   rng.End,
	}).Debug("Found split service")

	start := rng.Start
	for {
		var narrowTo uint16
		complete := false

		err := conn.DiscoverCharacteristics(ctx, transport.HandleRange{Start: start, End: rng.End}, func(attr *transport.Characteristic) bool {
			narrow := c.matchCharacteristic(index, conn, attr, log)
			complete = c.discoveryComplete(index)
			if complete {
				return false
			}
			if narrow {
				narrowTo = attr.Handle + 2
				return false
			}
			return true
		})
		if err != nil {
			log.WithField("error", err).Error("Characteristic discovery failed")
			return
		}

		if complete || narrowTo == 0 || narrowTo > rng.End {
			break
		}
		start = narrowTo
	}

	if c.discoveryComplete(index) {
		log.Debug("Discovery complete")
	} else {
		log.Warn("Discovery finished with unresolved handles, peripheral stays write-gated")
	}
}

// matchCharacteristic compares one discovered declaration against the known
// split characteristics, resolving handles and wiring notifications. The
// return value asks the caller to narrow the remaining range past this
// attribute.
func (c *Central) matchCharacteristic(index int, conn transport.Conn, attr *transport.Characteristic, log *logrus.Entry) bool {
	switch {
	case attr.UUID.Equal(PositionStateUUID):
		log.Debug("Found position state characteristic")
		c.registry.updateHandles(index, func(h *HandleSet) { h.Position = attr.ValueHandle })
		c.subscribe(conn, attr.ValueHandle, c.onPositionNotify(index), log)

	case c.cfg.Features.Sensors && attr.UUID.Equal(SensorStateUUID):
		log.Debug("Found sensor state characteristic")
		c.registry.updateHandles(index, func(h *HandleSet) { h.Sensor = attr.ValueHandle })
		c.subscribe(conn, attr.ValueHandle, c.onSensorNotify(index), log)
		return true

	case attr.UUID.Equal(RunBehaviorUUID):
		log.Debug("Found run behavior handle")
		c.registry.updateHandles(index, func(h *HandleSet) { h.RunBehavior = attr.ValueHandle })
		return true

	case attr.UUID.Equal(SelectPhysLayoutUUID):
		log.Debug("Found select physical layout handle")
		c.registry.updateHandles(index, func(h *HandleSet) { h.Layout = attr.ValueHandle })
		// The central may have selected a layout before this peripheral
		// finished discovery; push the current selection now.
		c.scheduleLayoutUpdate()

	case c.cfg.Features.Indicators && attr.UUID.Equal(UpdateIndicatorsUUID):
		log.Debug("Found update HID indicators handle")
		c.registry.updateHandles(index, func(h *HandleSet) { h.Indicators = attr.ValueHandle })

	case attr.UUID.Equal(UpdateLayersUUID):
		log.Debug("Found update layers handle")
		c.registry.updateHandles(index, func(h *HandleSet) { h.Layers = attr.ValueHandle })

	case c.cfg.Features.Battery && attr.UUID.Equal(BatteryLevelUUID):
		log.Debug("Found battery level characteristic")
		c.registry.updateHandles(index, func(h *HandleSet) { h.Battery = attr.ValueHandle })
		c.subscribe(conn, attr.ValueHandle, c.onBatteryNotify(index), log)
		// Some peripherals notify only on change and never push an initial
		// value; read one immediately.
		c.readBatteryLevel(index, conn, attr.ValueHandle, log)
	}

	return false
}

func (c *Central) subscribe(conn transport.Conn, valueHandle uint16, fn transport.NotifyFunc, log *logrus.Entry) {
	if err := conn.Subscribe(valueHandle, fn); err != nil {
		log.WithFields(logrus.Fields{
			"handle": valueHandle,
			"error":  err,
		}).Error("Subscribe failed")
		return
	}
	log.WithField("handle", valueHandle).Debug("Subscribed")
}

func (c *Central) readBatteryLevel(index int, conn transport.Conn, valueHandle uint16, log *logrus.Entry) {
	data, err := conn.Read(context.Background(), valueHandle)
	if err != nil {
		log.WithField("error", err).Error("Error during reading peripheral battery level")
		return
	}
	level, ok := DecodeBatteryLevel(data)
	if !ok {
		log.Error("Zero length battery read received")
		return
	}
	c.enqueueBattery(BatteryChanged{Source: index, Level: level})
}

// discoveryComplete is the conjunction of all mandatory handles plus every
// enabled optional capability being resolved.
func (c *Central) discoveryComplete(index int) bool {
	h := c.registry.Handles(index)

	complete := h.Position != 0 && h.RunBehavior != 0 && h.Layout != 0 && h.Layers != 0
	if c.cfg.Features.Sensors {
		complete = complete && h.Sensor != 0
	}
	if c.cfg.Features.Indicators {
		complete = complete && h.Indicators != 0
	}
	if c.cfg.Features.Battery {
		complete = complete && h.Battery != 0
	}
	return complete
}
