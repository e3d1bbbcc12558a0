package split

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ryan-lake/zmk/internal/transport"
)

// ErrQueueFull means an outbound command could not be queued even after
// discarding the oldest pending one.
var ErrQueueFull = errors.New("outbound command queue full")

type commandKind int

const (
	cmdBehavior commandKind = iota
	cmdIndicators
	cmdLayers
	cmdLayout
)

// command is one queued outbound write. Behavior invocations target a single
// slot; the other kinds broadcast to every eligible slot, reading the
// current value at drain time so the latest request wins.
type command struct {
	kind     commandKind
	source   int
	behavior BehaviorInvocation
}

// InvokeBehavior queues a behavior invocation for the peripheral in the
// source slot.
func (c *Central) InvokeBehavior(source int, inv BehaviorInvocation) error {
	return c.enqueueCommand(command{kind: cmdBehavior, source: source, behavior: inv})
}

// UpdateIndicators broadcasts the HID indicator bitmask to every connected,
// fully discovered peripheral.
func (c *Central) UpdateIndicators(indicators uint8) error {
	c.indicators.Store(uint32(indicators))
	return c.enqueueCommand(command{kind: cmdIndicators})
}

// UpdateLayers broadcasts the active layer bitmask. Each successful write
// publishes a LayerChanged event.
func (c *Central) UpdateLayers(layers uint32) error {
	c.layers.Store(layers)
	return c.enqueueCommand(command{kind: cmdLayers})
}

// SetPhysicalLayout records the selected physical layout and broadcasts it.
func (c *Central) SetPhysicalLayout(layout uint8) error {
	c.layout.Store(uint32(layout))
	return c.enqueueCommand(command{kind: cmdLayout})
}

// scheduleLayoutUpdate is reachable from the radio callback context
// (security changes), so it must not wait for queue space the way the
// application-facing enqueue may.
func (c *Central) scheduleLayoutUpdate() {
	if err := c.enqueue(command{kind: cmdLayout}, 0); err != nil {
		c.logger.WithField("error", err).Warn("Failed to queue layout update")
	}
}

// enqueueCommand queues an application-initiated command with a short
// timeout.
func (c *Central) enqueueCommand(cmd command) error {
	return c.enqueue(cmd, c.cfg.Queues.EnqueueTimeout)
}

// enqueue waits up to wait for queue space; a zero wait never blocks. On a
// full queue the oldest pending command is discarded and the enqueue retried
// exactly once; the retry is iterative, not recursive, so sustained overload
// cannot grow the stack.
func (c *Central) enqueue(cmd command, wait time.Duration) error {
	if !c.commandQ.TrySendTimeout(cmd, wait) {
		c.logger.Warn("Consumer command queue full, popping first message and queueing again")
		c.commandQ.TryReceive()
		if !c.commandQ.TrySend(cmd) {
			c.logger.Warn("Failed to queue outbound command")
			return ErrQueueFull
		}
	}

	c.outbound.Submit(c.commandTask)
	return nil
}

// drainCommands runs on the dedicated outbound worker and performs the
// actual GATT writes, serialized across all slots.
func (c *Central) drainCommands() {
	for {
		cmd, ok := c.commandQ.TryReceive()
		if !ok {
			return
		}
		switch cmd.kind {
		case cmdBehavior:
			c.writeBehavior(cmd)
		case cmdIndicators:
			c.broadcastIndicators()
		case cmdLayers:
			c.broadcastLayers()
		case cmdLayout:
			c.broadcastLayout()
		}
	}
}

func (c *Central) writeBehavior(cmd command) {
	if c.registry.State(cmd.source) != SlotConnected {
		c.logger.WithField("slot", cmd.source).Error("Source not connected")
		return
	}
	handle := c.registry.Handles(cmd.source).RunBehavior
	if handle == 0 {
		c.logger.WithField("slot", cmd.source).Error("Run behavior handle not found")
		return
	}

	payload, truncated := cmd.behavior.Encode()
	if truncated {
		c.logger.WithFields(logrus.Fields{
			"slot":     cmd.source,
			"behavior": cmd.behavior.BehaviorDev,
		}).Error("Truncated behavior label before invoking peripheral behavior")
	}

	conn := c.registry.Conn(cmd.source)
	if conn == nil {
		c.logger.WithField("slot", cmd.source).Error("Source has no connection")
		return
	}
	if err := conn.WriteWithoutResponse(handle, payload); err != nil {
		c.logger.WithFields(logrus.Fields{
			"slot":  cmd.source,
			"error": err,
		}).Error("Failed to write the behavior characteristic")
	}
}

// eligible returns the connection for a broadcast write, or nil when the
// slot must be skipped. Secure writes additionally require the link to meet
// the configured minimum security level; failing that is a try-again-later
// outcome, retried on the next security or layout change.
func (c *Central) eligible(index int, handle uint16, secure bool) transport.Conn {
	if c.registry.State(index) != SlotConnected {
		return nil
	}
	if handle == 0 {
		// The peripheral can be considered connected before its
		// characteristics are discovered; skip until the handle resolves.
		return nil
	}
	conn := c.registry.Conn(index)
	if conn == nil {
		return nil
	}
	if secure && conn.SecurityLevel() < transport.SecurityLevel(c.cfg.Conn.MinSecurity) {
		c.logger.WithField("slot", index).Debug("Insufficient security for gated write, will retry later")
		return nil
	}
	return conn
}

func (c *Central) broadcastIndicators() {
	indicators := uint8(c.indicators.Load())
	for i := 0; i < c.registry.Capacity(); i++ {
		conn := c.eligible(i, c.registry.Handles(i).Indicators, true)
		if conn == nil {
			continue
		}
		if err := conn.WriteWithoutResponse(c.registry.Handles(i).Indicators, []byte{indicators}); err != nil {
			c.logger.WithFields(logrus.Fields{
				"slot":  i,
				"error": err,
			}).Error("Failed to write HID indicator characteristic")
		}
	}
}

func (c *Central) broadcastLayers() {
	layers := c.layers.Load()
	for i := 0; i < c.registry.Capacity(); i++ {
		conn := c.eligible(i, c.registry.Handles(i).Layers, false)
		if conn == nil {
			continue
		}
		if err := conn.WriteWithoutResponse(c.registry.Handles(i).Layers, encodeLayers(layers)); err != nil {
			c.logger.WithFields(logrus.Fields{
				"slot":  i,
				"error": err,
			}).Error("Failed to send layers to peripheral")
			continue
		}
		c.logger.WithField("slot", i).Debug("Sent layers over to peripheral")
		c.events.Publish(LayerChanged{Layers: layers})
	}
}

func (c *Central) broadcastLayout() {
	layout := uint8(c.layout.Load())
	for i := 0; i < c.registry.Capacity(); i++ {
		conn := c.eligible(i, c.registry.Handles(i).Layout, true)
		if conn == nil {
			continue
		}
		if err := conn.WriteWithoutResponse(c.registry.Handles(i).Layout, []byte{layout}); err != nil {
			c.logger.WithFields(logrus.Fields{
				"slot":  i,
				"error": err,
			}).Error("Failed to write physical layout index to peripheral")
		}
	}
}
