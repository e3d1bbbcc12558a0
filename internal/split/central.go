package split

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/ryan-lake/zmk/internal/bus"
	"github.com/ryan-lake/zmk/internal/config"
	"github.com/ryan-lake/zmk/internal/dispatch"
	"github.com/ryan-lake/zmk/internal/identity"
	"github.com/ryan-lake/zmk/internal/transport"
)

// ActivityState drives connection parameter tuning across all peripheral
// links.
type ActivityState int

const (
	ActivityActive ActivityState = iota
	ActivityIdle
	ActivitySleep
)

// Central discovers, connects to and synchronizes state with the split
// peripherals. One instance serves the whole process.
type Central struct {
	cfg      *config.Config
	logger   *logrus.Logger
	radio    transport.Radio
	registry *Registry
	events   bus.Bus

	// Shared deferred-work executor: inbound event queue drains run here,
	// one at a time, outside the radio callback context.
	exec *dispatch.Executor
	// Dedicated executor serializing every outbound GATT write.
	outbound *dispatch.Executor

	positionQ    *dispatch.RingChannel[PositionChanged]
	sensorQ      *dispatch.RingChannel[SensorReading]
	batteryQ     *dispatch.RingChannel[BatteryChanged]
	positionTask *dispatch.Task
	sensorTask   *dispatch.Task
	batteryTask  *dispatch.Task

	commandQ    *dispatch.RingChannel[command]
	commandTask *dispatch.Task

	// Last requested broadcast values, written by the application and read
	// by the outbound worker.
	indicators atomic.Uint32
	layers     atomic.Uint32
	layout     atomic.Uint32

	scanMu     sync.Mutex
	isScanning bool
}

// NewCentral wires a central from its collaborators. Call Run to start it.
func NewCentral(cfg *config.Config, radio transport.Radio, ids identity.Store, events bus.Bus, logger *logrus.Logger) *Central {
	if logger == nil {
		logger = logrus.New()
	}

	c := &Central{
		cfg:      cfg,
		logger:   logger,
		radio:    radio,
		events:   events,
		exec:     dispatch.NewExecutor(8, logger),
		outbound: dispatch.NewExecutor(2, logger),

		positionQ: dispatch.NewRingChannel[PositionChanged](cfg.Queues.Position),
		sensorQ:   dispatch.NewRingChannel[SensorReading](cfg.Queues.Sensor),
		batteryQ:  dispatch.NewRingChannel[BatteryChanged](cfg.Queues.Battery),
		commandQ:  dispatch.NewRingChannel[command](cfg.Queues.Command),
	}

	c.registry = NewRegistry(cfg.Peripherals.Count, ids, c.enqueueReleasedPositions, logger)

	c.positionTask = dispatch.NewTask("position-drain", c.drainPositions)
	c.sensorTask = dispatch.NewTask("sensor-drain", c.drainSensors)
	c.batteryTask = dispatch.NewTask("battery-drain", c.drainBattery)
	c.commandTask = dispatch.NewTask("command-drain", c.drainCommands)

	return c
}

// Registry exposes slot state queries (battery level, states) to the
// application layer.
func (c *Central) Registry() *Registry {
	return c.registry
}

// Run registers connection callbacks, starts the dispatch workers and the
// initial scan, then blocks until ctx is cancelled.
func (c *Central) Run(ctx context.Context) error {
	c.radio.SetCallbacks(transport.ConnCallbacks{
		Connected:       c.onConnected,
		Disconnected:    c.onDisconnected,
		SecurityChanged: c.onSecurityChanged,
	})

	c.exec.Start()
	c.outbound.Start()
	defer c.exec.Stop()
	defer c.outbound.Stop()

	if err := c.StartScanning(); err != nil {
		return err
	}

	<-ctx.Done()
	c.stopScanning()
	return ctx.Err()
}

// ----------------------------
// Scanning
// ----------------------------

// StartScanning begins passive scanning. It is idempotent: a no-op while
// already scanning, and skipped entirely when every slot holds a connection.
func (c *Central) StartScanning() error {
	c.scanMu.Lock()
	defer c.scanMu.Unlock()

	if c.isScanning {
		c.logger.Debug("Scanning already running")
		return nil
	}
	if c.registry.AllConnected() {
		c.logger.Debug("All peripherals are connected, scanning is unnecessary")
		return nil
	}

	if err := c.radio.Scan(c.onAdvertisement); err != nil {
		c.logger.WithField("error", err).Error("Scanning failed to start")
		return err
	}
	c.isScanning = true
	c.logger.Debug("Scanning started")
	return nil
}

func (c *Central) stopScanning() {
	c.scanMu.Lock()
	defer c.scanMu.Unlock()
	if !c.isScanning {
		return
	}
	c.isScanning = false
	if err := c.radio.StopScan(); err != nil {
		c.logger.WithField("error", err).Error("Stopping scan failed")
	}
}

// IsScanning reports whether a passive scan is active.
func (c *Central) IsScanning() bool {
	c.scanMu.Lock()
	defer c.scanMu.Unlock()
	return c.isScanning
}

// onAdvertisement runs in the radio callback context.
func (c *Central) onAdvertisement(adv transport.Advertisement) {
	if !adv.Connectable() {
		return
	}

	// Directed advertisements carry no service list; the peer identity is
	// trusted on its own. Everything else must advertise the split service.
	if !adv.Directed() && !advertisesService(adv, ServiceUUID) {
		return
	}

	c.connectTo(adv.Addr())
}

func advertisesService(adv transport.Advertisement, uuid ble.UUID) bool {
	for _, u := range adv.Services() {
		if u.Equal(uuid) {
			return true
		}
	}
	return false
}

func (c *Central) connectTo(addr string) {
	idx, err := c.registry.Reserve(addr)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"address": addr,
			"error":   err,
		}).Info("Unable to reserve peripheral slot")
		return
	}

	// Stop scanning so the controller is free to connect.
	c.stopScanning()

	c.logger.WithFields(logrus.Fields{
		"address": addr,
		"slot":    idx,
	}).Debug("Initiating new connection")

	params := transport.ConnParams{
		Interval: c.cfg.Conn.Interval,
		Latency:  c.cfg.Conn.Latency,
		Timeout:  c.cfg.Conn.Timeout,
	}
	if err := c.radio.Connect(addr, params); err != nil {
		c.logger.WithFields(logrus.Fields{
			"address": addr,
			"error":   err,
		}).Error("Connection attempt failed to start")
		c.releaseSlot(idx)
		if err := c.StartScanning(); err != nil {
			c.logger.WithField("error", err).Error("Failed to resume scanning")
		}
	}
}

// ----------------------------
// Connection lifecycle
// ----------------------------

func (c *Central) onConnected(conn transport.Conn, connErr error) {
	if conn.Role() != transport.RoleCentral {
		c.logger.WithField("role", conn.Role()).Debug("Ignoring non-central connection")
		return
	}

	if connErr != nil {
		c.logger.WithFields(logrus.Fields{
			"address": conn.Addr(),
			"error":   connErr,
		}).Error("Failed to connect")
		if idx, ok := c.registry.FindByAddr(conn.Addr()); ok {
			c.releaseSlot(idx)
		}
		if err := c.StartScanning(); err != nil {
			c.logger.WithField("error", err).Error("Failed to resume scanning")
		}
		return
	}

	idx, err := c.registry.Attach(conn)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"address": conn.Addr(),
			"error":   err,
		}).Error("No peripheral slot for established connection")
		return
	}

	c.logger.WithFields(logrus.Fields{
		"address": conn.Addr(),
		"slot":    idx,
	}).Debug("Connected")

	if err := c.registry.Confirm(idx); err != nil {
		c.logger.WithField("error", err).Error("Failed to confirm slot")
		return
	}

	c.processConnection(idx, conn)
}

// processConnection triggers discovery when the slot's position handle is
// still unresolved, then resumes scanning for the remaining slots. A
// discovery that stalls indefinitely leaves the slot connected but
// write-gated; the recovery path is a disconnect/reconnect cycle.
func (c *Central) processConnection(index int, conn transport.Conn) {
	if c.registry.Handles(index).Position == 0 {
		go c.runDiscovery(index, conn)
	}

	if err := conn.UpdateParams(transport.ConnParams{
		Interval: c.cfg.Conn.Interval,
		Latency:  c.cfg.Conn.Latency,
		Timeout:  c.cfg.Conn.Timeout,
	}); err != nil {
		c.logger.WithField("error", err).Debug("Failed to push connection parameters")
	}

	if err := c.StartScanning(); err != nil {
		c.logger.WithField("error", err).Error("Failed to resume scanning")
	}
}

func (c *Central) onDisconnected(conn transport.Conn, reason error) {
	idx, ok := c.registry.FindByConn(conn)
	if !ok {
		c.logger.WithField("address", conn.Addr()).Error("Disconnect for unknown connection")
		return
	}

	c.logger.WithFields(logrus.Fields{
		"address": conn.Addr(),
		"slot":    idx,
		"reason":  reason,
	}).Debug("Disconnected")

	// The peripheral's battery is unknown now; push a zero reading so the
	// last value does not linger.
	if c.cfg.Features.Battery {
		c.enqueueBattery(BatteryChanged{Source: idx, Level: 0})
	}

	if err := c.registry.Release(idx); err != nil {
		// Already open: a concurrent path released it and resumed scanning.
		return
	}

	if err := c.StartScanning(); err != nil {
		c.logger.WithField("error", err).Error("Failed to resume scanning")
	}
}

func (c *Central) onSecurityChanged(conn transport.Conn, level transport.SecurityLevel, secErr error) {
	idx, ok := c.registry.FindByConn(conn)
	if !ok {
		return
	}
	if c.registry.Handles(idx).Layout == 0 {
		return
	}
	if secErr != nil {
		c.logger.WithField("slot", idx).Debug("Skipping layout update for peripheral with security error")
		return
	}
	if level < transport.SecurityLevel(c.cfg.Conn.MinSecurity) {
		c.logger.WithField("slot", idx).Debug("Skipping layout update for peripheral with insufficient security")
		return
	}
	c.scheduleLayoutUpdate()
}

func (c *Central) releaseSlot(index int) {
	if err := c.registry.Release(index); err != nil {
		c.logger.WithFields(logrus.Fields{
			"slot":  index,
			"error": err,
		}).Debug("Slot release skipped")
	}
}

// ----------------------------
// Inbound event dispatch
// ----------------------------

// enqueueReleasedPositions feeds the synthetic negative edges raised by a
// slot release into the position queue. Runs under the registry lock; only
// queue pushes and a worker submit happen here.
func (c *Central) enqueueReleasedPositions(index int, released []PositionDelta) {
	now := time.Now()
	for _, d := range released {
		if !c.positionQ.TrySend(PositionChanged{
			Source:    index,
			Position:  d.Position,
			Pressed:   false,
			Timestamp: now,
		}) {
			c.logger.WithField("slot", index).Warn("Position queue full, dropping release event")
		}
	}
	c.exec.Submit(c.positionTask)
}

// onPositionNotify handles position-state notifications for one slot. Runs
// in the radio callback context: no blocking, only queue pushes.
func (c *Central) onPositionNotify(index int) transport.NotifyFunc {
	return func(data []byte) {
		if data == nil {
			c.logger.WithField("slot", index).Debug("Position subscription torn down")
			c.registry.updateHandles(index, func(h *HandleSet) { h.Position = 0 })
			return
		}

		bm, ok := DecodePositionState(data)
		if !ok {
			c.logger.WithFields(logrus.Fields{
				"slot":   index,
				"length": len(data),
			}).Warn("Ignoring malformed position notification")
			return
		}

		now := time.Now()
		for _, d := range c.registry.applyPositionUpdate(index, bm) {
			if !c.positionQ.TrySend(PositionChanged{
				Source:    index,
				Position:  d.Position,
				Pressed:   d.Pressed,
				Timestamp: now,
			}) {
				c.logger.WithField("slot", index).Warn("Position queue full, dropping event")
			}
		}
		c.exec.Submit(c.positionTask)
	}
}

func (c *Central) onSensorNotify(index int) transport.NotifyFunc {
	return func(data []byte) {
		if data == nil {
			c.logger.WithField("slot", index).Debug("Sensor subscription torn down")
			c.registry.updateHandles(index, func(h *HandleSet) { h.Sensor = 0 })
			return
		}

		frame, ok := DecodeSensorFrame(data)
		if !ok {
			c.logger.WithFields(logrus.Fields{
				"slot":   index,
				"length": len(data),
			}).Warn("Ignoring sensor notification with insufficient data length")
			return
		}

		if !c.sensorQ.TrySend(SensorReading{
			Source:      index,
			SensorIndex: frame.SensorIndex,
			Channels:    frame.Channels,
			Timestamp:   time.Now(),
		}) {
			c.logger.WithField("slot", index).Warn("Sensor queue full, dropping reading")
		}
		c.exec.Submit(c.sensorTask)
	}
}

func (c *Central) onBatteryNotify(index int) transport.NotifyFunc {
	return func(data []byte) {
		if data == nil {
			c.logger.WithField("slot", index).Debug("Battery subscription torn down")
			c.registry.updateHandles(index, func(h *HandleSet) { h.Battery = 0 })
			return
		}

		level, ok := DecodeBatteryLevel(data)
		if !ok {
			c.logger.WithField("slot", index).Error("Zero length battery notification received")
			return
		}
		c.enqueueBattery(BatteryChanged{Source: index, Level: level})
	}
}

func (c *Central) enqueueBattery(ev BatteryChanged) {
	if !c.batteryQ.TrySend(ev) {
		c.logger.WithField("slot", ev.Source).Warn("Battery queue full, dropping event")
	}
	c.exec.Submit(c.batteryTask)
}

func (c *Central) drainPositions() {
	for {
		ev, ok := c.positionQ.TryReceive()
		if !ok {
			return
		}
		c.logger.WithFields(logrus.Fields{
			"slot":     ev.Source,
			"position": ev.Position,
			"pressed":  ev.Pressed,
		}).Debug("Trigger key position state change")
		c.events.Publish(ev)
	}
}

func (c *Central) drainSensors() {
	for {
		ev, ok := c.sensorQ.TryReceive()
		if !ok {
			return
		}
		c.logger.WithFields(logrus.Fields{
			"slot":         ev.Source,
			"sensor_index": ev.SensorIndex,
		}).Debug("Trigger sensor change")
		c.events.Publish(ev)
	}
}

func (c *Central) drainBattery() {
	for {
		ev, ok := c.batteryQ.TryReceive()
		if !ok {
			return
		}
		c.logger.WithFields(logrus.Fields{
			"slot":  ev.Source,
			"level": ev.Level,
		}).Debug("Triggering peripheral battery level change")
		c.registry.setBatteryLevel(ev.Source, ev.Level)
		c.events.Publish(ev)
	}
}

// ----------------------------
// Activity-based connection tuning
// ----------------------------

// SetActivityState pushes preferred or idle connection parameters to every
// established link. Sleep is a no-op.
func (c *Central) SetActivityState(state ActivityState) {
	var params transport.ConnParams
	switch state {
	case ActivityActive:
		c.logger.Debug("Waking up from idle connection parameters on peripherals")
		params = transport.ConnParams{
			Interval: c.cfg.Conn.Interval,
			Latency:  c.cfg.Conn.Latency,
			Timeout:  c.cfg.Conn.Timeout,
		}
	case ActivityIdle:
		c.logger.Debug("Setting idle connection parameters on peripherals")
		params = transport.ConnParams{
			Interval: c.cfg.Conn.IdleInterval,
			Latency:  c.cfg.Conn.IdleLatency,
			Timeout:  c.cfg.Conn.IdleTimeout,
		}
	default:
		return
	}

	for i := 0; i < c.registry.Capacity(); i++ {
		conn := c.registry.Conn(i)
		if conn == nil || conn.Role() != transport.RoleCentral {
			continue
		}
		if err := conn.UpdateParams(params); err != nil {
			c.logger.WithFields(logrus.Fields{
				"slot":  i,
				"error": err,
			}).Debug("Failed to update split connection parameters")
		}
	}
}
