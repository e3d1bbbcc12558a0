package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/sirupsen/logrus"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests).
var DeviceFactory = func() (ble.Device, error) {
	return linux.NewDevice()
}

// DefaultDialTimeout bounds a single connection attempt.
const DefaultDialTimeout = 10 * time.Second

// BLERadio implements Radio on top of go-ble.
type BLERadio struct {
	logger *logrus.Logger

	// level is the security level reported for every link. go-ble does not
	// surface the negotiated level and pairing is handled outside this
	// service, so the level is configured rather than observed.
	level SecurityLevel

	mu         sync.Mutex
	dev        ble.Device
	cb         ConnCallbacks
	scanCancel context.CancelFunc
}

// NewBLERadio initializes the host radio.
func NewBLERadio(assumedLevel SecurityLevel, logger *logrus.Logger) (*BLERadio, error) {
	if logger == nil {
		logger = logrus.New()
	}
	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", err)
	}
	ble.SetDefaultDevice(dev)
	return &BLERadio{logger: logger, level: assumedLevel, dev: dev}, nil
}

func (r *BLERadio) SetCallbacks(cb ConnCallbacks) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cb = cb
}

func (r *BLERadio) Scan(handler func(adv Advertisement)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.scanCancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.scanCancel = cancel

	go func() {
		err := r.dev.Scan(ctx, false, func(a ble.Advertisement) {
			handler(&bleAdvertisement{adv: a})
		})
		if err != nil && ctx.Err() == nil {
			r.logger.WithField("error", err).Error("Passive scan terminated")
		}
	}()
	return nil
}

func (r *BLERadio) StopScan() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.scanCancel == nil {
		return nil
	}
	r.scanCancel()
	r.scanCancel = nil
	return nil
}

func (r *BLERadio) Connect(addr string, params ConnParams) error {
	r.mu.Lock()
	cb := r.cb
	r.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultDialTimeout)
		defer cancel()

		conn := &bleConn{addr: addr, level: r.level, logger: r.logger}
		cli, err := ble.Dial(ctx, ble.NewAddr(addr))
		if err != nil {
			if cb.Connected != nil {
				cb.Connected(conn, err)
			}
			return
		}
		conn.cli = cli

		go func() {
			<-cli.Disconnected()
			if cb.Disconnected != nil {
				cb.Disconnected(conn, fmt.Errorf("link terminated"))
			}
		}()

		if cb.Connected != nil {
			cb.Connected(conn, nil)
		}
		// Zephyr reports a security change once the link settles; mirror
		// that ordering so gated writes get their retry trigger.
		if cb.SecurityChanged != nil {
			cb.SecurityChanged(conn, r.level, nil)
		}
	}()
	return nil
}

// ----------------------------
// Advertisement
// ----------------------------

type bleAdvertisement struct {
	adv ble.Advertisement
}

func (a *bleAdvertisement) Addr() string         { return a.adv.Addr().String() }
func (a *bleAdvertisement) Connectable() bool    { return a.adv.Connectable() }
func (a *bleAdvertisement) Services() []ble.UUID { return a.adv.Services() }
func (a *bleAdvertisement) RSSI() int            { return a.adv.RSSI() }

// Directed advertisements are consumed by the controller before reaching the
// scan handler on go-ble hosts, so everything surfaced here is undirected.
func (a *bleAdvertisement) Directed() bool { return false }

// ----------------------------
// Connection
// ----------------------------

type bleConn struct {
	addr   string
	level  SecurityLevel
	logger *logrus.Logger
	cli    ble.Client

	mu      sync.Mutex
	service *ble.Service
	chars   map[uint16]*ble.Characteristic
}

func (c *bleConn) Addr() string                 { return c.addr }
func (c *bleConn) Role() Role                   { return RoleCentral }
func (c *bleConn) SecurityLevel() SecurityLevel { return c.level }

func (c *bleConn) DiscoverPrimary(ctx context.Context, uuid ble.UUID, rng HandleRange) (HandleRange, error) {
	if c.cli == nil {
		return HandleRange{}, ErrNotConnected
	}
	services, err := c.cli.DiscoverServices([]ble.UUID{uuid})
	if err != nil {
		return HandleRange{}, fmt.Errorf("failed to discover services: %w", err)
	}
	for _, svc := range services {
		if svc.Handle < rng.Start || svc.Handle > rng.End {
			continue
		}
		chars, err := c.cli.DiscoverCharacteristics(nil, svc)
		if err != nil {
			return HandleRange{}, fmt.Errorf("failed to discover characteristics: %w", err)
		}
		c.mu.Lock()
		c.service = svc
		c.chars = make(map[uint16]*ble.Characteristic, len(chars))
		for _, ch := range chars {
			c.chars[ch.ValueHandle] = ch
		}
		c.mu.Unlock()
		return HandleRange{Start: svc.Handle, End: svc.EndHandle}, nil
	}
	return HandleRange{}, ErrNotFound
}

func (c *bleConn) DiscoverCharacteristics(ctx context.Context, rng HandleRange, fn CharacteristicFunc) error {
	c.mu.Lock()
	svc := c.service
	c.mu.Unlock()
	if svc == nil {
		return fmt.Errorf("no service range discovered: %w", ErrNotFound)
	}
	for _, ch := range svc.Characteristics {
		if ch.Handle < rng.Start || ch.Handle > rng.End {
			continue
		}
		if !fn(&Characteristic{UUID: ch.UUID, Handle: ch.Handle, ValueHandle: ch.ValueHandle}) {
			return nil
		}
	}
	return nil
}

func (c *bleConn) lookup(valueHandle uint16) (*ble.Characteristic, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.chars[valueHandle]
	if !ok {
		return nil, fmt.Errorf("value handle 0x%04x: %w", valueHandle, ErrNotFound)
	}
	return ch, nil
}

func (c *bleConn) Subscribe(valueHandle uint16, fn NotifyFunc) error {
	ch, err := c.lookup(valueHandle)
	if err != nil {
		return err
	}
	return c.cli.Subscribe(ch, false, func(data []byte) {
		fn(data)
	})
}

func (c *bleConn) Unsubscribe(valueHandle uint16) error {
	ch, err := c.lookup(valueHandle)
	if err != nil {
		return err
	}
	return c.cli.Unsubscribe(ch, false)
}

func (c *bleConn) Read(ctx context.Context, valueHandle uint16) ([]byte, error) {
	ch, err := c.lookup(valueHandle)
	if err != nil {
		return nil, err
	}
	return c.cli.ReadCharacteristic(ch)
}

func (c *bleConn) WriteWithoutResponse(valueHandle uint16, data []byte) error {
	ch, err := c.lookup(valueHandle)
	if err != nil {
		return err
	}
	return c.cli.WriteCharacteristic(ch, data, true)
}

// UpdateParams is best-effort: go-ble does not expose connection parameter
// updates, so preferred parameters only take effect via controller defaults.
func (c *bleConn) UpdateParams(p ConnParams) error {
	c.logger.WithFields(logrus.Fields{
		"address":  c.addr,
		"interval": p.Interval,
		"latency":  p.Latency,
	}).Debug("Connection parameter update not supported by host stack, skipping")
	return nil
}

func (c *bleConn) Close() error {
	if c.cli == nil {
		return nil
	}
	return c.cli.CancelConnection()
}
