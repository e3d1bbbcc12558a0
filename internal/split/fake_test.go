package split

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/ryan-lake/zmk/internal/bus"
	"github.com/ryan-lake/zmk/internal/config"
	"github.com/ryan-lake/zmk/internal/identity"
	"github.com/ryan-lake/zmk/internal/transport"
)

// Value handles of the standard fake attribute table.
const (
	testPosHandle       = 11
	testBehaviorHandle  = 13
	testSensorHandle    = 15
	testLayoutHandle    = 17
	testIndicatorHandle = 19
	testLayersHandle    = 21
	testBatteryHandle   = 31
)

const testAddr = "C0:11:22:33:44:55"

// splitCharTable mimics a peripheral's split service layout: declarations in
// handle order, a battery characteristic later in the table and one unrelated
// characteristic at the very end.
func splitCharTable() []transport.Characteristic {
	return []transport.Characteristic{
		{UUID: PositionStateUUID, Handle: 10, ValueHandle: testPosHandle},
		{UUID: RunBehaviorUUID, Handle: 12, ValueHandle: testBehaviorHandle},
		{UUID: SensorStateUUID, Handle: 14, ValueHandle: testSensorHandle},
		{UUID: SelectPhysLayoutUUID, Handle: 16, ValueHandle: testLayoutHandle},
		{UUID: UpdateIndicatorsUUID, Handle: 18, ValueHandle: testIndicatorHandle},
		{UUID: UpdateLayersUUID, Handle: 20, ValueHandle: testLayersHandle},
		{UUID: BatteryLevelUUID, Handle: 30, ValueHandle: testBatteryHandle},
		{UUID: ble.UUID16(0x2a00), Handle: 35, ValueHandle: 36},
	}
}

type fakeAdv struct {
	addr        string
	connectable bool
	directed    bool
	services    []ble.UUID
}

func (a fakeAdv) Addr() string         { return a.addr }
func (a fakeAdv) Connectable() bool    { return a.connectable }
func (a fakeAdv) Directed() bool       { return a.directed }
func (a fakeAdv) Services() []ble.UUID { return a.services }
func (a fakeAdv) RSSI() int            { return -40 }

type fakeRadio struct {
	mu         sync.Mutex
	cb         transport.ConnCallbacks
	scanning   bool
	scans      int
	connects   []string
	connectErr error
}

func (r *fakeRadio) SetCallbacks(cb transport.ConnCallbacks) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cb = cb
}

func (r *fakeRadio) Scan(handler func(adv transport.Advertisement)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scanning = true
	r.scans++
	return nil
}

func (r *fakeRadio) StopScan() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scanning = false
	return nil
}

func (r *fakeRadio) Connect(addr string, params transport.ConnParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.connectErr != nil {
		return r.connectErr
	}
	r.connects = append(r.connects, addr)
	return nil
}

func (r *fakeRadio) isScanning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scanning
}

func (r *fakeRadio) connectAttempts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.connects...)
}

type gattWrite struct {
	handle uint16
	data   []byte
}

type fakeConn struct {
	addr  string
	role  transport.Role
	level transport.SecurityLevel

	svc    transport.HandleRange
	svcErr error
	chars  []transport.Characteristic

	mu      sync.Mutex
	subs    map[uint16]transport.NotifyFunc
	reads   map[uint16][]byte
	writes  []gattWrite
	visited []uint16
	params  []transport.ConnParams
}

func newFakeConn(addr string) *fakeConn {
	return &fakeConn{
		addr:  addr,
		level: transport.SecurityEncrypted,
		svc:   transport.HandleRange{Start: 1, End: 40},
		chars: splitCharTable(),
		subs:  make(map[uint16]transport.NotifyFunc),
		reads: map[uint16][]byte{testBatteryHandle: {87}},
	}
}

func (c *fakeConn) Addr() string         { return c.addr }
func (c *fakeConn) Role() transport.Role { return c.role }

func (c *fakeConn) SecurityLevel() transport.SecurityLevel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.level
}

func (c *fakeConn) setSecurityLevel(l transport.SecurityLevel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.level = l
}

func (c *fakeConn) DiscoverPrimary(ctx context.Context, uuid ble.UUID, rng transport.HandleRange) (transport.HandleRange, error) {
	if c.svcErr != nil {
		return transport.HandleRange{}, c.svcErr
	}
	return c.svc, nil
}

func (c *fakeConn) DiscoverCharacteristics(ctx context.Context, rng transport.HandleRange, fn transport.CharacteristicFunc) error {
	for i := range c.chars {
		attr := c.chars[i]
		if attr.Handle < rng.Start || attr.Handle > rng.End {
			continue
		}
		c.mu.Lock()
		c.visited = append(c.visited, attr.Handle)
		c.mu.Unlock()
		if !fn(&attr) {
			return nil
		}
	}
	return nil
}

func (c *fakeConn) Subscribe(valueHandle uint16, fn transport.NotifyFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[valueHandle] = fn
	return nil
}

func (c *fakeConn) Unsubscribe(valueHandle uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, valueHandle)
	return nil
}

func (c *fakeConn) Read(ctx context.Context, valueHandle uint16) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.reads[valueHandle]
	if !ok {
		return nil, transport.ErrNotFound
	}
	return data, nil
}

func (c *fakeConn) WriteWithoutResponse(valueHandle uint16, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, gattWrite{handle: valueHandle, data: append([]byte(nil), data...)})
	return nil
}

func (c *fakeConn) UpdateParams(p transport.ConnParams) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.params = append(c.params, p)
	return nil
}

func (c *fakeConn) Close() error { return nil }

// notify delivers a payload to the subscription on valueHandle, as the radio
// callback context would.
func (c *fakeConn) notify(t *testing.T, valueHandle uint16, data []byte) {
	t.Helper()
	c.mu.Lock()
	fn, ok := c.subs[valueHandle]
	c.mu.Unlock()
	require.True(t, ok, "no subscription on handle %d", valueHandle)
	fn(data)
}

func (c *fakeConn) subscribed(valueHandle uint16) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[valueHandle]
	return ok
}

func (c *fakeConn) writesTo(valueHandle uint16) []gattWrite {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []gattWrite
	for _, w := range c.writes {
		if w.handle == valueHandle {
			out = append(out, w)
		}
	}
	return out
}

func (c *fakeConn) paramCalls() []transport.ConnParams {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]transport.ConnParams(nil), c.params...)
}

func (c *fakeConn) visitedHandles() []uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint16(nil), c.visited...)
}

// recordBus captures published events for assertions.
type recordBus struct {
	mu     sync.Mutex
	events []bus.Event
}

func (b *recordBus) Publish(ev bus.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

func (b *recordBus) all() []bus.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]bus.Event(nil), b.events...)
}

func (b *recordBus) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// newTestCentral builds a central around fakes. The dispatch executors are
// not started; tests invoke the drain methods directly for determinism.
func newTestCentral(t *testing.T, mutate func(cfg *config.Config)) (*Central, *fakeRadio, *recordBus) {
	t.Helper()

	cfg := config.Default()
	cfg.Queues.EnqueueTimeout = 0
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	radio := &fakeRadio{}
	events := &recordBus{}
	ids := identity.NewMemStore(cfg.Peripherals.Count, cfg.Peripherals.Addresses)
	return NewCentral(cfg, radio, ids, events, quietLogger()), radio, events
}

// connectSlot walks a connection through reserve, attach and confirm.
func connectSlot(t *testing.T, c *Central, conn *fakeConn) int {
	t.Helper()
	idx, err := c.registry.Reserve(conn.addr)
	require.NoError(t, err)
	_, err = c.registry.Attach(conn)
	require.NoError(t, err)
	require.NoError(t, c.registry.Confirm(idx))
	return idx
}

// discoverSlot additionally runs discovery to completion, synchronously.
func discoverSlot(t *testing.T, c *Central, conn *fakeConn) int {
	t.Helper()
	idx := connectSlot(t, c, conn)
	c.runDiscovery(idx, conn)
	return idx
}
