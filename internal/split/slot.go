package split

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ryan-lake/zmk/internal/identity"
	"github.com/ryan-lake/zmk/internal/transport"
)

// SlotState is the lifecycle state of one peripheral slot.
type SlotState int

const (
	SlotOpen SlotState = iota
	SlotConnecting
	SlotConnected
)

func (s SlotState) String() string {
	switch s {
	case SlotOpen:
		return "open"
	case SlotConnecting:
		return "connecting"
	case SlotConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Registry errors.
var (
	// ErrNoCapacity means no slot could be reserved for an identity.
	ErrNoCapacity = errors.New("no peripheral slot available")
	// ErrNotReserved means a release targeted a slot that is already open.
	ErrNotReserved = errors.New("slot not reserved")
	// ErrNotFound means no slot matches the given connection or index.
	ErrNotFound = errors.New("no matching slot")
	// ErrNotConnected means the targeted slot has no established link.
	ErrNotConnected = errors.New("peripheral not connected")
)

// HandleSet holds the characteristic value handles resolved during
// discovery. Zero means unresolved.
type HandleSet struct {
	Position    uint16
	RunBehavior uint16
	Sensor      uint16
	Layout      uint16
	Indicators  uint16
	Layers      uint16
	Battery     uint16
}

func (h *HandleSet) clear() {
	*h = HandleSet{}
}

type slot struct {
	state    SlotState
	addr     string
	conn     transport.Conn
	handles  HandleSet
	position PositionBitmap
	changed  PositionBitmap
	battery  uint8
}

// Registry owns the fixed-capacity peripheral slot table. All mutation goes
// through its methods; callers never see raw slots.
type Registry struct {
	ids    identity.Store
	logger *logrus.Logger

	// onRelease receives the synthetic negative edges for bits still set
	// when a slot is released, before the bitmap is zeroed.
	onRelease func(index int, released []PositionDelta)

	mu    sync.Mutex
	slots []slot
}

// NewRegistry creates a registry with capacity slots, all Open.
func NewRegistry(capacity int, ids identity.Store, onRelease func(int, []PositionDelta), logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	if onRelease == nil {
		onRelease = func(int, []PositionDelta) {}
	}
	return &Registry{
		ids:       ids,
		logger:    logger,
		onRelease: onRelease,
		slots:     make([]slot, capacity),
	}
}

// Capacity returns the size of the slot table.
func (r *Registry) Capacity() int {
	return len(r.slots)
}

// Reserve binds addr to its stable slot index and marks the slot Connecting.
// If the bound slot is not Open it is force-released first, so a release
// skipped on an earlier error path cannot leave stale state behind.
func (r *Registry) Reserve(addr string) (int, error) {
	idx, err := r.ids.Bind(addr)
	if err != nil {
		return -1, fmt.Errorf("%w: %v", ErrNoCapacity, err)
	}
	if idx < 0 || idx >= len(r.slots) {
		return -1, fmt.Errorf("%w: identity store returned index %d", ErrNoCapacity, idx)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.slots[idx].state != SlotOpen {
		r.logger.WithFields(logrus.Fields{
			"slot":  idx,
			"state": r.slots[idx].state,
		}).Warn("Reserving a non-open slot, forcing release first")
		r.releaseLocked(idx)
	}
	r.slots[idx].addr = addr
	r.slots[idx].state = SlotConnecting
	return idx, nil
}

// Attach records the established connection on the slot bound to its peer
// address.
func (r *Registry) Attach(conn transport.Conn) (int, error) {
	idx, ok := r.ids.Lookup(conn.Addr())
	if !ok || idx >= len(r.slots) {
		return -1, fmt.Errorf("%w for address %s", ErrNotFound, conn.Addr())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots[idx].conn = conn
	return idx, nil
}

// Confirm transitions a slot to Connected once the transport reports link
// establishment.
func (r *Registry) Confirm(index int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if index < 0 || index >= len(r.slots) {
		return ErrNotFound
	}
	r.slots[index].state = SlotConnected
	return nil
}

// FindByConn locates the slot holding the given connection.
func (r *Registry) FindByConn(conn transport.Conn) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.slots {
		if r.slots[i].conn == conn {
			return i, true
		}
	}
	return -1, false
}

// FindByAddr locates the slot bound to the given peer address.
func (r *Registry) FindByAddr(addr string) (int, bool) {
	idx, ok := r.ids.Lookup(addr)
	if !ok || idx >= len(r.slots) {
		return -1, false
	}
	return idx, true
}

// Release reverts a slot to Open. Any position bits still set raise
// synthetic release deltas through the onRelease hook before state is
// zeroed; discovered handles are cleared. Releasing an Open slot returns
// ErrNotReserved.
func (r *Registry) Release(index int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if index < 0 || index >= len(r.slots) {
		return ErrNotFound
	}
	if r.slots[index].state == SlotOpen {
		return ErrNotReserved
	}
	r.logger.WithField("slot", index).Debug("Releasing peripheral slot")
	r.releaseLocked(index)
	return nil
}

func (r *Registry) releaseLocked(index int) {
	s := &r.slots[index]

	s.conn = nil
	s.state = SlotOpen

	var released []PositionDelta
	for _, pos := range s.position.SetBits() {
		released = append(released, PositionDelta{Position: pos, Pressed: false})
	}

	s.position = PositionBitmap{}
	s.changed = PositionBitmap{}
	s.battery = 0
	s.handles.clear()

	if len(released) > 0 {
		r.onRelease(index, released)
	}
}

// State returns the slot's lifecycle state.
func (r *Registry) State(index int) SlotState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if index < 0 || index >= len(r.slots) {
		return SlotOpen
	}
	return r.slots[index].state
}

// Conn returns the slot's connection, or nil when Open.
func (r *Registry) Conn(index int) transport.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	if index < 0 || index >= len(r.slots) {
		return nil
	}
	return r.slots[index].conn
}

// Handles returns a copy of the slot's resolved handle set.
func (r *Registry) Handles(index int) HandleSet {
	r.mu.Lock()
	defer r.mu.Unlock()
	if index < 0 || index >= len(r.slots) {
		return HandleSet{}
	}
	return r.slots[index].handles
}

// BatteryLevel returns the last known battery percentage for a connected
// slot.
func (r *Registry) BatteryLevel(index int) (uint8, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if index < 0 || index >= len(r.slots) {
		return 0, ErrNotFound
	}
	if r.slots[index].state != SlotConnected {
		return 0, ErrNotConnected
	}
	return r.slots[index].battery, nil
}

// AllConnected reports whether every slot holds a connection (established or
// in progress); when true, scanning is unnecessary.
func (r *Registry) AllConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.slots {
		if r.slots[i].conn == nil && r.slots[i].state == SlotOpen {
			return false
		}
	}
	return true
}

// updateHandles lets discovery record resolved handles for a slot.
func (r *Registry) updateHandles(index int, fn func(h *HandleSet)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if index < 0 || index >= len(r.slots) {
		return
	}
	fn(&r.slots[index].handles)
}

// applyPositionUpdate diffs the incoming snapshot against the slot's
// previous one, stores the new snapshot and the changed mask, and returns
// the per-bit deltas.
func (r *Registry) applyPositionUpdate(index int, next PositionBitmap) []PositionDelta {
	r.mu.Lock()
	defer r.mu.Unlock()
	if index < 0 || index >= len(r.slots) {
		return nil
	}
	s := &r.slots[index]

	deltas := DiffPositions(s.position, next)
	for i := 0; i < PositionStateLen; i++ {
		s.changed[i] = s.position[i] ^ next[i]
	}
	s.position = next
	return deltas
}

// setBatteryLevel stores the last known battery percentage.
func (r *Registry) setBatteryLevel(index int, level uint8) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if index < 0 || index >= len(r.slots) {
		return
	}
	r.slots[index].battery = level
}
