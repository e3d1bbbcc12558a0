// Package transport defines the radio-facing boundary of the central: passive
// scanning, connection management and the GATT primitives the split protocol
// needs. The split package consumes these interfaces only; the go-ble backed
// implementation lives in ble.go and tests substitute fakes.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-ble/ble"
)

// SecurityLevel mirrors the link security ladder: 1 is an open link, 2 adds
// encryption, 3 authenticated pairing, 4 LE Secure Connections.
type SecurityLevel int

const (
	SecurityOpen          SecurityLevel = 1
	SecurityEncrypted     SecurityLevel = 2
	SecurityAuthenticated SecurityLevel = 3
	SecuritySecure        SecurityLevel = 4
)

// Role identifies which side of the link this device is on.
type Role int

const (
	RoleCentral Role = iota
	RolePeripheral
)

// HandleRange is an inclusive GATT attribute handle range.
type HandleRange struct {
	Start uint16
	End   uint16
}

// FullRange covers the entire attribute table.
var FullRange = HandleRange{Start: 0x0001, End: 0xffff}

// ConnParams are the preferred link parameters pushed to a connection.
type ConnParams struct {
	Interval time.Duration
	Latency  int
	Timeout  time.Duration
}

// Advertisement is the subset of a received advertisement the central needs.
type Advertisement interface {
	Addr() string
	Connectable() bool
	// Directed reports a directed advertisement, which carries no service
	// list and is matched on identity alone.
	Directed() bool
	Services() []ble.UUID
	RSSI() int
}

// Characteristic is one discovered characteristic declaration.
type Characteristic struct {
	UUID        ble.UUID
	Handle      uint16
	ValueHandle uint16
}

// CharacteristicFunc receives discovered declarations in handle order.
// Returning false aborts the iteration.
type CharacteristicFunc func(c *Characteristic) bool

// NotifyFunc receives notification payloads for a subscribed characteristic.
// A nil payload is the subscription teardown signal; a non-nil empty payload
// is a (malformed) notification.
type NotifyFunc func(data []byte)

// Conn is one established link to a peripheral.
type Conn interface {
	Addr() string
	Role() Role
	SecurityLevel() SecurityLevel

	// DiscoverPrimary searches rng for the primary service with the given
	// UUID and returns its handle range, or ErrNotFound on exhaustion.
	DiscoverPrimary(ctx context.Context, uuid ble.UUID, rng HandleRange) (HandleRange, error)
	// DiscoverCharacteristics walks characteristic declarations inside rng.
	// A nil error with no abort means the range was exhausted.
	DiscoverCharacteristics(ctx context.Context, rng HandleRange, fn CharacteristicFunc) error

	Subscribe(valueHandle uint16, fn NotifyFunc) error
	Unsubscribe(valueHandle uint16) error
	Read(ctx context.Context, valueHandle uint16) ([]byte, error)
	WriteWithoutResponse(valueHandle uint16, data []byte) error

	UpdateParams(p ConnParams) error
	Close() error
}

// ConnCallbacks deliver asynchronous connection lifecycle events. They are
// invoked from the radio callback context and must not block.
type ConnCallbacks struct {
	// Connected reports the outcome of a connection attempt. err is non-nil
	// when establishment failed (peer rejected, timeout); conn is still
	// provided so the caller can locate its slot.
	Connected func(conn Conn, err error)
	// Disconnected reports loss of an established link.
	Disconnected func(conn Conn, reason error)
	// SecurityChanged reports a change of the link security level.
	SecurityChanged func(conn Conn, level SecurityLevel, err error)
}

// Radio is the scanning and connection-creation surface.
type Radio interface {
	// SetCallbacks registers lifecycle callbacks. Must be called before
	// Scan or Connect.
	SetCallbacks(cb ConnCallbacks)
	// Scan starts a passive scan, delivering advertisements to handler from
	// the radio callback context. It returns once scanning is started.
	Scan(handler func(adv Advertisement)) error
	StopScan() error
	// Connect initiates a connection attempt to addr. Only initiation errors
	// are returned; the outcome arrives via ConnCallbacks.Connected.
	Connect(addr string, params ConnParams) error
}

// Sentinel errors shared by all Radio/Conn implementations.
var (
	ErrNotFound     = errors.New("not found")
	ErrNotConnected = errors.New("not connected")
)

func (l SecurityLevel) String() string {
	switch l {
	case SecurityOpen:
		return "open"
	case SecurityEncrypted:
		return "encrypted"
	case SecurityAuthenticated:
		return "authenticated"
	case SecuritySecure:
		return "secure"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}
