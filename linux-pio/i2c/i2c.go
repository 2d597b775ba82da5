package i2c

import (
	"fmt"

	"golang.org/x/sys/unix"
	"tinygo.org/x/drivers"

	"github.com/yimuchen/GantryMQ/fdaccess"
	"github.com/yimuchen/GantryMQ/hwerr"
)

const i2cSlave uint = 0x00000703

// Bus is a Linux I2C adapter node (/dev/i2c-N). The node is opened without
// a lock so that several chips on the same bus can coexist, even across
// processes.
//
// Bus does not serialize transactions. A device protocol that spans several
// Tx calls (write, settle, write, settle, read) must not be interleaved with
// another caller on the same bus; that ordering is up to the caller.
type Bus struct {
	handle *fdaccess.Handle

	address  uint16
	selected bool
}

var _ Selector = (*Bus)(nil)

// Selector is a bus a single chip can be attached to: the address is
// selected once up front so a missing chip is reported at open time.
type Selector interface {
	drivers.I2C
	SetAddress(address uint16) error
	Close() error
}

// BusPath returns the device node of an adapter
func BusPath(busID int) string {
	return fmt.Sprintf("/dev/i2c-%d", busID)
}

// OpenBus opens adapter busID
func OpenBus(busID int) (*Bus, error) {
	return OpenPath(fmt.Sprintf("i2c-%d", busID), BusPath(busID))
}

// OpenPath opens an adapter node at an explicit path
func OpenPath(name, path string) (*Bus, error) {
	h, err := fdaccess.Open(name, path, fdaccess.ReadWrite, false)
	if err != nil {
		return nil, err
	}

	return &Bus{handle: h}, nil
}

// Name returns the logical name of the bus
func (b *Bus) Name() string {
	return b.handle.Name()
}

// SetAddress selects the target chip for subsequent plain reads and writes
func (b *Bus) SetAddress(address uint16) error {
	if err := b.handle.CheckValid(); err != nil {
		return err
	}

	if err := unix.IoctlSetInt(b.handle.Fd(), i2cSlave, int(address)); err != nil {
		b.selected = false
		return hwerr.Wrap(hwerr.ErrBus, b.handle.Name(), b.handle.Path(), err, "Failed to select device address [0x%02X]", address)
	}

	b.address = address
	b.selected = true
	return nil
}

// Tx writes w and then reads len(r) bytes from address. The address is only
// reselected when it differs from the previous one. Both halves are checked
// for exact length.
func (b *Bus) Tx(address uint16, w, r []byte) error {
	if !b.selected || b.address != address {
		if err := b.SetAddress(address); err != nil {
			return err
		}
	}

	if len(w) > 0 {
		if _, err := b.handle.Write(w); err != nil {
			return err
		}
	}

	if len(r) > 0 {
		buf, err := b.handle.Read(len(r))
		if err != nil {
			return err
		}
		copy(r, buf)
	}

	return nil
}

// Close releases the bus node. It is safe to call more than once.
func (b *Bus) Close() error {
	b.selected = false
	return b.handle.Close()
}
