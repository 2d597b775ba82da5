// Package mcp4725 drives the 12 bit Microchip MCP4725 DAC.
package mcp4725

import (
	"tinygo.org/x/drivers"

	"github.com/yimuchen/GantryMQ/hwerr"
	"github.com/yimuchen/GantryMQ/linux-pio/i2c"
	"github.com/yimuchen/GantryMQ/logging"
)

// MaxValue is the largest DAC code
const MaxValue = 0x0FFF

/* Write DAC register, no EEPROM */
const cmdWriteDAC = 0x40

// Encode builds the write frame for value
func Encode(value uint16) ([3]byte, error) {
	if value > MaxValue {
		return [3]byte{}, hwerr.InvalidArgument("MCP4725", "Value [%d] out of range 0-%d", value, MaxValue)
	}
	return [3]byte{cmdWriteDAC, byte(value >> 4), byte(value&0xF) << 4}, nil
}

// Decode extracts the DAC register from a 3 byte read back. The first byte
// is the status byte and is ignored.
func Decode(frame [3]byte) uint16 {
	return uint16(frame[1])<<4 | uint16(frame[2])>>4
}

// Device is one MCP4725 on a bus
type Device struct {
	dev   *i2c.Device
	owned i2c.Selector
	log   logging.Source
}

// Open opens bus busID for this chip alone and selects address on it
func Open(busID int, address uint16, log logging.Emitter) (*Device, error) {
	bus, err := i2c.OpenBus(busID)
	if err != nil {
		return nil, err
	}
	return Attach(bus, address, log)
}

// Attach takes ownership of bus and selects address on it. The bus is
// closed if the address cannot be selected, or later by Close.
func Attach(bus i2c.Selector, address uint16, log logging.Emitter) (*Device, error) {
	if err := bus.SetAddress(address); err != nil {
		bus.Close()
		return nil, err
	}

	d := New(bus, address, log)
	d.owned = bus
	return d, nil
}

// New binds a chip on an already open bus. The bus is not closed by Close.
func New(bus drivers.I2C, address uint16, log logging.Emitter) *Device {
	d := &Device{
		dev: i2c.NewDevice(bus, address),
		log: logging.NewSource(log, "MCP4725"),
	}
	d.log.Debugf("Bound MCP4725 at address [0x%02X]", address)
	return d
}

// Address returns the chip address
func (d *Device) Address() uint16 {
	return d.dev.Address
}

// SetValue writes value to the DAC register
func (d *Device) SetValue(value uint16) error {
	frame, err := Encode(value)
	if err != nil {
		return err
	}

	if err := d.dev.Write(frame[:]...); err != nil {
		return err
	}

	d.log.Debugf("Set value [%d]", value)
	return nil
}

// ReadValue reads back the DAC register
func (d *Device) ReadValue() (uint16, error) {
	read, err := d.dev.Read(3)
	if err != nil {
		return 0, err
	}

	var frame [3]byte
	copy(frame[:], read)
	return Decode(frame), nil
}

// Close releases the bus if Open created it
func (d *Device) Close() error {
	if d == nil || d.owned == nil {
		return nil
	}
	return d.owned.Close()
}
