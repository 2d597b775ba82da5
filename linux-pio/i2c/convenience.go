package i2c

import (
	"encoding/binary"

	"tinygo.org/x/drivers"
)

// Device binds one chip address on a bus
type Device struct {
	Bus     drivers.I2C
	Address uint16
}

func NewDevice(bus drivers.I2C, address uint16) *Device {
	return &Device{
		Bus:     bus,
		Address: address,
	}
}

// Write sends a complete frame with no read back
func (d *Device) Write(frame ...byte) error {
	return d.Bus.Tx(d.Address, frame, nil)
}

// Read reads exactly n bytes
func (d *Device) Read(n int) ([]byte, error) {
	read := make([]byte, n)
	err := d.Bus.Tx(d.Address, nil, read)
	if err != nil {
		return nil, err
	}
	return read, nil
}

// WriteReg16 writes a big endian 16 bit register: [reg, hi, lo]
func (d *Device) WriteReg16(reg uint8, value uint16) error {
	write := []byte{reg, 0, 0}
	binary.BigEndian.PutUint16(write[1:], value)
	return d.Write(write...)
}

// ReadInt16 reads a big endian two's complement word
func (d *Device) ReadInt16() (int16, error) {
	read, err := d.Read(2)
	if err != nil {
		return 0, err
	}
	return int16(binary.BigEndian.Uint16(read)), nil
}
