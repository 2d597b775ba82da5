// Package ads1115 reads single-shot conversions from a TI ADS1115 ADC.
package ads1115

import (
	"time"

	"tinygo.org/x/drivers"

	"github.com/yimuchen/GantryMQ/hwerr"
	"github.com/yimuchen/GantryMQ/linux-pio/i2c"
	"github.com/yimuchen/GantryMQ/logging"
)

// Range is the programmable gain code
type Range uint8

const (
	Range6V  Range = 0 // ±6.144V
	Range4V  Range = 1 // ±4.096V
	Range2V  Range = 2 // ±2.048V
	Range1V  Range = 3 // ±1.024V
	Range05V Range = 4 // ±0.512V
	Range02V Range = 5 // ±0.256V
)

// Rate is the data rate code
type Rate uint8

const (
	Rate8SPS   Rate = 0
	Rate16SPS  Rate = 1
	Rate32SPS  Rate = 2
	Rate64SPS  Rate = 3
	Rate128SPS Rate = 4
	Rate250SPS Rate = 5
	Rate475SPS Rate = 6
	Rate860SPS Rate = 7

	DefaultRate = Rate250SPS
)

const (
	regConversion = 0x00
	regConfig     = 0x01

	/* Start conversion (bit 15) and single ended mux (bit 14) */
	configStart = 0xC0
	/* Single-shot mode (bit 8) */
	configSingleShot = 0x01
	/* Comparator disabled */
	configComparator = 0x03

	fullScaleCounts = 32768
)

var fullScaleMillivolts = [...]float64{6144, 4096, 2048, 1024, 512, 256}

// DefaultSettle is the wait after each register write
const DefaultSettle = 50 * time.Millisecond

// FullScale returns the full scale voltage of a range code in mV
func FullScale(r Range) (float64, error) {
	if int(r) >= len(fullScaleMillivolts) {
		return 0, hwerr.InvalidArgument("ADS1115", "Unknown range code [%d]", r)
	}
	return fullScaleMillivolts[r], nil
}

// ConfigWord builds the two configuration register bytes
func ConfigWord(channel uint8, r Range, rate Rate) ([2]byte, error) {
	var word [2]byte
	if channel > 3 {
		return word, hwerr.InvalidArgument("ADS1115", "Channel [%d] out of range 0-3", channel)
	}
	if int(r) >= len(fullScaleMillivolts) {
		return word, hwerr.InvalidArgument("ADS1115", "Unknown range code [%d]", r)
	}
	if rate > Rate860SPS {
		return word, hwerr.InvalidArgument("ADS1115", "Unknown rate code [%d]", rate)
	}

	word[0] = configStart | channel<<4 | uint8(r)<<1 | configSingleShot
	word[1] = uint8(rate)<<5 | configComparator
	return word, nil
}

// Device is one ADS1115 on a bus
type Device struct {
	dev   *i2c.Device
	owned i2c.Selector
	log   logging.Source

	// Settle is waited after each of the two register writes of a read
	Settle time.Duration
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
		dev:    i2c.NewDevice(bus, address),
		log:    logging.NewSource(log, "ADS1115"),
		Settle: DefaultSettle,
	}
	d.log.Debugf("Bound ADS1115 at address [0x%02X]", address)
	return d
}

// Address returns the chip address
func (d *Device) Address() uint16 {
	return d.dev.Address
}

// ReadRaw performs one configure-settle-select-settle-read transaction and
// returns the signed conversion result
func (d *Device) ReadRaw(channel uint8, r Range, rate Rate) (int16, error) {
	word, err := ConfigWord(channel, r, rate)
	if err != nil {
		return 0, err
	}

	if err := d.dev.Write(regConfig, word[0], word[1]); err != nil {
		return 0, err
	}
	time.Sleep(d.Settle)

	if err := d.dev.Write(regConversion); err != nil {
		return 0, err
	}
	time.Sleep(d.Settle)

	return d.dev.ReadInt16()
}

// ReadMillivolts returns the voltage on channel in mV
func (d *Device) ReadMillivolts(channel uint8, r Range, rate Rate) (float64, error) {
	raw, err := d.ReadRaw(channel, r, rate)
	if err != nil {
		return 0, err
	}

	mv := float64(raw) * fullScaleMillivolts[r] / fullScaleCounts
	d.log.Debugf("Channel [%d] raw [%d] -> [%.3f] mV", channel, raw, mv)
	return mv, nil
}

// Close releases the bus if Open created it
func (d *Device) Close() error {
	if d == nil || d.owned == nil {
		return nil
	}
	return d.owned.Close()
}
