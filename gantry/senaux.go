package gantry

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/yimuchen/GantryMQ/config"
	"github.com/yimuchen/GantryMQ/hwerr"
	"github.com/yimuchen/GantryMQ/linux-pio/gpio"
	"github.com/yimuchen/GantryMQ/linux-pio/i2c/ads1115"
)

// SenAUX is the sensor auxiliary board: two photodiode bias switches, two
// pulser trigger lines and an ADC reading the biases through resistor
// dividers.
type SenAUX struct {
	base
	env Env
	cfg config.SenAUXConfig

	initialized bool
	dummy       bool

	pd1, pd2 gpio.Line
	f1, f2   gpio.Line
	adc      *ads1115.Device

	dummyPD [2]bool
	rng     *rand.Rand
}

// NewSenAUX creates the instrument. Nothing is opened until Reset.
func NewSenAUX(name string, env Env) *SenAUX {
	s := &SenAUX{
		base: newBase(name, env.Log),
		env:  env,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	s.operations["reset_devices"] = func(ctx context.Context, args []json.RawMessage) (interface{}, error) {
		cfg := s.cfg
		if err := decodeArgs(s.name, args, 0, &cfg); err != nil {
			return nil, err
		}
		return nil, s.Reset(cfg)
	}
	s.operations["enable_pd1"] = noArgs(s.name, func() error { return s.SetPD(1, true) })
	s.operations["disable_pd1"] = noArgs(s.name, func() error { return s.SetPD(1, false) })
	s.operations["enable_pd2"] = noArgs(s.name, func() error { return s.SetPD(2, true) })
	s.operations["disable_pd2"] = noArgs(s.name, func() error { return s.SetPD(2, false) })
	s.operations["pulse_f1"] = s.pulser(1)
	s.operations["pulse_f2"] = s.pulser(2)

	s.telemetry["status_pd1"] = getter(s.name, func() (interface{}, error) { return s.PDStatus(1) })
	s.telemetry["status_pd2"] = getter(s.name, func() (interface{}, error) { return s.PDStatus(2) })
	s.telemetry["adc_readmv"] = func(ctx context.Context, args []json.RawMessage) (interface{}, error) {
		var channel int
		if err := decodeArgs(s.name, args, 1, &channel); err != nil {
			return nil, err
		}
		return s.ADCMillivolts(channel)
	}
	s.telemetry["adc_biasresistor"] = func(ctx context.Context, args []json.RawMessage) (interface{}, error) {
		var channel int
		if err := decodeArgs(s.name, args, 1, &channel); err != nil {
			return nil, err
		}
		return s.BiasResistor(channel)
	}
	return s
}

func (s *SenAUX) pulser(line int) Method {
	return func(ctx context.Context, args []json.RawMessage) (interface{}, error) {
		var n, waitMicros int
		if err := decodeArgs(s.name, args, 2, &n, &waitMicros); err != nil {
			return nil, err
		}
		return nil, s.Pulse(line, n, time.Duration(waitMicros)*time.Microsecond)
	}
}

func (s *SenAUX) IsInitialized() bool { return s.initialized }
func (s *SenAUX) IsDummy() bool       { return s.dummy }

// Config returns the configuration of the last reset
func (s *SenAUX) Config() config.SenAUXConfig { return s.cfg }

func (s *SenAUX) closeDevices() error {
	err := closeAll(s.pd1, s.pd2, s.f1, s.f2, s.adc)
	s.pd1, s.pd2, s.f1, s.f2, s.adc = nil, nil, nil, nil, nil
	return err
}

// Reset closes all devices and reopens them per cfg. The photodiode
// switches start disabled.
func (s *SenAUX) Reset(cfg config.SenAUXConfig) error {
	if err := s.closeDevices(); err != nil {
		s.log.Warnf("Closing devices: %v", err)
	}
	s.cfg = cfg
	s.initialized = false
	s.dummyPD = [2]bool{}

	if config.AnyDummy(cfg.PD1GPIO, cfg.PD2GPIO, cfg.F1GPIO, cfg.F2GPIO, cfg.ADC.Addr) {
		s.log.Infof("Running in dummy mode")
		s.dummy = true
		s.initialized = true
		return nil
	}
	s.dummy = false

	if err := s.open(cfg); err != nil {
		s.closeDevices()
		s.log.Errorf("Failed to initialize: %v", err)
		return err
	}

	for _, pd := range []gpio.Line{s.pd1, s.pd2} {
		if err := pd.Write(false); err != nil {
			s.closeDevices()
			return err
		}
	}

	s.initialized = true
	s.log.Infof("Initialized")
	return nil
}

func (s *SenAUX) open(cfg config.SenAUXConfig) error {
	var pins [4]int
	for i, p := range []string{cfg.PD1GPIO, cfg.PD2GPIO, cfg.F1GPIO, cfg.F2GPIO} {
		pin, err := config.ParsePin(p)
		if err != nil {
			return badConfig(s.name, err)
		}
		pins[i] = pin
	}
	addr, err := config.ParseAddr(cfg.ADC.Addr)
	if err != nil {
		return badConfig(s.name, err)
	}

	if s.pd1, err = s.env.openGPIO(pins[0], gpio.ReadWrite); err != nil {
		return err
	}
	if s.pd2, err = s.env.openGPIO(pins[1], gpio.ReadWrite); err != nil {
		return err
	}
	if s.f1, err = s.env.openGPIO(pins[2], gpio.Write); err != nil {
		return err
	}
	if s.f2, err = s.env.openGPIO(pins[3], gpio.Write); err != nil {
		return err
	}
	s.adc, err = s.env.openADC(addr)
	return err
}

func (s *SenAUX) checkReady() error {
	if !s.initialized {
		return hwerr.NotReady(s.name, "Devices not initialized")
	}
	return nil
}

func (s *SenAUX) pdLine(index int) (gpio.Line, error) {
	switch index {
	case 1:
		return s.pd1, nil
	case 2:
		return s.pd2, nil
	}
	return nil, hwerr.InvalidArgument(s.name, "Unknown photodiode switch [%d]", index)
}

// SetPD switches photodiode bias 1 or 2
func (s *SenAUX) SetPD(index int, on bool) error {
	if err := s.checkReady(); err != nil {
		return err
	}
	line, err := s.pdLine(index)
	if err != nil {
		return err
	}
	if s.dummy {
		s.dummyPD[index-1] = on
		return nil
	}
	return line.Write(on)
}

// PDStatus returns whether photodiode bias 1 or 2 is on
func (s *SenAUX) PDStatus(index int) (bool, error) {
	if err := s.checkReady(); err != nil {
		return false, err
	}
	line, err := s.pdLine(index)
	if err != nil {
		return false, err
	}
	if s.dummy {
		return s.dummyPD[index-1], nil
	}
	return line.Read()
}

// Pulse sends n trigger pulses on pulser line 1 or 2
func (s *SenAUX) Pulse(index, n int, wait time.Duration) error {
	if err := s.checkReady(); err != nil {
		return err
	}
	if n < 0 || wait < 0 {
		return hwerr.InvalidArgument(s.name, "Invalid pulse train n=%d wait=%v", n, wait)
	}

	var line gpio.Line
	switch index {
	case 1:
		line = s.f1
	case 2:
		line = s.f2
	default:
		return hwerr.InvalidArgument(s.name, "Unknown pulser line [%d]", index)
	}
	if s.dummy {
		return nil
	}
	return line.Pulse(n, wait)
}

// ADCMillivolts reads channel 0-3 of the bias ADC
func (s *SenAUX) ADCMillivolts(channel int) (float64, error) {
	if err := s.checkReady(); err != nil {
		return 0, err
	}
	if channel < 0 || channel > 3 {
		return 0, hwerr.InvalidArgument(s.name, "ADC channel [%d] out of range 0-3", channel)
	}
	if s.dummy {
		return 2500 + s.rng.NormFloat64()*100*float64(channel), nil
	}
	return s.adc.ReadMillivolts(uint8(channel), ads1115.Range6V, ads1115.DefaultRate)
}

// BiasResistor returns the configured divider resistors of channel 1-3
func (s *SenAUX) BiasResistor(channel int) ([2]float64, error) {
	switch channel {
	case 1:
		return s.cfg.ADC.C1, nil
	case 2:
		return s.cfg.ADC.C2, nil
	case 3:
		return s.cfg.ADC.C3, nil
	}
	return [2]float64{}, hwerr.InvalidArgument(s.name, "Bias channel [%d] out of range 1-3", channel)
}

// Close releases all devices
func (s *SenAUX) Close() error {
	s.initialized = false
	return s.closeDevices()
}
