package gantry

import (
	"context"
	"encoding/json"

	"github.com/yimuchen/GantryMQ/config"
	"github.com/yimuchen/GantryMQ/hwerr"
	"github.com/yimuchen/GantryMQ/linux-pio/gpio"
	"github.com/yimuchen/GantryMQ/linux-pio/i2c/ads1115"
	"github.com/yimuchen/GantryMQ/linux-pio/i2c/mcp4725"
)

const (
	// MaxControlMillivolts bounds the HV control and LV set points
	MaxControlMillivolts = 5000

	/* Divider between the HV output and ADC channel 0 */
	hvDivider = 101

	dummyVDD = 5000
	dummyHV  = 70
)

// ADC channels on the power board
const (
	hvlvChannelHV        = 0
	hvlvChannelHVControl = 1
	hvlvChannelVDD       = 3
)

// HVLV is the high/low voltage power board: an HV enable line, an ADC
// monitoring the outputs and two DACs setting them.
type HVLV struct {
	base
	env Env
	cfg config.HVLVConfig

	initialized bool
	dummy       bool

	hvEnable gpio.Line
	adc      *ads1115.Device
	hvDAC    *mcp4725.Device
	lvDAC    *mcp4725.Device

	/* Dummy mode state */
	dummyHVOn      bool
	dummyHVControl float64
	dummyLV        float64
}

// NewHVLV creates the instrument. Nothing is opened until Reset.
func NewHVLV(name string, env Env) *HVLV {
	h := &HVLV{
		base: newBase(name, env.Log),
		env:  env,
	}

	h.operations["reset_devices"] = func(ctx context.Context, args []json.RawMessage) (interface{}, error) {
		cfg := h.cfg
		if err := decodeArgs(h.name, args, 0, &cfg); err != nil {
			return nil, err
		}
		return nil, h.Reset(cfg)
	}
	h.operations["hv_enable"] = noArgs(h.name, h.HVEnable)
	h.operations["hv_disable"] = noArgs(h.name, h.HVDisable)
	h.operations["set_hv_control_mv"] = h.setter(h.SetHVControlMillivolts)
	h.operations["set_lv_mv"] = h.setter(h.SetLVMillivolts)

	h.telemetry["get_hv_status"] = getter(h.name, func() (interface{}, error) { return h.HVStatus() })
	h.telemetry["get_hv_mv"] = getter(h.name, func() (interface{}, error) { return h.HVMillivolts() })
	h.telemetry["get_hv_control_mv"] = getter(h.name, func() (interface{}, error) { return h.HVControlMillivolts() })
	h.telemetry["get_lv_mv"] = getter(h.name, func() (interface{}, error) { return h.LVMillivolts() })
	h.telemetry["get_vdd_mv"] = getter(h.name, func() (interface{}, error) { return h.VDDMillivolts() })
	return h
}

func (h *HVLV) setter(f func(float64) error) Method {
	return func(ctx context.Context, args []json.RawMessage) (interface{}, error) {
		var mv float64
		if err := decodeArgs(h.name, args, 1, &mv); err != nil {
			return nil, err
		}
		return nil, f(mv)
	}
}

func (h *HVLV) IsInitialized() bool { return h.initialized }
func (h *HVLV) IsDummy() bool       { return h.dummy }

// Config returns the configuration of the last reset
func (h *HVLV) Config() config.HVLVConfig { return h.cfg }

func (h *HVLV) closeDevices() error {
	err := closeAll(h.hvEnable, h.adc, h.hvDAC, h.lvDAC)
	h.hvEnable, h.adc, h.hvDAC, h.lvDAC = nil, nil, nil, nil
	return err
}

// Reset closes all devices and reopens them per cfg. If any pin or address
// is "dummy" the instrument enters dummy mode. On failure every device is
// closed again and the instrument stays uninitialized.
func (h *HVLV) Reset(cfg config.HVLVConfig) error {
	if err := h.closeDevices(); err != nil {
		h.log.Warnf("Closing devices: %v", err)
	}
	h.cfg = cfg
	h.initialized = false
	h.dummyHVOn, h.dummyHVControl, h.dummyLV = false, 0, 0

	if config.AnyDummy(cfg.HVEnableGPIO, cfg.HVLVADCAddr, cfg.HVDACAddr, cfg.LVDACAddr) {
		h.log.Infof("Running in dummy mode")
		h.dummy = true
		h.initialized = true
		return nil
	}
	h.dummy = false

	if err := h.open(cfg); err != nil {
		h.closeDevices()
		h.log.Errorf("Failed to initialize: %v", err)
		return err
	}

	if err := h.hvEnable.Write(false); err != nil {
		h.closeDevices()
		return err
	}

	h.initialized = true
	h.log.Infof("Initialized")
	return nil
}

func (h *HVLV) open(cfg config.HVLVConfig) error {
	pin, err := config.ParsePin(cfg.HVEnableGPIO)
	if err != nil {
		return badConfig(h.name, err)
	}
	adcAddr, err := config.ParseAddr(cfg.HVLVADCAddr)
	if err != nil {
		return badConfig(h.name, err)
	}
	hvAddr, err := config.ParseAddr(cfg.HVDACAddr)
	if err != nil {
		return badConfig(h.name, err)
	}
	lvAddr, err := config.ParseAddr(cfg.LVDACAddr)
	if err != nil {
		return badConfig(h.name, err)
	}

	if h.hvEnable, err = h.env.openGPIO(pin, gpio.ReadWrite); err != nil {
		return err
	}
	if h.adc, err = h.env.openADC(adcAddr); err != nil {
		return err
	}
	if h.hvDAC, err = h.openDAC(hvAddr); err != nil {
		return err
	}
	h.lvDAC, err = h.openDAC(lvAddr)
	return err
}

func (h *HVLV) openDAC(addr uint16) (*mcp4725.Device, error) {
	bus, err := h.env.openBus()
	if err != nil {
		return nil, err
	}
	return mcp4725.Attach(bus, addr, h.env.Log)
}

func (h *HVLV) checkReady() error {
	if !h.initialized {
		return hwerr.NotReady(h.name, "Devices not initialized")
	}
	return nil
}

func (h *HVLV) setHV(on bool) error {
	if err := h.checkReady(); err != nil {
		return err
	}
	if h.dummy {
		h.dummyHVOn = on
		return nil
	}
	return h.hvEnable.Write(on)
}

// HVEnable turns the high voltage output on
func (h *HVLV) HVEnable() error {
	return h.setHV(true)
}

// HVDisable turns the high voltage output off
func (h *HVLV) HVDisable() error {
	return h.setHV(false)
}

// HVStatus returns whether the high voltage output is enabled
func (h *HVLV) HVStatus() (bool, error) {
	if err := h.checkReady(); err != nil {
		return false, err
	}
	if h.dummy {
		return h.dummyHVOn, nil
	}
	return h.hvEnable.Read()
}

func (h *HVLV) readADC(channel uint8, r ads1115.Range) (float64, error) {
	return h.adc.ReadMillivolts(channel, r, ads1115.DefaultRate)
}

// VDDMillivolts returns the supply voltage the DACs are referenced to
func (h *HVLV) VDDMillivolts() (float64, error) {
	if err := h.checkReady(); err != nil {
		return 0, err
	}
	if h.dummy {
		return dummyVDD, nil
	}
	return h.readADC(hvlvChannelVDD, ads1115.Range6V)
}

// HVMillivolts returns the high voltage output
func (h *HVLV) HVMillivolts() (float64, error) {
	if err := h.checkReady(); err != nil {
		return 0, err
	}
	if h.dummy {
		if h.dummyHVOn {
			return dummyHV, nil
		}
		return 0, nil
	}

	mv, err := h.readADC(hvlvChannelHV, ads1115.Range1V)
	return mv * hvDivider, err
}

// HVControlMillivolts returns the control voltage of the HV module
func (h *HVLV) HVControlMillivolts() (float64, error) {
	if err := h.checkReady(); err != nil {
		return 0, err
	}
	if h.dummy {
		return h.dummyHVControl, nil
	}
	return h.readADC(hvlvChannelHVControl, ads1115.Range4V)
}

// LVMillivolts returns the low voltage set point read back from its DAC
func (h *HVLV) LVMillivolts() (float64, error) {
	if err := h.checkReady(); err != nil {
		return 0, err
	}
	if h.dummy {
		return h.dummyLV, nil
	}

	vdd, err := h.VDDMillivolts()
	if err != nil {
		return 0, err
	}
	code, err := h.lvDAC.ReadValue()
	if err != nil {
		return 0, err
	}
	return vdd * float64(code) / 4096, nil
}

/* DAC code for target in mV given the measured supply */
func (h *HVLV) dacCode(target float64) (uint16, error) {
	if target < 0 || target > MaxControlMillivolts {
		return 0, hwerr.InvalidArgument(h.name, "Target [%.1f] mV out of range 0-%d", target, MaxControlMillivolts)
	}

	vdd, err := h.VDDMillivolts()
	if err != nil {
		return 0, err
	}
	if vdd <= 0 {
		return 0, hwerr.New(hwerr.ErrIO, h.name, "", "Supply reads [%.1f] mV", vdd)
	}

	code := int(mcp4725.MaxValue * target / vdd)
	if code > mcp4725.MaxValue {
		return 0, hwerr.InvalidArgument(h.name, "Target [%.1f] mV above supply [%.1f] mV", target, vdd)
	}
	return uint16(code), nil
}

func (h *HVLV) setDAC(dac *mcp4725.Device, dummy *float64, target float64) error {
	if err := h.checkReady(); err != nil {
		return err
	}
	if h.dummy {
		if target < 0 || target > MaxControlMillivolts {
			return hwerr.InvalidArgument(h.name, "Target [%.1f] mV out of range 0-%d", target, MaxControlMillivolts)
		}
		*dummy = target
		return nil
	}

	code, err := h.dacCode(target)
	if err != nil {
		return err
	}
	return dac.SetValue(code)
}

// SetHVControlMillivolts sets the control voltage of the HV module
func (h *HVLV) SetHVControlMillivolts(target float64) error {
	return h.setDAC(h.hvDAC, &h.dummyHVControl, target)
}

// SetLVMillivolts sets the low voltage output
func (h *HVLV) SetLVMillivolts(target float64) error {
	return h.setDAC(h.lvDAC, &h.dummyLV, target)
}

// Close releases all devices. The HV line is left as it is.
func (h *HVLV) Close() error {
	h.initialized = false
	return h.closeDevices()
}
