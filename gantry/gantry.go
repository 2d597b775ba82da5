// Package gantry assembles the hardware packages into the instruments the
// control server exposes: the HV/LV power board, the sensor auxiliary board
// and the DRS4 digitizer.
//
// Every instrument can run in dummy mode, where no hardware is touched and
// plausible values are returned. Instruments are not safe for concurrent
// use; the server serializes all calls.
package gantry

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/yimuchen/GantryMQ/config"
	"github.com/yimuchen/GantryMQ/hwerr"
	"github.com/yimuchen/GantryMQ/linux-pio/gpio"
	"github.com/yimuchen/GantryMQ/linux-pio/i2c"
	"github.com/yimuchen/GantryMQ/linux-pio/i2c/ads1115"
	"github.com/yimuchen/GantryMQ/logging"
)

// Method is one remotely callable instrument method. Arguments arrive as
// positional JSON values.
type Method func(ctx context.Context, args []json.RawMessage) (interface{}, error)

// Instance is an instrument served by the control server
type Instance interface {
	Name() string
	IsInitialized() bool
	IsDummy() bool

	// Telemetry methods only read state and may be called by any client
	Telemetry() map[string]Method
	// Operations change state and require the operator claim
	Operations() map[string]Method

	Close() error
}

// Env is what instruments need to open hardware
type Env struct {
	// Context bounds the GPIO export waits during a reset
	Context context.Context

	I2CBus  int
	OpenBus func(busID int) (i2c.Selector, error)
	GPIO    gpio.Options

	// ADCSettle overrides the ADS1115 settle delay
	ADCSettle time.Duration

	Log logging.Emitter
}

// NewEnv builds the hardware environment described by cfg
func NewEnv(cfg *config.Config, log logging.Emitter) Env {
	opts := gpio.DefaultOptions()
	if cfg.GPIOBackend != "" {
		opts.Backend = cfg.GPIOBackend
	}
	if cfg.GPIOSysfsRoot != "" {
		opts.SysfsRoot = cfg.GPIOSysfsRoot
	}
	if cfg.GPIOChip != "" {
		opts.ChipPath = cfg.GPIOChip
	}
	opts.Log = log

	return Env{
		Context:   context.Background(),
		I2CBus:    cfg.I2CBus,
		GPIO:      opts,
		ADCSettle: ads1115.DefaultSettle,
		Log:       log,
	}
}

func (e *Env) context() context.Context {
	if e.Context == nil {
		return context.Background()
	}
	return e.Context
}

func (e *Env) openGPIO(pin int, dir gpio.Direction) (gpio.Line, error) {
	return gpio.Open(e.context(), pin, dir, e.GPIO)
}

func (e *Env) openBus() (i2c.Selector, error) {
	if e.OpenBus != nil {
		return e.OpenBus(e.I2CBus)
	}
	return i2c.OpenBus(e.I2CBus)
}

func (e *Env) openADC(addr uint16) (*ads1115.Device, error) {
	bus, err := e.openBus()
	if err != nil {
		return nil, err
	}
	adc, err := ads1115.Attach(bus, addr, e.Log)
	if err != nil {
		return nil, err
	}
	adc.Settle = e.ADCSettle
	return adc, nil
}

type base struct {
	name string
	log  logging.Source

	telemetry  map[string]Method
	operations map[string]Method
}

func newBase(name string, log logging.Emitter) base {
	return base{
		name:       name,
		log:        logging.NewSource(log, name),
		telemetry:  map[string]Method{},
		operations: map[string]Method{},
	}
}

func (b *base) Name() string                  { return b.name }
func (b *base) Telemetry() map[string]Method  { return b.telemetry }
func (b *base) Operations() map[string]Method { return b.operations }

// MethodNames returns the sorted telemetry and operation names of inst
func MethodNames(inst Instance) (telemetry, operations []string) {
	for name := range inst.Telemetry() {
		telemetry = append(telemetry, name)
	}
	for name := range inst.Operations() {
		operations = append(operations, name)
	}
	sort.Strings(telemetry)
	sort.Strings(operations)
	return telemetry, operations
}

// decodeArgs unmarshals args into out. At least required arguments must be
// present and at most len(out).
func decodeArgs(device string, args []json.RawMessage, required int, out ...interface{}) error {
	if len(args) < required || len(args) > len(out) {
		if required == len(out) {
			return hwerr.InvalidArgument(device, "Expected %d arguments, got %d", required, len(args))
		}
		return hwerr.InvalidArgument(device, "Expected %d to %d arguments, got %d", required, len(out), len(args))
	}

	for i, raw := range args {
		if err := json.Unmarshal(raw, out[i]); err != nil {
			return hwerr.Wrap(hwerr.ErrInvalidArgument, device, "", err, "Argument %d", i)
		}
	}
	return nil
}

func noArgs(device string, f func() error) Method {
	return func(ctx context.Context, args []json.RawMessage) (interface{}, error) {
		if err := decodeArgs(device, args, 0); err != nil {
			return nil, err
		}
		return nil, f()
	}
}

func getter(device string, f func() (interface{}, error)) Method {
	return func(ctx context.Context, args []json.RawMessage) (interface{}, error) {
		if err := decodeArgs(device, args, 0); err != nil {
			return nil, err
		}
		return f()
	}
}

func badConfig(device string, err error) error {
	return hwerr.Wrap(hwerr.ErrInvalidArgument, device, "", err, "Bad device configuration")
}

type closer interface {
	Close() error
}

/* Closes every non-nil device, keeps the first error */
func closeAll(devices ...closer) error {
	var first error
	for _, d := range devices {
		if d == nil {
			continue
		}
		if err := d.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
