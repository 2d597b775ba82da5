package gantry

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/yimuchen/GantryMQ/config"
	"github.com/yimuchen/GantryMQ/drs4"
	"github.com/yimuchen/GantryMQ/drs4/sim"
	"github.com/yimuchen/GantryMQ/hwerr"
)

// Driver names accepted in the drs configuration block
const (
	DRSDriverSim = "sim"
)

// DRS exposes a drs4.Digitizer
type DRS struct {
	base
	env Env
	cfg config.DRSConfig

	// Connect overrides the driver selected by the configuration
	Connect drs4.Connect
	// Options is applied to the digitizer options before each open
	Options func(*drs4.Options)

	dig *drs4.Digitizer
}

// NewDRS creates the instrument. Nothing is opened until Reset.
func NewDRS(name string, env Env) *DRS {
	d := &DRS{
		base: newBase(name, env.Log),
		env:  env,
	}

	d.operations["reset_drs_device"] = noArgs(d.name, func() error { return d.Reset(d.cfg) })
	d.operations["force_stop"] = d.call(func(dig *drs4.Digitizer) error { return dig.ForceStop() })
	d.operations["start_collect"] = d.call(func(dig *drs4.Digitizer) error { return dig.StartCollect() })
	d.operations["run_calibration"] = d.call(func(dig *drs4.Digitizer) error {
		return dig.RunCalibration(func(percent int) {
			d.log.Infof("Calibration progress [%3d%%]", percent)
		})
	})
	d.operations["set_trigger"] = func(ctx context.Context, args []json.RawMessage) (interface{}, error) {
		dig, err := d.digitizer()
		if err != nil {
			return nil, err
		}
		t := dig.Trigger()
		if err := decodeArgs(d.name, args, 1, &t.Channel, &t.Level, &t.Direction, &t.DelayNs); err != nil {
			return nil, err
		}
		return nil, dig.SetTrigger(t)
	}
	d.operations["set_samples"] = func(ctx context.Context, args []json.RawMessage) (interface{}, error) {
		var n int
		if err := decodeArgs(d.name, args, 1, &n); err != nil {
			return nil, err
		}
		dig, err := d.digitizer()
		if err != nil {
			return nil, err
		}
		return nil, dig.SetSamples(n)
	}
	d.operations["set_rate"] = func(ctx context.Context, args []json.RawMessage) (interface{}, error) {
		var ghz float64
		if err := decodeArgs(d.name, args, 1, &ghz); err != nil {
			return nil, err
		}
		dig, err := d.digitizer()
		if err != nil {
			return nil, err
		}
		return nil, dig.SetRate(ghz)
	}

	d.telemetry["get_time_slice"] = d.channelRead(func(ctx context.Context, dig *drs4.Digitizer, ch int) (interface{}, error) {
		return dig.TimeSlice(ctx, ch)
	})
	d.telemetry["get_waveform"] = d.channelRead(func(ctx context.Context, dig *drs4.Digitizer, ch int) (interface{}, error) {
		return dig.Waveform(ctx, ch)
	})
	d.telemetry["get_waveformsum"] = func(ctx context.Context, args []json.RawMessage) (interface{}, error) {
		var ch, intStart, intStop, pedStart, pedStop int
		if err := decodeArgs(d.name, args, 3, &ch, &intStart, &intStop, &pedStart, &pedStop); err != nil {
			return nil, err
		}
		dig, err := d.digitizer()
		if err != nil {
			return nil, err
		}
		return dig.WaveformSum(ctx, ch, intStart, intStop, pedStart, pedStop)
	}
	d.telemetry["get_trigger_channel"] = d.get(func(dig *drs4.Digitizer) (interface{}, error) { return dig.TriggerChannel(), nil })
	d.telemetry["get_trigger_direction"] = d.get(func(dig *drs4.Digitizer) (interface{}, error) { return dig.TriggerDirection(), nil })
	d.telemetry["get_trigger_level"] = d.get(func(dig *drs4.Digitizer) (interface{}, error) { return dig.TriggerLevel(), nil })
	d.telemetry["get_trigger_delay"] = d.get(func(dig *drs4.Digitizer) (interface{}, error) { return dig.TriggerDelay(), nil })
	d.telemetry["get_samples"] = d.get(func(dig *drs4.Digitizer) (interface{}, error) { return dig.Samples() })
	d.telemetry["get_rate"] = d.get(func(dig *drs4.Digitizer) (interface{}, error) { return dig.Rate() })
	d.telemetry["is_ready"] = d.get(func(dig *drs4.Digitizer) (interface{}, error) { return dig.IsReady() })
	d.telemetry["is_available"] = getter(d.name, func() (interface{}, error) {
		return d.dig != nil && d.dig.IsAvailable(), nil
	})
	return d
}

func (d *DRS) digitizer() (*drs4.Digitizer, error) {
	if d.dig == nil {
		return nil, hwerr.NotReady(d.name, "DRS device not initialized")
	}
	return d.dig, nil
}

func (d *DRS) call(f func(*drs4.Digitizer) error) Method {
	return noArgs(d.name, func() error {
		dig, err := d.digitizer()
		if err != nil {
			return err
		}
		return f(dig)
	})
}

func (d *DRS) get(f func(*drs4.Digitizer) (interface{}, error)) Method {
	return getter(d.name, func() (interface{}, error) {
		dig, err := d.digitizer()
		if err != nil {
			return nil, err
		}
		return f(dig)
	})
}

func (d *DRS) channelRead(f func(context.Context, *drs4.Digitizer, int) (interface{}, error)) Method {
	return func(ctx context.Context, args []json.RawMessage) (interface{}, error) {
		var ch int
		if err := decodeArgs(d.name, args, 1, &ch); err != nil {
			return nil, err
		}
		dig, err := d.digitizer()
		if err != nil {
			return nil, err
		}
		return f(ctx, dig, ch)
	}
}

func (d *DRS) IsInitialized() bool {
	return d.dig != nil && d.dig.IsAvailable()
}

// IsDummy reports whether the simulated board is in use
func (d *DRS) IsDummy() bool {
	return d.Connect == nil && d.simulated()
}

func (d *DRS) simulated() bool {
	driver := strings.ToLower(strings.TrimSpace(d.cfg.Driver))
	return driver == DRSDriverSim || config.IsDummy(driver)
}

// Digitizer returns the open digitizer, nil before a successful Reset
func (d *DRS) Digitizer() *drs4.Digitizer { return d.dig }

func (d *DRS) connect() drs4.Connect {
	if d.Connect != nil {
		return d.Connect
	}
	if d.simulated() {
		return sim.Connect(sim.NewBoard())
	}
	return nil
}

// Reset closes the digitizer and reopens it per cfg
func (d *DRS) Reset(cfg config.DRSConfig) error {
	if d.dig != nil {
		if err := d.dig.Close(); err != nil {
			d.log.Warnf("Closing digitizer: %v", err)
		}
		d.dig = nil
	}
	d.cfg = cfg

	opts := drs4.DefaultOptions(d.connect())
	if cfg.LockFile != "" {
		opts.LockFile = cfg.LockFile
	}
	opts.Log = d.env.Log
	if d.Options != nil {
		d.Options(&opts)
	}

	dig, err := drs4.Open(opts)
	if err != nil {
		d.log.Errorf("Failed to initialize: %v", err)
		return err
	}
	d.dig = dig
	return nil
}

// Close releases the digitizer and its lock
func (d *DRS) Close() error {
	if d.dig == nil {
		return nil
	}
	err := d.dig.Close()
	d.dig = nil
	return err
}
