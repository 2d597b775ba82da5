package gantry

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/yimuchen/GantryMQ/config"
	"github.com/yimuchen/GantryMQ/drs4"
	"github.com/yimuchen/GantryMQ/drs4/sim"
	"github.com/yimuchen/GantryMQ/hwerr"
)

func fastDigitizer(o *drs4.Options) {
	o.PollInterval = 0
	o.TriggerSettle = 0
}

func newTestDRS(t *testing.T, board *sim.Board) *DRS {
	d := NewDRS("DRS", Env{})
	d.Options = fastDigitizer
	if board != nil {
		d.Connect = sim.Connect(board)
	}

	cfg := config.DRSConfig{
		Enabled:  true,
		LockFile: filepath.Join(t.TempDir(), "drs.lock"),
		Driver:   DRSDriverSim,
	}
	if err := d.Reset(cfg); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestDRSSimDriver(t *testing.T) {
	d := newTestDRS(t, nil)

	if !d.IsDummy() || !d.IsInitialized() {
		t.Error("Simulated driver state", d.IsDummy(), d.IsInitialized())
	}
	if ch, err := call(t, d.Telemetry(), "get_trigger_channel"); err != nil || ch != drs4.ExternalTrigger {
		t.Error("Default trigger channel", ch, err)
	}
	if n, err := call(t, d.Telemetry(), "get_samples"); err != nil || n != 1024 {
		t.Error("Default samples", n, err)
	}
}

func TestDRSAcquisition(t *testing.T) {
	board := sim.NewBoard()
	board.Signal = sim.Flat(10)
	d := newTestDRS(t, board)

	if _, err := call(t, d.Operations(), "set_samples", 100); err != nil {
		t.Fatal(err)
	}
	if _, err := call(t, d.Operations(), "start_collect"); err != nil {
		t.Fatal(err)
	}
	if ready, err := call(t, d.Telemetry(), "is_ready"); err != nil || ready != true {
		t.Error("Ready", ready, err)
	}

	wave, err := call(t, d.Telemetry(), "get_waveform", 1)
	if err != nil {
		t.Fatal(err)
	}
	if w := wave.([]float32); len(w) != 100 || w[0] != 10 {
		t.Error("Waveform", len(w), w[0])
	}

	times, err := call(t, d.Telemetry(), "get_time_slice", 1)
	if err != nil || len(times.([]float32)) != 100 {
		t.Error("Time slice", times, err)
	}

	/* Flat signal with its own pedestal integrates to zero */
	sum, err := call(t, d.Telemetry(), "get_waveformsum", 0, 0, 50, 0, 50)
	if err != nil || sum != 0.0 {
		t.Error("Pedestal subtracted sum", sum, err)
	}
	/* Pedestal bounds default to an empty range */
	sum, err = call(t, d.Telemetry(), "get_waveformsum", 0, 0, 100)
	if err != nil || sum != -500.0 {
		t.Error("Raw sum", sum, err)
	}

	if _, err := call(t, d.Telemetry(), "get_waveform", 4); !errors.Is(err, hwerr.ErrInvalidArgument) {
		t.Error("Channel 4 accepted:", err)
	}
}

func TestDRSSetTrigger(t *testing.T) {
	board := sim.NewBoard()
	d := newTestDRS(t, board)

	if _, err := call(t, d.Operations(), "set_trigger", 2, -0.1, 0, 15.0); err != nil {
		t.Fatal(err)
	}
	if board.TriggerSource != 1<<2 || board.TriggerLevel != -0.1 || board.TriggerDelayNs != 15 {
		t.Error("Trigger registers", board.TriggerSource, board.TriggerLevel, board.TriggerDelayNs)
	}

	/* Omitted fields keep their current values */
	if _, err := call(t, d.Operations(), "set_trigger", 1); err != nil {
		t.Fatal(err)
	}
	if lvl, _ := call(t, d.Telemetry(), "get_trigger_level"); lvl != -0.1 {
		t.Error("Level not kept", lvl)
	}
	if delay, _ := call(t, d.Telemetry(), "get_trigger_delay"); delay != 15.0 {
		t.Error("Delay not kept", delay)
	}

	if _, err := call(t, d.Operations(), "set_trigger", 7); !errors.Is(err, hwerr.ErrInvalidArgument) {
		t.Error("Channel 7 accepted:", err)
	}
}

func TestDRSCalibrationAndReset(t *testing.T) {
	board := sim.NewBoard()
	d := newTestDRS(t, board)

	if _, err := call(t, d.Operations(), "run_calibration"); err != nil {
		t.Fatal(err)
	}
	if board.TriggerSource != 1<<drs4.ExternalTrigger {
		t.Error("Trigger source not restored", board.TriggerSource)
	}
	if ch, _ := call(t, d.Telemetry(), "get_trigger_channel"); ch != drs4.ExternalTrigger {
		t.Error("Trigger not restored", ch)
	}

	/* Reset reacquires the lock it held */
	if _, err := call(t, d.Operations(), "reset_drs_device"); err != nil {
		t.Fatal(err)
	}
	if !d.IsInitialized() {
		t.Error("Not initialized after reset")
	}
}

func TestDRSNoDriver(t *testing.T) {
	d := NewDRS("DRS", Env{})
	cfg := config.DRSConfig{LockFile: filepath.Join(t.TempDir(), "drs.lock")}

	if err := d.Reset(cfg); !errors.Is(err, hwerr.ErrNoHardware) {
		t.Error("Expected no hardware, got", err)
	}
	if d.IsDummy() || d.IsInitialized() {
		t.Error("Wrong state without driver")
	}
	if avail, err := call(t, d.Telemetry(), "is_available"); err != nil || avail != false {
		t.Error("Available without board", avail, err)
	}
	if _, err := call(t, d.Telemetry(), "get_rate"); !errors.Is(err, hwerr.ErrNotReady) {
		t.Error("Rate without board:", err)
	}
	if _, err := call(t, d.Operations(), "start_collect"); !errors.Is(err, hwerr.ErrNotReady) {
		t.Error("Collect without board:", err)
	}
	if err := d.Close(); err != nil {
		t.Error(err)
	}
}
