package gantry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/yimuchen/GantryMQ/config"
	"github.com/yimuchen/GantryMQ/hwerr"
)

const testSenADC = 0x49

func senauxConfig() config.SenAUXConfig {
	return config.SenAUXConfig{
		PD1GPIO: "22",
		PD2GPIO: "23",
		F1GPIO:  "20",
		F2GPIO:  "21",
		ADC: config.ADCConfig{
			Addr: "0x49",
			C1:   [2]float64{10000, 1000},
			C2:   [2]float64{20000, 1000},
			C3:   [2]float64{30000, 1000},
		},
	}
}

func newTestSenAUX(t *testing.T) (*SenAUX, string) {
	root := fakeSysfs(t, 20, 21, 22, 23)
	chips := newFakeChips()
	chips.addADC(testSenADC, map[uint8]int16{2: 8192})

	s := NewSenAUX("SenAUX", testEnv(root, chips))
	if err := s.Reset(senauxConfig()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s, root
}

func TestSenAUXReset(t *testing.T) {
	s, root := newTestSenAUX(t)

	if !s.IsInitialized() || s.IsDummy() {
		t.Fatal("Wrong state after reset")
	}
	for _, pin := range []int{22, 23} {
		if v := pinFile(t, root, pin, "value"); v != "0" {
			t.Errorf("PD pin %d not driven low: %q", pin, v)
		}
	}
	for _, pin := range []int{20, 21, 22, 23} {
		if d := pinFile(t, root, pin, "direction"); d != "out" {
			t.Errorf("Pin %d direction %q", pin, d)
		}
	}
}

func TestSenAUXPhotodiodes(t *testing.T) {
	s, root := newTestSenAUX(t)

	if _, err := call(t, s.Operations(), "enable_pd2"); err != nil {
		t.Fatal(err)
	}
	if v := pinFile(t, root, 23, "value"); v != "1" {
		t.Error("PD2 not enabled", v)
	}
	if v := pinFile(t, root, 22, "value"); v != "0" {
		t.Error("PD2 operation touched PD1", v)
	}

	if on, err := call(t, s.Telemetry(), "status_pd2"); err != nil || on != true {
		t.Error("PD2 status", on, err)
	}
	if on, err := call(t, s.Telemetry(), "status_pd1"); err != nil || on != false {
		t.Error("PD1 status", on, err)
	}

	call(t, s.Operations(), "enable_pd1")
	call(t, s.Operations(), "disable_pd2")
	if on, _ := s.PDStatus(1); !on {
		t.Error("PD1 not enabled")
	}
	if on, _ := s.PDStatus(2); on {
		t.Error("PD2 not disabled")
	}

	if err := s.SetPD(3, true); !errors.Is(err, hwerr.ErrInvalidArgument) {
		t.Error("PD3 accepted:", err)
	}
}

func TestSenAUXPulse(t *testing.T) {
	s, root := newTestSenAUX(t)

	if _, err := call(t, s.Operations(), "pulse_f1", 2, 1); err != nil {
		t.Fatal(err)
	}
	if v := pinFile(t, root, 20, "value"); v != "1010" {
		t.Error("Wrong F1 pulse train", v)
	}
	if v := pinFile(t, root, 21, "value"); v != "" {
		t.Error("F2 pulsed", v)
	}

	if _, err := call(t, s.Operations(), "pulse_f2", -1, 1); !errors.Is(err, hwerr.ErrInvalidArgument) {
		t.Error("Negative pulse count accepted:", err)
	}
	if _, err := call(t, s.Operations(), "pulse_f2", 1); !errors.Is(err, hwerr.ErrInvalidArgument) {
		t.Error("Missing wait accepted:", err)
	}
}

func TestSenAUXADC(t *testing.T) {
	s, _ := newTestSenAUX(t)

	/* ±6.144V: 8192 -> 1536mV */
	if mv, err := call(t, s.Telemetry(), "adc_readmv", 2); err != nil || mv != 1536.0 {
		t.Error("ADC channel 2 read", mv, err)
	}
	if _, err := s.ADCMillivolts(4); !errors.Is(err, hwerr.ErrInvalidArgument) {
		t.Error("Channel 4 accepted:", err)
	}

	r, err := call(t, s.Telemetry(), "adc_biasresistor", 2)
	if err != nil || r != [2]float64{20000, 1000} {
		t.Error("Bias resistor", r, err)
	}
	for _, ch := range []int{0, 4} {
		if _, err := s.BiasResistor(ch); !errors.Is(err, hwerr.ErrInvalidArgument) {
			t.Error("Bias channel", ch, "accepted:", err)
		}
	}
}

func TestSenAUXDummy(t *testing.T) {
	chips := newFakeChips()
	s := NewSenAUX("SenAUX", testEnv(t.TempDir(), chips))

	cfg := senauxConfig()
	cfg.ADC.Addr = config.Dummy
	if err := s.Reset(cfg); err != nil {
		t.Fatal(err)
	}
	if !s.IsDummy() || chips.opened != 0 {
		t.Fatal("Dummy mode touched hardware")
	}

	s.SetPD(2, true)
	if on, _ := s.PDStatus(2); !on {
		t.Error("Dummy PD2 state lost")
	}
	if on, _ := s.PDStatus(1); on {
		t.Error("Dummy PD1 follows PD2")
	}
	if err := s.Pulse(1, 10, 0); err != nil {
		t.Error(err)
	}
	if mv, err := s.ADCMillivolts(0); err != nil || mv != 2500 {
		t.Error("Dummy channel 0 reads", mv, err)
	}
}

func TestSenAUXResetFailure(t *testing.T) {
	/* F2 pin never appears */
	root := fakeSysfs(t, 20, 22, 23)
	chips := newFakeChips()
	chips.addADC(testSenADC, nil)

	env := testEnv(root, chips)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	env.Context = ctx

	s := NewSenAUX("SenAUX", env)
	if err := s.Reset(senauxConfig()); !errors.Is(err, hwerr.ErrOpen) {
		t.Fatal("Expected open error, got", err)
	}
	if s.IsInitialized() {
		t.Error("Initialized after failed reset")
	}
	if chips.opened != 0 {
		t.Error("ADC opened after GPIO failure")
	}
	if _, err := s.PDStatus(1); !errors.Is(err, hwerr.ErrNotReady) {
		t.Error("Uninitialized instrument answered:", err)
	}
}
