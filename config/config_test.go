package config

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestParseYAML(t *testing.T) {
	c, err := Parse([]byte(`
listen: ":9000"
log_level: debug
gpio_backend: cdev
i2c_bus: 3
hvlv:
  hv_enable_gpio: "27"
  hvlv_adc_addr: "0x48"
  hv_dac_addr: "0x64"
  lv_dac_addr: "0x65"
senaux:
  pd1_gpio: "22"
  pd2_gpio: "23"
  f1_gpio: "20"
  f2_gpio: "21"
  adc:
    addr: "0x49"
    c1: [10000, 100]
    c2: [20000, 0]
    c3: [30000, 0]
drs:
  enabled: false
`))
	if err != nil {
		t.Fatal(err)
	}

	if c.Listen != ":9000" || c.LogLevel != "debug" || c.GPIOBackend != "cdev" || c.I2CBus != 3 {
		t.Error("Top level fields wrong", c)
	}
	if c.HVLV.HVEnableGPIO != "27" || c.SenAUX.ADC.C1 != [2]float64{10000, 100} {
		t.Error("Instrument fields wrong", c.HVLV, c.SenAUX)
	}
	if c.DRS.Enabled {
		t.Error("DRS not disabled")
	}
	/* Fields absent from the file keep their defaults */
	if c.StateDB != DefaultStateDB || c.GPIOSysfsRoot != DefaultSysfsRoot {
		t.Error("Defaults lost", c.StateDB, c.GPIOSysfsRoot)
	}
}

func TestParseJSON(t *testing.T) {
	c, err := Parse([]byte(`{"listen": "127.0.0.1:1", "hvlv": {"hv_enable_gpio": "Dummy"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if c.Listen != "127.0.0.1:1" || !IsDummy(c.HVLV.HVEnableGPIO) {
		t.Error("JSON not decoded", c.Listen, c.HVLV)
	}
}

func TestValidate(t *testing.T) {
	if _, err := Parse([]byte(`gpio_backend: mmap`)); err == nil {
		t.Error("Unknown backend accepted")
	}
	if _, err := Parse([]byte(`i2c_bus: -1`)); err == nil {
		t.Error("Negative bus accepted")
	}
}

func TestPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "gantryd.yaml")

	c := Default()
	c.Listen = ":1234"
	if err := c.Persist(path, false); err != nil {
		t.Fatal(err)
	}

	var exists ErrConfigFileExists
	if err := c.Persist(path, false); !errors.As(err, &exists) || exists.Path != path {
		t.Error("Existing file overwritten", err)
	}
	if err := c.Persist(path, true); err != nil {
		t.Error("Overwrite failed", err)
	}

	back, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if back.Listen != ":1234" || back.SenAUX.ADC.Addr != "0x49" {
		t.Error("Persisted config differs", back)
	}
}

func TestParseHelpers(t *testing.T) {
	if !AnyDummy("27", "DUMMY ") || AnyDummy("27", "0x48") {
		t.Error("Dummy detection wrong")
	}

	if pin, err := ParsePin("27"); err != nil || pin != 27 {
		t.Error("ParsePin", pin, err)
	}
	if _, err := ParsePin("0x1b"); err == nil {
		t.Error("Pin must be base 10")
	}

	for in, want := range map[string]uint16{"0x48": 0x48, "64": 0x64, "0X65": 0x65} {
		if addr, err := ParseAddr(in); err != nil || addr != want {
			t.Error("ParseAddr", in, addr, err)
		}
	}
	if _, err := ParseAddr("0x80"); err == nil {
		t.Error("8 bit address accepted")
	}
}
