// Package config loads the daemon configuration. Files may be YAML or JSON.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"sigs.k8s.io/yaml"
)

const (
	DefaultListen    = ":8989"
	DefaultStateDB   = "/var/lib/gantrymq/state.db"
	DefaultLogLevel  = "info"
	DefaultSysfsRoot = "/sys/class/gpio"
	DefaultI2CBus    = 1
	DefaultDRSLock   = "/tmp/drs.lock"

	// Dummy in place of a pin or address puts the whole instrument in dummy mode
	Dummy = "dummy"
)

type ErrConfigFileExists struct {
	Path string
}

func (e ErrConfigFileExists) Error() string {
	return fmt.Sprintf("Config file already exists: %s", e.Path)
}

type HVLVConfig struct {
	HVEnableGPIO string `json:"hv_enable_gpio"`
	HVLVADCAddr  string `json:"hvlv_adc_addr"`
	HVDACAddr    string `json:"hv_dac_addr"`
	LVDACAddr    string `json:"lv_dac_addr"`
}

type ADCConfig struct {
	Addr string     `json:"addr"`
	C1   [2]float64 `json:"c1"`
	C2   [2]float64 `json:"c2"`
	C3   [2]float64 `json:"c3"`
}

type SenAUXConfig struct {
	PD1GPIO string    `json:"pd1_gpio"`
	PD2GPIO string    `json:"pd2_gpio"`
	F1GPIO  string    `json:"f1_gpio"`
	F2GPIO  string    `json:"f2_gpio"`
	ADC     ADCConfig `json:"adc"`
}

type DRSConfig struct {
	Enabled  bool   `json:"enabled"`
	LockFile string `json:"lock_file,omitempty"`
	// Driver is "sim" or "dummy". No vendor binding is built in.
	Driver string `json:"driver,omitempty"`
}

type Config struct {
	Listen        string `json:"listen,omitempty"`
	StateDB       string `json:"state_db,omitempty"`
	LogLevel      string `json:"log_level,omitempty"`
	GPIOBackend   string `json:"gpio_backend,omitempty"`
	GPIOSysfsRoot string `json:"gpio_sysfs_root,omitempty"`
	GPIOChip      string `json:"gpio_chip,omitempty"`
	I2CBus        int    `json:"i2c_bus"`

	HVLV   *HVLVConfig   `json:"hvlv,omitempty"`
	SenAUX *SenAUXConfig `json:"senaux,omitempty"`
	DRS    *DRSConfig    `json:"drs,omitempty"`
}

// Default returns a configuration with every instrument in dummy mode
func Default() *Config {
	return &Config{
		Listen:        DefaultListen,
		StateDB:       DefaultStateDB,
		LogLevel:      DefaultLogLevel,
		GPIOBackend:   "sysfs",
		GPIOSysfsRoot: DefaultSysfsRoot,
		GPIOChip:      "/dev/gpiochip0",
		I2CBus:        DefaultI2CBus,
		HVLV: &HVLVConfig{
			HVEnableGPIO: Dummy,
			HVLVADCAddr:  "0x48",
			HVDACAddr:    "0x64",
			LVDACAddr:    "0x65",
		},
		SenAUX: &SenAUXConfig{
			PD1GPIO: Dummy,
			PD2GPIO: "23",
			F1GPIO:  "20",
			F2GPIO:  "21",
			ADC: ADCConfig{
				Addr: "0x49",
				C1:   [2]float64{10000, 0},
				C2:   [2]float64{10000, 0},
				C3:   [2]float64{10000, 0},
			},
		},
		DRS: &DRSConfig{
			Enabled:  true,
			LockFile: DefaultDRSLock,
			Driver:   "sim",
		},
	}
}

// Load reads path over the defaults
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML or JSON over the defaults
func Parse(data []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the fields that cannot be checked by the instruments
func (c *Config) Validate() error {
	switch c.GPIOBackend {
	case "", "sysfs", "cdev":
	default:
		return fmt.Errorf("Unknown gpio_backend %q. Must be sysfs or cdev", c.GPIOBackend)
	}
	if c.I2CBus < 0 {
		return fmt.Errorf("Invalid i2c_bus %d", c.I2CBus)
	}
	return nil
}

// Persist writes the configuration to path. An existing file is only
// replaced if overwrite is set.
func (c *Config) Persist(path string, overwrite bool) error {
	if _, err := os.Stat(path); err == nil && !overwrite {
		return ErrConfigFileExists{Path: path}
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	err = os.MkdirAll(filepath.Dir(path), 0755)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// IsDummy reports whether a pin or address string requests dummy mode
func IsDummy(s string) bool {
	return strings.EqualFold(strings.TrimSpace(s), Dummy)
}

// AnyDummy reports whether any of the strings requests dummy mode
func AnyDummy(values ...string) bool {
	for _, v := range values {
		if IsDummy(v) {
			return true
		}
	}
	return false
}

// ParsePin parses a base 10 GPIO pin number
func ParsePin(s string) (int, error) {
	pin, err := strconv.ParseUint(strings.TrimSpace(s), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("Invalid GPIO pin %q: %w", s, err)
	}
	return int(pin), nil
}

// ParseAddr parses a base 16 I2C address, with or without 0x prefix
func ParseAddr(s string) (uint16, error) {
	v := strings.TrimSpace(s)
	v = strings.TrimPrefix(strings.TrimPrefix(v, "0x"), "0X")
	addr, err := strconv.ParseUint(v, 16, 7)
	if err != nil {
		return 0, fmt.Errorf("Invalid I2C address %q: %w", s, err)
	}
	return uint16(addr), nil
}
