package gantry

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/yimuchen/GantryMQ/hwerr"
	"github.com/yimuchen/GantryMQ/linux-pio/gpio"
	"github.com/yimuchen/GantryMQ/linux-pio/i2c"
)

/* Chips on the fake bus, keyed by address */
type fakeChips struct {
	adc     map[uint16]map[uint8]int16
	adcMux  map[uint16]uint8
	dac     map[uint16][3]byte
	present map[uint16]bool

	opened, closed int
}

func newFakeChips() *fakeChips {
	return &fakeChips{
		adc:     map[uint16]map[uint8]int16{},
		adcMux:  map[uint16]uint8{},
		dac:     map[uint16][3]byte{},
		present: map[uint16]bool{},
	}
}

func (c *fakeChips) addADC(addr uint16, raw map[uint8]int16) {
	c.present[addr] = true
	c.adc[addr] = raw
}

func (c *fakeChips) addDAC(addr uint16) {
	c.present[addr] = true
	c.dac[addr] = [3]byte{}
}

func (c *fakeChips) dacCode(addr uint16) int {
	f := c.dac[addr]
	return int(f[1])<<4 | int(f[2])>>4
}

func (c *fakeChips) open(busID int) (i2c.Selector, error) {
	c.opened++
	return &fakeBus{chips: c}, nil
}

type fakeBus struct {
	chips  *fakeChips
	closed bool
}

func (b *fakeBus) SetAddress(addr uint16) error {
	if !b.chips.present[addr] {
		return hwerr.New(hwerr.ErrBus, "i2c-1", "/dev/i2c-1", "Failed to select device address [0x%02X]", addr)
	}
	return nil
}

func (b *fakeBus) Tx(addr uint16, w, r []byte) error {
	c := b.chips
	if raw, ok := c.adc[addr]; ok {
		if len(w) == 3 && w[0] == 1 {
			c.adcMux[addr] = (w[1] >> 4) & 0x3
		}
		if len(r) == 2 {
			v := raw[c.adcMux[addr]]
			r[0], r[1] = byte(uint16(v)>>8), byte(v)
		}
		return nil
	}
	if frame, ok := c.dac[addr]; ok {
		if len(w) == 3 {
			copy(frame[:], w)
			c.dac[addr] = frame
		}
		if len(r) > 0 {
			copy(r, frame[:])
		}
		return nil
	}
	return hwerr.New(hwerr.ErrIO, "i2c-1", "/dev/i2c-1", "No chip at [0x%02X]", addr)
}

func (b *fakeBus) Close() error {
	if !b.closed {
		b.closed = true
		b.chips.closed++
	}
	return nil
}

/* Temporary directory laid out like /sys/class/gpio with pins exported */
func fakeSysfs(t *testing.T, pins ...int) string {
	root := t.TempDir()
	for _, f := range []string{"export", "unexport"} {
		if err := os.WriteFile(filepath.Join(root, f), nil, 0644); err != nil {
			t.Fatal(err)
		}
	}
	for _, pin := range pins {
		dir := filepath.Join(root, "gpio"+strconv.Itoa(pin))
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
		for _, f := range []string{"direction", "value"} {
			if err := os.WriteFile(filepath.Join(dir, f), nil, 0644); err != nil {
				t.Fatal(err)
			}
		}
	}
	return root
}

func pinFile(t *testing.T, root string, pin int, attr string) string {
	b, err := os.ReadFile(filepath.Join(root, "gpio"+strconv.Itoa(pin), attr))
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func testEnv(root string, chips *fakeChips) Env {
	return Env{
		I2CBus:  1,
		OpenBus: chips.open,
		GPIO: gpio.Options{
			Backend:      gpio.BackendSysfs,
			SysfsRoot:    root,
			PollInterval: time.Millisecond,
		},
	}
}

func call(t *testing.T, m map[string]Method, name string, args ...interface{}) (interface{}, error) {
	t.Helper()

	f, ok := m[name]
	if !ok {
		t.Fatalf("No method %q", name)
	}

	raw := make([]json.RawMessage, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			t.Fatal(err)
		}
		raw[i] = b
	}
	return f(context.Background(), raw)
}

func TestDecodeArgs(t *testing.T) {
	var a int
	var b float64

	if err := decodeArgs("X", []json.RawMessage{json.RawMessage("3")}, 1, &a, &b); err != nil || a != 3 {
		t.Error("Optional argument missing gave", a, err)
	}
	if err := decodeArgs("X", nil, 1, &a); !errors.Is(err, hwerr.ErrInvalidArgument) {
		t.Error("Missing argument accepted:", err)
	}
	args := []json.RawMessage{json.RawMessage("1"), json.RawMessage("2"), json.RawMessage("3")}
	if err := decodeArgs("X", args, 0, &a, &b); !errors.Is(err, hwerr.ErrInvalidArgument) {
		t.Error("Extra argument accepted:", err)
	}
	if err := decodeArgs("X", []json.RawMessage{json.RawMessage(`"x"`)}, 1, &a); !errors.Is(err, hwerr.ErrInvalidArgument) {
		t.Error("Wrong type accepted:", err)
	}
}

func TestCloseAllSkipsNil(t *testing.T) {
	chips := newFakeChips()
	bus, _ := chips.open(1)

	var line gpio.Line
	if err := closeAll(line, bus); err != nil {
		t.Error(err)
	}
	if chips.closed != 1 {
		t.Error("Bus not closed")
	}
}
