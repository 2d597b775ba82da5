package mcp4725

import (
	"bytes"
	"errors"
	"testing"

	"tinygo.org/x/drivers"

	"github.com/yimuchen/GantryMQ/hwerr"
)

var _ drivers.I2C = (*fakeDAC)(nil)

/* Stores the last written register and returns it on read, like the chip */
type fakeDAC struct {
	last   []byte
	writes int
}

func (f *fakeDAC) Tx(addr uint16, w, r []byte) error {
	if len(w) > 0 {
		f.writes++
		f.last = append([]byte(nil), w...)
	}
	if len(r) > 0 {
		r[0] = 0xC0
		copy(r[1:], f.last[1:])
	}
	return nil
}

func TestEncode(t *testing.T) {
	frame, err := Encode(0xABC)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(frame[:], []byte{0x40, 0xAB, 0xC0}) {
		t.Errorf("Wrong frame %X", frame)
	}

	if _, err := Encode(4096); !errors.Is(err, hwerr.ErrInvalidArgument) {
		t.Error("4096 accepted:", err)
	}
}

func TestRoundTrip(t *testing.T) {
	for v := uint16(0); v <= MaxValue; v++ {
		frame, err := Encode(v)
		if err != nil {
			t.Fatal(err)
		}
		if got := Decode(frame); got != v {
			t.Fatalf("Round trip %d -> %d", v, got)
		}
	}
}

func TestDeviceSetRead(t *testing.T) {
	bus := &fakeDAC{}
	d := New(bus, 0x60, nil)

	if err := d.SetValue(1234); err != nil {
		t.Fatal(err)
	}
	v, err := d.ReadValue()
	if err != nil || v != 1234 {
		t.Error("Read back", v, err)
	}

	if err := d.SetValue(5000); !errors.Is(err, hwerr.ErrInvalidArgument) {
		t.Error("Out of range value accepted:", err)
	}
	if bus.writes != 1 {
		t.Error("Invalid value reached the bus")
	}
}

type selectorBus struct {
	fakeDAC
	selectErr error
	closed    int
}

func (s *selectorBus) SetAddress(addr uint16) error { return s.selectErr }
func (s *selectorBus) Close() error                 { s.closed++; return nil }

func TestAttach(t *testing.T) {
	bad := &selectorBus{selectErr: hwerr.New(hwerr.ErrBus, "i2c-1", "/dev/i2c-1", "no ack")}
	if _, err := Attach(bad, 0x60, nil); !errors.Is(err, hwerr.ErrBus) || bad.closed != 1 {
		t.Error("Failed attach returned", err, bad.closed)
	}

	good := &selectorBus{}
	d, err := Attach(good, 0x60, nil)
	if err != nil {
		t.Fatal(err)
	}
	d.Close()
	d.Close()
	if good.closed != 2 {
		t.Error("Close not forwarded to the owned bus", good.closed)
	}
}
