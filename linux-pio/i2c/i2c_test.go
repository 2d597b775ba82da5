package i2c

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/yimuchen/GantryMQ/hwerr"
)

type recordingBus struct {
	writes [][]byte
	reply  []byte
	addrs  []uint16
}

func (r *recordingBus) Tx(addr uint16, w, rd []byte) error {
	r.addrs = append(r.addrs, addr)
	if w != nil {
		r.writes = append(r.writes, append([]byte(nil), w...))
	}
	copy(rd, r.reply)
	return nil
}

func TestOpenMissingBus(t *testing.T) {
	_, err := OpenPath("i2c-x", filepath.Join(t.TempDir(), "i2c-99"))
	if !errors.Is(err, hwerr.ErrOpen) {
		t.Error("Expected open error, got", err)
	}
}

func TestSelectOnNonAdapter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "i2c-1")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}

	b, err := OpenPath("i2c-1", path)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	/* A regular file rejects the address ioctl */
	if err := b.SetAddress(0x48); !errors.Is(err, hwerr.ErrBus) {
		t.Error("Expected bus error, got", err)
	}
	if err := b.Tx(0x48, []byte{0}, nil); !errors.Is(err, hwerr.ErrBus) {
		t.Error("Tx did not surface the bus error:", err)
	}

	b.Close()
	if err := b.SetAddress(0x48); !errors.Is(err, hwerr.ErrIO) {
		t.Error("Select on closed bus returned", err)
	}
}

func TestBusPath(t *testing.T) {
	if BusPath(1) != "/dev/i2c-1" {
		t.Error("Wrong bus path", BusPath(1))
	}
}

func TestDeviceHelpers(t *testing.T) {
	bus := &recordingBus{reply: []byte{0xFF, 0x38}}
	d := NewDevice(bus, 0x48)

	if err := d.WriteReg16(1, 0xC3A3); err != nil {
		t.Fatal(err)
	}
	if string(bus.writes[0]) != string([]byte{1, 0xC3, 0xA3}) {
		t.Errorf("Wrong frame %X", bus.writes[0])
	}

	v, err := d.ReadInt16()
	if err != nil || v != -200 {
		t.Error("Wrong signed decode", v, err)
	}

	for _, a := range bus.addrs {
		if a != 0x48 {
			t.Error("Wrong address used", a)
		}
	}
}
