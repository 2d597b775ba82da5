package ads1115

import (
	"bytes"
	"errors"
	"testing"

	"tinygo.org/x/drivers"

	"github.com/yimuchen/GantryMQ/hwerr"
)

var _ drivers.I2C = (*fakeI2C)(nil)

type fakeI2C struct {
	writes [][]byte
	reads  []int
	sample []byte
}

func (f *fakeI2C) Tx(addr uint16, w, r []byte) error {
	if len(w) > 0 {
		f.writes = append(f.writes, append([]byte(nil), w...))
	}
	if len(r) > 0 {
		f.reads = append(f.reads, len(r))
		copy(r, f.sample)
	}
	return nil
}

func newTestDevice(sample []byte) (*Device, *fakeI2C) {
	bus := &fakeI2C{sample: sample}
	d := New(bus, 0x48, nil)
	d.Settle = 0
	return d, bus
}

func TestTransactionBytes(t *testing.T) {
	d, bus := newTestDevice([]byte{0x40, 0x00})

	if _, err := d.ReadMillivolts(0, Range4V, Rate250SPS); err != nil {
		t.Fatal(err)
	}

	if len(bus.writes) != 2 {
		t.Fatal("Expected 2 writes, got", len(bus.writes))
	}
	if !bytes.Equal(bus.writes[0], []byte{1, 0xC3, 0xA3}) {
		t.Errorf("Wrong config frame %X", bus.writes[0])
	}
	if !bytes.Equal(bus.writes[1], []byte{0}) {
		t.Errorf("Wrong pointer frame %X", bus.writes[1])
	}
	if len(bus.reads) != 1 || bus.reads[0] != 2 {
		t.Error("Expected one 2 byte read", bus.reads)
	}
}

func TestConfigWordChannelOne(t *testing.T) {
	/* 0b11010011, 0b10100011 */
	word, err := ConfigWord(1, Range4V, Rate250SPS)
	if err != nil {
		t.Fatal(err)
	}
	if word[0] != 0xD3 || word[1] != 0xA3 {
		t.Errorf("Wrong config word %X", word)
	}
}

func TestConfigWordFields(t *testing.T) {
	for ch := uint8(0); ch < 4; ch++ {
		for r := Range6V; r <= Range02V; r++ {
			for rate := Rate8SPS; rate <= Rate860SPS; rate++ {
				word, err := ConfigWord(ch, r, rate)
				if err != nil {
					t.Fatal(err)
				}
				if (word[0]>>4)&0x3 != ch || (word[0]>>1)&0x7 != uint8(r) || word[0]&0xC1 != 0xC1 {
					t.Errorf("Bad byte1 %08b for %d/%d", word[0], ch, r)
				}
				if word[1]>>5 != uint8(rate) || word[1]&0x1F != 0x03 {
					t.Errorf("Bad byte2 %08b for rate %d", word[1], rate)
				}
			}
		}
	}
}

func TestScaling(t *testing.T) {
	cases := []struct {
		sample []byte
		r      Range
		mv     float64
	}{
		{[]byte{0x40, 0x00}, Range6V, 3072},
		{[]byte{0x40, 0x00}, Range4V, 2048},
		{[]byte{0xC0, 0x00}, Range2V, -1024},
		{[]byte{0x00, 0x00}, Range02V, 0},
		{[]byte{0x80, 0x00}, Range1V, -1024},
	}

	for _, c := range cases {
		d, _ := newTestDevice(c.sample)
		mv, err := d.ReadMillivolts(2, c.r, Rate128SPS)
		if err != nil {
			t.Fatal(err)
		}
		if mv != c.mv {
			t.Errorf("Range %d sample %X: got %f, want %f", c.r, c.sample, mv, c.mv)
		}
	}
}

func TestScaleMonotonic(t *testing.T) {
	prev := 0.0
	for r := Range6V; r <= Range02V; r++ {
		d, _ := newTestDevice([]byte{0x7F, 0xFF})
		mv, err := d.ReadMillivolts(0, r, Rate860SPS)
		if err != nil {
			t.Fatal(err)
		}
		if r > Range6V && mv >= prev {
			t.Errorf("Range %d not smaller than previous: %f >= %f", r, mv, prev)
		}
		prev = mv
	}
}

func TestInvalidArguments(t *testing.T) {
	d, bus := newTestDevice(nil)

	if _, err := d.ReadMillivolts(4, Range4V, Rate8SPS); !errors.Is(err, hwerr.ErrInvalidArgument) {
		t.Error("Channel 4 accepted:", err)
	}
	if _, err := d.ReadMillivolts(0, Range(6), Rate8SPS); !errors.Is(err, hwerr.ErrInvalidArgument) {
		t.Error("Range 6 accepted:", err)
	}
	if _, err := d.ReadMillivolts(0, Range4V, Rate(8)); !errors.Is(err, hwerr.ErrInvalidArgument) {
		t.Error("Rate 8 accepted:", err)
	}
	if _, err := FullScale(Range(9)); !errors.Is(err, hwerr.ErrInvalidArgument) {
		t.Error("FullScale accepted bad range")
	}

	if len(bus.writes) != 0 {
		t.Error("Invalid request reached the bus")
	}
}

func TestBusErrorStopsTransaction(t *testing.T) {
	bus := &failingI2C{}
	d := New(bus, 0x48, nil)
	d.Settle = 0

	if _, err := d.ReadMillivolts(0, Range4V, Rate8SPS); !errors.Is(err, hwerr.ErrBus) {
		t.Error("Bus failure not propagated:", err)
	}
	if bus.calls != 1 {
		t.Error("Transaction continued after failure", bus.calls)
	}
}

type failingI2C struct {
	calls int
}

func (f *failingI2C) Tx(addr uint16, w, r []byte) error {
	f.calls++
	return hwerr.New(hwerr.ErrBus, "i2c-1", "/dev/i2c-1", "Failed to select device address [0x%02X]", addr)
}

func TestOwnedCloseOnShared(t *testing.T) {
	d, _ := newTestDevice(nil)
	if d.Close() != nil {
		t.Error("Close on a shared bus device failed")
	}
	if d.Address() != 0x48 {
		t.Error("Wrong address", d.Address())
	}
}

type selectorBus struct {
	fakeI2C
	selectErr error
	closed    int
}

func (s *selectorBus) SetAddress(addr uint16) error { return s.selectErr }
func (s *selectorBus) Close() error                 { s.closed++; return nil }

func TestAttach(t *testing.T) {
	bad := &selectorBus{selectErr: hwerr.New(hwerr.ErrBus, "i2c-1", "/dev/i2c-1", "no ack")}
	if _, err := Attach(bad, 0x48, nil); !errors.Is(err, hwerr.ErrBus) {
		t.Error("Selection failure not returned", err)
	}
	if bad.closed != 1 {
		t.Error("Bus not closed after failed attach", bad.closed)
	}

	good := &selectorBus{}
	d, err := Attach(good, 0x49, nil)
	if err != nil {
		t.Fatal(err)
	}
	d.Close()
	if good.closed != 1 {
		t.Error("Owned bus not closed", good.closed)
	}
}
