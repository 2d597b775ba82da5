package gpio

import (
	"time"

	"github.com/yimuchen/GantryMQ/logging"
)

var _ Line = (*ChipLine)(nil)

// ChipLine is a pin requested through the GPIO character device. The pin
// index is the line offset on the chip.
type ChipLine struct {
	pin  int
	dir  Direction
	chip *Chip
	line *Lines
	log  logging.Source
}

// OpenChipLine requests one line from the chip at opts.ChipPath. Outputs
// start low.
func OpenChipLine(pin int, dir Direction, opts Options) (*ChipLine, error) {
	chip, err := OpenChip(opts.chipPath())
	if err != nil {
		return nil, err
	}

	line, err := chip.OpenLine(lineName(pin), dir.requestFlags(), LineRequest{
		Line: LineSpec{Offset: uint32(pin)},
	})
	if err != nil {
		chip.Close()
		return nil, err
	}

	l := &ChipLine{
		pin:  pin,
		dir:  dir,
		chip: chip,
		line: line,
		log:  logging.NewSource(opts.Log, lineName(pin)),
	}
	l.log.Debugf("Requested line [%d] on [%s] as [%s]", pin, chip.GetChipInfo().Name, dir)
	return l, nil
}

func (l *ChipLine) Pin() int             { return l.pin }
func (l *ChipLine) Direction() Direction { return l.dir }

func (l *ChipLine) Write(level bool) error {
	return l.line.SetValue(level)
}

func (l *ChipLine) Read() (bool, error) {
	return l.line.GetValue()
}

func (l *ChipLine) Pulse(n int, wait time.Duration) error {
	if err := l.line.handle.CheckValid(); err != nil {
		return err
	}

	for i := 0; i < n; i++ {
		l.line.setValueRaw(true)
		time.Sleep(pulseHigh)
		l.line.setValueRaw(false)
		time.Sleep(wait)
	}

	return nil
}

// Close releases the line and the chip. The kernel frees the line when its
// handle is closed, there is no unexport step.
func (l *ChipLine) Close() error {
	if l == nil {
		return nil
	}

	err := l.line.Close()
	if cerr := l.chip.Close(); err == nil {
		err = cerr
	}
	return err
}
