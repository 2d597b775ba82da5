package gpio

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/yimuchen/GantryMQ/fdaccess"
	"github.com/yimuchen/GantryMQ/hwerr"
)

// ChipPath returns the character device of a GPIO chip
func ChipPath(chip int) string {
	return fmt.Sprintf("/dev/gpiochip%d", chip)
}

func (g *Chip) readChipInfo() error {
	type chipInfoRaw struct {
		Name  [32]byte
		Label [32]byte
		Lines uint32
	}
	var ci chipInfoRaw

	err := ioctlPtr(g.handle, gpioGetChipinfoIoctl, unsafe.Pointer(&ci))
	if err != nil {
		return err
	}

	g.chipInfo.Name = bytesToString(ci.Name[:])
	g.chipInfo.Label = bytesToString(ci.Label[:])
	g.chipInfo.Lines = ci.Lines

	return nil
}

func (g *Chip) readLineNames() error {
	names := make(map[string](uint32))

	for i := uint32(0); i < g.chipInfo.Lines; i++ {
		line, err := g.GetLineInfo(i)
		if err != nil {
			return err
		}

		names[line.Name] = i
	}

	g.lineNames = names

	return nil
}

// OpenChip opens a GPIO chip character device. The chip node itself is not
// locked, the kernel arbitrates ownership per line.
func OpenChip(path string) (*Chip, error) {
	g := &Chip{}

	var err error
	g.handle, err = fdaccess.Open("gpiochip", path, fdaccess.ReadWrite, false)
	if err != nil {
		return nil, err
	}

	err = g.readChipInfo()
	if err != nil {
		g.handle.Close()
		return nil, err
	}

	err = g.readLineNames()
	if err != nil {
		g.handle.Close()
		return nil, err
	}

	return g, nil
}

func (g *Chip) Close() error {
	return g.handle.Close()
}

func (g *Chip) GetChipInfo() ChipInfo {
	return g.chipInfo
}

func (g *Chip) GetLineInfo(line uint32) (LineInfo, error) {
	result := LineInfo{
		LineOffset: line,
	}

	if result.LineOffset >= g.chipInfo.Lines {
		return result, hwerr.InvalidArgument(g.chipInfo.Name, "Line [%d] out of range", line)
	}

	type lineInfoRaw struct {
		LineOffset uint32
		Flags      uint32
		Name       [32]byte
		Consumer   [32]byte
	}

	li := lineInfoRaw{
		LineOffset: result.LineOffset,
	}

	err := ioctlPtr(g.handle, gpioGetLineinfoIoctl, unsafe.Pointer(&li))
	if err != nil {
		return result, err
	}

	result.Flags = LineFlag(li.Flags)
	result.Name = bytesToString(li.Name[:])
	result.Consumer = bytesToString(li.Consumer[:])

	return result, nil
}

func (g *Chip) findLineByName(name string) (uint32, error) {
	if index, found := g.lineNames[name]; found {
		return index, nil
	}
	return 0, hwerr.InvalidArgument(g.chipInfo.Name, "Line name %q not found", name)
}

func (g *Chip) OpenLine(label string, flags RequestFlag, line LineRequest) (*Lines, error) {
	return g.OpenLines(label, flags, []LineRequest{line})
}

// OpenLines requests a handle for up to 64 lines. The kernel refuses the
// request with EBUSY if any line already has a consumer.
func (g *Chip) OpenLines(label string, flags RequestFlag, lines []LineRequest) (*Lines, error) {
	if len(lines) > 64 || len(lines) == 0 {
		return nil, hwerr.InvalidArgument(label, "Invalid number of lines [%d]", len(lines))
	}

	type handleRequestRaw struct {
		LineOffsets   [64]uint32
		Flags         uint32
		DefaultValues [64]uint8
		ConsumerLabel [32]byte
		Lines         uint32
		Fd            int32
	}

	req := handleRequestRaw{
		Flags: uint32(flags),
		Lines: uint32(len(lines)),
	}
	stringToBytes(label, req.ConsumerLabel[:])

	for i, l := range lines {
		if len(l.Line.Name) != 0 {
			off, err := g.findLineByName(l.Line.Name)
			if err != nil {
				return nil, err
			}

			req.LineOffsets[i] = off
		} else {
			req.LineOffsets[i] = l.Line.Offset
		}

		if req.LineOffsets[i] >= g.chipInfo.Lines {
			return nil, hwerr.InvalidArgument(label, "Line [%d] out of range", req.LineOffsets[i])
		}

		req.DefaultValues[i] = l.DefaultValue
	}

	err := ioctlPtr(g.handle, gpioGetLinehandleIoctl, unsafe.Pointer(&req))
	if errors.Is(err, unix.EBUSY) {
		return nil, hwerr.Wrap(hwerr.ErrLock, label, g.handle.Path(), err, "Line already has a consumer")
	}
	if err != nil {
		return nil, err
	}

	if req.Fd <= 0 {
		return nil, hwerr.New(hwerr.ErrOpen, label, g.handle.Path(), "Invalid file descriptor returned")
	}

	gl := &Lines{
		handle:   fdaccess.Adopt(label, g.handle.Path(), fdaccess.ReadWrite, int(req.Fd)),
		numLines: req.Lines,
	}

	return gl, nil
}
