package gpio

import (
	"unsafe"

	"github.com/yimuchen/GantryMQ/hwerr"
)

func (gl *Lines) Close() error {
	return gl.handle.Close()
}

type handleDataRaw struct {
	values [64]uint8
}

func (gl *Lines) SetValues(values []bool) error {
	sd := handleDataRaw{}

	for i, b := range values {
		if i >= int(gl.numLines) {
			return hwerr.InvalidArgument(gl.handle.Name(), "Line index [%d] out of range", i)
		}

		if b {
			sd.values[i] = 1
		}
	}

	return ioctlPtr(gl.handle, gpiohandleSetLineValuesIoctl, unsafe.Pointer(&sd))
}

/* Drives the first line with no validity or result check, for pulse trains */
func (gl *Lines) setValueRaw(value bool) {
	sd := handleDataRaw{}
	if value {
		sd.values[0] = 1
	}
	ioctlRaw(gl.handle.Fd(), gpiohandleSetLineValuesIoctl, unsafe.Pointer(&sd))
}

func (gl *Lines) GetValues() ([]bool, error) {
	gd := handleDataRaw{}

	err := ioctlPtr(gl.handle, gpiohandleGetLineValuesIoctl, unsafe.Pointer(&gd))
	if err != nil {
		return nil, err
	}

	output := make([]bool, gl.numLines)
	for i := uint32(0); i < gl.numLines; i++ {
		output[i] = gd.values[i] > 0
	}

	return output, nil
}

func (gl *Lines) SetValue(value bool) error {
	return gl.SetValues([]bool{value})
}

func (gl *Lines) GetValue() (bool, error) {
	output, err := gl.GetValues()
	if output == nil || err != nil {
		return false, err
	}

	return output[0], err
}
