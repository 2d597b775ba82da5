package gpio

import (
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/yimuchen/GantryMQ/fdaccess"
	"github.com/yimuchen/GantryMQ/hwerr"
)

func ioctlPtr(h *fdaccess.Handle, function uintptr, data unsafe.Pointer) error {
	if err := h.CheckValid(); err != nil {
		return err
	}

	_, _, errNo := unix.Syscall(
		unix.SYS_IOCTL,
		uintptr(h.Fd()),
		function,
		uintptr(data),
	)
	if errNo != 0 {
		return hwerr.Wrap(hwerr.ErrIO, h.Name(), h.Path(), errNo, "IOCTL [0x%08x] failed", function)
	}

	return nil
}

func ioctlRaw(fd int, function uintptr, data unsafe.Pointer) {
	unix.Syscall(unix.SYS_IOCTL, uintptr(fd), function, uintptr(data))
}

func bytesToString(input []byte) string {
	return strings.TrimRight(string(input), "\x00")
}

func stringToBytes(input string, output []byte) {
	n := copy(output, input)

	if n >= len(output) {
		n = len(output) - 1
	}

	// Null terminate string
	output[n] = 0
}
