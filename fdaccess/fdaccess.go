// Package fdaccess wraps a single file descriptor to a kernel exposed
// resource (a sysfs attribute, an I2C bus node, a lock file).
//
// A Handle is either fully open (and locked, if exclusivity was requested) or
// fully closed. When Open fails, anything it opened is closed before the
// error is returned. The advisory lock is dropped by the kernel when the
// descriptor is closed, so there is no separate unlock step.
//
// A Handle does no internal locking for reads and writes. Callers sharing one
// handle must serialize their own transactions.
package fdaccess

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/yimuchen/GantryMQ/hwerr"
)

// Mode is the access mode a path is opened with
type Mode int

const (
	ReadOnly  Mode = unix.O_RDONLY
	WriteOnly Mode = unix.O_WRONLY
	ReadWrite Mode = unix.O_RDWR
)

func (m Mode) String() string {
	switch m {
	case ReadOnly:
		return "read-only"
	case WriteOnly:
		return "write-only"
	case ReadWrite:
		return "read-write"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// MaxRead is the buffer ceiling used by Read(0)
const MaxRead = 65535

// DefaultPollInterval is the interval used by WaitForPath
const DefaultPollInterval = 100 * time.Millisecond

// Handle owns one open file descriptor
type Handle struct {
	name      string
	path      string
	mode      Mode
	exclusive bool

	fd    int
	guard Guard
}

// Open opens path in the given mode. If exclusive is set, a non-blocking
// exclusive flock is taken immediately; if another holder exists, the
// descriptor is closed again and an hwerr.ErrLock error is returned.
func Open(name, path string, mode Mode, exclusive bool) (*Handle, error) {
	fd, err := unix.Open(path, int(mode)|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, hwerr.Wrap(hwerr.ErrOpen, name, path, err, "Failed to open path in %s mode", mode)
	}

	h := newHandle(name, path, mode, fd)
	h.exclusive = exclusive

	if exclusive {
		if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
			h.Close()
			return nil, hwerr.Wrap(hwerr.ErrLock, name, path, err, "Failed to lock path")
		}
	}

	return h, nil
}

// Adopt takes ownership of a descriptor obtained elsewhere, such as one
// returned by an ioctl. The descriptor is closed by the handle's Close.
func Adopt(name, path string, mode Mode, fd int) *Handle {
	return newHandle(name, path, mode, fd)
}

func newHandle(name, path string, mode Mode, fd int) *Handle {
	h := &Handle{
		name: name,
		path: path,
		mode: mode,
		fd:   fd,
	}
	h.guard.Release = func() error {
		fd := h.fd
		h.fd = -1
		return unix.Close(fd)
	}
	return h
}

// Name returns the logical device name
func (h *Handle) Name() string { return h.name }

// Path returns the backing path
func (h *Handle) Path() string { return h.path }

// Mode returns the access mode
func (h *Handle) Mode() Mode { return h.mode }

// Exclusive reports whether the handle was opened with a lock
func (h *Handle) Exclusive() bool { return h.exclusive }

// Valid reports whether the descriptor is open
func (h *Handle) Valid() bool {
	return h != nil && h.fd >= 0
}

// CheckValid returns an hwerr.ErrIO error if the descriptor is not open
func (h *Handle) CheckValid() error {
	if !h.Valid() {
		if h == nil {
			return hwerr.New(hwerr.ErrIO, "", "", "File descriptor not initialized")
		}
		return hwerr.New(hwerr.ErrIO, h.name, h.path, "File descriptor not initialized, fd value: [%d]", h.fd)
	}
	return nil
}

// Fd exposes the raw descriptor for ioctl calls. It is -1 once closed.
func (h *Handle) Fd() int {
	return h.fd
}

// Write writes message in a single call. A short write is an error and is
// not retried: the device protocols here are fixed length, so a partial
// write means the transaction is corrupt.
func (h *Handle) Write(message []byte) (int, error) {
	if err := h.CheckValid(); err != nil {
		return 0, err
	}

	n, err := unix.Write(h.fd, message)
	if err != nil {
		return n, hwerr.Wrap(hwerr.ErrIO, h.name, h.path, err, "Error writing [%s]", HexString(message))
	}
	if n != len(message) {
		return n, hwerr.New(hwerr.ErrIO, h.name, h.path, "Error writing [%s]. Expected [%d], got [%d]", HexString(message), len(message), n)
	}

	return n, nil
}

// WriteString is Write for text attributes
func (h *Handle) WriteString(message string) (int, error) {
	return h.Write([]byte(message))
}

// WriteRaw passes message straight to the write syscall. There is no
// validity or length check; it is meant for tight pulse loops where a
// dropped byte is preferable to the extra overhead.
func (h *Handle) WriteRaw(message []byte) {
	unix.Write(h.fd, message)
}

// Read reads from the descriptor. With n == 0 it reads whatever is
// available, up to MaxRead bytes. With n > 0 anything other than exactly n
// bytes is an error.
func (h *Handle) Read(n int) ([]byte, error) {
	if err := h.CheckValid(); err != nil {
		return nil, err
	}
	if n < 0 || n > MaxRead {
		return nil, hwerr.New(hwerr.ErrInvalidArgument, h.name, h.path, "Read length [%d] out of range", n)
	}

	size := n
	if n == 0 {
		size = MaxRead
	}
	buf := make([]byte, size)

	readlen, err := unix.Read(h.fd, buf)
	if err != nil {
		return nil, hwerr.Wrap(hwerr.ErrIO, h.name, h.path, err, "Error reading")
	}
	if n > 0 && readlen != n {
		return nil, hwerr.New(hwerr.ErrIO, h.name, h.path, "Mismatch message length. Expected [%d], got [%d]", n, readlen)
	}

	return buf[:readlen], nil
}

// ReadString is Read for text attributes
func (h *Handle) ReadString(n int) (string, error) {
	b, err := h.Read(n)
	return string(b), err
}

// Rewind seeks back to the start. Sysfs attributes need this before every
// read after the first.
func (h *Handle) Rewind() error {
	if err := h.CheckValid(); err != nil {
		return err
	}
	if _, err := unix.Seek(h.fd, 0, 0); err != nil {
		return hwerr.Wrap(hwerr.ErrIO, h.name, h.path, err, "Error seeking to start")
	}
	return nil
}

// Close releases the descriptor. It is idempotent: only the first call
// closes anything, and only that call can return an error.
func (h *Handle) Close() error {
	if h == nil {
		return nil
	}
	return h.guard.Close()
}

// WaitForPath blocks until path exists, polling every interval (or
// DefaultPollInterval when interval is not positive). There is no built-in
// timeout; the wait only ends early if ctx is done.
func WaitForPath(ctx context.Context, path string, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	for {
		if unix.Access(path, unix.F_OK) == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// HexString renders a byte message the way it appears in error text
func HexString(message []byte) string {
	var sb strings.Builder
	sb.WriteString("0x")
	for _, b := range message {
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}
