package gpio

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/yimuchen/GantryMQ/fdaccess"
	"github.com/yimuchen/GantryMQ/hwerr"
	"github.com/yimuchen/GantryMQ/logging"
)

// DefaultSysfsRoot is where the kernel exposes the legacy GPIO interface
const DefaultSysfsRoot = "/sys/class/gpio"

const pulseHigh = 500 * time.Nanosecond

var _ Line = (*SysfsLine)(nil)

// SysfsLine is a pin exported through sysfs. The value file is held with an
// exclusive lock for the lifetime of the line, and the pin is unexported
// exactly once when the line is closed.
type SysfsLine struct {
	pin  int
	dir  Direction
	root string

	value *fdaccess.Handle
	log   logging.Source

	unexport fdaccess.Guard
}

// OpenSysfs exports pin, waits for the kernel to create its attributes,
// sets the direction and opens the locked value file. If any step after
// our own export fails, the pin is unexported again before returning.
func OpenSysfs(ctx context.Context, pin int, dir Direction, opts Options) (*SysfsLine, error) {
	l := &SysfsLine{
		pin:  pin,
		dir:  dir,
		root: opts.sysfsRoot(),
		log:  logging.NewSource(opts.Log, lineName(pin)),
	}
	l.unexport.Release = l.doUnexport

	exported, err := l.export()
	if err != nil {
		return nil, err
	}
	if !exported {
		/* Someone else exported it, only unexport once we own the value file */
		l.unexport.Release = nil
	}

	fail := func(err error) (*SysfsLine, error) {
		l.unexport.Close()
		return nil, err
	}

	sleepCtx(ctx, opts.ExportSettle)

	dirPath := l.attrPath("direction")
	if err := fdaccess.WaitForPath(ctx, dirPath, opts.PollInterval); err != nil {
		return fail(hwerr.Wrap(hwerr.ErrOpen, lineName(pin), dirPath, err, "Gave up waiting for direction path"))
	}

	sleepCtx(ctx, opts.ExportSettle)

	dh, err := fdaccess.Open("GPIO_dir", dirPath, fdaccess.ReadWrite, false)
	if err != nil {
		return fail(err)
	}
	_, err = dh.WriteString(dir.String())
	dh.Close()
	if err != nil {
		return fail(err)
	}

	l.value, err = fdaccess.Open(lineName(pin), l.attrPath("value"), dir.mode(), true)
	if err != nil {
		if errors.Is(err, hwerr.ErrLock) {
			/* Another owner holds the line, leave its export alone */
			l.unexport.Release = nil
		}
		return fail(err)
	}

	l.unexport.Release = l.doUnexport
	l.log.Debugf("Opened pin [%d] as [%s]", pin, dir)
	return l, nil
}

func (l *SysfsLine) attrPath(attr string) string {
	return filepath.Join(l.root, "gpio"+strconv.Itoa(l.pin), attr)
}

/* Returns false if the pin was already exported */
func (l *SysfsLine) export() (bool, error) {
	h, err := fdaccess.Open("GPIO_export", filepath.Join(l.root, "export"), fdaccess.WriteOnly, false)
	if err != nil {
		return false, err
	}
	defer h.Close()

	_, err = h.WriteString(strconv.Itoa(l.pin))
	if errors.Is(err, unix.EBUSY) {
		l.log.Warnf("Pin [%d] was already exported", l.pin)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return true, nil
}

func (l *SysfsLine) doUnexport() error {
	l.log.Debugf("Unexporting pin [%d]", l.pin)

	h, err := fdaccess.Open("GPIO_unexport", filepath.Join(l.root, "unexport"), fdaccess.WriteOnly, false)
	if err == nil {
		_, err = h.WriteString(strconv.Itoa(l.pin))
		h.Close()
	}
	if err != nil {
		l.log.Warnf("Failed to unexport pin [%d]: %v", l.pin, err)
	}

	return nil
}

func (l *SysfsLine) Pin() int             { return l.pin }
func (l *SysfsLine) Direction() Direction { return l.dir }

// Write rewinds before writing so that the value file always holds one level
func (l *SysfsLine) Write(level bool) error {
	if err := l.value.Rewind(); err != nil {
		return err
	}
	_, err := l.value.WriteString(levelString(level))
	return err
}

func (l *SysfsLine) Read() (bool, error) {
	if err := l.value.Rewind(); err != nil {
		return false, err
	}

	s, err := l.value.ReadString(0)
	if err != nil {
		return false, err
	}

	return strings.TrimSpace(s) == "1", nil
}

func (l *SysfsLine) Pulse(n int, wait time.Duration) error {
	if err := l.value.CheckValid(); err != nil {
		return err
	}

	high := []byte("1")
	low := []byte("0")
	for i := 0; i < n; i++ {
		l.value.WriteRaw(high)
		time.Sleep(pulseHigh)
		l.value.WriteRaw(low)
		time.Sleep(wait)
	}

	return nil
}

// Close releases the value file and unexports the pin. Unexport failures
// are logged, not returned.
func (l *SysfsLine) Close() error {
	if l == nil {
		return nil
	}

	err := l.value.Close()
	l.unexport.Close()
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
