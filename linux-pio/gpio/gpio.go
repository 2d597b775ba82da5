// Package gpio gives exclusive access to single GPIO lines.
//
// Two backends exist. SysfsLine uses the legacy /sys/class/gpio interface
// (export, direction, value, unexport). ChipLine uses the GPIO character
// device, where the kernel itself enforces single ownership of a line.
package gpio

import (
	"context"
	"fmt"
	"time"

	"github.com/yimuchen/GantryMQ/fdaccess"
	"github.com/yimuchen/GantryMQ/hwerr"
	"github.com/yimuchen/GantryMQ/logging"
)

// Direction of a line
type Direction int

const (
	Read Direction = iota
	Write
	ReadWrite
)

func (d Direction) String() string {
	switch d {
	case Read:
		return "in"
	case Write, ReadWrite:
		return "out"
	}
	return fmt.Sprintf("direction(%d)", int(d))
}

func (d Direction) mode() fdaccess.Mode {
	switch d {
	case Read:
		return fdaccess.ReadOnly
	case Write:
		return fdaccess.WriteOnly
	}
	return fdaccess.ReadWrite
}

// Line is one opened GPIO pin
type Line interface {
	Pin() int
	Direction() Direction

	// Write drives the line, checked
	Write(level bool) error
	// Read returns true if the line is high
	Read() (bool, error)
	// Pulse generates n high/low pulses, each about 0.5µs high followed by
	// wait low. Writes inside the loop are unchecked.
	Pulse(n int, wait time.Duration) error

	Close() error
}

// Backend names
const (
	BackendSysfs = "sysfs"
	BackendCdev  = "cdev"
)

// Options tune how a line is opened. A zero ExportSettle skips the settle
// waits, real hardware should start from DefaultOptions.
type Options struct {
	// Backend is BackendSysfs (default) or BackendCdev
	Backend string

	// SysfsRoot defaults to DefaultSysfsRoot
	SysfsRoot string
	// ExportSettle is waited after export and again after the direction path appears
	ExportSettle time.Duration
	// PollInterval is used while waiting for the direction path
	PollInterval time.Duration

	// ChipPath defaults to /dev/gpiochip0
	ChipPath string

	Log logging.Emitter
}

func (o *Options) sysfsRoot() string {
	if o.SysfsRoot == "" {
		return DefaultSysfsRoot
	}
	return o.SysfsRoot
}

func (o *Options) chipPath() string {
	if o.ChipPath == "" {
		return ChipPath(0)
	}
	return o.ChipPath
}

// DefaultOptions returns the options used on real hardware
func DefaultOptions() Options {
	return Options{
		Backend:      BackendSysfs,
		SysfsRoot:    DefaultSysfsRoot,
		ExportSettle: 100 * time.Millisecond,
		PollInterval: fdaccess.DefaultPollInterval,
		ChipPath:     ChipPath(0),
	}
}

// Open opens pin with the backend selected in opts
func Open(ctx context.Context, pin int, dir Direction, opts Options) (Line, error) {
	if pin < 0 {
		return nil, hwerr.InvalidArgument(lineName(pin), "Invalid pin index [%d]", pin)
	}
	if dir < Read || dir > ReadWrite {
		return nil, hwerr.InvalidArgument(lineName(pin), "Unknown direction [%d]", int(dir))
	}

	/* A failed open must not leave a typed nil pointer in the interface */
	switch opts.Backend {
	case "", BackendSysfs:
		l, err := OpenSysfs(ctx, pin, dir, opts)
		if err != nil {
			return nil, err
		}
		return l, nil
	case BackendCdev:
		l, err := OpenChipLine(pin, dir, opts)
		if err != nil {
			return nil, err
		}
		return l, nil
	}
	return nil, hwerr.InvalidArgument(lineName(pin), "Unknown GPIO backend %q", opts.Backend)
}

func lineName(pin int) string {
	return fmt.Sprintf("GPIO_%d", pin)
}

func levelString(level bool) string {
	if level {
		return "1"
	}
	return "0"
}
