// Package logging provides the leveled message sink the hardware packages
// report into. Devices never log directly: they are handed an Emitter at
// construction and call it with their own source name.
package logging

import (
	"fmt"
	"strings"

	prefixed "github.com/BertoldVdb/logrus-prefixed-formatter"
	"github.com/sirupsen/logrus"
)

// Level is the severity of an emitted message
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warn:
		return "warn"
	case Error:
		return "error"
	}
	return fmt.Sprintf("level(%d)", int(l))
}

func (l Level) logrusLevel() logrus.Level {
	switch l {
	case Debug:
		return logrus.DebugLevel
	case Info:
		return logrus.InfoLevel
	case Warn:
		return logrus.WarnLevel
	}
	return logrus.ErrorLevel
}

// RootName is prepended to every source name
const RootName = "GantryMQ"

// Emitter receives diagnostics. Implementations must not block for long and
// must never panic; the return value is deliberately absent.
type Emitter interface {
	Emit(source string, level Level, msg string)
}

type nopEmitter struct{}

func (nopEmitter) Emit(string, Level, string) {}

// Nop returns an Emitter that discards everything
func Nop() Emitter {
	return nopEmitter{}
}

// OrNop returns e, or a discarding Emitter if e is nil
func OrNop(e Emitter) Emitter {
	if e == nil {
		return Nop()
	}
	return e
}

// Logrus forwards emitted messages to a logrus entry. The source ends up in
// the "prefix" field, which the prefixed formatter prints in front of the message.
type Logrus struct {
	Entry *logrus.Entry
}

func (l *Logrus) Emit(source string, level Level, msg string) {
	l.Entry.WithField("prefix", RootName+"."+source).Log(level.logrusLevel(), msg)
}

// GetLogger creates a logrus entry with the formatter used by all binaries.
func GetLogger(level logrus.Level) *logrus.Entry {
	logrus.ErrorKey = "$error"
	logger := logrus.New()
	logger.SetLevel(level)

	customFormatter := new(prefixed.TextFormatter)
	customFormatter.TimestampFormat = "2006-01-02 15:04:05"
	customFormatter.FullTimestamp = true
	customFormatter.SpacePadding = 50
	logger.SetFormatter(customFormatter)

	return logrus.NewEntry(logger)
}

// ParseLevel converts a configuration string into a logrus level
func ParseLevel(s string) (logrus.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return logrus.InfoLevel, nil
	case "debug":
		return logrus.DebugLevel, nil
	case "warn", "warning":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	}
	return logrus.InfoLevel, fmt.Errorf("Unknown log level %q. Must be one of: debug, info, warn, error", s)
}

// Source binds an Emitter to one source name
type Source struct {
	Emitter Emitter
	Name    string
}

// NewSource creates a Source; a nil emitter discards messages
func NewSource(e Emitter, name string) Source {
	return Source{Emitter: OrNop(e), Name: name}
}

func (s Source) emit(level Level, format string, args ...interface{}) {
	if s.Emitter == nil {
		return
	}
	s.Emitter.Emit(s.Name, level, fmt.Sprintf(format, args...))
}

func (s Source) Debugf(format string, args ...interface{}) { s.emit(Debug, format, args...) }
func (s Source) Infof(format string, args ...interface{})  { s.emit(Info, format, args...) }
func (s Source) Warnf(format string, args ...interface{})  { s.emit(Warn, format, args...) }
func (s Source) Errorf(format string, args ...interface{}) { s.emit(Error, format, args...) }
