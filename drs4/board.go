// Package drs4 controls a DRS4 evaluation board as a single-shot waveform
// digitizer.
//
// The vendor SDK is reached through the Driver and Board interfaces. The
// package drs4/sim provides a simulated board.
package drs4

// WaveLength is the length of the raw buffers returned by the board
const WaveLength = 2048

// Progress receives calibration progress in percent
type Progress func(percent int)

// Board is the subset of the vendor board API used by the digitizer.
// Chip and channel indices are passed straight through.
type Board interface {
	Init() error

	DRSType() int
	SerialNumber() int
	FirmwareVersion() int
	ChannelDepth() int

	SetFrequency(ghz float64, wait bool) error
	ReadFrequency(chip int) (float64, error)
	SetInputRange(center float64) error

	EnableTrigger(hardware, software int) error
	SetTriggerSource(mask int) error
	SetTriggerLevel(volts float64) error
	SetTriggerPolarity(direction int) error
	SetTriggerDelayNs(ns float64) error

	StartDomino() error
	SoftTrigger() error
	IsBusy() bool
	TransferWaves(first, last int) error
	TriggerCell(chip int) int
	GetWave(chip, channel int, wave []float32) error
	GetTime(chip, channel, triggerCell int, time []float32) error

	CalibrateTiming(progress Progress) error
	SetRefclk(source int) error
	CalibrateVolt(progress Progress) error
}

// Driver enumerates attached boards
type Driver interface {
	NumberOfBoards() int
	Board(index int) Board
	Close() error
}

// Connect creates a driver instance. It is called after the lock file has
// been acquired.
type Connect func() (Driver, error)
