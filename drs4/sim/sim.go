// Package sim is a simulated DRS4 board. It backs dummy instances and the
// tests of the packages above it.
package sim

import (
	"math"
	"sync"

	"github.com/yimuchen/GantryMQ/drs4"
)

var _ drs4.Board = (*Board)(nil)
var _ drs4.Driver = (*Driver)(nil)

// Signal returns the voltage in mV of a channel at a cell
type Signal func(channel, cell int) float32

// Pulse is the default signal: a negative gaussian pulse of 100mV
// centered on cell 300, on every channel
func Pulse(channel, cell int) float32 {
	x := float64(cell-300) / 10
	return float32(-100 * math.Exp(-x*x))
}

// Flat returns a signal that is v everywhere
func Flat(v float32) Signal {
	return func(int, int) float32 { return v }
}

// Board records every call and the resulting register state
type Board struct {
	sync.Mutex

	Type     int
	Serial   int
	Firmware int
	Depth    int

	Frequency       float64
	InputRange      float64
	TriggerEnabled  [2]int
	TriggerSource   int
	TriggerLevel    float64
	TriggerPolarity int
	TriggerDelayNs  float64
	Refclk          int

	// BusyPolls is the number of IsBusy calls that report busy after
	// StartDomino. A negative value keeps the board busy until SoftTrigger.
	BusyPolls int
	Signal    Signal
	InitErr   error

	Calls []string

	busy int
}

// NewBoard returns a board with a 1024 cell channel depth and the Pulse signal
func NewBoard() *Board {
	return &Board{
		Type:     4,
		Serial:   2000,
		Firmware: 21305,
		Depth:    1024,
		Signal:   Pulse,
	}
}

func (b *Board) call(name string) {
	b.Calls = append(b.Calls, name)
}

// CallLog returns a copy of the recorded call names
func (b *Board) CallLog() []string {
	b.Lock()
	defer b.Unlock()
	return append([]string(nil), b.Calls...)
}

func (b *Board) Init() error {
	b.Lock()
	defer b.Unlock()
	b.call("Init")
	return b.InitErr
}

func (b *Board) DRSType() int         { return b.Type }
func (b *Board) SerialNumber() int    { return b.Serial }
func (b *Board) FirmwareVersion() int { return b.Firmware }
func (b *Board) ChannelDepth() int    { return b.Depth }

func (b *Board) SetFrequency(ghz float64, wait bool) error {
	b.Lock()
	defer b.Unlock()
	b.call("SetFrequency")
	b.Frequency = ghz
	return nil
}

func (b *Board) ReadFrequency(chip int) (float64, error) {
	b.Lock()
	defer b.Unlock()
	return b.Frequency, nil
}

func (b *Board) SetInputRange(center float64) error {
	b.Lock()
	defer b.Unlock()
	b.call("SetInputRange")
	b.InputRange = center
	return nil
}

func (b *Board) EnableTrigger(hardware, software int) error {
	b.Lock()
	defer b.Unlock()
	b.call("EnableTrigger")
	b.TriggerEnabled = [2]int{hardware, software}
	return nil
}

func (b *Board) SetTriggerSource(mask int) error {
	b.Lock()
	defer b.Unlock()
	b.call("SetTriggerSource")
	b.TriggerSource = mask
	return nil
}

func (b *Board) SetTriggerLevel(volts float64) error {
	b.Lock()
	defer b.Unlock()
	b.call("SetTriggerLevel")
	b.TriggerLevel = volts
	return nil
}

func (b *Board) SetTriggerPolarity(direction int) error {
	b.Lock()
	defer b.Unlock()
	b.call("SetTriggerPolarity")
	b.TriggerPolarity = direction
	return nil
}

func (b *Board) SetTriggerDelayNs(ns float64) error {
	b.Lock()
	defer b.Unlock()
	b.call("SetTriggerDelayNs")
	b.TriggerDelayNs = ns
	return nil
}

func (b *Board) StartDomino() error {
	b.Lock()
	defer b.Unlock()
	b.call("StartDomino")
	b.busy = b.BusyPolls
	return nil
}

func (b *Board) SoftTrigger() error {
	b.Lock()
	defer b.Unlock()
	b.call("SoftTrigger")
	b.busy = 0
	return nil
}

func (b *Board) IsBusy() bool {
	b.Lock()
	defer b.Unlock()
	if b.busy < 0 {
		return true
	}
	if b.busy > 0 {
		b.busy--
		return true
	}
	return false
}

func (b *Board) TransferWaves(first, last int) error {
	b.Lock()
	defer b.Unlock()
	b.call("TransferWaves")
	return nil
}

func (b *Board) TriggerCell(chip int) int {
	return 0
}

func (b *Board) GetWave(chip, channel int, wave []float32) error {
	b.Lock()
	defer b.Unlock()
	b.call("GetWave")

	signal := b.Signal
	if signal == nil {
		signal = Pulse
	}
	for i := range wave {
		wave[i] = signal(channel/2, i)
	}
	return nil
}

func (b *Board) GetTime(chip, channel, triggerCell int, time []float32) error {
	b.Lock()
	defer b.Unlock()
	b.call("GetTime")

	step := 0.5
	if b.Frequency > 0 {
		step = 1 / b.Frequency
	}
	for i := range time {
		time[i] = float32(float64(i) * step)
	}
	return nil
}

/* Calibration clobbers the trigger registers, like the real board */
func (b *Board) calibrate(name string, progress drs4.Progress) {
	b.Lock()
	b.call(name)
	b.TriggerSource = 0
	b.TriggerLevel = 0
	b.TriggerPolarity = 0
	b.TriggerDelayNs = 0
	b.Unlock()

	for p := 0; p <= 100; p += 25 {
		progress(p)
	}
}

func (b *Board) CalibrateTiming(progress drs4.Progress) error {
	b.calibrate("CalibrateTiming", progress)
	return nil
}

func (b *Board) SetRefclk(source int) error {
	b.Lock()
	defer b.Unlock()
	b.call("SetRefclk")
	b.Refclk = source
	return nil
}

func (b *Board) CalibrateVolt(progress drs4.Progress) error {
	b.calibrate("CalibrateVolt", progress)
	return nil
}

// Driver hands out a fixed list of boards
type Driver struct {
	Boards []*Board
	Closed bool
}

func (d *Driver) NumberOfBoards() int {
	return len(d.Boards)
}

func (d *Driver) Board(index int) drs4.Board {
	return d.Boards[index]
}

func (d *Driver) Close() error {
	d.Closed = true
	return nil
}

// Connect returns a drs4.Connect that yields a driver over boards
func Connect(boards ...*Board) drs4.Connect {
	return func() (drs4.Driver, error) {
		return &Driver{Boards: boards}, nil
	}
}
