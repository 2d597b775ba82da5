package drs4

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/yimuchen/GantryMQ/fdaccess"
	"github.com/yimuchen/GantryMQ/hwerr"
	"github.com/yimuchen/GantryMQ/logging"
)

const deviceName = "DRS"

// DefaultLockFile serializes access to the board between processes
const DefaultLockFile = "/tmp/drs.lock"

// ExternalTrigger is the trigger channel of the external input
const ExternalTrigger = 4

// Channels is the number of physical inputs
const Channels = 4

// State of a digitizer
type State int

const (
	Uninitialized State = iota
	Ready
	Armed
	Closed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Ready:
		return "ready"
	case Armed:
		return "armed"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Trigger is a trigger configuration. Level and Direction only apply to the
// input channels 0-3.
type Trigger struct {
	Channel   int     `json:"channel"`
	Level     float64 `json:"level"`
	Direction int     `json:"direction"`
	DelayNs   float64 `json:"delay"`
}

// DefaultTrigger is armed on open: external input, 0.05V, rising edge
var DefaultTrigger = Trigger{
	Channel:   ExternalTrigger,
	Level:     0.05,
	Direction: 1,
	DelayNs:   0,
}

// Options for Open
type Options struct {
	// LockFile defaults to DefaultLockFile and is created if absent
	LockFile string
	Connect  Connect
	Log      logging.Emitter

	// PollInterval is the busy poll period of WaitReady
	PollInterval time.Duration
	// TriggerSettle is waited after each trigger change
	TriggerSettle time.Duration
}

// DefaultOptions returns the timings used with real hardware
func DefaultOptions(connect Connect) Options {
	return Options{
		LockFile:      DefaultLockFile,
		Connect:       connect,
		PollInterval:  5 * time.Microsecond,
		TriggerSettle: 500 * time.Microsecond,
	}
}

// Digitizer owns the board lock and the first board found.
//
// It does no internal locking. Calls on one Digitizer must not overlap.
type Digitizer struct {
	lock   *fdaccess.Handle
	driver Driver
	board  Board
	log    logging.Source

	state   State
	trigger Trigger
	samples int

	pollInterval  time.Duration
	triggerSettle time.Duration

	guard fdaccess.Guard
}

func ensureFile(path string) error {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_CLOEXEC, 0666)
	if err != nil {
		return hwerr.Wrap(hwerr.ErrOpen, deviceName, path, err, "Failed to create lock file")
	}
	return unix.Close(fd)
}

// Open locks the lock file, connects to the vendor driver and sets up the
// first board with a 2GHz target rate, a ±0.5V input range and the default
// trigger. If no board is found, the lock is released and an
// hwerr.ErrNoHardware error returned.
func Open(opts Options) (*Digitizer, error) {
	d := &Digitizer{
		log:           logging.NewSource(opts.Log, deviceName),
		pollInterval:  opts.PollInterval,
		triggerSettle: opts.TriggerSettle,
	}
	d.guard.Release = d.release

	lockFile := opts.LockFile
	if lockFile == "" {
		lockFile = DefaultLockFile
	}

	d.log.Debugf("Setting up DRS devices...")
	if err := ensureFile(lockFile); err != nil {
		return nil, err
	}

	var err error
	d.lock, err = fdaccess.Open(deviceName, lockFile, fdaccess.ReadWrite, true)
	if err != nil {
		return nil, err
	}

	if opts.Connect == nil {
		d.Close()
		return nil, hwerr.New(hwerr.ErrNoHardware, deviceName, lockFile, "No DRS driver available")
	}

	d.driver, err = opts.Connect()
	if err != nil {
		d.Close()
		return nil, hwerr.Wrap(hwerr.ErrNoHardware, deviceName, lockFile, err, "Error creating DRS instance")
	}

	if d.driver.NumberOfBoards() == 0 {
		d.Close()
		return nil, hwerr.New(hwerr.ErrNoHardware, deviceName, lockFile, "No DRS boards found")
	}

	if err := d.setup(d.driver.Board(0)); err != nil {
		d.Close()
		return nil, err
	}

	d.state = Ready
	d.log.Debugf("Completed setting DRS container")
	return d, nil
}

func (d *Digitizer) setup(board Board) error {
	if err := board.Init(); err != nil {
		return d.boardError(err, "Init")
	}
	d.board = board
	d.samples = board.ChannelDepth()

	d.log.Infof("Found DRS[%d] board, serial [%04d], firmware [%5d]",
		board.DRSType(), board.SerialNumber(), board.FirmwareVersion())

	time.Sleep(5 * time.Microsecond)

	if err := board.SetFrequency(2.0, true); err != nil {
		return d.boardError(err, "SetFrequency")
	}
	if err := board.SetInputRange(0); err != nil {
		return d.boardError(err, "SetInputRange")
	}

	/* External trigger leaves level and direction untouched, seed them */
	d.trigger = DefaultTrigger
	return d.SetTrigger(DefaultTrigger)
}

func (d *Digitizer) boardError(err error, call string) error {
	return hwerr.Wrap(hwerr.ErrIO, deviceName, "", err, "Error running DRSBoard::%s", call)
}

func (d *Digitizer) release() error {
	if d.board != nil {
		d.log.Debugf("Deallocating the DRS controller")
	}
	d.board = nil
	d.state = Closed

	var err error
	if d.driver != nil {
		err = d.driver.Close()
		d.driver = nil
	}
	if lerr := d.lock.Close(); err == nil {
		err = lerr
	}
	return err
}

// Close releases the board and the lock file. It is safe to call more than
// once.
func (d *Digitizer) Close() error {
	return d.guard.Close()
}

// IsAvailable reports whether a board is attached and the digitizer open
func (d *Digitizer) IsAvailable() bool {
	return d.board != nil
}

func (d *Digitizer) checkAvailable() error {
	if !d.IsAvailable() {
		return hwerr.NotReady(deviceName, "DRS4 board is not available")
	}
	return nil
}

// State returns the acquisition state
func (d *Digitizer) State() State {
	return d.state
}

// SetTrigger reconfigures the hardware trigger. For the external channel the
// stored level and direction keep their last values.
func (d *Digitizer) SetTrigger(t Trigger) error {
	if err := d.checkAvailable(); err != nil {
		return err
	}
	if t.Channel < 0 || t.Channel > ExternalTrigger {
		return hwerr.InvalidArgument(deviceName, "Trigger channel [%d] out of range 0-%d", t.Channel, ExternalTrigger)
	}

	if err := d.board.EnableTrigger(1, 0); err != nil {
		return d.boardError(err, "EnableTrigger")
	}
	if err := d.board.SetTriggerSource(1 << uint(t.Channel)); err != nil {
		return d.boardError(err, "SetTriggerSource")
	}
	d.trigger.Channel = t.Channel

	if t.Channel < ExternalTrigger {
		if err := d.board.SetTriggerLevel(t.Level); err != nil {
			return d.boardError(err, "SetTriggerLevel")
		}
		d.trigger.Level = t.Level
		if err := d.board.SetTriggerPolarity(t.Direction); err != nil {
			return d.boardError(err, "SetTriggerPolarity")
		}
		d.trigger.Direction = t.Direction
	}

	d.trigger.DelayNs = t.DelayNs
	if err := d.board.SetTriggerDelayNs(t.DelayNs); err != nil {
		return d.boardError(err, "SetTriggerDelayNs")
	}

	time.Sleep(d.triggerSettle)
	return nil
}

// Trigger returns the stored trigger configuration
func (d *Digitizer) Trigger() Trigger {
	return d.trigger
}

func (d *Digitizer) TriggerChannel() int   { return d.trigger.Channel }
func (d *Digitizer) TriggerLevel() float64 { return d.trigger.Level }
func (d *Digitizer) TriggerDirection() int { return d.trigger.Direction }
func (d *Digitizer) TriggerDelay() float64 { return d.trigger.DelayNs }

// SetRate sets the target sample rate in GHz. The board quantizes it, read
// back the actual value with Rate.
func (d *Digitizer) SetRate(ghz float64) error {
	if err := d.checkAvailable(); err != nil {
		return err
	}
	if ghz <= 0 {
		return hwerr.InvalidArgument(deviceName, "Sample rate [%g] must be positive", ghz)
	}
	if err := d.board.SetFrequency(ghz, true); err != nil {
		return d.boardError(err, "SetFrequency")
	}
	return nil
}

// Rate returns the actual sample rate in GHz
func (d *Digitizer) Rate() (float64, error) {
	if err := d.checkAvailable(); err != nil {
		return 0, err
	}
	ghz, err := d.board.ReadFrequency(0)
	if err != nil {
		return 0, d.boardError(err, "ReadFrequency")
	}
	return ghz, nil
}

// SetSamples sets the truncation length of returned arrays
func (d *Digitizer) SetSamples(n int) error {
	if n < 0 {
		return hwerr.InvalidArgument(deviceName, "Sample count [%d] must not be negative", n)
	}
	d.samples = n
	return nil
}

// Samples is the length of returned arrays: the requested sample count,
// capped at the channel depth
func (d *Digitizer) Samples() (int, error) {
	if err := d.checkAvailable(); err != nil {
		return 0, err
	}
	return d.samplesLocked(), nil
}

func (d *Digitizer) samplesLocked() int {
	depth := d.board.ChannelDepth()
	if depth > WaveLength {
		depth = WaveLength
	}
	if d.samples < depth {
		return d.samples
	}
	return depth
}

// StartCollect arms a single-shot acquisition. The board waits for a
// trigger indefinitely.
func (d *Digitizer) StartCollect() error {
	if err := d.checkAvailable(); err != nil {
		return err
	}
	if err := d.board.StartDomino(); err != nil {
		return d.boardError(err, "StartDomino")
	}
	d.state = Armed
	return nil
}

// ForceStop issues a software trigger to end an acquisition
func (d *Digitizer) ForceStop() error {
	if err := d.checkAvailable(); err != nil {
		return err
	}
	if err := d.board.SoftTrigger(); err != nil {
		return d.boardError(err, "SoftTrigger")
	}
	return nil
}

// IsReady reports whether the board is not busy
func (d *Digitizer) IsReady() (bool, error) {
	if err := d.checkAvailable(); err != nil {
		return false, err
	}
	return !d.board.IsBusy(), nil
}

// WaitReady polls the board until it is no longer busy, then transfers
// the captured waveforms into the board buffer. Only ctx bounds the wait.
func (d *Digitizer) WaitReady(ctx context.Context) error {
	if err := d.checkAvailable(); err != nil {
		return err
	}

	for d.board.IsBusy() {
		select {
		case <-ctx.Done():
			return hwerr.Wrap(hwerr.ErrNotReady, deviceName, "", ctx.Err(), "Gave up waiting for acquisition")
		default:
		}
		time.Sleep(d.pollInterval)
	}

	if err := d.board.TransferWaves(0, 8); err != nil {
		return d.boardError(err, "TransferWaves")
	}
	d.state = Ready
	return nil
}

func checkChannel(channel int) error {
	if channel < 0 || channel >= Channels {
		return hwerr.InvalidArgument(deviceName, "Channel [%d] out of range 0-%d", channel, Channels-1)
	}
	return nil
}

func (d *Digitizer) rawWaveform(ctx context.Context, channel int) ([]float32, error) {
	if err := checkChannel(channel); err != nil {
		return nil, err
	}
	if err := d.WaitReady(ctx); err != nil {
		return nil, err
	}

	wave := make([]float32, WaveLength)
	if err := d.board.GetWave(0, 2*channel, wave); err != nil {
		return nil, d.boardError(err, "GetWave")
	}
	return wave, nil
}

// Waveform returns the voltages of channel in mV, truncated to Samples
func (d *Digitizer) Waveform(ctx context.Context, channel int) ([]float32, error) {
	wave, err := d.rawWaveform(ctx, channel)
	if err != nil {
		return nil, err
	}
	return wave[:d.samplesLocked()], nil
}

// TimeSlice returns the sample times of channel in ns, truncated to Samples
func (d *Digitizer) TimeSlice(ctx context.Context, channel int) ([]float32, error) {
	if err := checkChannel(channel); err != nil {
		return nil, err
	}
	if err := d.WaitReady(ctx); err != nil {
		return nil, err
	}

	times := make([]float32, WaveLength)
	if err := d.board.GetTime(0, 2*channel, d.board.TriggerCell(0), times); err != nil {
		return nil, d.boardError(err, "GetTime")
	}
	return times[:d.samplesLocked()], nil
}

func clamp(x, max int) int {
	if x < 0 {
		return 0
	}
	if x > max {
		return max
	}
	return x
}

// WaveformSum integrates channel over [intStart, intStop) in mV·ns.
//
// If pedStart != pedStop, the mean over [pedStart, pedStop) is subtracted
// from every integrated sample. All bounds are clamped to the channel depth.
// The result is scaled by -1/rate, so negative pulses come out positive.
func (d *Digitizer) WaveformSum(ctx context.Context, channel, intStart, intStop, pedStart, pedStop int) (float64, error) {
	wave, err := d.rawWaveform(ctx, channel)
	if err != nil {
		return 0, err
	}

	rate, err := d.Rate()
	if err != nil {
		return 0, err
	}
	if !(rate > 0) {
		return 0, hwerr.New(hwerr.ErrIO, deviceName, "", "Board reported sample rate %v GHz", rate)
	}

	depth := d.board.ChannelDepth()
	if depth > len(wave) {
		depth = len(wave)
	}

	pedestal := 0.0
	if pedStart != pedStop {
		start, stop := clamp(pedStart, depth), clamp(pedStop, depth)
		if stop > start {
			for i := start; i < stop; i++ {
				pedestal += float64(wave[i])
			}
			pedestal /= float64(stop - start)
		}
	}

	start, stop := clamp(intStart, depth), clamp(intStop, depth)
	sum := 0.0
	for i := start; i < stop; i++ {
		sum += float64(wave[i])
	}
	if stop > start {
		sum -= pedestal * float64(stop-start)
	}

	return -sum / rate, nil
}

// RunCalibration runs the timing and voltage self calibration, then
// restores the trigger. Inputs must be disconnected. progress may be nil.
func (d *Digitizer) RunCalibration(progress Progress) error {
	if err := d.checkAvailable(); err != nil {
		return err
	}
	if progress == nil {
		progress = func(int) {}
	}

	trigger := d.trigger

	if err := d.board.SetFrequency(2.0, true); err != nil {
		return d.boardError(err, "SetFrequency")
	}
	if err := d.board.CalibrateTiming(progress); err != nil {
		return d.boardError(err, "CalibrateTiming")
	}
	if err := d.board.SetRefclk(0); err != nil {
		return d.boardError(err, "SetRefclk")
	}
	if err := d.board.CalibrateVolt(progress); err != nil {
		return d.boardError(err, "CalibrateVolt")
	}

	d.log.Infof("Calibration done, restoring trigger on channel [%d]", trigger.Channel)
	return d.SetTrigger(trigger)
}
