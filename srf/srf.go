// Package srf drives Devantech SRF-series ultrasonic rangefinders (SRF02,
// SRF08, SRF10) over I2C.
//
// All sensors of the family share one register map: writing a command to
// register 0x00 starts a ranging cycle, register 0x00 reads back the firmware
// revision and registers 0x02/0x03 hold the last range, high byte first.
// While a ranging cycle is in progress the device does not answer on the bus,
// which is used to detect completion.
//
// Typical usage:
//
//	s := srf.NewSRF08(bus, srf.WithAddress(0x70))
//	r, err := s.Measure(ctx, 'c')
//
// Datasheet: https://www.robot-electronics.co.uk/htm/srf08tech.html
package srf

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mklimuk/sonar"
	"github.com/mklimuk/sonar/snsctx"
)

// DefaultAddress is the factory address of every SRF sensor (0xE0 in the
// 8-bit notation used by the datasheets).
const DefaultAddress = 0x70

// MinAddress and MaxAddress bound the addresses a sensor can be programmed to.
const (
	MinAddress = 0x70
	MaxAddress = 0x7F
)

const (
	regCommand byte = 0x00
	regVersion byte = 0x00
	regLight   byte = 0x01
	regRange   byte = 0x02
)

// NoCommand selects a register without issuing a command byte.
const NoCommand byte = 0x00

// NotReady is reported by the completion poll while a ranging cycle is in
// progress.
const NotReady = -1

// unlock sequence preceding the new address byte
var addressUnlock = [...]byte{0xA0, 0xAA, 0xA5}

var (
	ErrTimeout        = errors.New("srf: ranging did not complete in time")
	ErrInvalidAddress = errors.New("srf: invalid sensor address")
	ErrInvalidLength  = errors.New("srf: invalid register length")
	ErrInvalidSetting = errors.New("srf: invalid setting")
)

// Config holds the construction time settings of a sensor handle.
type Config struct {
	Address byte
	// Gain and Range are written after every arming command when both are
	// non-zero (registers 0x01 and 0x02 of SRF08/SRF10).
	Gain         byte
	Range        byte
	PollInterval time.Duration
	// Timeout bounds WaitForCompletion; zero waits until ctx is done.
	Timeout time.Duration
	Logger  *slog.Logger
}

type Option func(*Config)

func WithAddress(address byte) Option {
	return func(c *Config) {
		c.Address = address
	}
}

func WithGain(gain byte) Option {
	return func(c *Config) {
		c.Gain = gain
	}
}

func WithRange(rng byte) Option {
	return func(c *Config) {
		c.Range = rng
	}
}

func WithPollInterval(interval time.Duration) Option {
	return func(c *Config) {
		c.PollInterval = interval
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Timeout = timeout
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// Sensor is the register interface common to all SRF variants. It does not
// lock the bus; wrap a shared bus with sonar.NewSerializedBus.
type Sensor struct {
	transport sonar.I2CBus
	addr      byte
	gain      byte
	rangeLoc  byte
	config    Config
	buf       []byte
}

// NewSensor creates a handle for the sensor at DefaultAddress unless
// WithAddress says otherwise.
func NewSensor(transport sonar.I2CBus, opts ...Option) *Sensor {
	config := Config{
		Address:      DefaultAddress,
		PollInterval: time.Millisecond,
		Timeout:      time.Second,
	}
	for _, opt := range opts {
		opt(&config)
	}
	return &Sensor{
		transport: transport,
		addr:      config.Address,
		gain:      config.Gain,
		rangeLoc:  config.Range,
		config:    config,
		buf:       make([]byte, 4),
	}
}

// Address returns the 7-bit bus address the handle talks to.
func (s *Sensor) Address() byte {
	return s.addr
}

func (s *Sensor) logger(ctx context.Context) *slog.Logger {
	return snsctx.Logger(ctx, s.config.Logger)
}

// WriteCommand selects reg and writes cmd to it. Gain and range bytes follow
// the command only when both are configured; a register select (NoCommand)
// never carries them.
func (s *Sensor) WriteCommand(ctx context.Context, cmd, reg byte) error {
	frame := make([]byte, 1, 4)
	frame[0] = reg
	if cmd != NoCommand {
		frame = append(frame, cmd)
		if s.gain != 0 && s.rangeLoc != 0 {
			frame = append(frame, s.gain, s.rangeLoc)
		}
	}
	err := s.transport.WriteToAddr(ctx, s.addr, frame)
	if err != nil {
		return fmt.Errorf("srf: could not write command %#x to register %#x: %w", cmd, reg, err)
	}
	return nil
}

// WriteUnit starts a ranging cycle reporting in the given unit ('i', 'c' or
// 'm'). Any other character falls back to microseconds; the substitution is
// logged and not treated as an error.
func (s *Sensor) WriteUnit(ctx context.Context, unit byte) error {
	u, ok := ParseUnit(unit)
	if !ok {
		s.logger(ctx).Warn("invalid unit, using microseconds", "unit", string(rune(unit)), "addr", s.addr)
	}
	return s.WriteCommand(ctx, u.Command(), regCommand)
}

// ReadRegister reads n bytes (1 to 4) starting at reg and combines them high
// byte first.
func (s *Sensor) ReadRegister(ctx context.Context, reg byte, n int) (uint32, error) {
	if n < 1 || n > len(s.buf) {
		return 0, fmt.Errorf("%w: %d", ErrInvalidLength, n)
	}
	resp := s.buf[:n]
	clear(resp)
	if tx, ok := s.transport.(sonar.Transactor); ok {
		if err := tx.Tx(ctx, s.addr, []byte{reg}, resp); err != nil {
			return 0, fmt.Errorf("srf: could not read register %#x: %w", reg, err)
		}
	} else {
		if err := s.WriteCommand(ctx, NoCommand, reg); err != nil {
			return 0, err
		}
		if err := s.transport.ReadFromAddr(ctx, s.addr, resp); err != nil {
			return 0, fmt.Errorf("srf: could not read register %#x: %w", reg, err)
		}
	}
	var res uint32
	for _, b := range resp {
		res = res<<8 | uint32(b)
	}
	return res, nil
}

// ReadRange returns the first echo in the unit of the last ranging command.
// With start set it triggers a new cycle in unit and waits for it first.
func (s *Sensor) ReadRange(ctx context.Context, unit byte, start bool) (uint16, error) {
	if start {
		if err := s.WriteUnit(ctx, unit); err != nil {
			return 0, err
		}
		if err := s.WaitForCompletion(ctx); err != nil {
			return 0, err
		}
	}
	v, err := s.ReadRegister(ctx, regRange, 2)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}

// Measure runs a full ranging cycle and returns the result with its unit.
func (s *Sensor) Measure(ctx context.Context, unit byte) (Range, error) {
	u, _ := ParseUnit(unit)
	v, err := s.ReadRange(ctx, unit, true)
	if err != nil {
		return Range{}, err
	}
	return Range{Value: v, Unit: u}, nil
}

// ReadVersion returns the firmware revision.
func (s *Sensor) ReadVersion(ctx context.Context) (uint8, error) {
	v, err := s.ReadRegister(ctx, regVersion, 1)
	if err != nil {
		return 0, err
	}
	return uint8(v), nil
}

// pollVersion maps a busy device to NotReady: the sensor ignores the bus
// while ranging, which shows up either as a failed transaction or as 0xFF.
// The transaction error is returned alongside NotReady.
func (s *Sensor) pollVersion(ctx context.Context) (int, error) {
	v, err := s.ReadVersion(ctx)
	if err != nil {
		s.logger(ctx).Debug("sensor busy", "addr", s.addr, "error", err)
		return NotReady, err
	}
	if v == 0xFF {
		return NotReady, nil
	}
	return int(v), nil
}

// WaitForCompletion polls the revision register until the sensor answers.
// When it gives up, the error of the last failed poll is wrapped so a dead
// bus can be told apart from a slow sensor.
func (s *Sensor) WaitForCompletion(ctx context.Context) error {
	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}
	polls := 0
	var lastErr error
	for {
		polls++
		v, err := s.pollVersion(ctx)
		if v != NotReady {
			s.logger(ctx).Debug("ranging complete", "addr", s.addr, "polls", polls)
			return nil
		}
		lastErr = err
		timer := time.NewTimer(s.config.PollInterval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			err := ctx.Err()
			if errors.Is(err, context.DeadlineExceeded) {
				err = fmt.Errorf("%w (addr %#x, %d polls)", ErrTimeout, s.addr, polls)
			}
			if lastErr != nil {
				return fmt.Errorf("%w: last poll: %w", err, lastErr)
			}
			return err
		}
	}
}

// ValidAddress reports whether addr is one of the sixteen addresses an SRF
// sensor can be programmed to (0xE0..0xFE in 8-bit notation).
func ValidAddress(addr byte) bool {
	return addr >= MinAddress && addr <= MaxAddress
}

// SetAddress reprograms the sensor to newAddr (7-bit). The sensor must be the
// only one on the bus at the current address. newAddr is sent unchecked in
// 8-bit form; callers filter it with ValidAddress. The change is not verified;
// afterwards the handle talks to newAddr.
func (s *Sensor) SetAddress(ctx context.Context, newAddr byte) error {
	seq := append(addressUnlock[:], newAddr<<1)
	for i, cmd := range seq {
		err := s.transport.WriteToAddr(ctx, s.addr, []byte{regCommand, cmd})
		if err != nil {
			return fmt.Errorf("srf: address change step %d failed: %w", i+1, err)
		}
	}
	s.logger(ctx).Info("sensor address changed", "from", s.addr, "to", newAddr)
	s.addr = newAddr
	return nil
}

func (s *Sensor) setConfig(gain, rng byte) {
	s.gain = gain
	s.rangeLoc = rng
}
