package srf

import (
	"context"
	"fmt"
	"strings"

	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/sonar"
)

// Ranger is anything able to produce a range reading.
type Ranger interface {
	Measure(ctx context.Context, unit byte) (Range, error)
}

// RangeFinder is implemented by every SRF variant.
type RangeFinder interface {
	Ranger
	Address() byte
	WriteUnit(ctx context.Context, unit byte) error
	ReadRange(ctx context.Context, unit byte, start bool) (uint16, error)
	ReadVersion(ctx context.Context) (uint8, error)
	WaitForCompletion(ctx context.Context) error
	SetAddress(ctx context.Context, newAddr byte) error
}

// LightSensor is implemented by variants with an on-board light sensor.
type LightSensor interface {
	ReadLuminosity(ctx context.Context) (uint8, error)
}

type Variant string

const (
	VariantSRF02 Variant = "srf02"
	VariantSRF08 Variant = "srf08"
	VariantSRF10 Variant = "srf10"
)

func ParseVariant(name string) (Variant, error) {
	switch v := Variant(strings.ToLower(strings.TrimSpace(name))); v {
	case VariantSRF02, VariantSRF08, VariantSRF10:
		return v, nil
	default:
		return "", fmt.Errorf("%w: unknown variant %q", ErrInvalidSetting, name)
	}
}

// MaxGain returns the highest gain register value of the variant; SRF02 has
// no gain register and returns 0.
func (v Variant) MaxGain() byte {
	switch v {
	case VariantSRF08:
		return srf08MaxGain
	case VariantSRF10:
		return srf10MaxGain
	default:
		return 0
	}
}

// New builds the driver for the given variant.
func New(transport sonar.I2CBus, variant Variant, opts ...Option) (RangeFinder, error) {
	switch variant {
	case VariantSRF02:
		return NewSRF02(transport, opts...), nil
	case VariantSRF08:
		return NewSRF08(transport, opts...), nil
	case VariantSRF10:
		return NewSRF10(transport, opts...), nil
	default:
		return nil, fmt.Errorf("%w: unknown variant %q", ErrInvalidSetting, variant)
	}
}

const cmdBurst byte = 0x5C

// SRF02 has a single transducer and no gain or range registers.
type SRF02 struct {
	*Sensor
}

// NewSRF02 ignores WithGain and WithRange.
func NewSRF02(transport sonar.I2CBus, opts ...Option) *SRF02 {
	s := NewSensor(transport, opts...)
	s.setConfig(0, 0)
	return &SRF02{Sensor: s}
}

// Burst transmits an 8 cycle 40kHz burst without ranging.
func (s *SRF02) Burst(ctx context.Context) error {
	return s.WriteCommand(ctx, cmdBurst, regCommand)
}

const (
	srf08MaxGain   = 0x1F
	srf10MaxGain   = 0x10
	srf08MaxEchoes = 17
)

// SRF08 adds a light sensor and up to 17 echoes per ranging cycle.
type SRF08 struct {
	*Sensor
}

var _ LightSensor = &SRF08{}

func NewSRF08(transport sonar.I2CBus, opts ...Option) *SRF08 {
	return &SRF08{Sensor: NewSensor(transport, opts...)}
}

// ReadLuminosity returns the light level sampled at the start of the last
// ranging cycle.
func (s *SRF08) ReadLuminosity(ctx context.Context) (uint8, error) {
	v, err := s.ReadRegister(ctx, regLight, 1)
	if err != nil {
		return 0, err
	}
	return uint8(v), nil
}

// ReadEcho returns the n-th echo (1 based) of the last ranging cycle. A zero
// value means no further echoes were received.
func (s *SRF08) ReadEcho(ctx context.Context, n int) (uint16, error) {
	if n < 1 || n > srf08MaxEchoes {
		return 0, fmt.Errorf("%w: echo %d out of range 1..%d", ErrInvalidSetting, n, srf08MaxEchoes)
	}
	v, err := s.ReadRegister(ctx, regRange+byte(2*(n-1)), 2)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}

// ReadEchoes returns the echoes of the last cycle up to the first empty one.
func (s *SRF08) ReadEchoes(ctx context.Context) ([]uint16, error) {
	var echoes []uint16
	for n := 1; n <= srf08MaxEchoes; n++ {
		v, err := s.ReadEcho(ctx, n)
		if err != nil {
			return echoes, err
		}
		if v == 0 {
			break
		}
		echoes = append(echoes, v)
	}
	return echoes, nil
}

// SetGain changes the analogue gain limit written with the next ranging
// command. Gain and range are only sent when both are non-zero.
func (s *SRF08) SetGain(gain byte) error {
	if gain > srf08MaxGain {
		return fmt.Errorf("%w: gain %#x above %#x", ErrInvalidSetting, gain, srf08MaxGain)
	}
	s.setConfig(gain, s.rangeLoc)
	return nil
}

// SetMaxRange changes the range register written with the next ranging
// command, see MaxRangeRegister.
func (s *SRF08) SetMaxRange(rng byte) {
	s.setConfig(s.gain, rng)
}

// SRF10 shares the SRF08 register map without the light sensor and with a
// lower gain limit.
type SRF10 struct {
	*Sensor
}

func NewSRF10(transport sonar.I2CBus, opts ...Option) *SRF10 {
	return &SRF10{Sensor: NewSensor(transport, opts...)}
}

func (s *SRF10) SetGain(gain byte) error {
	if gain > srf10MaxGain {
		return fmt.Errorf("%w: gain %#x above %#x", ErrInvalidSetting, gain, srf10MaxGain)
	}
	s.setConfig(gain, s.rangeLoc)
	return nil
}

func (s *SRF10) SetMaxRange(rng byte) {
	s.setConfig(s.gain, rng)
}

const rangeStep = 43 * physic.MilliMetre

// MaxRangeRegister computes the range register value limiting a ranging cycle
// to about d: the sensor listens for (value*43mm)+43mm.
func MaxRangeRegister(d physic.Distance) byte {
	if d <= rangeStep {
		return 0
	}
	steps := (d - rangeStep) / rangeStep
	if steps > 0xFF {
		return 0xFF
	}
	return byte(steps)
}
