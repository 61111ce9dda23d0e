package srf

import (
	"context"
)

// RangeBehaviorFunc produces a raw reading for the requested unit.
type RangeBehaviorFunc func(ctx context.Context, unit Unit) (uint16, error)

// MockRangeSensor implements Ranger without hardware. Invalid units are
// normalized to microseconds like on a real sensor.
//
// Example usage:
//
//	sensor := NewMockRangeSensor(func(ctx context.Context, unit Unit) (uint16, error) {
//		return 120, nil
//	})
type MockRangeSensor struct {
	behavior RangeBehaviorFunc
}

var _ Ranger = &MockRangeSensor{}

func NewMockRangeSensor(behavior RangeBehaviorFunc) *MockRangeSensor {
	return &MockRangeSensor{behavior: behavior}
}

// Measure calls the behavior function.
func (m *MockRangeSensor) Measure(ctx context.Context, unit byte) (Range, error) {
	u, _ := ParseUnit(unit)
	v, err := m.behavior(ctx, u)
	if err != nil {
		return Range{}, err
	}
	return Range{Value: v, Unit: u}, nil
}
