// Package calib maps raw sensor units to human temperature through a per-tip
// four point piecewise linear table with ambient temperature compensation.
package calib

import (
	"fmt"
	"sync"
)

// Device selects one of the two calibration slots.
type Device int

const (
	Iron Device = iota
	Gun
)

func (d Device) String() string {
	switch d {
	case Iron:
		return "iron"
	case Gun:
		return "gun"
	default:
		return fmt.Sprintf("device(%d)", int(d))
	}
}

// Points is the number of calibration reference points.
const Points = 4

// MinSeparation is the minimum distance in internal units between adjacent
// calibration points after BuildCalibration.
const MinSeparation = 200

// MaxHuman is the upper clamp of any displayed temperature.
const MaxHuman = 999

var referenceTemps = [2][Points]uint16{
	Iron: {200, 260, 330, 400},
	Gun:  {200, 300, 400, 500},
}

// defaultTables are used for tips that were never calibrated. The top point is
// also the ceiling of any preset computed from a default table.
var defaultTables = [2][Points]uint16{
	Iron: {1200, 1600, 2000, 2400},
	Gun:  {600, 1200, 1800, 2400},
}

// ReferenceTemp returns the Celsius reference of point i for the device.
func ReferenceTemp(d Device, i int) uint16 {
	if i < 0 {
		i = 0
	} else if i >= Points {
		i = Points - 1
	}
	return referenceTemps[d][i]
}

// DefaultTable returns the built-in table for the device.
func DefaultTable(d Device) [Points]uint16 { return defaultTables[d] }

// Status is the tip status bitset as stored in the tip record mask.
type Status uint8

const (
	Active     Status = 1 << 0
	Calibrated Status = 1 << 1
)

// TipCalibration is the calibration of one physical tip (or of the gun).
type TipCalibration struct {
	Calibration [Points]uint16
	Ambient     int8
	Status      Status
}

// DefaultTip returns an uncalibrated tip using the built-in table.
func DefaultTip(d Device) TipCalibration {
	return TipCalibration{Calibration: defaultTables[d], Ambient: 25, Status: Active}
}

// Monotonic reports whether the points strictly increase.
func (t TipCalibration) Monotonic() bool {
	for i := 1; i < Points; i++ {
		if t.Calibration[i] <= t.Calibration[i-1] {
			return false
		}
	}
	return true
}

// Usable reports whether the table can be trusted as calibrated.
func (t TipCalibration) Usable() bool {
	return t.Status&Calibrated != 0 && t.Monotonic()
}

// Limits are the per-device constants of the mapping.
type Limits struct {
	InternalMax uint16 // highest raw reading the control loop accepts
	TempMin     uint16 // lowest preset in Celsius
	TempMax     uint16 // highest preset in Celsius
}

// DefaultLimits returns the limits of a stock station.
func DefaultLimits(d Device) Limits {
	if d == Gun {
		return Limits{InternalMax: 3700, TempMin: 100, TempMax: 500}
	}
	return Limits{InternalMax: 3700, TempMin: 180, TempMax: 450}
}

// Model owns the in-memory calibration of the iron and gun slots. It is read by
// the foreground only, the mutex guards slot swaps during tip changes.
type Model struct {
	mu     sync.RWMutex
	tips   [2]TipCalibration
	limits [2]Limits
}

// NewModel creates a model with default tables in both slots.
func NewModel(iron, gun Limits) *Model {
	return &Model{
		tips:   [2]TipCalibration{DefaultTip(Iron), DefaultTip(Gun)},
		limits: [2]Limits{iron, gun},
	}
}

// Apply installs a tip calibration into the device slot.
func (m *Model) Apply(d Device, tip TipCalibration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tips[d] = tip
}

// Tip returns the calibration currently installed for the device.
func (m *Model) Tip(d Device) TipCalibration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tips[d]
}

// Limits returns the device limits.
func (m *Model) Limits(d Device) Limits {
	return m.limits[d]
}

// effective returns the table in use: the stored one when usable, otherwise
// the default table, and whether the default is in effect.
func (m *Model) effective(d Device) (TipCalibration, bool) {
	m.mu.RLock()
	t := m.tips[d]
	m.mu.RUnlock()
	if t.Usable() {
		return t, false
	}
	def := TipCalibration{Calibration: defaultTables[d], Ambient: t.Ambient, Status: t.Status}
	return def, true
}
