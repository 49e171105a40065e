package calib

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func calibratedModel() *Model {
	m := NewModel(DefaultLimits(Iron), DefaultLimits(Gun))
	m.Apply(Iron, TipCalibration{
		Calibration: [Points]uint16{1100, 1500, 1950, 2500},
		Ambient:     25,
		Status:      Active | Calibrated,
	})
	m.Apply(Gun, TipCalibration{
		Calibration: [Points]uint16{700, 1300, 1900, 2600},
		Ambient:     22,
		Status:      Active | Calibrated,
	})
	return m
}

func TestInternalToHuman_ReferencePoints(t *testing.T) {
	m := calibratedModel()

	for i := 0; i < Points; i++ {
		raw := m.Tip(Iron).Calibration[i]
		assert.Equal(t, ReferenceTemp(Iron, i), m.InternalToHuman(raw, 25, Iron), "point %d", i)
	}

	// 5 degrees warmer ambient shifts every reference by 5
	assert.Equal(t, uint16(335), m.InternalToHuman(1950, 30, Iron))
}

func TestInternalToHuman_Extrapolation(t *testing.T) {
	m := calibratedModel()

	// below the first point: from (0, ambient) to the first point
	assert.Equal(t, uint16(25), m.InternalToHuman(0, 25, Iron))
	assert.Equal(t, uint16(112), m.InternalToHuman(550, 25, Iron))

	// above the last point: slope of points 1 and 3
	assert.Equal(t, uint16(414), m.InternalToHuman(2600, 25, Iron))

	// never above 999
	m.Apply(Iron, TipCalibration{
		Calibration: [Points]uint16{100, 110, 120, 130},
		Status:      Calibrated,
	})
	assert.Equal(t, uint16(MaxHuman), m.InternalToHuman(3700, 25, Iron))
}

func TestInternalToHuman_Monotonic(t *testing.T) {
	m := calibratedModel()
	for _, d := range []Device{Iron, Gun} {
		prev := uint16(0)
		for raw := 0; raw <= int(m.Limits(d).InternalMax); raw++ {
			h := m.InternalToHuman(uint16(raw), 24, d)
			require.GreaterOrEqual(t, h, prev, "%s raw %d", d, raw)
			prev = h
		}
	}
}

func TestHumanToInternal_RoundTrip(t *testing.T) {
	m := calibratedModel()
	for _, d := range []Device{Iron, Gun} {
		lim := m.Limits(d)
		for raw := 0; raw <= int(lim.InternalMax); raw += 7 {
			h := m.InternalToHuman(uint16(raw), 25, d)
			if h < lim.TempMin || h > lim.TempMax {
				continue
			}
			back := m.HumanToInternal(h, 25, d)
			require.Equal(t, h, m.InternalToHuman(back, 25, d), "%s raw %d", d, raw)
		}
	}
}

func TestHumanToInternal_ReferencePoints(t *testing.T) {
	m := calibratedModel()
	for i := 0; i < Points; i++ {
		raw := m.HumanToInternal(ReferenceTemp(Iron, i), 25, Iron)
		assert.Equal(t, ReferenceTemp(Iron, i), m.InternalToHuman(raw, 25, Iron))
		// within one reference degree of the calibration point
		assert.InDelta(t, float64(m.Tip(Iron).Calibration[i]), float64(raw), 10)
	}
}

func TestHumanToInternal_ClampsPreset(t *testing.T) {
	m := calibratedModel()
	lim := m.Limits(Iron)
	assert.Equal(t, m.HumanToInternal(lim.TempMax, 25, Iron), m.HumanToInternal(lim.TempMax+100, 25, Iron))
	assert.Equal(t, m.HumanToInternal(lim.TempMin, 25, Iron), m.HumanToInternal(0, 25, Iron))
}

func TestDefaultTable_Fallback(t *testing.T) {
	m := NewModel(DefaultLimits(Iron), DefaultLimits(Gun))

	// non-monotonic table marked calibrated is not trusted
	m.Apply(Iron, TipCalibration{
		Calibration: [Points]uint16{1500, 1400, 2000, 2100},
		Ambient:     25,
		Status:      Active | Calibrated,
	})
	def := DefaultTable(Iron)
	assert.Equal(t, uint16(200), m.InternalToHuman(def[0], 25, Iron))

	// the highest preset never exceeds the top of the default table
	assert.Equal(t, def[3], m.HumanToInternal(450, 25, Iron))
}

func TestBuildCalibration(t *testing.T) {
	tests := []struct {
		name     string
		tip      [Points]uint16
		ref      int
		max      uint16
		expected [Points]uint16
	}{
		{
			name:     "crowded points pushed right",
			tip:      [Points]uint16{100, 150, 155, 900},
			ref:      0,
			max:      3700,
			expected: [Points]uint16{100, 300, 500, 900},
		},
		{
			name:     "already separated",
			tip:      [Points]uint16{1000, 1400, 1800, 2200},
			ref:      2,
			max:      3700,
			expected: [Points]uint16{1000, 1400, 1800, 2200},
		},
		{
			name:     "last point clamped then left neighbours pushed down",
			tip:      [Points]uint16{3000, 3300, 3600, 3650},
			ref:      2,
			max:      3700,
			expected: [Points]uint16{3000, 3300, 3500, 3700},
		},
		{
			name:     "measured point beyond max",
			tip:      [Points]uint16{1000, 1200, 1400, 3900},
			ref:      3,
			max:      3700,
			expected: [Points]uint16{1000, 1200, 1400, 3700},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildCalibration(tt.tip, tt.ref, tt.max)
			assert.Equal(t, tt.expected, got)
			for i := 1; i < Points; i++ {
				assert.GreaterOrEqual(t, int(got[i])-int(got[i-1]), MinSeparation)
			}
			assert.LessOrEqual(t, got[Points-1], tt.max)
		})
	}
}

func TestTemperatureUnits(t *testing.T) {
	tests := []struct {
		c, f int
	}{
		{c: 0, f: 32},
		{c: 100, f: 212},
		{c: 232, f: 450},
		{c: 350, f: 662},
		{c: -40, f: -40},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.f, CelsiusToFahrenheit(tt.c))
		assert.Equal(t, tt.c, FahrenheitToCelsius(tt.f))
		assert.Equal(t, tt.f, ToHuman(tt.c, false))
		assert.Equal(t, tt.c, FromHuman(tt.c, true))
	}
	// rounding to the nearest degree
	assert.Equal(t, 233, FahrenheitToCelsius(451))
	assert.Equal(t, 451, CelsiusToFahrenheit(233))
}
