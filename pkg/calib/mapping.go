package calib

// bisectSteps is the iteration budget of HumanToInternal. The rounding of the
// displayed presets depends on it.
const bisectSteps = 20

// mapRange linearly maps x from [inMin, inMax] to [outMin, outMax] with integer
// truncation toward zero.
func mapRange(x, inMin, inMax, outMin, outMax int32) int32 {
	if inMax == inMin {
		return outMin
	}
	return (x-inMin)*(outMax-outMin)/(inMax-inMin) + outMin
}

func clamp(x, lo, hi int32) int32 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// InternalToHuman converts a raw reading into Celsius for the device at the
// given ambient temperature. The result is clamped to [ambient, 999].
func (m *Model) InternalToHuman(raw uint16, ambient int, d Device) uint16 {
	tip, def := m.effective(d)
	shift := int32(ambient) - int32(tip.Ambient)
	if def {
		shift = 0
	}
	return internalToHuman(int32(raw), int32(ambient), shift, &tip.Calibration, &referenceTemps[d], m.limits[d])
}

func internalToHuman(raw, ambient, shift int32, cal *[Points]uint16, ref *[Points]uint16, lim Limits) uint16 {
	c := func(i int) int32 { return int32(cal[i]) }
	r := func(i int) int32 { return int32(ref[i]) + shift }

	var t int32
	switch {
	case raw < c(0):
		t = mapRange(raw, 0, c(0), ambient, r(0))
	case raw <= c(3):
		t = r(3)
		for j := 1; j < Points; j++ {
			if raw <= c(j) {
				t = mapRange(raw, c(j-1), c(j), r(j-1), r(j))
				break
			}
		}
	default:
		if c(1) < c(3) {
			t = mapRange(raw, c(1), c(3), r(1), r(3))
		} else {
			t = mapRange(raw, c(1), int32(lim.InternalMax), r(1), int32(lim.TempMax)+shift)
		}
	}
	return uint16(clamp(t, ambient, MaxHuman))
}

// HumanToInternal returns the raw reading that corresponds to the Celsius
// temperature t. The forward mapping is piecewise and truncating, so the
// inverse is found by bisection seeded with a linear guess; when no exact
// match exists within the budget the last candidate is returned.
func (m *Model) HumanToInternal(t uint16, ambient int, d Device) uint16 {
	tip, def := m.effective(d)
	lim := m.limits[d]
	shift := int32(ambient) - int32(tip.Ambient)
	if def {
		shift = 0
	}
	ref := &referenceTemps[d]
	cal := &tip.Calibration

	target := clamp(int32(t), int32(lim.TempMin), int32(lim.TempMax))

	// bounding reference pair for the initial guess
	lo, hi := 0, Points-1
	for j := 1; j < Points; j++ {
		if target <= int32(ref[j])+shift {
			lo, hi = j-1, j
			break
		}
	}
	guess := mapRange(target, int32(ref[lo])+shift, int32(ref[hi])+shift, int32(cal[lo]), int32(cal[hi]))

	left, right := int32(0), int32(lim.InternalMax)
	temp := clamp(guess, left, right)
	for i := 0; i < bisectSteps; i++ {
		h := int32(internalToHuman(temp, int32(ambient), shift, cal, ref, lim))
		if h == target {
			break
		}
		var next int32
		if h < target {
			left = temp
			next = (left + right) / 2
			if next == temp {
				next = temp + 1
			}
		} else {
			right = temp
			next = (left + right) / 2
			if next == temp {
				next = temp - 1
			}
		}
		temp = clamp(next, 0, int32(lim.InternalMax))
	}

	if def && temp > int32(cal[Points-1]) {
		temp = int32(cal[Points-1])
	}
	return uint16(temp)
}

// CelsiusToFahrenheit converts with rounding to the nearest degree.
func CelsiusToFahrenheit(c int) int {
	return divRound(c*9, 5) + 32
}

// FahrenheitToCelsius converts with rounding to the nearest degree.
func FahrenheitToCelsius(f int) int {
	return divRound((f-32)*5, 9)
}

// ToHuman converts Celsius into the display unit.
func ToHuman(c int, celsius bool) int {
	if celsius {
		return c
	}
	return CelsiusToFahrenheit(c)
}

// FromHuman converts a display value back into Celsius.
func FromHuman(h int, celsius bool) int {
	if celsius {
		return h
	}
	return FahrenheitToCelsius(h)
}

func divRound(a, b int) int {
	if a >= 0 {
		return (a + b/2) / b
	}
	return -((-a + b/2) / b)
}
