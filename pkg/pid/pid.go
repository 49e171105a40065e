// Package pid adapts go.einride.tech/pid to the integer power loop of a heater.
package pid

import (
	"time"

	"go.einride.tech/pid"
)

// Scale is the fixed-point denominator of the stored coefficients.
const Scale = 100

// Params are PID coefficients as they are persisted: gains multiplied by Scale.
type Params struct {
	Kp uint16 `yaml:"kp"`
	Ki uint16 `yaml:"ki"`
	Kd uint16 `yaml:"kd"`
}

// Valid reports whether the coefficients can drive a heater.
func (p Params) Valid() bool {
	return p.Kp > 0 && p.Ki > 0
}

// Controller converts a temperature error into a power request in [0, max].
type Controller struct {
	c        pid.Controller
	params   Params
	interval time.Duration
	max      int32
}

// New creates a controller sampled every interval with output limited to max.
func New(params Params, interval time.Duration, max int32) *Controller {
	if interval <= 0 {
		interval = 20 * time.Millisecond
	}
	c := &Controller{interval: interval, max: max}
	c.Change(params)
	return c
}

// Change replaces the coefficients and clears the accumulated state.
func (c *Controller) Change(params Params) {
	c.params = params
	c.c.Config = pid.ControllerConfig{
		ProportionalGain: float64(params.Kp) / Scale,
		IntegralGain:     float64(params.Ki) / Scale,
		DerivativeGain:   float64(params.Kd) / Scale,
	}
	c.c.State = pid.ControllerState{}
}

// Params returns the active coefficients.
func (c *Controller) Params() Params { return c.params }

// Reset clears the integrator. The last error is seeded with target-current so
// the first derivative after the reset does not kick.
func (c *Controller) Reset(target, current int32) {
	c.c.State = pid.ControllerState{
		ControlError: float64(target - current),
	}
}

// Stabilize commits the integrator so that the integral term alone produces
// power. It is called once the heater has reached the preset temperature.
func (c *Controller) Stabilize(power int32) {
	if c.c.Config.IntegralGain <= 0 {
		return
	}
	c.c.State.ControlErrorIntegral = float64(power) / c.c.Config.IntegralGain
}

// Power returns the requested power for the current temperature.
func (c *Controller) Power(target, current int32) int32 {
	c.c.Update(pid.ControllerInput{
		ReferenceSignal:  float64(target),
		ActualSignal:     float64(current),
		SamplingInterval: c.interval,
	})
	// anti-windup: the integral alone never exceeds the output range
	if ki := c.c.Config.IntegralGain; ki > 0 {
		limit := float64(c.max) / ki
		if c.c.State.ControlErrorIntegral > limit {
			c.c.State.ControlErrorIntegral = limit
		} else if c.c.State.ControlErrorIntegral < 0 {
			c.c.State.ControlErrorIntegral = 0
		}
	}
	p := int32(c.c.State.ControlSignal + 0.5)
	if p < 0 {
		return 0
	}
	if p > c.max {
		return c.max
	}
	return p
}
