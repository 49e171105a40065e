// Package unit implements the power-mode state machines of the soldering iron
// and the hot air gun.
//
// Each unit is split between two contexts. The control tick (Power, UpdateTemp,
// UpdateCurrent) runs on a single goroutine and is the only writer of the mode,
// the smoothed values and the controller state. Foreground calls never touch
// that state: targets are single atomic words and every other request is posted
// to a bounded queue that the next tick drains. Readers see values the tick
// published through atomics, so no lock is taken on the tick path.
package unit

import (
	"sync/atomic"
	"time"

	"github.com/itohio/gostation/pkg/pid"
	"github.com/itohio/gostation/pkg/stat"
)

// PowerMode is the active state of a unit.
type PowerMode int32

const (
	Off PowerMode = iota
	Heating
	On
	Fixed
	Cooling
	PidTune
	Boost
)

func (m PowerMode) String() string {
	switch m {
	case Off:
		return "off"
	case Heating:
		return "heating"
	case On:
		return "on"
	case Fixed:
		return "fixed"
	case Cooling:
		return "cooling"
	case PidTune:
		return "pid_tune"
	case Boost:
		return "boost"
	default:
		return "unknown"
	}
}

// Device is the foreground view of a heater shared by acquisition and tuning.
type Device interface {
	PresetTemp() uint16
	AverageTemp() uint16
	AveragePower() uint16
	TempDispersion() uint32
	PowerDispersion() uint32
	Mode() PowerMode
	IsChill() bool
	Connected() bool
	MaxFixedPower() uint16

	SetTemp(t uint16)
	Adjust(t uint16)
	SwitchPower(on bool)
	FixPower(p uint16)
	AutoTunePID(base, delta, baseTemp, hysteresis uint16)
	Relay() RelayStats
	PID() pid.Params
	SetPID(p pid.Params)
}

const (
	// overheatMargin above the internal maximum always cuts the power.
	overheatMargin = 100
	// overshootLimit above the preset always cuts the power.
	overshootLimit = 400
	// chillMargin above the preset starts withholding power.
	chillMargin = 50
	// chillRelease below the preset resumes regulation.
	chillRelease = 2
	// queueSize bounds the pending foreground requests.
	queueSize = 32
)

// RelayStats are published by the tick while a unit runs the relay test.
type RelayStats struct {
	Loops  uint32        // completed oscillation periods
	Period time.Duration // duration of the last complete period
	Max    uint16        // highest temperature of the last period
	Min    uint16        // lowest temperature of the last period
}

type cmdKind int

const (
	cmdSwitch cmdKind = iota
	cmdSetTemp
	cmdFix
	cmdBoost
	cmdLowPower
	cmdTune
	cmdReset
	cmdPID
)

type command struct {
	kind  cmdKind
	on    bool
	value uint16
	dur   time.Duration
	tune  relayParams
	pid   pid.Params
}

type relayParams struct {
	base, delta, temp, hysteresis int32
}

// relay is the tick-owned state of the relay oscillation.
type relay struct {
	relayParams
	high       bool
	started    bool
	cycleStart time.Time
	max, min   int32
}

// core holds what the iron and the gun share.
type core struct {
	now func() time.Time

	// foreground -> tick
	target atomic.Uint32
	queue  chan command

	// tick -> foreground
	mode       atomic.Int32
	avgTemp    atomic.Int32
	avgPower   atomic.Int32
	tempDisp   atomic.Int32
	powerDisp  atomic.Int32
	chill      atomic.Bool
	connected  atomic.Bool
	pidParams  atomic.Value
	relayLoops atomic.Uint32
	relayPer   atomic.Int64
	relayMax   atomic.Int32
	relayMin   atomic.Int32

	// tick owned
	hTemp, dTemp   stat.ExpAverage
	hPower, dPower stat.ExpAverage
	current        stat.HysteresisSwitch
	ctl            *pid.Controller
	fixPower       int32
	tick           uint32
	rly            relay

	internalMax int32
	maxPower    int32
	maxFixed    int32
}

func (c *core) init(smooth int, ctl *pid.Controller, clock func() time.Time) {
	if clock == nil {
		clock = time.Now
	}
	c.now = clock
	c.queue = make(chan command, queueSize)
	c.hTemp.Length(smooth)
	c.dTemp.Length(smooth)
	c.hPower.Length(smooth)
	c.dPower.Length(smooth)
	c.ctl = ctl
	c.pidParams.Store(ctl.Params())
}

func (c *core) post(cmd command) bool {
	select {
	case c.queue <- cmd:
		return true
	default:
		return false
	}
}

func (c *core) getMode() PowerMode      { return PowerMode(c.mode.Load()) }
func (c *core) setMode(m PowerMode)     { c.mode.Store(int32(m)) }
func (c *core) targetTemp() int32       { return int32(c.target.Load()) }
func (c *core) Mode() PowerMode         { return c.getMode() }
func (c *core) PresetTemp() uint16      { return uint16(c.target.Load()) }
func (c *core) AverageTemp() uint16     { return uint16(c.avgTemp.Load()) }
func (c *core) AveragePower() uint16    { return uint16(c.avgPower.Load()) }
func (c *core) TempDispersion() uint32  { return uint32(c.tempDisp.Load()) }
func (c *core) PowerDispersion() uint32 { return uint32(c.powerDisp.Load()) }
func (c *core) IsChill() bool           { return c.chill.Load() }
func (c *core) Connected() bool         { return c.connected.Load() }
func (c *core) MaxFixedPower() uint16   { return uint16(c.maxFixed) }
func (c *core) PID() pid.Params         { return c.pidParams.Load().(pid.Params) }

// SetTemp changes the preset and restarts the integrator.
func (c *core) SetTemp(t uint16) {
	if int32(t) > c.internalMax {
		t = uint16(c.internalMax)
	}
	c.target.Store(uint32(t))
	c.post(command{kind: cmdSetTemp})
}

// Adjust changes the preset without touching the integrator.
func (c *core) Adjust(t uint16) {
	if int32(t) > c.internalMax {
		t = uint16(c.internalMax)
	}
	c.target.Store(uint32(t))
}

// SwitchPower turns the unit on or starts cooling it down.
func (c *core) SwitchPower(on bool) { c.post(command{kind: cmdSwitch, on: on}) }

// FixPower applies a constant power. Zero switches the unit off like
// SwitchPower(false).
func (c *core) FixPower(p uint16) { c.post(command{kind: cmdFix, value: p}) }

// AutoTunePID starts the relay oscillation around baseTemp: base+delta is
// applied below baseTemp-hysteresis and base-delta above baseTemp+hysteresis.
func (c *core) AutoTunePID(base, delta, baseTemp, hysteresis uint16) {
	c.post(command{kind: cmdTune, tune: relayParams{
		base:       int32(base),
		delta:      int32(delta),
		temp:       int32(baseTemp),
		hysteresis: int32(hysteresis),
	}})
}

// SetPID replaces the controller coefficients.
func (c *core) SetPID(p pid.Params) {
	c.pidParams.Store(p)
	c.post(command{kind: cmdPID, pid: p})
}

// Reset clears the smoothing and controller state after the tip or handle was
// disconnected.
func (c *core) Reset() { c.post(command{kind: cmdReset}) }

// Relay returns the statistics of the running relay test.
func (c *core) Relay() RelayStats {
	return RelayStats{
		Loops:  c.relayLoops.Load(),
		Period: time.Duration(c.relayPer.Load()),
		Max:    uint16(c.relayMax.Load()),
		Min:    uint16(c.relayMin.Load()),
	}
}

// UpdateCurrent feeds the current sense reading used for presence detection.
func (c *core) UpdateCurrent(v uint16) {
	c.current.Update(int32(v))
	c.connected.Store(c.current.Status())
}

// smoothTemp updates the temperature averages and returns the smoothed value.
func (c *core) smoothTemp(t int32) int32 {
	at := c.hTemp.Average(t)
	d := at - t
	c.dTemp.Update(d * d)
	c.avgTemp.Store(at)
	c.tempDisp.Store(c.dTemp.Read())
	return at
}

func (c *core) smoothPower(p int32) {
	ap := c.hPower.Average(p)
	d := ap - p
	c.dPower.Update(d * d)
	c.avgPower.Store(ap)
	c.powerDisp.Store(c.dPower.Read())
}

func (c *core) resetSmoothing() {
	c.hTemp.Reset(0)
	c.dTemp.Reset(0)
	c.hPower.Reset(0)
	c.dPower.Reset(0)
	c.avgTemp.Store(0)
	c.avgPower.Store(0)
	c.tempDisp.Store(0)
	c.powerDisp.Store(0)
}

// overheat reports whether the output must be cut for this tick.
func (c *core) overheat(t, target int32) bool {
	switch c.getMode() {
	case Off, Cooling:
		return false
	}
	return t >= c.internalMax+overheatMargin || t > target+overshootLimit
}

// regulate runs the controller with the chill sub-state around it.
func (c *core) regulate(target, t int32) int32 {
	if c.chill.Load() {
		if t >= target-chillRelease {
			return 0
		}
		c.chill.Store(false)
		c.ctl.Reset(target, t)
	}
	if t > target+chillMargin {
		c.chill.Store(true)
		return 0
	}
	return c.ctl.Power(target, t)
}

// fixed enters Fixed with a non-zero power.
func (c *core) fixed(p uint16) {
	v := int32(p)
	if v > c.maxFixed {
		v = c.maxFixed
	}
	c.fixPower = v
	c.setMode(Fixed)
}

func (c *core) startRelay(p relayParams) {
	c.rly = relay{relayParams: p, min: 1 << 30}
	c.relayLoops.Store(0)
	c.relayPer.Store(0)
	c.relayMax.Store(0)
	c.relayMin.Store(0)
	c.chill.Store(false)
	c.setMode(PidTune)
}

// relayPower switches between the two relay levels and records the loops.
func (c *core) relayPower(t int32) int32 {
	r := &c.rly
	if t > r.max {
		r.max = t
	}
	if t < r.min {
		r.min = t
	}
	switch {
	case t < r.temp-r.hysteresis && !r.high:
		r.high = true
		now := c.now()
		if r.started {
			c.relayPer.Store(int64(now.Sub(r.cycleStart)))
			c.relayMax.Store(r.max)
			c.relayMin.Store(r.min)
			c.relayLoops.Add(1)
		}
		r.started = true
		r.cycleStart = now
		r.max, r.min = t, t
	case t > r.temp+r.hysteresis && r.high:
		r.high = false
	}
	p := r.base - r.delta
	if r.high {
		p = r.base + r.delta
	}
	if p < 0 {
		p = 0
	}
	if p > c.maxPower {
		p = c.maxPower
	}
	return p
}
