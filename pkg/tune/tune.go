// Package tune identifies heater PID coefficients with the relay method.
//
// The heater is first brought to its preset, then held with a fixed power
// that keeps the temperature steady. Short steps above and below that power
// check that the heater responds before the relay oscillation starts. The
// amplitude and period of the oscillation give the coefficients.
package tune

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/itohio/gostation/pkg/pid"
	"github.com/itohio/gostation/pkg/unit"
)

var (
	ErrTimeout    = errors.New("tune phase timeout")
	ErrNoResponse = errors.New("heater does not respond to power steps")
	ErrAmplitude  = errors.New("oscillation amplitude within hysteresis")
	ErrRejected   = errors.New("coefficients rejected")
	ErrCanceled   = errors.New("tune canceled")
)

// Phase is the state of a tuning run.
type Phase int

const (
	Idle Phase = iota
	Heating
	Base
	PlusPower
	MinusPower
	Relay
	Done
	Failed
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Heating:
		return "heating"
	case Base:
		return "base"
	case PlusPower:
		return "plus_power"
	case MinusPower:
		return "minus_power"
	case Relay:
		return "relay"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config tunes the tuner.
type Config struct {
	Tolerance       uint16        // internal units around the preset
	Drift           uint16        // largest temperature change per Hold at the base power
	Hysteresis      uint16        // relay switching band, epsilon
	TempDispersion  uint32        // settled temperature dispersion
	Hold            time.Duration // settle time and base power check interval
	Step            time.Duration // duration of each power step
	MinLoops        uint32
	MaxLoops        uint32
	PeriodTolerance float64 // relative spread of the last periods to call them stable
	PhaseTimeout    time.Duration
	RelayTimeout    time.Duration
	Strategy        Strategy
}

func DefaultConfig() Config {
	return Config{
		Tolerance:       30,
		Drift:           4,
		Hysteresis:      10,
		TempDispersion:  60,
		Hold:            5 * time.Second,
		Step:            20 * time.Second,
		MinLoops:        16,
		MaxLoops:        24,
		PeriodTolerance: 0.05,
		PhaseTimeout:    5 * time.Minute,
		RelayTimeout:    30 * time.Minute,
		Strategy:        ZieglerNichols{},
	}
}

// stablePeriods is the number of trailing periods compared for stability.
const stablePeriods = 3

// Tuner runs the relay identification on one heater. It is advanced by Poll.
type Tuner struct {
	dev unit.Device
	cfg Config
	log *zap.SugaredLogger

	phase      Phase
	err        error
	prev       pid.Params
	result     pid.Params
	target     uint16
	base       uint16
	phaseStart time.Time
	settled    time.Time
	isSettled  bool
	lastCheck  time.Time
	lastTemp   int
	stepTemp   int
	rise, fall int
	loops      uint32
	periods    []time.Duration
	stats      unit.RelayStats
}

func New(dev unit.Device, cfg Config, log *zap.SugaredLogger) *Tuner {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.Strategy == nil {
		cfg.Strategy = ZieglerNichols{}
	}
	return &Tuner{dev: dev, cfg: cfg, log: log}
}

// Start tunes the heater around its current preset.
func (t *Tuner) Start(now time.Time) {
	t.prev = t.dev.PID()
	t.target = t.dev.PresetTemp()
	t.err = nil
	t.loops = 0
	t.periods = t.periods[:0]
	t.dev.SwitchPower(true)
	t.enter(Heating, now)
	t.log.Infow("pid tune started", "target", t.target, "pid", t.prev)
}

func (t *Tuner) enter(p Phase, now time.Time) {
	t.phase = p
	t.phaseStart = now
	t.lastCheck = now
	t.isSettled = false
	t.lastTemp = int(t.dev.AverageTemp())
	t.stepTemp = t.lastTemp
}

func (t *Tuner) Phase() Phase { return t.phase }
func (t *Tuner) Err() error   { return t.err }

// Result returns the identified coefficients once Done.
func (t *Tuner) Result() pid.Params { return t.result }

// BasePower returns the fixed power found in the Base phase.
func (t *Tuner) BasePower() uint16 { return t.base }

// Loops returns the counted relay oscillations.
func (t *Tuner) Loops() uint32 { return t.loops }

func (t *Tuner) inBand() bool {
	d := int(t.dev.AverageTemp()) - int(t.target)
	return max(d, -d) <= int(t.cfg.Tolerance)
}

// Poll advances the tuning run.
func (t *Tuner) Poll(now time.Time) Phase {
	switch t.phase {
	case Idle, Done, Failed:
		return t.phase
	}
	limit := t.cfg.PhaseTimeout
	if t.phase == Relay {
		limit = t.cfg.RelayTimeout
	}
	if now.Sub(t.phaseStart) > limit {
		t.fail(ErrTimeout)
		return t.phase
	}

	switch t.phase {
	case Heating:
		t.heating(now)
	case Base:
		t.basePower(now)
	case PlusPower:
		if now.Sub(t.phaseStart) >= t.cfg.Step {
			t.rise = int(t.dev.AverageTemp()) - t.stepTemp
			t.dev.FixPower(t.base - t.base/4)
			t.enter(MinusPower, now)
		}
	case MinusPower:
		if now.Sub(t.phaseStart) >= t.cfg.Step {
			t.fall = t.stepTemp - int(t.dev.AverageTemp())
			if t.rise <= 0 || t.fall <= 0 {
				t.log.Warnw("no response to power steps", "rise", t.rise, "fall", t.fall)
				t.fail(ErrNoResponse)
				break
			}
			t.dev.AutoTunePID(t.base, t.base/4, t.target, t.cfg.Hysteresis)
			t.enter(Relay, now)
			t.log.Debugw("relay started", "base", t.base, "rise", t.rise, "fall", t.fall)
		}
	case Relay:
		t.relay()
	}
	return t.phase
}

func (t *Tuner) heating(now time.Time) {
	ok := t.inBand() && t.dev.TempDispersion() <= t.cfg.TempDispersion && t.dev.AveragePower() > 0
	if !ok {
		t.isSettled = false
		return
	}
	if !t.isSettled {
		t.isSettled = true
		t.settled = now
	}
	if now.Sub(t.settled) < t.cfg.Hold {
		return
	}
	p := uint32(t.dev.AveragePower()) * 105 / 100
	t.base = uint16(min(p, uint32(t.dev.MaxFixedPower())))
	t.dev.FixPower(t.base)
	t.enter(Base, now)
}

// basePower nudges the fixed power by one percent against the temperature
// drift until the heater holds the preset.
func (t *Tuner) basePower(now time.Time) {
	if now.Sub(t.lastCheck) < t.cfg.Hold {
		return
	}
	at := int(t.dev.AverageTemp())
	drift := at - t.lastTemp
	t.lastTemp = at
	t.lastCheck = now

	if max(drift, -drift) <= int(t.cfg.Drift) && t.inBand() && t.dev.TempDispersion() <= t.cfg.TempDispersion {
		t.dev.FixPower(t.base + t.base/4)
		t.enter(PlusPower, now)
		return
	}
	step := max(t.base/100, 1)
	if drift > 0 || (drift == 0 && at > int(t.target)) {
		t.base -= min(step, t.base)
	} else {
		t.base = min(t.base+step, t.dev.MaxFixedPower())
	}
	t.dev.FixPower(t.base)
}

func (t *Tuner) relay() {
	r := t.dev.Relay()
	if r.Loops == t.loops {
		return
	}
	t.loops = r.Loops
	t.stats = r
	t.periods = append(t.periods, r.Period)
	if t.loops >= t.cfg.MaxLoops || (t.loops >= t.cfg.MinLoops && t.periodStable()) {
		t.finish()
	}
}

func (t *Tuner) periodStable() bool {
	if len(t.periods) < stablePeriods {
		return false
	}
	last := t.periods[len(t.periods)-stablePeriods:]
	lo, hi := last[0], last[0]
	for _, p := range last {
		lo, hi = min(lo, p), max(hi, p)
	}
	return float64(hi-lo) <= float64(hi)*t.cfg.PeriodTolerance
}

func (t *Tuner) finish() {
	alpha := float32(int(t.stats.Max)-int(t.stats.Min)) / 2
	eps := float32(t.cfg.Hysteresis)
	if alpha*alpha <= eps*eps {
		t.log.Warnw("oscillation too small", "alpha", alpha, "epsilon", eps)
		t.fail(ErrAmplitude)
		return
	}
	p, ok := t.cfg.Strategy.Coefficients(float32(t.base/4), alpha*alpha-eps*eps, t.stats.Period)
	if !ok {
		t.fail(ErrRejected)
		return
	}
	t.result = p
	t.dev.SetPID(p)
	t.dev.SwitchPower(false)
	t.phase = Done
	t.log.Infow("pid tune done", "pid", p, "loops", t.loops, "period", t.stats.Period, "alpha", alpha)
}

// Cancel stops the run and keeps the previous coefficients.
func (t *Tuner) Cancel() {
	switch t.phase {
	case Idle, Done, Failed:
		return
	}
	t.fail(ErrCanceled)
}

func (t *Tuner) fail(err error) {
	t.dev.SetPID(t.prev)
	t.dev.SwitchPower(false)
	t.err = err
	t.phase = Failed
	t.log.Warnw("pid tune failed", "error", err)
}
