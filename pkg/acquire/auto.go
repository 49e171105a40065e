package acquire

import (
	"time"

	"github.com/chewxy/math32"
	"go.uber.org/zap"

	"github.com/itohio/gostation/pkg/calib"
	"github.com/itohio/gostation/pkg/unit"
)

const (
	// MaxAutoPoints is the largest number of targets of an automatic calibration.
	MaxAutoPoints = 8
	// minTargetStep is the smallest distance between two targets in internal
	// units.
	minTargetStep = 40
)

// AutoConfig tunes the automatic calibration.
type AutoConfig struct {
	Points       int           // number of targets, at most MaxAutoPoints
	StartTemp    uint16        // first target in internal units
	Ceiling      uint16        // raw reading that ends the calibration
	CoolGap      uint16        // depth of the Cooling phase below the target
	Hold         time.Duration // a phase ends after its condition held this long
	PhaseTimeout time.Duration
	Criteria     Criteria
	TrustedMin   uint16 // Celsius range of the points used by the fit
	TrustedMax   uint16
}

// DefaultAutoConfig returns the settings for a heater with the given range.
func DefaultAutoConfig(internalMax uint16) AutoConfig {
	return AutoConfig{
		Points:       MaxAutoPoints,
		StartTemp:    internalMax / 6,
		Ceiling:      internalMax - internalMax/8,
		CoolGap:      60,
		Hold:         5 * time.Second,
		PhaseTimeout: 3 * time.Minute,
		Criteria:     Criteria{Tolerance: 15, TempDispersion: 60, PowerDispersion: 2000},
		TrustedMin:   150,
		TrustedMax:   450,
	}
}

// Auto calibrates the iron from operator readings at adaptively spaced
// targets. After every accepted reading a line is fit through the trusted
// points and a fresh table is derived from it.
type Auto struct {
	dev   unit.Device
	model *calib.Model
	saver TipSaver
	cfg   AutoConfig
	log   *zap.SugaredLogger

	phase      Phase
	err        error
	name       string
	ambient    int8
	prev       calib.TipCalibration
	index      int
	targets    [MaxAutoPoints]uint16
	tipMax     uint16 // internal reading expected at TrustedMax
	points     []Point
	table      [calib.Points]uint16
	fitted     bool
	phaseStart time.Time
	hold       settler
}

func NewAuto(dev unit.Device, model *calib.Model, saver TipSaver, cfg AutoConfig, log *zap.SugaredLogger) *Auto {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.Points < 2 || cfg.Points > MaxAutoPoints {
		cfg.Points = MaxAutoPoints
	}
	return &Auto{dev: dev, model: model, saver: saver, cfg: cfg, log: log}
}

// Start begins the calibration of the named iron tip.
func (a *Auto) Start(name string, ambient int8, now time.Time) {
	a.name = name
	a.ambient = ambient
	a.prev = a.model.Tip(calib.Iron)
	a.points = a.points[:0]
	a.fitted = false
	a.err = nil
	a.index = 0
	a.tipMax = a.model.Limits(calib.Iron).InternalMax / 2
	a.spread(a.cfg.StartTemp, 0)
	a.log.Infow("auto calibration started", "tip", name, "targets", a.targets[:a.cfg.Points])
	a.begin(now)
}

// spread places the targets from index from up to the last one evenly
// between base and tipMax, at least minTargetStep apart.
func (a *Auto) spread(base uint16, from int) {
	last := a.cfg.Points - 1
	a.targets[from] = base
	if from >= last {
		return
	}
	span := max(int(a.tipMax)-int(base), minTargetStep*(last-from))
	for j := from + 1; j <= last; j++ {
		a.targets[j] = base + uint16(span*(j-from)/(last-from))
	}
}

func (a *Auto) begin(now time.Time) {
	a.dev.SetTemp(a.targets[a.index])
	a.dev.SwitchPower(true)
	a.enter(Heating, now)
}

func (a *Auto) enter(p Phase, now time.Time) {
	a.phase = p
	a.phaseStart = now
	a.hold.reset()
}

// Phase returns the current phase.
func (a *Auto) Phase() Phase { return a.phase }

// Err returns the reason of a failure.
func (a *Auto) Err() error { return a.err }

// Index returns the number of accepted points.
func (a *Auto) Index() int { return a.index }

// Target returns the current target in internal units.
func (a *Auto) Target() uint16 { return a.targets[a.index%MaxAutoPoints] }

// Points returns the accepted readings.
func (a *Auto) Points() []Point { return append([]Point(nil), a.points...) }

// Table returns the last fitted table and whether a fit exists.
func (a *Auto) Table() ([calib.Points]uint16, bool) { return a.table, a.fitted }

// Poll advances the calibration.
func (a *Auto) Poll(now time.Time) Phase {
	switch a.phase {
	case Idle, Ready, Done, Failed:
		return a.phase
	}
	if t := a.dev.AverageTemp(); t > a.cfg.Ceiling {
		a.log.Warnw("safety ceiling reached", "temp", t, "ceiling", a.cfg.Ceiling)
		a.finish(ErrCeiling)
		return a.phase
	}
	if now.Sub(a.phaseStart) > a.cfg.PhaseTimeout {
		a.fail(ErrTimeout)
		return a.phase
	}

	target := a.targets[a.index]
	switch a.phase {
	case Heating:
		if a.hold.update(inBand(a.dev, target, a.cfg.Criteria.Tolerance), now) >= a.cfg.Hold {
			a.dev.SetTemp(target - min(a.cfg.CoolGap, target))
			a.enter(Cooling, now)
		}
	case Cooling:
		low := target - min(a.cfg.CoolGap, target)
		if a.hold.update(inBand(a.dev, low, a.cfg.Criteria.Tolerance), now) >= a.cfg.Hold {
			a.dev.SetTemp(target)
			a.enter(HeatingAgain, now)
		}
	case HeatingAgain:
		if a.hold.update(a.cfg.Criteria.stable(a.dev, target), now) >= a.cfg.Hold {
			a.enter(Ready, now)
			a.log.Debugw("calibration point ready", "index", a.index, "target", target)
		}
	}
	return a.phase
}

// Accept records the real temperature of the current target in Celsius.
func (a *Auto) Accept(celsius uint16, now time.Time) error {
	if a.phase != Ready {
		return ErrNotReady
	}
	p := Point{Internal: a.dev.AverageTemp(), Real: celsius}
	a.points = append(a.points, p)
	a.fit()
	a.log.Infow("calibration point", "index", a.index, "internal", p.Internal, "real", celsius, "fitted", a.fitted)

	if celsius >= a.cfg.TrustedMax || a.index+1 >= a.cfg.Points {
		a.finish(nil)
		return a.err
	}
	a.adapt(p)
	a.index++
	a.begin(now)
	return nil
}

// fit refreshes the table from the points inside the trusted range.
func (a *Auto) fit() {
	k, b, ok := fitLine(a.trusted())
	if !ok {
		return
	}
	tab, ok := lineTable(k, b, calib.Iron, a.model.Limits(calib.Iron).InternalMax)
	if !ok {
		a.log.Warnw("fit rejected", "slope", k, "offset", b)
		return
	}
	a.table = tab
	a.fitted = true
}

// expected is the naive real temperature of target i.
func (a *Auto) expected(i int) float32 {
	lo, hi := float32(a.cfg.TrustedMin), float32(a.cfg.TrustedMax)
	return lo + (hi-lo)*float32(i)/float32(a.cfg.Points-1)
}

// adapt moves the top target so that the remaining ones end near TrustedMax.
// With a fit the line is extrapolated, otherwise the top is scaled by how much
// the reading over or undershot the naive expectation.
func (a *Auto) adapt(p Point) {
	internalMax := a.model.Limits(calib.Iron).InternalMax
	var top float32
	if a.fitted {
		k, b, _ := fitLine(a.trusted())
		top = k*float32(a.cfg.TrustedMax) + b
	} else {
		got := math32.Max(float32(p.Real), 1)
		top = float32(a.tipMax) * a.expected(a.index) / got
	}
	top = math32.Min(math32.Max(top, float32(internalMax/4)), float32(internalMax))
	a.tipMax = uint16(math32.Round(top))
	a.spread(p.Internal, a.index)
}

func (a *Auto) trusted() []Point {
	var out []Point
	for _, p := range a.points {
		if p.Real >= a.cfg.TrustedMin && p.Real <= a.cfg.TrustedMax {
			out = append(out, p)
		}
	}
	return out
}

// Cancel abandons the calibration and restores the previous table.
func (a *Auto) Cancel() {
	switch a.phase {
	case Idle, Done, Failed:
		return
	}
	a.fail(ErrCanceled)
}

// finish commits the fitted table, or fails when there is none.
func (a *Auto) finish(reason error) {
	if !a.fitted {
		if reason == nil {
			reason = ErrNoFit
		}
		a.fail(reason)
		return
	}
	a.dev.SwitchPower(false)
	tip := calib.TipCalibration{
		Calibration: a.table,
		Ambient:     a.ambient,
		Status:      calib.Active | calib.Calibrated,
	}
	a.model.Apply(calib.Iron, tip)
	a.phase = Done
	if a.saver != nil {
		if err := a.saver.Save(a.name, tip); err != nil {
			a.log.Errorw("save calibration", "tip", a.name, "error", err)
			a.err = err
			return
		}
	}
	a.log.Infow("auto calibration done", "tip", a.name, "table", a.table, "points", len(a.points), "reason", reason)
}

func (a *Auto) fail(err error) {
	a.dev.SwitchPower(false)
	a.model.Apply(calib.Iron, a.prev)
	a.err = err
	a.phase = Failed
	a.log.Warnw("auto calibration failed", "tip", a.name, "error", err)
}
