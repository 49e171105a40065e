package acquire

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/itohio/gostation/pkg/calib"
	"github.com/itohio/gostation/pkg/unit"
)

// ManualConfig tunes the manual calibration.
type ManualConfig struct {
	Criteria Criteria
	MinWait  time.Duration // Ready is never reported earlier after a retarget
	Timeout  time.Duration // heating a reference point gives up after this
}

func DefaultManualConfig() ManualConfig {
	return ManualConfig{
		Criteria: Criteria{Tolerance: 10, TempDispersion: 60, PowerDispersion: 2000},
		MinWait:  10 * time.Second,
		Timeout:  5 * time.Minute,
	}
}

// Manual captures the reference points of a tip one at a time. The operator
// selects a reference, waits for Ready, corrects the preset with Adjust until
// an external thermometer shows the reference temperature and accepts the
// settled raw reading.
type Manual struct {
	dev   unit.Device
	d     calib.Device
	model *calib.Model
	saver TipSaver
	cfg   ManualConfig
	log   *zap.SugaredLogger

	phase    Phase
	err      error
	name     string
	ambient  int8
	prev     calib.TipCalibration
	tip      [calib.Points]uint16
	accepted [calib.Points]bool
	ref      int
	preset   uint16
	started  time.Time
	running  bool
}

func NewManual(dev unit.Device, d calib.Device, model *calib.Model, saver TipSaver, cfg ManualConfig, log *zap.SugaredLogger) *Manual {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Manual{dev: dev, d: d, model: model, saver: saver, cfg: cfg, log: log, ref: -1}
}

// Start begins the calibration of the named tip. The working table starts
// from the installed one, or from the default table when that is unusable.
func (m *Manual) Start(name string, ambient int8) {
	m.name = name
	m.ambient = ambient
	m.prev = m.model.Tip(m.d)
	m.tip = m.prev.Calibration
	if !m.prev.Usable() {
		m.tip = calib.DefaultTable(m.d)
	}
	m.accepted = [calib.Points]bool{}
	m.ref = -1
	m.err = nil
	m.phase = Idle
	m.running = true
	m.log.Infow("manual calibration started", "device", m.d, "tip", name)
}

// Select heats the device to reference point i using the working table.
func (m *Manual) Select(i int, now time.Time) error {
	if !m.running {
		return ErrNotRunning
	}
	if i < 0 || i >= calib.Points {
		return fmt.Errorf("%d: %w", i, ErrBadIndex)
	}
	m.ref = i
	m.preset = m.model.HumanToInternal(calib.ReferenceTemp(m.d, i), int(m.ambient), m.d)
	m.dev.SetTemp(m.preset)
	m.dev.SwitchPower(true)
	m.restart(now)
	m.phase = Heating
	return nil
}

func (m *Manual) restart(now time.Time) { m.started = now }

// Adjust moves the preset by delta internal units without resetting the
// controller. The settle wait starts over.
func (m *Manual) Adjust(delta int, now time.Time) {
	if m.ref < 0 {
		return
	}
	v := int(m.preset) + delta
	v = max(0, min(v, int(m.model.Limits(m.d).InternalMax)))
	m.preset = uint16(v)
	m.dev.Adjust(m.preset)
	m.restart(now)
	if m.phase == Ready {
		m.phase = Heating
	}
}

// Preset returns the preset of the selected reference in internal units.
func (m *Manual) Preset() uint16 { return m.preset }

// Phase returns the current phase.
func (m *Manual) Phase() Phase { return m.phase }

// Err returns the reason of a failure.
func (m *Manual) Err() error { return m.err }

// Table returns the working table.
func (m *Manual) Table() [calib.Points]uint16 { return m.tip }

// Poll advances the settle detection.
func (m *Manual) Poll(now time.Time) Phase {
	if m.phase != Heating && m.phase != Ready {
		return m.phase
	}
	stable := m.cfg.Criteria.stable(m.dev, m.preset)
	waited := now.Sub(m.started)
	switch {
	case stable && waited >= m.cfg.MinWait:
		m.phase = Ready
	case waited > m.cfg.Timeout:
		m.fail(ErrTimeout)
	default:
		m.phase = Heating
	}
	return m.phase
}

// Accept stores the settled raw reading as the selected reference point and
// rebuilds the working table around it.
func (m *Manual) Accept() error {
	if m.phase != Ready {
		return ErrNotReady
	}
	raw := m.dev.AverageTemp()
	m.tip[m.ref] = raw
	m.accepted[m.ref] = true
	m.tip = calib.BuildCalibration(m.tip, m.ref, m.model.Limits(m.d).InternalMax)
	m.model.Apply(m.d, calib.TipCalibration{
		Calibration: m.tip,
		Ambient:     m.ambient,
		Status:      calib.Active | calib.Calibrated,
	})
	m.log.Infow("reference point accepted", "index", m.ref, "raw", raw, "table", m.tip)
	m.phase = Idle
	return nil
}

// Commit installs and saves the working table.
func (m *Manual) Commit() (calib.TipCalibration, error) {
	if !m.running {
		return m.prev, ErrNotRunning
	}
	n := 0
	for _, ok := range m.accepted {
		if ok {
			n++
		}
	}
	if n == 0 {
		m.fail(ErrNoPoints)
		return m.prev, m.err
	}
	m.dev.SwitchPower(false)
	tip := calib.TipCalibration{
		Calibration: m.tip,
		Ambient:     m.ambient,
		Status:      calib.Active | calib.Calibrated,
	}
	m.model.Apply(m.d, tip)
	m.phase = Done
	m.running = false
	if m.saver != nil {
		if err := m.saver.Save(m.name, tip); err != nil {
			m.err = err
			return tip, fmt.Errorf("save %q: %w", m.name, err)
		}
	}
	m.log.Infow("manual calibration done", "tip", m.name, "table", tip.Calibration)
	return tip, nil
}

// Cancel restores the table installed before Start.
func (m *Manual) Cancel() {
	if !m.running {
		return
	}
	m.fail(ErrCanceled)
}

func (m *Manual) fail(err error) {
	m.dev.SwitchPower(false)
	m.model.Apply(m.d, m.prev)
	m.err = err
	m.phase = Failed
	m.running = false
	m.log.Warnw("manual calibration failed", "tip", m.name, "error", err)
}
