package station

import (
	"time"

	"github.com/itohio/gostation/pkg/acquire"
	"github.com/itohio/gostation/pkg/calib"
	"github.com/itohio/gostation/pkg/store"
	"github.com/itohio/gostation/pkg/tune"
	"github.com/itohio/gostation/pkg/unit"
)

// ProcedureStatus describes the running or the last finished procedure.
type ProcedureStatus struct {
	Kind    string // auto, manual or tune; empty when none ran yet
	Device  calib.Device
	Phase   string
	Running bool
	Step    int    // auto: index of the target point
	Target  uint16 // auto: target in internal units; manual: preset
	Err     error
}

// procedure is a running calibration or tune advanced by Poll.
type procedure interface {
	status() ProcedureStatus
	poll(now time.Time)
	// outcome reports whether the procedure ended and whether it succeeded.
	outcome() (ended, ok bool)
	cancel()
}

func acquireOutcome(ph acquire.Phase, err error) (bool, bool) {
	switch ph {
	case acquire.Done:
		return true, err == nil
	case acquire.Failed:
		return true, false
	}
	return false, false
}

type autoProc struct{ a *acquire.Auto }

func (p *autoProc) status() ProcedureStatus {
	return ProcedureStatus{
		Kind:   "auto",
		Device: calib.Iron,
		Phase:  p.a.Phase().String(),
		Step:   p.a.Index(),
		Target: p.a.Target(),
		Err:    p.a.Err(),
	}
}

func (p *autoProc) poll(now time.Time)    { p.a.Poll(now) }
func (p *autoProc) outcome() (bool, bool) { return acquireOutcome(p.a.Phase(), p.a.Err()) }
func (p *autoProc) cancel()               { p.a.Cancel() }

type manualProc struct {
	d calib.Device
	m *acquire.Manual
}

func (p *manualProc) status() ProcedureStatus {
	return ProcedureStatus{
		Kind:   "manual",
		Device: p.d,
		Phase:  p.m.Phase().String(),
		Target: p.m.Preset(),
		Err:    p.m.Err(),
	}
}

func (p *manualProc) poll(now time.Time)    { p.m.Poll(now) }
func (p *manualProc) outcome() (bool, bool) { return acquireOutcome(p.m.Phase(), p.m.Err()) }
func (p *manualProc) cancel()               { p.m.Cancel() }

type tuneProc struct {
	d calib.Device
	t *tune.Tuner
}

func (p *tuneProc) status() ProcedureStatus {
	return ProcedureStatus{
		Kind:   "tune",
		Device: p.d,
		Phase:  p.t.Phase().String(),
		Step:   int(p.t.Loops()),
		Err:    p.t.Err(),
	}
}

func (p *tuneProc) poll(now time.Time) { p.t.Poll(now) }
func (p *tuneProc) cancel()            { p.t.Cancel() }

func (p *tuneProc) outcome() (bool, bool) {
	switch p.t.Phase() {
	case tune.Done:
		return true, p.t.Err() == nil
	case tune.Failed:
		return true, false
	}
	return false, false
}

// Procedure returns the running or the last finished procedure.
func (s *Station) Procedure() ProcedureStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Station) statusLocked() ProcedureStatus {
	if s.proc == nil {
		return s.last
	}
	st := s.proc.status()
	st.Running = true
	return st
}

// busy reports whether a procedure drives the device.
func (s *Station) busy(d calib.Device) bool {
	return s.proc != nil && s.proc.status().Device == d
}

func (s *Station) begin(p procedure) {
	s.proc = p
	st := p.status()
	s.log.Infow("procedure started", "kind", st.Kind, "device", st.Device)
}

// StartAutoCalibration calibrates the selected iron tip automatically.
func (s *Station) StartAutoCalibration() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.proc != nil {
		return ErrBusy
	}
	s.lowPower = false
	a := acquire.NewAuto(s.iron, s.model, s.tips, s.cfg.Calibration.Auto(s.cfg.Iron.InternalMax), s.log.Named("auto"))
	a.Start(s.tip, s.ambientInt8(), s.clock())
	s.begin(&autoProc{a: a})
	return nil
}

// AcceptReading records the thermometer reading in Celsius for the current
// automatic calibration point.
func (s *Station) AcceptReading(celsius uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.proc.(*autoProc)
	if !ok {
		return ErrNoProcedure
	}
	if err := p.a.Accept(celsius, s.clock()); err != nil {
		s.settle()
		return err
	}
	s.settle()
	return nil
}

// StartManualCalibration starts capturing the reference points of the
// selected iron tip or of the gun.
func (s *Station) StartManualCalibration(d calib.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.proc != nil {
		return ErrBusy
	}
	name := s.tip
	if d == calib.Gun {
		name = store.GunTip
	} else {
		s.lowPower = false
	}
	m := acquire.NewManual(s.unitFor(d), d, s.model, s.tips, s.cfg.Calibration.Manual(), s.log.Named("manual"))
	m.Start(name, s.ambientInt8())
	s.begin(&manualProc{d: d, m: m})
	return nil
}

func (s *Station) manual() (*acquire.Manual, error) {
	p, ok := s.proc.(*manualProc)
	if !ok {
		return nil, ErrNoProcedure
	}
	return p.m, nil
}

// SelectReference heats the device to reference point i.
func (s *Station) SelectReference(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.manual()
	if err != nil {
		return err
	}
	return m.Select(i, s.clock())
}

// AdjustReference moves the reference preset by delta internal units.
func (s *Station) AdjustReference(delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.manual()
	if err != nil {
		return err
	}
	m.Adjust(delta, s.clock())
	return nil
}

// AcceptReference stores the settled reading of the selected reference point.
func (s *Station) AcceptReference() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.manual()
	if err != nil {
		return err
	}
	return m.Accept()
}

// CommitCalibration installs and saves the captured table.
func (s *Station) CommitCalibration() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.manual()
	if err != nil {
		return err
	}
	if _, err := m.Commit(); err != nil {
		s.settle()
		return err
	}
	s.settle()
	return nil
}

// StartTune runs the relay auto-tune of the device at its preset.
func (s *Station) StartTune(d calib.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.proc != nil {
		return ErrBusy
	}
	if d == calib.Iron {
		s.lowPower = false
		s.applyIronPreset()
	} else {
		s.applyGunPreset()
	}
	t := tune.New(s.unitFor(d), s.cfg.Tune.Tuner(), s.log.Named("tune"))
	t.Start(s.clock())
	s.begin(&tuneProc{d: d, t: t})
	return nil
}

// CancelProcedure stops the running procedure and restores what it changed.
func (s *Station) CancelProcedure() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.proc == nil {
		return ErrNoProcedure
	}
	s.proc.cancel()
	s.settle()
	return nil
}

// settle retires a procedure that reached a terminal state.
func (s *Station) settle() {
	if s.proc == nil {
		return
	}
	ended, ok := s.proc.outcome()
	if !ended {
		return
	}
	st := s.proc.status()

	if ok {
		if p, isTune := s.proc.(*tuneProc); isTune {
			params := p.t.Result()
			s.configs.Update(func(r *store.ConfigRecord) {
				if p.d == calib.Gun {
					r.SetGunPID(params)
				} else {
					r.SetIronPID(params)
				}
			})
			s.log.Infow("pid tuned", "device", p.d, "kp", params.Kp, "ki", params.Ki, "kd", params.Kd)
		}
	}
	// The installed table may have changed either way.
	if st.Device == calib.Gun {
		s.applyGunPreset()
	} else {
		s.applyIronPreset()
	}

	s.last = st
	s.proc = nil
	s.log.Infow("procedure finished", "kind", st.Kind, "phase", st.Phase, "err", st.Err)
}

// Poll advances the foreground: the running procedure, the reed switch and
// the idle timers. It should be called a few times per second.
func (s *Station) Poll(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.proc != nil {
		s.proc.poll(now)
		s.settle()
	}
	if !s.busy(calib.Gun) {
		s.pollReed()
	}
	if !s.busy(calib.Iron) {
		s.pollIdle(now)
	}
}

// pollReed switches the gun off when it is hung in its holder and back on
// when it is lifted.
func (s *Station) pollReed() {
	if !s.configs.Config().Options().ReedSwitch {
		return
	}
	reed := s.reed.Load()
	if reed == s.lastReed {
		return
	}
	s.lastReed = reed

	if reed {
		switch s.gun.Mode() {
		case unit.On, unit.Fixed:
			s.gun.SwitchPower(false)
			s.gunHung = true
			s.log.Info("gun hung up")
		}
		return
	}
	if s.gunHung {
		s.gunHung = false
		s.applyGunPreset()
		s.gun.SwitchPower(true)
		s.log.Info("gun lifted")
	}
}

// pollIdle lowers the iron preset after the idle timeout and switches the
// iron off after the auto-off timeout.
func (s *Station) pollIdle(now time.Time) {
	switch s.iron.Mode() {
	case unit.On, unit.Heating:
	default:
		return
	}
	rec := s.configs.Config()
	idle := now.Sub(s.activity)

	lowEnabled := rec.LowTemp > 0 && rec.LowTimeout > 0 && rec.LowTemp < rec.IronTemp
	low := time.Duration(rec.LowTimeout) * 5 * time.Second
	if lowEnabled && !s.lowPower && idle >= low {
		s.lowPower = true
		s.iron.LowPowerMode(s.internal(calib.Iron, rec.LowTemp))
		s.log.Infow("low power mode", "temp", rec.LowTemp, "idle", idle)
		return
	}

	if rec.OffTimeout == 0 {
		return
	}
	off := time.Duration(rec.OffTimeout) * time.Minute
	if lowEnabled {
		off += low
	}
	if idle >= off {
		s.lowPower = false
		s.iron.SwitchPower(false)
		s.log.Infow("iron switched off after idle", "idle", idle)
	}
}
