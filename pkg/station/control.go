package station

import (
	"errors"
	"fmt"
	"time"

	"github.com/itohio/gostation/pkg/calib"
	"github.com/itohio/gostation/pkg/store"
	"github.com/itohio/gostation/pkg/unit"
)

// HeaterStatus is the front-panel view of one heater.
type HeaterStatus struct {
	Mode      unit.PowerMode
	Temp      uint16 // Celsius
	Preset    uint16 // Celsius
	Power     uint16
	Connected bool
}

// Snapshot is the state shown on the front panel.
type Snapshot struct {
	Iron      HeaterStatus
	Gun       HeaterStatus
	Fan       uint16
	Relay     bool
	Ambient   int
	Tip       string
	Boost     time.Duration
	LowPower  bool
	Reed      bool
	Options   store.Options
	Procedure ProcedureStatus
}

// Snapshot returns the current state.
func (s *Station) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.configs.Config()
	return Snapshot{
		Iron: HeaterStatus{
			Mode:      s.iron.Mode(),
			Temp:      s.human(calib.Iron, s.iron.AverageTemp()),
			Preset:    rec.IronTemp,
			Power:     uint16(s.ironPower.Load()),
			Connected: s.iron.Connected(),
		},
		Gun: HeaterStatus{
			Mode:      s.gun.Mode(),
			Temp:      s.human(calib.Gun, s.gun.AverageTemp()),
			Preset:    rec.GunTemp,
			Power:     uint16(s.gunPower.Load()),
			Connected: s.gun.Connected(),
		},
		Fan:       s.gun.FanSpeed(),
		Relay:     s.gun.RelayOn(),
		Ambient:   int(s.ambient.Load()),
		Tip:       s.tip,
		Boost:     s.iron.BoostRemaining(),
		LowPower:  s.lowPower,
		Reed:      s.reed.Load(),
		Options:   rec.Options(),
		Procedure: s.statusLocked(),
	}
}

// Settings returns the stored settings record.
func (s *Station) Settings() store.ConfigRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configs.Config()
}

// clampPreset keeps a Celsius preset within the device limits.
func (s *Station) clampPreset(d calib.Device, t uint16) uint16 {
	lim := s.model.Limits(d)
	if t < lim.TempMin {
		return lim.TempMin
	}
	if t > lim.TempMax {
		return lim.TempMax
	}
	return t
}

// SetIronTemp sets the iron preset in Celsius.
func (s *Station) SetIronTemp(t uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t = s.clampPreset(calib.Iron, t)
	s.configs.Update(func(r *store.ConfigRecord) { r.IronTemp = t })
	s.touchLocked()
	s.applyIronPreset()
}

// SetGunTemp sets the gun preset in Celsius.
func (s *Station) SetGunTemp(t uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t = s.clampPreset(calib.Gun, t)
	s.configs.Update(func(r *store.ConfigRecord) { r.GunTemp = t })
	s.applyGunPreset()
}

// SetFan sets the gun fan speed.
func (s *Station) SetFan(speed uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if speed > s.cfg.Gun.FanMax {
		speed = s.cfg.Gun.FanMax
	}
	s.configs.Update(func(r *store.ConfigRecord) { r.GunFan = speed })
	s.gun.SetFan(speed)
}

func (s *Station) applyIronPreset() {
	s.iron.SetTemp(s.internal(calib.Iron, s.configs.Config().IronTemp))
}

func (s *Station) applyGunPreset() {
	s.gun.SetTemp(s.internal(calib.Gun, s.configs.Config().GunTemp))
}

// SwitchIron turns the iron on or starts cooling it down.
func (s *Station) SwitchIron(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if on {
		s.touchLocked()
		s.applyIronPreset()
	}
	s.lowPower = false
	s.iron.SwitchPower(on)
	s.log.Infow("iron power", "on", on)
}

// SwitchGun turns the gun on or starts cooling it down.
func (s *Station) SwitchGun(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.switchGunLocked(on)
}

func (s *Station) switchGunLocked(on bool) {
	if on {
		s.applyGunPreset()
	}
	s.gunHung = false
	s.gun.SwitchPower(on)
	s.log.Infow("gun power", "on", on)
}

// FixPower applies a constant power to the device. Zero cools it down like a
// switch off.
func (s *Station) FixPower(d calib.Device, p uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.unitFor(d).FixPower(p)
}

// Boost raises the iron by the stored boost increment for the stored duration.
// It only has an effect while the iron is On.
func (s *Station) Boost() {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.configs.Config()
	inc := rec.BoostTemp()
	if inc == 0 {
		return
	}
	s.touchLocked()
	t := rec.IronTemp + inc
	if top := s.model.Limits(calib.Iron).TempMax; t > top {
		t = top
	}
	s.iron.BoostPowerMode(s.internal(calib.Iron, t), time.Duration(rec.BoostDuration())*time.Second)
}

// SetBoost stores the boost increment in Celsius and duration in seconds.
func (s *Station) SetBoost(temp, duration uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs.Update(func(r *store.ConfigRecord) { r.SaveBoost(temp, duration) })
}

// SetLowPower stores the idle preset in Celsius, the idle timeout and the
// auto-off timeout. A zero temperature disables the low power mode and a
// zero off timeout disables the auto-off.
func (s *Station) SetLowPower(temp uint16, low, off time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lowSteps := min(low/(5*time.Second), 255)
	offMin := min(off/time.Minute, 255)
	s.configs.Update(func(r *store.ConfigRecord) {
		r.LowTemp = temp
		r.LowTimeout = uint8(lowSteps)
		r.OffTimeout = uint8(offMin)
	})
}

// SetOptions stores the option flags.
func (s *Station) SetOptions(o store.Options) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.configs.Update(func(r *store.ConfigRecord) { r.SetOptions(o) })
	s.gun.SetFastCooling(o.FastCooling)
}

// Touch records operator activity. It leaves the low power mode.
func (s *Station) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
}

func (s *Station) touchLocked() {
	s.activity = s.clock()
	if s.lowPower {
		s.lowPower = false
		s.applyIronPreset()
		s.log.Debug("low power mode left")
	}
}

// Tips returns the active iron tips.
func (s *Station) Tips() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var names []string
	for _, n := range s.tips.ActiveTips() {
		if n != store.GunTip {
			names = append(names, n)
		}
	}
	return names
}

// Catalog returns every iron tip name the station knows.
func (s *Station) Catalog() []string {
	return s.tips.Names()[1:]
}

// SelectTip installs the calibration of the named iron tip.
func (s *Station) SelectTip(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.proc != nil {
		return ErrBusy
	}
	return s.selectTip(name)
}

func (s *Station) selectTip(name string) error {
	idx := s.tips.Index(name)
	if idx <= 0 {
		return fmt.Errorf("%q: %w", name, store.ErrUnknownTip)
	}
	tip, err := s.tips.Load(name)
	switch {
	case errors.Is(err, store.ErrTipNotFound):
		tip = calib.DefaultTip(calib.Iron)
	case err != nil:
		s.log.Warnw("tip calibration unreadable, using defaults", "tip", name, "err", err)
		tip = calib.DefaultTip(calib.Iron)
	}
	s.model.Apply(calib.Iron, tip)
	s.tip = name
	s.configs.Update(func(r *store.ConfigRecord) { r.TipIndex = uint8(idx) })
	s.applyIronPreset()
	s.log.Infow("tip selected", "tip", name, "calibrated", tip.Usable())
	return nil
}

// ActivateTip adds the tip to the active list.
func (s *Station) ActivateTip(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tips.Activate(name)
}

// DeactivateTip removes the tip from the active list.
func (s *Station) DeactivateTip(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tips.Deactivate(name)
}

// SaveConfig writes the configuration when it changed.
func (s *Station) SaveConfig() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	saved, err := s.configs.Save()
	if err != nil {
		return false, fmt.Errorf("save configuration: %w", err)
	}
	return saved, nil
}
