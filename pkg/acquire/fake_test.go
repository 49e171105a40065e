package acquire

import (
	"github.com/itohio/gostation/pkg/calib"
	"github.com/itohio/gostation/pkg/pid"
	"github.com/itohio/gostation/pkg/unit"
)

// fakeDevice settles instantly on its preset unless follow is false.
type fakeDevice struct {
	preset   uint16
	avg      uint16
	power    uint16
	tDisp    uint32
	pDisp    uint32
	mode     unit.PowerMode
	follow   bool
	pid      pid.Params
	retarget int
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{power: 300, follow: true, mode: unit.Off}
}

func (f *fakeDevice) PresetTemp() uint16      { return f.preset }
func (f *fakeDevice) AverageTemp() uint16     { return f.avg }
func (f *fakeDevice) AveragePower() uint16    { return f.power }
func (f *fakeDevice) TempDispersion() uint32  { return f.tDisp }
func (f *fakeDevice) PowerDispersion() uint32 { return f.pDisp }
func (f *fakeDevice) Mode() unit.PowerMode    { return f.mode }
func (f *fakeDevice) IsChill() bool           { return false }
func (f *fakeDevice) Connected() bool         { return true }
func (f *fakeDevice) MaxFixedPower() uint16   { return 1000 }
func (f *fakeDevice) Relay() unit.RelayStats  { return unit.RelayStats{} }
func (f *fakeDevice) PID() pid.Params         { return f.pid }
func (f *fakeDevice) SetPID(p pid.Params)     { f.pid = p }
func (f *fakeDevice) FixPower(p uint16)       { f.mode = unit.Fixed }

func (f *fakeDevice) AutoTunePID(base, delta, baseTemp, hysteresis uint16) { f.mode = unit.PidTune }

func (f *fakeDevice) SetTemp(t uint16) {
	f.preset = t
	f.retarget++
	if f.follow {
		f.avg = t
	}
}

func (f *fakeDevice) Adjust(t uint16) {
	f.preset = t
	if f.follow {
		f.avg = t
	}
}

func (f *fakeDevice) SwitchPower(on bool) {
	if on {
		f.mode = unit.On
	} else {
		f.mode = unit.Cooling
	}
}

type fakeSaver struct {
	saved map[string]calib.TipCalibration
	err   error
}

func (s *fakeSaver) Save(name string, tip calib.TipCalibration) error {
	if s.err != nil {
		return s.err
	}
	if s.saved == nil {
		s.saved = map[string]calib.TipCalibration{}
	}
	s.saved[name] = tip
	return nil
}

func newModel() *calib.Model {
	return calib.NewModel(calib.DefaultLimits(calib.Iron), calib.DefaultLimits(calib.Gun))
}
