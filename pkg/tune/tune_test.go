package tune

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/gostation/pkg/pid"
	"github.com/itohio/gostation/pkg/unit"
)

type fakeHeater struct {
	preset uint16
	avg    uint16
	power  uint16
	tDisp  uint32
	mode   unit.PowerMode
	fixed  uint16
	relay  unit.RelayStats
	tune   [4]uint16
	pid    pid.Params
	pidSet int
}

func (f *fakeHeater) PresetTemp() uint16      { return f.preset }
func (f *fakeHeater) AverageTemp() uint16     { return f.avg }
func (f *fakeHeater) AveragePower() uint16    { return f.power }
func (f *fakeHeater) TempDispersion() uint32  { return f.tDisp }
func (f *fakeHeater) PowerDispersion() uint32 { return 0 }
func (f *fakeHeater) Mode() unit.PowerMode    { return f.mode }
func (f *fakeHeater) IsChill() bool           { return false }
func (f *fakeHeater) Connected() bool         { return true }
func (f *fakeHeater) MaxFixedPower() uint16   { return 1000 }
func (f *fakeHeater) SetTemp(t uint16)        { f.preset = t }
func (f *fakeHeater) Adjust(t uint16)         { f.preset = t }
func (f *fakeHeater) Relay() unit.RelayStats  { return f.relay }
func (f *fakeHeater) PID() pid.Params         { return f.pid }

func (f *fakeHeater) SetPID(p pid.Params) {
	f.pid = p
	f.pidSet++
}

func (f *fakeHeater) SwitchPower(on bool) {
	if on {
		f.mode = unit.On
	} else {
		f.mode = unit.Cooling
	}
}

func (f *fakeHeater) FixPower(p uint16) {
	f.fixed = p
	f.mode = unit.Fixed
}

func (f *fakeHeater) AutoTunePID(base, delta, baseTemp, hysteresis uint16) {
	f.tune = [4]uint16{base, delta, baseTemp, hysteresis}
	f.mode = unit.PidTune
}

var (
	epoch   = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	initial = pid.Params{Kp: 2300, Ki: 50, Kd: 735}
)

func newHeater() *fakeHeater {
	return &fakeHeater{preset: 2000, avg: 2000, power: 400, pid: initial}
}

// toRelay runs a tuner on a well behaved heater up to the relay phase.
func toRelay(t *testing.T, h *fakeHeater, tu *Tuner) time.Time {
	t.Helper()
	now := epoch
	tu.Start(now)
	require.Equal(t, Heating, tu.Phase())
	assert.Equal(t, unit.On, h.mode)

	tu.Poll(now.Add(time.Second))
	now = now.Add(6 * time.Second)
	require.Equal(t, Base, tu.Poll(now))
	assert.Equal(t, uint16(420), h.fixed)

	now = now.Add(5 * time.Second)
	require.Equal(t, PlusPower, tu.Poll(now))
	assert.Equal(t, uint16(525), h.fixed)

	h.avg = 2030
	now = now.Add(20 * time.Second)
	require.Equal(t, MinusPower, tu.Poll(now))
	assert.Equal(t, uint16(315), h.fixed)

	h.avg = 1990
	now = now.Add(20 * time.Second)
	require.Equal(t, Relay, tu.Poll(now))
	assert.Equal(t, [4]uint16{420, 105, 2000, 10}, h.tune)
	return now
}

func TestTuner_Identifies(t *testing.T) {
	h := newHeater()
	tu := New(h, DefaultConfig(), nil)
	now := toRelay(t, h, tu)

	for n := uint32(1); n <= 16; n++ {
		h.relay = unit.RelayStats{Loops: n, Period: 30 * time.Second, Max: 2040, Min: 1960}
		now = now.Add(30 * time.Second)
		p := tu.Poll(now)
		if n < 16 {
			require.Equal(t, Relay, p, "loop %d", n)
		}
	}
	require.Equal(t, Done, tu.Phase(), "err: %v", tu.Err())
	want := pid.Params{Kp: 207, Ki: 14, Kd: 777}
	assert.Equal(t, want, tu.Result())
	assert.Equal(t, want, h.pid)
	assert.Equal(t, unit.Cooling, h.mode)
	assert.Equal(t, uint32(16), tu.Loops())
}

func TestTuner_UnstablePeriodRunsToMaxLoops(t *testing.T) {
	h := newHeater()
	tu := New(h, DefaultConfig(), nil)
	now := toRelay(t, h, tu)

	for n := uint32(1); n <= 24; n++ {
		period := 20 * time.Second
		if n%2 == 0 {
			period = 40 * time.Second
		}
		h.relay = unit.RelayStats{Loops: n, Period: period, Max: 2040, Min: 1960}
		now = now.Add(time.Minute)
		tu.Poll(now)
		if n < 24 {
			require.Equal(t, Relay, tu.Phase(), "loop %d", n)
		}
	}
	assert.Equal(t, Done, tu.Phase())
}

func TestTuner_RejectsSmallAmplitude(t *testing.T) {
	h := newHeater()
	tu := New(h, DefaultConfig(), nil)
	now := toRelay(t, h, tu)

	for n := uint32(1); n <= 16; n++ {
		h.relay = unit.RelayStats{Loops: n, Period: 30 * time.Second, Max: 2005, Min: 1995}
		now = now.Add(30 * time.Second)
		tu.Poll(now)
	}
	assert.Equal(t, Failed, tu.Phase())
	assert.ErrorIs(t, tu.Err(), ErrAmplitude)
	assert.Equal(t, initial, h.pid)
	assert.Equal(t, unit.Cooling, h.mode)
}

func TestTuner_NoResponse(t *testing.T) {
	h := newHeater()
	tu := New(h, DefaultConfig(), nil)
	now := epoch
	tu.Start(now)
	tu.Poll(now.Add(time.Second))
	tu.Poll(now.Add(6 * time.Second))
	require.Equal(t, PlusPower, tu.Poll(now.Add(11*time.Second)))
	tu.Poll(now.Add(31 * time.Second))
	assert.Equal(t, Failed, tu.Poll(now.Add(51*time.Second)))
	assert.ErrorIs(t, tu.Err(), ErrNoResponse)
	assert.Equal(t, initial, h.pid)
}

func TestTuner_BaseNudgesAgainstDrift(t *testing.T) {
	h := newHeater()
	tu := New(h, DefaultConfig(), nil)
	now := epoch
	tu.Start(now)
	tu.Poll(now.Add(time.Second))
	now = now.Add(6 * time.Second)
	require.Equal(t, Base, tu.Poll(now))

	// warming up at the base power: back off one percent
	h.avg = 2010
	now = now.Add(5 * time.Second)
	assert.Equal(t, Base, tu.Poll(now))
	assert.Equal(t, uint16(416), tu.BasePower())
	assert.Equal(t, uint16(416), h.fixed)

	// cooling down: add one percent
	h.avg = 1990
	now = now.Add(5 * time.Second)
	assert.Equal(t, Base, tu.Poll(now))
	assert.Equal(t, uint16(420), tu.BasePower())

	// steady again
	now = now.Add(5 * time.Second)
	assert.Equal(t, PlusPower, tu.Poll(now))
}

func TestTuner_HeatingTimeout(t *testing.T) {
	h := newHeater()
	h.avg = 500
	tu := New(h, DefaultConfig(), nil)
	tu.Start(epoch)
	assert.Equal(t, Heating, tu.Poll(epoch.Add(time.Minute)))
	assert.Equal(t, Failed, tu.Poll(epoch.Add(6*time.Minute)))
	assert.ErrorIs(t, tu.Err(), ErrTimeout)
	assert.Equal(t, initial, h.pid)
}

func TestTuner_Cancel(t *testing.T) {
	h := newHeater()
	tu := New(h, DefaultConfig(), nil)
	tu.Cancel()
	assert.Equal(t, Idle, tu.Phase())

	tu.Start(epoch)
	tu.Cancel()
	assert.Equal(t, Failed, tu.Phase())
	assert.ErrorIs(t, tu.Err(), ErrCanceled)
	assert.Equal(t, 1, h.pidSet)
}

func TestZieglerNichols(t *testing.T) {
	p, ok := ZieglerNichols{}.Coefficients(105, 1500, 30*time.Second)
	require.True(t, ok)
	assert.Equal(t, pid.Params{Kp: 207, Ki: 14, Kd: 777}, p)

	_, ok = ZieglerNichols{}.Coefficients(105, 0, 30*time.Second)
	assert.False(t, ok)
	_, ok = ZieglerNichols{}.Coefficients(105, 1500, 0)
	assert.False(t, ok)
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "minus_power", MinusPower.String())
	assert.Equal(t, "unknown", Phase(99).String())
}
