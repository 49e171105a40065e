package acquire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/gostation/pkg/calib"
	"github.com/itohio/gostation/pkg/unit"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// linearTip reports the real temperature of a tip reading five units per degree.
func linearTip(raw uint16) uint16 { return (raw + 2) / 5 }

func driveAuto(t *testing.T, a *Auto, dev *fakeDevice, now time.Time, reading func(uint16) uint16) time.Time {
	t.Helper()
	for n := 0; n < 5000; n++ {
		now = now.Add(time.Second)
		switch a.Poll(now) {
		case Ready:
			require.NoError(t, a.Accept(reading(dev.AverageTemp()), now))
		case Done, Failed:
			return now
		}
	}
	t.Fatal("calibration did not finish")
	return now
}

func TestFitLine(t *testing.T) {
	a, b, ok := fitLine([]Point{{Internal: 1000, Real: 200}, {Internal: 1500, Real: 300}, {Internal: 2000, Real: 400}})
	require.True(t, ok)
	assert.InDelta(t, 5, a, 1e-4)
	assert.InDelta(t, 0, b, 1e-2)

	_, _, ok = fitLine([]Point{{Internal: 1000, Real: 200}})
	assert.False(t, ok)
	_, _, ok = fitLine([]Point{{Internal: 1000, Real: 200}, {Internal: 1100, Real: 200}})
	assert.False(t, ok)

	tab, ok := lineTable(a, b, calib.Iron, 3700)
	require.True(t, ok)
	assert.Equal(t, [4]uint16{1000, 1300, 1650, 2000}, tab)

	_, ok = lineTable(-1, 3000, calib.Iron, 3700)
	assert.False(t, ok)
	_, ok = lineTable(10, 0, calib.Iron, 3700)
	assert.False(t, ok, "beyond internal max")
}

func TestAuto_SpreadKeepsMinimumStep(t *testing.T) {
	a := NewAuto(newFakeDevice(), newModel(), nil, DefaultAutoConfig(3700), nil)

	a.tipMax = 2400
	a.spread(1000, 0)
	assert.Equal(t, uint16(1000), a.targets[0])
	assert.Equal(t, uint16(1200), a.targets[1])
	assert.Equal(t, uint16(2400), a.targets[MaxAutoPoints-1])

	// the expected top fell below the point just measured
	a.tipMax = 900
	a.spread(1200, 3)
	assert.Equal(t, uint16(1200), a.targets[3])
	for j := 4; j < MaxAutoPoints; j++ {
		assert.GreaterOrEqual(t, int(a.targets[j])-int(a.targets[j-1]), minTargetStep, "target %d", j)
	}
}

func TestAuto_FitsLinearTip(t *testing.T) {
	dev := newFakeDevice()
	model := newModel()
	saver := &fakeSaver{}
	a := NewAuto(dev, model, saver, DefaultAutoConfig(3700), nil)

	a.Start("BC2", 24, epoch)
	assert.Equal(t, Heating, a.Phase())
	assert.Equal(t, unit.On, dev.mode)
	driveAuto(t, a, dev, epoch, linearTip)

	require.Equal(t, Done, a.Phase(), "err: %v", a.Err())
	assert.NoError(t, a.Err())

	pts := a.Points()
	assert.LessOrEqual(t, len(pts), MaxAutoPoints)
	for i := 1; i < len(pts); i++ {
		assert.Greater(t, pts[i].Internal, pts[i-1].Internal)
	}
	assert.GreaterOrEqual(t, pts[len(pts)-1].Real, uint16(440))

	tab, ok := a.Table()
	require.True(t, ok)
	want := [4]uint16{1000, 1300, 1650, 2000}
	for i := range want {
		assert.InDelta(t, want[i], tab[i], 6, "point %d", i)
	}

	tip := model.Tip(calib.Iron)
	assert.Equal(t, tab, tip.Calibration)
	assert.Equal(t, int8(24), tip.Ambient)
	assert.True(t, tip.Usable())
	assert.Equal(t, tip, saver.saved["BC2"])
	assert.Equal(t, unit.Cooling, dev.mode)
}

func TestAuto_PhaseSequence(t *testing.T) {
	dev := newFakeDevice()
	cfg := DefaultAutoConfig(3700)
	a := NewAuto(dev, newModel(), nil, cfg, nil)
	a.Start("B", 25, epoch)
	target := a.Target()

	var seen []Phase
	now := epoch
	for n := 0; n < 30 && a.Phase() != Ready; n++ {
		now = now.Add(time.Second)
		p := a.Poll(now)
		if len(seen) == 0 || seen[len(seen)-1] != p {
			seen = append(seen, p)
		}
	}
	assert.Equal(t, []Phase{Heating, Cooling, HeatingAgain, Ready}, seen)
	assert.Equal(t, target, dev.preset)
	assert.Equal(t, Ready, a.Poll(now.Add(time.Hour)), "Ready waits for the operator")
}

func TestAuto_NotReady(t *testing.T) {
	dev := newFakeDevice()
	a := NewAuto(dev, newModel(), nil, DefaultAutoConfig(3700), nil)
	a.Start("B", 25, epoch)
	assert.ErrorIs(t, a.Accept(200, epoch), ErrNotReady)
}

func TestAuto_CeilingCommitsFit(t *testing.T) {
	dev := newFakeDevice()
	model := newModel()
	saver := &fakeSaver{}
	cfg := DefaultAutoConfig(3700)
	cfg.Ceiling = 1300
	a := NewAuto(dev, model, saver, cfg, nil)

	a.Start("K", 25, epoch)
	driveAuto(t, a, dev, epoch, linearTip)

	require.Equal(t, Done, a.Phase())
	assert.True(t, model.Tip(calib.Iron).Usable())
	assert.Contains(t, saver.saved, "K")
}

func TestAuto_CeilingWithoutFitReverts(t *testing.T) {
	dev := newFakeDevice()
	model := newModel()
	prev := model.Tip(calib.Iron)
	cfg := DefaultAutoConfig(3700)
	cfg.Ceiling = 1000
	a := NewAuto(dev, model, &fakeSaver{}, cfg, nil)

	a.Start("K", 25, epoch)
	driveAuto(t, a, dev, epoch, linearTip)

	assert.Equal(t, Failed, a.Phase())
	assert.ErrorIs(t, a.Err(), ErrCeiling)
	assert.Equal(t, prev, model.Tip(calib.Iron))
	assert.Equal(t, unit.Cooling, dev.mode)
}

func TestAuto_UntrustedReadingsFail(t *testing.T) {
	dev := newFakeDevice()
	model := newModel()
	cfg := DefaultAutoConfig(3700)
	cfg.Ceiling = 3700
	a := NewAuto(dev, model, nil, cfg, nil)

	a.Start("K", 25, epoch)
	driveAuto(t, a, dev, epoch, func(uint16) uint16 { return 100 })

	assert.Equal(t, Failed, a.Phase())
	assert.ErrorIs(t, a.Err(), ErrNoFit)
	assert.Len(t, a.Points(), MaxAutoPoints)
}

func TestAuto_TimeoutRestoresTable(t *testing.T) {
	dev := newFakeDevice()
	dev.follow = false
	model := newModel()
	old := calib.TipCalibration{Calibration: [4]uint16{900, 1300, 1700, 2100}, Ambient: 22, Status: calib.Active | calib.Calibrated}
	model.Apply(calib.Iron, old)

	a := NewAuto(dev, model, nil, DefaultAutoConfig(3700), nil)
	a.Start("K", 25, epoch)
	assert.Equal(t, Heating, a.Poll(epoch.Add(time.Minute)))
	assert.Equal(t, Failed, a.Poll(epoch.Add(4*time.Minute)))
	assert.ErrorIs(t, a.Err(), ErrTimeout)
	assert.Equal(t, old, model.Tip(calib.Iron))
}

func TestAuto_Cancel(t *testing.T) {
	dev := newFakeDevice()
	a := NewAuto(dev, newModel(), nil, DefaultAutoConfig(3700), nil)
	a.Cancel()
	assert.Equal(t, Idle, a.Phase())

	a.Start("K", 25, epoch)
	a.Cancel()
	assert.Equal(t, Failed, a.Phase())
	assert.ErrorIs(t, a.Err(), ErrCanceled)
}
