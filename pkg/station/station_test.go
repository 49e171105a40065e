package station

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/gostation/pkg/acquire"
	"github.com/itohio/gostation/pkg/calib"
	"github.com/itohio/gostation/pkg/config"
	"github.com/itohio/gostation/pkg/frontend"
	"github.com/itohio/gostation/pkg/store"
	"github.com/itohio/gostation/pkg/unit"
)

type fakeFrontend struct {
	mu        sync.Mutex
	ch        chan frontend.Sample
	outs      []frontend.Outputs
	connected bool
	fail      bool
}

func newFakeFrontend() *fakeFrontend {
	return &fakeFrontend{ch: make(chan frontend.Sample, 16)}
}

func (f *fakeFrontend) Connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

func (f *fakeFrontend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *fakeFrontend) Samples() <-chan frontend.Sample { return f.ch }

func (f *fakeFrontend) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeFrontend) SetOutputs(o frontend.Outputs) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("link down")
	}
	f.outs = append(f.outs, o)
	return nil
}

func (f *fakeFrontend) last() (frontend.Outputs, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.outs) == 0 {
		return frontend.Outputs{}, 0
	}
	return f.outs[len(f.outs)-1], len(f.outs)
}

type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Iron.Smooth = 1
	cfg.Iron.ProbePeriod = 0
	cfg.Gun.Smooth = 1
	return cfg
}

func newStation(t *testing.T, fsys store.FS) (*Station, *fakeFrontend, *clock) {
	t.Helper()
	fe := newFakeFrontend()
	clk := &clock{t: time.Unix(1000, 0)}
	s, err := New(testConfig(), fe, fsys, nil, WithClock(clk.Now))
	require.NoError(t, err)
	return s, fe, clk
}

func sample(ts time.Time, iron, gun uint16) frontend.Sample {
	return frontend.Sample{
		Timestamp: ts,
		IronTemp:  iron,
		GunTemp:   gun,
		Ambient:   frontend.Celsius(25),
	}
}

func TestNew_Defaults(t *testing.T) {
	s, _, _ := newStation(t, store.NewMemFS())

	snap := s.Snapshot()
	assert.Equal(t, "B", snap.Tip)
	assert.Equal(t, uint16(235), snap.Iron.Preset)
	assert.Equal(t, uint16(200), snap.Gun.Preset)
	assert.Equal(t, 25, snap.Ambient)
	assert.Equal(t, unit.Cooling, snap.Iron.Mode)
	assert.False(t, snap.Procedure.Running)

	assert.Equal(t, s.internal(calib.Iron, 235), s.Iron().PresetTemp())
	assert.Equal(t, s.internal(calib.Gun, 200), s.Gun().PresetTemp())
	assert.NotContains(t, s.Catalog(), store.GunTip)
	assert.NotContains(t, s.Tips(), store.GunTip)
}

func TestTick_DrivesIron(t *testing.T) {
	s, fe, clk := newStation(t, store.NewMemFS())

	s.tick(sample(clk.Now(), 300, 0))
	out, n := fe.last()
	require.Equal(t, 1, n)
	assert.Zero(t, out.IronPower)

	s.SwitchIron(true)
	s.tick(sample(clk.Now(), 300, 0))
	out, _ = fe.last()
	assert.Greater(t, out.IronPower, uint16(0))
	assert.Equal(t, unit.Heating, s.Iron().Mode())
	assert.Equal(t, out.IronPower, s.Snapshot().Iron.Power)

	require.Len(t, s.telemetry, 2)
	r := <-s.telemetry
	assert.Equal(t, uint16(300), r.IronTemp)
}

func TestTick_IronCurrentOnlyWhileDriven(t *testing.T) {
	s, _, clk := newStation(t, store.NewMemFS())

	smp := sample(clk.Now(), 300, 0)
	smp.IronCurrent = 200
	s.tick(smp)
	s.tick(smp)
	assert.False(t, s.Iron().Connected(), "current ignored while the heater is off")

	s.SwitchIron(true)
	s.tick(smp)
	s.tick(smp)
	assert.True(t, s.Iron().Connected())
}

func TestTick_IronDisconnectResets(t *testing.T) {
	cfg := testConfig()
	cfg.Iron.Smooth = 8
	clk := &clock{t: time.Unix(1000, 0)}
	s, err := New(cfg, newFakeFrontend(), store.NewMemFS(), nil, WithClock(clk.Now))
	require.NoError(t, err)
	s.SwitchIron(true)

	smp := sample(clk.Now(), 300, 0)
	smp.IronCurrent = 200
	for range 60 {
		s.tick(smp)
	}
	require.True(t, s.Iron().Connected())
	require.Greater(t, s.Iron().AverageTemp(), uint16(290))

	// the tip is pulled: the current falls away
	smp.IronCurrent = 0
	for n := 0; n < 60 && s.Iron().Connected(); n++ {
		s.tick(smp)
	}
	require.False(t, s.Iron().Connected())
	assert.Less(t, s.Iron().AverageTemp(), uint16(100), "averages restart after the disconnect")
	assert.Equal(t, unit.Heating, s.Iron().Mode())
}

func TestTick_GunPowerPeriod(t *testing.T) {
	s, fe, clk := newStation(t, store.NewMemFS())
	s.SwitchGun(true)

	t0 := clk.Now()
	for i := 0; i <= 200; i++ {
		ts := t0.Add(time.Duration(i) * 20 * time.Millisecond)
		smp := sample(ts, 0, 300)
		smp.GunCurrent = 100
		s.tick(smp)

		out, _ := fe.last()
		if i == 0 {
			assert.True(t, out.Relay)
			assert.Equal(t, uint16(1200), out.Fan)
		}
		if ts.Sub(t0) < 3*time.Second {
			assert.Zero(t, out.GunPower, "relay settling at %v", ts.Sub(t0))
		} else {
			assert.Greater(t, out.GunPower, uint16(0), "regulating at %v", ts.Sub(t0))
		}
	}
	assert.Equal(t, unit.On, s.Gun().Mode())
}

func TestTick_OutputErrors(t *testing.T) {
	s, fe, clk := newStation(t, store.NewMemFS())
	fe.fail = true
	s.tick(sample(clk.Now(), 300, 300))
	s.tick(sample(clk.Now(), 300, 300))
	assert.Equal(t, uint64(2), s.OutputErrors())
}

func TestSelectTip(t *testing.T) {
	fsys := store.NewMemFS()
	s, _, _ := newStation(t, fsys)

	require.NoError(t, s.SelectTip("BC2"))
	assert.Equal(t, "BC2", s.Snapshot().Tip)
	assert.Equal(t, calib.DefaultTip(calib.Iron), s.Model().Tip(calib.Iron))

	assert.ErrorIs(t, s.SelectTip(store.GunTip), store.ErrUnknownTip)
	assert.ErrorIs(t, s.SelectTip("XYZ"), store.ErrUnknownTip)
	assert.Equal(t, "BC2", s.Snapshot().Tip)

	saved, err := s.SaveConfig()
	require.NoError(t, err)
	assert.True(t, saved)

	s2, _, _ := newStation(t, fsys)
	assert.Equal(t, "BC2", s2.Snapshot().Tip)
}

func TestPresets(t *testing.T) {
	s, _, _ := newStation(t, store.NewMemFS())

	s.SetIronTemp(1000)
	lim := s.Model().Limits(calib.Iron)
	assert.Equal(t, lim.TempMax, s.Snapshot().Iron.Preset)

	s.SetIronTemp(300)
	assert.Equal(t, uint16(300), s.Snapshot().Iron.Preset)
	assert.Equal(t, s.internal(calib.Iron, 300), s.Iron().PresetTemp())

	s.SetGunTemp(0)
	assert.Equal(t, s.Model().Limits(calib.Gun).TempMin, s.Snapshot().Gun.Preset)

	s.SetFan(60000)
	assert.Equal(t, s.cfg.Gun.FanMax, s.Gun().FanPreset())
}

func TestIdleTimers(t *testing.T) {
	s, _, clk := newStation(t, store.NewMemFS())

	s.SwitchIron(true)
	s.tick(sample(clk.Now(), 300, 0))
	require.Equal(t, unit.Heating, s.Iron().Mode())

	clk.Advance(59 * time.Second)
	s.Poll(clk.Now())
	assert.False(t, s.Snapshot().LowPower)

	clk.Advance(time.Second)
	s.Poll(clk.Now())
	assert.True(t, s.Snapshot().LowPower)
	assert.Equal(t, s.internal(calib.Iron, 180), s.Iron().PresetTemp())

	s.Touch()
	assert.False(t, s.Snapshot().LowPower)
	assert.Equal(t, s.internal(calib.Iron, 235), s.Iron().PresetTemp())

	clk.Advance(5*time.Minute + time.Minute)
	s.Poll(clk.Now())
	assert.True(t, s.Snapshot().LowPower)
	s.Poll(clk.Now())
	s.tick(sample(clk.Now(), 300, 0))
	assert.Equal(t, unit.Cooling, s.Iron().Mode())
	assert.False(t, s.Snapshot().LowPower)
}

func TestReedSwitch(t *testing.T) {
	s, _, clk := newStation(t, store.NewMemFS())
	s.SetOptions(store.Options{ReedSwitch: true})
	s.SwitchGun(true)

	step := func(reed bool) {
		smp := sample(clk.Now(), 0, 300)
		smp.GunCurrent = 100
		smp.Reed = reed
		s.tick(smp)
		s.Poll(clk.Now())
		clk.Advance(time.Second)
	}

	step(false)
	require.Equal(t, unit.On, s.Gun().Mode())

	step(true)
	step(true)
	assert.Equal(t, unit.Cooling, s.Gun().Mode())
	assert.True(t, s.Snapshot().Reed)

	step(false)
	step(false)
	assert.Equal(t, unit.On, s.Gun().Mode())
}

func TestReedSwitch_IgnoredWhenDisabled(t *testing.T) {
	s, _, clk := newStation(t, store.NewMemFS())
	s.SwitchGun(true)

	for range 3 {
		smp := sample(clk.Now(), 0, 300)
		smp.GunCurrent = 100
		smp.Reed = true
		s.tick(smp)
		s.Poll(clk.Now())
		clk.Advance(time.Second)
	}
	assert.Equal(t, unit.On, s.Gun().Mode())
}

func TestProcedures_Busy(t *testing.T) {
	s, _, _ := newStation(t, store.NewMemFS())

	assert.ErrorIs(t, s.AcceptReading(250), ErrNoProcedure)
	assert.ErrorIs(t, s.SelectReference(0), ErrNoProcedure)
	assert.ErrorIs(t, s.CancelProcedure(), ErrNoProcedure)

	require.NoError(t, s.StartManualCalibration(calib.Iron))
	assert.ErrorIs(t, s.StartManualCalibration(calib.Gun), ErrBusy)
	assert.ErrorIs(t, s.StartAutoCalibration(), ErrBusy)
	assert.ErrorIs(t, s.StartTune(calib.Gun), ErrBusy)
	assert.ErrorIs(t, s.SelectTip("BC2"), ErrBusy)
	assert.ErrorIs(t, s.AcceptReading(250), ErrNoProcedure)

	st := s.Procedure()
	assert.True(t, st.Running)
	assert.Equal(t, "manual", st.Kind)
	assert.Equal(t, calib.Iron, st.Device)
}

func TestManualCalibration_Cancel(t *testing.T) {
	s, _, _ := newStation(t, store.NewMemFS())

	require.NoError(t, s.StartManualCalibration(calib.Gun))
	require.NoError(t, s.SelectReference(0))
	want := s.internal(calib.Gun, calib.ReferenceTemp(calib.Gun, 0))
	assert.Equal(t, want, s.Procedure().Target)
	assert.Equal(t, want, s.Gun().PresetTemp())

	require.NoError(t, s.CancelProcedure())
	st := s.Procedure()
	assert.False(t, st.Running)
	assert.Equal(t, "failed", st.Phase)
	assert.ErrorIs(t, st.Err, acquire.ErrCanceled)
	assert.Equal(t, s.internal(calib.Gun, 200), s.Gun().PresetTemp())
}

func TestManualCalibration_Commit(t *testing.T) {
	fsys := store.NewMemFS()
	s, _, clk := newStation(t, fsys)

	require.NoError(t, s.StartManualCalibration(calib.Iron))
	require.NoError(t, s.SelectReference(1))
	preset := s.Procedure().Target
	require.NotZero(t, preset)

	assert.ErrorIs(t, s.AcceptReference(), acquire.ErrNotReady)

	for range 12 {
		s.tick(sample(clk.Now(), preset-8, 0))
		clk.Advance(time.Second)
		s.Poll(clk.Now())
	}
	require.Equal(t, "ready", s.Procedure().Phase)

	require.NoError(t, s.AcceptReference())
	require.NoError(t, s.CommitCalibration())

	st := s.Procedure()
	assert.False(t, st.Running)
	assert.Equal(t, "done", st.Phase)
	assert.NoError(t, st.Err)

	tip, err := s.tips.Load("B")
	require.NoError(t, err)
	assert.NotZero(t, tip.Status&calib.Calibrated)
	assert.Equal(t, preset-8, tip.Calibration[1])
}

func TestStartClose(t *testing.T) {
	s, fe, clk := newStation(t, store.NewMemFS())

	var got []Record
	var mu sync.Mutex
	s.History().OnUpdate(func(records []Record) {
		mu.Lock()
		got = records
		mu.Unlock()
	})

	require.NoError(t, s.Start(t.Context()))
	assert.ErrorIs(t, s.Start(t.Context()), ErrStarted)
	assert.True(t, fe.IsConnected())

	fe.ch <- sample(clk.Now(), 300, 300)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Close())
	assert.False(t, fe.IsConnected())
	out, _ := fe.last()
	assert.Equal(t, frontend.Outputs{}, out)
	assert.NoError(t, s.Close())
}
