package unit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGun(clk *fakeClock) *Gun {
	cfg := DefaultGunConfig()
	cfg.Smooth = 1
	cfg.Clock = clk.Now
	g := NewGun(cfg)
	g.UpdateCurrent(100)
	return g
}

// runningGun returns a gun past its relay wait, regulating around target.
func runningGun(t *testing.T, clk *fakeClock, target uint16) *Gun {
	g := testGun(clk)
	require.True(t, g.Connected())
	g.SetFan(1200)
	g.SetTemp(target)
	g.UpdateTemp(target - 100)
	g.SwitchPower(true)
	for n := 0; n < g.cfg.RelayReady; n++ {
		g.Power()
	}
	require.Equal(t, On, g.Mode())
	return g
}

func TestGun_RelayReadyGate(t *testing.T) {
	g := testGun(newFakeClock())
	g.SetFan(1200)
	g.SetTemp(1500)
	g.UpdateTemp(500)
	g.SwitchPower(true)

	for n := 0; n < 3; n++ {
		assert.Equal(t, uint16(0), g.Power(), "tick %d", n)
		assert.True(t, g.RelayOn())
		assert.Equal(t, On, g.Mode())
	}
	assert.Greater(t, g.Power(), uint16(0))
	assert.Equal(t, uint16(1200), g.FanSpeed())
}

func TestGun_NoPowerWithSlowFan(t *testing.T) {
	g := runningGun(t, newFakeClock(), 1500)
	assert.Greater(t, g.Power(), uint16(0))

	g.SetFan(500)
	assert.Equal(t, uint16(0), g.Power())
	assert.Equal(t, uint16(500), g.FanSpeed())

	g.SetFan(600)
	assert.Greater(t, g.Power(), uint16(0))
}

func TestGun_NoPowerWhenDisconnected(t *testing.T) {
	g := runningGun(t, newFakeClock(), 1500)
	for n := 0; n < 3; n++ {
		g.UpdateCurrent(0)
	}
	require.False(t, g.Connected())
	assert.Equal(t, uint16(0), g.Power())
	assert.Equal(t, On, g.Mode())
}

func TestGun_OverheatGuard(t *testing.T) {
	g := runningGun(t, newFakeClock(), 1500)
	g.UpdateTemp(3800)
	assert.Equal(t, uint16(0), g.Power())
	assert.Equal(t, On, g.Mode())
	assert.True(t, g.RelayOn())

	g.UpdateTemp(1000)
	assert.Greater(t, g.Power(), uint16(0))
}

func TestGun_CoolingRamp(t *testing.T) {
	clk := newFakeClock()
	g := runningGun(t, clk, 3000)
	g.SwitchPower(false)

	g.UpdateTemp(3700)
	assert.Equal(t, uint16(0), g.Power())
	assert.Equal(t, Cooling, g.Mode())
	assert.Equal(t, uint16(1600), g.FanSpeed())

	// halfway between cold and the internal maximum
	g.UpdateTemp(1950)
	g.Power()
	assert.Equal(t, uint16(1100), g.FanSpeed())

	g.UpdateTemp(200)
	g.Power()
	assert.Equal(t, uint16(600), g.FanSpeed())
}

func TestGun_FastCooling(t *testing.T) {
	g := runningGun(t, newFakeClock(), 3000)
	g.SetFastCooling(true)
	g.SwitchPower(false)
	g.UpdateTemp(1000)
	g.Power()
	assert.Equal(t, uint16(2000), g.FanSpeed())
}

func TestGun_ExtraCoolingThenOff(t *testing.T) {
	clk := newFakeClock()
	g := runningGun(t, clk, 1500)
	g.SwitchPower(false)
	g.UpdateTemp(150)
	g.Power()
	assert.Equal(t, Cooling, g.Mode())
	assert.Equal(t, uint16(600), g.FanSpeed())

	clk.Advance(5 * time.Second)
	g.Power()
	assert.Equal(t, Cooling, g.Mode())
	assert.True(t, g.RelayOn())

	clk.Advance(6 * time.Second)
	g.Power()
	assert.Equal(t, Off, g.Mode())
	assert.Equal(t, uint16(0), g.FanSpeed())
	assert.False(t, g.RelayOn())
}

func TestGun_FixPower(t *testing.T) {
	g := testGun(newFakeClock())
	g.SetFan(1000)
	g.SetTemp(1000)
	g.UpdateTemp(300)
	g.FixPower(900)
	for n := 0; n < 3; n++ {
		assert.Equal(t, uint16(0), g.Power())
	}
	assert.Equal(t, uint16(600), g.Power())
	assert.Equal(t, Fixed, g.Mode())

	// zero power on a hot gun keeps the air flowing until it is cold
	g.UpdateTemp(3000)
	g.FixPower(0)
	assert.Equal(t, uint16(0), g.Power())
	assert.Equal(t, Cooling, g.Mode())
	assert.Equal(t, uint16(1400), g.FanSpeed())
	assert.True(t, g.RelayOn())
}

func TestGun_OverheatKeepsFanAndRelayGate(t *testing.T) {
	clk := newFakeClock()
	g := testGun(clk)
	g.UpdateTemp(100)
	g.Power()
	clk.Advance(11 * time.Second)
	g.Power()
	require.Equal(t, Off, g.Mode())
	require.Equal(t, uint16(0), g.FanSpeed())

	g.SetFan(1000)
	g.SetTemp(1000)
	g.SwitchPower(true)
	for n := 0; n < 10; n++ {
		g.UpdateTemp(1500)
		assert.Equal(t, uint16(0), g.Power(), "tick %d", n)
	}
	assert.Equal(t, On, g.Mode())
	assert.True(t, g.RelayOn())
	assert.Equal(t, uint16(1000), g.FanSpeed())

	// the relay gate elapsed while the guard held the power back
	g.UpdateTemp(900)
	assert.Greater(t, g.Power(), uint16(0))
}

func TestGun_CoolingDisconnectedTurnsOff(t *testing.T) {
	g := NewGun(DefaultGunConfig())
	g.UpdateTemp(2000)
	g.Power()
	assert.Equal(t, Off, g.Mode())
	assert.Equal(t, uint16(0), g.FanSpeed())
}

func TestPowerMode_String(t *testing.T) {
	assert.Equal(t, "pid_tune", PidTune.String())
	assert.Equal(t, "boost", Boost.String())
	assert.Equal(t, "unknown", PowerMode(42).String())
}
