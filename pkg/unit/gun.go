package unit

import (
	"sync/atomic"
	"time"

	"github.com/itohio/gostation/pkg/pid"
)

// GunConfig holds the hardware constants of the hot air gun.
type GunConfig struct {
	InternalMax    uint16
	MaxPower       uint16
	MaxFixedPower  uint16
	ColdTemp       uint16
	PowerPeriod    time.Duration // period of the Power recompute
	RelayReady     int           // Power calls withheld after the AC relay closes
	FanMax         uint16        // fan speed scale
	FanMinWorking  uint16        // lowest fan speed heating is allowed at
	FanMaxCooling  uint16
	FanFastCooling uint16
	FastCooling    bool
	ExtraCooling   time.Duration // fan run time after the gun went cold
	Smooth         int
	CurrentOff     int32
	CurrentOn      int32
	PID            pid.Params
	Clock          func() time.Time
}

// DefaultGunConfig returns the constants of a stock 858D style gun.
func DefaultGunConfig() GunConfig {
	return GunConfig{
		InternalMax:    3700,
		MaxPower:       999,
		MaxFixedPower:  600,
		ColdTemp:       200,
		PowerPeriod:    time.Second,
		RelayReady:     3,
		FanMax:         2000,
		FanMinWorking:  600,
		FanMaxCooling:  1600,
		FanFastCooling: 2000,
		ExtraCooling:   10 * time.Second,
		Smooth:         8,
		CurrentOff:     15,
		CurrentOn:      40,
		PID:            pid.Params{Kp: 200, Ki: 25, Kd: 20},
	}
}

// Gun is the hot air gun state machine. Temperature samples arrive through
// UpdateTemp while Power is recomputed periodically.
type Gun struct {
	core
	cfg GunConfig

	fanPreset   atomic.Uint32
	fanSpeed    atomic.Uint32
	relayOn     atomic.Bool
	fastCooling atomic.Bool

	lastTemp    int32
	relayWait   int
	extraActive bool
	extraEnd    time.Time
}

var _ Device = (*Gun)(nil)

// NewGun creates a gun and initializes it.
func NewGun(cfg GunConfig) *Gun {
	g := &Gun{cfg: cfg}
	g.internalMax = int32(cfg.InternalMax)
	g.maxPower = int32(cfg.MaxPower)
	g.maxFixed = int32(cfg.MaxFixedPower)
	g.init(cfg.Smooth, pid.New(cfg.PID, cfg.PowerPeriod, int32(cfg.MaxPower)), cfg.Clock)
	g.fastCooling.Store(cfg.FastCooling)
	g.Init()
	return g
}

// Init puts the gun into Cooling with the relay released.
func (g *Gun) Init() {
	g.setMode(Cooling)
	g.fixPower = 0
	g.chill.Store(false)
	g.current.Init(g.cfg.Smooth, g.cfg.CurrentOff, g.cfg.CurrentOn)
	g.connected.Store(false)
	g.relayOn.Store(false)
	g.relayWait = 0
	g.extraActive = false
	g.resetSmoothing()
	g.ctl.Reset(g.targetTemp(), 0)
}

// SetFan sets the working fan speed.
func (g *Gun) SetFan(speed uint16) {
	if speed > g.cfg.FanMax {
		speed = g.cfg.FanMax
	}
	g.fanPreset.Store(uint32(speed))
}

// FanPreset returns the working fan speed.
func (g *Gun) FanPreset() uint16 { return uint16(g.fanPreset.Load()) }

// FanSpeed returns the fan speed the hardware must apply.
func (g *Gun) FanSpeed() uint16 { return uint16(g.fanSpeed.Load()) }

// RelayOn reports whether the AC relay must be energized.
func (g *Gun) RelayOn() bool { return g.relayOn.Load() }

// SetFastCooling selects the fixed high cooling fan speed.
func (g *Gun) SetFastCooling(on bool) { g.fastCooling.Store(on) }

// UpdateTemp feeds a raw temperature sample.
func (g *Gun) UpdateTemp(raw uint16) {
	g.lastTemp = int32(raw)
	g.smoothTemp(g.lastTemp)
}

// Power recomputes the gun power from the latest sample.
func (g *Gun) Power() uint16 {
	at := int32(g.avgTemp.Load())
	g.drain(at)

	target := g.targetTemp()
	p := g.control(at, target, g.overheat(g.lastTemp, target))
	g.smoothPower(p)
	g.tick++
	return uint16(p)
}

// control runs the fan and the relay gate on the smoothed temperature at;
// hot withholds the heater power only.
func (g *Gun) control(at, target int32, hot bool) int32 {
	mode := g.getMode()
	switch mode {
	case Off:
		g.fanSpeed.Store(0)
		return 0
	case Cooling:
		g.cool(at)
		return 0
	}

	fan := g.fanPreset.Load()
	g.fanSpeed.Store(fan)
	if g.relayWait > 0 {
		g.relayWait--
		return 0
	}
	if hot || fan < uint32(g.cfg.FanMinWorking) || !g.connected.Load() {
		return 0
	}

	switch mode {
	case On:
		return g.regulate(target, at)
	case Fixed:
		return g.fixPower
	case PidTune:
		return g.relayPower(at)
	}
	return 0
}

// cool manages the fan while the gun cools down.
func (g *Gun) cool(at int32) {
	cold := int32(g.cfg.ColdTemp)
	if !g.connected.Load() {
		g.off()
		return
	}
	if at >= cold {
		g.extraActive = false
		if g.fastCooling.Load() {
			g.fanSpeed.Store(uint32(g.cfg.FanFastCooling))
			return
		}
		lo, hi := int32(g.cfg.FanMinWorking), int32(g.cfg.FanMaxCooling)
		span := g.internalMax - cold
		fan := hi
		if span > 0 {
			fan = lo + (hi-lo)*(at-cold)/span
		}
		if fan > hi {
			fan = hi
		}
		g.fanSpeed.Store(uint32(fan))
		return
	}
	now := g.now()
	if !g.extraActive {
		g.extraActive = true
		g.extraEnd = now.Add(g.cfg.ExtraCooling)
	}
	if now.Before(g.extraEnd) {
		g.fanSpeed.Store(uint32(g.cfg.FanMinWorking))
		return
	}
	g.off()
}

// switchOff starts the cooling cycle; the fan keeps running until the gun
// is cold.
func (g *Gun) switchOff() {
	g.fixPower = 0
	g.chill.Store(false)
	if g.getMode() != Off {
		g.setMode(Cooling)
		g.extraActive = false
	}
}

func (g *Gun) off() {
	g.extraActive = false
	g.fanSpeed.Store(0)
	g.relayOn.Store(false)
	g.setMode(Off)
}

// energize closes the AC relay; the power is held back for a few periods.
func (g *Gun) energize() {
	if !g.relayOn.Load() {
		g.relayOn.Store(true)
		g.relayWait = g.cfg.RelayReady
	}
}

func (g *Gun) drain(at int32) {
	for {
		select {
		case cmd := <-g.queue:
			g.apply(cmd, at)
		default:
			return
		}
	}
}

func (g *Gun) apply(cmd command, at int32) {
	target := g.targetTemp()
	switch cmd.kind {
	case cmdSwitch:
		if !cmd.on {
			g.switchOff()
			return
		}
		if g.getMode() == On {
			return
		}
		g.ctl.Reset(target, at)
		g.hPower.Reset(0)
		g.dPower.Reset(0)
		g.chill.Store(false)
		g.energize()
		g.setMode(On)
	case cmdSetTemp:
		g.ctl.Reset(target, at)
	case cmdFix:
		if cmd.value == 0 {
			g.switchOff()
			return
		}
		g.energize()
		g.fixed(cmd.value)
	case cmdTune:
		g.energize()
		g.startRelay(cmd.tune)
	case cmdReset:
		g.resetSmoothing()
		g.chill.Store(false)
		g.ctl.Reset(target, 0)
	case cmdPID:
		g.ctl.Change(cmd.pid)
		g.ctl.Reset(target, at)
	}
}
