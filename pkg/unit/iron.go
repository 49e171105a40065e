package unit

import (
	"sync/atomic"
	"time"

	"github.com/itohio/gostation/pkg/pid"
)

const (
	// heatingDone above the preset ends the Heating phase.
	heatingDone = 20
	// heatingGap below the preset makes SwitchPower start with Heating.
	heatingGap = 100
	// boostFullPower is the distance to the boost temperature under which
	// the boost stops forcing the maximum fixed power.
	boostFullPower = 50
)

// IronConfig holds the hardware constants of the soldering iron.
type IronConfig struct {
	InternalMax   uint16
	MaxPower      uint16
	MaxFixedPower uint16
	ColdTemp      uint16 // internal units below which Cooling ends
	TickPeriod    time.Duration
	ProbePeriod   uint32 // ticks between current probe pulses while Off, 0 disables
	ProbePower    uint16
	Smooth        int
	CurrentOff    int32
	CurrentOn     int32
	PID           pid.Params
	Clock         func() time.Time
}

// DefaultIronConfig returns the constants of a stock T12 handle.
func DefaultIronConfig() IronConfig {
	return IronConfig{
		InternalMax:   3700,
		MaxPower:      1999,
		MaxFixedPower: 1000,
		ColdTemp:      230,
		TickPeriod:    20 * time.Millisecond,
		ProbePeriod:   50,
		ProbePower:    10,
		Smooth:        8,
		CurrentOff:    30,
		CurrentOn:     60,
		PID:           pid.Params{Kp: 2300, Ki: 50, Kd: 735},
	}
}

// Iron is the soldering iron state machine.
type Iron struct {
	core
	cfg IronConfig

	boostTemp  int32
	boostEnd   time.Time
	boostUntil atomic.Int64 // boostEnd in unix nanoseconds, for the foreground
}

var _ Device = (*Iron)(nil)

// NewIron creates an iron and initializes it.
func NewIron(cfg IronConfig) *Iron {
	i := &Iron{cfg: cfg}
	i.internalMax = int32(cfg.InternalMax)
	i.maxPower = int32(cfg.MaxPower)
	i.maxFixed = int32(cfg.MaxFixedPower)
	i.init(cfg.Smooth, pid.New(cfg.PID, cfg.TickPeriod, int32(cfg.MaxPower)), cfg.Clock)
	i.Init()
	return i
}

// Init puts the iron into Cooling with cleared averages. It must be called
// before the control tick starts or from the tick goroutine.
func (i *Iron) Init() {
	i.setMode(Cooling)
	i.fixPower = 0
	i.chill.Store(false)
	i.current.Init(i.cfg.Smooth, i.cfg.CurrentOff, i.cfg.CurrentOn)
	i.connected.Store(false)
	i.resetSmoothing()
	i.ctl.Reset(i.targetTemp(), 0)
}

// LowPowerMode lowers the preset while the iron is idle. Zero turns it off.
func (i *Iron) LowPowerMode(t uint16) {
	if t == 0 {
		i.SwitchPower(false)
		return
	}
	i.Adjust(t)
	i.post(command{kind: cmdLowPower})
}

// BoostPowerMode raises the temperature to t for the duration d. The boost
// only starts from On.
func (i *Iron) BoostPowerMode(t uint16, d time.Duration) {
	i.post(command{kind: cmdBoost, value: t, dur: d})
}

// BoostRemaining returns the time left in Boost.
func (i *Iron) BoostRemaining() time.Duration {
	if i.getMode() != Boost {
		return 0
	}
	left := time.Duration(i.boostUntil.Load() - i.now().UnixNano())
	if left < 0 {
		return 0
	}
	return left
}

// Power is the control tick: it consumes one raw temperature sample and
// returns the duty command.
func (i *Iron) Power(raw uint16) uint16 {
	t := int32(raw)
	at := i.smoothTemp(t)
	i.drain(at)

	p := int32(0)
	target := i.targetTemp()
	if !i.overheat(t, target) {
		p = i.control(at, target)
	}
	i.smoothPower(p)
	i.tick++
	return uint16(p)
}

// control runs the state machine on the smoothed temperature at.
func (i *Iron) control(at, target int32) int32 {
	switch i.getMode() {
	case Off:
		if i.cfg.ProbePeriod > 0 && i.tick%i.cfg.ProbePeriod == 0 {
			return int32(i.cfg.ProbePower)
		}
		return 0
	case Cooling:
		if at < int32(i.cfg.ColdTemp) {
			i.setMode(Off)
		}
		return 0
	case Heating:
		if at >= target+heatingDone {
			i.setMode(On)
			i.ctl.Stabilize(i.hPower.Read())
		}
		return i.regulate(target, at)
	case On:
		return i.regulate(target, at)
	case Boost:
		if !i.now().Before(i.boostEnd) {
			i.setMode(On)
			i.ctl.Reset(target, at)
			return i.regulate(target, at)
		}
		if at+boostFullPower < i.boostTemp {
			return i.maxFixed
		}
		return i.regulate(i.boostTemp, at)
	case Fixed:
		return i.fixPower
	case PidTune:
		return i.relayPower(at)
	}
	return 0
}

// drain applies the pending foreground requests in order.
func (i *Iron) drain(at int32) {
	for {
		select {
		case cmd := <-i.queue:
			i.apply(cmd, at)
		default:
			return
		}
	}
}

func (i *Iron) apply(cmd command, at int32) {
	target := i.targetTemp()
	switch cmd.kind {
	case cmdSwitch:
		if !cmd.on {
			i.switchOff()
			return
		}
		switch i.getMode() {
		case On, Heating, Boost:
			return
		}
		i.ctl.Reset(target, at)
		i.hPower.Reset(0)
		i.dPower.Reset(0)
		i.chill.Store(false)
		if at+heatingGap < target {
			i.setMode(Heating)
		} else {
			i.setMode(On)
		}
	case cmdSetTemp:
		i.ctl.Reset(target, at)
	case cmdFix:
		if cmd.value == 0 {
			i.switchOff()
			return
		}
		i.fixed(cmd.value)
	case cmdBoost:
		if i.getMode() != On || cmd.dur <= 0 {
			return
		}
		bt := int32(cmd.value)
		if bt > i.internalMax {
			bt = i.internalMax
		}
		i.boostTemp = bt
		i.boostEnd = i.now().Add(cmd.dur)
		i.boostUntil.Store(i.boostEnd.UnixNano())
		i.setMode(Boost)
	case cmdLowPower:
		if i.getMode() == Boost {
			i.setMode(On)
		}
	case cmdTune:
		i.startRelay(cmd.tune)
	case cmdReset:
		i.resetSmoothing()
		i.chill.Store(false)
		i.ctl.Reset(target, 0)
	case cmdPID:
		i.ctl.Change(cmd.pid)
		i.ctl.Reset(target, at)
	}
}

func (i *Iron) switchOff() {
	i.fixPower = 0
	if i.getMode() != Off {
		i.setMode(Cooling)
	}
	i.chill.Store(false)
}
