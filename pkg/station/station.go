// Package station composes the iron and gun state machines, the calibration
// model and the persistent stores around a front end.
//
// One goroutine runs the control tick: it consumes front-end samples, feeds
// the units and writes the outputs. Everything else is foreground and goes
// through the Station methods, which are safe for concurrent use.
package station

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/itohio/gostation/pkg/calib"
	"github.com/itohio/gostation/pkg/config"
	"github.com/itohio/gostation/pkg/frontend"
	"github.com/itohio/gostation/pkg/store"
	"github.com/itohio/gostation/pkg/unit"
)

var (
	ErrBusy        = errors.New("another procedure is running")
	ErrNoProcedure = errors.New("no procedure is running")
	ErrStarted     = errors.New("station already started")
)

const (
	// telemetrySize bounds the records waiting for the history.
	telemetrySize = 256
	// defaultAmbient is assumed until the front end reports the ambient.
	defaultAmbient = 25
)

// Option customizes a Station.
type Option func(*Station)

// WithClock replaces the wall clock of the station and its units.
func WithClock(clock func() time.Time) Option {
	return func(s *Station) { s.clock = clock }
}

// Station is the soldering station.
type Station struct {
	cfg     *config.Config
	log     *zap.SugaredLogger
	fe      frontend.Frontend
	model   *calib.Model
	iron    *unit.Iron
	gun     *unit.Gun
	configs *store.ConfigStore
	tips    *store.TipStore
	history *History
	clock   func() time.Time

	telemetry chan Record
	done      chan struct{}
	cancel    context.CancelFunc

	// owned by the tick goroutine
	ironDuty     uint16
	gunDuty      uint16
	lastGun      time.Time
	ironAttached bool
	gunAttached  bool

	// published by the tick goroutine
	ambient   atomic.Int32
	reed      atomic.Bool
	ironPower atomic.Uint32
	gunPower  atomic.Uint32
	outErrors atomic.Uint64

	mu       sync.Mutex
	started  bool
	tip      string
	activity time.Time
	lowPower bool
	gunHung  bool
	lastReed bool
	proc     procedure
	last     ProcedureStatus
}

// New builds a station over the front end and the storage. Unreadable stored
// configuration or calibration falls back to the defaults.
func New(cfg *config.Config, fe frontend.Frontend, fsys store.FS, log *zap.SugaredLogger, opts ...Option) (*Station, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Station{
		cfg:       cfg,
		log:       log,
		fe:        fe,
		clock:     time.Now,
		telemetry: make(chan Record, telemetrySize),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ambient.Store(defaultAmbient)

	s.configs = store.NewConfigStore(fsys, log.Named("config"))
	if err := s.configs.Load(); err != nil {
		log.Infow("using default configuration", "err", err)
	}
	s.tips = store.NewTipStore(fsys, store.DefaultCatalog, log.Named("tips"))
	if err := s.tips.Scan(); err != nil {
		log.Warnw("tip table unreadable, using default calibration", "err", err)
	}

	rec := s.configs.Config()
	s.model = calib.NewModel(cfg.Iron.Limits(), cfg.Gun.Limits())

	ironCfg := cfg.Iron.Unit(rec.IronPID())
	ironCfg.Clock = s.clock
	s.iron = unit.NewIron(ironCfg)

	gunCfg := cfg.Gun.Unit(rec.GunPID(), rec.Options().FastCooling)
	gunCfg.Clock = s.clock
	s.gun = unit.NewGun(gunCfg)
	s.gun.SetFan(rec.GunFan)

	s.history = NewHistory(cfg.Monitor.Window(), cfg.Monitor.AverageSamples, log.Named("history"))

	if tip, err := s.tips.Load(store.GunTip); err == nil {
		s.model.Apply(calib.Gun, tip)
	} else {
		log.Infow("gun calibration not found, using defaults", "err", err)
	}

	name := s.tipName(int(rec.TipIndex))
	if err := s.selectTip(name); err != nil {
		return nil, err
	}
	s.applyGunPreset()
	s.activity = s.clock()

	return s, nil
}

// Start connects the front end and starts the control tick.
func (s *Station) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrStarted
	}
	if err := s.fe.Connect(); err != nil {
		return fmt.Errorf("connect front end: %w", err)
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	go s.history.Process(s.telemetry)
	go s.run(ctx, s.fe.Samples())

	s.log.Infow("station started", "tip", s.tip)
	return nil
}

// Close stops the control tick, zeroes the outputs and closes the front end.
func (s *Station) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.started = false
	s.cancel()
	<-s.done

	if err := s.fe.SetOutputs(frontend.Outputs{}); err != nil {
		s.log.Warnw("zeroing outputs", "err", err)
	}
	if err := s.fe.Close(); err != nil {
		return fmt.Errorf("close front end: %w", err)
	}
	s.log.Info("station stopped")
	return nil
}

// History returns the monitor history.
func (s *Station) History() *History { return s.history }

// Model returns the calibration model.
func (s *Station) Model() *calib.Model { return s.model }

// Iron returns the iron state machine.
func (s *Station) Iron() *unit.Iron { return s.iron }

// Gun returns the gun state machine.
func (s *Station) Gun() *unit.Gun { return s.gun }

// Celsius maps a raw reading of the device at the current ambient.
func (s *Station) Celsius(d calib.Device, raw uint16) uint16 { return s.human(d, raw) }

// OutputErrors returns the number of failed output writes.
func (s *Station) OutputErrors() uint64 { return s.outErrors.Load() }

func (s *Station) run(ctx context.Context, samples <-chan frontend.Sample) {
	defer close(s.done)
	defer close(s.telemetry)

	for {
		select {
		case <-ctx.Done():
			return
		case smp, ok := <-samples:
			if !ok {
				return
			}
			s.tick(smp)
		}
	}
}

// tick is the control tick. It never blocks and never logs.
func (s *Station) tick(smp frontend.Sample) {
	if smp.Ambient != 0 {
		s.ambient.Store(int32(smp.AmbientCelsius()))
	}
	s.reed.Store(smp.Reed)

	// The iron current is only meaningful while the heater is driven.
	if s.ironDuty > 0 {
		s.iron.UpdateCurrent(smp.IronCurrent)
		if detached(s.iron.Connected(), &s.ironAttached) {
			s.iron.Reset()
		}
	}
	s.ironDuty = s.iron.Power(smp.IronTemp)

	s.gun.UpdateTemp(smp.GunTemp)
	s.gun.UpdateCurrent(smp.GunCurrent)
	if detached(s.gun.Connected(), &s.gunAttached) {
		s.gun.Reset()
	}
	if s.lastGun.IsZero() || smp.Timestamp.Sub(s.lastGun) >= s.cfg.Gun.PowerPeriod {
		s.lastGun = smp.Timestamp
		s.gunDuty = s.gun.Power()
	}

	out := frontend.Outputs{
		IronPower: s.ironDuty,
		GunPower:  s.gunDuty,
		Fan:       s.gun.FanSpeed(),
		Relay:     s.gun.RelayOn(),
	}
	if !out.Relay {
		out.GunPower = 0
	}
	if err := s.fe.SetOutputs(out); err != nil {
		s.outErrors.Add(1)
	}
	s.ironPower.Store(uint32(out.IronPower))
	s.gunPower.Store(uint32(out.GunPower))

	select {
	case s.telemetry <- Record{
		Timestamp: smp.Timestamp,
		IronTemp:  s.iron.AverageTemp(),
		GunTemp:   s.gun.AverageTemp(),
		IronPower: out.IronPower,
		GunPower:  out.GunPower,
		Fan:       out.Fan,
	}:
	default:
	}
}

// detached records the handle state and reports a connected to disconnected
// edge.
func detached(connected bool, was *bool) bool {
	edge := *was && !connected
	*was = connected
	return edge
}

// internal maps a Celsius temperature of the device to raw units.
func (s *Station) internal(d calib.Device, celsius uint16) uint16 {
	return s.model.HumanToInternal(celsius, int(s.ambient.Load()), d)
}

// human maps a raw reading of the device to Celsius.
func (s *Station) human(d calib.Device, raw uint16) uint16 {
	return s.model.InternalToHuman(raw, int(s.ambient.Load()), d)
}

func (s *Station) ambientInt8() int8 {
	a := s.ambient.Load()
	if a > 127 {
		a = 127
	} else if a < -128 {
		a = -128
	}
	return int8(a)
}

// tipName returns the iron tip at the catalog index, the first iron tip when
// the index is out of range or names the gun.
func (s *Station) tipName(idx int) string {
	names := s.tips.Names()
	if idx <= 0 || idx >= len(names) {
		idx = 1
	}
	return names[idx]
}

// unitFor returns the state machine of the device.
func (s *Station) unitFor(d calib.Device) unit.Device {
	if d == calib.Gun {
		return s.gun
	}
	return s.iron
}
