package frontend

import (
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"
	"periph.io/x/host/v3"

	"github.com/itohio/gostation/pkg/config"
)

// ambientPeriod bounds how often the ambient sensor is read.
const ambientPeriod = time.Second

// AmbientSensor reads the cold junction environment.
type AmbientSensor interface {
	Sense(e *physic.Env) error
}

// Board decorates a front end with sensors wired to the host: an ambient
// temperature sensor and the gun holder reed switch.
type Board struct {
	inner  Frontend
	sensor AmbientSensor
	reed   gpio.PinIn
	bus    io.Closer
	log    *zap.SugaredLogger

	samples   chan Sample
	mu        sync.RWMutex
	connected bool

	ambient  physic.Temperature
	lastRead time.Time
}

// NewBoard wraps inner. Either sensor or reed may be nil.
func NewBoard(inner Frontend, sensor AmbientSensor, reed gpio.PinIn, log *zap.SugaredLogger) *Board {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Board{
		inner:   inner,
		sensor:  sensor,
		reed:    reed,
		log:     log,
		samples: make(chan Sample, DefaultBufferSize),
	}
}

// OpenBoard initializes the host peripherals named by cfg and wraps inner.
func OpenBoard(inner Frontend, cfg config.BoardConfig, log *zap.SugaredLogger) (*Board, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}

	bus, err := i2creg.Open(cfg.I2CBus)
	if err != nil {
		return nil, fmt.Errorf("i2c bus %q open: %w", cfg.I2CBus, err)
	}

	dev, err := bmxx80.NewI2C(bus, cfg.SensorAddr, &bmxx80.DefaultOpts)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("ambient sensor init: %w", err)
	}

	var reed gpio.PinIn
	if cfg.ReedPin != "" {
		pin := gpioreg.ByName(cfg.ReedPin)
		if pin == nil {
			bus.Close()
			return nil, fmt.Errorf("reed pin %q not found", cfg.ReedPin)
		}
		if err := pin.In(gpio.PullUp, gpio.NoEdge); err != nil {
			bus.Close()
			return nil, fmt.Errorf("reed pin %q: %w", cfg.ReedPin, err)
		}
		reed = pin
	}

	b := NewBoard(inner, dev, reed, log)
	b.bus = bus
	return b, nil
}

// Connect connects the wrapped front end and starts decorating its samples.
func (b *Board) Connect() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.connected {
		return fmt.Errorf("already connected")
	}
	if err := b.inner.Connect(); err != nil {
		return err
	}
	b.connected = true

	go b.forward(b.inner.Samples())

	return nil
}

// Close closes the wrapped front end and releases the bus. The samples channel
// is closed once the wrapped channel drains.
func (b *Board) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.connected {
		return nil
	}
	b.connected = false

	err := b.inner.Close()
	if b.bus != nil {
		if cerr := b.bus.Close(); cerr != nil {
			b.log.Warnw("closing i2c bus", "err", cerr)
		}
		b.bus = nil
	}
	return err
}

// Samples returns the channel for reading decorated samples.
func (b *Board) Samples() <-chan Sample {
	return b.samples
}

// SetOutputs forwards the actuator commands.
func (b *Board) SetOutputs(o Outputs) error {
	return b.inner.SetOutputs(o)
}

// IsConnected returns whether the wrapped front end is connected.
func (b *Board) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected
}

func (b *Board) forward(in <-chan Sample) {
	defer close(b.samples)

	for s := range in {
		b.decorate(&s)
		select {
		case b.samples <- s:
		default:
			b.log.Debug("board samples channel full, dropping sample")
		}
	}
}

func (b *Board) decorate(s *Sample) {
	if b.sensor != nil {
		if b.lastRead.IsZero() || s.Timestamp.Sub(b.lastRead) >= ambientPeriod {
			b.lastRead = s.Timestamp
			var e physic.Env
			if err := b.sensor.Sense(&e); err != nil {
				b.log.Warnw("ambient sensor read", "err", err)
			} else {
				b.ambient = e.Temperature
			}
		}
		if b.ambient != 0 {
			s.Ambient = b.ambient
		}
	}
	if b.reed != nil {
		s.Reed = b.reed.Read() == gpio.Low
	}
}
