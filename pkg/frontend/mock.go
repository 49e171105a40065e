package frontend

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/itohio/gostation/pkg/config"
)

// plant is a first-order thermal model of one heater in raw units above ambient.
type plant struct {
	cfg  config.PlantConfig
	temp float64
}

// step advances the plant by dt with the given duty in [0, 1]. cooling > 1
// shortens the time constant.
func (p *plant) step(duty, cooling float64, dt time.Duration) {
	tau := p.cfg.TimeConstant.Seconds() / cooling
	k := 1.0
	if tau > 0 {
		k = math.Min(dt.Seconds()/tau, 1)
	}
	p.temp += (p.cfg.Gain*duty - p.temp) * k
}

// Mock simulates the front end with a thermal plant per heater.
type Mock struct {
	cfg     config.MockConfig
	ironMax float64
	gunMax  float64
	fanMax  float64

	samples   chan Sample
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	connected bool

	out     Outputs
	iron    plant
	gun     plant
	ironOn  bool // iron handle attached
	gunOn   bool // gun handle attached
	reed    bool
	counter int
}

// NewMock creates a simulated front end. A nil configuration uses the defaults.
func NewMock(cfg *config.Config) *Mock {
	if cfg == nil {
		cfg = config.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Mock{
		cfg:     cfg.Mock,
		ironMax: float64(cfg.Iron.MaxPower),
		gunMax:  float64(cfg.Gun.MaxPower),
		fanMax:  float64(cfg.Gun.FanMax),
		samples: make(chan Sample, DefaultBufferSize),
		ctx:     ctx,
		cancel:  cancel,
		iron:    plant{cfg: cfg.Mock.Iron},
		gun:     plant{cfg: cfg.Mock.Gun},
		ironOn:  true,
		gunOn:   true,
	}
}

// Connect starts generating samples.
func (m *Mock) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		return fmt.Errorf("already connected")
	}

	m.connected = true
	go m.generateSamples()

	return nil
}

// Close stops the simulation.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return nil
	}

	m.cancel()
	m.connected = false
	close(m.samples)

	return nil
}

// Samples returns the channel for reading samples.
func (m *Mock) Samples() <-chan Sample {
	return m.samples
}

// SetOutputs records the actuator commands driving the plants.
func (m *Mock) SetOutputs(o Outputs) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return fmt.Errorf("not connected")
	}
	m.out = o
	return nil
}

// IsConnected returns whether the simulation is running.
func (m *Mock) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// SetHandles attaches or detaches the simulated iron and gun handles.
func (m *Mock) SetHandles(iron, gun bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ironOn, m.gunOn = iron, gun
}

// SetReed places the gun in or out of its holder.
func (m *Mock) SetReed(closed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reed = closed
}

func (m *Mock) generateSamples() {
	ticker := time.NewTicker(m.cfg.SampleRate)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case now := <-ticker.C:
			m.mu.Lock()
			if !m.connected {
				m.mu.Unlock()
				return
			}
			s := m.generateSample(now, m.cfg.SampleRate)
			select {
			case m.samples <- s:
			default:
			}
			m.mu.Unlock()
		}
	}
}

// generateSample advances both plants by dt and digitizes them. The caller
// holds the lock.
func (m *Mock) generateSample(now time.Time, dt time.Duration) Sample {
	ironDuty := ratio(float64(m.out.IronPower), m.ironMax)
	if !m.ironOn {
		ironDuty = 0
	}
	gunDuty := ratio(float64(m.out.GunPower), m.gunMax)
	if !m.out.Relay || !m.gunOn {
		gunDuty = 0
	}
	fan := ratio(float64(m.out.Fan), m.fanMax)

	m.iron.step(ironDuty, 1, dt)
	m.gun.step(gunDuty, 1+2*fan, dt)
	m.counter++

	var ironCurrent, gunCurrent uint16
	if m.ironOn && m.out.IronPower > 0 {
		ironCurrent = adc(100 + float64(m.out.IronPower)/20)
	}
	if m.gunOn {
		gunCurrent = adc(float64(m.out.Fan) / 10)
	}

	n := float64(m.counter)
	return Sample{
		Timestamp:   now,
		IronTemp:    adc(m.iron.temp + math.Sin(n*0.7)*m.iron.cfg.Noise),
		IronCurrent: ironCurrent,
		GunTemp:     adc(m.gun.temp + math.Cos(n*0.3)*m.gun.cfg.Noise),
		GunCurrent:  gunCurrent,
		Ambient:     Celsius(m.cfg.Ambient),
		Reed:        m.reed,
	}
}

func ratio(v, max float64) float64 {
	if max <= 0 {
		return 0
	}
	return math.Min(math.Max(v/max, 0), 1)
}

// adc clamps a simulated value to the converter range.
func adc(v float64) uint16 {
	if v < 0 {
		return 0
	}
	if v > ADCMax {
		return ADCMax
	}
	return uint16(v)
}
