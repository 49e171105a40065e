package config

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/itohio/gostation/pkg/acquire"
	"github.com/itohio/gostation/pkg/calib"
	"github.com/itohio/gostation/pkg/pid"
	"github.com/itohio/gostation/pkg/tune"
	"github.com/itohio/gostation/pkg/unit"
)

// Config represents the station configuration.
type Config struct {
	Serial      SerialConfig      `yaml:"serial"`
	Storage     StorageConfig     `yaml:"storage"`
	Iron        IronConfig        `yaml:"iron"`
	Gun         GunConfig         `yaml:"gun"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Tune        TuneConfig        `yaml:"tune"`
	Monitor     MonitorConfig     `yaml:"monitor"`
	Board       BoardConfig       `yaml:"board"`
	Mock        MockConfig        `yaml:"mock"`
	Log         LogConfig         `yaml:"log"`
}

// SerialConfig contains the front-end link configuration.
type SerialConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

// StorageConfig points to the directory holding the tip and config files.
type StorageConfig struct {
	Dir string `yaml:"dir"`
}

// HeaterConfig holds the constants shared by the iron and the gun. Temperatures
// are raw ADC units unless noted.
type HeaterConfig struct {
	InternalMax   uint16 `yaml:"internal_max"`
	TempMin       uint16 `yaml:"temp_min"` // Celsius
	TempMax       uint16 `yaml:"temp_max"` // Celsius
	MaxPower      uint16 `yaml:"max_power"`
	MaxFixedPower uint16 `yaml:"max_fixed_power"`
	ColdTemp      uint16 `yaml:"cold_temp"`
	Smooth        int    `yaml:"smooth"`
	CurrentOff    int32  `yaml:"current_off"`
	CurrentOn     int32  `yaml:"current_on"`
}

// IronConfig contains the soldering iron hardware constants.
type IronConfig struct {
	HeaterConfig `yaml:",inline"`
	TickPeriod   time.Duration `yaml:"tick_period"`
	ProbePeriod  uint32        `yaml:"probe_period"` // ticks
	ProbePower   uint16        `yaml:"probe_power"`
}

// GunConfig contains the hot air gun hardware constants.
type GunConfig struct {
	HeaterConfig   `yaml:",inline"`
	PowerPeriod    time.Duration `yaml:"power_period"`
	RelayReady     int           `yaml:"relay_ready"`
	FanMax         uint16        `yaml:"fan_max"`
	FanMinWorking  uint16        `yaml:"fan_min_working"`
	FanMaxCooling  uint16        `yaml:"fan_max_cooling"`
	FanFastCooling uint16        `yaml:"fan_fast_cooling"`
	ExtraCooling   time.Duration `yaml:"extra_cooling"`
}

// CalibrationConfig contains the timings of both calibration procedures.
type CalibrationConfig struct {
	Hold          time.Duration `yaml:"hold"`
	PhaseTimeout  time.Duration `yaml:"phase_timeout"`
	CoolGap       uint16        `yaml:"cool_gap"`
	Tolerance     uint16        `yaml:"tolerance"`
	TrustedMin    uint16        `yaml:"trusted_min"`
	TrustedMax    uint16        `yaml:"trusted_max"`
	ManualWait    time.Duration `yaml:"manual_wait"`
	ManualTimeout time.Duration `yaml:"manual_timeout"`
}

// TuneConfig contains the relay auto-tune parameters.
type TuneConfig struct {
	Hysteresis   uint16        `yaml:"hysteresis"`
	Hold         time.Duration `yaml:"hold"`
	Step         time.Duration `yaml:"step"`
	MinLoops     uint32        `yaml:"min_loops"`
	MaxLoops     uint32        `yaml:"max_loops"`
	PhaseTimeout time.Duration `yaml:"phase_timeout"`
	RelayTimeout time.Duration `yaml:"relay_timeout"`
}

// MonitorConfig contains the history kept for the front panel.
type MonitorConfig struct {
	WindowSeconds  float64 `yaml:"window_seconds"`
	MaxPoints      int     `yaml:"max_points"`
	AverageSamples int     `yaml:"average_samples"` // 0 disables averaging
}

// BoardConfig selects the optional on-board peripherals read through periph.
type BoardConfig struct {
	Enabled    bool   `yaml:"enabled"`
	I2CBus     string `yaml:"i2c_bus"`
	SensorAddr uint16 `yaml:"sensor_addr"`
	ReedPin    string `yaml:"reed_pin"`
}

// PlantConfig describes one simulated heater.
type PlantConfig struct {
	Gain         float64       `yaml:"gain"` // raw units above ambient at full power
	TimeConstant time.Duration `yaml:"time_constant"`
	Noise        float64       `yaml:"noise"` // raw units
}

// MockConfig contains the simulated front-end configuration.
type MockConfig struct {
	Enabled    bool          `yaml:"enabled"`
	SampleRate time.Duration `yaml:"sample_rate"`
	Ambient    float64       `yaml:"ambient"` // Celsius
	Iron       PlantConfig   `yaml:"iron"`
	Gun        PlantConfig   `yaml:"gun"`
}

// LogConfig selects the logger.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	iron := unit.DefaultIronConfig()
	gun := unit.DefaultGunConfig()
	ironLim := calib.DefaultLimits(calib.Iron)
	gunLim := calib.DefaultLimits(calib.Gun)
	return &Config{
		Serial: SerialConfig{
			Port: "/dev/ttyACM0",
			Baud: 115200,
		},
		Storage: StorageConfig{
			Dir: "station-data",
		},
		Iron: IronConfig{
			HeaterConfig: HeaterConfig{
				InternalMax:   iron.InternalMax,
				TempMin:       ironLim.TempMin,
				TempMax:       ironLim.TempMax,
				MaxPower:      iron.MaxPower,
				MaxFixedPower: iron.MaxFixedPower,
				ColdTemp:      iron.ColdTemp,
				Smooth:        iron.Smooth,
				CurrentOff:    iron.CurrentOff,
				CurrentOn:     iron.CurrentOn,
			},
			TickPeriod:  iron.TickPeriod,
			ProbePeriod: iron.ProbePeriod,
			ProbePower:  iron.ProbePower,
		},
		Gun: GunConfig{
			HeaterConfig: HeaterConfig{
				InternalMax:   gun.InternalMax,
				TempMin:       gunLim.TempMin,
				TempMax:       gunLim.TempMax,
				MaxPower:      gun.MaxPower,
				MaxFixedPower: gun.MaxFixedPower,
				ColdTemp:      gun.ColdTemp,
				Smooth:        gun.Smooth,
				CurrentOff:    gun.CurrentOff,
				CurrentOn:     gun.CurrentOn,
			},
			PowerPeriod:    gun.PowerPeriod,
			RelayReady:     gun.RelayReady,
			FanMax:         gun.FanMax,
			FanMinWorking:  gun.FanMinWorking,
			FanMaxCooling:  gun.FanMaxCooling,
			FanFastCooling: gun.FanFastCooling,
			ExtraCooling:   gun.ExtraCooling,
		},
		Calibration: CalibrationConfig{
			Hold:          5 * time.Second,
			PhaseTimeout:  3 * time.Minute,
			CoolGap:       60,
			Tolerance:     15,
			TrustedMin:    150,
			TrustedMax:    450,
			ManualWait:    10 * time.Second,
			ManualTimeout: 5 * time.Minute,
		},
		Tune: TuneConfig{
			Hysteresis:   10,
			Hold:         5 * time.Second,
			Step:         20 * time.Second,
			MinLoops:     16,
			MaxLoops:     24,
			PhaseTimeout: 5 * time.Minute,
			RelayTimeout: 30 * time.Minute,
		},
		Monitor: MonitorConfig{
			WindowSeconds:  120,
			MaxPoints:      600,
			AverageSamples: 0,
		},
		Board: BoardConfig{
			I2CBus:     "",
			SensorAddr: 0x76,
			ReedPin:    "GPIO17",
		},
		Mock: MockConfig{
			SampleRate: 20 * time.Millisecond,
			Ambient:    25,
			Iron:       PlantConfig{Gain: 3400, TimeConstant: 8 * time.Second, Noise: 2},
			Gun:        PlantConfig{Gain: 3000, TimeConstant: 20 * time.Second, Noise: 3},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ensureDefaults fills zero fields that would make the station unusable.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.Baud == 0 {
		c.Serial.Baud = def.Serial.Baud
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = def.Storage.Dir
	}

	c.Iron.HeaterConfig.fill(def.Iron.HeaterConfig)
	if c.Iron.TickPeriod == 0 {
		c.Iron.TickPeriod = def.Iron.TickPeriod
	}

	c.Gun.HeaterConfig.fill(def.Gun.HeaterConfig)
	if c.Gun.PowerPeriod == 0 {
		c.Gun.PowerPeriod = def.Gun.PowerPeriod
	}
	if c.Gun.FanMax == 0 {
		c.Gun.FanMax = def.Gun.FanMax
	}
	if c.Gun.FanMinWorking == 0 {
		c.Gun.FanMinWorking = def.Gun.FanMinWorking
	}
	if c.Gun.FanMaxCooling == 0 {
		c.Gun.FanMaxCooling = def.Gun.FanMaxCooling
	}
	if c.Gun.FanFastCooling == 0 {
		c.Gun.FanFastCooling = def.Gun.FanFastCooling
	}

	if c.Calibration.Hold == 0 {
		c.Calibration.Hold = def.Calibration.Hold
	}
	if c.Calibration.PhaseTimeout == 0 {
		c.Calibration.PhaseTimeout = def.Calibration.PhaseTimeout
	}
	if c.Calibration.Tolerance == 0 {
		c.Calibration.Tolerance = def.Calibration.Tolerance
	}
	if c.Calibration.TrustedMax == 0 {
		c.Calibration.TrustedMin = def.Calibration.TrustedMin
		c.Calibration.TrustedMax = def.Calibration.TrustedMax
	}
	if c.Calibration.ManualTimeout == 0 {
		c.Calibration.ManualTimeout = def.Calibration.ManualTimeout
	}

	if c.Tune.Hold == 0 {
		c.Tune.Hold = def.Tune.Hold
	}
	if c.Tune.Step == 0 {
		c.Tune.Step = def.Tune.Step
	}
	if c.Tune.MaxLoops == 0 {
		c.Tune.MinLoops = def.Tune.MinLoops
		c.Tune.MaxLoops = def.Tune.MaxLoops
	}
	if c.Tune.PhaseTimeout == 0 {
		c.Tune.PhaseTimeout = def.Tune.PhaseTimeout
	}
	if c.Tune.RelayTimeout == 0 {
		c.Tune.RelayTimeout = def.Tune.RelayTimeout
	}

	if c.Monitor.WindowSeconds == 0 {
		c.Monitor.WindowSeconds = def.Monitor.WindowSeconds
	}
	if c.Monitor.MaxPoints == 0 {
		c.Monitor.MaxPoints = def.Monitor.MaxPoints
	}

	if c.Board.SensorAddr == 0 {
		c.Board.SensorAddr = def.Board.SensorAddr
	}

	if c.Mock.SampleRate == 0 {
		c.Mock.SampleRate = def.Mock.SampleRate
	}
	if c.Mock.Iron.TimeConstant == 0 {
		c.Mock.Iron = def.Mock.Iron
	}
	if c.Mock.Gun.TimeConstant == 0 {
		c.Mock.Gun = def.Mock.Gun
	}

	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
}

func (h *HeaterConfig) fill(def HeaterConfig) {
	if h.InternalMax == 0 {
		h.InternalMax = def.InternalMax
	}
	if h.TempMax == 0 {
		h.TempMin = def.TempMin
		h.TempMax = def.TempMax
	}
	if h.MaxPower == 0 {
		h.MaxPower = def.MaxPower
	}
	if h.MaxFixedPower == 0 {
		h.MaxFixedPower = def.MaxFixedPower
	}
	if h.ColdTemp == 0 {
		h.ColdTemp = def.ColdTemp
	}
	if h.Smooth == 0 {
		h.Smooth = def.Smooth
	}
	if h.CurrentOn == 0 {
		h.CurrentOff = def.CurrentOff
		h.CurrentOn = def.CurrentOn
	}
}

// Limits returns the mapping limits of the heater.
func (h HeaterConfig) Limits() calib.Limits {
	return calib.Limits{InternalMax: h.InternalMax, TempMin: h.TempMin, TempMax: h.TempMax}
}

// Unit returns the iron state machine constants with the stored PID coefficients.
func (c IronConfig) Unit(p pid.Params) unit.IronConfig {
	return unit.IronConfig{
		InternalMax:   c.InternalMax,
		MaxPower:      c.MaxPower,
		MaxFixedPower: c.MaxFixedPower,
		ColdTemp:      c.ColdTemp,
		TickPeriod:    c.TickPeriod,
		ProbePeriod:   c.ProbePeriod,
		ProbePower:    c.ProbePower,
		Smooth:        c.Smooth,
		CurrentOff:    c.CurrentOff,
		CurrentOn:     c.CurrentOn,
		PID:           p,
	}
}

// Unit returns the gun state machine constants with the stored PID coefficients.
func (c GunConfig) Unit(p pid.Params, fastCooling bool) unit.GunConfig {
	return unit.GunConfig{
		InternalMax:    c.InternalMax,
		MaxPower:       c.MaxPower,
		MaxFixedPower:  c.MaxFixedPower,
		ColdTemp:       c.ColdTemp,
		PowerPeriod:    c.PowerPeriod,
		RelayReady:     c.RelayReady,
		FanMax:         c.FanMax,
		FanMinWorking:  c.FanMinWorking,
		FanMaxCooling:  c.FanMaxCooling,
		FanFastCooling: c.FanFastCooling,
		FastCooling:    fastCooling,
		ExtraCooling:   c.ExtraCooling,
		Smooth:         c.Smooth,
		CurrentOff:     c.CurrentOff,
		CurrentOn:      c.CurrentOn,
		PID:            p,
	}
}

// Auto returns the automatic calibration settings for a heater.
func (c CalibrationConfig) Auto(internalMax uint16) acquire.AutoConfig {
	a := acquire.DefaultAutoConfig(internalMax)
	a.Hold = c.Hold
	a.PhaseTimeout = c.PhaseTimeout
	a.CoolGap = c.CoolGap
	a.Criteria.Tolerance = c.Tolerance
	a.TrustedMin = c.TrustedMin
	a.TrustedMax = c.TrustedMax
	return a
}

// Manual returns the manual calibration settings.
func (c CalibrationConfig) Manual() acquire.ManualConfig {
	m := acquire.DefaultManualConfig()
	m.MinWait = c.ManualWait
	m.Timeout = c.ManualTimeout
	return m
}

// Tuner returns the auto-tune settings.
func (c TuneConfig) Tuner() tune.Config {
	t := tune.DefaultConfig()
	t.Hysteresis = c.Hysteresis
	t.Hold = c.Hold
	t.Step = c.Step
	t.MinLoops = c.MinLoops
	t.MaxLoops = c.MaxLoops
	t.PhaseTimeout = c.PhaseTimeout
	t.RelayTimeout = c.RelayTimeout
	return t
}

// Window returns the monitor history length.
func (c MonitorConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds * float64(time.Second))
}

// Logger builds the station logger.
func (c LogConfig) Logger() (*zap.SugaredLogger, error) {
	level, err := zap.ParseAtomicLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.Level, err)
	}
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	l, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return l.Sugar(), nil
}
