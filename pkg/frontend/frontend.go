// Package frontend connects the station to the analog board that digitizes the
// heater thermocouples and drives the heater duty, the gun fan and the AC relay.
package frontend

import (
	"math"
	"time"

	"periph.io/x/conn/v3/physic"
)

const (
	// DefaultBaudRate is the link speed of the front-end MCU.
	DefaultBaudRate = 115200
	// DefaultBufferSize is the default size for the samples channel buffer.
	DefaultBufferSize = 100
	// ADCMax is the largest raw reading of the 12-bit converters.
	ADCMax = 4095
)

// Sample is one acquisition cycle of the front end.
type Sample struct {
	Timestamp   time.Time
	IronTemp    uint16 // raw thermocouple reading
	IronCurrent uint16 // heater current sense, valid while power is applied
	GunTemp     uint16
	GunCurrent  uint16 // fan current sense
	Ambient     physic.Temperature
	Reed        bool // gun resting in its holder
}

// AmbientCelsius returns the ambient temperature rounded to whole degrees.
func (s Sample) AmbientCelsius() int {
	if s.Ambient == 0 {
		return 0
	}
	return int(math.Round(s.Ambient.Celsius()))
}

// Outputs are the actuator commands.
type Outputs struct {
	IronPower uint16
	GunPower  uint16
	Fan       uint16
	Relay     bool
}

// Frontend defines the interface for front ends (real or mocked).
type Frontend interface {
	Connect() error
	Close() error
	Samples() <-chan Sample
	SetOutputs(o Outputs) error
	IsConnected() bool
}

var (
	_ Frontend = (*Serial)(nil)
	_ Frontend = (*Mock)(nil)
	_ Frontend = (*Board)(nil)
)

// Celsius converts degrees Celsius to a physic temperature.
func Celsius(c float64) physic.Temperature {
	return physic.ZeroCelsius + physic.Temperature(c*float64(physic.Kelvin))
}
