package store

// Options are the boolean settings of the station.
type Options struct {
	Celsius     bool // display Celsius, otherwise Fahrenheit
	Buzzer      bool
	ReedSwitch  bool // gun handle uses a reed switch instead of a tilt sensor
	BigStep     bool // coarse preset step
	AutoStart   bool // switch the iron on at power up
	FastCooling bool // cool the gun at the maximum fan speed
}

const (
	optCelsius uint16 = 1 << iota
	optBuzzer
	optReedSwitch
	optBigStep
	optAutoStart
	optFastCooling
)

// Mask packs the options into the stored bit layout.
func (o Options) Mask() uint16 {
	var m uint16
	set := func(b bool, bit uint16) {
		if b {
			m |= bit
		}
	}
	set(o.Celsius, optCelsius)
	set(o.Buzzer, optBuzzer)
	set(o.ReedSwitch, optReedSwitch)
	set(o.BigStep, optBigStep)
	set(o.AutoStart, optAutoStart)
	set(o.FastCooling, optFastCooling)
	return m
}

// OptionsFromMask unpacks the stored bit layout. Unknown bits are ignored.
func OptionsFromMask(m uint16) Options {
	return Options{
		Celsius:     m&optCelsius != 0,
		Buzzer:      m&optBuzzer != 0,
		ReedSwitch:  m&optReedSwitch != 0,
		BigStep:     m&optBigStep != 0,
		AutoStart:   m&optAutoStart != 0,
		FastCooling: m&optFastCooling != 0,
	}
}
