//go:build tinygo

//go:generate tinygo flash -target=xiao

// Command firmware runs on the analog front end of the station. It averages
// the heater ADC channels, reports them to the host and applies the duty,
// fan and relay commands it receives.
package main

import (
	"machine"
	"math"
	"time"
)

// channel indices of the averaged ADC inputs
const (
	chIronTemp = iota
	chIronCurrent
	chGunTemp
	chGunCurrent
	chAmbient
	numChannels
)

var (
	adcs [numChannels]machine.ADC
	uart = machine.UART0

	pwm      = machine.TCC0
	pwmIron  uint8
	pwmGun   uint8
	pwmFan   uint8
	pwmReady bool

	// ADC averaging - running sums and sample count
	sums  [numChannels]uint32
	count int

	// Timing
	lastADCRead time.Time
	lastCommand time.Time

	// Serial buffer for reading lines
	serialBuffer [32]byte
	serialPos    int
)

func main() {
	pins := [numChannels]machine.Pin{PIN_IRON_TEMP, PIN_IRON_CURRENT, PIN_GUN_TEMP, PIN_GUN_CURRENT, PIN_AMBIENT}
	adcConfig := machine.ADCConfig{
		Reference:  ADC_REFERENCE_MV,
		Resolution: ADC_RESOLUTION,
	}
	machine.InitADC()
	for i, pin := range pins {
		pin.Configure(machine.PinConfig{Mode: machine.PinInput})
		adcs[i] = machine.ADC{Pin: pin}
		adcs[i].Configure(adcConfig)
	}

	PIN_RELAY.Configure(machine.PinConfig{Mode: machine.PinOutput})
	PIN_RELAY.Low()
	PIN_REED.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	configurePWM()

	uart.Configure(machine.UARTConfig{
		BaudRate: UART_BAUD_RATE,
	})

	lastADCRead = time.Now()
	lastCommand = time.Now()

	for {
		now := time.Now()

		processSerial(now)

		if now.Sub(lastADCRead) >= time.Duration(SAMPLE_INTERVAL_MS)*time.Millisecond {
			readADCs()
			lastADCRead = now
		}

		if count >= NUM_SAMPLES {
			outputAveragedValues(now)
			sums = [numChannels]uint32{}
			count = 0
		}

		// the host drives the heaters, a silent host must not leave them on
		if now.Sub(lastCommand) > HOST_TIMEOUT_MS*time.Millisecond {
			applyOutputs(0, 0, 0, false)
			lastCommand = now
		}

		time.Sleep(100 * time.Microsecond)
	}
}

func configurePWM() {
	// 1 kHz carrier
	if err := pwm.Configure(machine.PWMConfig{Period: 1e6}); err != nil {
		return
	}
	var err error
	if pwmIron, err = pwm.Channel(PIN_IRON); err != nil {
		return
	}
	if pwmGun, err = pwm.Channel(PIN_GUN); err != nil {
		return
	}
	if pwmFan, err = pwm.Channel(PIN_FAN); err != nil {
		return
	}
	pwmReady = true
}

func readADCs() {
	for i := range adcs {
		// 16-bit left aligned reading down to the 12-bit scale
		sums[i] += uint32(adcs[i].Get() >> 4)
	}
	count++
}

// ambientDeciCelsius converts the thermistor divider reading with the beta
// equation.
func ambientDeciCelsius(raw uint16) int32 {
	if raw == 0 || raw >= 4095 {
		return NTC_NOMINAL_C * 10
	}
	r := float64(NTC_PULLUP_OHM) * float64(raw) / float64(4095-raw)
	t0 := float64(NTC_NOMINAL_C) + 273.15
	inv := 1/t0 + math.Log(r/NTC_NOMINAL_OHM)/NTC_BETA
	return int32(math.Round((1/inv - 273.15) * 10))
}

func outputAveragedValues(now time.Time) {
	n := uint32(count)
	if n == 0 {
		n = 1
	}
	var avg [numChannels]uint16
	for i := range sums {
		avg[i] = uint16(sums[i] / n)
	}

	// Output format: "unix_micros,iron,iron_current,gun,gun_current,ambient_dc,reed\n"
	print(now.UnixNano() / 1000)
	for i := chIronTemp; i <= chGunCurrent; i++ {
		print(",")
		print(avg[i])
	}
	print(",")
	print(ambientDeciCelsius(avg[chAmbient]))
	if PIN_REED.Get() {
		print(",0\n")
	} else {
		// the reed closes to ground when the gun is in its holder
		print(",1\n")
	}
}

func processSerial(now time.Time) {
	for uart.Buffered() > 0 {
		data, err := uart.ReadByte()
		if err != nil {
			break
		}

		if data == '\n' || data == '\r' {
			if serialPos > 0 {
				if parseCommand(serialBuffer[:serialPos]) {
					lastCommand = now
				}
			}
			serialPos = 0
			continue
		}
		if data == ' ' || data == '\t' {
			continue
		}
		if serialPos < len(serialBuffer) {
			serialBuffer[serialPos] = data
			serialPos++
		} else {
			// overlong line - drop it
			serialPos = 0
		}
	}
}

// parseCommand applies "O,iron,gun,fan,relay".
func parseCommand(line []byte) bool {
	if len(line) < 2 || line[0] != 'O' || line[1] != ',' {
		return false
	}
	var values [4]uint32
	field := 0
	digits := 0
	for _, c := range line[2:] {
		switch {
		case c == ',':
			if digits == 0 || field == len(values)-1 {
				return false
			}
			field++
			digits = 0
		case c >= '0' && c <= '9':
			values[field] = values[field]*10 + uint32(c-'0')
			digits++
			if values[field] > 0xFFFF {
				return false
			}
		default:
			return false
		}
	}
	if field != len(values)-1 || digits == 0 {
		return false
	}
	applyOutputs(values[0], values[1], values[2], values[3] == 1)
	return true
}

func applyOutputs(iron, gun, fan uint32, relay bool) {
	if !relay {
		gun = 0
	}
	if relay {
		PIN_RELAY.High()
	} else {
		PIN_RELAY.Low()
	}
	if !pwmReady {
		return
	}
	top := pwm.Top()
	pwm.Set(pwmIron, scale(iron, IRON_POWER_MAX, top))
	pwm.Set(pwmGun, scale(gun, GUN_POWER_MAX, top))
	pwm.Set(pwmFan, scale(fan, FAN_MAX, top))
}

func scale(v, max, top uint32) uint32 {
	if v > max {
		v = max
	}
	return v * top / max
}
