//go:build tinygo

package main

import "machine"

const (
	// Sampling configuration
	SAMPLE_INTERVAL_MS = 1  // ADC read interval in milliseconds
	NUM_SAMPLES        = 20 // Number of samples averaged into one output line

	// ADC configuration
	ADC_REFERENCE_MV = 3300 // Reference voltage in millivolts (3.3V)
	ADC_RESOLUTION   = 12   // ADC resolution in bits (12-bit = 0-4095)

	// Ambient thermistor: NTC to ground with a pull-up to the reference
	NTC_PULLUP_OHM  = 10000
	NTC_NOMINAL_OHM = 10000
	NTC_NOMINAL_C   = 25
	NTC_BETA        = 3950

	// Host duty scales, matching the station defaults
	IRON_POWER_MAX = 1999
	GUN_POWER_MAX  = 999
	FAN_MAX        = 2000

	// Outputs are switched off when the host stays silent for this long
	HOST_TIMEOUT_MS = 500

	// Output pins
	PIN_IRON  = machine.D7
	PIN_GUN   = machine.D8
	PIN_FAN   = machine.D9
	PIN_RELAY = machine.D10
	PIN_REED  = machine.D6

	// ADC pins
	PIN_IRON_TEMP    = machine.A0
	PIN_IRON_CURRENT = machine.A1
	PIN_GUN_TEMP     = machine.A2
	PIN_GUN_CURRENT  = machine.A3
	PIN_AMBIENT      = machine.A4

	// Serial configuration
	// Format "unix_micros,iron,iron_current,gun,gun_current,ambient_dc,reed\n"
	// is ~45 bytes; 50 lines/sec need 2,250 bytes/sec. 115200 baud gives ~5x headroom.
	UART_BAUD_RATE = 115200
)
