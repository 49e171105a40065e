package frontend

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/physic"
)

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// Serial is the link to the front-end MCU.
type Serial struct {
	port     string
	baudRate int
	bufSize  int
	log      *zap.SugaredLogger

	conn      serial.Port
	samples   chan Sample
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	connected bool
}

// NewSerial creates a link with the specified port, baud rate, and buffer size.
func NewSerial(port string, baudRate int, bufSize int, log *zap.SugaredLogger) *Serial {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	if bufSize == 0 {
		bufSize = DefaultBufferSize
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Serial{
		port:     port,
		baudRate: baudRate,
		bufSize:  bufSize,
		log:      log,
		samples:  make(chan Sample, bufSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Ports returns a list of available serial ports.
func Ports() ([]Port, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]Port, 0, len(ports))
	for _, name := range ports {
		result = append(result, Port{Name: name, Description: name})
	}
	return result, nil
}

// Connect opens the serial port and starts reading samples.
func (d *Serial) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return fmt.Errorf("already connected")
	}

	port, err := serial.Open(d.port, &serial.Mode{BaudRate: d.baudRate})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", d.port, err)
	}

	d.conn = port
	d.connected = true

	go d.readSamples(port)

	return nil
}

// Close closes the connection and the samples channel.
func (d *Serial) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return nil
	}

	d.cancel()

	if d.conn != nil {
		if err := d.conn.Close(); err != nil {
			d.log.Warnw("closing serial port", "port", d.port, "err", err)
		}
		d.conn = nil
	}

	d.connected = false
	close(d.samples)

	return nil
}

// Samples returns the channel for reading samples.
func (d *Serial) Samples() <-chan Sample {
	return d.samples
}

// SetOutputs sends the actuator commands to the MCU.
func (d *Serial) SetOutputs(o Outputs) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.connected {
		return fmt.Errorf("not connected")
	}

	if _, err := io.WriteString(d.conn, formatOutputs(o)); err != nil {
		return fmt.Errorf("failed to send outputs: %w", err)
	}
	return nil
}

// IsConnected returns whether the link is currently open.
func (d *Serial) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected
}

func (d *Serial) readSamples(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		s, err := parseLine(line)
		if err != nil {
			d.log.Debugw("bad sample line", "line", line, "err", err)
			continue
		}

		d.mu.RLock()
		if !d.connected {
			d.mu.RUnlock()
			return
		}
		select {
		case d.samples <- s:
		default:
			d.log.Debug("samples channel full, dropping sample")
		}
		d.mu.RUnlock()
	}
	if err := scanner.Err(); err != nil && d.ctx.Err() == nil {
		d.log.Errorw("reading serial port", "port", d.port, "err", err)
	}
}

// parseLine parses a line from the MCU.
// Format: unix_micros,iron,iron_current,gun,gun_current,ambient_decicelsius,reed
// Example: 1234567890123,1510,64,980,72,245,0
func parseLine(line string) (Sample, error) {
	parts := strings.Split(line, ",")
	if len(parts) != 7 {
		return Sample{}, fmt.Errorf("invalid line format: expected 7 comma-separated values, got %d", len(parts))
	}

	micros, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Sample{}, fmt.Errorf("invalid timestamp: %w", err)
	}

	var adc [4]uint16
	names := [4]string{"iron", "iron current", "gun", "gun current"}
	for i := range adc {
		v, err := strconv.ParseUint(parts[i+1], 10, 16)
		if err != nil {
			return Sample{}, fmt.Errorf("invalid %s: %w", names[i], err)
		}
		if v > ADCMax {
			return Sample{}, fmt.Errorf("%s out of range: %d (max %d)", names[i], v, ADCMax)
		}
		adc[i] = uint16(v)
	}

	dc, err := strconv.ParseInt(parts[5], 10, 16)
	if err != nil {
		return Sample{}, fmt.Errorf("invalid ambient: %w", err)
	}

	var reed bool
	switch parts[6] {
	case "0":
	case "1":
		reed = true
	default:
		return Sample{}, fmt.Errorf("invalid reed state %q", parts[6])
	}

	return Sample{
		Timestamp:   time.Unix(0, micros*1000),
		IronTemp:    adc[0],
		IronCurrent: adc[1],
		GunTemp:     adc[2],
		GunCurrent:  adc[3],
		Ambient:     physic.ZeroCelsius + physic.Temperature(dc)*100*physic.MilliKelvin,
		Reed:        reed,
	}, nil
}

// formatOutputs encodes the actuator command line: O,iron,gun,fan,relay
func formatOutputs(o Outputs) string {
	relay := 0
	if o.Relay {
		relay = 1
	}
	return fmt.Sprintf("O,%d,%d,%d,%d\n", o.IronPower, o.GunPower, o.Fan, relay)
}
