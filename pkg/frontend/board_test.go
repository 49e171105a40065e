package frontend

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/physic"
)

type fakeSensor struct {
	temp  physic.Temperature
	err   error
	calls int
}

func (f *fakeSensor) Sense(e *physic.Env) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	e.Temperature = f.temp
	return nil
}

type chanFrontend struct {
	ch        chan Sample
	out       []Outputs
	connected bool
}

func newChanFrontend() *chanFrontend { return &chanFrontend{ch: make(chan Sample, 10)} }

func (c *chanFrontend) Connect() error {
	c.connected = true
	return nil
}

func (c *chanFrontend) Close() error {
	c.connected = false
	close(c.ch)
	return nil
}

func (c *chanFrontend) Samples() <-chan Sample { return c.ch }
func (c *chanFrontend) IsConnected() bool      { return c.connected }

func (c *chanFrontend) SetOutputs(o Outputs) error {
	c.out = append(c.out, o)
	return nil
}

func TestBoard_Decorate(t *testing.T) {
	sensor := &fakeSensor{temp: Celsius(31)}
	pin := &gpiotest.Pin{N: "GPIO17", L: gpio.High}
	b := NewBoard(newChanFrontend(), sensor, pin, nil)

	t0 := time.Unix(100, 0)
	s := Sample{Timestamp: t0, Ambient: Celsius(20)}
	b.decorate(&s)
	assert.Equal(t, 31, s.AmbientCelsius())
	assert.False(t, s.Reed)
	assert.Equal(t, 1, sensor.calls)

	sensor.temp = Celsius(40)
	pin.L = gpio.Low
	s = Sample{Timestamp: t0.Add(500 * time.Millisecond)}
	b.decorate(&s)
	assert.Equal(t, 31, s.AmbientCelsius(), "sensor is read once per second")
	assert.True(t, s.Reed)
	assert.Equal(t, 1, sensor.calls)

	s = Sample{Timestamp: t0.Add(time.Second)}
	b.decorate(&s)
	assert.Equal(t, 40, s.AmbientCelsius())
}

func TestBoard_SensorFailureKeepsLastReading(t *testing.T) {
	sensor := &fakeSensor{temp: Celsius(22)}
	b := NewBoard(newChanFrontend(), sensor, nil, nil)

	t0 := time.Unix(100, 0)
	s := Sample{Timestamp: t0}
	b.decorate(&s)
	assert.Equal(t, 22, s.AmbientCelsius())

	sensor.err = errors.New("i2c nack")
	s = Sample{Timestamp: t0.Add(2 * time.Second), Reed: true}
	b.decorate(&s)
	assert.Equal(t, 22, s.AmbientCelsius())
	assert.True(t, s.Reed, "no reed pin keeps the front-end state")
}

func TestBoard_Forward(t *testing.T) {
	inner := newChanFrontend()
	b := NewBoard(inner, &fakeSensor{temp: Celsius(27)}, nil, nil)

	require.NoError(t, b.Connect())
	assert.True(t, b.IsConnected())
	assert.Error(t, b.Connect())

	require.NoError(t, b.SetOutputs(Outputs{Fan: 700}))
	assert.Equal(t, []Outputs{{Fan: 700}}, inner.out)

	inner.ch <- Sample{Timestamp: time.Unix(1, 0), IronTemp: 123}
	select {
	case s := <-b.Samples():
		assert.Equal(t, uint16(123), s.IronTemp)
		assert.Equal(t, 27, s.AmbientCelsius())
	case <-time.After(time.Second):
		t.Fatal("no decorated sample")
	}

	require.NoError(t, b.Close())
	assert.False(t, b.IsConnected())
	select {
	case _, ok := <-b.Samples():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("samples channel not closed")
	}
}
