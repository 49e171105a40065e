// Package scope draws the temperature history of the iron and the gun.
package scope

import (
	"image/color"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/widget"

	"github.com/itohio/gostation/pkg/calib"
	"github.com/itohio/gostation/pkg/config"
	"github.com/itohio/gostation/pkg/station"
)

// Converter maps a raw reading of the device to Celsius.
type Converter func(d calib.Device, raw uint16) uint16

// point is one record as plotted.
type point struct {
	t         time.Time
	iron, gun float64 // Celsius
}

// Presets are the horizontal reference lines.
type Presets struct {
	Iron, Gun uint16 // Celsius, zero hides the line
}

// ScopeWidget is a Fyne widget that plots the iron and gun temperatures.
type ScopeWidget struct {
	widget.BaseWidget

	cfg     config.MonitorConfig
	convert Converter

	mu        sync.RWMutex
	display   []station.Record
	points    []point
	presets   Presets
	ironPower uint16
	gunPower  uint16

	yMin, yMax float64
	xMin, xMax time.Time
}

// New creates a new ScopeWidget.
func New(cfg config.MonitorConfig, convert Converter) *ScopeWidget {
	if cfg.MaxPoints <= 0 {
		cfg.MaxPoints = 600
	}
	s := &ScopeWidget{
		cfg:     cfg,
		convert: convert,
		display: make([]station.Record, 0, cfg.MaxPoints),
		points:  make([]point, 0, cfg.MaxPoints),
	}
	s.ExtendBaseWidget(s)
	s.Refresh()
	return s
}

// UpdateData replaces the plotted history. It must run on the Fyne thread,
// callers outside of it wrap the call in fyne.Do.
func (s *ScopeWidget) UpdateData(records []station.Record, presets Presets) {
	s.mu.Lock()
	s.display = station.Downsample(s.display, records, s.cfg.MaxPoints)
	s.points = toPoints(s.points, s.display, s.convert)
	s.presets = presets
	if n := len(records); n > 0 {
		s.ironPower = records[n-1].IronPower
		s.gunPower = records[n-1].GunPower
	}
	s.yMin, s.yMax, s.xMin, s.xMax = autoScale(s.points, presets, s.cfg.Window(), time.Now())
	s.mu.Unlock()

	s.Refresh()
}

// toPoints converts records to Celsius, reusing dst.
func toPoints(dst []point, records []station.Record, convert Converter) []point {
	dst = dst[:0]
	for _, r := range records {
		dst = append(dst, point{
			t:    r.Timestamp,
			iron: float64(convert(calib.Iron, r.IronTemp)),
			gun:  float64(convert(calib.Gun, r.GunTemp)),
		})
	}
	return dst
}

// autoScale returns the plotted ranges with a 10% margin on the temperature
// axis. The time axis spans at least the monitor window.
func autoScale(points []point, presets Presets, window time.Duration, now time.Time) (yMin, yMax float64, xMin, xMax time.Time) {
	if len(points) == 0 {
		return 0, 500, now, now.Add(window)
	}

	yMin, yMax = points[0].iron, points[0].iron
	grow := func(v float64) {
		yMin = min(yMin, v)
		yMax = max(yMax, v)
	}
	for _, p := range points {
		grow(p.iron)
		grow(p.gun)
	}
	if presets.Iron > 0 {
		grow(float64(presets.Iron))
	}
	if presets.Gun > 0 {
		grow(float64(presets.Gun))
	}

	span := yMax - yMin
	if span == 0 {
		span = 10
	}
	yMin -= span * 0.1
	yMax += span * 0.1
	if yMin < 0 {
		yMin = 0
	}

	xMin = points[0].t
	xMax = points[len(points)-1].t
	if xMax.Sub(xMin) < window {
		xMax = xMin.Add(window)
	}
	return yMin, yMax, xMin, xMax
}

// CreateRenderer creates the widget renderer.
func (s *ScopeWidget) CreateRenderer() fyne.WidgetRenderer {
	grid := canvas.NewRectangle(color.RGBA{R: 20, G: 20, B: 20, A: 255})
	return &scopeRenderer{
		scope:   s,
		grid:    grid,
		objects: []fyne.CanvasObject{grid},
	}
}
