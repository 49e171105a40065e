package scope

import (
	"fmt"
	"image/color"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
)

var (
	gridColor   = color.RGBA{R: 40, G: 40, B: 40, A: 255}
	labelColor  = color.RGBA{R: 150, G: 150, B: 150, A: 255}
	ironColor   = color.RGBA{R: 255, G: 165, B: 0, A: 255}
	gunColor    = color.RGBA{R: 100, G: 200, B: 255, A: 255}
	ironPreset  = color.RGBA{R: 120, G: 80, B: 0, A: 255}
	gunPreset   = color.RGBA{R: 40, G: 90, B: 120, A: 255}
	legendColor = color.RGBA{R: 200, G: 200, B: 200, A: 255}
)

// scopeRenderer renders the scope widget.
type scopeRenderer struct {
	scope *ScopeWidget

	grid    *canvas.Rectangle
	objects []fyne.CanvasObject

	lastSize fyne.Size
}

// plot is the drawing area inside the axis margins.
type plot struct {
	x, y, w, h float32
	yMin, yMax float64
	xMin, xMax time.Time
}

func (p plot) pos(t time.Time, v float64) fyne.Position {
	span := p.xMax.Sub(p.xMin).Seconds()
	x := p.x
	if span > 0 {
		x += float32(t.Sub(p.xMin).Seconds()/span) * p.w
	}
	y := p.y + p.h - float32((v-p.yMin)/(p.yMax-p.yMin))*p.h
	return fyne.NewPos(x, y)
}

// MinSize returns the minimum size of the widget.
func (r *scopeRenderer) MinSize() fyne.Size {
	return fyne.NewSize(400, 240)
}

// Layout arranges the widget components.
func (r *scopeRenderer) Layout(size fyne.Size) {
	r.grid.Resize(size)
	if r.lastSize != size {
		r.lastSize = size
		r.scope.BaseWidget.Refresh()
	}
}

// Refresh redraws the grid and the traces.
func (r *scopeRenderer) Refresh() {
	r.scope.mu.RLock()
	points := r.scope.points
	presets := r.scope.presets
	ironPower, gunPower := r.scope.ironPower, r.scope.gunPower
	p := plot{
		yMin: r.scope.yMin, yMax: r.scope.yMax,
		xMin: r.scope.xMin, xMax: r.scope.xMax,
	}
	r.scope.mu.RUnlock()

	size := r.scope.Size()
	if size.Width == 0 || size.Height == 0 || p.yMax <= p.yMin {
		return
	}

	r.objects = []fyne.CanvasObject{r.grid}

	const marginLeft, marginRight, marginTop, marginBottom = 60, 20, 20, 40
	p.x, p.y = marginLeft, marginTop
	p.w = size.Width - marginLeft - marginRight
	p.h = size.Height - marginTop - marginBottom

	r.drawGrid(p)
	if presets.Iron > 0 {
		r.drawPreset(p, float64(presets.Iron), ironPreset)
	}
	if presets.Gun > 0 {
		r.drawPreset(p, float64(presets.Gun), gunPreset)
	}
	if len(points) > 1 {
		r.drawTrace(p, points, func(pt point) float64 { return pt.iron }, ironColor)
		r.drawTrace(p, points, func(pt point) float64 { return pt.gun }, gunColor)
	}
	r.drawLegend(p, points, ironPower, gunPower)
}

func (r *scopeRenderer) drawGrid(p plot) {
	const numHLines, numVLines = 8, 10

	for i := range numHLines + 1 {
		y := p.y + float32(i)*p.h/numHLines
		r.line(fyne.NewPos(p.x, y), fyne.NewPos(p.x+p.w, y), gridColor, 1)

		value := p.yMax - float64(i)*(p.yMax-p.yMin)/numHLines
		text := canvas.NewText(fmt.Sprintf("%.0f°C", value), labelColor)
		text.TextSize = 10
		text.Alignment = fyne.TextAlignTrailing
		text.Move(fyne.NewPos(p.x-5, y-6))
		r.objects = append(r.objects, text)
	}

	span := p.xMax.Sub(p.xMin)
	for i := range numVLines + 1 {
		x := p.x + float32(i)*p.w/numVLines
		r.line(fyne.NewPos(x, p.y), fyne.NewPos(x, p.y+p.h), gridColor, 1)

		offset := span * time.Duration(i) / numVLines
		text := canvas.NewText(formatTime(offset), labelColor)
		text.TextSize = 10
		text.Alignment = fyne.TextAlignCenter
		text.Move(fyne.NewPos(x-20, p.y+p.h+5))
		r.objects = append(r.objects, text)
	}
}

func (r *scopeRenderer) drawPreset(p plot, v float64, c color.Color) {
	y := p.pos(p.xMin, v).Y
	r.line(fyne.NewPos(p.x, y), fyne.NewPos(p.x+p.w, y), c, 1)
}

func (r *scopeRenderer) drawTrace(p plot, points []point, value func(point) float64, c color.Color) {
	prev := p.pos(points[0].t, value(points[0]))
	for _, pt := range points[1:] {
		next := p.pos(pt.t, value(pt))
		r.line(prev, next, c, 1.5)
		prev = next
	}
}

func (r *scopeRenderer) drawLegend(p plot, points []point, ironPower, gunPower uint16) {
	iron, gun := "--", "--"
	if n := len(points); n > 0 {
		iron = fmt.Sprintf("%.0f°C", points[n-1].iron)
		gun = fmt.Sprintf("%.0f°C", points[n-1].gun)
	}
	entries := []struct {
		text string
		c    color.Color
	}{
		{fmt.Sprintf("iron %s  power %d", iron, ironPower), ironColor},
		{fmt.Sprintf("gun %s  power %d", gun, gunPower), gunColor},
	}
	for i, e := range entries {
		text := canvas.NewText(e.text, legendColor)
		text.Color = e.c
		text.TextSize = 11
		text.Move(fyne.NewPos(p.x+10, p.y+10+float32(i)*16))
		r.objects = append(r.objects, text)
	}
}

func (r *scopeRenderer) line(a, b fyne.Position, c color.Color, width float32) {
	l := canvas.NewLine(c)
	l.Position1 = a
	l.Position2 = b
	l.StrokeWidth = width
	r.objects = append(r.objects, l)
}

// Objects returns all canvas objects for rendering.
func (r *scopeRenderer) Objects() []fyne.CanvasObject {
	return r.objects
}

// Destroy cleans up resources.
func (r *scopeRenderer) Destroy() {}

func formatTime(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
}
