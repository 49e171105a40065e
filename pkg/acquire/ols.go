package acquire

import (
	"github.com/chewxy/math32"

	"github.com/itohio/gostation/pkg/calib"
)

// Point is one accepted calibration sample.
type Point struct {
	Internal uint16 // settled raw reading
	Real     uint16 // Celsius reported by the operator
}

// fitLine fits internal = a*real + b by ordinary least squares.
func fitLine(points []Point) (a, b float32, ok bool) {
	n := float32(len(points))
	if len(points) < 2 {
		return 0, 0, false
	}
	var sx, sy, sxx, sxy float32
	for _, p := range points {
		x, y := float32(p.Real), float32(p.Internal)
		sx += x
		sy += y
		sxx += x * x
		sxy += x * y
	}
	den := n*sxx - sx*sx
	if math32.Abs(den) < 1e-6 {
		return 0, 0, false
	}
	a = (n*sxy - sx*sy) / den
	b = (sy - a*sx) / n
	return a, b, true
}

// lineTable evaluates the line at the reference temperatures of d. It fails
// when the result is not strictly increasing inside [0, internalMax].
func lineTable(a, b float32, d calib.Device, internalMax uint16) ([calib.Points]uint16, bool) {
	var tab [calib.Points]uint16
	if a <= 0 {
		return tab, false
	}
	for i := range tab {
		v := math32.Round(a*float32(calib.ReferenceTemp(d, i)) + b)
		if v < 0 || v > float32(internalMax) {
			return tab, false
		}
		tab[i] = uint16(v)
		if i > 0 && tab[i] <= tab[i-1] {
			return tab, false
		}
	}
	return tab, true
}
