// Package acquire collects tip calibration data. Auto drives the iron through
// a series of targets and fits a line to the temperatures reported by the
// operator, Manual captures the four reference points one by one. Both are
// cooperative state machines advanced by Poll from the foreground loop.
package acquire

import (
	"errors"
	"time"

	"github.com/itohio/gostation/pkg/calib"
	"github.com/itohio/gostation/pkg/unit"
)

var (
	ErrNotReady   = errors.New("temperature not settled")
	ErrTimeout    = errors.New("phase timeout")
	ErrCeiling    = errors.New("safety ceiling exceeded")
	ErrNoFit      = errors.New("not enough trusted points")
	ErrCanceled   = errors.New("calibration canceled")
	ErrBadIndex   = errors.New("reference index out of range")
	ErrNoPoints   = errors.New("no points accepted")
	ErrNotRunning = errors.New("calibration not running")
)

// Phase is the state of an acquisition.
type Phase int

const (
	Idle Phase = iota
	Heating
	Cooling
	HeatingAgain
	Ready
	Done
	Failed
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Heating:
		return "heating"
	case Cooling:
		return "cooling"
	case HeatingAgain:
		return "heating_again"
	case Ready:
		return "ready"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// TipSaver persists a calibrated tip. store.TipStore implements it.
type TipSaver interface {
	Save(name string, tip calib.TipCalibration) error
}

// Criteria decide when a heater holds its preset.
type Criteria struct {
	Tolerance       uint16 // internal units around the preset
	TempDispersion  uint32
	PowerDispersion uint32
}

func inBand(dev unit.Device, target uint16, tol uint16) bool {
	d := int(dev.AverageTemp()) - int(target)
	if d < 0 {
		d = -d
	}
	return d <= int(tol)
}

// stable reports whether the device holds target with settled temperature and
// power while still drawing power.
func (c Criteria) stable(dev unit.Device, target uint16) bool {
	return inBand(dev, target, c.Tolerance) &&
		dev.TempDispersion() <= c.TempDispersion &&
		dev.PowerDispersion() <= c.PowerDispersion &&
		dev.AveragePower() > 0
}

// settler measures for how long a condition held without interruption.
type settler struct {
	ok    bool
	since time.Time
}

func (s *settler) update(cond bool, now time.Time) time.Duration {
	if !cond {
		s.ok = false
		return 0
	}
	if !s.ok {
		s.ok = true
		s.since = now
	}
	return now.Sub(s.since)
}

func (s *settler) reset() { s.ok = false }
