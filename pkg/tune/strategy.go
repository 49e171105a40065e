package tune

import (
	"time"

	"github.com/chewxy/math32"

	"github.com/itohio/gostation/pkg/pid"
)

// Strategy turns the relay oscillation into controller coefficients.
// deltaPower is the relay amplitude in power units, diff is alpha²-epsilon²
// of the temperature oscillation and period its duration.
type Strategy interface {
	Coefficients(deltaPower, diff float32, period time.Duration) (pid.Params, bool)
}

// ZieglerNichols estimates the ultimate gain with the Astrom-Hagglund relay
// formula corrected for the relay hysteresis and applies the classic
// Ziegler-Nichols PID rule.
type ZieglerNichols struct{}

func (ZieglerNichols) Coefficients(deltaPower, diff float32, period time.Duration) (pid.Params, bool) {
	tu := float32(period.Seconds())
	if deltaPower <= 0 || diff <= 0 || tu <= 0 {
		return pid.Params{}, false
	}
	ku := 4 * deltaPower / (math32.Pi * math32.Sqrt(diff))
	kp := 0.6 * ku
	ki := kp / (0.5 * tu)
	kd := kp * 0.125 * tu

	p := pid.Params{Kp: scaled(kp), Ki: scaled(ki), Kd: scaled(kd)}
	return p, p.Valid()
}

func scaled(v float32) uint16 {
	v = math32.Round(v * pid.Scale)
	if v < 0 {
		return 0
	}
	if v > 0xFFFF {
		return 0xFFFF
	}
	return uint16(v)
}
