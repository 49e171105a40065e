package scope

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/gostation/pkg/calib"
	"github.com/itohio/gostation/pkg/station"
)

func TestToPoints(t *testing.T) {
	now := time.Unix(100, 0)
	records := []station.Record{
		{Timestamp: now, IronTemp: 1000, GunTemp: 500},
		{Timestamp: now.Add(time.Second), IronTemp: 2000, GunTemp: 700},
	}
	convert := func(d calib.Device, raw uint16) uint16 {
		if d == calib.Gun {
			return raw / 2
		}
		return raw / 10
	}

	dst := make([]point, 0, 4)
	pts := toPoints(dst, records, convert)
	require.Len(t, pts, 2)
	assert.Equal(t, point{t: now, iron: 100, gun: 250}, pts[0])
	assert.Equal(t, point{t: now.Add(time.Second), iron: 200, gun: 350}, pts[1])
	assert.Equal(t, cap(dst), cap(pts))
}

func TestAutoScale_Empty(t *testing.T) {
	now := time.Unix(100, 0)
	yMin, yMax, xMin, xMax := autoScale(nil, Presets{}, time.Minute, now)
	assert.Equal(t, 0.0, yMin)
	assert.Equal(t, 500.0, yMax)
	assert.Equal(t, now, xMin)
	assert.Equal(t, now.Add(time.Minute), xMax)
}

func TestAutoScale(t *testing.T) {
	now := time.Unix(100, 0)
	points := []point{
		{t: now, iron: 200, gun: 100},
		{t: now.Add(10 * time.Second), iron: 300, gun: 150},
	}

	yMin, yMax, xMin, xMax := autoScale(points, Presets{}, time.Second, now)
	assert.InDelta(t, 80, yMin, 1e-9)
	assert.InDelta(t, 320, yMax, 1e-9)
	assert.Equal(t, now, xMin)
	assert.Equal(t, now.Add(10*time.Second), xMax)

	// presets widen the range, the window stretches the time axis
	yMin, yMax, _, xMax = autoScale(points, Presets{Iron: 400}, time.Minute, now)
	assert.InDelta(t, 70, yMin, 1e-9)
	assert.InDelta(t, 430, yMax, 1e-9)
	assert.Equal(t, now.Add(time.Minute), xMax)
}

func TestAutoScale_Flat(t *testing.T) {
	now := time.Unix(100, 0)
	points := []point{{t: now, iron: 25, gun: 25}}
	yMin, yMax, _, _ := autoScale(points, Presets{}, time.Minute, now)
	assert.InDelta(t, 24, yMin, 1e-9)
	assert.InDelta(t, 26, yMax, 1e-9)
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "0s", formatTime(0))
	assert.Equal(t, "12s", formatTime(12*time.Second))
	assert.Equal(t, "2m05s", formatTime(125*time.Second))
}
