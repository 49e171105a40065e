package calib

// BuildCalibration repairs a manually captured table so that adjacent points
// are at least MinSeparation apart. The point at refPoint was just measured and
// anchors the repair: points to its right are pushed up, the last point is
// clamped to internalMax, then points are pushed down from the right end.
func BuildCalibration(tip [Points]uint16, refPoint int, internalMax uint16) [Points]uint16 {
	if refPoint < 0 {
		refPoint = 0
	} else if refPoint >= Points {
		refPoint = Points - 1
	}

	v := [Points]int32{}
	for i := range tip {
		v[i] = int32(tip[i])
	}

	for i := refPoint; i < Points-1; i++ {
		if v[i+1]-v[i] < MinSeparation {
			v[i+1] = v[i] + MinSeparation
		}
	}
	if v[Points-1] > int32(internalMax) {
		v[Points-1] = int32(internalMax)
	}
	for i := Points - 1; i > 0; i-- {
		if v[i]-v[i-1] < MinSeparation {
			t := v[i] - MinSeparation
			if t < 0 {
				t = 0
			}
			v[i-1] = t
		}
	}

	var out [Points]uint16
	for i := range v {
		out[i] = uint16(v[i])
	}
	return out
}
