// Package stat holds the integer smoothing primitives used by the control loop:
// an exponential moving average, a short exact sliding window and a hysteresis
// switch for debouncing analog presence signals.
package stat

// ExpAverage is a fixed-point exponential moving average. The accumulator holds
// the average scaled by the coefficient k, so Read returns round(acc/k).
type ExpAverage struct {
	k   int64
	acc int64
}

// NewExpAverage creates an average with coefficient k. k < 1 is treated as 1.
func NewExpAverage(k int) *ExpAverage {
	e := &ExpAverage{}
	e.Length(k)
	return e
}

// Length changes the coefficient and clears the accumulator.
func (e *ExpAverage) Length(k int) {
	if k < 1 {
		k = 1
	}
	e.k = int64(k)
	e.acc = 0
}

// Update feeds a new value: acc += x - round(acc/k).
func (e *ExpAverage) Update(x int32) {
	e.acc += int64(x) - e.round()
}

// Average updates the accumulator and returns the new average.
func (e *ExpAverage) Average(x int32) int32 {
	e.Update(x)
	return e.Read()
}

// Read returns round(acc/k).
func (e *ExpAverage) Read() int32 {
	return int32(e.round())
}

// Reset seeds the accumulator so that Read returns x.
func (e *ExpAverage) Reset(x int32) {
	e.acc = int64(x) * e.k
}

func (e *ExpAverage) round() int64 {
	return divRound(e.acc, e.k)
}

// SlidingWindow is a ring buffer that averages the last n values exactly.
// Until the window fills up, only the values seen so far are used.
type SlidingWindow struct {
	queue []int32
	size  int
	index int
}

// NewSlidingWindow creates a window holding at most maxLen values.
func NewSlidingWindow(maxLen int) *SlidingWindow {
	if maxLen < 1 {
		maxLen = 1
	}
	return &SlidingWindow{queue: make([]int32, maxLen)}
}

// Reset empties the window.
func (w *SlidingWindow) Reset() {
	w.size = 0
	w.index = 0
}

// Update appends x, replacing the oldest value once the window is full.
func (w *SlidingWindow) Update(x int32) {
	if w.size < len(w.queue) {
		w.queue[w.size] = x
		w.size++
		return
	}
	w.queue[w.index] = x
	w.index++
	if w.index >= len(w.queue) {
		w.index = 0
	}
}

// Len returns the number of values currently held.
func (w *SlidingWindow) Len() int { return w.size }

// Last returns the most recently added value, 0 for an empty window.
func (w *SlidingWindow) Last() int32 {
	if w.size == 0 {
		return 0
	}
	if w.size < len(w.queue) {
		return w.queue[w.size-1]
	}
	i := w.index - 1
	if i < 0 {
		i = len(w.queue) - 1
	}
	return w.queue[i]
}

// Average returns the rounded mean of the held values, 0 for an empty window.
func (w *SlidingWindow) Average() int32 {
	if w.size == 0 {
		return 0
	}
	var sum int64
	for _, v := range w.queue[:w.size] {
		sum += int64(v)
	}
	return int32(divRound(sum, int64(w.size)))
}

// Dispersion returns the mean squared deviation from the average.
// Fewer than 3 samples cannot be trusted, so a large value is returned.
func (w *SlidingWindow) Dispersion() int32 {
	if w.size < 3 {
		return UnsettledDispersion
	}
	avg := int64(w.Average())
	var sum int64
	for _, v := range w.queue[:w.size] {
		d := int64(v) - avg
		sum += d * d
	}
	return int32(divRound(sum, int64(w.size)))
}

// UnsettledDispersion is reported by a window that holds too few samples.
const UnsettledDispersion int32 = 1000

// HysteresisSwitch debounces a noisy analog reading into a boolean. The raw
// value is clamped to [off/2, on*3/2] before averaging and the state flips only
// when the average crosses the threshold opposite to the current state.
type HysteresisSwitch struct {
	avg     ExpAverage
	off     int32
	on      int32
	state   bool
	changed bool
}

// NewHysteresisSwitch creates a switch averaging over windowLen samples.
func NewHysteresisSwitch(windowLen int, off, on int32) *HysteresisSwitch {
	s := &HysteresisSwitch{}
	s.Init(windowLen, off, on)
	return s
}

// Init reconfigures the switch and resets it to the off state.
func (s *HysteresisSwitch) Init(windowLen int, off, on int32) {
	s.avg.Length(windowLen)
	s.off = off
	s.on = on
	s.state = false
	s.changed = false
}

// Update feeds a raw reading.
func (s *HysteresisSwitch) Update(raw int32) {
	if hi := s.on + s.on/2; raw > hi {
		raw = hi
	}
	if lo := s.off / 2; raw < lo {
		raw = lo
	}
	s.avg.Update(raw)
	a := s.avg.Read()
	if s.state {
		if a < s.off {
			s.state = false
			s.changed = true
		}
	} else if a > s.on {
		s.state = true
		s.changed = true
	}
}

// Status returns the debounced state.
func (s *HysteresisSwitch) Status() bool { return s.state }

// Changed reports whether the state flipped since the last call.
func (s *HysteresisSwitch) Changed() bool {
	c := s.changed
	s.changed = false
	return c
}

// Average exposes the clamped running average.
func (s *HysteresisSwitch) Average() int32 { return s.avg.Read() }

func divRound(a, b int64) int64 {
	if a >= 0 {
		return (a + b/2) / b
	}
	return -((-a + b/2) / b)
}
