package station

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Record is one control tick as seen by the monitor. Temperatures are the
// smoothed raw readings, the front panel maps them to Celsius.
type Record struct {
	Timestamp time.Time
	IronTemp  uint16
	GunTemp   uint16
	IronPower uint16
	GunPower  uint16
	Fan       uint16
}

// History keeps the records of a sliding time window and notifies listeners
// on every update. Records are ordered oldest first.
type History struct {
	window  time.Duration
	average int
	log     *zap.SugaredLogger

	mu       sync.RWMutex
	records  []Record
	pending  []Record
	shutdown bool

	cbMu      sync.RWMutex
	callbacks []func(records []Record)
}

// NewHistory creates a history of the given window. average > 1 folds that
// many consecutive records into one.
func NewHistory(window time.Duration, average int, log *zap.SugaredLogger) *History {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if average < 1 {
		average = 1
	}
	return &History{window: window, average: average, log: log}
}

// Process consumes records until the input channel closes.
func (h *History) Process(input <-chan Record) {
	for r := range input {
		h.Add(r)
	}
	h.mu.Lock()
	h.shutdown = true
	h.mu.Unlock()
	h.log.Debug("history input closed")
}

// Add appends a record, drops the ones that left the window and notifies the
// listeners.
func (h *History) Add(r Record) {
	h.mu.Lock()
	h.pending = append(h.pending, r)
	if len(h.pending) < h.average {
		h.mu.Unlock()
		return
	}
	r = averageRecords(h.pending)
	h.pending = h.pending[:0]

	h.records = append(h.records, r)
	cutoff := r.Timestamp.Add(-h.window)
	drop := 0
	for drop < len(h.records) && !h.records[drop].Timestamp.After(cutoff) {
		drop++
	}
	if drop > 0 {
		h.records = append(h.records[:0], h.records[drop:]...)
	}
	notify := !h.shutdown
	h.mu.Unlock()

	if notify {
		h.notifyCallbacks()
	}
}

// Records returns a copy of the current window.
func (h *History) Records() []Record {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make([]Record, len(h.records))
	copy(result, h.records)
	return result
}

// Reset clears the window.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = h.records[:0]
	h.pending = h.pending[:0]
	h.shutdown = false
}

// OnUpdate registers a callback invoked with a copy of the window after every
// update. The callback should return quickly.
func (h *History) OnUpdate(callback func(records []Record)) {
	h.cbMu.Lock()
	defer h.cbMu.Unlock()
	h.callbacks = append(h.callbacks, callback)
}

func (h *History) notifyCallbacks() {
	records := h.Records()

	h.cbMu.RLock()
	callbacks := make([]func([]Record), len(h.callbacks))
	copy(callbacks, h.callbacks)
	h.cbMu.RUnlock()

	for _, cb := range callbacks {
		if cb != nil {
			cb(records)
		}
	}
}

// averageRecords folds records into one stamped with the latest timestamp.
func averageRecords(records []Record) Record {
	last := records[len(records)-1]
	if len(records) == 1 {
		return last
	}
	var it, gt, ip, gp, fan uint32
	for _, r := range records {
		it += uint32(r.IronTemp)
		gt += uint32(r.GunTemp)
		ip += uint32(r.IronPower)
		gp += uint32(r.GunPower)
		fan += uint32(r.Fan)
	}
	n := uint32(len(records))
	return Record{
		Timestamp: last.Timestamp,
		IronTemp:  uint16((it + n/2) / n),
		GunTemp:   uint16((gt + n/2) / n),
		IronPower: uint16((ip + n/2) / n),
		GunPower:  uint16((gp + n/2) / n),
		Fan:       uint16((fan + n/2) / n),
	}
}

// Downsample decimates records to at most maxPoints for display. dst is reused
// when it has the capacity.
func Downsample(dst []Record, records []Record, maxPoints int) []Record {
	if len(records) <= maxPoints {
		if cap(dst) >= len(records) {
			dst = dst[:len(records)]
		} else {
			dst = make([]Record, len(records))
		}
		copy(dst, records)
		return dst
	}

	if cap(dst) >= maxPoints {
		dst = dst[:0]
	} else {
		dst = make([]Record, 0, maxPoints)
	}

	step := float64(len(records)) / float64(maxPoints)
	for i := range maxPoints {
		idx := int(float64(i) * step)
		if idx < len(records) {
			dst = append(dst, records[idx])
		}
	}
	return dst
}
