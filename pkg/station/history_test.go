package station

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistory_Window(t *testing.T) {
	h := NewHistory(time.Second, 1, nil)
	now := time.Unix(100, 0)

	for i := range 20 {
		h.Add(Record{Timestamp: now.Add(time.Duration(i) * 100 * time.Millisecond), IronTemp: uint16(i)})
	}

	records := h.Records()
	require.Len(t, records, 10)
	assert.Equal(t, uint16(10), records[0].IronTemp)
	assert.Equal(t, uint16(19), records[9].IronTemp)

	h.Reset()
	assert.Empty(t, h.Records())
}

func TestHistory_Average(t *testing.T) {
	h := NewHistory(time.Minute, 4, nil)
	now := time.Unix(100, 0)

	for i := range 3 {
		h.Add(Record{Timestamp: now.Add(time.Duration(i) * time.Millisecond), IronTemp: 100})
	}
	assert.Empty(t, h.Records(), "partial group is held back")

	h.Add(Record{Timestamp: now.Add(3 * time.Millisecond), IronTemp: 102, GunPower: 3, Fan: 1200})
	records := h.Records()
	require.Len(t, records, 1)
	assert.Equal(t, now.Add(3*time.Millisecond), records[0].Timestamp)
	assert.Equal(t, uint16(101), records[0].IronTemp, "101 rounded half up")
	assert.Equal(t, uint16(1), records[0].GunPower)
	assert.Equal(t, uint16(300), records[0].Fan)
}

func TestHistory_Process(t *testing.T) {
	h := NewHistory(time.Minute, 1, nil)

	var calls int
	var last []Record
	h.OnUpdate(func(records []Record) {
		calls++
		last = records
	})

	in := make(chan Record, 3)
	now := time.Unix(100, 0)
	in <- Record{Timestamp: now, GunTemp: 1}
	in <- Record{Timestamp: now.Add(time.Second), GunTemp: 2}
	close(in)
	h.Process(in)

	assert.Equal(t, 2, calls)
	require.Len(t, last, 2)
	assert.Equal(t, uint16(2), last[1].GunTemp)

	// no notifications after the input closed
	h.Add(Record{Timestamp: now.Add(2 * time.Second)})
	assert.Equal(t, 2, calls)
	assert.Len(t, h.Records(), 3)
}

func TestDownsample_NoDownsampling(t *testing.T) {
	now := time.Now()
	records := []Record{
		{Timestamp: now, IronTemp: 1},
		{Timestamp: now.Add(100 * time.Millisecond), IronTemp: 2},
		{Timestamp: now.Add(200 * time.Millisecond), IronTemp: 3},
	}

	result := Downsample(nil, records, 10)
	assert.Equal(t, records, result)

	dst := make([]Record, 0, 10)
	result = Downsample(dst, records, 10)
	assert.Equal(t, records, result)
	assert.Equal(t, cap(dst), cap(result))
}

func TestDownsample_WithDownsampling(t *testing.T) {
	now := time.Now()
	records := make([]Record, 100)
	for i := range records {
		records[i] = Record{Timestamp: now.Add(time.Duration(i) * 10 * time.Millisecond), IronTemp: uint16(i)}
	}

	dst := make([]Record, 0, 20)
	result := Downsample(dst, records, 10)
	require.Len(t, result, 10)
	assert.Equal(t, records[0], result[0])
	assert.Equal(t, uint16(90), result[9].IronTemp)
	for i := 1; i < len(result); i++ {
		assert.True(t, result[i].Timestamp.After(result[i-1].Timestamp))
	}

	result = Downsample(nil, records, 7)
	assert.Len(t, result, 7)
}
