// Package buffer holds the bounded in-memory history of gaze samples and
// out-of-band markers shared by all connections.
package buffer

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/gazebridge/gazebridge/internal/tracker"
)

// offsetWindowSize bounds the secondary window used only for device-clock
// offset estimation.
const offsetWindowSize = 200

// Marker is a client-supplied annotation stamped with the server clock.
type Marker struct {
	Fields          map[string]any
	ServerTimestamp float64
}

// OffsetEstimate describes the additive constant relating the device clock
// to the server clock: serverTimestamp = deviceTimestamp + Offset.
type OffsetEstimate struct {
	Offset      float64
	SampleCount int
	StdDev      float64
	Min         float64
	Max         float64
}

// Stats summarizes the buffered samples. DurationMs spans device timestamps.
type Stats struct {
	Size            int
	SamplingRate    float64
	DurationMs      float64
	OldestTimestamp float64
	NewestTimestamp float64
}

// SampleStore is a thread-safe ring buffer of samples plus a marker list.
// Eviction is capacity-bounded on append and duration-bounded by the
// periodic CleanupOldData pass. Safe for one producer goroutine and many
// concurrent readers.
type SampleStore struct {
	mu          sync.Mutex
	clock       clockwork.Clock
	capacity    int
	maxDuration time.Duration

	samples []tracker.Sample // ring storage, len == capacity
	start   int
	count   int

	offsets     []float64 // ring storage, len == offsetWindowSize
	offsetStart int
	offsetCount int

	markers []Marker
}

// NewSampleStore creates a store keeping at most capacity samples and
// discarding anything older than maxDuration on cleanup.
func NewSampleStore(capacity int, maxDuration time.Duration, clock clockwork.Clock) *SampleStore {
	return &SampleStore{
		clock:       clock,
		capacity:    capacity,
		maxDuration: maxDuration,
		samples:     make([]tracker.Sample, capacity),
		offsets:     make([]float64, offsetWindowSize),
	}
}

func (s *SampleStore) nowMillis() float64 {
	return float64(s.clock.Now().UnixNano()) / 1e6
}

// AddSample stamps the sample with the server clock, appends it (evicting
// the oldest at capacity), records the clock offset, and returns the
// stamped sample.
func (s *SampleStore) AddSample(sample tracker.Sample) tracker.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()

	sample.ServerTimestamp = s.nowMillis()

	if s.count == s.capacity {
		s.start = (s.start + 1) % s.capacity
		s.count--
	}
	s.samples[(s.start+s.count)%s.capacity] = sample
	s.count++

	if s.offsetCount == offsetWindowSize {
		s.offsetStart = (s.offsetStart + 1) % offsetWindowSize
		s.offsetCount--
	}
	s.offsets[(s.offsetStart+s.offsetCount)%offsetWindowSize] = sample.ServerTimestamp - sample.DeviceTimestamp
	s.offsetCount++

	return sample
}

// AddMarker stamps and stores an arbitrary client annotation.
func (s *SampleStore) AddMarker(fields map[string]any) Marker {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := Marker{Fields: fields, ServerTimestamp: s.nowMillis()}
	s.markers = append(s.markers, m)
	return m
}

// GetSamples returns buffered samples whose device timestamp lies within
// [startTime, endTime]; either bound may be nil. Pure filtering, oldest
// first, no side effects.
func (s *SampleStore) GetSamples(startTime, endTime *float64) []tracker.Sample {
	snapshot := s.snapshot()

	out := make([]tracker.Sample, 0, len(snapshot))
	for _, sample := range snapshot {
		if startTime != nil && sample.DeviceTimestamp < *startTime {
			continue
		}
		if endTime != nil && sample.DeviceTimestamp > *endTime {
			continue
		}
		out = append(out, sample)
	}
	return out
}

// GetLatestSample returns the most recent sample, if any.
func (s *SampleStore) GetLatestSample() (tracker.Sample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == 0 {
		return tracker.Sample{}, false
	}
	return s.samples[(s.start+s.count-1)%s.capacity], true
}

// Markers returns a copy of the stored markers, oldest first.
func (s *SampleStore) Markers() []Marker {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Marker, len(s.markers))
	copy(out, s.markers)
	return out
}

// CleanupOldData drops samples and markers whose server timestamp is older
// than now minus the configured duration. Runs on a fixed interval,
// independent of capacity eviction.
func (s *SampleStore) CleanupOldData() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.nowMillis() - float64(s.maxDuration.Milliseconds())

	for s.count > 0 && s.samples[s.start].ServerTimestamp < cutoff {
		s.start = (s.start + 1) % s.capacity
		s.count--
	}

	kept := s.markers[:0]
	for _, m := range s.markers {
		if m.ServerTimestamp >= cutoff {
			kept = append(kept, m)
		}
	}
	s.markers = kept
}

// Size returns the number of buffered samples.
func (s *SampleStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Clear drops all samples, markers, and offset history.
func (s *SampleStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.start, s.count = 0, 0
	s.offsetStart, s.offsetCount = 0, 0
	s.markers = nil
}

// DeviceClockOffset estimates the device-to-server clock offset over the
// recent window. The median resists outliers from scheduling jitter; the
// standard deviation is taken around the mean. Returns nil when the window
// is empty.
func (s *SampleStore) DeviceClockOffset() *OffsetEstimate {
	s.mu.Lock()
	offsets := make([]float64, s.offsetCount)
	for i := 0; i < s.offsetCount; i++ {
		offsets[i] = s.offsets[(s.offsetStart+i)%offsetWindowSize]
	}
	s.mu.Unlock()

	n := len(offsets)
	if n == 0 {
		return nil
	}
	sort.Float64s(offsets)

	var median float64
	if n%2 == 1 {
		median = offsets[n/2]
	} else {
		median = (offsets[n/2-1] + offsets[n/2]) / 2
	}

	var sum float64
	for _, v := range offsets {
		sum += v
	}
	mean := sum / float64(n)

	var variance float64
	for _, v := range offsets {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(n)

	return &OffsetEstimate{
		Offset:      median,
		SampleCount: n,
		StdDev:      math.Sqrt(variance),
		Min:         offsets[0],
		Max:         offsets[n-1],
	}
}

// Statistics reports size, effective sampling rate, and the device
// timestamp span of the buffered samples.
func (s *SampleStore) Statistics() Stats {
	snapshot := s.snapshot()
	if len(snapshot) == 0 {
		return Stats{}
	}

	oldest, newest := snapshot[0].DeviceTimestamp, snapshot[0].DeviceTimestamp
	for _, sample := range snapshot[1:] {
		if sample.DeviceTimestamp < oldest {
			oldest = sample.DeviceTimestamp
		}
		if sample.DeviceTimestamp > newest {
			newest = sample.DeviceTimestamp
		}
	}

	duration := newest - oldest
	var rate float64
	if duration > 0 {
		rate = float64(len(snapshot)) / (duration / 1000)
	}

	return Stats{
		Size:            len(snapshot),
		SamplingRate:    rate,
		DurationMs:      duration,
		OldestTimestamp: oldest,
		NewestTimestamp: newest,
	}
}

// snapshot copies the buffered samples in insertion order under the lock.
func (s *SampleStore) snapshot() []tracker.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]tracker.Sample, s.count)
	for i := 0; i < s.count; i++ {
		out[i] = s.samples[(s.start+i)%s.capacity]
	}
	return out
}
