package buffer

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/gazebridge/gazebridge/internal/tracker"
)

func TestSampleStoreCapacity(t *testing.T) {
	Convey("Given a store with capacity 5", t, func() {
		clock := clockwork.NewFakeClock()
		store := NewSampleStore(5, time.Minute, clock)

		Convey("When 10 samples with timestamps 0..9 are added", func() {
			for i := 0; i < 10; i++ {
				store.AddSample(tracker.Sample{DeviceTimestamp: float64(i)})
			}

			Convey("Then only the 5 most recent remain", func() {
				So(store.Size(), ShouldEqual, 5)

				samples := store.GetSamples(nil, nil)
				So(samples, ShouldHaveLength, 5)
				for i, s := range samples {
					So(s.DeviceTimestamp, ShouldEqual, float64(5+i))
				}
			})
		})
	})
}

func TestSampleStoreStamping(t *testing.T) {
	Convey("Given a store", t, func() {
		clock := clockwork.NewFakeClock()
		store := NewSampleStore(10, time.Minute, clock)

		Convey("When a sample is added", func() {
			stamped := store.AddSample(tracker.Sample{DeviceTimestamp: 100})

			Convey("Then the server timestamp is assigned from the clock", func() {
				want := float64(clock.Now().UnixNano()) / 1e6
				So(stamped.ServerTimestamp, ShouldEqual, want)

				latest, ok := store.GetLatestSample()
				So(ok, ShouldBeTrue)
				So(latest.ServerTimestamp, ShouldEqual, want)
			})
		})
	})
}

func TestSampleStoreTimeRangeQuery(t *testing.T) {
	Convey("Given a store holding timestamps 0..9", t, func() {
		clock := clockwork.NewFakeClock()
		store := NewSampleStore(100, time.Minute, clock)
		for i := 0; i < 10; i++ {
			store.AddSample(tracker.Sample{DeviceTimestamp: float64(i)})
		}

		Convey("When querying with both bounds", func() {
			start, end := 3.0, 6.0
			samples := store.GetSamples(&start, &end)

			Convey("Then only samples inside [start, end] return", func() {
				So(samples, ShouldHaveLength, 4)
				So(samples[0].DeviceTimestamp, ShouldEqual, 3.0)
				So(samples[3].DeviceTimestamp, ShouldEqual, 6.0)
			})
		})

		Convey("When querying with only a start bound", func() {
			start := 7.0
			So(store.GetSamples(&start, nil), ShouldHaveLength, 3)
		})

		Convey("When querying with only an end bound", func() {
			end := 2.0
			So(store.GetSamples(nil, &end), ShouldHaveLength, 3)
		})

		Convey("Then querying has no side effects", func() {
			start := 5.0
			store.GetSamples(&start, nil)
			So(store.Size(), ShouldEqual, 10)
		})
	})
}

func TestSampleStoreCleanup(t *testing.T) {
	Convey("Given a store with a 60s retention window", t, func() {
		clock := clockwork.NewFakeClock()
		store := NewSampleStore(100, time.Minute, clock)

		store.AddSample(tracker.Sample{DeviceTimestamp: 1})
		store.AddMarker(map[string]any{"label": "old"})

		clock.Advance(61 * time.Second)
		store.AddSample(tracker.Sample{DeviceTimestamp: 2})
		store.AddMarker(map[string]any{"label": "fresh"})

		Convey("When cleanup runs", func() {
			store.CleanupOldData()

			Convey("Then exactly the expired entries are removed", func() {
				So(store.Size(), ShouldEqual, 1)
				latest, ok := store.GetLatestSample()
				So(ok, ShouldBeTrue)
				So(latest.DeviceTimestamp, ShouldEqual, 2.0)

				markers := store.Markers()
				So(markers, ShouldHaveLength, 1)
				So(markers[0].Fields["label"], ShouldEqual, "fresh")
			})
		})

		Convey("When nothing has expired", func() {
			store.CleanupOldData()
			before := store.Size()
			store.CleanupOldData()
			So(store.Size(), ShouldEqual, before)
		})
	})
}

func TestDeviceClockOffset(t *testing.T) {
	Convey("Given an empty store", t, func() {
		clock := clockwork.NewFakeClock()
		store := NewSampleStore(100, time.Minute, clock)

		Convey("Then the offset estimate is unavailable", func() {
			So(store.DeviceClockOffset(), ShouldBeNil)
		})

		Convey("When every sample lags the server clock by exactly 50ms", func() {
			for i := 0; i < 20; i++ {
				now := float64(clock.Now().UnixNano()) / 1e6
				store.AddSample(tracker.Sample{DeviceTimestamp: now - 50})
				clock.Advance(10 * time.Millisecond)
			}

			Convey("Then the estimate is 50 with zero deviation", func() {
				est := store.DeviceClockOffset()
				So(est, ShouldNotBeNil)
				So(est.Offset, ShouldAlmostEqual, 50, 1e-9)
				So(est.StdDev, ShouldAlmostEqual, 0, 1e-9)
				So(est.Min, ShouldAlmostEqual, 50, 1e-9)
				So(est.Max, ShouldAlmostEqual, 50, 1e-9)
				So(est.SampleCount, ShouldEqual, 20)
			})
		})

		Convey("When offsets contain an outlier", func() {
			base := float64(clock.Now().UnixNano()) / 1e6
			for _, offset := range []float64{50, 50, 50, 50, 5000} {
				store.AddSample(tracker.Sample{DeviceTimestamp: base - offset})
			}

			Convey("Then the median resists it", func() {
				est := store.DeviceClockOffset()
				So(est.Offset, ShouldAlmostEqual, 50, 1e-9)
				So(est.Max, ShouldAlmostEqual, 5000, 1e-9)
			})
		})
	})
}

func TestOffsetWindowBound(t *testing.T) {
	Convey("Given more samples than the offset window holds", t, func() {
		clock := clockwork.NewFakeClock()
		store := NewSampleStore(1000, time.Minute, clock)
		for i := 0; i < 500; i++ {
			store.AddSample(tracker.Sample{DeviceTimestamp: 0})
		}

		Convey("Then the estimate uses at most the window size", func() {
			est := store.DeviceClockOffset()
			So(est.SampleCount, ShouldEqual, offsetWindowSize)
		})
	})
}

func TestStatistics(t *testing.T) {
	Convey("Given an empty store", t, func() {
		clock := clockwork.NewFakeClock()
		store := NewSampleStore(100, time.Minute, clock)

		Convey("Then statistics are zero", func() {
			So(store.Statistics(), ShouldResemble, Stats{})
		})

		Convey("When 11 samples span 100ms of device time", func() {
			for i := 0; i <= 10; i++ {
				store.AddSample(tracker.Sample{DeviceTimestamp: float64(i * 10)})
			}

			Convey("Then rate and span are derived from the timestamps", func() {
				stats := store.Statistics()
				So(stats.Size, ShouldEqual, 11)
				So(stats.DurationMs, ShouldEqual, 100.0)
				So(stats.SamplingRate, ShouldAlmostEqual, 110, 1e-9)
				So(stats.OldestTimestamp, ShouldEqual, 0.0)
				So(stats.NewestTimestamp, ShouldEqual, 100.0)
			})
		})
	})
}

func TestConcurrentAccess(t *testing.T) {
	Convey("Given one producer and several readers", t, func() {
		store := NewSampleStore(1000, time.Minute, clockwork.NewRealClock())

		var wg sync.WaitGroup
		wg.Add(4)

		go func() {
			defer wg.Done()
			for i := 0; i < 2000; i++ {
				store.AddSample(tracker.Sample{DeviceTimestamp: float64(i), X: math.NaN()})
			}
		}()
		for r := 0; r < 3; r++ {
			go func() {
				defer wg.Done()
				for i := 0; i < 500; i++ {
					store.GetSamples(nil, nil)
					store.GetLatestSample()
					store.DeviceClockOffset()
					store.CleanupOldData()
				}
			}()
		}
		wg.Wait()

		Convey("Then the store stays capacity-bounded", func() {
			So(store.Size(), ShouldBeLessThanOrEqualTo, 1000)
		})
	})
}

func TestClear(t *testing.T) {
	Convey("Given a populated store", t, func() {
		store := NewSampleStore(10, time.Minute, clockwork.NewFakeClock())
		store.AddSample(tracker.Sample{DeviceTimestamp: 1})
		store.AddMarker(map[string]any{"k": "v"})

		Convey("When cleared", func() {
			store.Clear()

			Convey("Then everything is gone", func() {
				So(store.Size(), ShouldEqual, 0)
				So(store.Markers(), ShouldBeEmpty)
				So(store.DeviceClockOffset(), ShouldBeNil)
			})
		})
	})
}
