package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestManagerRecording(t *testing.T) {
	Convey("Given a manager on its own registry", t, func() {
		registry := prometheus.NewRegistry()
		m := NewManager(WithRegistry(registry))
		prev := defaultManager
		SetDefault(m)
		defer SetDefault(prev)

		Convey("When events are recorded", func() {
			RecordSampleIngested()
			RecordSampleIngested()
			RecordMarker()
			RecordFrameDropped()
			RecordMessage("time_sync")
			RecordMessage("time_sync")
			RecordMessage("marker")
			RecordProtocolError()
			RecordValidationSession()

			Convey("Then the counters hold the event counts", func() {
				So(testutil.ToFloat64(m.samplesIngested), ShouldEqual, 2)
				So(testutil.ToFloat64(m.markersRecorded), ShouldEqual, 1)
				So(testutil.ToFloat64(m.framesDropped), ShouldEqual, 1)
				So(testutil.ToFloat64(m.messagesProcessed.WithLabelValues("time_sync")), ShouldEqual, 2)
				So(testutil.ToFloat64(m.messagesProcessed.WithLabelValues("marker")), ShouldEqual, 1)
				So(testutil.ToFloat64(m.protocolErrors), ShouldEqual, 1)
				So(testutil.ToFloat64(m.validationSessions), ShouldEqual, 1)
			})
		})

		Convey("When gauges are updated", func() {
			UpdateActiveConnections(4)
			UpdateStreamingClients(2)
			UpdateCalibrationActive(true)

			Convey("Then they hold the latest values", func() {
				So(testutil.ToFloat64(m.activeConnections), ShouldEqual, 4)
				So(testutil.ToFloat64(m.streamingClients), ShouldEqual, 2)
				So(testutil.ToFloat64(m.calibrationActive), ShouldEqual, 1)

				UpdateCalibrationActive(false)
				So(testutil.ToFloat64(m.calibrationActive), ShouldEqual, 0)
			})
		})
	})
}

func TestManagerOptions(t *testing.T) {
	Convey("Given option overrides", t, func() {
		Convey("Then namespace and subsystem flow into metric names", func() {
			registry := prometheus.NewRegistry()
			m := NewManager(
				WithRegistry(registry),
				WithNamespace("lab"),
				WithSubsystem("gaze"),
			)
			m.samplesIngested.Inc()

			count, err := testutil.GatherAndCount(registry, "lab_gaze_samples_ingested_total")
			So(err, ShouldBeNil)
			So(count, ShouldEqual, 1)
		})

		Convey("Then empty overrides keep the defaults", func() {
			m := NewManager(WithRegistry(prometheus.NewRegistry()), WithNamespace(""))
			So(m.namespace, ShouldEqual, "gazebridge")
		})
	})
}

func TestDisabledManager(t *testing.T) {
	Convey("Given a disabled manager as default", t, func() {
		m := NewManager(WithRegistry(prometheus.NewRegistry()), WithEnabled(false))
		prev := defaultManager
		SetDefault(m)
		defer SetDefault(prev)

		Convey("Then recording is a no-op and never panics", func() {
			So(func() {
				RecordSampleIngested()
				RecordMessage("marker")
				UpdateActiveConnections(9)
				UpdateCalibrationActive(true)
			}, ShouldNotPanic)
			So(testutil.ToFloat64(m.samplesIngested), ShouldEqual, 0)
			So(testutil.ToFloat64(m.activeConnections), ShouldEqual, 0)
		})
	})
}
