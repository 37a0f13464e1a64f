package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with a private registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("unit"),
				WithHistogramBuckets([]float64{1, 10, 100}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then collectors are registered on it", func() {
				So(manager, ShouldNotBeNil)
				manager.runsTotal.WithLabelValues("scheduled", "SUCCESS").Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				So(len(families), ShouldBeGreaterThan, 0)
				So(families[0].GetName(), ShouldStartWith, "test_unit_")
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When recording a run", func() {
			before := testutil.ToFloat64(globalManager.runsTotal.WithLabelValues("completed", "PARTIAL_SUCCESS"))
			RecordRun("completed", "PARTIAL_SUCCESS", 120)

			Convey("Then the counter moves by one", func() {
				after := testutil.ToFloat64(globalManager.runsTotal.WithLabelValues("completed", "PARTIAL_SUCCESS"))
				So(after-before, ShouldEqual, 1)
			})
		})

		Convey("When updating breaker state", func() {
			UpdateBreakerState("calendar", "open", 2)

			Convey("Then the gauge reflects it", func() {
				So(testutil.ToFloat64(globalManager.breakerState.WithLabelValues("calendar")), ShouldEqual, 2)
			})
		})

		Convey("When moving pool in-flight count", func() {
			AddPoolInFlight("scheduled", 3)
			AddPoolInFlight("scheduled", -3)

			Convey("Then it returns to zero", func() {
				So(testutil.ToFloat64(globalManager.poolInFlight.WithLabelValues("scheduled")), ShouldEqual, 0)
			})
		})

		Convey("Then the remaining recorders do not panic", func() {
			So(func() {
				RecordUsers("scheduled", "success", 3)
				RecordMeetingsFetched("scheduled", 10)
				RecordMeetingsPersisted("scheduled", 9)
				RecordMeetingDuplicates("scheduled", 1)
				RecordPublish("success")
				RecordFetchAttempt("calendar", "success", 12)
				RecordFetchRetry("calendar")
				RecordFallback("scheduled", "cache")
				RecordStageLatency("attach_invitees", 4)
				RecordEnrichmentError("attach_invitees")
				RecordHTTPRequest("batch_scheduled", "POST", "200")
				RecordHTTPRequestDuration("batch_scheduled", "POST", "200", 30)
				UpdateLastRunTimestamp("scheduled", 1700000000)
			}, ShouldNotPanic)
			So(GetRegistry(), ShouldNotBeNil)
		})
	})
}
