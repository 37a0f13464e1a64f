package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/adapters/http/api"
	service "github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/app"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/domain/model"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

type mockService struct {
	meetings []model.EnrichedMeeting
	runErr   error
	last     *model.BatchRun
	lastErr  error
	kinds    []model.Kind
}

func (m *mockService) Run(_ context.Context, kind model.Kind) ([]model.EnrichedMeeting, *model.BatchRun, error) {
	m.kinds = append(m.kinds, kind)
	if m.runErr != nil {
		return nil, nil, m.runErr
	}
	return m.meetings, model.NewBatchRun(1, kind, m.last.StartTime), nil
}

func (m *mockService) LastRun(_ context.Context, kind model.Kind) (*model.BatchRun, error) {
	if m.lastErr != nil {
		return nil, m.lastErr
	}
	return m.last, nil
}

func (m *mockService) GetStats(context.Context) map[string]interface{} {
	return map[string]interface{}{"started": true, "batchSize": 10}
}

func newMux(svc *mockService) *http.ServeMux {
	mux := http.NewServeMux()
	api.NewServer(svc, svc, logger.Discard()).Register(mux)
	return mux
}

func do(mux http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestBatchEndpoints(t *testing.T) {
	Convey("Given the API over a mock service", t, func() {
		svc := &mockService{
			meetings: []model.EnrichedMeeting{{ID: "m1", Summary: "retro", MeetingType: model.TypeSingleInstance}},
			last:     model.NewBatchRun(42, model.KindScheduled, testStart),
		}
		mux := newMux(svc)

		Convey("When triggering a scheduled run", func() {
			rec := do(mux, http.MethodPost, "/batch/scheduled")

			Convey("Then the meetings are returned", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				So(rec.Header().Get("Content-Type"), ShouldContainSubstring, "application/json")
				var body []map[string]interface{}
				So(json.Unmarshal(rec.Body.Bytes(), &body), ShouldBeNil)
				So(len(body), ShouldEqual, 1)
				So(body[0]["id"], ShouldEqual, "m1")
				So(svc.kinds, ShouldResemble, []model.Kind{model.KindScheduled})
			})
		})

		Convey("When triggering a completed run with no meetings", func() {
			svc.meetings = nil
			rec := do(mux, http.MethodPost, "/batch/completed")

			Convey("Then an empty JSON list is returned", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				So(strings.TrimSpace(rec.Body.String()), ShouldEqual, "[]")
				So(svc.kinds, ShouldResemble, []model.Kind{model.KindCompleted})
			})
		})

		Convey("When a run of the kind is already executing", func() {
			svc.runErr = fmt.Errorf("%w: scheduled", service.ErrRunInProgress)
			rec := do(mux, http.MethodPost, "/batch/scheduled")

			Convey("Then 409 is returned", func() {
				So(rec.Code, ShouldEqual, http.StatusConflict)
				So(rec.Body.String(), ShouldContainSubstring, "run_in_progress")
			})
		})

		Convey("When the run fails", func() {
			svc.runErr = errors.New("persistence error: deadlock")
			rec := do(mux, http.MethodPost, "/batch/completed")

			Convey("Then 500 with an empty list is returned", func() {
				So(rec.Code, ShouldEqual, http.StatusInternalServerError)
				So(strings.TrimSpace(rec.Body.String()), ShouldEqual, "[]")
			})
		})

		Convey("When using the wrong method", func() {
			rec := do(mux, http.MethodGet, "/batch/scheduled")
			So(rec.Code, ShouldEqual, http.StatusMethodNotAllowed)
			So(svc.kinds, ShouldBeEmpty)
		})
	})
}

func TestRunsEndpoint(t *testing.T) {
	Convey("Given the API over a mock service", t, func() {
		run := model.NewBatchRun(42, model.KindCompleted, testStart)
		run.Status = model.StatusPartialSuccess
		svc := &mockService{last: run}
		mux := newMux(svc)

		Convey("When asking for the last completed run", func() {
			rec := do(mux, http.MethodGet, "/runs/completed/last")

			Convey("Then the run record is returned", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				var body map[string]interface{}
				So(json.Unmarshal(rec.Body.Bytes(), &body), ShouldBeNil)
				So(body["id"], ShouldEqual, float64(42))
				So(body["status"], ShouldEqual, "PARTIAL_SUCCESS")
				So(body["batchName"], ShouldEqual, "completed-meetings-batch")
			})
		})

		Convey("When the kind is unknown", func() {
			rec := do(mux, http.MethodGet, "/runs/weekly/last")
			So(rec.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When no run exists yet", func() {
			svc.lastErr = model.ErrRunNotFound
			rec := do(mux, http.MethodGet, "/runs/scheduled/last")
			So(rec.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("When the store fails", func() {
			svc.lastErr = errors.New("connection reset")
			rec := do(mux, http.MethodGet, "/runs/scheduled/last")
			So(rec.Code, ShouldEqual, http.StatusInternalServerError)
		})
	})
}

func TestOperationalEndpoints(t *testing.T) {
	Convey("Given the API", t, func() {
		svc := &mockService{last: model.NewBatchRun(1, model.KindScheduled, testStart)}
		mux := newMux(svc)

		Convey("Health reports ok", func() {
			rec := do(mux, http.MethodGet, "/healthz")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Body.String(), ShouldContainSubstring, `"status":"ok"`)
		})

		Convey("Stats come from the provider", func() {
			rec := do(mux, http.MethodGet, "/stats")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Body.String(), ShouldContainSubstring, `"batchSize":10`)
		})

		Convey("Metrics expose the service registry", func() {
			_ = do(mux, http.MethodGet, "/healthz")
			rec := do(mux, http.MethodGet, "/metrics")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Body.String(), ShouldContainSubstring, "meetsync_batch_http_requests_total")
		})
	})
}

var testStart = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
