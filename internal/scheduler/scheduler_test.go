package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/domain/model"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

type recordingRunner struct {
	mu    sync.Mutex
	kinds []model.Kind
	err   error
}

func (r *recordingRunner) Run(_ context.Context, kind model.Kind) ([]model.EnrichedMeeting, *model.BatchRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, kind)
	if r.err != nil {
		return nil, nil, r.err
	}
	return []model.EnrichedMeeting{}, model.NewBatchRun(1, kind, time.Now()), nil
}

func TestScheduler(t *testing.T) {
	Convey("Given cron specs per kind", t, func() {
		runner := &recordingRunner{}

		Convey("When one spec is blank", func() {
			s, err := New(runner, map[model.Kind]string{
				model.KindScheduled: "*/15 * * * *",
				model.KindCompleted: "  ",
			}, WithLogger(logger.Discard()))

			Convey("Then it falls back to the fixed cadence", func() {
				So(err, ShouldBeNil)
				spec, ok := s.Spec(model.KindCompleted)
				So(ok, ShouldBeTrue)
				So(spec, ShouldEqual, FallbackSpec)
				spec, _ = s.Spec(model.KindScheduled)
				So(spec, ShouldEqual, "*/15 * * * *")
				So(len(s.cron.Entries()), ShouldEqual, 2)
			})
		})

		Convey("When a kind is not configured at all", func() {
			s, err := New(runner, map[model.Kind]string{model.KindScheduled: "@daily"}, WithLogger(logger.Discard()))

			Convey("Then only the configured kind is scheduled", func() {
				So(err, ShouldBeNil)
				_, ok := s.Spec(model.KindCompleted)
				So(ok, ShouldBeFalse)
				So(len(s.cron.Entries()), ShouldEqual, 1)
			})
		})

		Convey("When a spec does not parse", func() {
			_, err := New(runner, map[model.Kind]string{model.KindScheduled: "every tuesday"}, WithLogger(logger.Discard()))
			So(errors.Is(err, ErrInvalidSpec), ShouldBeTrue)
		})

		Convey("When a job fires", func() {
			s, _ := New(runner, map[model.Kind]string{model.KindCompleted: ""}, WithLogger(logger.Discard()))
			s.Trigger(model.KindCompleted)
			runner.err = errors.New("directory down")
			s.Trigger(model.KindCompleted)

			Convey("Then the runner is called for that kind, failures included", func() {
				So(runner.kinds, ShouldResemble, []model.Kind{model.KindCompleted, model.KindCompleted})
			})
		})

		Convey("When started and shut down", func() {
			s, _ := New(runner, map[model.Kind]string{model.KindScheduled: ""}, WithLogger(logger.Discard()))
			ctx, cancel := context.WithCancel(context.Background())
			go s.Run(ctx)

			shutdownCtx, stop := context.WithTimeout(context.Background(), time.Second)
			defer stop()
			err := s.Shutdown(shutdownCtx)
			cancel()

			Convey("Then shutdown completes", func() {
				So(err, ShouldBeNil)
			})
		})
	})
}
