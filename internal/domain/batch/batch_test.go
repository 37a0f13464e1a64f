package batch_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/adapters/calendar"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/adapters/mq/worker"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/adapters/repository"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/domain/batch"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/domain/model"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/domain/pipeline"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/pkg/logger"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/pkg/resilience"
	. "github.com/smartystreets/goconvey/convey"
)

func employees(n int) []model.EmployeeRef {
	out := make([]model.EmployeeRef, n)
	for i := range out {
		out[i] = model.EmployeeRef{ID: fmt.Sprint(i + 1), Email: fmt.Sprintf("e%d@x.io", i+1)}
	}
	return out
}

// stubFetcher returns canned results and records the order of calls.
type stubFetcher struct {
	mu      sync.Mutex
	fail    map[string]string
	panics  map[string]bool
	calls   []string
	current int
	peak    int
}

func (s *stubFetcher) Fetch(_ context.Context, emp model.EmployeeRef, _ model.Kind) model.UserFetchResult {
	s.mu.Lock()
	s.calls = append(s.calls, emp.Email)
	s.current++
	if s.current > s.peak {
		s.peak = s.current
	}
	s.mu.Unlock()

	time.Sleep(2 * time.Millisecond)

	s.mu.Lock()
	s.current--
	s.mu.Unlock()

	if s.panics[emp.Email] {
		panic("nil map write")
	}
	if reason, ok := s.fail[emp.Email]; ok {
		return model.Failed(emp.Email, reason)
	}
	return model.Succeeded(emp.Email, []model.Meeting{{ID: "m-" + emp.Email}, {ID: "shared"}})
}

func identity() batch.Enricher { return pipeline.New() }

func TestPartition(t *testing.T) {
	Convey("Partition", t, func() {
		items := []int{1, 2, 3, 4, 5, 6, 7}

		Convey("splits into ceil(n/b) contiguous chunks", func() {
			chunks := batch.Partition(items, 3)
			So(len(chunks), ShouldEqual, 3)
			So(chunks[0], ShouldResemble, []int{1, 2, 3})
			So(chunks[2], ShouldResemble, []int{7})

			var joined []int
			for _, c := range chunks {
				So(len(c), ShouldBeLessThanOrEqualTo, 3)
				joined = append(joined, c...)
			}
			So(joined, ShouldResemble, items)
		})

		Convey("handles exact multiples and oversize chunks", func() {
			So(len(batch.Partition(items[:6], 2)), ShouldEqual, 3)
			So(batch.Partition(items, 10), ShouldResemble, [][]int{items})
		})

		Convey("returns no chunks for empty input or non-positive size", func() {
			So(batch.Partition([]int{}, 3), ShouldBeEmpty)
			So(batch.Partition(items, 0), ShouldBeEmpty)
			So(batch.Partition(items, -1), ShouldBeEmpty)
		})

		Convey("chunks cannot grow into their neighbours", func() {
			chunks := batch.Partition([]int{1, 2, 3, 4}, 2)
			_ = append(chunks[0], 99)
			So(chunks[1][0], ShouldEqual, 3)
		})
	})
}

func TestCoordinator(t *testing.T) {
	ctx := context.Background()

	Convey("Given a coordinator over a stub fetcher", t, func() {
		fetcher := &stubFetcher{fail: map[string]string{}, panics: map[string]bool{}}
		pool := worker.NewPool(2, worker.WithName("scheduled"), worker.WithLogger(logger.Discard()))
		coord := batch.NewCoordinator(fetcher,
			batch.WithPipeline(model.KindScheduled, identity()),
			batch.WithPipeline(model.KindCompleted, identity()),
			batch.WithPool(model.KindScheduled, pool),
			batch.WithLogger(logger.Discard()),
		)

		Convey("When 2 of 5 employees fail", func() {
			fetcher.fail["e2@x.io"] = "client error: forbidden"
			fetcher.fail["e4@x.io"] = "network error: timeout"
			meetings, run, err := coord.Run(ctx, employees(5), model.KindScheduled, 2)

			Convey("Then the run is a partial success with only the survivors' meetings", func() {
				So(err, ShouldBeNil)
				So(run.TotalUsers, ShouldEqual, 5)
				So(run.SuccessfulUsers, ShouldEqual, 3)
				So(run.FailedUsers, ShouldEqual, 2)
				So(run.Status, ShouldEqual, model.StatusPartialSuccess)
				So(run.FailedUserEmails, ShouldContain, "e2@x.io")
				So(run.FailedUserEmails, ShouldContain, "e4@x.io")
				So(run.FailureReasons["e4@x.io"], ShouldEqual, "network error: timeout")
				So(len(meetings), ShouldEqual, 6)
				for _, m := range meetings {
					So(m.ID, ShouldNotEqual, "m-e2@x.io")
					So(m.ID, ShouldNotEqual, "m-e4@x.io")
				}
			})

			Convey("Then batches never overlap and stay within the pool size", func() {
				So(fetcher.peak, ShouldBeLessThanOrEqualTo, 2)
				So(len(fetcher.calls), ShouldEqual, 5)
				first := map[string]bool{fetcher.calls[0]: true, fetcher.calls[1]: true}
				So(first["e1@x.io"] && first["e2@x.io"], ShouldBeTrue)
				So(fetcher.calls[4], ShouldEqual, "e5@x.io")
			})
		})

		Convey("When every employee fails", func() {
			for _, e := range employees(3) {
				fetcher.fail[e.Email] = "client error"
			}
			meetings, run, _ := coord.Run(ctx, employees(3), model.KindCompleted, 3)

			Convey("Then the run failed with no meetings", func() {
				So(run.Status, ShouldEqual, model.StatusFailed)
				So(meetings, ShouldBeEmpty)
			})
		})

		Convey("When a task panics", func() {
			fetcher.panics["e1@x.io"] = true
			_, run, err := coord.Run(ctx, employees(2), model.KindScheduled, 2)

			Convey("Then the panic becomes a system error for that employee", func() {
				So(err, ShouldBeNil)
				So(run.FailedUsers, ShouldEqual, 1)
				So(run.FailureReasons["e1@x.io"], ShouldStartWith, "system error:")
				So(run.Status, ShouldEqual, model.StatusPartialSuccess)
			})
		})

		Convey("When the roster has blanks and duplicate emails", func() {
			roster := []model.EmployeeRef{{Email: "A@x.io"}, {Email: " "}, {Email: "a@x.io"}, {Email: "b@x.io"}}
			_, run, _ := coord.Run(ctx, roster, model.KindScheduled, 10)

			Convey("Then each email is fetched once", func() {
				So(run.TotalUsers, ShouldEqual, 2)
				So(len(fetcher.calls), ShouldEqual, 2)
			})
		})

		Convey("When the roster is empty", func() {
			meetings, run, err := coord.Run(ctx, nil, model.KindScheduled, 10)

			Convey("Then the run succeeds with nothing to do", func() {
				So(err, ShouldBeNil)
				So(run.Status, ShouldEqual, model.StatusSuccess)
				So(meetings, ShouldNotBeNil)
				So(meetings, ShouldBeEmpty)
			})
		})

		Convey("When the batch size is not positive", func() {
			_, _, err := coord.Run(ctx, employees(1), model.KindScheduled, 0)
			So(errors.Is(err, batch.ErrInvalidBatchSize), ShouldBeTrue)
		})

		Convey("When no pipeline exists for the kind", func() {
			bare := batch.NewCoordinator(fetcher, batch.WithLogger(logger.Discard()))
			_, _, err := bare.Run(ctx, employees(1), model.KindScheduled, 1)
			So(errors.Is(err, batch.ErrNoPipeline), ShouldBeTrue)
		})
	})
}

// flakySource fails the second employee's first two calls.
type flakySource struct {
	mu    sync.Mutex
	calls map[string]int
}

func (s *flakySource) Events(_ context.Context, email string, _, _ time.Time) ([]model.Meeting, error) {
	s.mu.Lock()
	s.calls[email]++
	n := s.calls[email]
	s.mu.Unlock()
	if email == "e2@x.io" && n < 3 {
		return nil, fmt.Errorf("list events: %w: connection reset", calendar.ErrNetwork)
	}
	return []model.Meeting{{ID: "m-" + email, Start: "2030-01-01T10:00:00Z", End: "2030-01-01T11:00:00Z"}}, nil
}

func TestCoordinatorWithRetryingFetcher(t *testing.T) {
	Convey("Given 3 employees, batch size 2 and a flaky second employee", t, func() {
		src := &flakySource{calls: map[string]int{}}
		policy := resilience.DefaultPolicy()
		policy.Sleep = func(context.Context, time.Duration) error { return nil }
		fetcher := calendar.NewFetcher(src,
			resilience.NewCircuitBreaker("calendar-batch-test", resilience.WithFailureThreshold(5)),
			calendar.WithRetryPolicy(policy),
			calendar.WithLogger(logger.Discard()),
		)
		coord := batch.NewCoordinator(fetcher,
			batch.WithPipeline(model.KindScheduled, identity()),
			batch.WithPool(model.KindScheduled, worker.NewPool(2, worker.WithLogger(logger.Discard()))),
			batch.WithLogger(logger.Discard()),
		)

		meetings, run, err := coord.Run(context.Background(), employees(3), model.KindScheduled, 2)

		Convey("Then the third attempt recovers and nobody fails", func() {
			So(err, ShouldBeNil)
			So(run.FailedUsers, ShouldEqual, 0)
			So(run.Status, ShouldEqual, model.StatusSuccess)
			So(src.calls["e2@x.io"], ShouldEqual, 3)
			ids := map[string]bool{}
			for _, m := range meetings {
				ids[m.ID] = true
			}
			So(ids["m-e2@x.io"], ShouldBeTrue)
			So(len(meetings), ShouldEqual, 3)
		})
	})
}

// runTimeFetcher records the reference time each fetch sees.
type runTimeFetcher struct {
	mu   sync.Mutex
	seen []time.Time
}

func (f *runTimeFetcher) Fetch(ctx context.Context, emp model.EmployeeRef, _ model.Kind) model.UserFetchResult {
	time.Sleep(2 * time.Millisecond)
	f.mu.Lock()
	f.seen = append(f.seen, model.RunTime(ctx, time.Now))
	f.mu.Unlock()
	return model.Succeeded(emp.Email, nil)
}

func TestCoordinatorPinsRunTime(t *testing.T) {
	Convey("Given five employees fetched in batches of two", t, func() {
		fetcher := &runTimeFetcher{}
		coord := batch.NewCoordinator(fetcher,
			batch.WithPipeline(model.KindCompleted, identity()),
			batch.WithLogger(logger.Discard()),
		)

		_, run, err := coord.Run(context.Background(), employees(5), model.KindCompleted, 2)

		Convey("Then every fetch measures its window from the run start", func() {
			So(err, ShouldBeNil)
			So(len(fetcher.seen), ShouldEqual, 5)
			for _, at := range fetcher.seen {
				So(at, ShouldEqual, run.StartTime)
			}
		})
	})
}

type fixedClock struct{ t time.Time }

func (c *fixedClock) now() time.Time { return c.t }

func TestTracker(t *testing.T) {
	ctx := context.Background()

	Convey("Given a tracker over the in-memory store", t, func() {
		store := repository.NewMemory(repository.WithLogger(logger.Discard()))
		clock := &fixedClock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
		tracker, err := batch.NewTracker(store, 1,
			batch.WithTrackerClock(clock.now), batch.WithTrackerLogger(logger.Discard()))
		So(err, ShouldBeNil)

		Convey("When a run starts and finishes cleanly", func() {
			run := tracker.Start(ctx, model.KindScheduled)
			run.TotalUsers = 2
			run.RecordSuccess("a@x.io")
			run.RecordSuccess("b@x.io")
			clock.t = clock.t.Add(time.Minute)
			tracker.Finish(ctx, run, 4, nil)

			Convey("Then the stored record is complete", func() {
				last, err := tracker.Last(ctx, model.KindScheduled)
				So(err, ShouldBeNil)
				So(last.ID, ShouldEqual, run.ID)
				So(last.ID, ShouldBeGreaterThan, 0)
				So(last.Status, ShouldEqual, model.StatusSuccess)
				So(last.RecordsProcessed, ShouldEqual, 4)
				So(last.EndTime, ShouldEqual, clock.t)
				So(*last.LastSuccessfulAt, ShouldEqual, clock.t)
			})

			Convey("Then the next run carries lastSuccessfulAt forward", func() {
				finishedAt := clock.t
				clock.t = clock.t.Add(time.Hour)
				next := tracker.Start(ctx, model.KindScheduled)
				So(next.ID, ShouldNotEqual, run.ID)
				So(next.Status, ShouldEqual, model.StatusInProgress)
				So(*next.LastSuccessfulAt, ShouldEqual, finishedAt)

				Convey("And a failed run keeps the old value", func() {
					next.TotalUsers = 1
					next.RecordFailure("a@x.io", "network error")
					tracker.Finish(ctx, next, 0, nil)
					So(next.Status, ShouldEqual, model.StatusFailed)
					So(*next.LastSuccessfulAt, ShouldEqual, finishedAt)
				})
			})
		})

		Convey("When persistence failed", func() {
			run := tracker.Start(ctx, model.KindCompleted)
			run.TotalUsers = 1
			run.RecordSuccess("a@x.io")
			tracker.Finish(ctx, run, 0, errors.New("persistence error: deadlock"))

			Convey("Then the run is FAILED with the error message", func() {
				So(run.Status, ShouldEqual, model.StatusFailed)
				So(run.ErrorMessage, ShouldContainSubstring, "deadlock")
				So(run.LastSuccessfulAt, ShouldBeNil)
			})
		})

		Convey("When nothing ran yet", func() {
			_, err := tracker.Last(ctx, model.KindCompleted)
			So(errors.Is(err, model.ErrRunNotFound), ShouldBeTrue)
		})
	})

	Convey("An out-of-range node id is rejected", t, func() {
		_, err := batch.NewTracker(repository.NewMemory(repository.WithLogger(logger.Discard())), 5000)
		So(err, ShouldNotBeNil)
	})
}
