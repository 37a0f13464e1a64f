package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/adapters/directory"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/adapters/mq/publisher"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/adapters/mq/queue"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/adapters/repository"
	service "github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/app"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/domain/batch"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/domain/model"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/domain/pipeline"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

// rosterFetcher serves fixed meetings per email and can block until released.
type rosterFetcher struct {
	meetings map[string][]model.Meeting
	fail     map[string]bool
	gate     chan struct{}
}

func (f *rosterFetcher) Fetch(_ context.Context, emp model.EmployeeRef, _ model.Kind) model.UserFetchResult {
	if f.gate != nil {
		<-f.gate
	}
	if f.fail[emp.Email] {
		return model.Failed(emp.Email, "network error: timeout")
	}
	return model.Succeeded(emp.Email, f.meetings[emp.Email])
}

type failingDirectory struct{}

func (failingDirectory) Employees(context.Context) ([]model.EmployeeRef, error) {
	return nil, errors.New("connection refused")
}

type countingPublisher struct {
	mu     sync.Mutex
	events []model.MeetingEvent
	err    error
}

func (p *countingPublisher) Publish(_ context.Context, e model.MeetingEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

type harness struct {
	svc       *service.Service
	store     *repository.Memory
	fetcher   *rosterFetcher
	publisher *countingPublisher
}

// chunkFailStore fails the nth UpsertCompleted call and passes the rest on.
type chunkFailStore struct {
	*repository.Memory
	failOn int
	calls  int
}

func (s *chunkFailStore) UpsertCompleted(ctx context.Context, records []model.MeetingRecord) error {
	s.calls++
	if s.calls == s.failOn {
		return errors.New("connection reset by peer")
	}
	return s.Memory.UpsertCompleted(ctx, records)
}

func newHarness(dir service.Directory, opts ...service.Option) *harness {
	return newHarnessWithStore(dir, nil, opts...)
}

// newHarnessWithStore lets wrap put a MeetingStore in front of the memory
// store; run records still go to the memory store.
func newHarnessWithStore(dir service.Directory, wrap func(*repository.Memory) service.MeetingStore, opts ...service.Option) *harness {
	store := repository.NewMemory(repository.WithLogger(logger.Discard()))
	var meetings service.MeetingStore = store
	if wrap != nil {
		meetings = wrap(store)
	}
	tracker, err := batch.NewTracker(store, 7, batch.WithTrackerLogger(logger.Discard()))
	if err != nil {
		panic(err)
	}
	fetcher := &rosterFetcher{
		meetings: map[string][]model.Meeting{
			"a@x.io": {{ID: "m1", Summary: "planning"}, {ID: "shared", Summary: "all hands"}},
			"b@x.io": {{ID: "shared", Summary: "all hands (b)"}, {ConferenceRecordID: "c9"}},
			"c@x.io": {{Summary: "no identity"}},
		},
		fail: map[string]bool{},
	}
	coord := batch.NewCoordinator(fetcher,
		batch.WithPipeline(model.KindScheduled, pipeline.New()),
		batch.WithPipeline(model.KindCompleted, pipeline.New()),
		batch.WithStarter(tracker),
		batch.WithLogger(logger.Discard()),
	)
	pub := &countingPublisher{}
	opts = append([]service.Option{service.WithLogger(logger.Discard()), service.WithBatchSize(2)}, opts...)
	return &harness{
		svc:       service.New(dir, coord, tracker, meetings, pub, opts...),
		store:     store,
		fetcher:   fetcher,
		publisher: pub,
	}
}

func roster() directory.Static {
	return directory.Static{{Email: "a@x.io"}, {Email: "b@x.io"}, {Email: "c@x.io"}}
}

func TestService_Run(t *testing.T) {
	ctx := context.Background()

	Convey("Given a service over in-memory collaborators", t, func() {
		h := newHarness(roster())

		Convey("When a scheduled run succeeds", func() {
			meetings, run, err := h.svc.Run(ctx, model.KindScheduled)

			Convey("Then duplicates are removed with the first one kept", func() {
				So(err, ShouldBeNil)
				So(len(meetings), ShouldEqual, 4)
				byID := map[string]string{}
				for _, m := range meetings {
					if m.ID != "" {
						byID[m.ID] = m.Summary
					}
				}
				So(byID["shared"], ShouldBeIn, []string{"all hands", "all hands (b)"})
			})

			Convey("Then the records replace the scheduled table", func() {
				So(len(h.store.Meetings(model.KindScheduled)), ShouldEqual, 4)
				So(h.store.Meetings(model.KindScheduled)[0].BatchID, ShouldEqual, run.ID)
			})

			Convey("Then exactly one event is published for the run", func() {
				So(len(h.publisher.events), ShouldEqual, 1)
				So(h.publisher.events[0].BatchID, ShouldEqual, run.ID)
				So(len(h.publisher.events[0].Meetings), ShouldEqual, 4)
			})

			Convey("Then the run is closed and queryable", func() {
				So(run.Status, ShouldEqual, model.StatusSuccess)
				So(run.RecordsProcessed, ShouldEqual, 4)
				last, err := h.svc.LastRun(ctx, model.KindScheduled)
				So(err, ShouldBeNil)
				So(last.ID, ShouldEqual, run.ID)
				So(last.LastSuccessfulAt, ShouldNotBeNil)
			})
		})

		Convey("When one employee fails", func() {
			h.fetcher.fail["b@x.io"] = true
			meetings, run, err := h.svc.Run(ctx, model.KindCompleted)

			Convey("Then the run is a partial success and still persists", func() {
				So(err, ShouldBeNil)
				So(run.Status, ShouldEqual, model.StatusPartialSuccess)
				So(run.FailedUserEmails, ShouldResemble, []string{"b@x.io"})
				So(len(meetings), ShouldEqual, 3)
				So(len(h.store.Meetings(model.KindCompleted)), ShouldEqual, 3)
			})
		})

		Convey("When every employee fails", func() {
			_, _, _ = h.svc.Run(ctx, model.KindScheduled)
			for _, e := range roster() {
				h.fetcher.fail[e.Email] = true
			}
			meetings, run, err := h.svc.Run(ctx, model.KindScheduled)

			Convey("Then nothing is overwritten or published", func() {
				So(err, ShouldBeNil)
				So(run.Status, ShouldEqual, model.StatusFailed)
				So(meetings, ShouldBeEmpty)
				So(len(h.store.Meetings(model.KindScheduled)), ShouldEqual, 4)
				So(len(h.publisher.events), ShouldEqual, 1)
			})
		})

		Convey("When persistence fails", func() {
			h.store.SetWriteError(errors.New("disk full"))
			meetings, run, err := h.svc.Run(ctx, model.KindScheduled)

			Convey("Then the error surfaces, the run fails and nothing is published", func() {
				So(errors.Is(err, repository.ErrPersistence), ShouldBeTrue)
				So(meetings, ShouldBeNil)
				So(run.Status, ShouldEqual, model.StatusFailed)
				So(run.ErrorMessage, ShouldContainSubstring, "disk full")
				So(h.publisher.events, ShouldBeEmpty)
			})
		})

		Convey("When publishing fails", func() {
			h.publisher.err = errors.New("broker down")
			meetings, run, err := h.svc.Run(ctx, model.KindCompleted)

			Convey("Then the persisted data and the run are unaffected", func() {
				So(err, ShouldBeNil)
				So(len(meetings), ShouldEqual, 4)
				So(run.Status, ShouldEqual, model.StatusSuccess)
				So(len(h.store.Meetings(model.KindCompleted)), ShouldEqual, 4)
			})
		})

		Convey("When the kind is unknown", func() {
			_, _, err := h.svc.Run(ctx, model.Kind("weekly"))
			So(errors.Is(err, model.ErrUnknownKind), ShouldBeTrue)
		})
	})

	Convey("Given a directory that is down", t, func() {
		h := newHarness(failingDirectory{})
		_, err := h.svc.RunScheduled(ctx)

		Convey("Then ErrDirectory is returned", func() {
			So(errors.Is(err, service.ErrDirectory), ShouldBeTrue)
			So(h.publisher.events, ShouldBeEmpty)
		})
	})
}

func TestService_Exclusion(t *testing.T) {
	Convey("Given a scheduled run blocked inside the fetch", t, func() {
		h := newHarness(roster())
		h.fetcher.gate = make(chan struct{})
		ctx := context.Background()

		done := make(chan error, 1)
		go func() {
			_, err := h.svc.RunScheduled(ctx)
			done <- err
		}()

		// Wait until the first run holds the lock.
		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			if h.svc.GetStats(ctx)["scheduledRunning"] == true {
				break
			}
			time.Sleep(time.Millisecond)
		}

		Convey("Then a second scheduled trigger is rejected", func() {
			_, err := h.svc.RunScheduled(ctx)
			So(errors.Is(err, service.ErrRunInProgress), ShouldBeTrue)

			close(h.fetcher.gate)
			So(<-done, ShouldBeNil)

			_, err = h.svc.RunScheduled(ctx)
			So(err, ShouldBeNil)
		})
	})
}

func TestService_CompletedChunks(t *testing.T) {
	Convey("Given many completed meetings and a chunk size of 2", t, func() {
		h := newHarness(directory.Static{{Email: "a@x.io"}}, service.WithChunkSize(2))
		var ms []model.Meeting
		for i := 0; i < 5; i++ {
			ms = append(ms, model.Meeting{ID: fmt.Sprintf("m%d", i)})
		}
		h.fetcher.meetings["a@x.io"] = ms

		_, run, err := h.svc.Run(context.Background(), model.KindCompleted)

		Convey("Then every chunk is upserted", func() {
			So(err, ShouldBeNil)
			So(run.RecordsProcessed, ShouldEqual, 5)
			So(len(h.store.Meetings(model.KindCompleted)), ShouldEqual, 5)
		})
	})
}

func TestService_CompletedChunkFailure(t *testing.T) {
	Convey("Given five completed meetings and a store that fails the second chunk", t, func() {
		var failing *chunkFailStore
		h := newHarnessWithStore(directory.Static{{Email: "a@x.io"}},
			func(m *repository.Memory) service.MeetingStore {
				failing = &chunkFailStore{Memory: m, failOn: 2}
				return failing
			},
			service.WithChunkSize(2))
		var ms []model.Meeting
		for i := 0; i < 5; i++ {
			ms = append(ms, model.Meeting{ID: fmt.Sprintf("m%d", i)})
		}
		h.fetcher.meetings["a@x.io"] = ms

		_, run, err := h.svc.Run(context.Background(), model.KindCompleted)

		Convey("Then the first chunk stays durable and the run fails", func() {
			So(err, ShouldNotBeNil)
			So(failing.calls, ShouldEqual, 2)
			So(len(h.store.Meetings(model.KindCompleted)), ShouldEqual, 2)
			So(run.Status, ShouldEqual, model.StatusFailed)
			So(run.RecordsProcessed, ShouldEqual, 2)
			So(run.ErrorMessage, ShouldContainSubstring, "connection reset")
		})

		Convey("Then nothing is published", func() {
			h.publisher.mu.Lock()
			defer h.publisher.mu.Unlock()
			So(len(h.publisher.events), ShouldEqual, 0)
		})

		Convey("Then the stored run record matches", func() {
			last, err := h.svc.LastRun(context.Background(), model.KindCompleted)
			So(err, ShouldBeNil)
			So(last.Status, ShouldEqual, model.StatusFailed)
			So(last.RecordsProcessed, ShouldEqual, 2)
		})
	})
}

func TestService_CancelledCaller(t *testing.T) {
	Convey("Given a caller whose context is already cancelled", t, func() {
		h := newHarness(roster())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, run, err := h.svc.Run(ctx, model.KindScheduled)

		Convey("Then the run still completes and publishes", func() {
			So(err, ShouldBeNil)
			So(run.Status, ShouldEqual, model.StatusSuccess)
			So(len(h.store.Meetings(model.KindScheduled)), ShouldEqual, 4)
			h.publisher.mu.Lock()
			defer h.publisher.mu.Unlock()
			So(len(h.publisher.events), ShouldEqual, 1)
		})
	})
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a service with a queue consumer", t, func() {
		q := queue.NewInMemoryQueue()
		pub := publisher.NewQueue(q, publisher.WithLogger(logger.Discard()))
		bg := &fakeBackground{}
		closer := &fakeCloser{}
		svc := service.New(roster(), nil, nil, repository.NewMemory(), pub,
			service.WithLogger(logger.Discard()),
			service.WithBackground(bg),
			service.WithCloser(closer),
		)
		ctx := context.Background()

		Convey("When started and stopped", func() {
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.GetStats(ctx)["started"], ShouldEqual, true)
			svc.Stop(ctx)

			Convey("Then the background ran once and resources were released", func() {
				bg.mu.Lock()
				defer bg.mu.Unlock()
				So(bg.shutdowns, ShouldEqual, 1)
				So(closer.closed, ShouldBeTrue)
				So(svc.GetStats(ctx)["started"], ShouldEqual, false)
			})
		})
	})
}

type fakeBackground struct {
	mu        sync.Mutex
	shutdowns int
}

func (b *fakeBackground) Run(ctx context.Context) { <-ctx.Done() }

func (b *fakeBackground) Shutdown(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.shutdowns++
	return nil
}

type fakeCloser struct{ closed bool }

func (c *fakeCloser) Close() error {
	c.closed = true
	return nil
}
