package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/domain/dedupe"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestInMemoryDeduper(t *testing.T) {
	Convey("Given a new InMemoryDeduper", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithInitialCapacity(4))
		ctx := context.Background()

		Convey("It starts empty", func() {
			So(d.Size(), ShouldEqual, 0)
		})

		Convey("When a key is recorded twice", func() {
			first := d.SeenAndRecord(ctx, "A")
			second := d.SeenAndRecord(ctx, "A")

			Convey("Then only the second call reports it as seen", func() {
				So(first, ShouldBeFalse)
				So(second, ShouldBeTrue)
				So(d.Size(), ShouldEqual, 1)
			})
		})

		Convey("When more keys than the initial capacity are recorded", func() {
			for i := 0; i < 10; i++ {
				So(d.SeenAndRecord(ctx, fmt.Sprintf("k-%d", i)), ShouldBeFalse)
			}

			Convey("Then nothing is evicted", func() {
				So(d.Size(), ShouldEqual, 10)
				So(d.SeenAndRecord(ctx, "k-0"), ShouldBeTrue)
			})
		})
	})

	Convey("Given a deduper with concurrent access", t, func() {
		d := dedupe.NewInMemoryDeduper()
		ctx := context.Background()

		Convey("When many goroutines race on the same keys", func() {
			var wg sync.WaitGroup
			var mu sync.Mutex
			fresh := 0
			for g := 0; g < 8; g++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < 100; i++ {
						if !d.SeenAndRecord(ctx, fmt.Sprintf("key-%d", i)) {
							mu.Lock()
							fresh++
							mu.Unlock()
						}
					}
				}()
			}
			wg.Wait()

			Convey("Then each key is recorded exactly once", func() {
				So(fresh, ShouldEqual, 100)
				So(d.Size(), ShouldEqual, 100)
			})
		})
	})
}

func TestMeetings(t *testing.T) {
	Convey("Given aggregated meetings", t, func() {
		ctx := context.Background()

		Convey("When an id repeats", func() {
			in := []model.Meeting{
				{ID: "A", Summary: "first"},
				{ID: "B"},
				{ID: "A", Summary: "second"},
			}
			out := dedupe.Meetings(ctx, in)

			Convey("Then the first occurrence wins and order is preserved", func() {
				So(len(out), ShouldEqual, 2)
				So(out[0].ID, ShouldEqual, "A")
				So(out[0].Summary, ShouldEqual, "first")
				So(out[1].ID, ShouldEqual, "B")
			})
		})

		Convey("When only conference record ids are present", func() {
			in := []model.Meeting{
				{ConferenceRecordID: "c1"},
				{ConferenceRecordID: "c2"},
				{ConferenceRecordID: "c1"},
			}
			So(len(dedupe.Meetings(ctx, in)), ShouldEqual, 2)
		})

		Convey("When an id equals another meeting's conference record id", func() {
			in := []model.Meeting{{ID: "x"}, {ConferenceRecordID: "x"}}
			So(len(dedupe.Meetings(ctx, in)), ShouldEqual, 1)
		})

		Convey("When no meeting has an identity", func() {
			in := []model.Meeting{{Summary: "a"}, {Summary: "a"}, {Summary: "b"}}
			out := dedupe.Meetings(ctx, in)

			Convey("Then nothing is dropped", func() {
				So(len(out), ShouldEqual, 3)
			})
		})

		Convey("When the input is empty", func() {
			out := dedupe.Meetings(ctx, nil)
			So(out, ShouldNotBeNil)
			So(out, ShouldBeEmpty)
		})
	})
}

func TestEmployees(t *testing.T) {
	Convey("Given a roster with blanks and duplicates", t, func() {
		in := []model.EmployeeRef{
			{ID: "1", Email: "a@x.io"},
			{ID: "2", Email: "  "},
			{ID: "3", Email: "A@x.io"},
			{ID: "4", Email: ""},
			{ID: "5", Email: " b@x.io "},
		}
		out := dedupe.Employees(context.Background(), in)

		Convey("Then blanks are dropped and the first email wins", func() {
			So(len(out), ShouldEqual, 2)
			So(out[0].ID, ShouldEqual, "1")
			So(out[1].ID, ShouldEqual, "5")
			So(out[1].Email, ShouldEqual, "b@x.io")
		})
	})
}
