package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/adapters/mq/queue"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/domain/model"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/pkg/logger"
	"github.com/nats-io/nats.go/jetstream"
	. "github.com/smartystreets/goconvey/convey"
)

type fakeStream struct {
	subject string
	payload []byte
	calls   int
	err     error
}

func (f *fakeStream) Publish(_ context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	f.subject = subject
	f.payload = payload
	return &jetstream.PubAck{Stream: "MEETSYNC", Sequence: uint64(f.calls)}, nil
}

func sampleEvent() model.MeetingEvent {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return model.NewMeetingEvent(77, []model.EnrichedMeeting{{ID: "m1", Summary: "standup"}}, at)
}

func TestNATSPublisher(t *testing.T) {
	Convey("Given a NATS publisher over a fake stream", t, func() {
		stream := &fakeStream{}
		p := NewNATS(stream, "meetsync.meetings", WithLogger(logger.Discard()))

		Convey("When publishing an event", func() {
			err := p.Publish(context.Background(), sampleEvent())

			Convey("Then the JSON event lands on the subject", func() {
				So(err, ShouldBeNil)
				So(stream.subject, ShouldEqual, "meetsync.meetings")

				var decoded map[string]interface{}
				So(json.Unmarshal(stream.payload, &decoded), ShouldBeNil)
				So(decoded["batchId"], ShouldEqual, float64(77))
				So(decoded["eventTimestamp"], ShouldEqual, float64(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC).UnixMilli()))
				So(len(decoded["meetings"].([]interface{})), ShouldEqual, 1)
			})
		})

		Convey("When the broker rejects the message", func() {
			stream.err = errors.New("no responders")
			err := p.Publish(context.Background(), sampleEvent())

			Convey("Then ErrPublish is returned", func() {
				So(errors.Is(err, ErrPublish), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "no responders")
			})
		})

		Convey("Close without a dialed connection is a no-op", func() {
			So(p.Close(), ShouldBeNil)
		})
	})
}

func TestQueuePublisher(t *testing.T) {
	Convey("Given a queue publisher", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(1))
		p := NewQueue(q, WithLogger(logger.Discard()))
		ctx := context.Background()

		Convey("Then events are enqueued until the queue is full", func() {
			So(p.Publish(ctx, sampleEvent()), ShouldBeNil)
			So(q.Len(), ShouldEqual, 1)

			err := p.Publish(ctx, sampleEvent())
			So(errors.Is(err, ErrPublish), ShouldBeTrue)
			So(errors.Is(err, queue.ErrFull), ShouldBeTrue)
		})

		Convey("Then a closed queue rejects events", func() {
			_ = q.Close()
			So(errors.Is(p.Publish(ctx, sampleEvent()), ErrPublish), ShouldBeTrue)
		})
	})
}
