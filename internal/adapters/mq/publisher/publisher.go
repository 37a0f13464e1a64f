// Package publisher announces finished runs to downstream consumers.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/adapters/mq/queue"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/domain/model"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/pkg/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// ErrPublish wraps every delivery failure.
var ErrPublish = errors.New("publish failed")

// Publisher delivers one MeetingEvent.
type Publisher interface {
	Publish(ctx context.Context, e model.MeetingEvent) error
}

// Option configures a publisher.
type Option func(*options)

type options struct {
	logger logger.Logger
	stream string
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithStream names the JetStream stream created on dial.
func WithStream(name string) Option {
	return func(o *options) {
		if name != "" {
			o.stream = name
		}
	}
}

func applyOptions(opts []Option) options {
	o := options{stream: "MEETSYNC"}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logger.Named("publisher")
	}
	return o
}

// streamPublisher is the slice of jetstream.JetStream used here.
type streamPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// NATS publishes JSON events to a JetStream subject. Every event carries a
// fresh Nats-Msg-Id so broker-side dedupe drops client retries.
type NATS struct {
	js      streamPublisher
	conn    *nats.Conn
	subject string
	logger  logger.Logger
}

// NewNATS wraps an existing JetStream handle.
func NewNATS(js streamPublisher, subject string, opts ...Option) *NATS {
	o := applyOptions(opts)
	return &NATS{js: js, subject: subject, logger: o.logger}
}

// DialNATS connects to url and makes sure the stream for subject exists.
func DialNATS(ctx context.Context, url, subject string, opts ...Option) (*NATS, error) {
	o := applyOptions(opts)
	nc, err := nats.Connect(url, nats.Name("meetsync"))
	if err != nil {
		return nil, fmt.Errorf("%w: connect %s: %v", ErrPublish, url, err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("%w: jetstream: %v", ErrPublish, err)
	}
	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     o.stream,
		Subjects: []string{subject},
	}); err != nil {
		nc.Close()
		return nil, fmt.Errorf("%w: stream %s: %v", ErrPublish, o.stream, err)
	}
	o.logger.Info(ctx, "connected to nats", logger.String("url", url),
		logger.String("stream", o.stream), logger.String("subject", subject))
	return &NATS{js: js, conn: nc, subject: subject, logger: o.logger}, nil
}

func (n *NATS) Publish(ctx context.Context, e model.MeetingEvent) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrPublish, err)
	}
	msgID := uuid.NewString()
	ack, err := n.js.Publish(ctx, n.subject, payload, jetstream.WithMsgID(msgID))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPublish, n.subject, err)
	}
	n.logger.Debug(ctx, "published meeting event",
		logger.Int64("batch_id", e.BatchID),
		logger.String("msg_id", msgID),
		logger.Int("meetings", len(e.Meetings)),
		logger.Bool("duplicate", ack != nil && ack.Duplicate))
	return nil
}

// Close drains the connection if DialNATS opened it.
func (n *NATS) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Drain()
}

// Queue publishes to an in-process queue.
type Queue struct {
	q      queue.Queue
	logger logger.Logger
}

// NewQueue wraps q.
func NewQueue(q queue.Queue, opts ...Option) *Queue {
	o := applyOptions(opts)
	return &Queue{q: q, logger: o.logger}
}

func (p *Queue) Publish(ctx context.Context, e model.MeetingEvent) error {
	if err := p.q.Enqueue(ctx, e); err != nil {
		return fmt.Errorf("%w: enqueue batch %d: %w", ErrPublish, e.BatchID, err)
	}
	return nil
}
