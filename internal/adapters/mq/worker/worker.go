package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/adapters/mq/queue"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/pkg/logger"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// Task is one unit of pool work. Tasks report their own outcome; the pool
// only bounds how many run at once.
type Task = func(ctx context.Context)

// Pool bounds concurrent tasks with a semaphore. One Pool exists per
// meeting kind so a slow kind cannot starve the other; calls to Run on the
// same Pool share its capacity.
type Pool struct {
	name   string
	sem    chan struct{}
	logger logger.Logger
}

// NewPool creates a pool admitting size tasks at once. size < 1 is treated as 1.
func NewPool(size int, opts ...Option) *Pool {
	if size < 1 {
		size = 1
	}
	s := apply("worker-pool", opts)
	return &Pool{name: s.name, sem: make(chan struct{}, size), logger: s.logger}
}

// Size returns the pool capacity.
func (p *Pool) Size() int {
	return cap(p.sem)
}

// Name returns the pool name.
func (p *Pool) Name() string {
	return p.name
}

// Run executes every task and blocks until all of them returned. A
// panicking task is recovered and logged; it never cancels its siblings.
func (p *Pool) Run(ctx context.Context, tasks ...Task) {
	var g errgroup.Group
	for i, task := range tasks {
		p.sem <- struct{}{}
		metrics.AddPoolInFlight(p.name, 1)
		g.Go(func() error {
			defer func() {
				<-p.sem
				metrics.AddPoolInFlight(p.name, -1)
				if r := recover(); r != nil {
					p.logger.Error(ctx, "task panicked", logger.Int("task", i), logger.Any("panic", r))
				}
			}()
			task(ctx)
			return nil
		})
	}
	_ = g.Wait()
}

// Handler processes one dequeued event.
type Handler func(ctx context.Context, e queue.Event) error

// Source is where a Consumer reads events from.
type Source interface {
	Dequeue(ctx context.Context) <-chan queue.Event
}

// Consumer drains a queue into a handler until the queue closes, ctx is
// done or Shutdown is called.
type Consumer struct {
	source  Source
	handler Handler
	name    string

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewConsumer creates a consumer.
func NewConsumer(source Source, handler Handler, opts ...Option) *Consumer {
	s := apply("consumer", opts)
	return &Consumer{
		source:   source,
		handler:  handler,
		name:     s.name,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   s.logger,
	}
}

// Run is the consumer loop.
func (c *Consumer) Run(ctx context.Context) {
	defer close(c.done)

	events := c.source.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			start := time.Now()
			if err := c.handler(ctx, e); err != nil {
				c.logger.Error(ctx, "error handling meeting event",
					logger.Int64("batch_id", e.BatchID), logger.Error(err))
				continue
			}
			c.logger.Debug(ctx, "handled meeting event",
				logger.Int64("batch_id", e.BatchID), logger.Duration("took", time.Since(start)))
		}
	}
}

// Shutdown stops the loop and waits for it, bounded by ctx.
func (c *Consumer) Shutdown(ctx context.Context) error {
	close(c.shutdown)
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		c.logger.Warn(ctx, "shutdown timed out", logger.String("consumer", c.name))
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Done is closed once Run returned.
func (c *Consumer) Done() <-chan struct{} {
	return c.done
}
