package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/domain/model"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/pkg/logger"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/pkg/metrics"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/pkg/resilience"
)

// EventSource performs one raw events call.
type EventSource interface {
	Events(ctx context.Context, email string, from, to time.Time) ([]model.Meeting, error)
}

// Cache keeps the last good scheduled-meeting list per user.
type Cache interface {
	Get(ctx context.Context, email string) ([]model.Meeting, bool, error)
	Set(ctx context.Context, email string, meetings []model.Meeting) error
}

// Fetcher fetches one user's raw meetings through retry, a shared circuit
// breaker and, for scheduled meetings, a cache fallback. It never returns
// an error; every outcome is a UserFetchResult.
type Fetcher struct {
	source  EventSource
	breaker *resilience.CircuitBreaker
	policy  resilience.Policy
	cache   Cache

	now               func() time.Time
	scheduledWindow   time.Duration
	completedLookback time.Duration

	logger logger.Logger
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithRetryPolicy sets the retry policy. Retryable and OnRetry are owned by the fetcher.
func WithRetryPolicy(p resilience.Policy) FetcherOption {
	return func(f *Fetcher) { f.policy = p }
}

// WithCache enables the scheduled fallback cache.
func WithCache(c Cache) FetcherOption {
	return func(f *Fetcher) { f.cache = c }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) FetcherOption {
	return func(f *Fetcher) {
		if now != nil {
			f.now = now
		}
	}
}

// WithWindows sets the scheduled horizon and completed lookback.
func WithWindows(scheduled, completedLookback time.Duration) FetcherOption {
	return func(f *Fetcher) {
		if scheduled > 0 {
			f.scheduledWindow = scheduled
		}
		if completedLookback > 0 {
			f.completedLookback = completedLookback
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) FetcherOption {
	return func(f *Fetcher) { f.logger = l }
}

// NewFetcher creates a Fetcher over source guarded by breaker.
func NewFetcher(source EventSource, breaker *resilience.CircuitBreaker, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		source:            source,
		breaker:           breaker,
		policy:            resilience.DefaultPolicy(),
		now:               time.Now,
		scheduledWindow:   7 * 24 * time.Hour,
		completedLookback: 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.breaker == nil {
		f.breaker = resilience.NewCircuitBreaker("calendar")
	}
	if f.logger == nil {
		f.logger = logger.Named("calendar")
	}
	return f
}

// Window returns the fetch window of kind relative to now.
func (f *Fetcher) Window(kind model.Kind, now time.Time) (from, to time.Time) {
	if kind == model.KindCompleted {
		return now.Add(-f.completedLookback), now
	}
	return now, now.Add(f.scheduledWindow)
}

// Fetch returns the raw meetings of one employee.
func (f *Fetcher) Fetch(ctx context.Context, emp model.EmployeeRef, kind model.Kind) (result model.UserFetchResult) {
	defer func() {
		if r := recover(); r != nil {
			result = model.Failed(emp.Email, fmt.Sprintf("system error: %v", r))
		}
	}()

	from, to := f.Window(kind, model.RunTime(ctx, f.now))
	meetings, err := f.fetchWithRetry(ctx, emp.Email, from, to)
	if err != nil && (ctx.Err() != nil || errors.Is(err, context.Canceled)) {
		return model.Failed(emp.Email, "cancelled: "+err.Error())
	}
	if err == nil {
		if kind == model.KindScheduled && f.cache != nil {
			if cerr := f.cache.Set(ctx, emp.Email, meetings); cerr != nil {
				f.logger.Warn(ctx, "failed to cache scheduled meetings",
					logger.String("employee", emp.Email), logger.Error(cerr))
			}
		}
		return model.Succeeded(emp.Email, meetings)
	}

	if errors.Is(err, ErrNetwork) || errors.Is(err, resilience.ErrCircuitOpen) {
		return f.fallback(ctx, emp.Email, kind, err)
	}
	return model.Failed(emp.Email, reason(err))
}

func (f *Fetcher) fetchWithRetry(ctx context.Context, email string, from, to time.Time) ([]model.Meeting, error) {
	dep := f.breaker.Name()
	policy := f.policy
	policy.Retryable = IsRetryable
	policy.OnRetry = func(attempt int, err error) {
		metrics.RecordFetchRetry(dep)
		f.logger.Debug(ctx, "retrying calendar fetch",
			logger.String("employee", email), logger.Int("attempt", attempt), logger.Error(err))
	}

	var meetings []model.Meeting
	err := resilience.Do(ctx, policy, func(ctx context.Context, _ int) error {
		if err := ctx.Err(); err != nil {
			return resilience.Permanent(err)
		}
		if err := f.breaker.Allow(); err != nil {
			return resilience.Permanent(err)
		}
		// Settle the breaker if the source panics.
		settled := false
		defer func() {
			if !settled {
				f.breaker.Failure()
			}
		}()
		start := time.Now()
		ms, err := f.source.Events(ctx, email, from, to)
		latency := float64(time.Since(start).Milliseconds())
		settled = true
		switch {
		case err != nil && (ctx.Err() != nil || errors.Is(err, context.Canceled)):
			// Caller cancelled; not a dependency failure.
			f.breaker.Release()
			metrics.RecordFetchAttempt(dep, "cancelled", latency)
			return resilience.Permanent(err)
		case err == nil:
			f.breaker.Success()
			metrics.RecordFetchAttempt(dep, "success", latency)
			meetings = ms
			return nil
		case IsRetryable(err):
			f.breaker.Failure()
			metrics.RecordFetchAttempt(dep, "network_error", latency)
		default:
			f.breaker.Release()
			metrics.RecordFetchAttempt(dep, "client_error", latency)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if meetings == nil {
		meetings = []model.Meeting{}
	}
	return meetings, nil
}

// fallback serves the cached list for scheduled meetings. Completed
// meetings have no fallback.
func (f *Fetcher) fallback(ctx context.Context, email string, kind model.Kind, cause error) model.UserFetchResult {
	if kind == model.KindScheduled && f.cache != nil {
		cached, ok, err := f.cache.Get(ctx, email)
		switch {
		case err != nil:
			f.logger.Warn(ctx, "fallback cache read failed", logger.String("employee", email), logger.Error(err))
		case ok:
			metrics.RecordFallback(string(kind), "cache")
			f.logger.Info(ctx, "serving scheduled meetings from cache",
				logger.String("employee", email), logger.Int("meetings", len(cached)))
			return model.Succeeded(email, cached)
		}
	}
	metrics.RecordFallback(string(kind), "none")
	if errors.Is(cause, resilience.ErrCircuitOpen) {
		return model.Failed(email, "circuit open: "+cause.Error())
	}
	return model.Failed(email, reason(cause))
}
