package pipeline

import (
	"time"

	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/pkg/logger"
)

// Option configures an Enricher.
type Option func(*Enricher)

// WithInviteeFetcher sets the invitee collaborator.
func WithInviteeFetcher(f InviteeFetcher) Option {
	return func(e *Enricher) { e.invitees = f }
}

// WithConferenceFetcher sets the conference collaborator.
func WithConferenceFetcher(f ConferenceFetcher) Option {
	return func(e *Enricher) { e.conferences = f }
}

// WithProcessedChecker enables skipping completed meetings that are already stored.
func WithProcessedChecker(c ProcessedChecker, enabled bool) Option {
	return func(e *Enricher) {
		e.processed = c
		e.skipProcessed = enabled
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Enricher) {
		if now != nil {
			e.now = now
		}
	}
}

// WithMatchTolerance sets the conference start-time tolerance.
func WithMatchTolerance(d time.Duration) Option {
	return func(e *Enricher) {
		if d >= 0 {
			e.tolerance = d
		}
	}
}

// WithWindows sets the scheduled horizon and completed lookback.
func WithWindows(scheduled, completedLookback time.Duration) Option {
	return func(e *Enricher) {
		if scheduled > 0 {
			e.scheduledWindow = scheduled
		}
		if completedLookback > 0 {
			e.completedLookback = completedLookback
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Enricher) { e.logger = l }
}
