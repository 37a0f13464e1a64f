package dedupe

type options struct {
	initialCapacity int
}

// Option applies a configuration option to the in-memory deduper.
type Option func(*options)

// WithInitialCapacity pre-sizes the seen set. Non-positive values are ignored.
func WithInitialCapacity(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.initialCapacity = n
		}
	}
}
