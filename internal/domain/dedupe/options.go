package dedupe

// Option applies a configuration option to the window deduper.
type Option func(*windowDeduper)

// WithMaxSize sets the number of ids remembered.
// If maxSize > 0: bounded window with FIFO eviction.
// If maxSize <= 0: unbounded (no eviction).
func WithMaxSize(maxSize int) Option {
	return func(d *windowDeduper) {
		d.maxSize = maxSize
	}
}
