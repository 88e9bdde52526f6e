package worker

import (
	"github.com/okian/swapbridge/internal/domain/model"
	"github.com/okian/swapbridge/pkg/logger"
)

// Option applies a configuration option to the Bridge.
type Option func(*Bridge)

// WithLogger sets a custom logger for the bridge.
func WithLogger(l logger.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithArchive persists processed classifications and replays them on Start.
func WithArchive(a Archive) Option {
	return func(b *Bridge) {
		b.archive = a
	}
}

// WithReplayHook is called for every classification replayed from the
// archive, in archive order.
func WithReplayHook(fn func(model.ClassificationEvent)) Option {
	return func(b *Bridge) {
		b.replayHook = fn
	}
}
