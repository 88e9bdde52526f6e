package api

import (
	"net/http"

	"github.com/okian/swapbridge/internal/adapters/mq/queue"
	"github.com/okian/swapbridge/pkg/logger"
)

type options struct {
	notify queue.Callback
	status StatusFunc
	extra  map[string]http.Handler
	logger logger.Logger
}

// Option applies a configuration option to the Server.
type Option func(*options)

// WithNotifier sets the callback run after each accepted classification is
// scored.
func WithNotifier(cb queue.Callback) Option {
	return func(o *options) {
		o.notify = cb
	}
}

// WithStatus sets the status line renderer.
func WithStatus(fn StatusFunc) Option {
	return func(o *options) {
		o.status = fn
	}
}

// WithHandler mounts an extra unauthenticated handler at path.
func WithHandler(path string, h http.Handler) Option {
	return func(o *options) {
		if o.extra == nil {
			o.extra = make(map[string]http.Handler)
		}
		o.extra[path] = h
	}
}

// WithLogger sets a custom logger for the handlers.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
