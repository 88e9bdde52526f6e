package reduction

import (
	"net/http"
	"time"

	"github.com/okian/swapbridge/pkg/logger"
)

// Option applies a configuration option to the Notifier.
type Option func(*Notifier)

// WithHTTPClient sets the client used for outbound requests.
func WithHTTPClient(c *http.Client) Option {
	return func(n *Notifier) {
		if c != nil {
			n.client = c
		}
	}
}

// WithTimeout bounds each outbound request.
func WithTimeout(d time.Duration) Option {
	return func(n *Notifier) {
		if d > 0 {
			n.timeout = d
		}
	}
}

// WithRetries sets how many times a failed request is retried. Only
// transport errors, 429 and 5xx responses are retried.
func WithRetries(retries int, backoff time.Duration) Option {
	return func(n *Notifier) {
		if retries >= 0 {
			n.retries = retries
		}
		if backoff > 0 {
			n.backoff = backoff
		}
	}
}

// WithField sets the key the score is stored under in the reduction data.
func WithField(field string) Option {
	return func(n *Notifier) {
		if field != "" {
			n.field = field
		}
	}
}

// WithLogger sets a custom logger for the notifier.
func WithLogger(l logger.Logger) Option {
	return func(n *Notifier) {
		if l != nil {
			n.logger = l
		}
	}
}
