// Package reduction talks to the remote reduction service: it registers the
// bridge as an external extractor and reducer, and pushes score updates.
package reduction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/okian/swapbridge/internal/address"
	"github.com/okian/swapbridge/internal/auth"
	"github.com/okian/swapbridge/internal/domain/model"
	"github.com/okian/swapbridge/pkg/logger"
	"github.com/okian/swapbridge/pkg/metrics"
)

const (
	defaultTimeout = 10 * time.Second
	defaultBackoff = 500 * time.Millisecond
	defaultField   = "swap_score"
	maxBodyLog     = 512
)

// TokenSource provides the bearer token for outbound calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Notifier sends reductions and registrations. It is safe for concurrent
// use, but the bridge only calls Notify from its worker.
type Notifier struct {
	addrs   address.Addresses
	project string
	reducer string
	tokens  TokenSource

	client  *http.Client
	timeout time.Duration
	retries int
	backoff time.Duration
	field   string

	logger logger.Logger
}

// NewNotifier creates a notifier for the resolved addresses.
func NewNotifier(addrs address.Addresses, project, reducer string, tokens TokenSource, opts ...Option) *Notifier {
	n := &Notifier{
		addrs:   addrs,
		project: project,
		reducer: reducer,
		tokens:  tokens,
		client:  http.DefaultClient,
		timeout: defaultTimeout,
		backoff: defaultBackoff,
		field:   defaultField,
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.logger == nil {
		n.logger = logger.Get().Named("notifier")
	}
	return n
}

type reductionBody struct {
	Reduction reductionData `json:"reduction"`
}

type reductionData struct {
	SubjectID int64              `json:"subject_id"`
	Data      map[string]float64 `json:"data"`
}

// Notify pushes one subject's new score. Failures are returned to the
// caller and logged; scoring state is never touched.
func (n *Notifier) Notify(ctx context.Context, s model.ScoredSubject) error {
	start := time.Now()
	body := reductionBody{Reduction: reductionData{
		SubjectID: s.SubjectID,
		Data:      map[string]float64{n.field: s.Score},
	}}

	err := n.put(ctx, n.addrs.Reduction, body)
	metrics.RecordNotifyLatency(float64(time.Since(start).Milliseconds()))
	if err != nil {
		metrics.RecordNotificationFailed(failureReason(err))
		n.logger.Warn(ctx, "notification failed",
			logger.Int64("subject", s.SubjectID),
			logger.Float64("score", s.Score),
			logger.Error(err),
		)
		return fmt.Errorf("notify subject %d: %w", s.SubjectID, err)
	}

	metrics.RecordNotificationSent()
	n.logger.Debug(ctx, "notification sent",
		logger.Int64("subject", s.SubjectID),
		logger.Float64("score", s.Score),
	)
	return nil
}

type registrationBody struct {
	Workflow workflowConfig `json:"workflow"`
}

type workflowConfig struct {
	ExtractorsConfig map[string]extractorConfig `json:"extractors_config"`
	ReducersConfig   map[string]reducerConfig   `json:"reducers_config"`
}

type extractorConfig struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type reducerConfig struct {
	Type string `json:"type"`
}

// Register declares this bridge as the workflow's external extractor and
// external reducer.
func (n *Notifier) Register(ctx context.Context) error {
	body := registrationBody{Workflow: workflowConfig{
		ExtractorsConfig: map[string]extractorConfig{
			n.project: {Type: "external", URL: n.addrs.Extractor},
		},
		ReducersConfig: map[string]reducerConfig{
			n.reducer: {Type: "external"},
		},
	}}

	if err := n.put(ctx, n.addrs.Root, body); err != nil {
		n.logger.Error(ctx, "registration failed", logger.String("workflow", n.addrs.Root), logger.Error(err))
		return fmt.Errorf("register %s: %w", n.project, err)
	}
	n.logger.Info(ctx, "registered with reduction service",
		logger.String("workflow", n.addrs.Root),
		logger.String("project", n.project),
		logger.String("reducer", n.reducer),
	)
	return nil
}

// put sends body with the bearer token, retrying per the configured policy.
func (n *Notifier) put(ctx context.Context, target string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode body: %w", err)
	}

	token, err := n.tokens.Token(ctx)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= n.retries; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(n.backoff << (attempt - 1))
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}

		lastErr = n.do(ctx, target, token, payload)
		if lastErr == nil {
			return nil
		}
		var se *StatusError
		if errors.As(lastErr, &se) && !se.retryable() {
			return lastErr
		}
		if ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}

func (n *Notifier) do(ctx context.Context, target, token string, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyLog))
	return &StatusError{StatusCode: resp.StatusCode, Body: string(b)}
}

func failureReason(err error) string {
	var se *StatusError
	switch {
	case errors.Is(err, auth.ErrNotAuthenticated):
		return "not_authenticated"
	case errors.As(err, &se):
		return fmt.Sprintf("status_%d", se.StatusCode)
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "transport"
	}
}
