package feeder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/swapbridge/internal/domain/model"
	"github.com/okian/swapbridge/pkg/logger"
)

// Submission retry constants.
const (
	backpressureRetries = 3
	backpressureDelay   = 50 * time.Millisecond
	reportInterval      = time.Second
)

type outcome int

const (
	outcomeAccepted outcome = iota
	outcomeBackpressure
	outcomeFailed
)

// HTTPClient talks to the bridge with basic credentials.
type HTTPClient struct {
	client  *http.Client
	baseURL string
	user    string
	secret  string
}

// newHTTPClient creates a new HTTP client with timeout.
func newHTTPClient(cfg *Config) *HTTPClient {
	return &HTTPClient{
		client:  &http.Client{Timeout: cfg.Timeout},
		baseURL: cfg.BaseURL,
		user:    cfg.User,
		secret:  cfg.Secret,
	}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.SetBasicAuth(c.user, c.secret)
	return c.client.Do(req)
}

// Status returns the bridge's status line.
func (c *HTTPClient) Status(ctx context.Context) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, "/status", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return string(bytes.TrimSpace(body)), nil
}

// Scores fetches the current score snapshot.
func (c *HTTPClient) Scores(ctx context.Context) (model.ScoreSnapshot, error) {
	var snap model.ScoreSnapshot
	resp, err := c.do(ctx, http.MethodGet, "/scores", nil)
	if err != nil {
		return snap, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return snap, fmt.Errorf("scores returned %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return snap, fmt.Errorf("decode scores: %w", err)
	}
	return snap, nil
}

// Classify posts one classification.
func (c *HTTPClient) Classify(ctx context.Context, cl Classification) (outcome, error) {
	body, err := json.Marshal(cl)
	if err != nil {
		return outcomeFailed, fmt.Errorf("failed to marshal classification: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, "/classify", body)
	if err != nil {
		return outcomeFailed, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK:
		return outcomeAccepted, nil
	case http.StatusServiceUnavailable:
		return outcomeBackpressure, nil
	default:
		return outcomeFailed, fmt.Errorf("classify returned %d", resp.StatusCode)
	}
}

// submit posts the plan with cfg.Workers concurrent submitters.
func submit(ctx context.Context, cfg *Config, plan []Classification, stats *Stats) {
	log := logger.Get()
	log.Info(ctx, "submitting classifications",
		logger.Int("posts", len(plan)),
		logger.Int("workers", cfg.Workers),
	)

	client := newHTTPClient(cfg)
	var submitted, accepted, backpressed, failed atomic.Int64

	var lastReport atomic.Int64
	lastReport.Store(time.Now().UnixNano())

	work := make(chan Classification, cfg.Workers*2)
	var wg sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for cl := range work {
				res, err := submitOne(ctx, client, cl)
				submitted.Add(1)
				switch res {
				case outcomeAccepted:
					accepted.Add(1)
				case outcomeBackpressure:
					backpressed.Add(1)
				default:
					failed.Add(1)
					if cfg.Verbose {
						log.Warn(ctx, "classification failed", logger.String("id", cl.ID), logger.Error(err))
					}
				}

				last := lastReport.Load()
				if time.Since(time.Unix(0, last)) >= reportInterval && lastReport.CompareAndSwap(last, time.Now().UnixNano()) {
					log.Info(ctx, "progress",
						logger.Int64("submitted", submitted.Load()),
						logger.Int("total", len(plan)),
						logger.Int64("accepted", accepted.Load()),
						logger.Int64("failed", failed.Load()),
					)
				}
			}
		}()
	}

	for _, cl := range plan {
		if ctx.Err() != nil {
			break
		}
		work <- cl
	}
	close(work)
	wg.Wait()

	stats.Submitted = int(submitted.Load())
	stats.Accepted = int(accepted.Load())
	stats.Backpressed = int(backpressed.Load())
	stats.Failed = int(failed.Load())

	log.Info(ctx, "submission completed",
		logger.Int("accepted", stats.Accepted),
		logger.Int("backpressure", stats.Backpressed),
		logger.Int("failed", stats.Failed),
	)
}

// submitOne retries briefly while the bridge reports backpressure.
func submitOne(ctx context.Context, client *HTTPClient, cl Classification) (outcome, error) {
	for attempt := 0; ; attempt++ {
		res, err := client.Classify(ctx, cl)
		if res != outcomeBackpressure || attempt >= backpressureRetries {
			return res, err
		}
		select {
		case <-ctx.Done():
			return outcomeFailed, ctx.Err()
		case <-time.After(backpressureDelay):
		}
	}
}
