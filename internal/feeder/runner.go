package feeder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/okian/swapbridge/pkg/logger"
)

// File permission constants.
const (
	directoryPermission = 0750
	filePermission      = 0600
)

const (
	pollInterval         = 100 * time.Millisecond
	PercentageMultiplier = 100
)

// ErrMissingSubjects is returned when subjects are still absent from the
// scores after the settle period.
var ErrMissingSubjects = errors.New("subjects missing from scores")

// Run executes a complete feed: check, generate, submit, verify.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	stats := &Stats{StartTime: time.Now()}
	log := logger.Get()

	log.Info(ctx, "starting classification feed",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("classifications", cfg.Classifications),
		logger.Int("workers", cfg.Workers),
		logger.Duration("timeout", cfg.Timeout),
	)

	client := newHTTPClient(cfg)

	// Step 1: Check the bridge is up and its worker alive
	status, err := client.Status(ctx)
	if err != nil {
		return stats, fmt.Errorf("bridge status check failed: %w", err)
	}
	log.Info(ctx, "bridge is up", logger.String("status", status))

	// Step 2: Generate classifications
	plan, err := generate(ctx, cfg, stats)
	if err != nil {
		return stats, fmt.Errorf("generation failed: %w", err)
	}

	// Step 3: Submit concurrently
	submit(ctx, cfg, plan, stats)

	// Step 4: Wait for scores to cover every subject
	if err := verify(ctx, cfg, client, plan, stats); err != nil {
		return stats, err
	}

	// Step 5: Save classifications to file
	if cfg.OutputFile != "" {
		if err := saveToFile(ctx, cfg.OutputFile, plan); err != nil {
			log.Warn(ctx, "failed to save classifications to file", logger.Error(err))
		}
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, stats)
	return stats, nil
}

// saveToFile writes the plan as a JSON array.
func saveToFile(ctx context.Context, filename string, plan []Classification) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal classifications: %w", err)
	}
	if err := os.WriteFile(filename, data, filePermission); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	logger.Get().Info(ctx, "classifications saved to file", logger.String("filename", filename))
	return nil
}

// displayFinalStats logs the final run statistics.
func displayFinalStats(ctx context.Context, stats *Stats) {
	var acceptRate, postsPerSecond float64
	if stats.Submitted > 0 {
		acceptRate = float64(stats.Accepted) / float64(stats.Submitted) * PercentageMultiplier
	}
	if stats.Duration > 0 {
		postsPerSecond = float64(stats.Submitted) / stats.Duration.Seconds()
	}

	logger.Get().Info(ctx, "final statistics",
		logger.Int("generated", stats.Generated),
		logger.Int("duplicates", stats.Duplicates),
		logger.Int("submitted", stats.Submitted),
		logger.Int("accepted", stats.Accepted),
		logger.Int("backpressure", stats.Backpressed),
		logger.Int("failed", stats.Failed),
		logger.Int("subjectsExpected", stats.SubjectsExpected),
		logger.Int("subjectsScored", stats.SubjectsScored),
		logger.Duration("duration", stats.Duration),
		logger.Float64("acceptRate", acceptRate),
		logger.Float64("postsPerSecond", postsPerSecond),
	)
}
