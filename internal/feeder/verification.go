package feeder

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/okian/swapbridge/internal/domain/model"
	"github.com/okian/swapbridge/pkg/logger"
)

const topSubjects = 10

// verify polls /scores until every generated subject is present or the
// settle period runs out.
func verify(ctx context.Context, cfg *Config, client *HTTPClient, plan []Classification, stats *Stats) error {
	expected := expectedSubjects(plan)
	stats.SubjectsExpected = len(expected)

	deadline := time.Now().Add(cfg.Settle)
	var (
		snap    model.ScoreSnapshot
		missing []int64
		err     error
	)
	for {
		snap, err = client.Scores(ctx)
		if err != nil {
			return fmt.Errorf("score retrieval failed: %w", err)
		}
		missing = missingSubjects(snap, expected)
		if len(missing) == 0 || time.Now().After(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}

	stats.SubjectsScored = len(expected) - len(missing)
	stats.Missing = missing
	displayTopSubjects(ctx, snap, cfg.Verbose)

	if len(missing) > 0 {
		return fmt.Errorf("%w: %d of %d", ErrMissingSubjects, len(missing), len(expected))
	}
	logger.Get().Info(ctx, "every subject has a score", logger.Int("subjects", len(expected)))
	return nil
}

// missingSubjects returns the expected subjects absent from snap, sorted.
func missingSubjects(snap model.ScoreSnapshot, expected map[int64]struct{}) []int64 {
	var missing []int64
	for id := range expected {
		if _, ok := snap.Subject(id); !ok {
			missing = append(missing, id)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	return missing
}

// displayTopSubjects logs the highest scoring subjects.
func displayTopSubjects(ctx context.Context, snap model.ScoreSnapshot, verbose bool) {
	scores := make([]model.SubjectScore, 0, len(snap.Subjects))
	for _, s := range snap.Subjects {
		scores = append(scores, s)
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Score == scores[j].Score {
			return scores[i].SubjectID < scores[j].SubjectID
		}
		return scores[i].Score > scores[j].Score
	})

	n := topSubjects
	if verbose || len(scores) < n {
		n = len(scores)
	}
	log := logger.Get()
	for i := 0; i < n; i++ {
		log.Info(ctx, "subject score",
			logger.Int("rank", i+1),
			logger.Int64("subject", scores[i].SubjectID),
			logger.Float64("score", scores[i].Score),
			logger.Int("seen", scores[i].Seen),
		)
	}
}
