package feeder

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"

	"github.com/google/uuid"
	"github.com/okian/swapbridge/pkg/logger"
)

// Constants for random number generation.
const (
	randomFloatDivisor = 1000000
	subjectIDBase      = 70000000
	// chance that a user votes with the subject's true label
	userAccuracy = 0.8
)

// getRandomFloat returns a random float64 between 0.0 and 1.0 using crypto/rand.
func getRandomFloat() float64 {
	n, _ := rand.Int(rand.Reader, big.NewInt(randomFloatDivisor))
	return float64(n.Int64()) / float64(randomFloatDivisor)
}

// randomIndex returns a random int in [0, n).
func randomIndex(n int) int {
	if n <= 1 {
		return 0
	}
	v, _ := rand.Int(rand.Reader, big.NewInt(int64(n)))
	return int(v.Int64())
}

type subjectTruth struct {
	id    int64
	label int
	gold  bool
}

// generate creates cfg.Classifications distinct classifications followed by
// repeats of earlier ones. The returned plan is in posting order.
func generate(ctx context.Context, cfg *Config, stats *Stats) ([]Classification, error) {
	if cfg.Classifications <= 0 || cfg.Subjects <= 0 || cfg.Users <= 0 {
		return nil, fmt.Errorf("classifications, subjects and users must be positive")
	}
	logger.Get().Info(ctx, "generating classifications",
		logger.Int("classifications", cfg.Classifications),
		logger.Int("subjects", cfg.Subjects),
		logger.Int("users", cfg.Users),
	)

	subjects := make([]subjectTruth, cfg.Subjects)
	for i := range subjects {
		subjects[i] = subjectTruth{
			id:    subjectIDBase + int64(i),
			label: randomIndex(2),
			gold:  getRandomFloat() < cfg.GoldFraction,
		}
	}
	users := make([]string, cfg.Users)
	for i := range users {
		users[i] = "volunteer-" + strconv.Itoa(i)
	}

	plan := make([]Classification, 0, cfg.Classifications)
	for i := 0; i < cfg.Classifications; i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("context cancelled during generation: %w", err)
		}
		// walk the pool first so every subject gets at least one vote
		subj := subjects[i%len(subjects)]
		if i >= len(subjects) {
			subj = subjects[randomIndex(len(subjects))]
		}
		plan = append(plan, newClassification(subj, users[randomIndex(len(users))]))
	}
	stats.Generated = len(plan)

	dups := int(math.Round(float64(cfg.Classifications) * cfg.DuplicateFraction))
	for i := 0; i < dups; i++ {
		plan = append(plan, plan[randomIndex(cfg.Classifications)])
	}
	stats.Duplicates = dups

	logger.Get().Info(ctx, "generated classifications",
		logger.Int("distinct", stats.Generated),
		logger.Int("duplicates", dups),
	)
	return plan, nil
}

func newClassification(subj subjectTruth, user string) Classification {
	vote := subj.label
	if getRandomFloat() >= userAccuracy {
		vote = 1 - vote
	}
	annotations, _ := json.Marshal([]map[string]any{{"task": "T0", "value": vote}})

	c := Classification{
		ID:          uuid.New().String(),
		SubjectID:   subj.id,
		UserID:      user,
		Annotations: annotations,
	}
	if subj.gold {
		label := subj.label
		c.GoldLabel = &label
	}
	return c
}

// expectedSubjects returns the distinct subjects in plan.
func expectedSubjects(plan []Classification) map[int64]struct{} {
	out := make(map[int64]struct{})
	for _, c := range plan {
		out[c.SubjectID] = struct{}{}
	}
	return out
}
