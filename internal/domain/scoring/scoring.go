// Package scoring defines the contract between the control bridge and the
// scoring engine, plus the default SWAP engine.
package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/okian/swapbridge/internal/domain/model"
)

// Default scoring configuration constants.
const (
	defaultPrior      = 0.12
	defaultRetireLow  = 0.005
	defaultRetireHigh = 0.99
)

// ErrInvalidClassification marks a classification the engine cannot use.
// It is not fatal for the worker: the item is skipped.
var ErrInvalidClassification = errors.New("invalid classification")

// Engine is the narrow surface the control bridge drives. Implementations
// are not safe for concurrent use; the bridge owns its engine exclusively.
type Engine interface {
	// Classify applies one classification and returns the subject's new score.
	Classify(ctx context.Context, ev model.ClassificationEvent) (model.ScoredSubject, error)

	// Snapshot materializes the full scoring state.
	Snapshot() model.ScoreSnapshot
}

// Option applies a configuration option to the SWAP engine.
type Option func(*SWAP)

// WithPrior sets the starting probability that a subject is positive.
func WithPrior(prior float64) Option {
	return func(s *SWAP) {
		if prior > 0 && prior < 1 {
			s.prior = prior
		}
	}
}

// WithRetirement sets the thresholds at which a subject is labelled.
func WithRetirement(low, high float64) Option {
	return func(s *SWAP) {
		if low > 0 && high < 1 && low < high {
			s.retireLow = low
			s.retireHigh = high
		}
	}
}

// WithClock overrides the time source used for snapshots.
func WithClock(now func() time.Time) Option {
	return func(s *SWAP) {
		if now != nil {
			s.now = now
		}
	}
}

// agent is one user's confusion estimate, counts[gold][vote].
type agent struct {
	counts [2][2]int
}

// pl is P(vote=1 | truth=1), Laplace smoothed.
func (a *agent) pl() float64 {
	return float64(a.counts[1][1]+1) / float64(a.counts[1][0]+a.counts[1][1]+2)
}

// pd is P(vote=0 | truth=0), Laplace smoothed.
func (a *agent) pd() float64 {
	return float64(a.counts[0][0]+1) / float64(a.counts[0][0]+a.counts[0][1]+2)
}

type subject struct {
	score   float64
	seen    int
	gold    *int
	retired *int
}

// SWAP scores subjects by Bayesian updates weighted by each user's
// demonstrated skill on gold standard subjects.
type SWAP struct {
	prior      float64
	retireLow  float64
	retireHigh float64
	now        func() time.Time

	agents    map[string]*agent
	subjects  map[int64]*subject
	processed int64
}

// NewSWAP creates an empty SWAP engine.
func NewSWAP(opts ...Option) *SWAP {
	s := &SWAP{
		prior:      defaultPrior,
		retireLow:  defaultRetireLow,
		retireHigh: defaultRetireHigh,
		now:        time.Now,
		agents:     make(map[string]*agent),
		subjects:   make(map[int64]*subject),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Classify applies one vote to the subject, then learns from the gold label
// if the subject has one.
func (s *SWAP) Classify(ctx context.Context, ev model.ClassificationEvent) (model.ScoredSubject, error) {
	if err := ctx.Err(); err != nil {
		return model.ScoredSubject{}, fmt.Errorf("classify %s: %w", ev.ID, err)
	}
	if ev.SubjectID <= 0 {
		return model.ScoredSubject{}, fmt.Errorf("classify %s: missing subject: %w", ev.ID, ErrInvalidClassification)
	}
	vote, err := Vote(ev.Annotations)
	if err != nil {
		return model.ScoredSubject{}, fmt.Errorf("classify %s: %w", ev.ID, err)
	}
	if ev.HasGold() && *ev.GoldLabel != 0 && *ev.GoldLabel != 1 {
		return model.ScoredSubject{}, fmt.Errorf("classify %s: gold label %d: %w", ev.ID, *ev.GoldLabel, ErrInvalidClassification)
	}

	user := s.agents[ev.UserID]
	if user == nil {
		user = &agent{}
		s.agents[ev.UserID] = user
	}
	subj := s.subjects[ev.SubjectID]
	if subj == nil {
		subj = &subject{score: s.prior}
		s.subjects[ev.SubjectID] = subj
	}

	pl, pd := user.pl(), user.pd()
	p := subj.score
	if vote == 1 {
		subj.score = p * pl / (p*pl + (1-p)*(1-pd))
	} else {
		subj.score = p * (1 - pl) / (p*(1-pl) + (1-p)*pd)
	}
	subj.seen++

	if ev.HasGold() {
		g := *ev.GoldLabel
		subj.gold = &g
		user.counts[g][vote]++
	}

	if subj.retired == nil {
		switch {
		case subj.score <= s.retireLow:
			r := 0
			subj.retired = &r
		case subj.score >= s.retireHigh:
			r := 1
			subj.retired = &r
		}
	}

	s.processed++
	return model.ScoredSubject{SubjectID: ev.SubjectID, Score: subj.score}, nil
}

// Snapshot copies the current state into a new ScoreSnapshot.
func (s *SWAP) Snapshot() model.ScoreSnapshot {
	out := model.ScoreSnapshot{
		Subjects:  make(map[string]model.SubjectScore, len(s.subjects)),
		Users:     len(s.agents),
		Processed: s.processed,
		TakenAt:   s.now().UTC(),
	}
	for id, subj := range s.subjects {
		sc := model.SubjectScore{SubjectID: id, Score: subj.score, Seen: subj.seen}
		if subj.gold != nil {
			g := *subj.gold
			sc.Gold = &g
		}
		if subj.retired != nil {
			r := *subj.retired
			sc.Retired = &r
		}
		out.Subjects[strconv.FormatInt(id, 10)] = sc
	}
	return out
}

// annotation is one task answer in the reduction service's payload.
type annotation struct {
	Task  string          `json:"task"`
	Value json.RawMessage `json:"value"`
}

// Vote reads a binary vote from the first annotation. Accepted values are
// booleans, 0/1 numbers and yes/no/true/false/0/1 strings. A list value uses
// its first element.
func Vote(raw json.RawMessage) (int, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("no annotations: %w", ErrInvalidClassification)
	}

	var list []annotation
	if err := json.Unmarshal(raw, &list); err != nil {
		var single annotation
		if err := json.Unmarshal(raw, &single); err != nil {
			return 0, fmt.Errorf("annotations: %w", ErrInvalidClassification)
		}
		list = []annotation{single}
	}
	if len(list) == 0 || len(list[0].Value) == 0 {
		return 0, fmt.Errorf("empty annotation: %w", ErrInvalidClassification)
	}
	return voteValue(list[0].Value)
}

func voteValue(raw json.RawMessage) (int, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("annotation value: %w", ErrInvalidClassification)
	}
	switch t := v.(type) {
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	case float64:
		switch t {
		case 0:
			return 0, nil
		case 1:
			return 1, nil
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "yes", "true", "y":
			return 1, nil
		case "0", "no", "false", "n":
			return 0, nil
		}
	case []any:
		if len(t) > 0 {
			first, err := json.Marshal(t[0])
			if err != nil {
				return 0, fmt.Errorf("annotation value: %w", ErrInvalidClassification)
			}
			return voteValue(first)
		}
	}
	return 0, fmt.Errorf("unrecognized annotation value %s: %w", string(raw), ErrInvalidClassification)
}
