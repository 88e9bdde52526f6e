// Package feeder generates synthetic classifications, posts them to a
// running bridge and checks that every subject shows up in its scores.
package feeder

import (
	"encoding/json"
	"time"
)

// Config holds configuration for a feed run.
type Config struct {
	BaseURL string // Base URL of the bridge
	User    string // basic auth user for /classify and /scores
	Secret  string // basic auth secret

	Classifications   int     // number of distinct classifications to generate
	Subjects          int     // size of the subject pool
	Users             int     // size of the user pool
	GoldFraction      float64 // share of subjects carrying a gold label
	DuplicateFraction float64 // share of extra posts that repeat an earlier id

	Workers    int           // concurrent submitters
	Timeout    time.Duration // per-request timeout
	Settle     time.Duration // how long to wait for scores to catch up
	OutputFile string        // where to save the generated classifications; empty skips
	Verbose    bool
}

// Classification is the body posted to /classify.
type Classification struct {
	ID          string          `json:"id"`
	SubjectID   int64           `json:"subject_id"`
	UserID      string          `json:"user_id"`
	Annotations json.RawMessage `json:"annotations"`
	GoldLabel   *int            `json:"gold_label,omitempty"`
}

// Stats holds run statistics.
type Stats struct {
	Generated   int
	Duplicates  int
	Submitted   int
	Accepted    int
	Backpressed int
	Failed      int

	SubjectsExpected int
	SubjectsScored   int
	Missing          []int64

	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
}
