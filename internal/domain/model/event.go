// Package model contains domain models passed between layers.
package model

import (
	"encoding/json"
	"strconv"
	"time"
)

// ClassificationEvent is a single crowdsourced judgment about a subject as
// delivered by the reduction service. It is never mutated after parsing.
type ClassificationEvent struct {
	ID          string          // unique classification id, used for dedupe
	SubjectID   int64           // subject the judgment is about
	UserID      string          // user id, or user name for anonymous sessions
	Annotations json.RawMessage // annotation payload as received
	GoldLabel   *int            // expert label when the subject is a gold standard
	ReceivedAt  time.Time
}

// HasGold reports whether the event carries a gold label.
func (e ClassificationEvent) HasGold() bool { return e.GoldLabel != nil }

// ScoredSubject is the outcome of processing one classification: the
// subject's new score, pushed back as a reduction.
type ScoredSubject struct {
	SubjectID int64
	Score     float64
}

// SubjectScore is the exported state of one subject.
type SubjectScore struct {
	SubjectID int64   `json:"subject_id"`
	Score     float64 `json:"score"`
	Seen      int     `json:"seen"`
	Gold      *int    `json:"gold,omitempty"`
	Retired   *int    `json:"retired,omitempty"`
}

// ScoreSnapshot is a fully materialized copy of scoring state. Subjects is
// keyed by the decimal subject id. A snapshot is never modified once built.
type ScoreSnapshot struct {
	Subjects  map[string]SubjectScore `json:"subjects"`
	Users     int                     `json:"users"`
	Processed int64                   `json:"processed"`
	TakenAt   time.Time               `json:"taken_at"`
}

// Subject looks up a subject by id.
func (s ScoreSnapshot) Subject(id int64) (SubjectScore, bool) {
	sc, ok := s.Subjects[strconv.FormatInt(id, 10)]
	return sc, ok
}

// Credential is a username/secret pair.
type Credential struct {
	Username string
	Secret   string
}
