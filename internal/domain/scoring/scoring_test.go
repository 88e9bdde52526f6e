package scoring_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/okian/swapbridge/internal/domain/model"
	"github.com/okian/swapbridge/internal/domain/scoring"
	. "github.com/smartystreets/goconvey/convey"
)

func annotations(value string) json.RawMessage {
	return json.RawMessage(`[{"task":"T0","value":` + value + `}]`)
}

func event(id string, subject int64, user, value string, gold *int) model.ClassificationEvent {
	return model.ClassificationEvent{
		ID:          id,
		SubjectID:   subject,
		UserID:      user,
		Annotations: annotations(value),
		GoldLabel:   gold,
	}
}

func intp(v int) *int { return &v }

func TestSWAPEngine(t *testing.T) {
	ctx := context.Background()

	Convey("Given a fresh SWAP engine", t, func() {
		fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		engine := scoring.NewSWAP(scoring.WithClock(func() time.Time { return fixed }))

		Convey("When an unknown user votes", func() {
			res, err := engine.Classify(ctx, event("c1", 42, "u1", "1", nil))

			Convey("Then the subject keeps the prior", func() {
				So(err, ShouldBeNil)
				So(res.SubjectID, ShouldEqual, 42)
				So(res.Score, ShouldAlmostEqual, 0.12, 1e-9)
			})

			Convey("And the snapshot reflects the classification", func() {
				snap := engine.Snapshot()
				So(snap.Processed, ShouldEqual, 1)
				So(snap.Users, ShouldEqual, 1)
				So(snap.TakenAt, ShouldEqual, fixed)
				sc, ok := snap.Subject(42)
				So(ok, ShouldBeTrue)
				So(sc.Seen, ShouldEqual, 1)
				So(sc.Gold, ShouldBeNil)
			})
		})

		Convey("When a user has proven skill on gold subjects", func() {
			for i := 0; i < 8; i++ {
				_, err := engine.Classify(ctx, event("g-pos", 1, "expert", "1", intp(1)))
				So(err, ShouldBeNil)
				_, err = engine.Classify(ctx, event("g-neg", 2, "expert", "0", intp(0)))
				So(err, ShouldBeNil)
			}

			Convey("Then a positive vote raises the subject score", func() {
				res, err := engine.Classify(ctx, event("c2", 3, "expert", "true", nil))
				So(err, ShouldBeNil)
				So(res.Score, ShouldBeGreaterThan, 0.12)
			})

			Convey("And a negative vote lowers it", func() {
				res, err := engine.Classify(ctx, event("c3", 4, "expert", `"no"`, nil))
				So(err, ShouldBeNil)
				So(res.Score, ShouldBeLessThan, 0.12)
			})

			Convey("And the gold subjects are labelled in the snapshot", func() {
				sc, ok := engine.Snapshot().Subject(1)
				So(ok, ShouldBeTrue)
				So(*sc.Gold, ShouldEqual, 1)
			})

			Convey("And repeated negative votes retire the subject", func() {
				var last model.ScoredSubject
				for i := 0; i < 10; i++ {
					var err error
					last, err = engine.Classify(ctx, event("c4", 5, "expert", "0", nil))
					So(err, ShouldBeNil)
				}
				So(last.Score, ShouldBeLessThan, 0.005)
				sc, _ := engine.Snapshot().Subject(5)
				So(sc.Retired, ShouldNotBeNil)
				So(*sc.Retired, ShouldEqual, 0)
			})
		})

		Convey("When a snapshot is taken", func() {
			_, _ = engine.Classify(ctx, event("c1", 42, "u1", "1", nil))
			snap := engine.Snapshot()
			_, _ = engine.Classify(ctx, event("c2", 42, "u1", "1", nil))

			Convey("Then later classifications do not leak into it", func() {
				sc, _ := snap.Subject(42)
				So(sc.Seen, ShouldEqual, 1)
				So(snap.Processed, ShouldEqual, 1)
			})
		})

		Convey("When the classification cannot be used", func() {
			_, errSubject := engine.Classify(ctx, event("c1", 0, "u1", "1", nil))
			_, errVote := engine.Classify(ctx, event("c2", 7, "u1", `"maybe"`, nil))
			_, errGold := engine.Classify(ctx, event("c3", 7, "u1", "1", intp(3)))

			Convey("Then it is rejected without touching state", func() {
				So(errors.Is(errSubject, scoring.ErrInvalidClassification), ShouldBeTrue)
				So(errors.Is(errVote, scoring.ErrInvalidClassification), ShouldBeTrue)
				So(errors.Is(errGold, scoring.ErrInvalidClassification), ShouldBeTrue)
				So(engine.Snapshot().Processed, ShouldEqual, 0)
			})
		})

		Convey("When the context is already cancelled", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			_, err := engine.Classify(cctx, event("c1", 1, "u1", "1", nil))

			Convey("Then the error is the context error", func() {
				So(errors.Is(err, context.Canceled), ShouldBeTrue)
			})
		})
	})
}

func TestSWAPOptions(t *testing.T) {
	Convey("Given engine options", t, func() {
		Convey("When the prior is out of range", func() {
			engine := scoring.NewSWAP(scoring.WithPrior(1.5), scoring.WithRetirement(0.9, 0.1))
			res, err := engine.Classify(context.Background(), event("c1", 1, "u", "1", nil))

			Convey("Then defaults are kept", func() {
				So(err, ShouldBeNil)
				So(res.Score, ShouldAlmostEqual, 0.12, 1e-9)
			})
		})

		Convey("When a custom prior is set", func() {
			engine := scoring.NewSWAP(scoring.WithPrior(0.5))
			res, _ := engine.Classify(context.Background(), event("c1", 1, "u", "0", nil))

			Convey("Then scoring starts from it", func() {
				So(res.Score, ShouldAlmostEqual, 0.5, 1e-9)
			})
		})
	})
}

func TestVote(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want int
		err  bool
	}{
		{"bool true", `[{"task":"T0","value":true}]`, 1, false},
		{"bool false", `[{"task":"T0","value":false}]`, 0, false},
		{"number one", `[{"task":"T0","value":1}]`, 1, false},
		{"string yes", `[{"task":"T0","value":"Yes"}]`, 1, false},
		{"string zero", `[{"task":"T0","value":"0"}]`, 0, false},
		{"list value", `[{"task":"T0","value":[1,0]}]`, 1, false},
		{"single object", `{"task":"T0","value":0}`, 0, false},
		{"empty list", `[]`, 0, true},
		{"number two", `[{"task":"T0","value":2}]`, 0, true},
		{"garbage", `"nope"`, 0, true},
		{"missing", ``, 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := scoring.Vote(json.RawMessage(tc.raw))
			if tc.err {
				if !errors.Is(err, scoring.ErrInvalidClassification) {
					t.Fatalf("expected ErrInvalidClassification, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %d want %d", got, tc.want)
			}
		})
	}
}
