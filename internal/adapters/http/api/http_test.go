package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/okian/swapbridge/internal/adapters/http/api"
	"github.com/okian/swapbridge/internal/adapters/mq/queue"
	"github.com/okian/swapbridge/internal/adapters/mq/worker"
	"github.com/okian/swapbridge/internal/auth"
	"github.com/okian/swapbridge/internal/domain/dedupe"
	"github.com/okian/swapbridge/internal/domain/model"
	"github.com/okian/swapbridge/internal/domain/scoring"
	logging "github.com/okian/swapbridge/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMain(m *testing.M) {
	_ = logging.Init()
	os.Exit(m.Run())
}

// countingEngine records every classification the worker applies.
type countingEngine struct {
	scoring.Engine

	mu   sync.Mutex
	seen map[string]int
	fail error
}

func newCountingEngine() *countingEngine {
	return &countingEngine{Engine: scoring.NewSWAP(), seen: make(map[string]int)}
}

func (c *countingEngine) Classify(ctx context.Context, ev model.ClassificationEvent) (model.ScoredSubject, error) {
	c.mu.Lock()
	c.seen[ev.ID]++
	fail := c.fail
	c.mu.Unlock()
	if fail != nil {
		return model.ScoredSubject{}, fail
	}
	return c.Engine.Classify(ctx, ev)
}

func (c *countingEngine) count(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seen[id]
}

func (c *countingEngine) setFail(err error) {
	c.mu.Lock()
	c.fail = err
	c.mu.Unlock()
}

// stubBridge lets tests control liveness and enqueue results directly.
type stubBridge struct {
	alive      bool
	err        error
	enqueueErr error
	enqueued   []model.ClassificationEvent
	snapshot   model.ScoreSnapshot
}

func (s *stubBridge) Enqueue(_ context.Context, _ queue.Action, payload any, _ queue.Callback) error {
	if s.enqueueErr != nil {
		return s.enqueueErr
	}
	s.enqueued = append(s.enqueued, payload.(model.ClassificationEvent))
	return nil
}
func (s *stubBridge) Scores() model.ScoreSnapshot { return s.snapshot }
func (s *stubBridge) Alive() bool                 { return s.alive }
func (s *stubBridge) Err() error                  { return s.err }

const (
	user   = "caesar"
	secret = "abc\n 123"
)

func newGate() *auth.Gate {
	return auth.NewGate(model.Credential{Username: user, Secret: secret}, auth.WithRealm("swap"))
}

func post(h http.Handler, body string, authed bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/classify", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.SetBasicAuth(user, "abc123")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func get(h http.Handler, path string, authed bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authed {
		req.SetBasicAuth(user, "abc123")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func TestServer_EndToEnd(t *testing.T) {
	Convey("Given a server in front of a running bridge", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		engine := newCountingEngine()
		bridge := worker.NewBridge(queue.NewInMemoryQueue(), engine)
		So(bridge.Start(ctx), ShouldBeNil)

		var mu sync.Mutex
		var notified []model.ScoredSubject
		notify := func(_ context.Context, s model.ScoredSubject) error {
			mu.Lock()
			notified = append(notified, s)
			mu.Unlock()
			return nil
		}

		srv := api.NewServer(dedupe.NewWindowDeduper(), bridge, newGate(),
			api.WithNotifier(notify),
			api.WithStatus(func(context.Context) string { return "proj bridge: state=idle" }),
		)
		h := srv.Routes()

		Convey("When the same classification is posted twice", func() {
			body := `{"id": "c1", "subject_id": 42, "user_id": 7, "annotations": [{"task": "T0", "value": 1}]}`
			first := post(h, body, true)
			second := post(h, body, true)

			Convey("Then both get 204 and the engine sees it once", func() {
				So(first.Code, ShouldEqual, http.StatusNoContent)
				So(second.Code, ShouldEqual, http.StatusNoContent)
				So(first.Body.Len(), ShouldEqual, 0)
				So(waitFor(func() bool { return engine.count("c1") == 1 }), ShouldBeTrue)
				time.Sleep(20 * time.Millisecond)
				So(engine.count("c1"), ShouldEqual, 1)
			})

			Convey("And the notifier receives the subject's new score", func() {
				So(waitFor(func() bool {
					mu.Lock()
					defer mu.Unlock()
					return len(notified) == 1
				}), ShouldBeTrue)
				So(notified[0].SubjectID, ShouldEqual, 42)
			})

			Convey("And the scores endpoint exports it", func() {
				So(waitFor(func() bool { return bridge.Processed() == 1 }), ShouldBeTrue)
				w := get(h, "/scores", true)
				So(w.Code, ShouldEqual, http.StatusOK)
				var snap model.ScoreSnapshot
				So(json.Unmarshal(w.Body.Bytes(), &snap), ShouldBeNil)
				_, ok := snap.Subject(42)
				So(ok, ShouldBeTrue)
			})
		})

		Convey("When more than ten other ids arrive in between", func() {
			body := `{"id": "c1", "subject_id": 42, "annotations": [{"task": "T0", "value": 1}]}`
			post(h, body, true)
			for i := 0; i < 10; i++ {
				post(h, fmt.Sprintf(`{"id": "x%d", "subject_id": 43, "annotations": [{"task": "T0", "value": 0}]}`, i), true)
			}
			post(h, body, true)

			Convey("Then the first id is processed again", func() {
				So(waitFor(func() bool { return engine.count("c1") == 2 }), ShouldBeTrue)
			})
		})

		Convey("When the worker has failed", func() {
			post(h, `{"id": "ok", "subject_id": 5, "annotations": [{"task": "T0", "value": 1}]}`, true)
			So(waitFor(func() bool { return bridge.Processed() == 1 }), ShouldBeTrue)

			engine.setFail(errors.New("engine state corrupt"))
			post(h, `{"id": "boom", "subject_id": 6, "annotations": [{"task": "T0", "value": 1}]}`, true)
			So(waitFor(func() bool { return !bridge.Alive() }), ShouldBeTrue)

			Convey("Then classify answers 500 with the failure", func() {
				w := post(h, `{"id": "c9", "subject_id": 9}`, true)
				So(w.Code, ShouldEqual, http.StatusInternalServerError)
				So(w.Body.String(), ShouldContainSubstring, "engine state corrupt")
			})

			Convey("And status reports the failure too", func() {
				w := get(h, "/status", false)
				So(w.Code, ShouldEqual, http.StatusInternalServerError)
				So(w.Body.String(), ShouldContainSubstring, "engine state corrupt")
			})

			Convey("And scores still return the last snapshot", func() {
				w := get(h, "/scores", true)
				So(w.Code, ShouldEqual, http.StatusOK)
				var snap model.ScoreSnapshot
				So(json.Unmarshal(w.Body.Bytes(), &snap), ShouldBeNil)
				_, ok := snap.Subject(5)
				So(ok, ShouldBeTrue)
				So(snap.Processed, ShouldEqual, 1)
			})
		})

		Convey("When requests come without credentials", func() {
			Convey("Then classify and scores challenge", func() {
				w := post(h, `{"id": "c1"}`, false)
				So(w.Code, ShouldEqual, http.StatusUnauthorized)
				So(w.Header().Get("WWW-Authenticate"), ShouldEqual, `Basic realm="swap"`)

				w = get(h, "/scores", false)
				So(w.Code, ShouldEqual, http.StatusUnauthorized)
			})

			Convey("And status and metrics stay open", func() {
				w := get(h, "/", false)
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldEqual, "proj bridge: state=idle")

				w = get(h, "/metrics", false)
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, "swap_bridge_")
			})
		})
	})
}

func TestClassifyHandler_Parsing(t *testing.T) {
	Convey("Given a server with a stub bridge", t, func() {
		bridge := &stubBridge{alive: true}
		deduper := dedupe.NewWindowDeduper()
		h := api.NewServer(deduper, bridge, newGate()).Routes()

		Convey("When the id is missing", func() {
			w := post(h, `{"subject_id": 1}`, true)

			Convey("Then it is a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(w.Body.String(), ShouldContainSubstring, "missing id")
				So(len(bridge.enqueued), ShouldEqual, 0)
			})
		})

		Convey("When the body is not JSON", func() {
			w := post(h, `not json`, true)

			Convey("Then it is a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When fields use numbers, strings and lists", func() {
			w := post(h, `{"id": 1234, "subject_ids": ["77"], "user_name": "alice", "gold_label": "1", "annotations": []}`, true)

			Convey("Then they are normalized", func() {
				So(w.Code, ShouldEqual, http.StatusNoContent)
				So(len(bridge.enqueued), ShouldEqual, 1)
				ev := bridge.enqueued[0]
				So(ev.ID, ShouldEqual, "1234")
				So(ev.SubjectID, ShouldEqual, 77)
				So(ev.UserID, ShouldEqual, "alice")
				So(*ev.GoldLabel, ShouldEqual, 1)
				So(ev.ReceivedAt.IsZero(), ShouldBeFalse)
			})
		})

		Convey("When no user is given", func() {
			post(h, `{"id": "c1", "subject_id": 3}`, true)

			Convey("Then the classification is anonymous", func() {
				So(bridge.enqueued[0].UserID, ShouldEqual, "anonymous")
			})
		})

		Convey("When the subject id is not a number", func() {
			w := post(h, `{"id": "c1", "subject_id": "abc"}`, true)

			Convey("Then it is a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When the queue is full", func() {
			bridge.enqueueErr = queue.ErrQueueFull
			w := post(h, `{"id": "c1", "subject_id": 3}`, true)

			Convey("Then the sender is told to retry and the id is forgotten", func() {
				So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
				So(w.Body.String(), ShouldContainSubstring, "backpressure")
				So(deduper.Size(), ShouldEqual, 0)

				bridge.enqueueErr = nil
				w = post(h, `{"id": "c1", "subject_id": 3}`, true)
				So(w.Code, ShouldEqual, http.StatusNoContent)
				So(len(bridge.enqueued), ShouldEqual, 1)
			})
		})

		Convey("When the worker failed without a recorded cause", func() {
			bridge.alive = false
			w := post(h, `{"id": "c1"}`, true)

			Convey("Then the body still explains it", func() {
				So(w.Code, ShouldEqual, http.StatusInternalServerError)
				So(w.Body.String(), ShouldContainSubstring, api.ErrWorkerDead.Error())
			})
		})
	})
}

func TestError(t *testing.T) {
	Convey("Given wrapped API errors", t, func() {
		cause := errors.New("eof")
		err := api.WrapKind("api.classify", api.ErrBadRequest, cause)

		Convey("Then both kind and cause are visible", func() {
			So(errors.Is(err, api.ErrBadRequest), ShouldBeTrue)
			So(errors.Is(err, cause), ShouldBeTrue)
			So(err.Error(), ShouldEqual, "api.classify: bad request: eof")
		})
	})
}
