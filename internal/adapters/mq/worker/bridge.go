// Package worker contains the control bridge: the single goroutine that owns
// the scoring engine and applies work items one at a time.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/okian/swapbridge/internal/adapters/mq/queue"
	"github.com/okian/swapbridge/internal/domain/model"
	"github.com/okian/swapbridge/internal/domain/scoring"
	"github.com/okian/swapbridge/pkg/logger"
	"github.com/okian/swapbridge/pkg/metrics"
)

// State is the worker lifecycle state.
type State int32

// Worker states. Failed is terminal.
const (
	StateIdle State = iota
	StateProcessing
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProcessing:
		return "processing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Archive stores processed classifications so a restart can rebuild state.
type Archive interface {
	Append(ctx context.Context, ev model.ClassificationEvent) error
	Replay(ctx context.Context, fn func(model.ClassificationEvent) error) error
}

// Bridge serializes all access to a scoring engine. Producers call Enqueue
// from any goroutine; a single worker goroutine drains the queue in FIFO
// order. Readers get the last published snapshot through Scores.
type Bridge struct {
	queue      queue.Queue
	engine     scoring.Engine
	archive    Archive
	replayHook func(model.ClassificationEvent)

	state     atomic.Int32
	processed atomic.Int64
	started   atomic.Bool
	stopped   atomic.Bool

	failMu  sync.RWMutex
	failure error

	snapMu   sync.RWMutex
	snapshot model.ScoreSnapshot

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewBridge creates a bridge that owns engine. The engine must not be used
// by anything else afterwards.
func NewBridge(q queue.Queue, engine scoring.Engine, opts ...Option) *Bridge {
	b := &Bridge{
		queue:    q,
		engine:   engine,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(b)
	}

	if b.logger == nil {
		b.logger = logger.Get().Named("bridge")
	}

	b.snapshot = engine.Snapshot()
	metrics.UpdateWorkerState(metrics.WorkerStateIdle)

	return b
}

// Start replays the archive, if any, and launches the worker goroutine.
// Replay happens before the first queued item is consumed.
func (b *Bridge) Start(ctx context.Context) error {
	if !b.started.CompareAndSwap(false, true) {
		return nil
	}

	if b.archive != nil {
		if err := b.replay(ctx); err != nil {
			close(b.done)
			if cancelled(ctx, err) {
				b.stopped.Store(true)
				return fmt.Errorf("replay: %w", err)
			}
			b.fail(ctx, err)
			return b.Err()
		}
	}

	go b.Run(ctx)
	return nil
}

func (b *Bridge) replay(ctx context.Context) error {
	start := time.Now()
	var replayed, skipped int
	err := b.archive.Replay(ctx, func(ev model.ClassificationEvent) error {
		if _, err := b.engine.Classify(ctx, ev); err != nil {
			if errors.Is(err, scoring.ErrInvalidClassification) {
				skipped++
				return nil
			}
			return fmt.Errorf("replay %s: %w", ev.ID, err)
		}
		replayed++
		if b.replayHook != nil {
			b.replayHook(ev)
		}
		return nil
	})
	if err != nil {
		return err
	}

	b.publish()
	b.processed.Add(int64(replayed))
	b.logger.Info(ctx, "archive replayed",
		logger.Int("replayed", replayed),
		logger.Int("skipped", skipped),
		logger.Duration("took", time.Since(start)),
	)
	return nil
}

// Run is the worker loop. It returns when ctx is cancelled, Shutdown is
// called, the queue is closed, or the engine fails. Only an engine error
// moves the worker to Failed; cancellation is a clean stop.
func (b *Bridge) Run(ctx context.Context) {
	defer close(b.done)

	items := b.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			b.stop(ctx)
			return
		case <-b.shutdown:
			b.stop(ctx)
			return
		case item, ok := <-items:
			if !ok {
				b.stop(ctx)
				return
			}
			if err := b.process(ctx, item); err != nil {
				if cancelled(ctx, err) {
					b.logger.Info(ctx, "worker cancelled mid-item; item dropped",
						logger.String("item", item.ID),
					)
					b.stop(ctx)
					return
				}
				b.fail(ctx, err)
				return
			}
		}
	}
}

// stop marks a clean exit. Enqueue rejects new items afterwards.
func (b *Bridge) stop(ctx context.Context) {
	b.stopped.Store(true)
	b.setState(StateIdle)
	b.logger.Debug(ctx, "worker stopped", logger.Int("queued", b.queue.Len(ctx)))
}

// cancelled reports whether err is ctx's own cancellation rather than an
// engine failure.
func cancelled(ctx context.Context, err error) bool {
	cause := ctx.Err()
	return cause != nil && errors.Is(err, cause)
}

// process applies one item. A returned error is unrecoverable.
func (b *Bridge) process(ctx context.Context, item queue.WorkItem) (err error) {
	b.setState(StateProcessing)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic processing %s: %v", item.ID, r)
		}
		if err == nil {
			b.setState(StateIdle)
		}
	}()

	metrics.UpdateQueueSize(b.queue.Len(ctx))

	switch item.Action {
	case queue.ActionClassify:
		return b.classify(ctx, item)
	default:
		metrics.RecordItemProcessed(string(item.Action), "unknown_action")
		b.logger.Warn(ctx, "skipping work item with unknown action",
			logger.String("item", item.ID),
			logger.String("action", string(item.Action)),
		)
		return nil
	}
}

func (b *Bridge) classify(ctx context.Context, item queue.WorkItem) error {
	ev, ok := item.Payload.(model.ClassificationEvent)
	if !ok {
		metrics.RecordItemProcessed(string(item.Action), "invalid_payload")
		b.logger.Warn(ctx, "skipping classify item with unexpected payload",
			logger.String("item", item.ID),
			logger.String("type", fmt.Sprintf("%T", item.Payload)),
		)
		return nil
	}

	start := time.Now()
	result, err := b.engine.Classify(ctx, ev)
	metrics.RecordProcessingLatency(float64(time.Since(start).Milliseconds()))
	if err != nil {
		if errors.Is(err, scoring.ErrInvalidClassification) {
			metrics.RecordItemProcessed(string(item.Action), "skipped")
			b.logger.Warn(ctx, "skipping unusable classification",
				logger.String("classification", ev.ID),
				logger.Error(err),
			)
			return nil
		}
		if cancelled(ctx, err) {
			metrics.RecordItemProcessed(string(item.Action), "cancelled")
			return err
		}
		metrics.RecordItemProcessed(string(item.Action), "failed")
		metrics.RecordErrorByComponent("worker", "scoring_error")
		return fmt.Errorf("classification %s: %w", ev.ID, err)
	}

	b.publish()
	b.processed.Add(1)
	metrics.RecordItemProcessed(string(item.Action), "ok")

	if b.archive != nil {
		if err := b.archive.Append(ctx, ev); err != nil {
			metrics.RecordArchiveError()
			b.logger.Error(ctx, "archiving classification failed",
				logger.String("classification", ev.ID),
				logger.Error(err),
			)
		}
	}

	b.logger.Debug(ctx, "classification processed",
		logger.String("item", item.ID),
		logger.String("classification", ev.ID),
		logger.Int64("subject", result.SubjectID),
		logger.Float64("score", result.Score),
		logger.Duration("queued", start.Sub(item.EnqueuedAt)),
	)

	b.complete(ctx, item, result)
	return nil
}

// complete runs the item's callback. Callback errors and panics are logged
// and never reach the worker loop.
func (b *Bridge) complete(ctx context.Context, item queue.WorkItem, result model.ScoredSubject) {
	if item.OnComplete == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordErrorByComponent("worker", "callback_panic")
			b.logger.Error(ctx, "completion callback panicked",
				logger.String("item", item.ID),
				logger.Any("panic", r),
			)
		}
	}()
	if err := item.OnComplete(ctx, result); err != nil {
		metrics.RecordErrorByComponent("worker", "callback_error")
		b.logger.Warn(ctx, "completion callback failed",
			logger.String("item", item.ID),
			logger.Int64("subject", result.SubjectID),
			logger.Error(err),
		)
	}
}

// publish replaces the readable snapshot. Only called from the goroutine
// that owns the engine, after an update has been fully applied.
func (b *Bridge) publish() {
	snap := b.engine.Snapshot()
	b.snapMu.Lock()
	b.snapshot = snap
	b.snapMu.Unlock()
	metrics.UpdateSubjectsTracked(len(snap.Subjects))
}

func (b *Bridge) fail(ctx context.Context, err error) {
	b.failMu.Lock()
	b.failure = err
	b.failMu.Unlock()
	b.setState(StateFailed)
	metrics.RecordErrorByComponent("worker", "failed")
	b.logger.Error(ctx, "worker failed; no further items will be processed", logger.Error(err))
}

func (b *Bridge) setState(s State) {
	// Failed is terminal
	for {
		cur := b.state.Load()
		if State(cur) == StateFailed {
			return
		}
		if b.state.CompareAndSwap(cur, int32(s)) {
			break
		}
	}
	switch s {
	case StateIdle:
		metrics.UpdateWorkerState(metrics.WorkerStateIdle)
	case StateProcessing:
		metrics.UpdateWorkerState(metrics.WorkerStateProcessing)
	case StateFailed:
		metrics.UpdateWorkerState(metrics.WorkerStateFailed)
	}
}

// Enqueue hands a work item to the worker and returns immediately. Items
// are still accepted after the worker has failed, up to the queue capacity;
// callers check Alive first. After a clean stop Enqueue returns ErrStopped.
func (b *Bridge) Enqueue(ctx context.Context, action queue.Action, payload any, onComplete queue.Callback) error {
	if action == "" {
		return ErrInvalidAction
	}
	if b.stopped.Load() {
		return fmt.Errorf("enqueue %s: %w", action, ErrStopped)
	}
	item := queue.WorkItem{
		ID:         uuid.NewString(),
		Action:     action,
		Payload:    payload,
		OnComplete: onComplete,
		EnqueuedAt: time.Now(),
	}
	if err := b.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("enqueue %s: %w", action, err)
	}
	return nil
}

// Scores returns the latest fully applied snapshot. It never waits for an
// item in progress.
func (b *Bridge) Scores() model.ScoreSnapshot {
	b.snapMu.RLock()
	defer b.snapMu.RUnlock()
	return b.snapshot
}

// Alive reports whether the worker has not failed.
func (b *Bridge) Alive() bool {
	return b.State() != StateFailed
}

// Err returns the failure that stopped the worker, or nil.
func (b *Bridge) Err() error {
	b.failMu.RLock()
	defer b.failMu.RUnlock()
	if b.failure == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrWorkerFailed, b.failure)
}

// State returns the current worker state.
func (b *Bridge) State() State {
	return State(b.state.Load())
}

// Processed returns how many classifications have been applied.
func (b *Bridge) Processed() int64 {
	return b.processed.Load()
}

// Queued returns the number of items waiting.
func (b *Bridge) Queued(ctx context.Context) int {
	return b.queue.Len(ctx)
}

// Shutdown stops the worker after the item in progress, if any.
func (b *Bridge) Shutdown(ctx context.Context) error {
	if !b.started.Load() {
		return ErrNotStarted
	}
	b.shutdownOnce.Do(func() { close(b.shutdown) })

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		b.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}
