package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/okian/swapbridge/internal/adapters/mq/queue"
	"github.com/okian/swapbridge/internal/domain/dedupe"
	"github.com/okian/swapbridge/internal/domain/model"
	"github.com/okian/swapbridge/pkg/logger"
	"github.com/okian/swapbridge/pkg/metrics"
)

const (
	maxClassificationBytes = 1 << 20
	anonymousUser          = "anonymous"
)

// classificationRequest is the extractor payload. Ids arrive as numbers or
// strings depending on the sender, so they are decoded loosely.
type classificationRequest struct {
	ID          json.RawMessage   `json:"id"`
	SubjectID   json.RawMessage   `json:"subject_id"`
	SubjectIDs  []json.RawMessage `json:"subject_ids"`
	UserID      json.RawMessage   `json:"user_id"`
	UserName    string            `json:"user_name"`
	Annotations json.RawMessage   `json:"annotations"`
	GoldLabel   json.RawMessage   `json:"gold_label"`
}

// event converts the request. Only a missing id is an error; a classification
// the scorer cannot use is rejected later by the worker.
func (c classificationRequest) event(now time.Time) (model.ClassificationEvent, error) {
	id := looseString(c.ID)
	if id == "" {
		return model.ClassificationEvent{}, errors.New("missing id")
	}

	ev := model.ClassificationEvent{
		ID:          id,
		Annotations: c.Annotations,
		ReceivedAt:  now,
	}

	subject := c.SubjectID
	if isNull(subject) && len(c.SubjectIDs) > 0 {
		subject = c.SubjectIDs[0]
	}
	if s := looseString(subject); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return model.ClassificationEvent{}, fmt.Errorf("invalid subject_id %q", s)
		}
		ev.SubjectID = n
	}

	ev.UserID = looseString(c.UserID)
	if ev.UserID == "" {
		ev.UserID = strings.TrimSpace(c.UserName)
	}
	if ev.UserID == "" {
		ev.UserID = anonymousUser
	}

	if g := looseString(c.GoldLabel); g != "" {
		n, err := strconv.Atoi(g)
		if err != nil {
			return model.ClassificationEvent{}, fmt.Errorf("invalid gold_label %q", g)
		}
		ev.GoldLabel = &n
	}
	return ev, nil
}

func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

// looseString returns a JSON string's value or a number's literal text.
func looseString(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// ClassifyHandler accepts classifications from the reduction service.
type ClassifyHandler struct {
	deduper dedupe.Deduper
	bridge  Bridge
	notify  queue.Callback
	logger  logger.Logger
	now     func() time.Time
}

// NewClassifyHandler creates a new classify handler.
func NewClassifyHandler(deduper dedupe.Deduper, bridge Bridge, notify queue.Callback, l logger.Logger) *ClassifyHandler {
	return &ClassifyHandler{
		deduper: deduper,
		bridge:  bridge,
		notify:  notify,
		logger:  l,
		now:     time.Now,
	}
}

// HandleClassify handles POST /classify requests. Accepted and duplicate
// classifications both get 204; processing happens later on the worker.
func (h *ClassifyHandler) HandleClassify(w http.ResponseWriter, r *http.Request) {
	const op = "api.classify"
	ctx := r.Context()
	metrics.RecordClassificationReceived()

	if !h.bridge.Alive() {
		metrics.RecordClassificationRejected("worker_failed")
		writeText(w, http.StatusInternalServerError, failureText(h.bridge.Err()))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxClassificationBytes))
	if err != nil {
		metrics.RecordClassificationRejected("read_error")
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	var req classificationRequest
	if err := json.Unmarshal(body, &req); err != nil {
		metrics.RecordClassificationRejected("invalid_json")
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	ev, err := req.event(h.now())
	if err != nil {
		metrics.RecordClassificationRejected("invalid_fields")
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	if h.deduper.SeenAndRecord(ctx, ev.ID) {
		metrics.RecordClassificationDuplicate()
		h.logger.Info(ctx, "filtering duplicate classification", logger.String("classification", ev.ID))
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := h.bridge.Enqueue(ctx, queue.ActionClassify, ev, h.notify); err != nil {
		// let the sender retry this id
		h.deduper.Unrecord(ctx, ev.ID)
		metrics.RecordClassificationRejected("backpressure")
		h.logger.Warn(ctx, "classification not queued",
			logger.String("classification", ev.ID),
			logger.Error(err),
		)
		writeError(w, http.StatusServiceUnavailable, "backpressure", WrapKind(op, ErrBackpressure, err))
		return
	}

	metrics.RecordClassificationAccepted()
	h.logger.Debug(ctx, "classification queued",
		logger.String("classification", ev.ID),
		logger.Int64("subject", ev.SubjectID),
		logger.String("user", ev.UserID),
	)
	w.WriteHeader(http.StatusNoContent)
}
