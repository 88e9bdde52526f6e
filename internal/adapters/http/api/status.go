package api

import (
	"context"
	"fmt"
	"net/http"
)

// StatusHandler handles the plain-text status endpoints.
type StatusHandler struct {
	bridge Bridge
	render StatusFunc
}

// NewStatusHandler creates a new status handler. A nil render reports "ok".
func NewStatusHandler(bridge Bridge, render StatusFunc) *StatusHandler {
	if render == nil {
		render = func(context.Context) string { return "ok" }
	}
	return &StatusHandler{bridge: bridge, render: render}
}

// HandleStatus handles GET / and GET /status requests.
func (h *StatusHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if !h.bridge.Alive() {
		writeText(w, http.StatusInternalServerError, failureText(h.bridge.Err()))
		return
	}
	writeText(w, http.StatusOK, h.render(r.Context()))
}

func failureText(err error) string {
	if err == nil {
		err = ErrWorkerDead
	}
	return fmt.Sprintf("Exception in scoring worker\n%v\n", err)
}
