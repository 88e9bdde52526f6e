package api

import "net/http"

// ScoresHandler exports the current score snapshot.
type ScoresHandler struct {
	bridge Bridge
}

// NewScoresHandler creates a new scores handler.
func NewScoresHandler(bridge Bridge) *ScoresHandler {
	return &ScoresHandler{bridge: bridge}
}

// HandleScores handles GET /scores requests. It reads the last published
// snapshot and works whether or not the worker is alive.
func (h *ScoresHandler) HandleScores(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.bridge.Scores())
}
