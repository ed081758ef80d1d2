package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ddrc/queue-service/internal/models"
	"ddrc/queue-service/internal/store"
)

const (
	defaultEventPage = 100
	maxEventPage     = 500
)

// EventHistory is a durable copy of the committed event stream, written by the
// outbox dispatcher and therefore slightly behind the engine.
type EventHistory interface {
	Name() string
	TokenEvents(ctx context.Context, token models.Token) ([]store.TokenEvent, error)
	ListEvents(ctx context.Context, after time.Time, limit int) ([]store.Event, error)
}

type historyResponse struct {
	Token        models.Token       `json:"token"`
	Source       string             `json:"source"`
	Events       []store.TokenEvent `json:"events"`
	JournalValid bool               `json:"journal_valid"`
}

type eventsResponse struct {
	Source string        `json:"source"`
	Events []store.Event `json:"events"`
}

// handleTokenHistory serves the token's chain from the durable history, or
// from the engine's in-memory journal when none is configured.
func (h *Handler) handleTokenHistory(w http.ResponseWriter, r *http.Request, token models.Token) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	resp := historyResponse{Token: token, Source: "memory"}
	if h.history == nil {
		resp.Events = h.engine.Events(token)
	} else {
		events, err := h.history.TokenEvents(r.Context(), token)
		if err != nil {
			writeMappedError(w, r, err)
			return
		}
		resp.Source = h.history.Name()
		resp.Events = events
	}
	if resp.Events == nil {
		resp.Events = []store.TokenEvent{}
	}
	resp.JournalValid = store.VerifyTokenEvents(resp.Events) == nil
	writeJSON(w, http.StatusOK, resp)
}

// handleEvents pages through the durable event history:
// GET /api/events?after=<RFC3339>&limit=<n>.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.history == nil {
		writeError(w, requestIDFromRequest(r), http.StatusNotImplemented, "history_disabled", "no event history is configured")
		return
	}

	query := r.URL.Query()
	var after time.Time
	if raw := strings.TrimSpace(query.Get("after")); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_query", "after must be an RFC3339 timestamp")
			return
		}
		after = parsed
	}
	limit := defaultEventPage
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_query", "limit must be a positive integer")
			return
		}
		limit = min(n, maxEventPage)
	}

	events, err := h.history.ListEvents(r.Context(), after, limit)
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	if events == nil {
		events = []store.Event{}
	}
	writeJSON(w, http.StatusOK, eventsResponse{Source: h.history.Name(), Events: events})
}
