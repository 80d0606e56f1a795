package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/upb/pulse/models"
	"github.com/upb/pulse/utils"
	"go.uber.org/zap"
)

// EventQuerier reads recorded dispatch events
type EventQuerier interface {
	Query(ctx context.Context, filter models.DispatchEventFilter) ([]*models.DispatchEvent, error)
	FailureCounts(ctx context.Context, since time.Time) (map[string]int, error)
}

// EventHandler exposes a user's dispatch history
type EventHandler struct {
	events EventQuerier
	logger *zap.Logger
	now    func() time.Time
}

// NewEventHandler creates a new EventHandler
func NewEventHandler(events EventQuerier, logger *zap.Logger) *EventHandler {
	return &EventHandler{events: events, logger: logger, now: time.Now}
}

// HandleListEvents handles GET /events?limit=&offset=&provider=&failed=
func (h *EventHandler) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	limit, err := utils.ParseOptionalInt(q.Get("limit"), "limit")
	if err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}
	offset, err := utils.ParseOptionalInt(q.Get("offset"), "offset")
	if err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}

	filter := models.DispatchEventFilter{
		UserID:   userID,
		Provider: q.Get("provider"),
	}
	if limit != nil {
		filter.Limit = *limit
	}
	if offset != nil {
		filter.Offset = *offset
	}
	switch q.Get("failed") {
	case "true":
		failed := true
		filter.Failed = &failed
	case "false":
		failed := false
		filter.Failed = &failed
	}

	events, err := h.events.Query(r.Context(), filter)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteList(w, events, len(events), nil)
}

// HandleFailureCounts handles GET /events/failures?window=1h
func (h *EventHandler) HandleFailureCounts(w http.ResponseWriter, r *http.Request) {
	window := time.Hour
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			_ = utils.WriteBadRequest(w, "window must be a positive duration", nil)
			return
		}
		window = d
	}

	since := h.now().Add(-window).UTC()
	counts, err := h.events.FailureCounts(r.Context(), since)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, map[string]interface{}{
		"since":    since.Format(time.RFC3339),
		"failures": counts,
	})
}
