package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/aman-zulfiqar/defi-nlq/internal/ai"
	"github.com/labstack/echo/v4"
)

// streamError is the payload of an SSE "error" event.
type streamError struct {
	Type string `json:"type"`
	AskErrorResponse
}

// streamAsk relays agent events as server-sent events. The agent stops as
// soon as ctx ends, which includes the client going away.
func (h *Handlers) streamAsk(ctx context.Context, c echo.Context, question string, opts ai.AskOptions) error {
	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	log := h.Logger.WithFields(logFields(c))

	var (
		sql    string
		total  int
		answer strings.Builder
	)
	for ev := range h.AI.AskStream(ctx, question, opts) {
		var payload any = ev
		switch ev.Type {
		case ai.EventSQL:
			sql = ev.SQL
		case ai.EventRows:
			total = ev.Total
		case ai.EventAnswerChunk:
			answer.WriteString(ev.Text)
		case ai.EventDone:
			h.logQuery(provenUserID(c), question, answer.String(), ev.Intent, ev.Source, sql, total, ev.RetryCount)
		case ai.EventError:
			_, body := askError(ev.Err, h.DevMode)
			payload = streamError{Type: ai.EventError, AskErrorResponse: body}
			log.WithError(ev.Err).Warn("streamed question failed")
		}

		if err := writeEvent(w, ev.Type, payload); err != nil {
			log.WithError(err).Debug("client went away")
			return nil
		}
	}
	return nil
}

func writeEvent(w *echo.Response, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	w.Flush()
	return nil
}
