package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"soul-teller/server/internal/dialogue"
)

// DialogueRequest is free text addressed to the character
type DialogueRequest struct {
	Message string `json:"message"`
}

func decodeMessage(r *http.Request) (string, error) {
	var req DialogueRequest
	if err := decodeJSON(r, &req); err != nil {
		return "", err
	}
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return "", badRequest("message is required")
	}
	return msg, nil
}

func (h *Handlers) Talk(w http.ResponseWriter, r *http.Request) {
	msg, err := decodeMessage(r)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := h.Room.Talk(r.Context(), msg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, result)
}

func (h *Handlers) QuickReply(w http.ResponseWriter, r *http.Request) {
	msg, err := decodeMessage(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, dialogue.QuickResponse(msg))
}

// StreamReply answers as server-sent events: one data event per delta, then
// a done or error event.
func (h *Handlers) StreamReply(w http.ResponseWriter, r *http.Request) {
	if h.Dialogue == nil {
		writeError(w, fmt.Errorf("dialogue streaming: %w", errUnavailable))
		return
	}
	msg, err := decodeMessage(r)
	if err != nil {
		writeError(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, fmt.Errorf("streaming unsupported: %w", errUnavailable))
		return
	}

	var dctx *dialogue.Context
	if session := h.Engine.CurrentSession(); session != nil && session.CurrentNode != nil {
		dctx = &dialogue.Context{NodeContent: session.CurrentNode.Content.Narrative}
		for _, c := range session.CurrentNode.Choices {
			dctx.Choices = append(dctx.Choices, c.Text)
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	event := func(name string, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		if name != "" {
			fmt.Fprintf(w, "event: %s\n", name)
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	full, err := h.Dialogue.RespondStream(r.Context(), msg, dctx, func(delta string) error {
		return event("", map[string]string{"delta": delta})
	})
	if err != nil {
		h.logger.Warn("dialogue stream failed", "error", err)
		event("error", map[string]string{"error": err.Error()})
		return
	}
	event("done", map[string]string{"content": full})
}
