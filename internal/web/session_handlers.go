package web

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"soul-teller/server/internal/engine"
	"soul-teller/server/internal/export"
	"soul-teller/server/internal/models"
)

// StartSessionRequest opens a storyline
type StartSessionRequest struct {
	WorldID     string `json:"worldId"`
	StorylineID string `json:"storylineId"`
}

// ChoiceRequest takes a choice. AutoContinue defaults to true.
type ChoiceRequest struct {
	ChoiceID     string `json:"choiceId"`
	AutoContinue *bool  `json:"autoContinue,omitempty"`
}

// UpdateChoicesRequest replaces the choices of the current node. When NodeID
// is set the update is rejected if that node is no longer current.
type UpdateChoicesRequest struct {
	NodeID  string               `json:"nodeId,omitempty"`
	Choices []models.StoryChoice `json:"choices"`
}

// RegenerateChoicesRequest asks for fresh choices on the current node.
// Count defaults to three.
type RegenerateChoicesRequest struct {
	UserContext string `json:"userContext,omitempty"`
	Count       int    `json:"count,omitempty"`
}

// LoadSessionRequest restores a saved snapshot
type LoadSessionRequest struct {
	SessionID string `json:"sessionId"`
}

func (h *Handlers) StartSession(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.WorldID == "" || req.StorylineID == "" {
		writeError(w, badRequest("worldId and storylineId are required"))
		return
	}

	session, err := h.Room.Start(r.Context(), req.WorldID, req.StorylineID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, session)
}

// GetSession returns the current session; data is omitted when there is none
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	session := h.Engine.CurrentSession()
	if session == nil {
		writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: "no active session"})
		return
	}
	writeData(w, session)
}

func (h *Handlers) Choose(w http.ResponseWriter, r *http.Request) {
	var req ChoiceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.ChoiceID) == "" {
		writeError(w, badRequest("choiceId is required"))
		return
	}

	var (
		node *models.StoryNode
		err  error
	)
	if req.AutoContinue != nil && !*req.AutoContinue {
		node, err = h.Engine.HandleChoice(r.Context(), req.ChoiceID, false)
	} else {
		node, err = h.Room.Choose(r.Context(), req.ChoiceID)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, node)
}

func (h *Handlers) UpdateChoices(w http.ResponseWriter, r *http.Request) {
	var req UpdateChoicesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	node, err := h.Engine.UpdateCurrentNodeChoices(r.Context(), req.NodeID, req.Choices)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, node)
}

func (h *Handlers) RegenerateChoices(w http.ResponseWriter, r *http.Request) {
	var req RegenerateChoicesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Count < 0 || req.Count > 3 {
		writeError(w, badRequest("count must be between 1 and 3"))
		return
	}
	if req.Count == 0 {
		req.Count = 3
	}
	node, err := h.Room.RegenerateChoices(r.Context(), strings.TrimSpace(req.UserContext), req.Count)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, node)
}

func (h *Handlers) PauseSession(w http.ResponseWriter, r *http.Request) {
	h.transition(w, h.Engine.PauseSession(r.Context()))
}

func (h *Handlers) ResumeSession(w http.ResponseWriter, r *http.Request) {
	h.transition(w, h.Engine.ResumeSession(r.Context()))
}

func (h *Handlers) EndSession(w http.ResponseWriter, r *http.Request) {
	h.transition(w, h.Engine.EndSession(r.Context()))
}

func (h *Handlers) transition(w http.ResponseWriter, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, h.Engine.CurrentSession())
}

func (h *Handlers) ResetSession(w http.ResponseWriter, r *http.Request) {
	if err := h.Room.Reset(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: "session reset"})
}

func (h *Handlers) SaveSession(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.SaveSession(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: "session saved"})
}

func (h *Handlers) LoadSession(w http.ResponseWriter, r *http.Request) {
	var req LoadSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.SessionID == "" {
		writeError(w, badRequest("sessionId is required"))
		return
	}
	session, err := h.Engine.LoadSession(r.Context(), req.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, session)
}

func (h *Handlers) ClearOldSessions(w http.ResponseWriter, r *http.Request) {
	n, err := h.Engine.ClearOldSessions(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, map[string]int{"removed": n})
}

func (h *Handlers) SessionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Engine.GetSessionStats()
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, stats)
}

func (h *Handlers) StoryPath(w http.ResponseWriter, r *http.Request) {
	writeData(w, h.Engine.GetStoryPath())
}

// ExportSession renders the current session as a download. The format query
// parameter defaults to txt.
func (h *Handlers) ExportSession(w http.ResponseWriter, r *http.Request) {
	snap := h.Engine.Snapshot()
	session := snap.Session
	if session == nil {
		writeError(w, &engine.InvalidStateError{Op: "export", Err: engine.ErrNoSession})
		return
	}

	name := r.URL.Query().Get("format")
	if name == "" {
		name = string(export.FormatTXT)
	}
	format, err := export.ParseFormat(name)
	if err != nil {
		writeError(w, badRequest(err.Error()))
		return
	}

	data, err := h.Exporter.CollectExportData(session, snap.StoryPath, snap.NodeCache)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := h.Exporter.Export(data, format)
	if err != nil {
		writeError(w, err)
		return
	}

	if h.Archive != nil {
		rec := &models.ExportRecord{
			SessionID: session.ID,
			Format:    string(result.Format),
			Filename:  result.Filename,
			Size:      result.Size,
			CreatedAt: time.Now(),
		}
		if err := h.Archive.RecordExport(r.Context(), rec); err != nil {
			h.logger.Warn("failed to record export", "session_id", session.ID, "error", err)
		}
	}

	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename*=UTF-8''%s", url.PathEscape(result.Filename)))
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(result.Content))
}

// SessionSocket upgrades to a websocket that receives every session change
func (h *Handlers) SessionSocket(w http.ResponseWriter, r *http.Request) {
	h.Hub.ServeWS(w, r, h.Engine.CurrentSession())
}

func (h *Handlers) ListArchives(w http.ResponseWriter, r *http.Request) {
	if h.Archive == nil {
		writeError(w, fmt.Errorf("session archive: %w", errUnavailable))
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, badRequest("limit must be a number"))
			return
		}
		limit = n
	}
	archives, err := h.Archive.ListArchives(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, archives)
}

func (h *Handlers) GetArchive(w http.ResponseWriter, r *http.Request) {
	if h.Archive == nil {
		writeError(w, fmt.Errorf("session archive: %w", errUnavailable))
		return
	}
	archive, choices, err := h.Archive.GetArchive(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, map[string]any{"archive": archive, "choices": choices})
}
