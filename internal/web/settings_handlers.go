package web

import (
	"fmt"
	"net/http"
	"strings"

	"soul-teller/server/internal/secure"
	"soul-teller/server/internal/settings"
)

// CredentialsView is what the client sees of the stored credentials
type CredentialsView struct {
	ModelScopeAPIKey string                     `json:"modelScopeApiKey"`
	Xingyun          secure.MaskedXingyunConfig `json:"xingyun"`
}

// UpdateCredentialsRequest changes the fields that are present. An empty API
// key drops the custom key.
type UpdateCredentialsRequest struct {
	ModelScopeAPIKey *string               `json:"modelScopeApiKey,omitempty"`
	Xingyun          *secure.XingyunConfig `json:"xingyun,omitempty"`
}

func (h *Handlers) credentialsView(r *http.Request) CredentialsView {
	return CredentialsView{
		ModelScopeAPIKey: h.Secure.MaskedAPIKey(r.Context()),
		Xingyun:          h.Secure.MaskedXingyunConfig(r.Context()),
	}
}

func (h *Handlers) GetCredentials(w http.ResponseWriter, r *http.Request) {
	writeData(w, h.credentialsView(r))
}

func (h *Handlers) UpdateCredentials(w http.ResponseWriter, r *http.Request) {
	var req UpdateCredentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	if req.ModelScopeAPIKey != nil {
		var err error
		if strings.TrimSpace(*req.ModelScopeAPIKey) == "" {
			err = h.Secure.ResetAPIKey(ctx)
		} else {
			err = h.Secure.SetModelScopeAPIKey(ctx, *req.ModelScopeAPIKey)
		}
		if err != nil {
			writeError(w, err)
			return
		}
	}
	if req.Xingyun != nil {
		if err := h.Secure.SetXingyunConfig(ctx, *req.Xingyun); err != nil {
			writeError(w, err)
			return
		}
	}
	writeData(w, h.credentialsView(r))
}

func (h *Handlers) ClearCredentials(w http.ResponseWriter, r *http.Request) {
	if err := h.Secure.ClearAll(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, h.credentialsView(r))
}

func (h *Handlers) GetUIState(w http.ResponseWriter, r *http.Request) {
	state, err := h.Settings.Load(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, state)
}

func (h *Handlers) UpdateUIState(w http.ResponseWriter, r *http.Request) {
	var state settings.UIState
	if err := decodeJSON(r, &state); err != nil {
		writeError(w, err)
		return
	}
	if err := h.Settings.Save(r.Context(), state); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, state)
}

func (h *Handlers) ConnectAvatar(w http.ResponseWriter, r *http.Request) {
	if h.Avatar == nil {
		writeError(w, fmt.Errorf("avatar: %w", errUnavailable))
		return
	}
	if err := h.Avatar.Connect(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, h.avatarStatus())
}

func (h *Handlers) DisconnectAvatar(w http.ResponseWriter, r *http.Request) {
	if h.Avatar == nil {
		writeError(w, fmt.Errorf("avatar: %w", errUnavailable))
		return
	}
	if err := h.Avatar.Disconnect(); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, h.avatarStatus())
}

func (h *Handlers) GetAvatarStatus(w http.ResponseWriter, r *http.Request) {
	if h.Avatar == nil {
		writeData(w, AvatarStatus{})
		return
	}
	writeData(w, h.avatarStatus())
}

func (h *Handlers) avatarStatus() AvatarStatus {
	status := h.Avatar.Status()
	status.ClientCount = h.Hub.ClientCount()
	return status
}
