package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"soul-teller/server/internal/engine"
	"soul-teller/server/internal/playroom"
	"soul-teller/server/internal/secure"
	"soul-teller/server/internal/settings"
	"soul-teller/server/internal/storage"
)

// errUnavailable marks an optional component that is not configured
var errUnavailable = errors.New("not enabled on this server")

// apiResponse is the envelope of every JSON reply
type apiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// badRequestError marks malformed input
type badRequestError struct{ msg string }

func (e *badRequestError) Error() string { return e.msg }

func badRequest(msg string) error { return &badRequestError{msg: msg} }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), apiResponse{Success: false, Error: err.Error()})
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	var (
		notFound     *engine.NotFoundError
		invalidState *engine.InvalidStateError
		contFailed   *engine.ContinuationFailedError
		bad          *badRequestError
	)
	switch {
	case errors.As(err, &bad),
		errors.Is(err, engine.ErrInvalidChoices),
		errors.Is(err, secure.ErrInvalidConfig),
		errors.Is(err, settings.ErrInvalidView):
		return http.StatusBadRequest
	case errors.As(err, &notFound), errors.Is(err, engine.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &invalidState):
		return http.StatusConflict
	case errors.As(err, &contFailed):
		return http.StatusBadGateway
	case errors.Is(err, secure.ErrNotConfigured):
		return http.StatusPreconditionFailed
	case errors.Is(err, errUnavailable), errors.Is(err, playroom.ErrNoChoiceWriter):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return badRequest("invalid request body")
	}
	return nil
}
