package hrest

import (
	"encoding/json"
	"errors"
	"net/http"

	"ledger-service/pkg/xerrors"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps a typed domain error onto an HTTP status. Unknown errors
// stay opaque 500s.
func writeError(w http.ResponseWriter, err error) {
	var e *xerrors.Error
	if !errors.As(err, &e) {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error"})
		return
	}
	writeJSON(w, statusForKind(e.Kind), errorBody{Error: err.Error(), Code: e.Code})
}

func statusForKind(kind xerrors.Kind) int {
	switch kind {
	case xerrors.KindInput:
		return http.StatusBadRequest
	case xerrors.KindNotFound:
		return http.StatusNotFound
	case xerrors.KindState, xerrors.KindReconcile, xerrors.KindConcurrent:
		return http.StatusConflict
	case xerrors.KindUnbalanced, xerrors.KindStructure, xerrors.KindMissingRate:
		return http.StatusUnprocessableEntity
	case xerrors.KindLocked:
		return http.StatusLocked
	default:
		return http.StatusInternalServerError
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg, Code: "invalid_input"})
}
