package handlers

import (
	"encoding/json"
	"net/http"

	"reasoning-trainer/core/errs"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError maps coded errors onto HTTP statuses
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errs.CodeOf(err) {
	case errs.CodeNotFound:
		status = http.StatusNotFound
	case errs.CodeInvalidInput:
		status = http.StatusBadRequest
	case errs.CodeLaunchFailure, errs.CodeTransportFailure:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]interface{}{
		"error": err.Error(),
		"code":  errs.CodeOf(err),
	})
}

func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, map[string]interface{}{
		"error": message,
		"code":  errs.CodeInvalidInput,
	})
}
