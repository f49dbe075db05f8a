// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"
)

type errorBody struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorMsg(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorBody{Error: msg})
}

func writeValidationErrors(w http.ResponseWriter, msg string, details []string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg, Details: details})
}

func writeNotFound(w http.ResponseWriter) {
	writeErrorMsg(w, http.StatusNotFound, "session not found")
}

// decodeJSON decodes a capped request body, distinguishing oversize (413)
// from malformed (400). ok is false when a response was already written.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) (ok bool) {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeErrorMsg(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeErrorMsg(w, http.StatusBadRequest, "malformed JSON body")
		return false
	}
	return true
}
