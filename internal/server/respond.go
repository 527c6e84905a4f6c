package server

import (
	"encoding/json"
	"net/http"

	"github.com/cmux/sandboxd/internal/sberr"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeErr maps err onto an HTTP status via sberr's Kind->status table when
// err is (or wraps) a *sberr.Error, defaulting to 500 otherwise.
func writeErr(w http.ResponseWriter, err error) {
	if sbErr, ok := sberr.As(err); ok {
		writeError(w, sbErr.Kind.HTTPStatus(), sbErr.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
