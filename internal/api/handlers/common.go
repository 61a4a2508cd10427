// Package handlers implements the account-book HTTP endpoints.
package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/dvloznov/accountbook/internal/api/middleware"
)

// maxBodyBytes caps request bodies, uploads included.
const maxBodyBytes = 10 << 20

// requireUser returns the acting user or writes a 401.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		middleware.WriteError(w, http.StatusUnauthorized, middleware.UserIDHeader+" header is required")
		return "", false
	}
	return userID, true
}

// decodeJSON reads a JSON request body into v or writes a 400.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil && err != io.EOF {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}
