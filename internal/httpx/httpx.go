// Package httpx holds the small JSON response helpers shared by the
// engine's HTTP handler packages.
package httpx

import (
	"encoding/json"
	"net/http"
)

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// WriteContention writes the 503 returned when an operation could not
// acquire its entity locks within the bounded wait. The Retry-After hint
// tells well-behaved clients to retry the whole command.
func WriteContention(w http.ResponseWriter) {
	w.Header().Set("Retry-After", "1")
	WriteError(w, "operation contended, retry", http.StatusServiceUnavailable)
}

// WriteJSON writes a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
