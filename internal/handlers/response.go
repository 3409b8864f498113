package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"

	"github.com/prudhvinik1/wearsync/internal/services"
)

var jsonpCallbackPattern = regexp.MustCompile(`^[A-Za-z_$][0-9A-Za-z_$.]{0,63}$`)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeJSONP wraps the JSON body in callback(...) when a callback is given.
func writeJSONP(w http.ResponseWriter, callback string, v any) {
	if callback == "" {
		writeJSON(w, http.StatusOK, v)
		return
	}
	if !jsonpCallbackPattern.MatchString(callback) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid callback"})
		return
	}

	body, err := json.Marshal(v)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to encode response"})
		return
	}

	w.Header().Set("Content-Type", "application/javascript")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(callback + "("))
	w.Write(body)
	w.Write([]byte(")"))
}

func writeText(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(text))
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrInvalidAnnotation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrDeviceNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
