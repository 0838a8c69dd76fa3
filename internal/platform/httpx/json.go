package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// MaxBodyBytes bounds request bodies accepted by DecodeJSON.
const MaxBodyBytes int64 = 1 << 20

// WriteJSON encodes payload with the given status. A nil payload writes an empty body.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// DecodeJSON reads a single JSON object from the request body into dst. Unknown fields are
// rejected. The returned error is a 400 Error ready for WriteError.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return NewError("invalid_request", "request body is required", http.StatusBadRequest)
	}
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		return NewError("unsupported_media_type", "content type must be application/json", http.StatusUnsupportedMediaType)
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return NewError("payload_too_large", "request body too large", http.StatusRequestEntityTooLarge)
		case errors.Is(err, io.EOF):
			return NewError("invalid_request", "request body is required", http.StatusBadRequest)
		default:
			return NewError("invalid_request", fmt.Sprintf("invalid JSON body: %v", err), http.StatusBadRequest)
		}
	}
	if decoder.More() {
		return NewError("invalid_request", "request body must contain a single JSON object", http.StatusBadRequest)
	}
	return nil
}
