package authapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

// fieldError is one entry of a validation response.
type fieldError struct {
	Message string `json:"message"`
	Field   string `json:"field"`
}

type validationResponse struct {
	ErrorsMessages []fieldError `json:"errorsMessages"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: apiError{Code: code, Message: msg}})
}

func writeFieldErrors(w http.ResponseWriter, status int, errs ...fieldError) {
	writeJSON(w, status, validationResponse{ErrorsMessages: errs})
}

func writeUnauthorized(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
}

func writeInternal(w http.ResponseWriter) {
	writeError(w, http.StatusInternalServerError, "server_error", "internal error")
}

// decodeJSON reads exactly one JSON object of at most maxBytes into dst.
// strict rejects unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, strict bool, dst any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer func() { _ = r.Body.Close() }()

	body := http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(body)
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(dst); err != nil {
		return err
	}
	// Ensure there is no extra data after the first JSON value.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("extra data after JSON object")
	}
	return nil
}
