package utils

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the body of every non-2xx answer
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code,omitempty"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// SuccessResponse wraps single objects under data
type SuccessResponse struct {
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// ListResponse wraps a collection with its size
type ListResponse struct {
	Data  interface{}            `json:"data"`
	Count int                    `json:"count"`
	Meta  map[string]interface{} `json:"meta,omitempty"`
}

var errorTypes = map[int]string{
	http.StatusBadRequest:          "bad_request",
	http.StatusUnauthorized:        "unauthorized",
	http.StatusForbidden:           "forbidden",
	http.StatusNotFound:            "not_found",
	http.StatusConflict:            "conflict",
	http.StatusTooManyRequests:     "rate_limit_exceeded",
	http.StatusNotImplemented:      "not_implemented",
	http.StatusBadGateway:          "provider_error",
	http.StatusServiceUnavailable:  "unavailable",
	http.StatusInternalServerError: "internal_error",
}

// ErrorTypeForStatus returns the error field used for a status code
func ErrorTypeForStatus(status int) string {
	if t, ok := errorTypes[status]; ok {
		return t
	}
	return "internal_error"
}

// WriteJSON sets the status and encodes body. A nil body writes headers only.
func WriteJSON(w http.ResponseWriter, status int, body interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return nil
	}
	return json.NewEncoder(w).Encode(body)
}

// WriteOK answers 200 with data wrapped in SuccessResponse
func WriteOK(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, SuccessResponse{Data: data})
}

// WriteList writes a 200 OK collection response
func WriteList(w http.ResponseWriter, items interface{}, count int, meta map[string]interface{}) error {
	return WriteJSON(w, http.StatusOK, ListResponse{Data: items, Count: count, Meta: meta})
}

// WriteAccepted writes a 202 Accepted response
func WriteAccepted(w http.ResponseWriter, data interface{}, message string) error {
	return WriteJSON(w, http.StatusAccepted, SuccessResponse{Data: data, Message: message})
}

func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

var defaultMessages = map[int]string{
	http.StatusUnauthorized:        "Authentication required",
	http.StatusNotFound:            "Resource not found",
	http.StatusInternalServerError: "Internal server error",
}

// WriteBadRequest answers 400, with optional per-field details
func WriteBadRequest(w http.ResponseWriter, message string, details map[string]interface{}) error {
	return WriteError(w, http.StatusBadRequest, message, details)
}

// WriteUnauthorized answers 401. An empty message gets a default.
func WriteUnauthorized(w http.ResponseWriter, message string) error {
	return WriteError(w, http.StatusUnauthorized, message, nil)
}

func WriteNotFound(w http.ResponseWriter, message string) error {
	return WriteError(w, http.StatusNotFound, message, nil)
}

func WriteInternalServerError(w http.ResponseWriter, message string) error {
	return WriteError(w, http.StatusInternalServerError, message, nil)
}

// WriteError writes an ErrorResponse whose error field is derived from status
func WriteError(w http.ResponseWriter, status int, message string, details map[string]interface{}) error {
	return WriteCodedError(w, status, "", message, details)
}

// WriteCodedError is WriteError plus a machine readable code
func WriteCodedError(w http.ResponseWriter, status int, code, message string, details map[string]interface{}) error {
	if message == "" {
		message = defaultMessages[status]
	}
	return WriteJSON(w, status, ErrorResponse{
		Error:   ErrorTypeForStatus(status),
		Code:    code,
		Message: message,
		Details: details,
	})
}
