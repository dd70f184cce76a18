package jsonapi

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// ErrorObject is a JSON:API error object
type ErrorObject struct {
	Status string       `json:"status"`
	Code   string       `json:"code,omitempty"`
	Title  string       `json:"title"`
	Detail string       `json:"detail,omitempty"`
	Source *ErrorSource `json:"source,omitempty"`
}

// ErrorSource points at the part of the request document that caused an error
type ErrorSource struct {
	Pointer   string `json:"pointer,omitempty"`
	Parameter string `json:"parameter,omitempty"`
}

// ErrorDocument is a top level document carrying errors
type ErrorDocument struct {
	Errors []*ErrorObject `json:"errors"`
}

// NewError creates an error object for a status with the standard code and title
func NewError(status int, detail string) *ErrorObject {
	return &ErrorObject{
		Status: strconv.Itoa(status),
		Code:   CodeFromStatus(status),
		Title:  http.StatusText(status),
		Detail: detail,
	}
}

// RenderErrors writes an error document with the given status
func RenderErrors(w http.ResponseWriter, status int, errs ...*ErrorObject) {
	data, err := json.Marshal(ErrorDocument{Errors: errs})
	if err != nil {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal Server Error"))
		return
	}
	w.Header().Set("Content-Type", MediaType)
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// CodeFromStatus maps HTTP status codes to error codes
func CodeFromStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusNotAcceptable:
		return "not_acceptable"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnsupportedMediaType:
		return "unsupported_media_type"
	case http.StatusUnprocessableEntity:
		return "validation_error"
	case http.StatusInternalServerError:
		return "internal_error"
	case http.StatusServiceUnavailable:
		return "service_unavailable"
	default:
		return "error"
	}
}
