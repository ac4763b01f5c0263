package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
)

// MaxBodyBytes bounds request bodies read by Decode. Inline contact lists
// are the largest payloads the API accepts.
const MaxBodyBytes = 32 << 20

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// JSON encodes data with the given status.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[httputil] JSON encode error: %v", err)
	}
}

func OK(w http.ResponseWriter, data any)      { JSON(w, http.StatusOK, data) }
func Created(w http.ResponseWriter, data any) { JSON(w, http.StatusCreated, data) }
func NoContent(w http.ResponseWriter)         { w.WriteHeader(http.StatusNoContent) }

// Error writes a client error with the message as is.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorResponse{Error: message})
}

func BadRequest(w http.ResponseWriter, message string) { Error(w, http.StatusBadRequest, message) }
func Forbidden(w http.ResponseWriter, message string)  { Error(w, http.StatusForbidden, message) }

// InternalError logs err and answers 500 without its text.
func InternalError(w http.ResponseWriter, err error) {
	log.Printf("[httputil] internal error: %v", err)
	Error(w, http.StatusInternalServerError, "internal server error")
}

// Decode reads a JSON body into dst. On failure it writes 400 (413 when
// the body exceeds MaxBodyBytes) and returns false.
func Decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return false
		}
		BadRequest(w, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

// ErrorStatus binds a sentinel error to the status it is reported with.
type ErrorStatus struct {
	Err    error
	Status int
	Code   string
}

// WriteError reports err with the first mapping it matches (errors.Is).
// Client errors carry the error text; 5xx and unmatched errors do not.
func WriteError(w http.ResponseWriter, err error, mappings []ErrorStatus) {
	for _, m := range mappings {
		if !errors.Is(err, m.Err) {
			continue
		}
		if m.Status >= http.StatusInternalServerError {
			break
		}
		JSON(w, m.Status, ErrorResponse{Error: err.Error(), Code: m.Code})
		return
	}
	InternalError(w, err)
}

// QueryInt parses an integer query parameter, returning def when it is
// missing or malformed.
func QueryInt(r *http.Request, name string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return def
	}
	return n
}
