package errors

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ogxcoders/videopress/log"
	"github.com/xeipuuv/gojsonschema"
)

type APIError struct {
	Msg    string `json:"message"`
	Status int    `json:"status"`
	Err    error  `json:"-"`
}

func writeHttpError(w http.ResponseWriter, msg string, status int, err error) APIError {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	var errorDetail string
	if err != nil {
		errorDetail = err.Error()
	}

	body := map[string]string{"status": "error", "message": msg, "code": strconv.Itoa(status)}
	if errorDetail != "" {
		body["error"] = errorDetail
	}
	if encErr := json.NewEncoder(w).Encode(body); encErr != nil {
		log.LogNoJobID("error writing HTTP error", "http_error_msg", msg, "error", encErr)
	}
	return APIError{msg, status, err}
}

// HTTP Errors
func WriteHTTPUnauthorized(w http.ResponseWriter, msg string, err error) APIError {
	return writeHttpError(w, msg, http.StatusUnauthorized, err)
}

func WriteHTTPBadRequest(w http.ResponseWriter, msg string, err error) APIError {
	return writeHttpError(w, msg, http.StatusBadRequest, err)
}

func WriteHTTPUnsupportedMediaType(w http.ResponseWriter, msg string, err error) APIError {
	return writeHttpError(w, msg, http.StatusUnsupportedMediaType, err)
}

func WriteHTTPNotFound(w http.ResponseWriter, msg string, err error) APIError {
	return writeHttpError(w, msg, http.StatusNotFound, err)
}

func WriteHTTPConflict(w http.ResponseWriter, msg string, err error) APIError {
	return writeHttpError(w, msg, http.StatusConflict, err)
}

func WriteHTTPServiceUnavailable(w http.ResponseWriter, msg string, err error) APIError {
	return writeHttpError(w, msg, http.StatusServiceUnavailable, err)
}

func WriteHTTPTooManyRequests(w http.ResponseWriter, retryAfterSecs int, msg string) APIError {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSecs))
	return writeHttpError(w, msg, http.StatusTooManyRequests, nil)
}

func WriteHTTPInternalServerError(w http.ResponseWriter, msg string, err error) APIError {
	return writeHttpError(w, msg, http.StatusInternalServerError, err)
}

func WriteHTTPBadBodySchema(where string, w http.ResponseWriter, errors []gojsonschema.ResultError) APIError {
	sb := strings.Builder{}
	sb.WriteString("Body validation error in ")
	sb.WriteString(where)
	sb.WriteString(" ")
	for i := 0; i < len(errors); i++ {
		sb.WriteString(errors[i].String())
		sb.WriteString(" ")
	}
	return writeHttpError(w, sb.String(), http.StatusBadRequest, nil)
}

// Special wrapper for errors that must not trigger another attempt of the job.
type UnretriableError struct{ error }

func Unretriable(err error) error {
	return UnretriableError{err}
}

func (e UnretriableError) Unwrap() error {
	return e.error
}

// Returns whether the given error is an unretriable error.
func IsUnretriable(err error) bool {
	return errors.As(err, &UnretriableError{})
}
