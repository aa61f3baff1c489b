package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/livepeer/catalyst-render/log"
	"github.com/xeipuuv/gojsonschema"
)

type APIError struct {
	Msg    string `json:"message"`
	Status int    `json:"status"`
	Err    error  `json:"-"`
}

func writeHttpError(w http.ResponseWriter, msg string, status int, err error) APIError {
	w.WriteHeader(status)

	var errorDetail string
	if err != nil {
		errorDetail = err.Error()
	}

	if err := json.NewEncoder(w).Encode(map[string]string{"error": msg, "error_detail": errorDetail}); err != nil {
		log.LogNoRequestID("error writing HTTP error", "http_error_msg", msg, "error", err)
	}
	return APIError{msg, status, err}
}

// WriteHTTPBadRequest reports a malformed job submission: bad JSON, an
// unknown template name, or a settings object that doesn't validate.
func WriteHTTPBadRequest(w http.ResponseWriter, msg string, err error) APIError {
	return writeHttpError(w, msg, http.StatusBadRequest, err)
}

// WriteHTTPNotFound reports a job or output id that doesn't exist.
func WriteHTTPNotFound(w http.ResponseWriter, msg string, err error) APIError {
	return writeHttpError(w, msg, http.StatusNotFound, err)
}

// WriteHTTPInternalServerError reports a Store/Dispatcher failure the
// caller can't do anything about, e.g. a Postgres outage.
func WriteHTTPInternalServerError(w http.ResponseWriter, msg string, err error) APIError {
	return writeHttpError(w, msg, http.StatusInternalServerError, err)
}

// WriteHTTPBadBodySchema reports a job submission that failed its
// job-template/settings JSON Schema validation, with the gojsonschema
// validator's own per-field error list folded into one message.
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

// UnretriableError wraps an error that should not be retried by the
// uploader/webhook retry loop — a malformed object store URL, or an object
// store reporting the source file is simply gone.
type UnretriableError struct{ error }

func Unretriable(err error) error {
	return UnretriableError{backoff.Permanent(err)}
}

func (e UnretriableError) Unwrap() error {
	return e.error
}

// IsUnretriable reports whether err (or anything it wraps) is an
// UnretriableError.
func IsUnretriable(err error) bool {
	return errors.As(err, &UnretriableError{})
}

// ObjectNotFoundError wraps a drivers.ErrNotExist from the object store
// client, so callers uploading a rendition's segments can tell "the source
// file was never produced" apart from a transient store error.
type ObjectNotFoundError struct {
	msg   string
	cause error
}

func (e ObjectNotFoundError) Error() string {
	return e.msg
}

func (e ObjectNotFoundError) Unwrap() error {
	return e.cause
}

// NewObjectNotFoundError always wraps as unretriable: a missing object
// won't appear on retry.
func NewObjectNotFoundError(msg string, cause error) error {
	if cause != nil {
		msg = fmt.Sprintf("ObjectNotFoundError: %s: %s", msg, cause)
	} else {
		msg = fmt.Sprintf("ObjectNotFoundError: %s", msg)
	}
	return Unretriable(ObjectNotFoundError{msg: msg, cause: cause})
}

// IsObjectNotFound checks if the error is an ObjectNotFoundError.
func IsObjectNotFound(err error) bool {
	return errors.As(err, &ObjectNotFoundError{})
}
