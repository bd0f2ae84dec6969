package cases

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/RaikaSurendra/servicenow-case-mcp/internal/servicenow"
)

// ErrorKind classifies a failed operation for the calling agent.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation_error"
	KindNotFound      ErrorKind = "not_found"
	KindAuthorization ErrorKind = "authorization_error"
	KindRemote        ErrorKind = "remote_error"
)

// Sentinels for errors.Is. Every *Error matches the sentinel of its Kind.
var (
	ErrValidation    = errors.New("validation error")
	ErrNotFound      = errors.New("not found")
	ErrAuthorization = errors.New("authorization error")
	ErrRemote        = errors.New("remote error")

	// ErrDuplicateOperation is returned by Register when a definition with
	// the same name and kind already exists.
	ErrDuplicateOperation = errors.New("duplicate operation")
)

// Error is the single error type surfaced by the registry and translator.
type Error struct {
	Kind ErrorKind
	// Fields names the offending parameters or case fields, if known.
	Fields []string
	// Status is the ServiceNow HTTP status, zero when no response was received.
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if len(e.Fields) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(e.Fields, ", "))
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel that corresponds to e.Kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrAuthorization:
		return e.Kind == KindAuthorization
	case ErrRemote:
		return e.Kind == KindRemote
	}
	return false
}

func validationError(msg string, fields ...string) *Error {
	return &Error{Kind: KindValidation, Fields: fields, Message: msg}
}

func notFoundError(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// mapRemoteError converts a Table API client failure into an *Error.
//
//	404       → NotFound
//	401, 403  → AuthorizationError
//	400, 422  → ValidationError (with field names found in the message)
//	other     → RemoteError
func mapRemoteError(err error) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}

	var apiErr *servicenow.APIError
	if !errors.As(err, &apiErr) {
		msg := err.Error()
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			msg = "request aborted: " + msg
		}
		return &Error{Kind: KindRemote, Message: msg, Err: err}
	}

	out := &Error{Status: apiErr.StatusCode, Message: remoteMessage(apiErr), Err: err}
	switch apiErr.StatusCode {
	case http.StatusNotFound:
		out.Kind = KindNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		out.Kind = KindAuthorization
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		out.Kind = KindValidation
		out.Fields = fieldsIn(apiErr.Message + " " + apiErr.Detail)
	default:
		out.Kind = KindRemote
	}
	return out
}

func remoteMessage(e *servicenow.APIError) string {
	msg := e.Message
	if e.Detail != "" {
		if msg != "" {
			msg += ": "
		}
		msg += e.Detail
	}
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return msg
}

// fieldsIn returns the case field names mentioned in a remote error message,
// in field order.
func fieldsIn(text string) []string {
	text = strings.ToLower(text)
	var found []string
	for _, f := range readFields {
		if containsWord(text, f) {
			found = append(found, f)
		}
	}
	return found
}

// containsWord reports whether word occurs in text delimited by characters
// that cannot be part of a field name.
func containsWord(text, word string) bool {
	for i := 0; ; {
		j := strings.Index(text[i:], word)
		if j < 0 {
			return false
		}
		start := i + j
		end := start + len(word)
		if (start == 0 || !isIdentByte(text[start-1])) && (end == len(text) || !isIdentByte(text[end])) {
			return true
		}
		i = start + 1
	}
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}
