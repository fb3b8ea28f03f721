package fault

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure before it crosses a component boundary. Raw
// library errors stay wrapped underneath and never reach the response layer.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindAccessDenied      Kind = "access_denied"
	KindUpstream          Kind = "upstream"
	KindDecode            Kind = "decode"
	KindEncode            Kind = "encode"
	KindUnsupportedFormat Kind = "unsupported_format"
	KindInternal          Kind = "internal"
)

type Error struct {
	Kind    Kind
	Stage   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Stage, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, stage, message string) *Error {
	return &Error{Kind: kind, Stage: stage, Message: message}
}

func Wrap(kind Kind, stage, message string, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Message: message, Err: err}
}

// KindOf returns the classification of err, or KindInternal when err carries
// no fault in its chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// Message returns the caller-facing message for err, safe to put in a
// response body.
func Message(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Message
	}
	return "internal error"
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation, KindUnsupportedFormat:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
