package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/DHANNZHOST/imagetohd/internal/upstream"
)

// Kind is the caller-facing category of a relay failure.
type Kind int

const (
	// KindClientInput covers a missing file or URL, a wrong type or an oversized upload.
	KindClientInput Kind = iota
	KindNotFound
	// KindUpstreamShape means an intermediary host answered in an unexpected format.
	KindUpstreamShape
	// KindUpstreamTransport means a remote host timed out, refused or answered non-2xx.
	KindUpstreamTransport
	KindUnhandled
)

func (k Kind) String() string {
	switch k {
	case KindClientInput:
		return "client_input"
	case KindNotFound:
		return "not_found"
	case KindUpstreamShape:
		return "upstream_shape"
	case KindUpstreamTransport:
		return "upstream_transport"
	default:
		return "unhandled"
	}
}

// Error codes sent next to the message.
const (
	CodeMissingFile      = "missing_file"
	CodeMissingImageURL  = "missing_image_param"
	CodeInvalidImageURL  = "invalid_image_url"
	CodeInvalidScale     = "invalid_scale"
	CodeUnsupportedType  = "unsupported_type"
	CodeFileTooLarge     = "file_too_large"
	CodeTooManyFiles     = "too_many_files"
	CodeInvalidMultipart = "invalid_multipart"
	CodeFileNotFound     = "file_not_found"
	CodeStagingFailed    = "staging_failed"
	CodeStagingBadURL    = "staging_bad_url"
	CodeUpstreamTimeout  = "upstream_timeout"
	CodeUpstreamRefused  = "upstream_refused"
	CodeUpstreamStatus   = "upstream_status"
	CodeUpstreamFailed   = "upstream_failed"
	CodeInternal         = "internal_error"
)

// Error is the only error shape handlers turn into responses. Message,
// when set, is sent verbatim; otherwise MessageID is localized.
type Error struct {
	Kind      Kind
	Code      string
	MessageID string
	Data      map[string]any
	Message   string
	Err       error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return LocalizeWithData(e.MessageID, e.Data)
}

func (e *Error) Unwrap() error { return e.Err }

// LocalizedMessage renders the message in the request's language.
func (e *Error) LocalizedMessage(ctx context.Context) string {
	if e.Message != "" {
		return e.Message
	}
	return LocalizeWithContextAndData(ctx, e.MessageID, e.Data)
}

// HTTPStatus maps the kind to a response status.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindClientInput:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func clientError(code string, data map[string]any) *Error {
	return &Error{Kind: KindClientInput, Code: code, MessageID: code, Data: data}
}

func notFoundError(code string) *Error {
	return &Error{Kind: KindNotFound, Code: code, MessageID: code}
}

func unhandledError(err error) *Error {
	return &Error{Kind: KindUnhandled, Code: CodeInternal, Message: err.Error(), Err: err}
}

// AsError converts any error into an *Error. Upstream failures are
// classified; everything else is Unhandled with its text passed through.
func AsError(err error) *Error {
	var re *Error
	if errors.As(err, &re) {
		return re
	}

	var se *upstream.ShapeError
	if errors.As(err, &se) {
		code := CodeStagingFailed
		if se.Reason == upstream.ShapeBadURL {
			code = CodeStagingBadURL
		}
		return &Error{Kind: KindUpstreamShape, Code: code, MessageID: code, Err: err}
	}

	var te *upstream.TransportError
	if errors.As(err, &te) {
		out := &Error{Kind: KindUpstreamTransport, Err: err}
		switch te.Class {
		case upstream.ClassTimeout:
			out.Code = CodeUpstreamTimeout
		case upstream.ClassRefused:
			out.Code = CodeUpstreamRefused
		case upstream.ClassStatus:
			out.Code = CodeUpstreamStatus
		default:
			out.Code = CodeUpstreamFailed
		}
		if te.Message != "" {
			out.Message = te.Message
		} else {
			out.MessageID = out.Code
		}
		return out
	}

	return unhandledError(err)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// writeError sends err as {"error": ..., "code": ...}.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	re := AsError(err)
	writeJSON(w, re.HTTPStatus(), errorBody{
		Error: re.LocalizedMessage(r.Context()),
		Code:  re.Code,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
