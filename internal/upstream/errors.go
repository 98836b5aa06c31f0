package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// Class is the coarse reason a call to a remote host failed.
type Class int

const (
	ClassGeneric Class = iota
	ClassTimeout
	ClassRefused
	ClassStatus
)

func (c Class) String() string {
	switch c {
	case ClassTimeout:
		return "timeout"
	case ClassRefused:
		return "refused"
	case ClassStatus:
		return "status"
	default:
		return "generic"
	}
}

// TransportError reports that a remote host could not be reached, timed
// out or answered with a non-2xx status.
type TransportError struct {
	Host       string
	Class      Class
	StatusCode int
	// Message is the error text the remote host sent back, if any.
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	switch {
	case e.Class == ClassStatus && e.Message != "":
		return fmt.Sprintf("%s: status %d: %s", e.Host, e.StatusCode, e.Message)
	case e.Class == ClassStatus:
		return fmt.Sprintf("%s: status %d", e.Host, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Host, e.Class, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Host, e.Class)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// ShapeReason tells which expectation about a response body failed.
type ShapeReason int

const (
	// ShapeMissingURL means the body did not carry the expected URL field.
	ShapeMissingURL ShapeReason = iota
	// ShapeBadURL means the URL was present but did not match the expected pattern.
	ShapeBadURL
)

// ShapeError reports an answer that did not look like the host's documented response.
type ShapeError struct {
	Host   string
	Reason ShapeReason
	Detail string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: unexpected response: %s", e.Host, e.Detail)
}

// classify wraps an error returned by http.Client.Do.
func classify(host string, err error) error {
	class := ClassGeneric
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		class = ClassTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		class = ClassTimeout
	case errors.Is(err, syscall.ECONNREFUSED):
		class = ClassRefused
	}
	return &TransportError{Host: host, Class: class, Err: err}
}

// statusError consumes and closes resp.Body. A JSON "message" or "error"
// field in the body becomes the error message.
func statusError(host string, resp *http.Response) error {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	return &TransportError{
		Host:       host,
		Class:      ClassStatus,
		StatusCode: resp.StatusCode,
		Message:    bodyMessage(body),
	}
}

func bodyMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   any    `json:"error"`
	}
	if json.Unmarshal(body, &payload) != nil {
		return ""
	}
	if payload.Message != "" {
		return payload.Message
	}
	if s, ok := payload.Error.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}
