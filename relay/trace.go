package relay

import (
	"context"
	"net/http"
	"strings"
	"sync"
)

// State is a step of the per-request relay pipeline.
type State int

const (
	StateReceived State = iota
	StateValidated
	StateStagingUploaded
	StateEnhancing
	StateStreaming
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateReceived:        "received",
	StateValidated:       "validated",
	StateStagingUploaded: "staging_uploaded",
	StateEnhancing:       "enhancing",
	StateStreaming:       "streaming",
	StateDone:            "done",
	StateFailed:          "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

type contextKey string

const traceKey contextKey = "relay_trace"

// Trace records the states a single request went through.
type Trace struct {
	mu     sync.Mutex
	states []State
}

func NewTrace() *Trace {
	return &Trace{states: []State{StateReceived}}
}

// Enter appends s. Nothing is recorded once a terminal state was reached.
// A nil trace ignores the call.
func (t *Trace) Enter(s State) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.states) > 0 && t.states[len(t.states)-1].Terminal() {
		return
	}
	t.states = append(t.states, s)
}

// Fail moves a trace that has not finished into StateFailed.
func (t *Trace) Fail() { t.Enter(StateFailed) }

func (t *Trace) States() []State {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]State, len(t.states))
	copy(out, t.states)
	return out
}

func (t *Trace) String() string {
	states := t.States()
	names := make([]string, len(states))
	for i, s := range states {
		names[i] = s.String()
	}
	return strings.Join(names, ">")
}

func WithTrace(ctx context.Context) context.Context {
	return context.WithValue(ctx, traceKey, NewTrace())
}

// TraceFrom returns the request's trace, or nil outside a traced request.
func TraceFrom(ctx context.Context) *Trace {
	if t, ok := ctx.Value(traceKey).(*Trace); ok {
		return t
	}
	return nil
}

// traceMiddleware starts a trace for each request.
func traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithTrace(r.Context())))
	})
}
