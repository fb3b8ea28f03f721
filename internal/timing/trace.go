package timing

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Span is a named timestamp, expressed as elapsed time since the trace began.
type Span struct {
	Label   string
	Elapsed time.Duration
}

// Trace records named timestamps and errors across one request. It is
// record-only: nothing in the pipeline branches on its contents, and its
// methods never fail or block. All methods are safe on a nil Trace so callers
// can pass one through unconditionally.
type Trace struct {
	mu     sync.Mutex
	start  time.Time
	spans  []Span
	errors []string
	now    func() time.Time
}

func New() *Trace {
	t := &Trace{now: time.Now}
	t.start = t.now()
	return t
}

func (t *Trace) Mark(label string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.spans = append(t.spans, Span{Label: label, Elapsed: t.now().Sub(t.start)})
	t.mu.Unlock()
}

// Measure returns the elapsed time between two marks, or zero when either
// label is missing.
func (t *Trace) Measure(from, to string) time.Duration {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	var fromAt, toAt time.Duration
	var haveFrom, haveTo bool
	for _, s := range t.spans {
		if s.Label == from && !haveFrom {
			fromAt = s.Elapsed
			haveFrom = true
		}
		if s.Label == to {
			toAt = s.Elapsed
			haveTo = true
		}
	}
	if !haveFrom || !haveTo || toAt < fromAt {
		return 0
	}
	return toAt - fromAt
}

func (t *Trace) RecordError(err error) {
	if t == nil || err == nil {
		return
	}
	t.mu.Lock()
	t.errors = append(t.errors, err.Error())
	t.mu.Unlock()
}

func (t *Trace) Spans() []Span {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Span, len(t.spans))
	copy(out, t.spans)
	return out
}

func (t *Trace) Errors() []string {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.errors))
	copy(out, t.errors)
	return out
}

// Summary renders the trace as "label=elapsed_ms" pairs for log lines.
func (t *Trace) Summary() string {
	if t == nil {
		return ""
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	parts := make([]string, 0, len(t.spans))
	for _, s := range t.spans {
		parts = append(parts, fmt.Sprintf("%s=%dms", s.Label, s.Elapsed.Milliseconds()))
	}
	return strings.Join(parts, " ")
}
