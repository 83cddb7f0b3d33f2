// Package filter provides an optional CEL-based drop filter evaluated
// before events reach the durable queue. Filters decide keep/drop only;
// they never rewrite payloads.
package filter

import (
	"encoding/json"
	"strings"

	"github.com/google/cel-go/cel"
)

// Filter wraps a compiled CEL program. The zero value (and an empty
// expression) keeps everything.
type Filter struct {
	prog    cel.Program
	enabled bool
}

// New compiles an expression over these variables:
//
//	event_type  string  event type
//	text        string  raw payload text
//	json        dyn     parsed payload (null when not valid JSON)
//	size        int     payload size in bytes
//	now_ms      int     current time in ms
//
// `type` is a reserved CEL identifier, hence event_type.
//
// Example: `event_type != "debug_ping" && size < 4096`.
func New(expr string) (Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Filter{}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("event_type", cel.StringType),
		cel.Variable("text", cel.StringType),
		cel.Variable("json", cel.DynType),
		cel.Variable("size", cel.IntType),
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return Filter{}, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return Filter{}, iss.Err()
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return Filter{}, iss2.Err()
	}
	prog, err := env.Program(checked)
	if err != nil {
		return Filter{}, err
	}
	return Filter{prog: prog, enabled: true}, nil
}

// Keep evaluates the filter for one event. A disabled filter keeps
// everything; an evaluation error drops the event (a filter that cannot be
// evaluated should not admit unbounded traffic).
func (f Filter) Keep(eventType string, payload []byte, nowMs int64) bool {
	if !f.enabled {
		return true
	}
	var jsonObj any
	_ = json.Unmarshal(payload, &jsonObj)
	out, _, err := f.prog.Eval(map[string]any{
		"event_type": eventType,
		"text":       string(payload),
		"json":       jsonObj,
		"size":       int64(len(payload)),
		"now_ms":     nowMs,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
