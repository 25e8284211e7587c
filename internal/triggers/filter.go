package triggers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	gocache "github.com/patrickmn/go-cache"

	"agent-triggers/internal/common/errors"
)

// Filter is the predicate stored on an event trigger. Expression is an
// expr-lang boolean evaluated with the event bound to "event"; Match requires
// each dotted path in the event to equal the given value. Both must hold.
type Filter struct {
	Expression string                 `json:"expression,omitempty"`
	Match      map[string]interface{} `json:"match,omitempty"`
}

// FilterEvaluator compiles and caches filter expressions
type FilterEvaluator struct {
	programs *gocache.Cache
}

// NewFilterEvaluator creates an evaluator whose compiled programs expire after ttl
func NewFilterEvaluator(ttl time.Duration) *FilterEvaluator {
	return &FilterEvaluator{programs: gocache.New(ttl, 2*ttl)}
}

func filterOptions() []expr.Option {
	return []expr.Option{
		expr.Env(map[string]interface{}{"event": map[string]interface{}{}}),
		expr.AllowUndefinedVariables(),
		expr.DisableBuiltin("panic"),
		expr.AsBool(),
	}
}

// ParseFilter decodes a stored filter. Empty and null filters return nil.
func ParseFilter(raw json.RawMessage) (*Filter, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] != '{' {
		return nil, errors.ValidationError("filter must be an object or null")
	}
	var f Filter
	if err := json.Unmarshal(trimmed, &f); err != nil {
		return nil, errors.ValidationError(fmt.Sprintf("filter is malformed: %v", err))
	}
	return &f, nil
}

// Validate checks that a stored filter parses and its expression compiles
func (e *FilterEvaluator) Validate(raw json.RawMessage) error {
	f, err := ParseFilter(raw)
	if err != nil || f == nil {
		return err
	}
	if strings.TrimSpace(f.Expression) == "" {
		return nil
	}
	if _, err := e.compile(f.Expression); err != nil {
		return errors.ValidationError(fmt.Sprintf("filter expression does not compile: %v", err))
	}
	return nil
}

// Matches reports whether event satisfies the filter. A missing filter matches everything.
func (e *FilterEvaluator) Matches(raw json.RawMessage, event map[string]interface{}) (bool, error) {
	f, err := ParseFilter(raw)
	if err != nil {
		return false, err
	}
	if f == nil {
		return true, nil
	}

	for path, want := range f.Match {
		got, ok := LookupPath(event, path)
		if !ok || !reflect.DeepEqual(got, want) {
			return false, nil
		}
	}

	if strings.TrimSpace(f.Expression) == "" {
		return true, nil
	}

	program, err := e.compile(f.Expression)
	if err != nil {
		return false, err
	}
	out, err := expr.Run(program, map[string]interface{}{"event": event})
	if err != nil {
		return false, fmt.Errorf("evaluate filter: %w", err)
	}
	matched, _ := out.(bool)
	return matched, nil
}

func (e *FilterEvaluator) compile(expression string) (*vm.Program, error) {
	if cached, ok := e.programs.Get(expression); ok {
		return cached.(*vm.Program), nil
	}
	program, err := expr.Compile(expression, filterOptions()...)
	if err != nil {
		return nil, err
	}
	e.programs.SetDefault(expression, program)
	return program, nil
}

// LookupPath resolves a dotted path inside nested JSON objects
func LookupPath(obj map[string]interface{}, path string) (interface{}, bool) {
	var current interface{} = obj
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
