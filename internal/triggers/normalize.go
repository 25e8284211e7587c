package triggers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"agent-triggers/internal/common/errors"
	"agent-triggers/internal/models"
)

// ExtractDefaults reads input defaults from a free-form JSON object. Missing
// or malformed shapes produce an empty InputDefaults instead of an error.
func ExtractDefaults(raw json.RawMessage) models.InputDefaults {
	obj, ok := decodeObject(raw)
	if !ok {
		return models.InputDefaults{}
	}
	return defaultsFromObject(obj)
}

func defaultsFromObject(obj map[string]interface{}) models.InputDefaults {
	var d models.InputDefaults

	switch v := obj["input"].(type) {
	case string:
		d.Input = &v
	case nil:
	default:
		if b, err := json.Marshal(v); err == nil {
			s := string(b)
			d.Input = &s
		}
	}

	if ctx, ok := obj["context"].(map[string]interface{}); ok && len(ctx) > 0 {
		d.Context = ctx
	}

	steps, ok := obj["maxSteps"]
	if !ok {
		steps = obj["max_steps"]
	}
	if n, ok := positiveInt(steps); ok {
		d.MaxSteps = &n
	}

	if env, ok := obj["environment"].(string); ok && env != "" {
		d.Environment = &env
	}

	return d
}

// ExtractInputMapping reads an input mapping from JSON. It returns nil when
// none is configured and an invalid_input_mapping error when the value is
// present but is not an object of the expected shape.
func ExtractInputMapping(raw json.RawMessage) (*models.InputMapping, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] != '{' {
		return nil, errors.InvalidInputMappingError("inputMapping must be an object or null")
	}

	obj, ok := decodeObject(trimmed)
	if !ok {
		return nil, errors.InvalidInputMappingError("inputMapping is not valid JSON")
	}

	m := &models.InputMapping{}

	if rawDefaults, present := obj["defaults"]; present && rawDefaults != nil {
		defaults, ok := rawDefaults.(map[string]interface{})
		if !ok {
			return nil, errors.InvalidInputMappingError("inputMapping.defaults must be an object")
		}
		d := defaultsFromObject(defaults)
		m.Defaults = &d
	}

	if rawEnv, present := obj["environment"]; present && rawEnv != nil {
		env, ok := rawEnv.(string)
		if !ok {
			return nil, errors.InvalidInputMappingError("inputMapping.environment must be a string")
		}
		m.Environment = &env
	}

	if rawFields, present := obj["fields"]; present && rawFields != nil {
		fields, ok := rawFields.(map[string]interface{})
		if !ok {
			return nil, errors.InvalidInputMappingError("inputMapping.fields must be an object of source paths")
		}
		m.Fields = make(map[string]string, len(fields))
		for target, source := range fields {
			path, ok := source.(string)
			if !ok {
				return nil, errors.InvalidInputMappingError(fmt.Sprintf("inputMapping.fields.%s must be a string path", target))
			}
			m.Fields[target] = path
		}
	}

	if rawInput, present := obj["defaultInput"]; present && rawInput != nil {
		input, ok := rawInput.(string)
		if !ok {
			return nil, errors.InvalidInputMappingError("inputMapping.defaultInput must be a string")
		}
		m.DefaultInput = &input
	}

	return m, nil
}

// MergeOptions tunes MergeInputMapping
type MergeOptions struct {
	// SetDefaultField copies overrides.Defaults.Input into DefaultInput
	SetDefaultField bool
}

// MergeInputMapping overlays overrides on existing. Every field present in
// overrides wins, every field only in existing is kept and fields absent from
// both stay absent. Maps merge per key. The result shares no maps with its inputs.
func MergeInputMapping(existing, overrides *models.InputMapping, opts MergeOptions) *models.InputMapping {
	if existing == nil && overrides == nil {
		return nil
	}

	out := &models.InputMapping{}
	if existing != nil {
		out.Defaults = cloneDefaults(existing.Defaults)
		out.Environment = cloneString(existing.Environment)
		out.Fields = mergeStringMaps(existing.Fields, nil)
		out.DefaultInput = cloneString(existing.DefaultInput)
	}

	if overrides != nil {
		if overrides.Defaults != nil {
			merged := MergeDefaults(derefDefaults(out.Defaults), *overrides.Defaults)
			out.Defaults = &merged
		}
		if overrides.Environment != nil {
			out.Environment = cloneString(overrides.Environment)
		}
		if overrides.Fields != nil {
			out.Fields = mergeStringMaps(out.Fields, overrides.Fields)
		}
		if overrides.DefaultInput != nil {
			out.DefaultInput = cloneString(overrides.DefaultInput)
		}

		if opts.SetDefaultField && overrides.Defaults != nil && overrides.Defaults.Input != nil {
			out.DefaultInput = cloneString(overrides.Defaults.Input)
		}
	}

	return out
}

// MergeDefaults overlays overrides on existing with the same rules as MergeInputMapping
func MergeDefaults(existing, overrides models.InputDefaults) models.InputDefaults {
	out := models.InputDefaults{
		Input:       cloneString(existing.Input),
		Context:     mergeAnyMaps(existing.Context, nil),
		MaxSteps:    cloneInt(existing.MaxSteps),
		Environment: cloneString(existing.Environment),
	}
	if overrides.Input != nil {
		out.Input = cloneString(overrides.Input)
	}
	if overrides.Context != nil {
		out.Context = mergeAnyMaps(out.Context, overrides.Context)
	}
	if overrides.MaxSteps != nil {
		out.MaxSteps = cloneInt(overrides.MaxSteps)
	}
	if overrides.Environment != nil {
		out.Environment = cloneString(overrides.Environment)
	}
	return out
}

// ValidationResult reports whether an input mapping is acceptable
type ValidationResult struct {
	Valid bool
	Error string
}

// Err converts an invalid result into an invalid_input_mapping AppError
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return errors.InvalidInputMappingError(r.Error)
}

var sourcePathPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z0-9_]+)*$`)

const maxStepsLimit = 1000

// ValidateInputMapping checks a mapping for the given trigger type and event name.
// Rules: event triggers need a non-empty event name; every mapped field needs a
// non-empty target and a dotted source path; a source path may feed only one
// target; no target may be nested inside another target; maxSteps stays in range.
func ValidateInputMapping(triggerType models.TriggerType, eventName string, m *models.InputMapping) ValidationResult {
	if triggerType == models.TriggerTypeEvent && strings.TrimSpace(eventName) == "" {
		return invalid("eventName is required for event triggers")
	}
	if m == nil {
		return ValidationResult{Valid: true}
	}

	targets := make([]string, 0, len(m.Fields))
	for target := range m.Fields {
		targets = append(targets, target)
	}
	sort.Strings(targets)

	seenSources := make(map[string]string, len(m.Fields))
	for _, target := range targets {
		source := m.Fields[target]
		if strings.TrimSpace(target) == "" {
			return invalid("mapped field names must not be empty")
		}
		if !sourcePathPattern.MatchString(target) {
			return invalid(fmt.Sprintf("mapped field %q is not a dotted identifier", target))
		}
		if !sourcePathPattern.MatchString(source) {
			return invalid(fmt.Sprintf("source path %q for field %q is not a dotted path", source, target))
		}
		if other, dup := seenSources[source]; dup {
			return invalid(fmt.Sprintf("source path %q is mapped to both %q and %q", source, other, target))
		}
		seenSources[source] = target
	}

	for i := 1; i < len(targets); i++ {
		if strings.HasPrefix(targets[i], targets[i-1]+".") {
			return invalid(fmt.Sprintf("mapped field %q is nested inside %q", targets[i], targets[i-1]))
		}
	}

	if m.Defaults != nil && m.Defaults.MaxSteps != nil {
		if n := *m.Defaults.MaxSteps; n < 1 || n > maxStepsLimit {
			return invalid(fmt.Sprintf("maxSteps must be between 1 and %d", maxStepsLimit))
		}
	}

	if triggerType.RequiresDefaultInput() && m.DefaultInput != nil && strings.TrimSpace(*m.DefaultInput) == "" {
		return invalid("defaultInput must not be blank")
	}

	return ValidationResult{Valid: true}
}

func invalid(msg string) ValidationResult {
	return ValidationResult{Valid: false, Error: msg}
}

// EffectiveDefaults resolves the defaults an execution starts with: the mapping
// defaults, with the mapping level environment and default input taking priority.
func EffectiveDefaults(m *models.InputMapping) models.InputDefaults {
	if m == nil {
		return models.InputDefaults{}
	}
	d := MergeDefaults(derefDefaults(m.Defaults), models.InputDefaults{})
	if m.Environment != nil {
		d.Environment = cloneString(m.Environment)
	}
	if d.Input == nil && m.DefaultInput != nil {
		d.Input = cloneString(m.DefaultInput)
	}
	return d
}

func decodeObject(raw []byte) (map[string]interface{}, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, false
	}
	var obj map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

func positiveInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		if n >= 1 && n == math.Trunc(n) && n <= math.MaxInt32 {
			return int(n), true
		}
	case json.Number:
		if i, err := n.Int64(); err == nil && i >= 1 && i <= math.MaxInt32 {
			return int(i), true
		}
	}
	return 0, false
}

func derefDefaults(d *models.InputDefaults) models.InputDefaults {
	if d == nil {
		return models.InputDefaults{}
	}
	return *d
}

func cloneDefaults(d *models.InputDefaults) *models.InputDefaults {
	if d == nil {
		return nil
	}
	c := MergeDefaults(*d, models.InputDefaults{})
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneInt(i *int) *int {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}

func mergeStringMaps(base, over map[string]string) map[string]string {
	if base == nil && over == nil {
		return nil
	}
	out := make(map[string]string, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

func mergeAnyMaps(base, over map[string]interface{}) map[string]interface{} {
	if base == nil && over == nil {
		return nil
	}
	out := make(map[string]interface{}, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

// NormalizeWebhookPath stores and looks up webhook paths without surrounding slashes
func NormalizeWebhookPath(path string) string {
	return strings.Trim(strings.TrimSpace(path), "/")
}
