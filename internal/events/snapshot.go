package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// SnapshotLimits bounds what a payload snapshot may hold
type SnapshotLimits struct {
	// MaxStringBytes drops any string value longer than this
	MaxStringBytes int
	// MaxBytes drops the largest top-level fields until the snapshot fits
	MaxBytes int
}

// DefaultSnapshotLimits keeps snapshots small enough for one database row
var DefaultSnapshotLimits = SnapshotLimits{
	MaxStringBytes: 32 << 10,
	MaxBytes:       256 << 10,
}

// omittedKey lists the dotted paths removed from a snapshot
const omittedKey = "_omitted"

// BuildPayloadSnapshot normalizes raw into canonical JSON. Values that cannot
// be encoded and values above the limits are removed and their paths listed
// under "_omitted". Object keys are sorted and numbers keep their literal
// form, so re-encoding a decoded snapshot yields the same bytes.
func BuildPayloadSnapshot(raw interface{}, limits SnapshotLimits) (json.RawMessage, error) {
	var omitted []string

	value, ok := normalize(raw, "", limits, &omitted)
	if !ok {
		value = map[string]interface{}{}
		omitted = append(omitted, "$")
	}

	obj, isObject := value.(map[string]interface{})
	switch {
	case isObject:
	case value == nil:
		obj = map[string]interface{}{}
	default:
		obj = map[string]interface{}{"value": value}
	}

	out, err := encodeCanonical(obj)
	if err != nil {
		return nil, err
	}

	for limits.MaxBytes > 0 && len(out) > limits.MaxBytes {
		key := largestField(obj)
		if key == "" {
			break
		}
		delete(obj, key)
		omitted = append(omitted, key)
		if out, err = encodeCanonical(withOmitted(obj, omitted)); err != nil {
			return nil, err
		}
	}

	if len(omitted) > 0 {
		return encodeCanonical(withOmitted(obj, omitted))
	}
	return out, nil
}

func withOmitted(obj map[string]interface{}, omitted []string) map[string]interface{} {
	if len(omitted) == 0 {
		return obj
	}
	paths := append([]string(nil), omitted...)
	sort.Strings(paths)
	list := make([]interface{}, len(paths))
	for i, p := range paths {
		list[i] = p
	}
	obj[omittedKey] = list
	return obj
}

// normalize converts v into the generic JSON tree
func normalize(v interface{}, path string, limits SnapshotLimits, omitted *[]string) (interface{}, bool) {
	switch t := v.(type) {
	case nil, bool, json.Number:
		return t, true
	case string:
		if limits.MaxStringBytes > 0 && len(t) > limits.MaxStringBytes {
			return nil, false
		}
		return t, true
	case json.RawMessage:
		return decodeAndNormalize(t, path, limits, omitted)
	case []byte:
		// []byte encodes as base64 and is opaque to readers
		return nil, false
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, child := range t {
			childPath := joinPath(path, k)
			if nv, ok := normalize(child, childPath, limits, omitted); ok {
				out[k] = nv
			} else {
				*omitted = append(*omitted, childPath)
			}
		}
		return out, true
	case []interface{}:
		out := make([]interface{}, 0, len(t))
		for i, child := range t {
			childPath := fmt.Sprintf("%s[%d]", path, i)
			if nv, ok := normalize(child, childPath, limits, omitted); ok {
				out = append(out, nv)
			} else {
				*omitted = append(*omitted, childPath)
			}
		}
		return out, true
	}

	b, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	return decodeAndNormalize(b, path, limits, omitted)
}

func decodeAndNormalize(b []byte, path string, limits SnapshotLimits, omitted *[]string) (interface{}, bool) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return nil, false
	}
	switch generic.(type) {
	case map[string]interface{}, []interface{}:
		return normalize(generic, path, limits, omitted)
	case string:
		return normalize(generic, path, limits, omitted)
	}
	return generic, true
}

func encodeCanonical(v interface{}) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode payload snapshot: %w", err)
	}
	return json.RawMessage(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

func largestField(obj map[string]interface{}) string {
	var (
		best     string
		bestSize = -1
	)
	keys := make([]string, 0, len(obj))
	for k := range obj {
		if k != omittedKey {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		b, _ := json.Marshal(obj[k])
		if len(b) > bestSize {
			best, bestSize = k, len(b)
		}
	}
	return best
}

func joinPath(parent, key string) string {
	if parent == "" {
		return key
	}
	if strings.ContainsAny(key, ".[]") {
		return fmt.Sprintf("%s[%q]", parent, key)
	}
	return parent + "." + key
}
