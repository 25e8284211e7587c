package events

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPayloadSnapshot_RoundTripIsStable(t *testing.T) {
	raw := map[string]interface{}{
		"message": map[string]interface{}{
			"subject": "Quarterly <numbers>",
			"size":    12345678901234,
			"ratio":   0.25,
			"labels":  []string{"INBOX", "IMPORTANT"},
		},
		"flag": true,
		"none": nil,
	}

	first, err := BuildPayloadSnapshot(raw, DefaultSnapshotLimits)
	require.NoError(t, err)

	var decoded interface{}
	require.NoError(t, json.Unmarshal(first, &decoded))

	second, err := BuildPayloadSnapshot(json.RawMessage(first), DefaultSnapshotLimits)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
	assert.Contains(t, string(first), `"subject":"Quarterly <numbers>"`)
	assert.Contains(t, string(first), `"size":12345678901234`)
	assert.NotContains(t, string(first), omittedKey)
}

func TestBuildPayloadSnapshot_DropsUnencodableValues(t *testing.T) {
	raw := map[string]interface{}{
		"ok":     "kept",
		"fn":     func() {},
		"ch":     make(chan int),
		"binary": []byte("raw bytes"),
		"nested": map[string]interface{}{"inner": func() {}},
	}

	out, err := BuildPayloadSnapshot(raw, DefaultSnapshotLimits)
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Equal(t, "kept", got["ok"])
	assert.NotContains(t, got, "fn")
	assert.NotContains(t, got, "ch")
	assert.NotContains(t, got, "binary")
	assert.Equal(t, map[string]interface{}{}, got["nested"])
	assert.ElementsMatch(t, []interface{}{"binary", "ch", "fn", "nested.inner"}, got[omittedKey])
}

func TestBuildPayloadSnapshot_EnforcesLimits(t *testing.T) {
	limits := SnapshotLimits{MaxStringBytes: 64, MaxBytes: 512}
	raw := map[string]interface{}{
		"small":     "fine",
		"huge":      strings.Repeat("x", 100),
		"bulky":     []interface{}{strings.Repeat("a", 60), strings.Repeat("b", 60), strings.Repeat("c", 60), strings.Repeat("d", 60), strings.Repeat("e", 60), strings.Repeat("f", 60), strings.Repeat("g", 60), strings.Repeat("h", 60)},
		"important": "keep me",
	}

	out, err := BuildPayloadSnapshot(raw, limits)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(out), limits.MaxBytes)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Equal(t, "fine", got["small"])
	assert.Equal(t, "keep me", got["important"])
	assert.NotContains(t, got, "huge")
	assert.NotContains(t, got, "bulky")
	assert.ElementsMatch(t, []interface{}{"bulky", "huge"}, got[omittedKey])
}

func TestBuildPayloadSnapshot_WrapsScalars(t *testing.T) {
	out, err := BuildPayloadSnapshot("hello", DefaultSnapshotLimits)
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":"hello"}`, string(out))

	out, err = BuildPayloadSnapshot(nil, DefaultSnapshotLimits)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(out))
}
