package qconfig

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_Precedence(t *testing.T) {
	m := NewMapping().
		SetGlobal(Default).
		SetObjectType("nn.Linear", Dynamic).
		SetModuleNameRegex(`block\d+\.fc`, FP16).
		SetModuleName("block1", Float).
		SetModuleNameObjectTypeOrder("block1", "add", 1, Dynamic)

	tests := []struct {
		name  string
		query Query
		want  *Policy
	}{
		{"global", Query{ModulePath: "head", ObjectType: "nn.Conv2d"}, Default},
		{"object type", Query{ModulePath: "head", ObjectType: "nn.Linear"}, Dynamic},
		{"regex beats type", Query{ModulePath: "block0.fc", ObjectType: "nn.Linear"}, FP16},
		{"regex is anchored", Query{ModulePath: "xblock0.fc", ObjectType: "relu"}, Default},
		{"name beats regex", Query{ModulePath: "block1.fc", ObjectType: "nn.Linear"}, Float},
		{"name applies to parent path", Query{ModulePath: "block1", ObjectType: "mul"}, Float},
		{"order beats name", Query{ModulePath: "block1", ObjectType: "add", Index: 1}, Dynamic},
		{"order needs matching index", Query{ModulePath: "block1", ObjectType: "add", Index: 0}, Float},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Same(t, tc.want, m.Resolve(tc.query))
		})
	}
}

func TestResolve_EmptyMappingQuantizesNothing(t *testing.T) {
	m := NewMapping()
	assert.True(t, m.IsEmpty())
	assert.Nil(t, m.Resolve(Query{ModulePath: "a", ObjectType: "nn.Linear"}))

	var nilMapping *Mapping
	assert.Nil(t, nilMapping.Resolve(Query{}))
}

func TestResolve_ExplicitNullOverridesGlobal(t *testing.T) {
	m := NewMapping().SetGlobal(Default).SetModuleName("skip", nil)
	assert.Nil(t, m.Resolve(Query{ModulePath: "skip.inner", ObjectType: "nn.Linear"}))
	assert.Same(t, Default, m.Resolve(Query{ModulePath: "other", ObjectType: "nn.Linear"}))
}

func TestSetters_ReplaceExistingEntries(t *testing.T) {
	m := NewMapping().SetObjectType("add", Default).SetObjectType("add", FP16)
	assert.Same(t, FP16, m.Resolve(Query{ObjectType: "add"}))
	assert.Len(t, m.ToMap()[KeyObjectType], 1)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, NewMapping().SetGlobal(Default).Validate())
	assert.Error(t, NewMapping().SetModuleNameRegex("(", Default).Validate())
	assert.Error(t, NewMapping().SetGlobal(&Policy{Activation: "int4", Weight: QInt8}).Validate())
	assert.Error(t, NewMapping().SetModuleNameObjectTypeOrder("a", "add", -1, Default).Validate())
}

func legacyMap() map[string]any {
	return map[string]any{
		"":            "default",
		"object_type": []any{[]any{"nn.Linear", "dynamic"}},
		"module_name": []any{[]any{"head", nil}},
		"module_name_regex": []any{
			[]any{`block\d+`, map[string]any{"name": "custom", "activation": "qint8", "weight": "qint8"}},
		},
		"module_name_object_type_order": []any{[]any{"block0", "add", 0, "fp16"}},
	}
}

func TestFromMap_MatchesBuilder(t *testing.T) {
	got, err := FromMap(legacyMap())
	require.NoError(t, err)

	custom := &Policy{Name: "custom", Activation: QInt8, Weight: QInt8}
	want := NewMapping().
		SetGlobal(Default).
		SetObjectType("nn.Linear", Dynamic).
		SetModuleName("head", nil).
		SetModuleNameRegex(`block\d+`, custom).
		SetModuleNameObjectTypeOrder("block0", "add", 0, FP16)

	queries := []Query{
		{ModulePath: "", ObjectType: "relu"},
		{ModulePath: "fc", ObjectType: "nn.Linear"},
		{ModulePath: "head.fc", ObjectType: "nn.Linear"},
		{ModulePath: "block3", ObjectType: "mul"},
		{ModulePath: "block0", ObjectType: "add", Index: 0},
	}
	for _, q := range queries {
		assert.Equal(t, want.Resolve(q), got.Resolve(q), "%+v", q)
	}
	assert.Equal(t, want.ToMap(), got.ToMap())
}

func TestFromMap_Errors(t *testing.T) {
	tests := map[string]map[string]any{
		"unknown key":    {"module_type": []any{}},
		"bad preset":     {"": "int4"},
		"short tuple":    {"object_type": []any{[]any{"nn.Linear"}}},
		"not a list":     {"module_name": "head"},
		"bad index":      {"module_name_object_type_order": []any{[]any{"a", "add", 0.5, nil}}},
		"bad field":      {"": map[string]any{"bits": 4}},
		"non-string key": {"module_name": []any{[]any{3, nil}}},
	}
	for name, d := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := FromMap(d)
			assert.Error(t, err)
		})
	}
}

func TestToMap_RoundTrip(t *testing.T) {
	m, err := FromMap(legacyMap())
	require.NoError(t, err)

	again, err := FromMap(m.ToMap())
	require.NoError(t, err)
	assert.Equal(t, m.ToMap(), again.ToMap())
}

func TestNormalize(t *testing.T) {
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	m := NewMapping().SetGlobal(Default)
	got, err := Normalize(m, quiet)
	require.NoError(t, err)
	assert.Same(t, m, got, "canonical input is returned unchanged")

	again, err := Normalize(got, quiet)
	require.NoError(t, err)
	assert.Same(t, got, again)

	empty, err := Normalize(nil, quiet)
	require.NoError(t, err)
	assert.True(t, empty.IsEmpty())

	_, err = Normalize(42, quiet)
	assert.Error(t, err)
}

func TestNormalize_LegacyWarnsOnce(t *testing.T) {
	deprecationOnce = sync.Once{}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	_, err := Normalize(legacyMap(), logger)
	require.NoError(t, err)
	_, err = Normalize(legacyMap(), logger)
	require.NoError(t, err)

	assert.Equal(t, 1, strings.Count(buf.String(), "deprecated"))
	assert.Contains(t, buf.String(), "level=WARN")
}

func TestPolicy(t *testing.T) {
	assert.True(t, Default.Quantizes())
	assert.True(t, FP16.Quantizes())
	assert.False(t, Float.Quantizes())

	var none *Policy
	assert.False(t, none.Quantizes())
	assert.NoError(t, none.Validate())

	lo, hi := QInt8.Range()
	assert.Equal(t, int64(-128), lo)
	assert.Equal(t, int64(127), hi)

	assert.Equal(t, []string{"default", "dynamic", "float", "fp16"}, PresetNames())
}
