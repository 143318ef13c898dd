package ir

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_Literals(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"null", IRNull{}, `null`},
		{"string", IRString("hello"), `"hello"`},
		{"int", IRInt(-42), `-42`},
		{"float", IRFloat(0.5), `0.5`},
		{"integral float", IRFloat(2), `2`},
		{"tiny float", IRFloat(1e-7), `1e-07`},
		{"bool", IRBool(true), `true`},
		{"array", IRArray{IRInt(1), IRString("a")}, `[1,"a"]`},
		{"object sorted", IRObject{"b": IRInt(2), "a": IRInt(1)}, `{"a":1,"b":2}`},
		{"no html escape", IRString("<a&b>"), `"<a&b>"`},
		{"plain map", map[string]any{"z": 1, "y": "s"}, `{"y":"s","z":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MarshalCanonical(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestMarshalCanonical_RejectsNonFinite(t *testing.T) {
	_, err := MarshalCanonical(IRFloat(math.NaN()))
	assert.Error(t, err)
	_, err = MarshalCanonical(IRFloat(math.Inf(1)))
	assert.Error(t, err)
}

func TestMarshalCanonical_NFC(t *testing.T) {
	decomposed := "e\u0301"
	composed := "\u00e9"

	a, err := MarshalCanonical(IRString(decomposed))
	require.NoError(t, err)
	b, err := MarshalCanonical(IRString(composed))
	require.NoError(t, err)
	assert.Equal(t, string(b), string(a))
}

func TestMarshalCanonical_LineSeparatorsLiteral(t *testing.T) {
	got, err := MarshalCanonical(IRString("a\u2028b"))
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\"", string(got))

	got, err = MarshalCanonical(IRString(`a\u2028b`))
	require.NoError(t, err)
	assert.Equal(t, `"a\\u2028b"`, string(got))
}

func TestMarshalCanonical_NodeEdge(t *testing.T) {
	g := New()
	x, err := g.Create(NodeSpec{Kind: KindInput, Target: "x"})
	require.NoError(t, err)

	got, err := MarshalCanonical(IRArray{x, IRInt(1)})
	require.NoError(t, err)
	assert.Equal(t, `[{"node":"x"},1]`, string(got))
}

func TestFromGo(t *testing.T) {
	a, err := FromGo(map[string]any{
		"dims":  []any{1, 2},
		"scale": 0.25,
		"name":  "w",
		"none":  nil,
	})
	require.NoError(t, err)

	obj, ok := a.(IRObject)
	require.True(t, ok)
	assert.Equal(t, IRArray{IRInt(1), IRInt(2)}, obj["dims"])
	assert.Equal(t, IRFloat(0.25), obj["scale"])
	assert.Equal(t, IRString("w"), obj["name"])
	assert.Equal(t, IRNull{}, obj["none"])

	_, err = FromGo(struct{}{})
	assert.Error(t, err)
}

func TestSortedKeys_UTF16Order(t *testing.T) {
	obj := IRObject{
		"\U0001F600": IRInt(1), // surrogate pair D83D DE00
		"\uffff":     IRInt(2),
		"a":          IRInt(3),
	}
	assert.Equal(t, []string{"a", "\U0001F600", "\uffff"}, obj.SortedKeys())
}

func TestFingerprint_Stable(t *testing.T) {
	g1, _, _ := buildLinearGraph(t)
	g2, _, _ := buildLinearGraph(t)

	f1, err := Fingerprint(g1)
	require.NoError(t, err)
	f2, err := Fingerprint(g2)
	require.NoError(t, err)
	assert.Equal(t, f1, f2)
	assert.Len(t, f1, 64)
}
