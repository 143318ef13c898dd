package passes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fxq/internal/config"
	"github.com/roach88/fxq/internal/fx"
	"github.com/roach88/fxq/internal/ir"
	"github.com/roach88/fxq/internal/nn"
	"github.com/roach88/fxq/internal/qconfig"
	"github.com/roach88/fxq/internal/tracer"
)

func convert(t *testing.T, gm *fx.GraphModule, req ConvertRequest) *fx.GraphModule {
	t.Helper()
	req.Module = gm
	out, err := NewReferenceConverter(quiet()).Convert(req)
	require.NoError(t, err)
	return out
}

func preparedLinear(t *testing.T, policy *qconfig.Policy) *fx.GraphModule {
	t.Helper()
	return prepare(t, linearModel(t), PrepareRequest{
		Policy:        qconfig.NewMapping().SetGlobal(policy),
		ExampleInputs: []any{[]float64{-1, 2}},
	})
}

func TestReferenceConverter_ReferenceMode(t *testing.T) {
	out := convert(t, preparedLinear(t, qconfig.Default), ConvertRequest{IsReference: true})

	assert.Equal(t, []string{
		"x", "quantize_per_tensor", "dequantize", "fc", "quantize_per_tensor_1", "dequantize_1", "output",
	}, nodeNames(out))
	assert.Equal(t, nn.TypeLinear, moduleType(t, out, "fc"))

	q := mustNode(t, out, "quantize_per_tensor")
	scale, ok := ir.AsFloat(q.Args[1])
	require.True(t, ok)
	assert.InDelta(t, 3.0/255, scale, 1e-12)
	assert.Equal(t, ir.IRInt(85), q.Args[2])
	assert.Equal(t, ir.IRString(qconfig.QUInt8), q.Args[3])

	for _, p := range out.ModulePaths() {
		assert.NotContains(t, p, ObserverPathPrefix)
	}
}

func TestReferenceConverter_LowersToQuantizedModules(t *testing.T) {
	out := convert(t, preparedLinear(t, qconfig.Default), ConvertRequest{})

	assert.Equal(t, []string{"x", "quantize_per_tensor", "fc", "dequantize", "output"}, nodeNames(out))
	m, ok := out.Module("fc")
	require.True(t, ok)
	qm, ok := m.(*nn.QuantizedModule)
	require.True(t, ok, "fc is %T", m)
	assert.Equal(t, nn.QuantizedTypeFor(nn.TypeLinear), qm.Type())
	assert.Equal(t, "quint8", qm.DType)
	assert.Equal(t, ir.Arg(mustNode(t, out, "dequantize")), out.Graph.Output().Args[0])
}

func TestReferenceConverter_NoOpPolicyAddsNothing(t *testing.T) {
	gm := linearModel(t)
	before := ir.MustFingerprint(gm.Graph)

	prepared := prepare(t, gm, PrepareRequest{Policy: qconfig.NewMapping()})
	out := convert(t, prepared, ConvertRequest{})

	assert.Equal(t, before, ir.MustFingerprint(out.Graph))
	for _, n := range out.Graph.Nodes() {
		assert.NotEqual(t, FnQuantize, n.Target)
		assert.NotEqual(t, FnDequantize, n.Target)
	}
}

func TestReferenceConverter_Float16Casts(t *testing.T) {
	out := convert(t, preparedLinear(t, qconfig.FP16), ConvertRequest{})

	var casts int
	for _, n := range out.Graph.Nodes() {
		if n.Kind == ir.KindCallMethod && n.Target == MethodTo {
			casts++
			assert.Equal(t, ir.IRString("float16"), n.Args[1])
		}
	}
	assert.Equal(t, 2, casts)
	assert.Equal(t, nn.TypeLinear, moduleType(t, out, "fc"))
}

func TestReferenceConverter_DynamicSwap(t *testing.T) {
	prepared := prepare(t, linearModel(t), PrepareRequest{
		Policy: qconfig.NewMapping().SetGlobal(qconfig.Dynamic),
	})

	out := convert(t, prepared, ConvertRequest{})

	assert.Equal(t, []string{"x", "fc", "output"}, nodeNames(out))
	assert.Equal(t, ir.ModuleType("nn.quantized.dynamic.Linear"), moduleType(t, out, "fc"))
}

func TestReferenceConverter_RemoveQuantMetadata(t *testing.T) {
	out := convert(t, preparedLinear(t, qconfig.Default), ConvertRequest{RemoveQuantMetadata: true})

	for _, n := range out.Graph.Nodes() {
		for _, k := range []string{MetaPolicy, MetaDType, MetaDynamic, MetaEqualization} {
			assert.NotContains(t, n.Meta, k, n.Name)
		}
	}
}

func TestReferenceConverter_StandaloneBoundaryInParent(t *testing.T) {
	parent, _ := parentWithUnit(t)
	prepared := prepare(t, parent, PrepareRequest{Policy: qconfig.NewMapping()})

	out := convert(t, prepared, ConvertRequest{})

	assert.Equal(t, []string{"x", "quantize_per_tensor", "unit", "dequantize", "relu", "output"}, nodeNames(out))
	assert.Equal(t, []ir.Arg{mustNode(t, out, "quantize_per_tensor")}, mustNode(t, out, "unit").Args)
	assert.Equal(t, []ir.Arg{mustNode(t, out, "dequantize")}, mustNode(t, out, "relu").Args)
}

func TestReferenceConverter_StandaloneBoundaryReferenceMode(t *testing.T) {
	parent, _ := parentWithUnit(t)
	prepared := prepare(t, parent, PrepareRequest{Policy: qconfig.NewMapping()})

	out := convert(t, prepared, ConvertRequest{IsReference: true})

	// The unit reads the quantized value directly; the reference
	// dequantize behind it has no users left and is dropped.
	assert.Equal(t, []string{"x", "quantize_per_tensor", "unit", "dequantize_1", "relu", "output"}, nodeNames(out))
	assert.Equal(t, []ir.Arg{mustNode(t, out, "quantize_per_tensor")}, mustNode(t, out, "unit").Args)
}

func TestReferenceConverter_StandaloneGraphKeepsQuantizedEnds(t *testing.T) {
	gm := linearModel(t)
	prepared := prepare(t, gm, PrepareRequest{
		Policy:       qconfig.NewMapping().SetGlobal(qconfig.Default),
		IsStandalone: true,
		Config: &config.PrepareConfig{
			InputQuantizedIndices:  []int{0},
			OutputQuantizedIndices: []int{0},
		},
	})
	prepared.Standalone = true
	prepared.InputQuantizedIndices = []int{0}
	prepared.OutputQuantizedIndices = []int{0}

	out := convert(t, prepared, ConvertRequest{IsStandalone: true})

	// x arrives quantized and fc hands back its quantized output.
	assert.Equal(t, []string{"x", "fc", "output"}, nodeNames(out))
	assert.Equal(t, nn.QuantizedTypeFor(nn.TypeLinear), moduleType(t, out, "fc"))
}

func TestReferenceConverter_ObservedCustomSwap(t *testing.T) {
	custom := nn.NewCustom("test.Custom", func(_ *nn.Custom, b nn.Builder, args ...ir.Arg) (ir.Arg, error) {
		return b.CallFunction("custom_op", args, nil)
	})
	gm := trace(t, chainModel(nn.Child{Name: "lstm", Module: custom}), tracer.Options{
		SkippedModuleTypes: []ir.ModuleType{"test.Custom"},
	})
	prepared := prepare(t, gm, PrepareRequest{Config: &config.PrepareConfig{
		FloatToObserved: map[ir.ModuleType]ir.ModuleType{"test.Custom": "test.ObservedCustom"},
	}})

	out := convert(t, prepared, ConvertRequest{
		Config: (&config.ConvertConfig{}).WithObservedToQuantized("test.ObservedCustom", "test.QuantizedCustom"),
	})

	assert.Equal(t, ir.ModuleType("test.QuantizedCustom"), moduleType(t, out, "lstm"))
}
