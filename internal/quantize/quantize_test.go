package quantize_test

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fxq/internal/config"
	"github.com/roach88/fxq/internal/fx"
	"github.com/roach88/fxq/internal/ir"
	"github.com/roach88/fxq/internal/nn"
	"github.com/roach88/fxq/internal/passes"
	"github.com/roach88/fxq/internal/qconfig"
	"github.com/roach88/fxq/internal/quantize"
	"github.com/roach88/fxq/internal/testutil"
	"github.com/roach88/fxq/internal/tracer"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newQuantizer(opts ...quantize.Option) *quantize.Quantizer {
	return quantize.New(append([]quantize.Option{quantize.WithLogger(quiet())}, opts...)...)
}

func global() *qconfig.Mapping {
	return qconfig.NewMapping().SetGlobal(qconfig.Default)
}

func nodeNames(gm *fx.GraphModule) []string {
	var names []string
	for _, n := range gm.Graph.Nodes() {
		names = append(names, n.Name)
	}
	return names
}

func countTargets(gm *fx.GraphModule, target string) int {
	count := 0
	for _, n := range gm.Graph.Nodes() {
		if n.Target == target {
			count++
		}
	}
	return count
}

func TestFuse_LinearReLU(t *testing.T) {
	q := newQuantizer()

	gm, err := q.Fuse(testutil.LinearReLU(), quantize.FuseOptions{})
	require.NoError(t, err)

	assert.Equal(t, fx.StageFused, gm.Stage())
	assert.Equal(t, []string{"x", "fc", "output"}, nodeNames(gm))
	fc, ok := gm.Module("fc")
	require.True(t, ok)
	assert.Equal(t, nn.TypeLinearReLU, fc.Type())
	assert.Equal(t, testutil.TypeChain, gm.RootType)
}

func TestPrepareConvert_EndToEnd(t *testing.T) {
	q := newQuantizer()

	prepared, err := q.Prepare(testutil.LinearReLU(), global(), []any{[]float64{-1, 2}}, quantize.PrepareOptions{})
	require.NoError(t, err)
	assert.Equal(t, fx.StagePrepared, prepared.Stage())
	assert.Equal(t, []string{
		"x", "activation_post_process_0", "fc", "activation_post_process_1", "output",
	}, nodeNames(prepared))

	converted, err := q.Convert(prepared, quantize.ConvertOptions{})
	require.NoError(t, err)
	assert.Equal(t, fx.StageConverted, converted.Stage())
	assert.Equal(t, []string{"x", "quantize_per_tensor", "fc", "dequantize", "output"}, nodeNames(converted))

	fc, ok := converted.Module("fc")
	require.True(t, ok)
	assert.Equal(t, nn.QuantizedTypeFor(nn.TypeLinearReLU), fc.Type())
	fcNode, ok := converted.Graph.Node("fc")
	require.True(t, ok)
	assert.NotContains(t, fcNode.Meta, passes.MetaPolicy)
}

func TestConvert_DoesNotModifyInput(t *testing.T) {
	q := newQuantizer()
	prepared, err := q.Prepare(testutil.LinearReLU(), global(), nil, quantize.PrepareOptions{})
	require.NoError(t, err)
	before := ir.MustFingerprint(prepared.Graph)

	_, err = q.Convert(prepared, quantize.ConvertOptions{IsReference: true})
	require.NoError(t, err)

	assert.Equal(t, before, ir.MustFingerprint(prepared.Graph))
	assert.Equal(t, fx.StagePrepared, prepared.Stage())
	_, ok := prepared.Module("activation_post_process_0")
	assert.True(t, ok)
}

func TestConvert_KeepQuantMetadata(t *testing.T) {
	q := newQuantizer()
	prepared, err := q.Prepare(testutil.LinearReLU(), global(), nil, quantize.PrepareOptions{})
	require.NoError(t, err)

	converted, err := q.Convert(prepared, quantize.ConvertOptions{IsReference: true, KeepQuantMetadata: true})
	require.NoError(t, err)

	fc, ok := converted.Graph.Node("fc")
	require.True(t, ok)
	assert.Equal(t, ir.IRString("default"), fc.Meta[passes.MetaPolicy])
}

func TestPreservedAttributes_RoundTrip(t *testing.T) {
	q := newQuantizer()
	m := testutil.LinearReLU()
	m.SetAttr("version", 3)
	m.SetAttr("labels", []string{"cat", "dog"})

	fused, err := q.Fuse(m, quantize.FuseOptions{
		Config: (config.FuseConfig{}).WithPreservedAttributes("version"),
	})
	require.NoError(t, err)
	v, ok := fused.Attr("version")
	require.True(t, ok)
	assert.Equal(t, 3, v)

	prepared, err := q.Prepare(m, global(), nil, quantize.PrepareOptions{
		Config: (config.PrepareConfig{}).WithPreservedAttributes("version", "labels"),
	})
	require.NoError(t, err)
	converted, err := q.Convert(prepared, quantize.ConvertOptions{
		Config: (config.ConvertConfig{}).WithPreservedAttributes("version", "labels"),
	})
	require.NoError(t, err)

	v, ok = converted.Attr("version")
	require.True(t, ok)
	assert.Equal(t, 3, v)
	labels, ok := converted.Attr("labels")
	require.True(t, ok)
	assert.Equal(t, []string{"cat", "dog"}, labels)
}

func TestPreservedAttributes_Missing(t *testing.T) {
	q := newQuantizer()

	_, err := q.Prepare(testutil.LinearReLU(), global(), nil, quantize.PrepareOptions{
		Config: (config.PrepareConfig{}).WithPreservedAttributes("absent"),
	})

	require.Error(t, err)
	assert.Equal(t, quantize.ErrCodeMissingAttribute, quantize.ErrorCodeOf(err))
	assert.Contains(t, err.Error(), `"absent"`)
}

func TestEmptyPolicy_IsNoOp(t *testing.T) {
	q := newQuantizer()
	fused, err := q.Fuse(testutil.Residual(), quantize.FuseOptions{})
	require.NoError(t, err)

	prepared, err := q.Prepare(testutil.Residual(), nil, nil, quantize.PrepareOptions{})
	require.NoError(t, err)
	converted, err := q.Convert(prepared, quantize.ConvertOptions{})
	require.NoError(t, err)

	want := ir.MustFingerprint(fused.Graph)
	assert.Equal(t, want, ir.MustFingerprint(prepared.Graph))
	assert.Equal(t, want, ir.MustFingerprint(converted.Graph))
}

func TestLegacyConfig_MatchesCanonical(t *testing.T) {
	q := newQuantizer()
	example := []any{[]float64{-3, 3}}

	canonical, err := q.Prepare(testutil.Residual(), global(), example, quantize.PrepareOptions{
		Config: (config.PrepareConfig{}).WithNonTraceableModuleNames("relu"),
	})
	require.NoError(t, err)
	legacy, err := q.Prepare(testutil.Residual(), map[string]any{"": "default"}, example, quantize.PrepareOptions{
		Config: map[string]any{"non_traceable_module_name": []any{"relu"}},
	})
	require.NoError(t, err)
	assert.Equal(t, ir.MustFingerprint(canonical.Graph), ir.MustFingerprint(legacy.Graph))

	c1, err := q.Convert(canonical, quantize.ConvertOptions{IsReference: true})
	require.NoError(t, err)
	c2, err := q.Convert(legacy, quantize.ConvertOptions{IsReference: true, Config: map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, ir.MustFingerprint(c1.Graph), ir.MustFingerprint(c2.Graph))
}

func TestInvalidConfig(t *testing.T) {
	q := newQuantizer()

	_, err := q.Prepare(testutil.LinearReLU(), 42, nil, quantize.PrepareOptions{})
	assert.Equal(t, quantize.ErrCodeInvalidConfig, quantize.ErrorCodeOf(err))

	_, err = q.Prepare(testutil.LinearReLU(), nil, nil, quantize.PrepareOptions{
		Config: map[string]any{"no_such_key": true},
	})
	assert.Equal(t, quantize.ErrCodeInvalidConfig, quantize.ErrorCodeOf(err))
	assert.True(t, config.IsConfigError(err))
}

func TestConvert_ContractViolations(t *testing.T) {
	q := newQuantizer()

	_, err := q.Convert(testutil.LinearReLU(), quantize.ConvertOptions{})
	assert.True(t, quantize.IsContractViolation(err), "plain module: %v", err)

	fused, err := q.Fuse(testutil.LinearReLU(), quantize.FuseOptions{})
	require.NoError(t, err)
	_, err = q.Convert(fused, quantize.ConvertOptions{})
	assert.True(t, quantize.IsContractViolation(err), "fused module: %v", err)

	prepared, err := q.Prepare(testutil.LinearReLU(), global(), nil, quantize.PrepareOptions{})
	require.NoError(t, err)
	converted, err := q.Convert(prepared, quantize.ConvertOptions{})
	require.NoError(t, err)
	_, err = q.Convert(converted, quantize.ConvertOptions{})
	assert.True(t, quantize.IsContractViolation(err), "converted module: %v", err)
}

func TestPrepare_RejectsPreparedModule(t *testing.T) {
	q := newQuantizer()
	prepared, err := q.Prepare(testutil.LinearReLU(), global(), nil, quantize.PrepareOptions{})
	require.NoError(t, err)

	_, err = q.Prepare(prepared, global(), nil, quantize.PrepareOptions{})
	assert.True(t, quantize.IsContractViolation(err))

	_, err = q.Prepare(nil, global(), nil, quantize.PrepareOptions{})
	assert.True(t, quantize.IsContractViolation(err))
}

func TestPrepareQAT(t *testing.T) {
	q := newQuantizer()

	prepared, err := q.PrepareQAT(testutil.ConvBnReLU(), global(), nil, quantize.PrepareOptions{
		Equalization: global(),
	})
	require.NoError(t, err)
	assert.True(t, prepared.IsQAT)

	conv, ok := prepared.Graph.Node("conv")
	require.True(t, ok)
	assert.NotContains(t, conv.Meta, passes.MetaEqualization)

	converted, err := q.Convert(prepared, quantize.ConvertOptions{})
	require.NoError(t, err)
	assert.True(t, converted.IsQAT)
}

func TestPrepare_SwapsFloatFunctional(t *testing.T) {
	q := newQuantizer()
	m := testutil.Arith()

	prepared, err := q.Prepare(m, nil, nil, quantize.PrepareOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"x", "add", "output"}, nodeNames(prepared))
	ff, ok := m.Child("ff")
	require.True(t, ok)
	assert.Equal(t, nn.TypeFXFloatFunctional, ff.Type())
}

func TestTraceFailure(t *testing.T) {
	q := newQuantizer()

	_, err := q.Prepare(testutil.Branchy(), global(), nil, quantize.PrepareOptions{})

	require.Error(t, err)
	assert.Equal(t, quantize.ErrCodeTraceFailed, quantize.ErrorCodeOf(err))
	assert.True(t, tracer.IsDataDependentError(err))
}

type failingFuser struct{ result *fx.GraphModule }

func (failingFuser) Name() string { return "failing" }

func (f failingFuser) Fuse(passes.FuseRequest) (*fx.GraphModule, error) {
	if f.result != nil {
		return f.result, nil
	}
	return nil, errors.New("boom")
}

func TestPassFailure(t *testing.T) {
	q := newQuantizer(quantize.WithFuser(failingFuser{}))

	_, err := q.Prepare(testutil.LinearReLU(), global(), nil, quantize.PrepareOptions{})

	require.Error(t, err)
	assert.Equal(t, quantize.ErrCodePassFailed, quantize.ErrorCodeOf(err))
	var qe *quantize.Error
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, fx.StageFused, qe.Stage)
	assert.Contains(t, err.Error(), "boom")
}

func TestPassReturningWrongStage(t *testing.T) {
	// A pass result that already moved on cannot advance to fused.
	done := fx.New("test.Chain", ir.New(), nil, nil)
	require.NoError(t, done.Advance(fx.StageFused))
	q := newQuantizer(quantize.WithFuser(failingFuser{result: done}))

	_, err := q.Fuse(testutil.LinearReLU(), quantize.FuseOptions{})

	assert.Equal(t, quantize.ErrCodePassFailed, quantize.ErrorCodeOf(err))
}

func standaloneConfig() *config.PrepareConfig {
	boundary := (config.PrepareConfig{}).WithInputQuantizedIndices(0).WithOutputQuantizedIndices(0)
	return (config.PrepareConfig{}).WithStandaloneModuleName("unit", config.StandaloneSpec{Prepare: boundary})
}

func TestStandalone_Prepare(t *testing.T) {
	q := newQuantizer()

	prepared, err := q.Prepare(testutil.WithUnit(), global(), nil, quantize.PrepareOptions{Config: standaloneConfig()})
	require.NoError(t, err)

	m, ok := prepared.Module("unit")
	require.True(t, ok)
	unit, ok := m.(*fx.GraphModule)
	require.True(t, ok, "unit is %T", m)
	assert.True(t, unit.Standalone)
	assert.Equal(t, fx.StagePrepared, unit.Stage())
	assert.Equal(t, []int{0}, unit.InputQuantizedIndices)
	assert.Equal(t, []int{0}, unit.OutputQuantizedIndices)
	assert.Equal(t, testutil.TypeBlock, unit.RootType)
	assert.Equal(t, []string{"x", "inner", "activation_post_process_0", "output"}, nodeNames(unit))

	assert.Equal(t, []string{
		"x", "activation_post_process_0", "fc", "activation_post_process_1",
		"unit", "relu", "activation_post_process_2", "output",
	}, nodeNames(prepared))
	unitNode, ok := prepared.Graph.Node("unit")
	require.True(t, ok)
	assert.Equal(t, ir.IRBool(true), unitNode.Meta[passes.MetaStandalone])
}

func TestStandalone_Convert(t *testing.T) {
	q := newQuantizer()
	prepared, err := q.Prepare(testutil.WithUnit(), global(), nil, quantize.PrepareOptions{Config: standaloneConfig()})
	require.NoError(t, err)

	converted, err := q.Convert(prepared, quantize.ConvertOptions{})
	require.NoError(t, err)

	m, ok := converted.Module("unit")
	require.True(t, ok)
	unit, ok := m.(*fx.GraphModule)
	require.True(t, ok)
	assert.Equal(t, fx.StageConverted, unit.Stage())
	assert.Equal(t, []string{"x", "inner", "output"}, nodeNames(unit))

	assert.Equal(t, 1, countTargets(converted, passes.FnQuantize))
	out := converted.Graph.Output()
	require.NotNil(t, out)
	last, ok := out.Args[0].(*ir.Node)
	require.True(t, ok)
	assert.Equal(t, passes.FnDequantize, last.Target)

	orig, _ := prepared.Module("unit")
	assert.Equal(t, fx.StagePrepared, orig.(*fx.GraphModule).Stage())
}

func TestStandalone_TraceFailurePropagates(t *testing.T) {
	q := newQuantizer()
	parent := testutil.Chain(testutil.TypeParent,
		nn.Child{Name: "fc", Module: nn.NewLinear(4, 4)},
		nn.Child{Name: "unit", Module: testutil.Branchy()},
	)
	cfg := (config.PrepareConfig{}).WithStandaloneModuleName("unit", config.StandaloneSpec{})

	_, err := q.Prepare(parent, global(), nil, quantize.PrepareOptions{Config: cfg})

	require.Error(t, err)
	var qe *quantize.Error
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, quantize.ErrCodeTraceFailed, qe.Code)
	assert.Equal(t, "unit", qe.Unit)
}

// recursiveBlocks compiles every Block as a standalone unit, at every level.
func recursiveBlocks() *config.PrepareConfig {
	cfg := &config.PrepareConfig{}
	cfg.StandaloneModuleTypes = map[ir.ModuleType]config.StandaloneSpec{
		testutil.TypeBlock: {Prepare: cfg},
	}
	return cfg
}

func TestStandalone_DepthCeiling(t *testing.T) {
	q := newQuantizer()

	_, err := q.Prepare(testutil.NestedBlocks(quantize.DefaultMaxStandaloneDepth+3), global(), nil,
		quantize.PrepareOptions{Config: recursiveBlocks()})

	require.Error(t, err)
	assert.Equal(t, quantize.ErrCodeStandaloneDepth, quantize.ErrorCodeOf(err))
}

func TestStandalone_NestedWithinCeiling(t *testing.T) {
	q := newQuantizer(quantize.WithMaxStandaloneDepth(2))

	prepared, err := q.Prepare(testutil.NestedBlocks(3), global(), nil, quantize.PrepareOptions{Config: recursiveBlocks()})
	require.NoError(t, err)

	m, ok := prepared.Module("inner")
	require.True(t, ok)
	level1 := m.(*fx.GraphModule)
	m, ok = level1.Module("inner")
	require.True(t, ok)
	level2, ok := m.(*fx.GraphModule)
	require.True(t, ok)
	assert.True(t, level2.Standalone)

	_, err = newQuantizer(quantize.WithMaxStandaloneDepth(1)).
		Prepare(testutil.NestedBlocks(3), global(), nil, quantize.PrepareOptions{Config: recursiveBlocks()})
	assert.Equal(t, quantize.ErrCodeStandaloneDepth, quantize.ErrorCodeOf(err))
}

func TestRecorder_UnitsAndStages(t *testing.T) {
	rec := testutil.NewMemoryRecorder()
	q := newQuantizer(quantize.WithRecorder(rec), quantize.WithIDGenerator(testutil.NewSequentialIDs()))

	prepared, err := q.Prepare(testutil.NestedBlocks(3), global(), nil, quantize.PrepareOptions{Config: recursiveBlocks()})
	require.NoError(t, err)
	_, err = q.Convert(prepared, quantize.ConvertOptions{})
	require.NoError(t, err)

	units := rec.Units()
	require.Len(t, units, 3)
	assert.Equal(t, quantize.Unit{ID: "unit-0001", RootType: testutil.TypeBlock}, units[0])
	assert.Equal(t, quantize.Unit{
		ID: "unit-0002", ParentID: "unit-0001", Path: "inner", RootType: testutil.TypeBlock, Standalone: true, Depth: 1,
	}, units[1])
	assert.Equal(t, quantize.Unit{
		ID: "unit-0003", ParentID: "unit-0002", Path: "inner.inner", RootType: testutil.TypeBlock, Standalone: true, Depth: 2,
	}, units[2])

	all := []fx.Stage{fx.StageTraced, fx.StageFused, fx.StagePrepared, fx.StageConverted}
	for _, u := range units {
		assert.Equal(t, all, rec.StagesOf(u.ID), "unit %s", u.Path)
	}
	assert.Equal(t, "unit-0001", prepared.UnitID)
}

func TestRecorder_Failure(t *testing.T) {
	rec := testutil.NewMemoryRecorder()
	rec.Err = errors.New("disk full")
	q := newQuantizer(quantize.WithRecorder(rec))

	_, err := q.Prepare(testutil.LinearReLU(), global(), nil, quantize.PrepareOptions{})

	assert.Equal(t, quantize.ErrCodeRecordFailed, quantize.ErrorCodeOf(err))
}

func TestPackageLevelEntryPoints(t *testing.T) {
	prepared, err := quantize.Prepare(testutil.LinearReLU(), global(), nil, quantize.PrepareOptions{})
	require.NoError(t, err)
	converted, err := quantize.Convert(prepared, quantize.ConvertOptions{IsReference: true})
	require.NoError(t, err)
	assert.Equal(t, fx.StageConverted, converted.Stage())
	assert.Empty(t, converted.UnitID)
}
