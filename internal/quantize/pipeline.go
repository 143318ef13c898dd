package quantize

import (
	"fmt"
	"slices"

	"github.com/roach88/fxq/internal/config"
	"github.com/roach88/fxq/internal/fx"
	"github.com/roach88/fxq/internal/ir"
	"github.com/roach88/fxq/internal/nn"
	"github.com/roach88/fxq/internal/passes"
	"github.com/roach88/fxq/internal/qconfig"
	"github.com/roach88/fxq/internal/tracer"
)

// prepareRun is the canonical input of one prepare pipeline run.
type prepareRun struct {
	policy       *qconfig.Mapping
	example      []any
	cfg          *config.PrepareConfig
	equalization *qconfig.Mapping
	backend      *config.BackendConfig
	isQAT        bool
	standalone   bool
}

// convertRun is the canonical input of one convert pipeline run.
type convertRun struct {
	isReference bool
	cfg         *config.ConvertConfig
	removeMeta  bool
	policy      *qconfig.Mapping
	backend     *config.BackendConfig
	standalone  bool
}

// Fuse traces m and runs the fusion pass.
func (q *Quantizer) Fuse(m nn.Module, opts FuseOptions) (*fx.GraphModule, error) {
	q.logAPIUsage("fuse")
	cfg, err := config.NormalizeFuse(opts.Config, q.logger)
	if err != nil {
		return nil, invalidConfig(fx.StageFused, err)
	}
	backend, err := config.NormalizeBackend(opts.Backend, q.logger)
	if err != nil {
		return nil, invalidConfig(fx.StageFused, err)
	}
	if m == nil {
		return nil, contractError(fx.StageTraced, "", "fuse expects a module, got nil")
	}

	unit, err := q.beginUnit(nil, "", m.Type(), false, 0)
	if err != nil {
		return nil, err
	}
	gm, err := q.trace(m, tracer.Options{}, nil, cfg.PreservedAttributes, unit)
	if err != nil {
		return nil, err
	}
	return q.fuse(gm, m, false, cfg, backend, unit)
}

// Prepare traces, fuses and prepares m. policy is a *qconfig.Mapping,
// nil, or the legacy map form.
func (q *Quantizer) Prepare(m nn.Module, policy any, exampleInputs []any, opts PrepareOptions) (*fx.GraphModule, error) {
	q.logAPIUsage("prepare")
	run, err := q.normalizePrepare(policy, exampleInputs, opts, false)
	if err != nil {
		return nil, err
	}
	return q.prepare(m, run, nil, "", 0)
}

// PrepareQAT is Prepare for quantization-aware training. Equalization is
// not applied.
func (q *Quantizer) PrepareQAT(m nn.Module, policy any, exampleInputs []any, opts PrepareOptions) (*fx.GraphModule, error) {
	q.logAPIUsage("prepare_qat")
	opts.Equalization = nil
	run, err := q.normalizePrepare(policy, exampleInputs, opts, true)
	if err != nil {
		return nil, err
	}
	return q.prepare(m, run, nil, "", 0)
}

// Convert lowers a prepared graph module. The argument is not modified.
func (q *Quantizer) Convert(m nn.Module, opts ConvertOptions) (*fx.GraphModule, error) {
	q.logAPIUsage("convert")
	gm, ok := m.(*fx.GraphModule)
	if !ok || gm == nil {
		return nil, contractError(fx.StageConverted, "", "convert expects a prepared graph module, got %s", describe(m))
	}
	cfg, err := config.NormalizeConvert(opts.Config, q.logger)
	if err != nil {
		return nil, invalidConfig(fx.StageConverted, err)
	}
	var policy *qconfig.Mapping
	if opts.Policy != nil {
		if policy, err = qconfig.Normalize(opts.Policy, q.logger); err != nil {
			return nil, invalidConfig(fx.StageConverted, err)
		}
	}
	backend, err := config.NormalizeBackend(opts.Backend, q.logger)
	if err != nil {
		return nil, invalidConfig(fx.StageConverted, err)
	}
	return q.convert(gm, convertRun{
		isReference: opts.IsReference,
		cfg:         cfg,
		removeMeta:  !opts.KeepQuantMetadata,
		policy:      policy,
		backend:     backend,
	}, nil, "", 0)
}

func (q *Quantizer) normalizePrepare(policy any, exampleInputs []any, opts PrepareOptions, isQAT bool) (prepareRun, error) {
	mapping, err := qconfig.Normalize(policy, q.logger)
	if err != nil {
		return prepareRun{}, invalidConfig(fx.StagePrepared, err)
	}
	cfg, err := config.NormalizePrepare(opts.Config, q.logger)
	if err != nil {
		return prepareRun{}, invalidConfig(fx.StagePrepared, err)
	}
	var equalization *qconfig.Mapping
	if opts.Equalization != nil {
		if equalization, err = qconfig.Normalize(opts.Equalization, q.logger); err != nil {
			return prepareRun{}, invalidConfig(fx.StagePrepared, err)
		}
	}
	backend, err := config.NormalizeBackend(opts.Backend, q.logger)
	if err != nil {
		return prepareRun{}, invalidConfig(fx.StagePrepared, err)
	}
	return prepareRun{
		policy:       mapping,
		example:      exampleInputs,
		cfg:          cfg,
		equalization: equalization,
		backend:      backend,
		isQAT:        isQAT,
	}, nil
}

// prepare runs trace, fuse, standalone compilation and the prepare pass
// for one unit. Standalone units recurse with depth+1.
func (q *Quantizer) prepare(m nn.Module, run prepareRun, parent *Unit, path string, depth int) (*fx.GraphModule, error) {
	if depth > q.maxStandaloneDepth {
		return nil, &Error{
			Code:    ErrCodeStandaloneDepth,
			Stage:   fx.StagePrepared,
			Unit:    path,
			Message: fmt.Sprintf("standalone units nest deeper than %d", q.maxStandaloneDepth),
		}
	}
	if m == nil {
		return nil, contractError(fx.StageTraced, path, "prepare expects a module, got nil")
	}
	if gm, ok := m.(*fx.GraphModule); ok && gm.Stage() >= fx.StagePrepared {
		return nil, contractError(fx.StagePrepared, path, "module is already %s", gm.Stage())
	}

	unit, err := q.beginUnit(parent, path, m.Type(), run.standalone, depth)
	if err != nil {
		return nil, err
	}

	if n := nn.SwapFloatFunctional(m); n > 0 {
		q.logger.Debug("swapped float functionals", "unit", unit.Path, "count", n)
	}

	cfg := run.cfg
	gm, err := q.trace(m, skipOptions(cfg), run.example, cfg.PreservedAttributes, unit)
	if err != nil {
		return nil, err
	}
	fuseCfg := (config.FuseConfig{}).WithPreservedAttributes(cfg.PreservedAttributes...)
	gm, err = q.fuse(gm, m, run.isQAT, fuseCfg, run.backend, unit)
	if err != nil {
		return nil, err
	}

	if err := q.compileStandalone(gm, run, unit, depth); err != nil {
		return nil, err
	}

	out, err := q.preparer.Prepare(passes.PrepareRequest{
		Module:        gm,
		Policy:        run.policy,
		IsQAT:         run.isQAT,
		Scopes:        gm.Scopes,
		ExampleInputs: run.example,
		Config:        cfg,
		Equalization:  run.equalization,
		Backend:       run.backend,
		IsStandalone:  run.standalone,
	})
	if err != nil {
		return nil, passError(fx.StagePrepared, unit, q.preparer.Name(), err)
	}
	out, err = q.adopt(out, gm, fx.StagePrepared, unit, q.preparer.Name())
	if err != nil {
		return nil, err
	}
	out.IsQAT = run.isQAT
	if run.standalone {
		out.Standalone = true
		out.InputQuantizedIndices = slices.Clone(cfg.InputQuantizedIndices)
		out.OutputQuantizedIndices = slices.Clone(cfg.OutputQuantizedIndices)
	}
	if err := copyAttributes(m, out, cfg.PreservedAttributes, fx.StagePrepared, unit); err != nil {
		return nil, err
	}
	return out, q.transition(unit, out)
}

// skipOptions builds the tracer skip lists. Standalone units and custom
// modules with an observed replacement are traced as leaves.
func skipOptions(cfg *config.PrepareConfig) tracer.Options {
	names := slices.Clone(cfg.NonTraceableModuleNames)
	types := slices.Clone(cfg.NonTraceableModuleTypes)
	names = append(names, cfg.StandaloneNames()...)
	types = append(types, cfg.StandaloneTypes()...)
	for float := range cfg.FloatToObserved {
		types = append(types, float)
	}
	return tracer.Options{SkippedModuleNames: names, SkippedModuleTypes: types}
}

// compileStandalone prepares every standalone sub-module called from gm
// and installs the result in gm's module table.
func (q *Quantizer) compileStandalone(gm *fx.GraphModule, run prepareRun, unit *Unit, depth int) error {
	if len(run.cfg.StandaloneModuleNames) == 0 && len(run.cfg.StandaloneModuleTypes) == 0 {
		return nil
	}
	done := map[string]bool{}
	for _, n := range gm.Graph.Nodes() {
		if n.Kind != ir.KindCallModule || done[n.Target] {
			continue
		}
		sub, ok := gm.Module(n.Target)
		if !ok {
			continue
		}
		spec, ok := run.cfg.StandaloneFor(n.Target, sub.Type())
		if !ok {
			continue
		}
		done[n.Target] = true

		nested := prepareRun{
			policy:     spec.Policy,
			example:    spec.ExampleInputs,
			cfg:        spec.Prepare,
			backend:    spec.Backend,
			isQAT:      run.isQAT,
			standalone: true,
		}
		if nested.policy == nil {
			nested.policy = run.policy
		}
		if nested.cfg == nil {
			nested.cfg = &config.PrepareConfig{}
		}
		if nested.backend == nil {
			nested.backend = run.backend
		}

		q.logger.Info("compiling standalone unit", "unit", unit.Path, "path", n.Target, "type", sub.Type(), "depth", depth+1)
		compiled, err := q.prepare(sub, nested, unit, nn.JoinPath(unit.Path, n.Target), depth+1)
		if err != nil {
			return err
		}
		gm.SetModule(n.Target, compiled)
	}
	return nil
}

// convert lowers gm and, first, every prepared standalone unit in its
// module table. gm itself is left untouched.
func (q *Quantizer) convert(gm *fx.GraphModule, run convertRun, parent *Unit, path string, depth int) (*fx.GraphModule, error) {
	if depth > q.maxStandaloneDepth {
		return nil, &Error{
			Code:    ErrCodeStandaloneDepth,
			Stage:   fx.StageConverted,
			Unit:    path,
			Message: fmt.Sprintf("standalone units nest deeper than %d", q.maxStandaloneDepth),
		}
	}
	if gm.Stage() != fx.StagePrepared {
		return nil, contractError(fx.StageConverted, path, "convert expects a prepared graph module, got one that is %s", gm.Stage())
	}

	unit, err := q.unitFor(gm, parent, path, depth)
	if err != nil {
		return nil, err
	}

	work := gm.Clone()
	for _, p := range work.ModulePaths() {
		sub, _ := work.Module(p)
		nested, ok := sub.(*fx.GraphModule)
		if !ok || !nested.Standalone {
			continue
		}
		converted, err := q.convert(nested, convertRun{
			isReference: run.isReference,
			cfg:         &config.ConvertConfig{},
			removeMeta:  run.removeMeta,
			policy:      run.policy,
			backend:     run.backend,
			standalone:  true,
		}, unit, nn.JoinPath(unit.Path, p), depth+1)
		if err != nil {
			return nil, err
		}
		work.SetModule(p, converted)
	}

	req := passes.ConvertRequest{
		Module:              work,
		IsReference:         run.isReference,
		Config:              run.cfg,
		IsStandalone:        run.standalone,
		RemoveQuantMetadata: run.removeMeta,
		Backend:             run.backend,
	}
	if run.policy != nil {
		req.Policy = run.policy
	}
	out, err := q.converter.Convert(req)
	if err != nil {
		return nil, passError(fx.StageConverted, unit, q.converter.Name(), err)
	}
	out, err = q.adopt(out, work, fx.StageConverted, unit, q.converter.Name())
	if err != nil {
		return nil, err
	}
	if err := copyAttributes(gm, out, run.cfg.PreservedAttributes, fx.StageConverted, unit); err != nil {
		return nil, err
	}
	return out, q.transition(unit, out)
}

// trace runs the graph builder and wraps the result.
func (q *Quantizer) trace(m nn.Module, opts tracer.Options, example []any, preserved []string, unit *Unit) (*fx.GraphModule, error) {
	opts.MaxDepth = q.maxTraceDepth
	opts.Logger = q.logger
	res, err := tracer.New(opts).Trace(m, example)
	if err != nil {
		return nil, &Error{Code: ErrCodeTraceFailed, Stage: fx.StageTraced, Unit: unit.Path, Message: "trace " + string(m.Type()), Err: err}
	}
	gm := fx.New(m.Type(), res.Graph, res.Scopes, res.Modules)
	gm.UnitID = unit.ID
	if err := copyAttributes(m, gm, preserved, fx.StageTraced, unit); err != nil {
		return nil, err
	}
	return gm, q.transition(unit, gm)
}

// fuse runs the fusion pass on a traced graph module.
func (q *Quantizer) fuse(gm *fx.GraphModule, src nn.Module, isQAT bool, cfg *config.FuseConfig, backend *config.BackendConfig, unit *Unit) (*fx.GraphModule, error) {
	if gm == nil || gm.Stage() != fx.StageTraced {
		return nil, contractError(fx.StageFused, unit.Path, "fuse expects a traced graph module, got %s", describe(gm))
	}
	out, err := q.fuser.Fuse(passes.FuseRequest{Module: gm, IsQAT: isQAT, Config: cfg, Backend: backend})
	if err != nil {
		return nil, passError(fx.StageFused, unit, q.fuser.Name(), err)
	}
	out, err = q.adopt(out, gm, fx.StageFused, unit, q.fuser.Name())
	if err != nil {
		return nil, err
	}
	out.IsQAT = isQAT
	if err := copyAttributes(src, out, cfg.PreservedAttributes, fx.StageFused, unit); err != nil {
		return nil, err
	}
	return out, q.transition(unit, out)
}

// adopt checks a pass result and moves it to stage. A pass may return a
// new object; it inherits the unit and scope map of its input.
func (q *Quantizer) adopt(out, in *fx.GraphModule, stage fx.Stage, unit *Unit, pass string) (*fx.GraphModule, error) {
	if out == nil {
		return nil, passError(stage, unit, pass, fmt.Errorf("pass returned no graph module"))
	}
	if out.Scopes == nil {
		out.Scopes = in.Scopes
	}
	out.UnitID = unit.ID
	if err := out.Advance(stage); err != nil {
		return nil, passError(stage, unit, pass, err)
	}
	if err := out.Graph.Validate(); err != nil {
		return nil, passError(stage, unit, pass, err)
	}
	return out, nil
}

// copyAttributes copies the preserved attributes from src onto dst.
func copyAttributes(src nn.Module, dst *fx.GraphModule, names []string, stage fx.Stage, unit *Unit) error {
	if len(names) == 0 {
		return nil
	}
	attrs, ok := src.(nn.Attributes)
	for _, name := range names {
		var (
			v     any
			found bool
		)
		if ok {
			v, found = attrs.Attr(name)
		}
		if !found {
			return &Error{
				Code:    ErrCodeMissingAttribute,
				Stage:   stage,
				Unit:    unit.Path,
				Message: fmt.Sprintf("preserved attribute %q not found on %s", name, src.Type()),
			}
		}
		dst.SetAttr(name, v)
	}
	return nil
}

func (q *Quantizer) beginUnit(parent *Unit, path string, typ ir.ModuleType, standalone bool, depth int) (*Unit, error) {
	u := &Unit{Path: path, RootType: typ, Standalone: standalone, Depth: depth}
	if parent != nil {
		u.ParentID = parent.ID
	}
	if q.recorder == nil {
		return u, nil
	}
	u.ID = q.ids.Generate()
	if err := q.recorder.BeginUnit(*u); err != nil {
		return nil, &Error{Code: ErrCodeRecordFailed, Stage: fx.StageTraced, Unit: path, Message: "begin unit", Err: err}
	}
	return u, nil
}

// unitFor returns the unit a prepared graph module belongs to, starting a
// new one when it was prepared without a recorder.
func (q *Quantizer) unitFor(gm *fx.GraphModule, parent *Unit, path string, depth int) (*Unit, error) {
	if gm.UnitID != "" || q.recorder == nil {
		u := &Unit{ID: gm.UnitID, Path: path, RootType: gm.RootType, Standalone: gm.Standalone, Depth: depth}
		if parent != nil {
			u.ParentID = parent.ID
		}
		return u, nil
	}
	return q.beginUnit(parent, path, gm.RootType, gm.Standalone, depth)
}

// transition logs and records a completed stage.
func (q *Quantizer) transition(unit *Unit, gm *fx.GraphModule) error {
	q.logger.Info("stage complete",
		"unit", unit.Path,
		"stage", gm.Stage().String(),
		"nodes", gm.Graph.Len(),
		"standalone", unit.Standalone)
	if q.recorder == nil || unit.ID == "" {
		return nil
	}
	if err := q.recorder.RecordStage(unit.ID, gm); err != nil {
		return &Error{Code: ErrCodeRecordFailed, Stage: gm.Stage(), Unit: unit.Path, Message: "record stage", Err: err}
	}
	return nil
}

func passError(stage fx.Stage, unit *Unit, pass string, err error) *Error {
	return &Error{Code: ErrCodePassFailed, Stage: stage, Unit: unit.Path, Message: pass + " pass failed", Err: err}
}

func invalidConfig(stage fx.Stage, err error) *Error {
	return &Error{Code: ErrCodeInvalidConfig, Stage: stage, Message: "normalize configuration", Err: err}
}

func describe(m nn.Module) string {
	switch v := m.(type) {
	case nil:
		return "nil"
	case *fx.GraphModule:
		if v == nil {
			return "nil"
		}
		return fmt.Sprintf("a graph module that is %s", v.Stage())
	default:
		return "a plain module of type " + string(m.Type())
	}
}
