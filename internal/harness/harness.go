package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/fxq/internal/config"
	"github.com/roach88/fxq/internal/fx"
	"github.com/roach88/fxq/internal/modelspec"
	"github.com/roach88/fxq/internal/nn"
	"github.com/roach88/fxq/internal/qconfig"
	"github.com/roach88/fxq/internal/quantize"
	"github.com/roach88/fxq/internal/store"
	"github.com/roach88/fxq/internal/testutil"
)

// Harness runs one scenario against a fresh compilation log.
type Harness struct {
	store    *store.Store
	memory   *testutil.MemoryRecorder
	ids      *testutil.SequentialIDs
	q        *quantize.Quantizer
	logger   *slog.Logger
	scenario *Scenario
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory store with sequential unit IDs.
// A pipeline failure is part of the result, not an error: Run only fails
// when the scenario's model or config cannot be loaded or the store cannot
// be opened.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a context for the store writes.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	st, err := store.Open(store.MemoryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store:    st,
		memory:   testutil.NewMemoryRecorder(),
		ids:      testutil.NewSequentialIDs(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		scenario: scenario,
	}
	h.q = quantize.New(
		quantize.WithLogger(h.logger),
		quantize.WithIDGenerator(h.ids),
		quantize.WithRecorder(quantize.MultiRecorder(st.Recorder(ctx), h.memory)),
	)

	model, err := modelspec.LoadModule(scenario.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to load model: %w", err)
	}
	bundle, err := h.loadBundle()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	result := NewResult()
	final, runErr := h.execute(model, bundle)
	result.Final = final
	result.Units = h.snapshot()

	switch code := quantize.ErrorCodeOf(runErr); {
	case runErr == nil && scenario.ExpectError != "":
		result.AddError(fmt.Sprintf("expected error %s, pipeline succeeded", scenario.ExpectError))
	case runErr != nil:
		result.ErrorCode = string(code)
		if string(code) != scenario.ExpectError {
			result.AddError(fmt.Sprintf("unexpected pipeline error: %v", runErr))
		}
	}

	actx := &AssertionContext{Store: st, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	h.logger.Info("scenario finished",
		"scenario", scenario.Name,
		"units", len(result.Units),
		"pass", result.Pass)
	return result, nil
}

// loadBundle reads the scenario's config bundle. Without one, every
// operation is quantized with the default policy.
func (h *Harness) loadBundle() (*config.Bundle, error) {
	if h.scenario.Config == "" {
		return &config.Bundle{
			Policy:  qconfig.NewMapping().SetGlobal(qconfig.Default),
			Fuse:    &config.FuseConfig{},
			Prepare: &config.PrepareConfig{},
			Convert: &config.ConvertConfig{},
			Backend: config.DefaultBackend(),
		}, nil
	}
	return config.LoadBundle(h.scenario.Config)
}

func (h *Harness) execute(model nn.Module, b *config.Bundle) (*fx.GraphModule, error) {
	s := h.scenario
	if s.Run == RunFuse {
		return h.q.Fuse(model, quantize.FuseOptions{Config: b.Fuse, Backend: b.Backend})
	}

	opts := quantize.PrepareOptions{Config: b.Prepare, Backend: b.Backend}
	prepare := h.q.Prepare
	if s.QAT {
		prepare = h.q.PrepareQAT
	}
	prepared, err := prepare(model, b.Policy, nil, opts)
	if err != nil || s.Run == RunPrepare {
		return prepared, err
	}
	return h.q.Convert(prepared, quantize.ConvertOptions{
		IsReference: s.Reference,
		Config:      b.Convert,
		Backend:     b.Backend,
	})
}

// snapshot collects the units and stages seen by the memory recorder.
func (h *Harness) snapshot() []UnitSnapshot {
	units := h.memory.Units()
	stages := h.memory.Stages()
	out := make([]UnitSnapshot, 0, len(units))
	for _, u := range units {
		snap := UnitSnapshot{
			ID:         u.ID,
			Path:       u.Path,
			Type:       string(u.RootType),
			Standalone: u.Standalone,
			Depth:      u.Depth,
			Stages:     []StageSnapshot{},
		}
		for _, s := range stages {
			if s.UnitID != u.ID {
				continue
			}
			snap.Stages = append(snap.Stages, StageSnapshot{
				Stage:       s.Stage.String(),
				Nodes:       s.Names,
				Targets:     s.Targets,
				Fingerprint: s.Fingerprint,
			})
		}
		out = append(out, snap)
	}
	return out
}
