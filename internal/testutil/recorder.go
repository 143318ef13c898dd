package testutil

import (
	"sync"

	"github.com/roach88/fxq/internal/fx"
	"github.com/roach88/fxq/internal/ir"
	"github.com/roach88/fxq/internal/quantize"
)

// RecordedStage is one stage transition seen by MemoryRecorder.
type RecordedStage struct {
	UnitID      string
	Stage       fx.Stage
	Nodes       int
	Fingerprint string

	// Names and Targets list the node names and targets in graph order.
	Names   []string
	Targets []string
}

// MemoryRecorder is an in-memory quantize.Recorder. When Err is set every
// call fails with it.
type MemoryRecorder struct {
	mu     sync.Mutex
	Err    error
	units  []quantize.Unit
	stages []RecordedStage
}

// NewMemoryRecorder creates an empty recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (r *MemoryRecorder) BeginUnit(u quantize.Unit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.units = append(r.units, u)
	return nil
}

func (r *MemoryRecorder) RecordStage(unitID string, gm *fx.GraphModule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	fp, err := ir.Fingerprint(gm.Graph)
	if err != nil {
		return err
	}
	names := make([]string, 0, gm.Graph.Len())
	targets := make([]string, 0, gm.Graph.Len())
	for _, n := range gm.Graph.Nodes() {
		names = append(names, n.Name)
		targets = append(targets, n.Target)
	}
	r.stages = append(r.stages, RecordedStage{
		UnitID:      unitID,
		Stage:       gm.Stage(),
		Nodes:       gm.Graph.Len(),
		Fingerprint: fp,
		Names:       names,
		Targets:     targets,
	})
	return nil
}

// Units returns the units begun so far, in order.
func (r *MemoryRecorder) Units() []quantize.Unit {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]quantize.Unit(nil), r.units...)
}

// Stages returns every recorded stage, in order.
func (r *MemoryRecorder) Stages() []RecordedStage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RecordedStage(nil), r.stages...)
}

// StagesOf returns the stages recorded for one unit, in order.
func (r *MemoryRecorder) StagesOf(unitID string) []fx.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []fx.Stage
	for _, s := range r.stages {
		if s.UnitID == unitID {
			out = append(out, s.Stage)
		}
	}
	return out
}

var _ quantize.Recorder = (*MemoryRecorder)(nil)
