package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/roach88/fxq/internal/fx"
)

// StageDiff is one (unit path, stage) whose fingerprints differ between
// two runs. An empty fingerprint means the stage is missing from that run.
type StageDiff struct {
	Path  string   `json:"path"`
	Stage fx.Stage `json:"stage"`
	Left  string   `json:"left"`
	Right string   `json:"right"`
}

// DiffRuns compares two recorded runs unit by unit (matched by path) and
// stage by stage. Compiling the same model with the same configuration
// twice yields no differences.
func (s *Store) DiffRuns(ctx context.Context, leftID, rightID string) ([]StageDiff, error) {
	left, err := s.runFingerprints(ctx, leftID)
	if err != nil {
		return nil, fmt.Errorf("diff runs: %w", err)
	}
	right, err := s.runFingerprints(ctx, rightID)
	if err != nil {
		return nil, fmt.Errorf("diff runs: %w", err)
	}

	keys := make(map[stageKey]bool, len(left)+len(right))
	for k := range left {
		keys[k] = true
	}
	for k := range right {
		keys[k] = true
	}

	var diffs []StageDiff
	for k := range keys {
		if left[k] != right[k] {
			diffs = append(diffs, StageDiff{Path: k.path, Stage: k.stage, Left: left[k], Right: right[k]})
		}
	}
	sort.Slice(diffs, func(i, j int) bool {
		if diffs[i].Path != diffs[j].Path {
			return diffs[i].Path < diffs[j].Path
		}
		return diffs[i].Stage < diffs[j].Stage
	})
	return diffs, nil
}

type stageKey struct {
	path  string
	stage fx.Stage
}

func (s *Store) runFingerprints(ctx context.Context, rootID string) (map[stageKey]string, error) {
	units, err := s.ReadUnitTree(ctx, rootID)
	if err != nil {
		return nil, err
	}
	if len(units) == 0 {
		return nil, fmt.Errorf("no unit %q", rootID)
	}
	out := map[stageKey]string{}
	for _, u := range units {
		stages, err := s.ReadStages(ctx, u.ID)
		if err != nil {
			return nil, err
		}
		for _, st := range stages {
			out[stageKey{u.Path, st.Stage}] = st.Fingerprint
		}
	}
	return out, nil
}
