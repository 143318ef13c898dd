package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fxq/internal/fx"
	"github.com/roach88/fxq/internal/ir"
	"github.com/roach88/fxq/internal/testutil"
)

func TestRecorder_RecordsPipelineRun(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	converted := compileWithUnit(t, s, testutil.NewSequentialIDs())

	units, err := s.ReadUnits(ctx)
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, UnitRecord{ID: "unit-0001", RootType: testutil.TypeParent, Seq: 1}, units[0])
	assert.Equal(t, UnitRecord{
		ID: "unit-0002", ParentID: "unit-0001", Path: "unit", RootType: testutil.TypeBlock,
		Standalone: true, Depth: 1, Seq: 2,
	}, units[1])

	all := []fx.Stage{fx.StageTraced, fx.StageFused, fx.StagePrepared, fx.StageConverted}
	for _, u := range units {
		stages, err := s.ReadStages(ctx, u.ID)
		require.NoError(t, err)
		var got []fx.Stage
		for _, st := range stages {
			got = append(got, st.Stage)
		}
		assert.Equal(t, all, got, "unit %q", u.Path)
	}

	stages, err := s.ReadStages(ctx, "unit-0001")
	require.NoError(t, err)
	last := stages[len(stages)-1]
	assert.Equal(t, ir.MustFingerprint(converted.Graph), last.Fingerprint)
	assert.Equal(t, converted.Graph.Len(), last.NodeCount)
}

func TestReadRunsAndTree(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	ids := testutil.NewSequentialIDs()

	compileWithUnit(t, s, ids)
	compileWithUnit(t, s, ids)

	runs, err := s.ReadRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "unit-0001", runs[0].ID)
	assert.Equal(t, "unit-0003", runs[1].ID)

	tree, err := s.ReadUnitTree(ctx, "unit-0003")
	require.NoError(t, err)
	require.Len(t, tree, 2)
	assert.Equal(t, "unit-0004", tree[1].ID)
	assert.Equal(t, "unit", tree[1].Path)
}

func TestReadStages_Empty(t *testing.T) {
	s := createTestStore(t)

	stages, err := s.ReadStages(context.Background(), "missing")

	require.NoError(t, err)
	assert.NotNil(t, stages)
	assert.Empty(t, stages)
}

func TestReadUnits_Empty(t *testing.T) {
	s := createTestStore(t)

	units, err := s.ReadUnits(context.Background())

	require.NoError(t, err)
	assert.NotNil(t, units)
	assert.Empty(t, units)
}

func TestDiffRuns_IdenticalRuns(t *testing.T) {
	s := createTestStore(t)
	ids := testutil.NewSequentialIDs()
	compileWithUnit(t, s, ids)
	compileWithUnit(t, s, ids)

	diffs, err := s.DiffRuns(context.Background(), "unit-0001", "unit-0003")

	require.NoError(t, err)
	assert.Empty(t, diffs)
}

func TestDiffRuns_ReportsDifferences(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	compileWithUnit(t, s, testutil.NewPrefixedIDs("a"))

	gm := tracedChain(t)
	require.NoError(t, s.WriteUnit(ctx, unitFor("b-0001")))
	require.NoError(t, s.WriteStage(ctx, "b-0001", gm))

	diffs, err := s.DiffRuns(ctx, "a-0001", "b-0001")
	require.NoError(t, err)

	require.NotEmpty(t, diffs)
	first := diffs[0]
	assert.Equal(t, "", first.Path)
	assert.Equal(t, fx.StageTraced, first.Stage)
	assert.NotEqual(t, first.Left, first.Right)
	for _, d := range diffs {
		if d.Path == "unit" {
			assert.Empty(t, d.Right)
		}
	}
}

func TestDiffRuns_UnknownRun(t *testing.T) {
	s := createTestStore(t)

	_, err := s.DiffRuns(context.Background(), "nope", "nope")

	assert.Error(t, err)
}
