package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/roach88/fxq/internal/config"
	"github.com/roach88/fxq/internal/fx"
	"github.com/roach88/fxq/internal/qconfig"
	"github.com/roach88/fxq/internal/quantize"
	"github.com/roach88/fxq/internal/testutil"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// compileWithUnit prepares and converts testutil.WithUnit with "unit"
// compiled standalone, recording into s. IDs come from ids.
func compileWithUnit(t *testing.T, s *Store, ids quantize.IDGenerator) *fx.GraphModule {
	t.Helper()
	q := quantize.New(
		quantize.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		quantize.WithRecorder(s.Recorder(context.Background())),
		quantize.WithIDGenerator(ids),
	)
	boundary := (config.PrepareConfig{}).WithInputQuantizedIndices(0).WithOutputQuantizedIndices(0)
	cfg := (config.PrepareConfig{}).WithStandaloneModuleName("unit", config.StandaloneSpec{Prepare: boundary})
	policy := qconfig.NewMapping().SetGlobal(qconfig.Default)

	prepared, err := q.Prepare(testutil.WithUnit(), policy, nil, quantize.PrepareOptions{Config: cfg})
	if err != nil {
		t.Fatalf("Prepare() failed: %v", err)
	}
	converted, err := q.Convert(prepared, quantize.ConvertOptions{})
	if err != nil {
		t.Fatalf("Convert() failed: %v", err)
	}
	return converted
}
