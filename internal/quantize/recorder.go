package quantize

import (
	"github.com/google/uuid"

	"github.com/roach88/fxq/internal/fx"
	"github.com/roach88/fxq/internal/ir"
)

// Unit describes one compilation unit: a top-level pipeline run or a
// standalone unit compiled inside it.
type Unit struct {
	ID       string
	ParentID string

	// Path is the qualified path of the standalone unit from the top-level
	// module ("" for a top-level unit).
	Path       string
	RootType   ir.ModuleType
	Standalone bool
	Depth      int
}

// Recorder receives compilation units and their stage transitions.
// store.Store implements it.
type Recorder interface {
	BeginUnit(u Unit) error
	RecordStage(unitID string, gm *fx.GraphModule) error
}

// IDGenerator allocates unit IDs.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 unit IDs.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
// Panics if UUID generation fails.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

type multiRecorder []Recorder

// MultiRecorder records to every recorder in order and stops at the
// first error.
func MultiRecorder(rs ...Recorder) Recorder {
	return multiRecorder(rs)
}

func (m multiRecorder) BeginUnit(u Unit) error {
	for _, r := range m {
		if err := r.BeginUnit(u); err != nil {
			return err
		}
	}
	return nil
}

func (m multiRecorder) RecordStage(unitID string, gm *fx.GraphModule) error {
	for _, r := range m {
		if err := r.RecordStage(unitID, gm); err != nil {
			return err
		}
	}
	return nil
}
