package quantize

import (
	"log/slog"
	"sync"

	"github.com/roach88/fxq/internal/fx"
	"github.com/roach88/fxq/internal/nn"
	"github.com/roach88/fxq/internal/passes"
	"github.com/roach88/fxq/internal/tracer"
)

// DefaultMaxStandaloneDepth bounds standalone-unit nesting.
const DefaultMaxStandaloneDepth = 8

// FuseOptions configures Fuse. Config and Backend accept the canonical
// value, a pointer to it, nil, or the legacy map form.
type FuseOptions struct {
	Config  any
	Backend any
}

// PrepareOptions configures Prepare and PrepareQAT. Equalization is a
// policy mapping and is ignored by PrepareQAT.
type PrepareOptions struct {
	Config       any
	Equalization any
	Backend      any
}

// ConvertOptions configures Convert. Quantization metadata is removed from
// the converted graph unless KeepQuantMetadata is set.
type ConvertOptions struct {
	IsReference       bool
	Config            any
	KeepQuantMetadata bool
	Policy            any
	Backend           any
}

// Quantizer runs the pipeline with a fixed set of passes.
// It holds no per-run state and is safe to reuse across runs.
type Quantizer struct {
	fuser     passes.Fuser
	preparer  passes.Preparer
	converter passes.Converter
	logger    *slog.Logger
	recorder  Recorder
	ids       IDGenerator

	maxStandaloneDepth int
	maxTraceDepth      int

	apiSeen sync.Map
}

// Option configures a Quantizer.
type Option func(*Quantizer)

// WithFuser replaces the fusion pass.
func WithFuser(f passes.Fuser) Option {
	return func(q *Quantizer) { q.fuser = f }
}

// WithPreparer replaces the observer-insertion pass.
func WithPreparer(p passes.Preparer) Option {
	return func(q *Quantizer) { q.preparer = p }
}

// WithConverter replaces the lowering pass.
func WithConverter(c passes.Converter) Option {
	return func(q *Quantizer) { q.converter = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Quantizer) { q.logger = l }
}

// WithRecorder records units and stage transitions.
func WithRecorder(r Recorder) Option {
	return func(q *Quantizer) { q.recorder = r }
}

// WithIDGenerator sets how unit IDs are allocated (UUIDv7 by default).
func WithIDGenerator(g IDGenerator) Option {
	return func(q *Quantizer) { q.ids = g }
}

// WithMaxStandaloneDepth sets the standalone nesting ceiling.
func WithMaxStandaloneDepth(n int) Option {
	return func(q *Quantizer) { q.maxStandaloneDepth = n }
}

// WithMaxTraceDepth sets the module nesting ceiling of the tracer.
func WithMaxTraceDepth(n int) Option {
	return func(q *Quantizer) { q.maxTraceDepth = n }
}

// New creates a Quantizer using the reference passes unless overridden.
func New(opts ...Option) *Quantizer {
	q := &Quantizer{
		maxStandaloneDepth: DefaultMaxStandaloneDepth,
		maxTraceDepth:      tracer.DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.logger == nil {
		q.logger = slog.Default()
	}
	if q.ids == nil {
		q.ids = UUIDv7Generator{}
	}
	if q.fuser == nil {
		q.fuser = passes.NewPatternFuser(q.logger)
	}
	if q.preparer == nil {
		q.preparer = passes.NewObserverPreparer(q.logger)
	}
	if q.converter == nil {
		q.converter = passes.NewReferenceConverter(q.logger)
	}
	return q
}

// logAPIUsage logs the first use of each entry point.
func (q *Quantizer) logAPIUsage(api string) {
	if _, seen := q.apiSeen.LoadOrStore(api, true); !seen {
		q.logger.Debug("api usage", "api", "quantize."+api)
	}
}

var (
	defaultOnce      sync.Once
	defaultQuantizer *Quantizer
)

func std() *Quantizer {
	defaultOnce.Do(func() { defaultQuantizer = New() })
	return defaultQuantizer
}

// Fuse traces m and fuses it with the default Quantizer.
func Fuse(m nn.Module, opts FuseOptions) (*fx.GraphModule, error) {
	return std().Fuse(m, opts)
}

// Prepare traces, fuses and prepares m for calibration with the default Quantizer.
func Prepare(m nn.Module, policy any, exampleInputs []any, opts PrepareOptions) (*fx.GraphModule, error) {
	return std().Prepare(m, policy, exampleInputs, opts)
}

// PrepareQAT prepares m for quantization-aware training with the default Quantizer.
func PrepareQAT(m nn.Module, policy any, exampleInputs []any, opts PrepareOptions) (*fx.GraphModule, error) {
	return std().PrepareQAT(m, policy, exampleInputs, opts)
}

// Convert lowers a prepared graph module with the default Quantizer.
func Convert(m nn.Module, opts ConvertOptions) (*fx.GraphModule, error) {
	return std().Convert(m, opts)
}
