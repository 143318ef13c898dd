package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/fxq/internal/config"
	"github.com/roach88/fxq/internal/fx"
	"github.com/roach88/fxq/internal/ir"
	"github.com/roach88/fxq/internal/nn"
	"github.com/roach88/fxq/internal/quantize"
	"github.com/roach88/fxq/internal/store"
)

// PipelineOptions holds flags shared by the fuse, prepare and quantize commands.
type PipelineOptions struct {
	*RootOptions
	BundleOptions

	Database     string // compilation log; empty disables recording
	Output       string // canonical graph JSON output file
	QAT          bool
	Reference    bool
	KeepMetadata bool
}

// stageFunc runs one pipeline entry point on a loaded model.
type stageFunc func(q *quantize.Quantizer, m nn.Module, b *config.Bundle, opts *PipelineOptions) (*fx.GraphModule, error)

func addPipelineFlags(cmd *cobra.Command, opts *PipelineOptions) {
	cmd.Flags().StringVar(&opts.Config, "config", "", "config bundle file (YAML or CUE)")
	cmd.Flags().StringVar(&opts.Backend, "backend", "", "backend config file (YAML or CUE)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "record the compilation to this SQLite database")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the canonical graph JSON to this file")
}

// NewFuseCommand creates the fuse command.
func NewFuseCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PipelineOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "fuse <model>",
		Short: "Trace and fuse a model",
		Long: `Trace a model description and fuse the module sequences the backend
supports (e.g. Linear followed by ReLU).

Exit codes:
  0 - Fused
  1 - Pipeline failure
  2 - Command error (unreadable model or config, etc.)

Examples:
  fxq fuse model.yaml
  fxq fuse model.cue --config quant.yaml --db ./fxq.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStage(opts, args[0], cmd, fuseStage)
		},
	}
	addPipelineFlags(cmd, opts)
	return cmd
}

// NewPrepareCommand creates the prepare command.
func NewPrepareCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PipelineOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "prepare <model>",
		Short: "Trace, fuse and insert observers",
		Long: `Trace a model description, fuse it and insert observers on every value
the policy mapping quantizes.

Without --config every operation uses the default policy. --policy
replaces the global policy with a preset.

Examples:
  fxq prepare model.yaml
  fxq prepare model.yaml --policy dynamic
  fxq prepare model.yaml --qat --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStage(opts, args[0], cmd, prepareStage)
		},
	}
	addPipelineFlags(cmd, opts)
	cmd.Flags().StringVar(&opts.Policy, "policy", "", "global policy preset")
	cmd.Flags().BoolVar(&opts.QAT, "qat", false, "prepare for quantization-aware training")
	return cmd
}

// NewQuantizeCommand creates the quantize command.
func NewQuantizeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PipelineOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "quantize <model>",
		Short: "Run the whole pipeline: trace, fuse, prepare, convert",
		Long: `Run every stage on a model description and print the converted graph.

Examples:
  fxq quantize model.yaml
  fxq quantize model.yaml --reference --keep-metadata
  fxq quantize model.yaml --config quant.cue --db ./fxq.db -o model.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStage(opts, args[0], cmd, quantizeStage)
		},
	}
	addPipelineFlags(cmd, opts)
	cmd.Flags().StringVar(&opts.Policy, "policy", "", "global policy preset")
	cmd.Flags().BoolVar(&opts.QAT, "qat", false, "prepare for quantization-aware training")
	cmd.Flags().BoolVar(&opts.Reference, "reference", false, "produce the reference quantized form")
	cmd.Flags().BoolVar(&opts.KeepMetadata, "keep-metadata", false, "keep quantization metadata on converted nodes")
	return cmd
}

func fuseStage(q *quantize.Quantizer, m nn.Module, b *config.Bundle, _ *PipelineOptions) (*fx.GraphModule, error) {
	return q.Fuse(m, quantize.FuseOptions{Config: b.Fuse, Backend: b.Backend})
}

func prepareStage(q *quantize.Quantizer, m nn.Module, b *config.Bundle, opts *PipelineOptions) (*fx.GraphModule, error) {
	popts := quantize.PrepareOptions{Config: b.Prepare, Backend: b.Backend}
	if opts.QAT {
		return q.PrepareQAT(m, b.Policy, nil, popts)
	}
	return q.Prepare(m, b.Policy, nil, popts)
}

func quantizeStage(q *quantize.Quantizer, m nn.Module, b *config.Bundle, opts *PipelineOptions) (*fx.GraphModule, error) {
	prepared, err := prepareStage(q, m, b, opts)
	if err != nil {
		return nil, err
	}
	return q.Convert(prepared, quantize.ConvertOptions{
		IsReference:       opts.Reference,
		Config:            b.Convert,
		KeepQuantMetadata: opts.KeepMetadata,
		Backend:           b.Backend,
	})
}

func runStage(opts *PipelineOptions, modelPath string, cmd *cobra.Command, stage stageFunc) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	model, err := LoadModel(modelPath)
	if err != nil {
		return outputLoadError(formatter, err)
	}
	formatter.VerboseLog("Loaded model %s (%s)", modelPath, model.Type())

	bundle, err := LoadBundle(opts.BundleOptions)
	if err != nil {
		return outputLoadError(formatter, err)
	}

	qopts := []quantize.Option{quantize.WithLogger(logger)}
	if opts.Database != "" {
		st, err := store.Open(opts.Database)
		if err != nil {
			_ = formatter.Error(ErrCodeStore, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing database", "error", closeErr)
			}
		}()
		qopts = append(qopts, quantize.WithRecorder(st.Recorder(ctx)))
	}

	gm, err := stage(quantize.New(qopts...), model, bundle, opts)
	if err != nil {
		return outputPipelineError(formatter, logger, err)
	}

	if opts.Output != "" {
		if err := writeGraph(opts.Output, gm); err != nil {
			_ = formatter.Error(ErrCodeWriteFailed, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to write output", err)
		}
		formatter.VerboseLog("Wrote %s", opts.Output)
	}
	return formatter.Graph(modelPath, gm)
}

// writeGraph writes the canonical JSON of gm's graph to path.
func writeGraph(path string, gm *fx.GraphModule) error {
	data, err := ir.MarshalGraph(gm.Graph)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func outputLoadError(formatter *OutputFormatter, err error) error {
	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		loadErr = &LoadError{Code: ErrCodeGeneric, Message: err.Error()}
	}
	_ = formatter.Error(loadErr.Code, loadErr.Error(), nil)
	return NewExitError(ExitCommandError, loadErr.Error())
}

// outputPipelineError reports a failed stage with its pipeline error code.
func outputPipelineError(formatter *OutputFormatter, logger *slog.Logger, err error) error {
	details := map[string]string{}
	var qerr *quantize.Error
	if errors.As(err, &qerr) {
		details["code"] = string(qerr.Code)
		details["stage"] = qerr.Stage.String()
		if qerr.Unit != "" {
			details["unit"] = qerr.Unit
		}
	}
	logger.Debug("pipeline failed", "error", err)
	_ = formatter.Error(ErrCodePipeline, err.Error(), details)
	return WrapExitError(ExitFailure, "pipeline failed", err)
}
