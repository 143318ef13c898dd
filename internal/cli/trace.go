package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/fxq/internal/fx"
	"github.com/roach88/fxq/internal/ir"
	"github.com/roach88/fxq/internal/tracer"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	SkipModules []string // qualified paths recorded as leaves
	SkipTypes   []string // module types recorded as leaves
	MaxDepth    int
	Scopes      bool // print the node-to-scope map
}

// NodeScope is one entry of the node-to-scope map.
type NodeScope struct {
	Node       string `json:"node"`
	ModulePath string `json:"module_path"`
	ModuleType string `json:"module_type"`
}

// TraceResult holds the trace output.
type TraceResult struct {
	*GraphReport
	Scopes []NodeScope `json:"scopes"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace <model>",
		Short: "Trace a model into a graph",
		Long: `Trace a model description into a dataflow graph without fusing or
quantizing it.

Primitive modules are recorded as single call_module nodes. Every other
module is traced into, and each node remembers the module scope it was
created in.

Examples:
  fxq trace model.yaml
  fxq trace model.yaml --scopes
  fxq trace model.yaml --skip-module block --skip-type Block
  fxq trace model.cue --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.SkipModules, "skip-module", nil, "qualified module path to keep as a leaf (repeatable)")
	cmd.Flags().StringSliceVar(&opts.SkipTypes, "skip-type", nil, "module type to keep as a leaf (repeatable)")
	cmd.Flags().IntVar(&opts.MaxDepth, "max-depth", 0, "module nesting ceiling (0 for the default)")
	cmd.Flags().BoolVar(&opts.Scopes, "scopes", false, "print the scope of every node")

	return cmd
}

func runTrace(opts *TraceOptions, modelPath string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	model, err := LoadModel(modelPath)
	if err != nil {
		return outputLoadError(formatter, err)
	}

	types := make([]ir.ModuleType, len(opts.SkipTypes))
	for i, t := range opts.SkipTypes {
		types[i] = ir.ModuleType(t)
	}
	t := tracer.New(tracer.Options{
		SkippedModuleNames: opts.SkipModules,
		SkippedModuleTypes: types,
		MaxDepth:           opts.MaxDepth,
		Logger:             newLogger(opts.RootOptions, cmd.ErrOrStderr()),
	})
	res, err := t.Trace(model, nil)
	if err != nil {
		_ = formatter.Error(ErrCodePipeline, err.Error(), nil)
		return WrapExitError(ExitFailure, "trace failed", err)
	}

	gm := fx.New(model.Type(), res.Graph, res.Scopes, res.Modules)

	if opts.Format == "json" {
		report, err := NewGraphReport(modelPath, gm)
		if err != nil {
			return err
		}
		return formatter.Success(TraceResult{GraphReport: report, Scopes: nodeScopes(gm)})
	}

	if err := formatter.Graph(modelPath, gm); err != nil {
		return err
	}
	if opts.Scopes {
		outputScopesText(formatter.Writer, nodeScopes(gm))
	}
	return nil
}

// nodeScopes lists the scope of every node in graph order.
func nodeScopes(gm *fx.GraphModule) []NodeScope {
	nodes := gm.Graph.Nodes()
	out := make([]NodeScope, 0, len(nodes))
	for _, n := range nodes {
		sc, ok := gm.Scopes.Lookup(n.Name)
		if !ok {
			continue
		}
		out = append(out, NodeScope{Node: n.Name, ModulePath: sc.Path, ModuleType: string(sc.Type)})
	}
	return out
}

func outputScopesText(w io.Writer, scopes []NodeScope) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Scopes ===")
	for _, s := range scopes {
		path := s.ModulePath
		if path == "" {
			path = "<root>"
		}
		fmt.Fprintf(w, "  %s: %s (%s)\n", s.Node, path, s.ModuleType)
	}
}
