package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/fxq/internal/store"
)

// LogOptions holds flags for the log command.
type LogOptions struct {
	*RootOptions
	Database string
	Diff     string // second run to compare against
}

// LogStage is one recorded stage transition.
type LogStage struct {
	Stage       string `json:"stage"`
	Nodes       int    `json:"nodes"`
	Fingerprint string `json:"fingerprint"`
}

// LogUnit is one recorded compilation unit with its stages.
type LogUnit struct {
	ID         string     `json:"id"`
	ParentID   string     `json:"parent_id,omitempty"`
	Path       string     `json:"path"`
	RootType   string     `json:"root_type"`
	Standalone bool       `json:"standalone"`
	Depth      int        `json:"depth"`
	Stages     []LogStage `json:"stages"`
}

// LogResult holds the log output: every run, or one run's unit tree.
type LogResult struct {
	Units []LogUnit `json:"units"`
}

// DiffResult holds the comparison of two runs.
type DiffResult struct {
	Left        string            `json:"left"`
	Right       string            `json:"right"`
	Identical   bool              `json:"identical"`
	Differences []store.StageDiff `json:"differences"`
}

// NewLogCommand creates the log command.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "log [unit-id]",
		Short: "Inspect the compilation log",
		Long: `Inspect a compilation log written with --db.

Without arguments, lists every run with the stages it reached. With a
unit ID, shows that run and the standalone units compiled inside it.
With --diff, compares two runs stage by stage: compiling the same model
with the same configuration twice must produce identical graphs.

Exit codes:
  0 - Listed, or the runs are identical
  1 - The runs differ
  2 - Command error (database not found, unknown unit, etc.)

Examples:
  fxq log --db ./fxq.db
  fxq log --db ./fxq.db 0192b5d4-...
  fxq log --db ./fxq.db 0192b5d4-... --diff 0192b5d6-...`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			unitID := ""
			if len(args) == 1 {
				unitID = args[0]
			}
			return runLog(opts, unitID, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Diff, "diff", "", "compare the run with this one")

	return cmd
}

func runLog(opts *LogOptions, unitID string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	// Open database
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	if opts.Diff != "" {
		if unitID == "" {
			return NewExitError(ExitCommandError, "--diff requires a unit ID to compare against")
		}
		return runDiff(ctx, st, opts, unitID, cmd)
	}

	var units []store.UnitRecord
	if unitID == "" {
		units, err = st.ReadRuns(ctx)
	} else {
		units, err = st.ReadUnitTree(ctx, unitID)
		if err == nil && len(units) == 0 {
			return NewExitError(ExitCommandError, fmt.Sprintf("unit not found: %s", unitID))
		}
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read units", err)
	}

	result := LogResult{Units: make([]LogUnit, 0, len(units))}
	for _, u := range units {
		stages, err := st.ReadStages(ctx, u.ID)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to read stages of %s", u.ID), err)
		}
		lu := LogUnit{
			ID:         u.ID,
			ParentID:   u.ParentID,
			Path:       u.Path,
			RootType:   string(u.RootType),
			Standalone: u.Standalone,
			Depth:      u.Depth,
			Stages:     make([]LogStage, 0, len(stages)),
		}
		for _, s := range stages {
			lu.Stages = append(lu.Stages, LogStage{Stage: s.Stage.String(), Nodes: s.NodeCount, Fingerprint: s.Fingerprint})
		}
		result.Units = append(result.Units, lu)
	}

	if opts.Format == "json" {
		return outputJSON(cmd, CLIResponse{Status: "ok", Data: result})
	}
	return outputLogText(cmd, result, opts.Verbose)
}

func runDiff(ctx context.Context, st *store.Store, opts *LogOptions, left string, cmd *cobra.Command) error {
	diffs, err := st.DiffRuns(ctx, left, opts.Diff)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to compare runs", err)
	}
	result := DiffResult{
		Left:        left,
		Right:       opts.Diff,
		Identical:   len(diffs) == 0,
		Differences: diffs,
	}
	if result.Differences == nil {
		result.Differences = []store.StageDiff{}
	}

	if opts.Format == "json" {
		response := CLIResponse{Status: "ok", Data: result}
		if !result.Identical {
			response.Status = "error"
			response.Error = &CLIError{
				Code:    ErrCodeRunsDiffer,
				Message: fmt.Sprintf("%d stage(s) differ", len(diffs)),
			}
		}
		if err := outputJSON(cmd, response); err != nil {
			return err
		}
	} else {
		outputDiffText(cmd, result)
	}

	if !result.Identical {
		// Diverging runs = exit code 1
		return NewExitError(ExitFailure, fmt.Sprintf("runs differ in %d stage(s)", len(diffs)))
	}
	return nil
}

func outputJSON(cmd *cobra.Command, response CLIResponse) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

// outputLogText outputs the units as text.
func outputLogText(cmd *cobra.Command, result LogResult, verbose bool) error {
	w := cmd.OutOrStdout()

	if len(result.Units) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}

	for _, u := range result.Units {
		indent := strings.Repeat("  ", u.Depth)
		label := u.RootType
		if u.Path != "" {
			label = fmt.Sprintf("%s (%s)", u.Path, u.RootType)
		}
		if u.Standalone {
			label += " standalone"
		}
		fmt.Fprintf(w, "%s%s %s\n", indent, u.ID, label)
		for _, s := range u.Stages {
			fp := s.Fingerprint
			if !verbose {
				fp = truncateFingerprint(fp)
			}
			fmt.Fprintf(w, "%s  %-10s %3d nodes  %s\n", indent, s.Stage, s.Nodes, fp)
		}
	}
	return nil
}

func outputDiffText(cmd *cobra.Command, result DiffResult) {
	w := cmd.OutOrStdout()

	if result.Identical {
		fmt.Fprintf(w, "✓ %s and %s are identical\n", result.Left, result.Right)
		return
	}

	fmt.Fprintf(w, "✗ %s and %s differ\n", result.Left, result.Right)
	for _, d := range result.Differences {
		path := d.Path
		if path == "" {
			path = "<top>"
		}
		fmt.Fprintf(w, "  %s %s: %s -> %s\n", path, d.Stage, orMissing(truncateFingerprint(d.Left)), orMissing(truncateFingerprint(d.Right)))
	}
}

// truncateFingerprint shortens a fingerprint for display.
func truncateFingerprint(fp string) string {
	if len(fp) <= 12 {
		return fp
	}
	return fp[:12]
}

func orMissing(s string) string {
	if s == "" {
		return "(missing)"
	}
	return s
}
