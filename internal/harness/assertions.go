package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/fxq/internal/fx"
	"github.com/roach88/fxq/internal/ir"
	"github.com/roach88/fxq/internal/store"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string

	// Units is the recorded compilation for debugging context.
	Units []UnitSnapshot
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if len(e.Units) > 0 {
		fmt.Fprintf(&buf, "\nRecorded units:\n")
		for _, u := range e.Units {
			fmt.Fprintf(&buf, "  %s (%s)\n", displayPath(u.Path), u.Type)
			for _, s := range u.Stages {
				fmt.Fprintf(&buf, "    %s: %s\n", s.Stage, strings.Join(s.Nodes, " "))
			}
		}
	}
	return buf.String()
}

func displayPath(p string) string {
	if p == "" {
		return "<top>"
	}
	return p
}

// AssertionContext provides the compilation log to assertions that read it.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

func stageOf(result *Result, a Assertion) (StageSnapshot, error) {
	u, ok := result.Unit(a.Unit)
	if !ok {
		return StageSnapshot{}, &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("unit %s", displayPath(a.Unit)),
			Actual:   "unit not recorded",
			Units:    result.Units,
		}
	}
	s, ok := u.Stage(a.Stage)
	if !ok {
		return StageSnapshot{}, &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("unit %s reaches stage %s", displayPath(a.Unit), a.Stage),
			Actual:   "stage not recorded",
			Units:    result.Units,
		}
	}
	return s, nil
}

// assertNodeOrder checks the exact node names of a unit at a stage.
func assertNodeOrder(result *Result, a Assertion) error {
	s, err := stageOf(result, a)
	if err != nil {
		return err
	}
	if strings.Join(s.Nodes, " ") == strings.Join(a.Nodes, " ") {
		return nil
	}
	return &AssertionError{
		Type:     AssertNodeOrder,
		Expected: strings.Join(a.Nodes, " "),
		Actual:   strings.Join(s.Nodes, " "),
		Units:    result.Units,
	}
}

// assertNodeCount counts the nodes of a unit at a stage with a target.
func assertNodeCount(result *Result, a Assertion) error {
	s, err := stageOf(result, a)
	if err != nil {
		return err
	}
	count := 0
	for _, target := range s.Targets {
		if target == a.Target {
			count++
		}
	}
	if count == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertNodeCount,
		Expected: fmt.Sprintf("%d nodes targeting %s at %s", a.Count, a.Target, a.Stage),
		Actual:   fmt.Sprintf("%d nodes", count),
		Units:    result.Units,
	}
}

// unitModule finds a standalone unit by qualified path inside gm.
func unitModule(gm *fx.GraphModule, path string) *fx.GraphModule {
	if gm == nil || path == "" {
		return gm
	}
	for _, p := range gm.ModulePaths() {
		m, _ := gm.Module(p)
		sub, ok := m.(*fx.GraphModule)
		if !ok {
			continue
		}
		if p == path {
			return sub
		}
		if strings.HasPrefix(path, p+".") {
			return unitModule(sub, strings.TrimPrefix(path, p+"."))
		}
	}
	return nil
}

func assertModuleType(result *Result, a Assertion) error {
	gm := unitModule(result.Final, a.Unit)
	actual := "no final graph"
	if gm != nil {
		actual = "module not found"
		if m, ok := gm.Module(a.Path); ok {
			if string(m.Type()) == a.ModuleType {
				return nil
			}
			actual = string(m.Type())
		}
	}
	return &AssertionError{
		Type:     AssertModuleType,
		Expected: fmt.Sprintf("%s is %s", a.Path, a.ModuleType),
		Actual:   actual,
		Units:    result.Units,
	}
}

func assertMeta(result *Result, a Assertion) error {
	gm := unitModule(result.Final, a.Unit)
	if gm == nil {
		return &AssertionError{Type: AssertMeta, Expected: "a final graph", Actual: "none", Units: result.Units}
	}
	n, ok := gm.Graph.Node(a.Node)
	if !ok {
		return &AssertionError{Type: AssertMeta, Expected: fmt.Sprintf("node %s", a.Node), Actual: "node not found", Units: result.Units}
	}
	got, present := n.Meta[a.Key]
	if a.Value == nil {
		if !present {
			return nil
		}
		return &AssertionError{
			Type:     AssertMeta,
			Expected: fmt.Sprintf("%s has no %s", a.Node, a.Key),
			Actual:   ir.FormatArg(got),
			Units:    result.Units,
		}
	}
	want, err := ir.FromGo(a.Value)
	if err != nil {
		return fmt.Errorf("meta assertion value: %w", err)
	}
	if present && ir.FormatArg(got) == ir.FormatArg(want) {
		return nil
	}
	actual := "absent"
	if present {
		actual = ir.FormatArg(got)
	}
	return &AssertionError{
		Type:     AssertMeta,
		Expected: fmt.Sprintf("%s.%s = %s", a.Node, a.Key, ir.FormatArg(want)),
		Actual:   actual,
		Units:    result.Units,
	}
}

func assertSameGraph(result *Result, a Assertion) error {
	var first StageSnapshot
	for i, st := range a.Stages {
		s, err := stageOf(result, Assertion{Type: a.Type, Unit: a.Unit, Stage: st})
		if err != nil {
			return err
		}
		if i == 0 {
			first = s
			continue
		}
		if s.Fingerprint != first.Fingerprint {
			return &AssertionError{
				Type:     AssertSameGraph,
				Expected: fmt.Sprintf("%s graph equals %s graph", st, first.Stage),
				Actual:   fmt.Sprintf("%s: %s, %s: %s", first.Stage, strings.Join(first.Nodes, " "), st, strings.Join(s.Nodes, " ")),
				Units:    result.Units,
			}
		}
	}
	return nil
}

// assertUnitCount counts the units written to the compilation log.
func assertUnitCount(ctx context.Context, st *store.Store, result *Result, a Assertion) error {
	units, err := st.ReadUnits(ctx)
	if err != nil {
		return fmt.Errorf("unit_count: %w", err)
	}
	if len(units) == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertUnitCount,
		Expected: fmt.Sprintf("%d units", a.Count),
		Actual:   fmt.Sprintf("%d units", len(units)),
		Units:    result.Units,
	}
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides the compilation log for unit_count.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertNodeOrder:
			err = assertNodeOrder(result, assertion)
		case AssertNodeCount:
			err = assertNodeCount(result, assertion)
		case AssertModuleType:
			err = assertModuleType(result, assertion)
		case AssertMeta:
			err = assertMeta(result, assertion)
		case AssertSameGraph:
			err = assertSameGraph(result, assertion)
		case AssertUnitCount:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: unit_count requires a compilation log", i)
			} else {
				err = assertUnitCount(actx.Ctx, actx.Store, result, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
