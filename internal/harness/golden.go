package harness

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Snapshot renders a result as stable text: every unit with the node
// names of each stage it reached. Unit IDs and fingerprints are left out
// so that the text reads well in a diff.
func Snapshot(name string, result *Result) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", name)
	if result.ErrorCode != "" {
		fmt.Fprintf(&b, "error: %s\n", result.ErrorCode)
	}
	for _, u := range result.Units {
		fmt.Fprintf(&b, "unit %s %s", displayPath(u.Path), u.Type)
		if u.Standalone {
			fmt.Fprintf(&b, " standalone depth=%d", u.Depth)
		}
		b.WriteString("\n")
		for _, s := range u.Stages {
			fmt.Fprintf(&b, "  %s: %s\n", s.Stage, strings.Join(s.Nodes, " "))
		}
	}
	return []byte(b.String())
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, Snapshot(scenarioName, result))
}
